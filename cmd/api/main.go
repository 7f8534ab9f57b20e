package main

import (
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"

	"tradeledger/internal/handlers"
	"tradeledger/internal/pipeline"
	"tradeledger/internal/routes"
	"tradeledger/internal/store"
	"tradeledger/internal/tracker"
	"tradeledger/pkg/config"
)

// The api binary serves the ops API. With RabbitMQ configured, tracked
// address edits are published on the address event queue the workers consume.
func main() {
	config.LoadEnv()
	log.SetFormatter(&log.JSONFormatter{})
	if level, err := log.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(level)
	}

	chains, err := config.LoadChains(config.ChainsPath())
	if err != nil {
		log.Fatalf("> %v", err)
	}

	config.InitDB()
	st := store.NewGormStore(config.DB)

	normalizers := make(map[string]tracker.Normalizer, len(chains.Chains))
	for _, c := range chains.Chains {
		normalizers[c.Name] = pipeline.AddressNormalizer(c.Kind)
	}
	manager := tracker.NewManager(st, tracker.NewRegistry(), normalizers)

	if config.RabbitMQEnabled() {
		config.InitRabbitMQ()
		defer config.RabbitMQ.Close()

		pub, err := config.NewPublisher()
		if err != nil {
			log.Fatalf("> create publisher: %v", err)
		}
		defer pub.Close()
		manager.WithPublisher(pub, tracker.DefaultQueue)
	} else {
		log.Warn("> RabbitMQ not configured, tracked address edits reach workers on restart")
	}

	r := routes.SetupRouter(handlers.New(st, manager), nil, routes.Options{})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil && err != http.ErrServerClosed {
		log.Fatalf("> failed to start server: %v", err)
	}
}
