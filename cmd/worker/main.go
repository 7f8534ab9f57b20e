package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tradeledger/internal/events"
	"tradeledger/internal/handlers"
	"tradeledger/internal/pipeline"
	"tradeledger/internal/routes"
	"tradeledger/internal/schedule"
	"tradeledger/internal/settlement"
	"tradeledger/internal/store"
	"tradeledger/internal/tracker"
	"tradeledger/pkg/config"
)

func main() {
	runMigrations := flag.Bool("migrate", false, "apply SQL migrations before starting")
	rollback := flag.Bool("rollback", false, "roll back the last SQL migration and exit")
	migrationsDir := flag.String("migrations", config.DefaultMigrationsDir, "migrations directory")
	flag.Parse()

	config.LoadEnv()
	setupLogging()

	chains, err := config.LoadChains(config.ChainsPath())
	if err != nil {
		log.Fatalf("> %v", err)
	}

	config.InitDB()
	if *rollback {
		if err := config.RollbackMigration(config.DB, *migrationsDir); err != nil {
			log.Fatalf("> %v", err)
		}
		return
	}
	if *runMigrations {
		if err := config.ExecuteMigrations(config.DB, *migrationsDir); err != nil {
			log.Fatalf("> %v", err)
		}
	}
	st := store.NewGormStore(config.DB)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	allowed := routes.AllowedOriginsFromEnv()
	checkOrigin := routes.OriginChecker(allowed)
	hub := events.NewHub(func(r *http.Request) bool { return checkOrigin(r.Header.Get("Origin")) })
	sinks := []events.Sink{hub}

	var pub *config.Publisher
	if config.RabbitMQEnabled() {
		config.InitRabbitMQ()
		defer config.RabbitMQ.Close()

		pub, err = config.NewPublisher()
		if err != nil {
			log.Fatalf("> create publisher: %v", err)
		}
		defer pub.Close()
		sinks = append(sinks, events.NewRabbitSink(pub, events.DefaultQueue))
	} else {
		log.Info("> RabbitMQ not configured, skipping queue sink and address consumer")
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("> ping redis %s: %v", addr, err)
		}
		defer rdb.Close()
		sinks = append(sinks, events.NewRedisSink(rdb, "", ""))
		log.Infof("> redis sink enabled at %s", addr)
	}

	dispatcher := events.NewDispatcher(chains.EventBuffer, sinks...)
	go dispatcher.Run(ctx)

	registry := tracker.NewRegistry()
	engine := settlement.NewEngine(st)
	wired, err := pipeline.Build(ctx, nil, chains, st, registry, engine, dispatcher)
	if err != nil {
		log.Fatalf("> %v", err)
	}

	manager := tracker.NewManager(st, registry, pipeline.Normalizers(wired))
	if pub != nil {
		manager.WithPublisher(pub, tracker.DefaultQueue)
	}
	if err := manager.Load(ctx); err != nil {
		log.Fatalf("> %v", err)
	}

	if config.RabbitMQEnabled() {
		consumer, err := config.NewConsumer(tracker.DefaultQueue)
		if err != nil {
			log.Fatalf("> create consumer: %v", err)
		}
		defer consumer.Close()
		go func() {
			err := consumer.Consume(ctx, func(body []byte) error {
				return manager.HandleMessage(ctx, body)
			})
			if err != nil {
				log.Errorf("> address consumer stopped: %v", err)
			}
		}()
	}

	sched := schedule.New(ctx)
	for _, c := range wired {
		if err := sched.Add(c.Poller, c.Config.PollInterval); err != nil {
			log.Fatalf("> %v", err)
		}
	}
	sched.Start()

	srv := &http.Server{
		Addr:    ":" + port(),
		Handler: routes.SetupRouter(handlers.New(st, manager), hub, routes.Options{AllowedOrigins: allowed}),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("> ops api: %v", err)
		}
	}()
	log.Infof("> worker started with %d chains, ops api on %s", len(wired), srv.Addr)

	<-ctx.Done()
	log.Info("> shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("> ops api shutdown: %v", err)
	}
	sched.Stop()
}

func setupLogging() {
	log.SetFormatter(&log.JSONFormatter{})
	level, err := log.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func port() string {
	if p := os.Getenv("PORT"); p != "" {
		return p
	}
	return "8080"
}
