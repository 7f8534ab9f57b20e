package config

import (
	"fmt"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

var RabbitMQ *amqp.Connection

// RabbitMQURL builds the broker url from RABBITMQ_* variables.
func RabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		os.Getenv("RABBITMQ_USER"),
		os.Getenv("RABBITMQ_PASSWORD"),
		os.Getenv("RABBITMQ_HOST"),
		os.Getenv("RABBITMQ_PORT"),
	)
}

// RabbitMQEnabled reports whether a broker is configured.
func RabbitMQEnabled() bool {
	return os.Getenv("RABBITMQ_HOST") != ""
}

// InitRabbitMQ RabbitMQ with retry logic
func InitRabbitMQ() {
	url := RabbitMQURL()

	maxRetries := 10
	retryDelay := 3 * time.Second

	var conn *amqp.Connection
	var err error

	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			RabbitMQ = conn
			log.Infof("> connected to RabbitMQ at %s", os.Getenv("RABBITMQ_HOST"))
			return
		}

		if i < maxRetries-1 {
			log.Warnf("> failed to connect to RabbitMQ (attempt %d/%d): %v, retrying in %v", i+1, maxRetries, err, retryDelay)
			time.Sleep(retryDelay)
		}
	}

	log.Fatalf("> failed to connect to RabbitMQ after %d attempts: %v", maxRetries, err)
}
