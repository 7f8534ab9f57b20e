package events

import (
	"context"
	"fmt"
)

const DefaultQueue = "trade_settled"

// QueuePublisher publishes a JSON message to a durable queue.
type QueuePublisher interface {
	Publish(queueName string, message interface{}) error
}

type RabbitSink struct {
	pub   QueuePublisher
	queue string
}

func NewRabbitSink(pub QueuePublisher, queue string) *RabbitSink {
	if queue == "" {
		queue = DefaultQueue
	}
	return &RabbitSink{pub: pub, queue: queue}
}

func (s *RabbitSink) Name() string { return "rabbitmq" }

func (s *RabbitSink) Publish(ctx context.Context, ev TradeSettled) error {
	if err := s.pub.Publish(s.queue, ev); err != nil {
		return fmt.Errorf("rabbitmq %s: %w", s.queue, err)
	}
	return nil
}
