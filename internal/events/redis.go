package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultStream    = "tradeledger:settled"
	DefaultChannel   = "tradeledger:settled:pub"
	DefaultStreamLen = 100000
)

// RedisSink appends events to a capped stream and publishes them on a channel.
type RedisSink struct {
	rdb     redis.Cmdable
	stream  string
	channel string
	maxLen  int64
}

func NewRedisSink(rdb redis.Cmdable, stream, channel string) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{rdb: rdb, stream: stream, channel: channel, maxLen: DefaultStreamLen}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, ev TradeSettled) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.XAdd(ctx, streamArgs(s.stream, s.maxLen, ev, payload))
	pipe.Publish(ctx, s.channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis %s: %w", s.stream, err)
	}
	return nil
}

func streamArgs(stream string, maxLen int64, ev TradeSettled, payload []byte) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{
			"id":      ev.ID,
			"agent":   ev.Trade.AgentID,
			"chain":   ev.Trade.Chain,
			"key":     ev.Trade.NaturalKey,
			"side":    ev.Trade.Side,
			"payload": string(payload),
		},
	}
}
