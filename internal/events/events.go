// Package events fans settled trades out to downstream consumers without
// ever blocking the settlement path.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"tradeledger/internal/metrics"
	"tradeledger/internal/models"
	"tradeledger/internal/settlement"
)

const (
	TypeTradeSettled = "trade.settled"

	DefaultBuffer = 1024
)

// TradeSettled is published once per newly recorded trade leg.
type TradeSettled struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Trade       models.TradeRecord     `json:"trade"`
	Closes      []models.RealizedClose `json:"closes,omitempty"`
	RealizedPnl decimal.Decimal        `json:"realized_pnl"`
	EmittedAt   time.Time              `json:"emitted_at"`
}

func NewTradeSettled(s settlement.Settled) TradeSettled {
	pnl := decimal.Zero
	for _, c := range s.Closes {
		pnl = pnl.Add(c.Pnl)
	}
	return TradeSettled{
		ID:          uuid.NewString(),
		Type:        TypeTradeSettled,
		Trade:       s.Trade,
		Closes:      s.Closes,
		RealizedPnl: pnl,
		EmittedAt:   time.Now().UTC(),
	}
}

type Sink interface {
	Name() string
	Publish(ctx context.Context, ev TradeSettled) error
}

// Dispatcher buffers events and hands them to every sink from a single
// goroutine started by Run.
type Dispatcher struct {
	ch    chan TradeSettled
	sinks []Sink
	log   *log.Entry
}

var _ settlement.Notifier = (*Dispatcher)(nil)

func NewDispatcher(buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Dispatcher{
		ch:    make(chan TradeSettled, buffer),
		sinks: sinks,
		log:   log.WithField("component", "events"),
	}
}

// Notify implements settlement.Notifier.
func (d *Dispatcher) Notify(settled []settlement.Settled) {
	for _, s := range settled {
		d.Emit(NewTradeSettled(s))
	}
}

// Emit queues ev and reports false when the buffer is full and ev was dropped.
func (d *Dispatcher) Emit(ev TradeSettled) bool {
	select {
	case d.ch <- ev:
		return true
	default:
		metrics.EventsDropped.Inc()
		d.log.WithField("key", ev.Trade.NaturalKey).Warn("> event buffer full, dropping settled event")
		return false
	}
}

// Run publishes queued events until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.ch:
			if err := d.publish(ctx, ev); err != nil {
				d.log.WithField("key", ev.Trade.NaturalKey).Errorf("> publish settled event: %v", err)
			}
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, ev TradeSettled) error {
	var errs []error
	for _, s := range d.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			metrics.EventsPublishErrors.WithLabelValues(s.Name()).Inc()
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
