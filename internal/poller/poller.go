// Package poller walks a chain block by block from a persisted cursor and
// feeds classified transactions of tracked wallets to a handler.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tradeledger/internal/chain"
	"tradeledger/internal/classifier"
	"tradeledger/internal/metrics"
	"tradeledger/internal/store"
	"tradeledger/internal/tracker"
)

const (
	DefaultMaxBlockRange      = 50
	DefaultReceiptConcurrency = 4
)

type Config struct {
	MaxBlockRange uint64
	// StartBlock is where a chain without a persisted cursor begins.
	// Zero starts at the current head.
	StartBlock         uint64
	ReceiptConcurrency int
}

// CursorStore is the part of the store the poller needs.
type CursorStore interface {
	GetCursor(ctx context.Context, chain string) (uint64, error)
	AdvanceCursor(ctx context.Context, chain string, block uint64) error
}

// Handler settles one classified transaction.
type Handler interface {
	Handle(ctx context.Context, res classifier.Result, executedAt time.Time) error
}

type Poller struct {
	adapter    chain.Adapter
	cursors    CursorStore
	registry   *tracker.Registry
	classifier *classifier.Classifier
	handler    Handler
	cfg        Config
	log        *log.Entry
}

func New(adapter chain.Adapter, cursors CursorStore, registry *tracker.Registry, handler Handler, cfg Config) *Poller {
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = DefaultMaxBlockRange
	}
	if cfg.ReceiptConcurrency <= 0 {
		cfg.ReceiptConcurrency = DefaultReceiptConcurrency
	}
	return &Poller{
		adapter:    adapter,
		cursors:    cursors,
		registry:   registry,
		classifier: classifier.New(adapter.IsRouter),
		handler:    handler,
		cfg:        cfg,
		log:        log.WithFields(log.Fields{"component": "poller", "chain": adapter.Chain()}),
	}
}

func (p *Poller) Chain() string { return p.adapter.Chain() }

// Tick processes at most one bounded window after the cursor and persists
// the window's upper bound. On error the cursor is left untouched.
func (p *Poller) Tick(ctx context.Context) error {
	name := p.adapter.Chain()
	start := time.Now()
	metrics.PollerTicksTotal.WithLabelValues(name).Inc()
	defer func() {
		metrics.PollerTickLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	err := p.tick(ctx)
	if err != nil {
		metrics.PollerTickErrors.WithLabelValues(name).Inc()
	}
	return err
}

func (p *Poller) tick(ctx context.Context) error {
	name := p.adapter.Chain()
	snapshot := p.registry.Snapshot(name)

	head, err := p.adapter.HeadBlock(ctx)
	if err != nil {
		return fmt.Errorf("head block: %w", err)
	}

	cursor, err := p.cursors.GetCursor(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		cursor = head
		if p.cfg.StartBlock > 0 && p.cfg.StartBlock-1 < head {
			cursor = p.cfg.StartBlock - 1
		}
		if err := p.cursors.AdvanceCursor(ctx, name, cursor); err != nil {
			return fmt.Errorf("bootstrap cursor: %w", err)
		}
		p.log.Infof("> cursor bootstrapped at block %d", cursor)
	} else if err != nil {
		return fmt.Errorf("get cursor: %w", err)
	}

	if head <= cursor {
		return nil
	}
	from := cursor + 1
	to := head
	if to-cursor > p.cfg.MaxBlockRange {
		to = cursor + p.cfg.MaxBlockRange
	}

	if err := p.ProcessRange(ctx, from, to, snapshot); err != nil {
		return err
	}

	if err := p.cursors.AdvanceCursor(ctx, name, to); err != nil {
		return fmt.Errorf("advance cursor to %d: %w", to, err)
	}
	metrics.PollerCursor.WithLabelValues(name).Set(float64(to))
	p.log.WithFields(log.Fields{"from": from, "to": to, "head": head}).Debug("> window processed")
	return nil
}

// ProcessRange handles blocks from..to inclusive in order without touching
// the cursor. A block fetch failure stops the range.
func (p *Poller) ProcessRange(ctx context.Context, from, to uint64, snapshot tracker.Snapshot) error {
	for n := from; n <= to; n++ {
		if err := p.processBlock(ctx, n, snapshot); err != nil {
			return err
		}
		if n == ^uint64(0) {
			break
		}
	}
	return nil
}

func (p *Poller) processBlock(ctx context.Context, number uint64, snapshot tracker.Snapshot) error {
	name := p.adapter.Chain()
	block, err := p.adapter.Block(ctx, number)
	if err != nil {
		return fmt.Errorf("block %d: %w", number, err)
	}
	metrics.PollerBlocksProcessed.WithLabelValues(name).Inc()
	if block.Skipped > 0 {
		metrics.PollerTxSkipped.WithLabelValues(name, "decode").Add(float64(block.Skipped))
		p.log.WithField("block", number).Warnf("> skipped %d undecodable transactions", block.Skipped)
	}
	if len(snapshot) == 0 {
		return nil
	}

	var candidates []chain.Tx
	for _, tx := range block.Txs {
		if touches(tx, snapshot) {
			candidates = append(candidates, tx)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	results := make([][]chain.Transfer, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ReceiptConcurrency)
	for i, tx := range candidates {
		i, tx := i, tx
		g.Go(func() error {
			transfers, err := p.adapter.Transfers(gctx, tx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				metrics.PollerTxSkipped.WithLabelValues(name, "receipt").Inc()
				p.log.WithFields(log.Fields{"block": number, "tx": tx.Hash}).Warnf("> skipping transaction: %v", err)
				return nil
			}
			results[i] = transfers
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var relevant []chain.Transfer
	for _, transfers := range results {
		for _, t := range transfers {
			if t.BlockNumber == 0 {
				t.BlockNumber = number
			}
			if isParty(t, snapshot) {
				relevant = append(relevant, t)
			}
		}
	}

	for _, group := range classifier.GroupByTx(relevant) {
		res := p.classifier.Classify(group, snapshot)
		if res.Kind == classifier.Ignore {
			continue
		}
		if err := p.handler.Handle(ctx, res, block.Time); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.WithFields(log.Fields{
				"block": number, "tx": res.TxHash, "agent": res.AgentID, "kind": res.Kind,
			}).Errorf("> settlement failed, trade left unsettled: %v", err)
		}
	}
	return nil
}

func touches(tx chain.Tx, snapshot tracker.Snapshot) bool {
	for _, addr := range tx.Participants() {
		if _, ok := snapshot[addr]; ok {
			return true
		}
	}
	return false
}

func isParty(t chain.Transfer, snapshot tracker.Snapshot) bool {
	if _, ok := snapshot[t.From]; ok && t.From != "" {
		return true
	}
	_, ok := snapshot[t.To]
	return ok && t.To != ""
}
