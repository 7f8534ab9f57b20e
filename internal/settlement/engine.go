// Package settlement turns classified trades into FIFO lots, realized
// closes and agent statistics.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"tradeledger/internal/metrics"
	"tradeledger/internal/models"
	"tradeledger/internal/store"
)

// ErrNegativeInventory aborts a unit of work that would read or produce a
// lot with negative remaining amount.
var ErrNegativeInventory = errors.New("settlement: negative lot inventory")

// Precision matches the scale of the numeric columns.
const Precision = 18

var hundred = decimal.NewFromInt(100)

// Settled is one trade leg that was newly recorded, with the closes it produced.
type Settled struct {
	Trade  models.TradeRecord
	Closes []models.RealizedClose
}

type Engine struct {
	store store.Store
	locks *keyedMutex
	log   *log.Entry
}

func NewEngine(st store.Store) *Engine {
	return &Engine{
		store: st,
		locks: newKeyedMutex(),
		log:   log.WithField("component", "settlement"),
	}
}

func positionKey(agentID, chain, token string) string {
	return "pos:" + agentID + "|" + chain + "|" + token
}

func statsKey(agentID string) string {
	return "stats:" + agentID
}

// Apply settles the legs of one transaction in a single unit of work.
// Legs whose natural key already exists are skipped along with all their
// effects. Nothing is returned on error; the whole transaction rolls back.
func (e *Engine) Apply(ctx context.Context, legs []*models.TradeRecord) ([]Settled, error) {
	if len(legs) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, 2*len(legs))
	for _, leg := range legs {
		keys = append(keys, positionKey(leg.AgentID, leg.Chain, leg.TokenAddress))
		if leg.Side == models.SideSell {
			keys = append(keys, statsKey(leg.AgentID))
		}
	}
	unlock := e.locks.LockAll(keys)
	defer unlock()

	var out []Settled
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		out = out[:0]
		for _, leg := range legs {
			rec := *leg
			inserted, err := tx.RecordTrade(ctx, &rec)
			if err != nil {
				return fmt.Errorf("record trade %s: %w", rec.NaturalKey, err)
			}
			if !inserted {
				metrics.TradesDuplicate.WithLabelValues(rec.Chain).Inc()
				e.log.WithFields(log.Fields{"key": rec.NaturalKey, "agent": rec.AgentID}).Debug("> trade already recorded")
				continue
			}

			s := Settled{Trade: rec}
			switch rec.Side {
			case models.SideBuy:
				if err := e.onBuy(ctx, tx, &rec); err != nil {
					return err
				}
			case models.SideSell:
				closes, err := e.onSell(ctx, tx, &rec)
				if err != nil {
					return err
				}
				s.Closes = closes
				if len(closes) > 0 {
					if err := recomputeStats(ctx, tx, rec.AgentID); err != nil {
						return err
					}
				}
			default:
				return fmt.Errorf("trade %s: unknown side %q", rec.NaturalKey, rec.Side)
			}
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		chain := legs[0].Chain
		metrics.SettlementFailures.WithLabelValues(chain).Inc()
		return nil, err
	}

	for _, s := range out {
		metrics.TradesRecorded.WithLabelValues(s.Trade.Chain, s.Trade.Side).Inc()
	}
	return out, nil
}

// onBuy opens a lot carrying the trade's base value as cost basis.
func (e *Engine) onBuy(ctx context.Context, tx store.Tx, rec *models.TradeRecord) error {
	if !rec.Amount.IsPositive() {
		return nil
	}
	lot := &models.Lot{
		AgentID:         rec.AgentID,
		Chain:           rec.Chain,
		TokenAddress:    rec.TokenAddress,
		TokenSymbol:     rec.TokenSymbol,
		Status:          models.LotStatusOpen,
		TradeKey:        rec.NaturalKey,
		Amount:          rec.Amount,
		RemainingAmount: rec.Amount,
		CostBasis:       rec.BaseValue,
		EntryPrice:      rec.Price,
		OpenedAt:        rec.ExecutedAt,
	}
	if err := tx.CreateLot(ctx, lot); err != nil {
		return fmt.Errorf("create lot for %s: %w", rec.NaturalKey, err)
	}
	return nil
}

// onSell consumes open lots oldest first. Proceeds are spread pro rata over
// the sold amount; the slice that finishes the sell takes the rounding residue.
func (e *Engine) onSell(ctx context.Context, tx store.Tx, rec *models.TradeRecord) ([]models.RealizedClose, error) {
	amountSold := rec.Amount
	if !amountSold.IsPositive() {
		return nil, nil
	}
	entry := e.log.WithFields(log.Fields{
		"chain": rec.Chain, "tx": rec.TxHash, "agent": rec.AgentID, "token": rec.TokenAddress,
	})

	lots, err := tx.OpenLots(ctx, rec.AgentID, rec.Chain, rec.TokenAddress)
	if err != nil {
		return nil, fmt.Errorf("load open lots: %w", err)
	}
	if len(lots) == 0 {
		entry.Infof("> sell of %s with no open lots, nothing to match", amountSold)
		return nil, nil
	}

	proceeds := rec.BaseValue
	remaining := amountSold
	attributed := decimal.Zero
	var closes []models.RealizedClose

	for i := range lots {
		if !remaining.IsPositive() {
			break
		}
		lot := &lots[i]
		if lot.RemainingAmount.IsNegative() || lot.CostBasis.IsNegative() {
			return nil, fmt.Errorf("lot %d remaining %s: %w", lot.ID, lot.RemainingAmount, ErrNegativeInventory)
		}
		if lot.RemainingAmount.IsZero() {
			continue
		}

		closeAmount := decimal.Min(remaining, lot.RemainingAmount)
		full := closeAmount.Equal(lot.RemainingAmount)

		costClosed := lot.CostBasis
		if !full {
			costClosed = lot.CostBasis.Mul(closeAmount).DivRound(lot.RemainingAmount, Precision)
		}

		remaining = remaining.Sub(closeAmount)
		var slice decimal.Decimal
		if remaining.IsZero() {
			slice = proceeds.Sub(attributed)
		} else {
			slice = proceeds.Mul(closeAmount).DivRound(amountSold, Precision)
		}
		attributed = attributed.Add(slice)

		pnl := slice.Sub(costClosed)
		pnlPct := decimal.Zero
		if !costClosed.IsZero() {
			pnlPct = pnl.Mul(hundred).DivRound(costClosed, Precision)
		}

		lot.RemainingAmount = lot.RemainingAmount.Sub(closeAmount)
		lot.CostBasis = lot.CostBasis.Sub(costClosed)
		if lot.RemainingAmount.IsNegative() || lot.CostBasis.IsNegative() {
			return nil, fmt.Errorf("lot %d after close %s: %w", lot.ID, lot.RemainingAmount, ErrNegativeInventory)
		}
		if full {
			closedAt := rec.ExecutedAt
			lot.Status = models.LotStatusClosed
			lot.ClosedAt = &closedAt
		}
		if err := tx.UpdateLot(ctx, lot); err != nil {
			return nil, fmt.Errorf("update lot %d: %w", lot.ID, err)
		}

		c := models.RealizedClose{
			LotID:        lot.ID,
			AgentID:      rec.AgentID,
			Chain:        rec.Chain,
			TokenAddress: rec.TokenAddress,
			TokenSymbol:  rec.TokenSymbol,
			TradeKey:     rec.NaturalKey,
			Amount:       closeAmount,
			EntryPrice:   lot.EntryPrice,
			ExitPrice:    rec.Price,
			CostBasis:    costClosed,
			Proceeds:     slice,
			Pnl:          pnl,
			PnlPercent:   pnlPct,
			ClosedAt:     rec.ExecutedAt,
		}
		if err := tx.CreateClose(ctx, &c); err != nil {
			return nil, fmt.Errorf("create close for lot %d: %w", lot.ID, err)
		}
		closes = append(closes, c)
	}

	if remaining.IsPositive() {
		metrics.InventoryShortfalls.WithLabelValues(rec.Chain).Inc()
		entry.Warnf("> sell exceeded open inventory by %s, shortfall left unmatched", remaining)
	}
	return closes, nil
}

// recomputeStats rebuilds the agent aggregate from every realized close.
func recomputeStats(ctx context.Context, tx store.Tx, agentID string) error {
	closes, err := tx.AgentCloses(ctx, agentID)
	if err != nil {
		return fmt.Errorf("load closes for %s: %w", agentID, err)
	}
	stats := Aggregate(agentID, closes)
	if err := tx.SaveAgentStats(ctx, &stats); err != nil {
		return fmt.Errorf("save stats for %s: %w", agentID, err)
	}
	return nil
}

// Aggregate computes agent statistics directly from realized closes.
func Aggregate(agentID string, closes []models.RealizedClose) models.AgentStats {
	stats := models.AgentStats{AgentID: agentID, WinRate: decimal.Zero, TotalPnl: decimal.Zero}
	for _, c := range closes {
		stats.TotalTrades++
		if c.Pnl.IsPositive() {
			stats.Wins++
		}
		stats.TotalPnl = stats.TotalPnl.Add(c.Pnl)
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = decimal.NewFromInt(stats.Wins).DivRound(decimal.NewFromInt(stats.TotalTrades), Precision)
	}
	return stats
}
