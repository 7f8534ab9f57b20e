package settlement

import (
	"context"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"tradeledger/internal/chain"
	"tradeledger/internal/classifier"
	"tradeledger/internal/metadata"
	"tradeledger/internal/models"
	"tradeledger/internal/price"
)

// BoughtLegSuffix marks the natural key of the incoming leg of a swap.
const BoughtLegSuffix = ":in"

type TokenResolver interface {
	Resolve(ctx context.Context, token string) metadata.Token
}

// Notifier receives committed legs. Implementations must not block.
type Notifier interface {
	Notify(settled []Settled)
}

// Processor prices and settles classified transactions for one chain.
type Processor struct {
	chain    string
	engine   *Engine
	tokens   TokenResolver
	oracle   price.Oracle
	notifier Notifier
	log      *log.Entry
}

func NewProcessor(chainName string, engine *Engine, tokens TokenResolver, oracle price.Oracle, notifier Notifier) *Processor {
	return &Processor{
		chain:    chainName,
		engine:   engine,
		tokens:   tokens,
		oracle:   oracle,
		notifier: notifier,
		log:      log.WithFields(log.Fields{"component": "processor", "chain": chainName}),
	}
}

// Handle settles one classified transaction. IGNORE results are a no-op.
func (p *Processor) Handle(ctx context.Context, res classifier.Result, executedAt time.Time) error {
	legs := p.Legs(ctx, res, executedAt)
	if len(legs) == 0 {
		return nil
	}
	settled, err := p.engine.Apply(ctx, legs)
	if err != nil {
		return err
	}
	if len(settled) > 0 && p.notifier != nil {
		p.notifier.Notify(settled)
	}
	return nil
}

// Legs builds the trade records for a classified transaction, sold leg first.
// The bought leg of a swap is valued at the sold leg's proceeds so the new
// lot carries what was given up for it.
func (p *Processor) Legs(ctx context.Context, res classifier.Result, executedAt time.Time) []*models.TradeRecord {
	var legs []*models.TradeRecord
	switch res.Kind {
	case classifier.Buy:
		legs = append(legs, p.leg(ctx, res, res.Bought, models.SideBuy, res.TxHash, executedAt))
	case classifier.Sell:
		legs = append(legs, p.leg(ctx, res, res.Sold, models.SideSell, res.TxHash, executedAt))
	case classifier.Swap:
		sold := p.leg(ctx, res, res.Sold, models.SideSell, res.TxHash, executedAt)
		bought := p.leg(ctx, res, res.Bought, models.SideBuy, res.TxHash+BoughtLegSuffix, executedAt)
		if sold.BaseValue.IsPositive() {
			bought.BaseValue = sold.BaseValue
			bought.QuoteValue = sold.QuoteValue
			if bought.Amount.IsPositive() {
				bought.Price = sold.BaseValue.DivRound(bought.Amount, Precision)
			}
		}
		legs = append(legs, sold, bought)
	}
	return legs
}

func (p *Processor) leg(ctx context.Context, res classifier.Result, t *chain.Transfer, side, key string, executedAt time.Time) *models.TradeRecord {
	meta := p.tokens.Resolve(ctx, t.Token)
	amount := scaleAmount(t.Amount, meta.Decimals)

	rec := &models.TradeRecord{
		NaturalKey:    key,
		Chain:         p.chain,
		TxHash:        res.TxHash,
		BlockNumber:   t.BlockNumber,
		AgentID:       res.AgentID,
		Wallet:        res.Wallet,
		TokenAddress:  t.Token,
		TokenSymbol:   meta.Symbol,
		TokenName:     meta.Name,
		TokenDecimals: int(meta.Decimals),
		Side:          side,
		Amount:        amount,
		Price:         decimal.Zero,
		BaseValue:     decimal.Zero,
		QuoteValue:    decimal.Zero,
		IsDexSwap:     res.IsDexSwap,
		ExecutedAt:    executedAt,
	}

	if px, ok := p.oracle.TokenPrice(ctx, t.Token); ok {
		rec.Price = px.InBaseAsset
		rec.BaseValue = amount.Mul(px.InBaseAsset).Round(Precision)
		rec.QuoteValue = amount.Mul(px.InQuote).Round(Precision)
	} else {
		p.log.WithFields(log.Fields{"tx": res.TxHash, "token": t.Token}).Debug("> no price, recording zero value")
	}
	return rec
}

// scaleAmount converts minor units to whole tokens, truncated to the
// precision the ledger columns store.
func scaleAmount(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)).Truncate(Precision)
}
