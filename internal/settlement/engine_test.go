package settlement

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeledger/internal/metrics"
	"tradeledger/internal/models"
	"tradeledger/internal/store"
)

const (
	testChain = "base"
	testAgent = "agent-1"
	testToken = "0xtoken"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func trade(key, side, amount, price string, at time.Time) *models.TradeRecord {
	a, p := dec(amount), dec(price)
	return &models.TradeRecord{
		NaturalKey:   key,
		Chain:        testChain,
		TxHash:       key,
		AgentID:      testAgent,
		Wallet:       "0xwallet",
		TokenAddress: testToken,
		TokenSymbol:  "TKN",
		Side:         side,
		Amount:       a,
		Price:        p,
		BaseValue:    a.Mul(p),
		QuoteValue:   decimal.Zero,
		ExecutedAt:   at,
	}
}

func apply(t *testing.T, e *Engine, legs ...*models.TradeRecord) []Settled {
	t.Helper()
	out, err := e.Apply(context.Background(), legs)
	require.NoError(t, err)
	return out
}

func TestEngine_FIFOPartialClose(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	e := NewEngine(st)

	apply(t, e, trade("0xb1", models.SideBuy, "10", "1", t0))
	apply(t, e, trade("0xb2", models.SideBuy, "10", "2", t0.Add(time.Minute)))
	settled := apply(t, e, trade("0xs1", models.SideSell, "15", "3", t0.Add(2*time.Minute)))

	require.Len(t, settled, 1)
	closes := settled[0].Closes
	require.Len(t, closes, 2)

	assertDec(t, "10", closes[0].Amount)
	assertDec(t, "10", closes[0].CostBasis)
	assertDec(t, "30", closes[0].Proceeds)
	assertDec(t, "20", closes[0].Pnl)
	assertDec(t, "200", closes[0].PnlPercent)
	assertDec(t, "1", closes[0].EntryPrice)
	assertDec(t, "3", closes[0].ExitPrice)

	assertDec(t, "5", closes[1].Amount)
	assertDec(t, "10", closes[1].CostBasis)
	assertDec(t, "15", closes[1].Proceeds)
	assertDec(t, "5", closes[1].Pnl)
	assertDec(t, "2", closes[1].EntryPrice)

	total := closes[0].Pnl.Add(closes[1].Pnl)
	assertDec(t, "25", total)

	lots, err := st.ListLots(ctx, testAgent, false)
	require.NoError(t, err)
	require.Len(t, lots, 2)
	assert.Equal(t, models.LotStatusClosed, lots[0].Status)
	require.NotNil(t, lots[0].ClosedAt)
	assertDec(t, "0", lots[0].RemainingAmount)
	assert.Equal(t, models.LotStatusOpen, lots[1].Status)
	assertDec(t, "5", lots[1].RemainingAmount)
	assertDec(t, "10", lots[1].CostBasis)
	assertDec(t, "2", lots[1].EntryPrice)

	stats, err := st.GetAgentStats(ctx, testAgent)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalTrades)
	assert.Equal(t, int64(2), stats.Wins)
	assertDec(t, "1", stats.WinRate)
	assertDec(t, "25", stats.TotalPnl)
}

func TestEngine_Conservation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	e := NewEngine(st)

	apply(t, e, trade("0xb1", models.SideBuy, "3.333333333333333333", "0.7", t0))
	apply(t, e, trade("0xb2", models.SideBuy, "3.333333333333333333", "1.3", t0.Add(time.Second)))
	apply(t, e, trade("0xb3", models.SideBuy, "3.333333333333333334", "0.9", t0.Add(2*time.Second)))

	sells := []*models.TradeRecord{
		trade("0xs1", models.SideSell, "1.000000000000000001", "1.1", t0.Add(time.Hour)),
		trade("0xs2", models.SideSell, "4.7", "0.3333", t0.Add(2*time.Hour)),
		trade("0xs3", models.SideSell, "2", "7", t0.Add(3*time.Hour)),
	}
	for _, s := range sells {
		settled := apply(t, e, s)
		require.Len(t, settled, 1)

		sumAmount, sumProceeds := decimal.Zero, decimal.Zero
		for _, c := range settled[0].Closes {
			sumAmount = sumAmount.Add(c.Amount)
			sumProceeds = sumProceeds.Add(c.Proceeds)
		}
		assertDec(t, s.Amount.String(), sumAmount, s.NaturalKey)
		assertDec(t, s.BaseValue.String(), sumProceeds, s.NaturalKey)
	}

	lots, err := st.ListLots(ctx, testAgent, false)
	require.NoError(t, err)
	remaining := decimal.Zero
	for _, l := range lots {
		assert.False(t, l.RemainingAmount.IsNegative())
		assert.False(t, l.CostBasis.IsNegative())
		remaining = remaining.Add(l.RemainingAmount)
	}
	assertDec(t, "2.299999999999999999", remaining)
}

func TestEngine_SellWithoutLots(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	e := NewEngine(st)

	settled := apply(t, e, trade("0xs1", models.SideSell, "5", "1", t0))
	require.Len(t, settled, 1)
	assert.Empty(t, settled[0].Closes)

	exists, err := st.TradeExists(ctx, "0xs1")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = st.GetAgentStats(ctx, testAgent)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEngine_Shortfall(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	e := NewEngine(st)
	before := testutil.ToFloat64(metrics.InventoryShortfalls.WithLabelValues(testChain))

	apply(t, e, trade("0xb1", models.SideBuy, "5", "1", t0))
	settled := apply(t, e, trade("0xs1", models.SideSell, "8", "2", t0.Add(time.Minute)))

	require.Len(t, settled[0].Closes, 1)
	c := settled[0].Closes[0]
	assertDec(t, "5", c.Amount)
	assertDec(t, "10", c.Proceeds)
	assertDec(t, "5", c.Pnl)

	lots, err := st.ListLots(ctx, testAgent, false)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assertDec(t, "0", lots[0].RemainingAmount)
	assert.Equal(t, models.LotStatusClosed, lots[0].Status)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.InventoryShortfalls.WithLabelValues(testChain)))
}

func TestEngine_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	e := NewEngine(st)

	legs := []*models.TradeRecord{
		trade("0xb1", models.SideBuy, "10", "1", t0),
		trade("0xs1", models.SideSell, "4", "2", t0.Add(time.Minute)),
	}
	for _, leg := range legs {
		apply(t, e, leg)
	}
	lotsBefore, err := st.ListLots(ctx, testAgent, false)
	require.NoError(t, err)
	closesBefore, err := st.ListCloses(ctx, testAgent, 0)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		for _, leg := range legs {
			assert.Empty(t, apply(t, e, leg))
		}
	}

	lotsAfter, err := st.ListLots(ctx, testAgent, false)
	require.NoError(t, err)
	closesAfter, err := st.ListCloses(ctx, testAgent, 0)
	require.NoError(t, err)
	assert.Equal(t, lotsBefore, lotsAfter)
	assert.Equal(t, closesBefore, closesAfter)
}

func TestEngine_DoesNotMutateInput(t *testing.T) {
	e := NewEngine(store.NewMemoryStore())
	leg := trade("0xb1", models.SideBuy, "1", "1", t0)
	apply(t, e, leg)
	assert.Zero(t, leg.ID)
}

type corruptStore struct {
	*store.MemoryStore
}

func (s corruptStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.MemoryStore.InTx(ctx, func(tx store.Tx) error { return fn(corruptTx{tx}) })
}

type corruptTx struct {
	store.Tx
}

func (t corruptTx) OpenLots(ctx context.Context, agentID, chain, token string) ([]models.Lot, error) {
	lots, err := t.Tx.OpenLots(ctx, agentID, chain, token)
	for i := range lots {
		lots[i].RemainingAmount = lots[i].RemainingAmount.Neg()
	}
	return lots, err
}

func TestEngine_NegativeInventoryRollsBack(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	apply(t, NewEngine(mem), trade("0xb1", models.SideBuy, "10", "1", t0))

	bad := NewEngine(corruptStore{mem})
	_, err := bad.Apply(ctx, []*models.TradeRecord{trade("0xs1", models.SideSell, "4", "2", t0.Add(time.Minute))})
	require.ErrorIs(t, err, ErrNegativeInventory)

	exists, err := mem.TradeExists(ctx, "0xs1")
	require.NoError(t, err)
	assert.False(t, exists, "rolled back trade must stay unsettled")

	lots, err := mem.ListLots(ctx, testAgent, true)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assertDec(t, "10", lots[0].RemainingAmount)
}

func TestEngine_StatsMatchCloses(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	e := NewEngine(st)

	prices := []string{"1", "0.5", "2", "1.25", "0.8", "3"}
	at := t0
	for i, p := range prices {
		at = at.Add(time.Minute)
		apply(t, e, trade(fmt.Sprintf("0xb%d", i), models.SideBuy, "7", p, at))
		at = at.Add(time.Minute)
		apply(t, e, trade(fmt.Sprintf("0xs%d", i), models.SideSell, "5", prices[(i+2)%len(prices)], at))
	}

	closes, err := st.ListCloses(ctx, testAgent, 1000)
	require.NoError(t, err)
	want := Aggregate(testAgent, closes)

	got, err := st.GetAgentStats(ctx, testAgent)
	require.NoError(t, err)
	assert.Equal(t, want.TotalTrades, got.TotalTrades)
	assert.Equal(t, want.Wins, got.Wins)
	assertDec(t, want.WinRate.String(), got.WinRate)
	assertDec(t, want.TotalPnl.String(), got.TotalPnl)
}

func TestEngine_ConcurrentSells(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	e := NewEngine(st)
	apply(t, e, trade("0xb1", models.SideBuy, "100", "1", t0))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Apply(ctx, []*models.TradeRecord{
				trade(fmt.Sprintf("0xs%d", i), models.SideSell, "5", "2", t0.Add(time.Duration(i+1)*time.Second)),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	lots, err := st.ListLots(ctx, testAgent, false)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assertDec(t, "0", lots[0].RemainingAmount)
	assert.Equal(t, models.LotStatusClosed, lots[0].Status)

	closes, err := st.ListCloses(ctx, testAgent, 100)
	require.NoError(t, err)
	assert.Len(t, closes, 20)
	assert.Zero(t, e.locks.size())
}

func TestAggregate(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		s := Aggregate(testAgent, nil)
		assert.Zero(t, s.TotalTrades)
		assertDec(t, "0", s.WinRate)
		assertDec(t, "0", s.TotalPnl)
	})
	t.Run("mixed", func(t *testing.T) {
		s := Aggregate(testAgent, []models.RealizedClose{
			{Pnl: dec("5")}, {Pnl: dec("-2")}, {Pnl: dec("0")}, {Pnl: dec("1.5")},
		})
		assert.Equal(t, int64(4), s.TotalTrades)
		assert.Equal(t, int64(2), s.Wins)
		assertDec(t, "0.5", s.WinRate)
		assertDec(t, "4.5", s.TotalPnl)
	})
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys := []string{"b", "a"}
			if i%2 == 0 {
				keys = []string{"a", "b", "a"}
			}
			unlock := k.LockAll(keys)
			counter++
			unlock()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, k.size())
	assert.Equal(t, []string{"a", "b"}, dedupSorted([]string{"b", "a", "b"}))
}
