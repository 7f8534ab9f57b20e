package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeledger/internal/handlers"
	"tradeledger/internal/middleware"
	"tradeledger/internal/models"
	"tradeledger/internal/settlement"
	"tradeledger/internal/store"
	"tradeledger/internal/tracker"
)

type fixture struct {
	router   *gin.Engine
	store    *store.MemoryStore
	registry *tracker.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := store.NewMemoryStore()
	reg := tracker.NewRegistry()
	mgr := tracker.NewManager(st, reg, map[string]tracker.Normalizer{"base": strings.ToLower})
	r := SetupRouter(handlers.New(st, mgr), nil, Options{
		AllowedOrigins: []string{"https://ops.example"},
		RateLimit:      middleware.RateLimiterConfig{RequestsPerSecond: 1000, Burst: 1000},
	})
	return &fixture{router: r, store: st, registry: reg}
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = f.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/cursors", nil)
	req.Header.Set("Origin", "https://ops.example")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ops.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/cursors", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestTrackedAddresses(t *testing.T) {
	f := newFixture(t)

	t.Run("add", func(t *testing.T) {
		w := f.do(http.MethodPost, "/api/v1/tracked-addresses", handlers.TrackedAddressRequest{
			Chain: "base", Address: "0xABCDEF", AgentID: "agent-1",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var row models.TrackedAddress
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &row))
		assert.Equal(t, "0xabcdef", row.Address)

		agent, ok := f.registry.Snapshot("base").Agent("0xabcdef")
		assert.True(t, ok)
		assert.Equal(t, "agent-1", agent)
	})

	t.Run("unknown chain", func(t *testing.T) {
		w := f.do(http.MethodPost, "/api/v1/tracked-addresses", handlers.TrackedAddressRequest{
			Chain: "cosmos", Address: "0x1", AgentID: "agent-1",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		w := f.do(http.MethodPost, "/api/v1/tracked-addresses", map[string]string{"chain": "base"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("list with filter", func(t *testing.T) {
		w := f.do(http.MethodGet, "/api/v1/tracked-addresses?chain=base", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var rows []models.TrackedAddress
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
		assert.Len(t, rows, 1)

		w = f.do(http.MethodGet, "/api/v1/tracked-addresses?chain=bsc", nil)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
		assert.Empty(t, rows)
	})

	t.Run("remove", func(t *testing.T) {
		w := f.do(http.MethodDelete, "/api/v1/tracked-addresses/base/0xABCDEF", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 0, f.registry.Len("base"))

		w = f.do(http.MethodDelete, "/api/v1/tracked-addresses/base/0xABCDEF", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCursors(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.AdvanceCursor(context.Background(), "base", 123))

	w := f.do(http.MethodGet, "/api/v1/cursors", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cursors []models.ChainCursor
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cursors))
	require.Len(t, cursors, 1)
	assert.Equal(t, uint64(123), cursors[0].LastBlock)
}

func seedLedger(t *testing.T, st store.Store) {
	t.Helper()
	e := settlement.NewEngine(st)
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	leg := func(key, side string, amount, price int64) []*models.TradeRecord {
		a, p := decimal.NewFromInt(amount), decimal.NewFromInt(price)
		at = at.Add(time.Minute)
		return []*models.TradeRecord{{
			NaturalKey: key, Chain: "base", TxHash: key, AgentID: "agent-1", Wallet: "0xw",
			TokenAddress: "0xtoken", Side: side, Amount: a, Price: p, BaseValue: a.Mul(p), ExecutedAt: at,
		}}
	}
	for _, legs := range [][]*models.TradeRecord{
		leg("0xb1", models.SideBuy, 10, 1),
		leg("0xb2", models.SideBuy, 10, 2),
		leg("0xs1", models.SideSell, 15, 3),
	} {
		_, err := e.Apply(context.Background(), legs)
		require.NoError(t, err)
	}
}

func TestAgentRoutes(t *testing.T) {
	f := newFixture(t)
	seedLedger(t, f.store)

	t.Run("stats", func(t *testing.T) {
		w := f.do(http.MethodGet, "/api/v1/agents/agent-1/stats", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp handlers.AgentStatsResp
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.Stats)
		assert.Equal(t, int64(2), resp.Stats.TotalTrades)
		assert.True(t, resp.Stats.TotalPnl.Equal(decimal.NewFromInt(25)))
		assert.Equal(t, 1, resp.OpenLots)
		assert.True(t, resp.HasCloses)
	})

	t.Run("stats of unknown agent", func(t *testing.T) {
		w := f.do(http.MethodGet, "/api/v1/agents/nobody/stats", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp handlers.AgentStatsResp
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Nil(t, resp.Stats)
		assert.False(t, resp.HasCloses)
	})

	t.Run("lots", func(t *testing.T) {
		var lots []models.Lot
		w := f.do(http.MethodGet, "/api/v1/agents/agent-1/lots", nil)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lots))
		assert.Len(t, lots, 2)

		w = f.do(http.MethodGet, "/api/v1/agents/agent-1/lots?status=open", nil)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lots))
		assert.Len(t, lots, 1)

		w = f.do(http.MethodGet, "/api/v1/agents/agent-1/lots?status=bogus", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("closes and trades", func(t *testing.T) {
		var closes []models.RealizedClose
		w := f.do(http.MethodGet, "/api/v1/agents/agent-1/closes?limit=1", nil)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &closes))
		assert.Len(t, closes, 1)

		var trades []models.TradeRecord
		w = f.do(http.MethodGet, "/api/v1/agents/agent-1/trades", nil)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trades))
		require.Len(t, trades, 3)
		assert.Equal(t, "0xs1", trades[0].NaturalKey)

		w = f.do(http.MethodGet, "/api/v1/agents/agent-1/trades?limit=x", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestTradeStatus(t *testing.T) {
	f := newFixture(t)
	seedLedger(t, f.store)

	tests := []struct {
		name string
		hash string
		want handlers.TradeStatusResp
	}{
		{"settled sell", "0xs1", handlers.TradeStatusResp{TxHash: "0xs1", Recorded: true}},
		{"never seen", "0xmissing", handlers.TradeStatusResp{TxHash: "0xmissing"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodGet, "/api/v1/trades/"+tt.hash+"/status", nil)
			require.Equal(t, http.StatusOK, w.Code)
			var resp handlers.TradeStatusResp
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp)
		})
	}
}

func TestOriginChecker(t *testing.T) {
	check := OriginChecker([]string{"https://a"})
	assert.True(t, check(""))
	assert.True(t, check("https://a"))
	assert.False(t, check("https://b"))

	t.Setenv("ALLOWED_ORIGINS", " https://a , ,https://b")
	assert.Equal(t, []string{"https://a", "https://b"}, AllowedOriginsFromEnv())
}
