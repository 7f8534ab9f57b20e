package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"tradeledger/internal/models"
	"tradeledger/internal/settlement"
	"tradeledger/internal/store"
	"tradeledger/internal/tracker"
)

// Handlers serves the ops API over the ledger store and the tracked set.
type Handlers struct {
	store   store.Store
	tracker *tracker.Manager
}

func New(st store.Store, manager *tracker.Manager) *Handlers {
	return &Handlers{store: st, tracker: manager}
}

// TrackedAddressRequest represents the request body for tracking a wallet
type TrackedAddressRequest struct {
	Chain   string `json:"chain" binding:"required"`
	Address string `json:"address" binding:"required"`
	AgentID string `json:"agent_id" binding:"required"`
}

// TradeStatusResp tells whether the legs of a transaction were settled.
type TradeStatusResp struct {
	TxHash            string `json:"tx_hash"`
	Recorded          bool   `json:"recorded"`
	BoughtLegRecorded bool   `json:"bought_leg_recorded"`
}

// AgentStatsResp is returned for agents without closes as well.
type AgentStatsResp struct {
	AgentID   string             `json:"agent_id"`
	Stats     *models.AgentStats `json:"stats"`
	OpenLots  int                `json:"open_lots"`
	HasCloses bool               `json:"has_closes"`
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return 0, false
	}
	return limit, true
}

func serverError(c *gin.Context, err error) {
	log.WithField("path", c.FullPath()).Errorf("> request failed: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// ListCursors returns the last processed block of every chain
func (h *Handlers) ListCursors(c *gin.Context) {
	cursors, err := h.store.ListCursors(c.Request.Context())
	if err != nil {
		serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, cursors)
}

// ListTrackedAddresses returns tracked wallets, optionally filtered by chain
func (h *Handlers) ListTrackedAddresses(c *gin.Context) {
	rows, err := h.store.ListTrackedAddresses(c.Request.Context())
	if err != nil {
		serverError(c, err)
		return
	}
	chain := c.Query("chain")
	if chain == "" {
		c.JSON(http.StatusOK, rows)
		return
	}
	filtered := make([]models.TrackedAddress, 0, len(rows))
	for _, r := range rows {
		if r.Chain == chain {
			filtered = append(filtered, r)
		}
	}
	c.JSON(http.StatusOK, filtered)
}

// AddTrackedAddress starts tracking a wallet for an agent
func (h *Handlers) AddTrackedAddress(c *gin.Context) {
	var req TrackedAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	row, err := h.tracker.AddTrackedAddress(c.Request.Context(), req.Chain, req.Address, req.AgentID)
	if errors.Is(err, tracker.ErrUnknownChain) || errors.Is(err, tracker.ErrInvalid) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		serverError(c, err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

// RemoveTrackedAddress stops tracking a wallet
func (h *Handlers) RemoveTrackedAddress(c *gin.Context) {
	removed, err := h.tracker.RemoveTrackedAddress(c.Request.Context(), c.Param("chain"), c.Param("address"))
	if errors.Is(err, tracker.ErrUnknownChain) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		serverError(c, err)
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Record deleted successfully"})
}

// GetAgentStats returns the aggregate stats of an agent
func (h *Handlers) GetAgentStats(c *gin.Context) {
	ctx := c.Request.Context()
	agentID := c.Param("agent_id")

	stats, err := h.store.GetAgentStats(ctx, agentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		serverError(c, err)
		return
	}
	lots, err := h.store.ListLots(ctx, agentID, true)
	if err != nil {
		serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, AgentStatsResp{
		AgentID:   agentID,
		Stats:     stats,
		OpenLots:  len(lots),
		HasCloses: stats != nil && stats.TotalTrades > 0,
	})
}

// ListAgentLots returns lots of an agent, only open ones with ?status=open
func (h *Handlers) ListAgentLots(c *gin.Context) {
	status := c.Query("status")
	if status != "" && status != models.LotStatusOpen && status != "all" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be open or all"})
		return
	}
	lots, err := h.store.ListLots(c.Request.Context(), c.Param("agent_id"), status == models.LotStatusOpen)
	if err != nil {
		serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, lots)
}

// ListAgentCloses returns the most recent realized closes of an agent
func (h *Handlers) ListAgentCloses(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	closes, err := h.store.ListCloses(c.Request.Context(), c.Param("agent_id"), limit)
	if err != nil {
		serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, closes)
}

// ListAgentTrades returns the most recent trade records of an agent
func (h *Handlers) ListAgentTrades(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	trades, err := h.store.ListTrades(c.Request.Context(), c.Param("agent_id"), limit)
	if err != nil {
		serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

// GetTradeStatus reports whether a transaction hash was recorded, so an
// operator can tell which blocks still need a replay.
func (h *Handlers) GetTradeStatus(c *gin.Context) {
	hash := c.Param("tx_hash")
	ctx := c.Request.Context()

	recorded, err := h.store.TradeExists(ctx, hash)
	if err != nil {
		serverError(c, err)
		return
	}
	bought, err := h.store.TradeExists(ctx, hash+settlement.BoughtLegSuffix)
	if err != nil {
		serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, TradeStatusResp{TxHash: hash, Recorded: recorded, BoughtLegRecorded: bought})
}
