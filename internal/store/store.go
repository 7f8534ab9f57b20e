// Package store persists cursors, tracked addresses and the trade ledger.
package store

import (
	"context"
	"errors"

	"tradeledger/internal/models"
)

var ErrNotFound = errors.New("store: not found")

// Store is the durable state shared by the poller, the settlement engine and
// the ops API.
type Store interface {
	// GetCursor returns ErrNotFound when the chain has never been polled.
	GetCursor(ctx context.Context, chain string) (uint64, error)
	// AdvanceCursor persists block unless the stored cursor is already higher.
	AdvanceCursor(ctx context.Context, chain string, block uint64) error
	ListCursors(ctx context.Context) ([]models.ChainCursor, error)

	ListTrackedAddresses(ctx context.Context) ([]models.TrackedAddress, error)
	UpsertTrackedAddress(ctx context.Context, addr *models.TrackedAddress) error
	DeleteTrackedAddress(ctx context.Context, chain, address string) (bool, error)

	// InTx runs fn as one atomic unit of work. Any error rolls everything back.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	TradeExists(ctx context.Context, naturalKey string) (bool, error)
	ListTrades(ctx context.Context, agentID string, limit int) ([]models.TradeRecord, error)
	ListLots(ctx context.Context, agentID string, openOnly bool) ([]models.Lot, error)
	ListCloses(ctx context.Context, agentID string, limit int) ([]models.RealizedClose, error)
	GetAgentStats(ctx context.Context, agentID string) (*models.AgentStats, error)
}

// Tx is the view of the store inside one unit of work.
type Tx interface {
	// RecordTrade inserts the record unless its natural key exists.
	// inserted is false for an existing key, which is not an error.
	RecordTrade(ctx context.Context, rec *models.TradeRecord) (inserted bool, err error)
	// OpenLots returns open lots oldest first, locked for the rest of the unit of work.
	OpenLots(ctx context.Context, agentID, chain, token string) ([]models.Lot, error)
	CreateLot(ctx context.Context, lot *models.Lot) error
	UpdateLot(ctx context.Context, lot *models.Lot) error
	CreateClose(ctx context.Context, c *models.RealizedClose) error
	AgentCloses(ctx context.Context, agentID string) ([]models.RealizedClose, error)
	SaveAgentStats(ctx context.Context, stats *models.AgentStats) error
}

func normalizeLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
