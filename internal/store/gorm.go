package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradeledger/internal/models"
)

// GormStore is the postgres-backed Store.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetCursor(ctx context.Context, chain string) (uint64, error) {
	var cur models.ChainCursor
	err := s.db.WithContext(ctx).Where("chain = ?", chain).First(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return cur.LastBlock, nil
}

func (s *GormStore) AdvanceCursor(ctx context.Context, chain string, block uint64) error {
	cur := models.ChainCursor{Chain: chain, LastBlock: block, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chain"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_block": gorm.Expr("EXCLUDED.last_block"),
			"updated_at": gorm.Expr("EXCLUDED.updated_at"),
		}),
		// never rewind
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "chain_cursor.last_block < EXCLUDED.last_block"},
		}},
	}).Create(&cur).Error
}

func (s *GormStore) ListCursors(ctx context.Context) ([]models.ChainCursor, error) {
	var items []models.ChainCursor
	if err := s.db.WithContext(ctx).Order("chain asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *GormStore) ListTrackedAddresses(ctx context.Context) ([]models.TrackedAddress, error) {
	var items []models.TrackedAddress
	if err := s.db.WithContext(ctx).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *GormStore) UpsertTrackedAddress(ctx context.Context, addr *models.TrackedAddress) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain"}, {Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"agent_id", "updated_at"}),
	}).Create(addr).Error
}

func (s *GormStore) DeleteTrackedAddress(ctx context.Context, chain, address string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("chain = ? AND address = ?", chain, address).
		Delete(&models.TrackedAddress{})
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (s *GormStore) TradeExists(ctx context.Context, naturalKey string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.TradeRecord{}).
		Where("natural_key = ?", naturalKey).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *GormStore) ListTrades(ctx context.Context, agentID string, limit int) ([]models.TradeRecord, error) {
	var items []models.TradeRecord
	if err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("id desc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *GormStore) ListLots(ctx context.Context, agentID string, openOnly bool) ([]models.Lot, error) {
	q := s.db.WithContext(ctx).Where("agent_id = ?", agentID)
	if openOnly {
		q = q.Where("status = ?", models.LotStatusOpen)
	}
	var items []models.Lot
	if err := q.Order("opened_at asc, id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *GormStore) ListCloses(ctx context.Context, agentID string, limit int) ([]models.RealizedClose, error) {
	var items []models.RealizedClose
	if err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("id desc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *GormStore) GetAgentStats(ctx context.Context, agentID string) (*models.AgentStats, error) {
	var stats models.AgentStats
	err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) RecordTrade(ctx context.Context, rec *models.TradeRecord) (bool, error) {
	res := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "natural_key"}},
		DoNothing: true,
	}).Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (t *gormTx) OpenLots(ctx context.Context, agentID, chain, token string) ([]models.Lot, error) {
	var lots []models.Lot
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("agent_id = ? AND chain = ? AND token_address = ? AND status = ?", agentID, chain, token, models.LotStatusOpen).
		Order("opened_at asc, id asc").
		Find(&lots).Error
	if err != nil {
		return nil, err
	}
	return lots, nil
}

func (t *gormTx) CreateLot(ctx context.Context, lot *models.Lot) error {
	return t.db.WithContext(ctx).Create(lot).Error
}

func (t *gormTx) UpdateLot(ctx context.Context, lot *models.Lot) error {
	return t.db.WithContext(ctx).Model(lot).Select(
		"remaining_amount", "cost_basis", "status", "closed_at", "updated_at",
	).Updates(lot).Error
}

func (t *gormTx) CreateClose(ctx context.Context, c *models.RealizedClose) error {
	return t.db.WithContext(ctx).Create(c).Error
}

func (t *gormTx) AgentCloses(ctx context.Context, agentID string) ([]models.RealizedClose, error) {
	var items []models.RealizedClose
	if err := t.db.WithContext(ctx).Where("agent_id = ?", agentID).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (t *gormTx) SaveAgentStats(ctx context.Context, stats *models.AgentStats) error {
	return t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "agent_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_trades", "wins", "win_rate", "total_pnl", "updated_at"}),
	}).Create(stats).Error
}
