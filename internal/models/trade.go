package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	LotStatusOpen   = "open"
	LotStatusClosed = "closed"
)

// TradeRecord is the canonical effect of one transaction leg on a tracked wallet.
// NaturalKey is the transaction hash, suffixed for the bought leg of a swap.
type TradeRecord struct {
	ID            uint            `json:"id" gorm:"primaryKey"`
	NaturalKey    string          `json:"natural_key" gorm:"type:varchar(160);not null;uniqueIndex"`
	Chain         string          `json:"chain" gorm:"type:varchar(32);not null"`
	TxHash        string          `json:"tx_hash" gorm:"type:varchar(100);not null;index"`
	BlockNumber   uint64          `json:"block_number"`
	AgentID       string          `json:"agent_id" gorm:"type:varchar(64);not null;index"`
	Wallet        string          `json:"wallet" gorm:"type:varchar(100);not null"`
	TokenAddress  string          `json:"token_address" gorm:"type:varchar(100);not null"`
	TokenSymbol   string          `json:"token_symbol" gorm:"type:varchar(64)"`
	TokenName     string          `json:"token_name" gorm:"type:varchar(128)"`
	TokenDecimals int             `json:"token_decimals"`
	Side          string          `json:"side" gorm:"type:varchar(8);not null"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:numeric(78,18);not null"`
	Price         decimal.Decimal `json:"price" gorm:"type:numeric(78,18);not null"`
	BaseValue     decimal.Decimal `json:"base_value" gorm:"type:numeric(78,18);not null"`
	QuoteValue    decimal.Decimal `json:"quote_value" gorm:"type:numeric(78,18);not null"`
	IsDexSwap     bool            `json:"is_dex_swap" gorm:"default:false"`
	ExecutedAt    time.Time       `json:"executed_at"`
	CreatedAt     time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for TradeRecord
func (TradeRecord) TableName() string {
	return "trade_record"
}

// Lot is an open position slice created by one buy.
type Lot struct {
	ID              uint            `json:"id" gorm:"primaryKey"`
	AgentID         string          `json:"agent_id" gorm:"type:varchar(64);not null;index:idx_lot_position,priority:1"`
	Chain           string          `json:"chain" gorm:"type:varchar(32);not null;index:idx_lot_position,priority:2"`
	TokenAddress    string          `json:"token_address" gorm:"type:varchar(100);not null;index:idx_lot_position,priority:3"`
	TokenSymbol     string          `json:"token_symbol" gorm:"type:varchar(64)"`
	Status          string          `json:"status" gorm:"type:varchar(16);not null;index:idx_lot_position,priority:4"`
	TradeKey        string          `json:"trade_key" gorm:"type:varchar(160);not null"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:numeric(78,18);not null"`
	RemainingAmount decimal.Decimal `json:"remaining_amount" gorm:"type:numeric(78,18);not null"`
	CostBasis       decimal.Decimal `json:"cost_basis" gorm:"type:numeric(78,18);not null"`
	EntryPrice      decimal.Decimal `json:"entry_price" gorm:"type:numeric(78,18);not null"`
	OpenedAt        time.Time       `json:"opened_at" gorm:"not null"`
	ClosedAt        *time.Time      `json:"closed_at"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Lot
func (Lot) TableName() string {
	return "position_lot"
}

// RealizedClose records the consumed slice of one lot for one sell.
type RealizedClose struct {
	ID           uint            `json:"id" gorm:"primaryKey"`
	LotID        uint            `json:"lot_id" gorm:"not null;index"`
	AgentID      string          `json:"agent_id" gorm:"type:varchar(64);not null;index"`
	Chain        string          `json:"chain" gorm:"type:varchar(32);not null"`
	TokenAddress string          `json:"token_address" gorm:"type:varchar(100);not null"`
	TokenSymbol  string          `json:"token_symbol" gorm:"type:varchar(64)"`
	TradeKey     string          `json:"trade_key" gorm:"type:varchar(160);not null;index"`
	Amount       decimal.Decimal `json:"amount" gorm:"type:numeric(78,18);not null"`
	EntryPrice   decimal.Decimal `json:"entry_price" gorm:"type:numeric(78,18);not null"`
	ExitPrice    decimal.Decimal `json:"exit_price" gorm:"type:numeric(78,18);not null"`
	CostBasis    decimal.Decimal `json:"cost_basis" gorm:"type:numeric(78,18);not null"`
	Proceeds     decimal.Decimal `json:"proceeds" gorm:"type:numeric(78,18);not null"`
	Pnl          decimal.Decimal `json:"pnl" gorm:"type:numeric(78,18);not null"`
	PnlPercent   decimal.Decimal `json:"pnl_percent" gorm:"type:numeric(78,18);not null"`
	ClosedAt     time.Time       `json:"closed_at"`
}

// TableName specifies the table name for RealizedClose
func (RealizedClose) TableName() string {
	return "realized_close"
}

// AgentStats is recomputed from all realized closes of an agent.
type AgentStats struct {
	ID          uint            `json:"id" gorm:"primaryKey"`
	AgentID     string          `json:"agent_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	TotalTrades int64           `json:"total_trades"`
	Wins        int64           `json:"wins"`
	WinRate     decimal.Decimal `json:"win_rate" gorm:"type:numeric(78,18);not null"`
	TotalPnl    decimal.Decimal `json:"total_pnl" gorm:"type:numeric(78,18);not null"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for AgentStats
func (AgentStats) TableName() string {
	return "agent_stats"
}
