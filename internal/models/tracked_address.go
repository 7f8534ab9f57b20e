package models

import "time"

// TrackedAddress maps a wallet on one chain to the agent that owns it.
type TrackedAddress struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Chain     string    `json:"chain" gorm:"type:varchar(32);not null;uniqueIndex:idx_tracked_chain_address"`
	Address   string    `json:"address" gorm:"type:varchar(100);not null;uniqueIndex:idx_tracked_chain_address"`
	AgentID   string    `json:"agent_id" gorm:"type:varchar(64);not null;index"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for TrackedAddress
func (TrackedAddress) TableName() string {
	return "tracked_address"
}

// ChainCursor is the last fully processed block of a chain.
type ChainCursor struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Chain     string    `json:"chain" gorm:"type:varchar(32);not null;uniqueIndex"`
	LastBlock uint64    `json:"last_block" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for ChainCursor
func (ChainCursor) TableName() string {
	return "chain_cursor"
}
