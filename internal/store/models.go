// Package store is the durable record of agents, positions, trades, and
// funding payments: append-oriented, idempotent under replay, queryable for
// history and aggregate stats.
package store

import "time"

type AgentRecord struct {
	ID         string `gorm:"primaryKey"`
	APIKeyHash string `gorm:"uniqueIndex"`
	Collateral string // decimal, stored as a string to avoid float round-trip loss
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PositionRecord mirrors a risk.Position plus the bookkeeping columns the
// store needs to answer history and stats queries: closed positions keep
// their row rather than being deleted.
type PositionRecord struct {
	ID          string `gorm:"primaryKey"`
	AgentID     string `gorm:"index"`
	Market      string `gorm:"index"`
	Size        string
	EntryPrice  string
	Margin      string
	RealizedPnL string
	Status      string `gorm:"index"` // "open" | "closed" | "liquidated"
	ClosePnL    string
	OpenedAt    time.Time
	ClosedAt    *time.Time
	UpdatedAt   time.Time
}

// ID is monotone per market's own trade sequence, not globally: Market joins
// ID to form the actual primary key so two markets' trade 1 never collide.
type TradeRecord struct {
	ID           uint64 `gorm:"primaryKey"`
	Market       string `gorm:"primaryKey"`
	Price        string
	Quantity     string
	MakerOrderID uint64
	TakerOrderID uint64
	MakerAgentID string `gorm:"index"`
	TakerAgentID string `gorm:"index"`
	Timestamp    time.Time
}

type FundingPaymentRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	AgentID   string `gorm:"index"`
	Market    string `gorm:"index"`
	Rate      string
	Notional  string
	Amount    string
	SettledAt time.Time
}

func (AgentRecord) TableName() string          { return "agents" }
func (PositionRecord) TableName() string       { return "positions" }
func (TradeRecord) TableName() string          { return "trades" }
func (FundingPaymentRecord) TableName() string { return "funding_payments" }
