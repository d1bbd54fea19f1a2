package store

import (
	"context"
	"time"

	"fenrir-perp/internal/common"
	"fenrir-perp/internal/funding"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

func decimalFromFloat(f float64) common.Price { return decimal.NewFromFloat(f) }

func onConflictDoNothing() clause.OnConflict {
	return clause.OnConflict{DoNothing: true}
}

// AgentStats is the aggregate view returned by GetAgentStats: spec.md §4.H's
// "totals, win rate".
type AgentStats struct {
	TotalTrades   int64
	Wins          int64
	Losses        int64
	WinRate       float64
	TotalPnL      string
	AvgPnL        string
	TotalVolume   string
}

// Store is the durable-record boundary every background loop and HTTP
// handler writes through. All writes are idempotent under replay of the
// same logical id, per spec.md §4.H.
type Store interface {
	UpsertAgent(ctx context.Context, agent AgentRecord) error
	GetAgent(ctx context.Context, id string) (AgentRecord, error)
	GetAgentByAPIKeyHash(ctx context.Context, hash string) (AgentRecord, error)

	UpsertPosition(ctx context.Context, pos PositionRecord) error
	ClosePosition(ctx context.Context, positionID string, closePnL common.Price, closedAt time.Time) error
	ClosedPositions(ctx context.Context, agentID string, page, pageSize int) ([]PositionRecord, int64, error)

	AppendTrade(ctx context.Context, trade TradeRecord) error

	SaveFundingPayment(ctx context.Context, p funding.Payment) error
	FundingPayments(ctx context.Context, agentID string, limit int) ([]FundingPaymentRecord, error)

	GetAgentStats(ctx context.Context, agentID string) (AgentStats, error)
}

// GormStore is the sqlite-backed implementation; swapping the dialector for
// another gorm driver is the only change needed to move backends.
type GormStore struct {
	db *gorm.DB
}

func Open(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, common.WrapError(common.KindUpstream, "failed to open store", err)
	}
	if err := db.AutoMigrate(&AgentRecord{}, &PositionRecord{}, &TradeRecord{}, &FundingPaymentRecord{}); err != nil {
		return nil, common.WrapError(common.KindFatal, "failed to migrate store schema", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) UpsertAgent(ctx context.Context, agent AgentRecord) error {
	err := s.db.WithContext(ctx).Save(&agent).Error
	if err != nil {
		return common.WrapError(common.KindUpstream, "upsert agent failed", err)
	}
	return nil
}

func (s *GormStore) GetAgent(ctx context.Context, id string) (AgentRecord, error) {
	var rec AgentRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		return AgentRecord{}, common.WrapError(common.KindNotFound, "agent not found", err)
	}
	return rec, nil
}

func (s *GormStore) GetAgentByAPIKeyHash(ctx context.Context, hash string) (AgentRecord, error) {
	var rec AgentRecord
	err := s.db.WithContext(ctx).First(&rec, "api_key_hash = ?", hash).Error
	if err != nil {
		return AgentRecord{}, common.WrapError(common.KindNotFound, "agent not found", err)
	}
	return rec, nil
}

// UpsertPosition saves the full current state of a position, keyed by id,
// overwriting any prior row with the same id (idempotent under replay).
func (s *GormStore) UpsertPosition(ctx context.Context, pos PositionRecord) error {
	err := s.db.WithContext(ctx).Save(&pos).Error
	if err != nil {
		return common.WrapError(common.KindUpstream, "upsert position failed", err)
	}
	return nil
}

// ClosePosition marks a position closed idempotently: re-applying a close to
// an already-closed position is a no-op, never double-crediting.
func (s *GormStore) ClosePosition(ctx context.Context, positionID string, closePnL common.Price, closedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&PositionRecord{}).
		Where("id = ? AND status = ?", positionID, "open").
		Updates(map[string]interface{}{
			"status":    "closed",
			"close_pnl": closePnL.String(),
			"closed_at": closedAt,
			"updated_at": closedAt,
		})
	if result.Error != nil {
		return common.WrapError(common.KindUpstream, "close position failed", result.Error)
	}
	return nil
}

func (s *GormStore) ClosedPositions(ctx context.Context, agentID string, page, pageSize int) ([]PositionRecord, int64, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	if page < 0 {
		page = 0
	}
	var total int64
	q := s.db.WithContext(ctx).Model(&PositionRecord{}).Where("agent_id = ? AND status = ?", agentID, "closed")
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, common.WrapError(common.KindUpstream, "count closed positions failed", err)
	}

	var recs []PositionRecord
	err := q.Order("closed_at desc").Offset(page * pageSize).Limit(pageSize).Find(&recs).Error
	if err != nil {
		return nil, 0, common.WrapError(common.KindUpstream, "query closed positions failed", err)
	}
	return recs, total, nil
}

// AppendTrade inserts a trade row, ignoring a duplicate primary key so
// replaying the same trade id twice is a no-op rather than an error.
func (s *GormStore) AppendTrade(ctx context.Context, trade TradeRecord) error {
	err := s.db.WithContext(ctx).Clauses(onConflictDoNothing()).Create(&trade).Error
	if err != nil {
		return common.WrapError(common.KindUpstream, "append trade failed", err)
	}
	return nil
}

func (s *GormStore) SaveFundingPayment(ctx context.Context, p funding.Payment) error {
	rec := FundingPaymentRecord{
		AgentID:   string(p.Agent),
		Market:    p.Market,
		Rate:      p.Rate.String(),
		Notional:  p.Notional.String(),
		Amount:    p.Amount.String(),
		SettledAt: p.SettledAt,
	}
	err := s.db.WithContext(ctx).Create(&rec).Error
	if err != nil {
		return common.WrapError(common.KindUpstream, "save funding payment failed", err)
	}
	return nil
}

func (s *GormStore) FundingPayments(ctx context.Context, agentID string, limit int) ([]FundingPaymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []FundingPaymentRecord
	err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("settled_at desc").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, common.WrapError(common.KindUpstream, "query funding payments failed", err)
	}
	return recs, nil
}

// GetAgentStats aggregates closed-position rows into the win-rate view the
// HTTP /agents/{id}/stats endpoint serves.
func (s *GormStore) GetAgentStats(ctx context.Context, agentID string) (AgentStats, error) {
	var row struct {
		TotalTrades int64
		Wins        int64
		Losses      int64
		TotalPnL    float64
		TotalVolume float64
	}
	err := s.db.WithContext(ctx).
		Model(&PositionRecord{}).
		Select(`
			COUNT(*) as total_trades,
			SUM(CASE WHEN CAST(close_pnl as REAL) > 0 THEN 1 ELSE 0 END) as wins,
			SUM(CASE WHEN CAST(close_pnl as REAL) <= 0 THEN 1 ELSE 0 END) as losses,
			COALESCE(SUM(CAST(close_pnl as REAL)), 0) as total_pnl,
			COALESCE(SUM(ABS(CAST(size as REAL)) * CAST(entry_price as REAL)), 0) as total_volume
		`).
		Where("agent_id = ? AND status = ?", agentID, "closed").
		Scan(&row).Error
	if err != nil {
		return AgentStats{}, common.WrapError(common.KindUpstream, "aggregate agent stats failed", err)
	}

	stats := AgentStats{
		TotalTrades: row.TotalTrades,
		Wins:        row.Wins,
		Losses:      row.Losses,
		TotalPnL:    common.RoundPrice(decimalFromFloat(row.TotalPnL)).String(),
		TotalVolume: common.RoundPrice(decimalFromFloat(row.TotalVolume)).String(),
	}
	if row.TotalTrades > 0 {
		stats.WinRate = float64(row.Wins) / float64(row.TotalTrades)
		stats.AvgPnL = common.RoundPrice(decimalFromFloat(row.TotalPnL / float64(row.TotalTrades))).String()
	}
	return stats, nil
}
