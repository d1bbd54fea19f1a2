package store

import (
	"context"
	"testing"
	"time"

	"fenrir-perp/internal/common"
	"fenrir-perp/internal/funding"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)
	return s
}

func TestUpsertAgent_IsIdempotentUnderReplay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	agent := AgentRecord{ID: "agent-1", APIKeyHash: "hash-1", Collateral: "1000", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.UpsertAgent(ctx, agent))

	agent.Collateral = "1500"
	agent.UpdatedAt = now.Add(time.Hour)
	require.NoError(t, s.UpsertAgent(ctx, agent))

	got, err := s.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "1500", got.Collateral)
}

func TestGetAgent_UnknownIDIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAgent(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
}

func TestClosePosition_MarksClosedAndIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	pos := PositionRecord{
		ID: "pos-1", AgentID: "agent-1", Market: "BTC-PERP",
		Size: "1.5", EntryPrice: "50000", Margin: "5000", RealizedPnL: "0",
		Status: "open", OpenedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.UpsertPosition(ctx, pos))

	closedAt := now.Add(time.Hour)
	require.NoError(t, s.ClosePosition(ctx, "pos-1", decimal.NewFromInt(250), closedAt))

	recs, total, err := s.ClosedPositions(ctx, "agent-1", 0, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, recs, 1)
	assert.Equal(t, "closed", recs[0].Status)
	assert.Equal(t, "250", recs[0].ClosePnL)

	// Replaying the close must not double-apply or error.
	require.NoError(t, s.ClosePosition(ctx, "pos-1", decimal.NewFromInt(999), closedAt))
	recs2, total2, err := s.ClosedPositions(ctx, "agent-1", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total2)
	assert.Equal(t, "250", recs2[0].ClosePnL, "closed position must not be re-updated by a replayed close")
}

func TestClosedPositions_Pagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		id := "pos-" + string(rune('a'+i))
		pos := PositionRecord{
			ID: id, AgentID: "agent-2", Market: "BTC-PERP",
			Size: "1", EntryPrice: "100", Margin: "10", RealizedPnL: "0",
			Status: "open", OpenedAt: now, UpdatedAt: now,
		}
		require.NoError(t, s.UpsertPosition(ctx, pos))
		closedAt := now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.ClosePosition(ctx, id, decimal.NewFromInt(int64(i)), closedAt))
	}

	page1, total, err := s.ClosedPositions(ctx, "agent-2", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page1, 2)

	page2, _, err := s.ClosedPositions(ctx, "agent-2", 1, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 2)
	assert.NotEqual(t, page1[0].ID, page2[0].ID)
}

func TestAppendTrade_DuplicateIDIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	trade := TradeRecord{ID: 1, Market: "BTC-PERP", Price: "50000", Quantity: "1", MakerOrderID: 1, TakerOrderID: 2, MakerAgentID: "mm", TakerAgentID: "trader", Timestamp: now}
	require.NoError(t, s.AppendTrade(ctx, trade))
	require.NoError(t, s.AppendTrade(ctx, trade))

	var count int64
	require.NoError(t, s.db.Model(&TradeRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSaveFundingPayment_ThenFundingPaymentsReturnsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		p := funding.Payment{
			Agent: "agent-3", Market: "BTC-PERP",
			Rate: decimal.NewFromFloat(0.01), Notional: decimal.NewFromInt(1000),
			Amount: decimal.NewFromInt(int64(i)), SettledAt: base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, s.SaveFundingPayment(ctx, p))
	}

	recs, err := s.FundingPayments(ctx, "agent-3", 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "2", recs[0].Amount)
}

func TestGetAgentStats_AggregatesWinsAndPnL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	closes := []string{"100", "-50", "25"}
	for i, pnl := range closes {
		id := "stat-pos-" + string(rune('a'+i))
		pos := PositionRecord{
			ID: id, AgentID: "agent-4", Market: "BTC-PERP",
			Size: "1", EntryPrice: "100", Margin: "10", RealizedPnL: "0",
			Status: "open", OpenedAt: now, UpdatedAt: now,
		}
		require.NoError(t, s.UpsertPosition(ctx, pos))
		amount, err := decimal.NewFromString(pnl)
		require.NoError(t, err)
		require.NoError(t, s.ClosePosition(ctx, id, amount, now))
	}

	stats, err := s.GetAgentStats(ctx, "agent-4")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalTrades)
	assert.Equal(t, int64(2), stats.Wins)
	assert.Equal(t, int64(1), stats.Losses)
	assert.InDelta(t, 2.0/3.0, stats.WinRate, 0.001)
	assert.Equal(t, "75", stats.TotalPnL)
}

func TestGetAgentStats_NoClosedPositionsReturnsZeroWinRate(t *testing.T) {
	s := newTestStore(t)
	stats, err := s.GetAgentStats(context.Background(), "agent-with-nothing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalTrades)
	assert.Equal(t, 0.0, stats.WinRate)
}
