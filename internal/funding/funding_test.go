package funding

import (
	"context"
	"testing"
	"time"

	"fenrir-perp/internal/common"
	"fenrir-perp/internal/eventbus"
	"fenrir-perp/internal/risk"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct{ refs []PositionRef }

func (f fakeTracker) OpenPositions() []PositionRef { return f.refs }

type fakeRecorder struct{ saved []Payment }

func (f *fakeRecorder) SaveFundingPayment(ctx context.Context, p Payment) error {
	f.saved = append(f.saved, p)
	return nil
}

func TestNextBoundary_AlignsToEightHourUTCMarks(t *testing.T) {
	now := time.Date(2026, 1, 1, 3, 15, 0, 0, time.UTC)
	next := nextBoundary(now, 8)
	assert.Equal(t, time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC), next)

	now2 := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 1, 16, 0, 0, 0, time.UTC), nextBoundary(now2, 8))
}

// S7 (sign convention): positive funding rate transfers from the long side
// to the short side; applying it symmetrically to both sides of a matched
// book nets to zero across the pair.
func TestSettle_LongPaysShortReceivesAndNetsToZero(t *testing.T) {
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	riskEngine := risk.NewEngine(common.NewRegistry())
	riskEngine.ApplyCrossFill(
		risk.Fill{Agent: "short-1", Market: "BTC-PERP", SizeDelta: decimal.NewFromInt(-10), Price: decimal.NewFromInt(100), Leverage: decimal.NewFromInt(10)},
		risk.Fill{Agent: "long-1", Market: "BTC-PERP", SizeDelta: decimal.NewFromInt(10), Price: decimal.NewFromInt(100), Leverage: decimal.NewFromInt(10)},
		decimal.NewFromFloat(0.05), now,
	)

	rates := NewStaticRates(map[string]common.Price{"BTC-PERP": decimal.NewFromFloat(0.01)})
	recorder := &fakeRecorder{}
	bus := eventbus.NewBus(16, nil)
	tracker := fakeTracker{refs: []PositionRef{{Agent: "long-1", Market: "BTC-PERP"}, {Agent: "short-1", Market: "BTC-PERP"}}}

	sched := NewScheduler(Config{IntervalHours: 8}, tracker, riskEngine, rates, recorder, bus, common.NewManualClock(now))
	settled := sched.Settle(context.Background())
	require.Equal(t, 2, settled)
	require.Len(t, recorder.saved, 2)

	longPayment := findPayment(recorder.saved, "long-1")
	shortPayment := findPayment(recorder.saved, "short-1")
	require.NotNil(t, longPayment)
	require.NotNil(t, shortPayment)

	assert.True(t, longPayment.Amount.IsNegative(), "long side pays when rate is positive")
	assert.True(t, shortPayment.Amount.IsPositive(), "short side receives when rate is positive")
	assert.True(t, longPayment.Amount.Add(shortPayment.Amount).IsZero(), "payments must net to zero across the matched pair")
}

func TestSettle_DryRunRecordsNothingAndDoesNotMutateMargin(t *testing.T) {
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	riskEngine := risk.NewEngine(common.NewRegistry())
	riskEngine.ApplyCrossFill(
		risk.Fill{Agent: "mm", Market: "BTC-PERP", SizeDelta: decimal.NewFromInt(-10), Price: decimal.NewFromInt(100), Leverage: decimal.NewFromInt(10)},
		risk.Fill{Agent: "trader-1", Market: "BTC-PERP", SizeDelta: decimal.NewFromInt(10), Price: decimal.NewFromInt(100), Leverage: decimal.NewFromInt(10)},
		decimal.NewFromFloat(0.05), now,
	)
	marginBefore := riskEngine.Position("trader-1", "BTC-PERP").Margin

	rates := NewStaticRates(map[string]common.Price{"BTC-PERP": decimal.NewFromFloat(0.01)})
	recorder := &fakeRecorder{}
	tracker := fakeTracker{refs: []PositionRef{{Agent: "trader-1", Market: "BTC-PERP"}}}
	sched := NewScheduler(Config{IntervalHours: 8, DryRun: true}, tracker, riskEngine, rates, recorder, nil, common.NewManualClock(now))

	settled := sched.Settle(context.Background())
	assert.Equal(t, 1, settled)
	assert.Empty(t, recorder.saved)
	assert.True(t, riskEngine.Position("trader-1", "BTC-PERP").Margin.Equal(marginBefore))
}

func TestSettle_SkipsMarketWithNoKnownRate(t *testing.T) {
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	riskEngine := risk.NewEngine(common.NewRegistry())
	riskEngine.ApplyCrossFill(
		risk.Fill{Agent: "mm", Market: "DOGE-PERP", SizeDelta: decimal.NewFromInt(-10), Price: decimal.NewFromInt(1), Leverage: decimal.NewFromInt(10)},
		risk.Fill{Agent: "trader-1", Market: "DOGE-PERP", SizeDelta: decimal.NewFromInt(10), Price: decimal.NewFromInt(1), Leverage: decimal.NewFromInt(10)},
		decimal.NewFromFloat(0.05), now,
	)

	rates := NewStaticRates(nil)
	tracker := fakeTracker{refs: []PositionRef{{Agent: "trader-1", Market: "DOGE-PERP"}}}
	sched := NewScheduler(Config{IntervalHours: 8}, tracker, riskEngine, rates, nil, nil, common.NewManualClock(now))

	settled := sched.Settle(context.Background())
	assert.Equal(t, 0, settled)
}

func findPayment(payments []Payment, agent common.AgentId) *Payment {
	for i := range payments {
		if payments[i].Agent == agent {
			return &payments[i]
		}
	}
	return nil
}
