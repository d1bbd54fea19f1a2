package incentives

import (
	"context"
	"testing"
	"time"

	"fenrir-perp/internal/common"
	"fenrir-perp/internal/eventbus"
	"fenrir-perp/internal/negotiation"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"
)

func TestTracker_AccumulatesQuotesAndFillsIntoLeaderboard(t *testing.T) {
	bus := eventbus.NewBus(16, func() time.Time { return time.Now() })
	tracker := NewTracker(bus)

	tb, _ := tomb.WithContext(context.Background())
	tb.Go(func() error { return tracker.Run(tb) })

	bus.Publish(eventbus.Event{
		Type: eventbus.QuoteReceived,
		Data: negotiation.Quote{ID: common.NewQuoteId(), RequestID: common.NewRequestId(), MMAgentID: "mm-1", Rate: decimal.NewFromFloat(0.01)},
	})
	bus.Publish(eventbus.Event{
		Type: eventbus.QuoteAccepted,
		Data: negotiation.AcceptedMatch{MMAgent: "mm-1", Size: decimal.NewFromInt(2), EntryPrice: decimal.NewFromInt(1000)},
	})

	require.Eventually(t, func() bool {
		board := tracker.Leaderboard()
		return len(board) == 1 && board[0].TotalQuotes == 1 && board[0].FilledQuotes == 1
	}, time.Second, 5*time.Millisecond)

	board := tracker.Leaderboard()
	assert.True(t, board[0].TotalVolume.Equal(decimal.NewFromInt(2000)))

	tb.Kill(nil)
	_ = tb.Wait()
}
