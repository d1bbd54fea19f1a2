package negotiation

import (
	"testing"
	"time"

	"fenrir-perp/internal/common"
	"fenrir-perp/internal/eventbus"
	"fenrir-perp/internal/order"
	"fenrir-perp/internal/risk"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPrices struct{ px common.Price }

func (s staticPrices) LastPrice(market string) (common.Price, bool) { return s.px, true }

func testRegistry() *common.Registry {
	return common.NewRegistry(common.Market{
		Symbol:                "BTC-PERP",
		TickSize:              decimal.NewFromFloat(0.5),
		MaxLeverage:           decimal.NewFromInt(20),
		InitialMarginRate:     decimal.NewFromFloat(0.05),
		MaintenanceMarginRate: decimal.NewFromFloat(0.025),
		Active:                true,
	})
}

func newTestLedger() (*Ledger, *risk.Engine) {
	clock := common.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	riskEngine := risk.NewEngine(testRegistry())
	bus := eventbus.NewBus(16, clock.Now)
	ledger := NewLedger(riskEngine, testRegistry(), staticPrices{px: decimal.NewFromInt(100)}, bus, clock)
	return ledger, riskEngine
}

func TestSubmitRequestThenQuoteThenAccept_ProducesOpposingPositions(t *testing.T) {
	ledger, riskEngine := newTestLedger()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	req := Request{
		ID:             common.NewRequestId(),
		AgentID:        "trader-1",
		Market:         "BTC-PERP",
		Side:           order.Buy,
		Size:           decimal.NewFromInt(1),
		LeverageCap:    decimal.NewFromInt(10),
		MaxFundingRate: decimal.NewFromFloat(0.01),
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Minute),
	}
	req, err := ledger.SubmitRequest(req)
	require.NoError(t, err)

	quote := Quote{
		ID:         common.NewQuoteId(),
		RequestID:  req.ID,
		MMAgentID:  "mm-1",
		Rate:       decimal.NewFromFloat(0.005),
		Collateral: decimal.NewFromInt(50),
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Minute),
	}
	quote, err = ledger.SubmitQuote(quote)
	require.NoError(t, err)

	match, err := ledger.Accept(req.ID, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, common.AgentId("trader-1"), match.TraderAgent)
	assert.Equal(t, common.AgentId("mm-1"), match.MMAgent)

	traderPos := riskEngine.Position("trader-1", "BTC-PERP")
	mmPos := riskEngine.Position("mm-1", "BTC-PERP")
	assert.True(t, traderPos.Size.Equal(decimal.NewFromInt(1)))
	assert.True(t, mmPos.Size.Equal(decimal.NewFromInt(-1)))

	_, stillThere := ledger.Request(req.ID)
	assert.False(t, stillThere, "accepted request must be removed")
}

func TestSubmitQuote_RejectsRateAboveCeiling(t *testing.T) {
	ledger, _ := newTestLedger()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	req, err := ledger.SubmitRequest(Request{
		ID:             common.NewRequestId(),
		AgentID:        "trader-1",
		Market:         "BTC-PERP",
		Side:           order.Buy,
		Size:           decimal.NewFromInt(1),
		LeverageCap:    decimal.NewFromInt(5),
		MaxFundingRate: decimal.NewFromFloat(0.01),
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Minute),
	})
	require.NoError(t, err)

	_, err = ledger.SubmitQuote(Quote{
		ID:        common.NewQuoteId(),
		RequestID: req.ID,
		MMAgentID: "mm-1",
		Rate:      decimal.NewFromFloat(0.02),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	})
	require.Error(t, err)
	assert.Equal(t, common.KindRiskReject, common.KindOf(err))
}

func TestAccept_FailsOnExpiredRequest(t *testing.T) {
	ledger, _ := newTestLedger()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	req, err := ledger.SubmitRequest(Request{
		ID:             common.NewRequestId(),
		AgentID:        "trader-1",
		Market:         "BTC-PERP",
		Side:           order.Buy,
		Size:           decimal.NewFromInt(1),
		LeverageCap:    decimal.NewFromInt(5),
		MaxFundingRate: decimal.NewFromFloat(0.01),
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Millisecond),
	})
	require.NoError(t, err)

	quote, err := ledger.SubmitQuote(Quote{
		ID:        common.NewQuoteId(),
		RequestID: req.ID,
		MMAgentID: "mm-1",
		Rate:      decimal.NewFromFloat(0.005),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	})
	require.NoError(t, err)

	clock := ledger.clock.(*common.ManualClock)
	clock.Advance(time.Second)

	_, err = ledger.Accept(req.ID, quote.ID)
	require.Error(t, err)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
}

func TestAccept_OnlySucceedsOnce(t *testing.T) {
	ledger, _ := newTestLedger()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	req, err := ledger.SubmitRequest(Request{
		ID: common.NewRequestId(), AgentID: "trader-1", Market: "BTC-PERP", Side: order.Buy,
		Size: decimal.NewFromInt(1), LeverageCap: decimal.NewFromInt(5), MaxFundingRate: decimal.NewFromFloat(0.01),
		CreatedAt: now, ExpiresAt: now.Add(time.Minute),
	})
	require.NoError(t, err)
	quote, err := ledger.SubmitQuote(Quote{
		ID: common.NewQuoteId(), RequestID: req.ID, MMAgentID: "mm-1",
		Rate: decimal.NewFromFloat(0.005), CreatedAt: now, ExpiresAt: now.Add(time.Minute),
	})
	require.NoError(t, err)

	_, err = ledger.Accept(req.ID, quote.ID)
	require.NoError(t, err)

	_, err = ledger.Accept(req.ID, quote.ID)
	require.Error(t, err, "a second Accept on the same request must fail")
}

func TestSweep_RemovesExpiredRequests(t *testing.T) {
	ledger, _ := newTestLedger()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := ledger.SubmitRequest(Request{
		ID: common.NewRequestId(), AgentID: "trader-1", Market: "BTC-PERP", Side: order.Buy,
		Size: decimal.NewFromInt(1), LeverageCap: decimal.NewFromInt(5), MaxFundingRate: decimal.NewFromFloat(0.01),
		CreatedAt: now, ExpiresAt: now.Add(time.Millisecond),
	})
	require.NoError(t, err)

	removed := ledger.Sweep(now.Add(time.Second))
	assert.Equal(t, 1, removed)
	assert.Empty(t, ledger.ActiveRequests())
}
