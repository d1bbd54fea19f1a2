package risk

import (
	"testing"
	"time"

	"fenrir-perp/internal/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(f float64) common.Price { return decimal.NewFromFloat(f) }

// S4 — Long PnL: size=10 notional $1000 leverage=10 entry=100. Mark at 110:
// unrealised PnL = 1000 (10% price move x 10 leverage x notional), so equity
// is margin(100) + 1000 = 1100.
func TestApplyFillThenEquity_LongPnL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPosition("agent-1", "BTC-PERP")
	p = ApplyFill(p, dec(10), dec(100), dec(10), dec(0.05), now)

	require.True(t, p.Size.Equal(dec(10)))
	require.True(t, p.EntryPrice.Equal(dec(100)))
	require.True(t, p.Margin.Equal(dec(100))) // 10*100/10

	eq := Equity(p, dec(110))
	assert.True(t, eq.Equal(dec(1100)), "equity should be margin(100) + leveraged pnl 1000 = 1100")
}

// S5 — Liquidation threshold: maintenance ratio 0.5 of the $100 margin is
// $50; at mark=95 equity is 100 + 1000*10*(95-100)/100 = -400, which is
// below maintenance and must be flagged for liquidation.
func TestEquity_BelowMaintenanceTriggersLiquidation(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPosition("agent-1", "BTC-PERP")
	p = ApplyFill(p, dec(10), dec(100), dec(10), dec(0.5), now)

	eq := Equity(p, dec(95))
	maintenance := p.Margin.Mul(dec(0.5))
	assert.True(t, eq.Equal(dec(-400)))
	assert.True(t, eq.LessThan(maintenance))
}

func TestApplyFill_FullCloseRealizesPnLAndZeroesPosition(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPosition("agent-1", "BTC-PERP")
	p = ApplyFill(p, dec(1), dec(100), dec(10), dec(0.05), now)
	p = ApplyFill(p, dec(-1), dec(110), dec(10), dec(0.05), now)

	assert.True(t, p.Size.IsZero())
	assert.True(t, p.Margin.IsZero())
	assert.True(t, p.EntryPrice.IsZero())
	assert.True(t, p.RealizedPnL.Equal(dec(10)))
}

func TestApplyFill_SignFlipRealizesOldAndOpensResidual(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPosition("agent-1", "BTC-PERP")
	p = ApplyFill(p, dec(1), dec(100), dec(10), dec(0.05), now)
	p = ApplyFill(p, dec(-2), dec(110), dec(10), dec(0.05), now)

	assert.True(t, p.Size.Equal(dec(-1)))
	assert.True(t, p.EntryPrice.Equal(dec(110)))
	assert.True(t, p.RealizedPnL.Equal(dec(10)))
}

func TestApplyFill_AddingSameSideBlendsEntryPrice(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPosition("agent-1", "BTC-PERP")
	p = ApplyFill(p, dec(1), dec(100), dec(10), dec(0.05), now)
	p = ApplyFill(p, dec(1), dec(120), dec(10), dec(0.05), now)

	assert.True(t, p.Size.Equal(dec(2)))
	assert.True(t, p.EntryPrice.Equal(dec(110)))
}

func TestLiquidationPrice_LongAndShort(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	long := ApplyFill(NewPosition("a", "m"), dec(10), dec(100), dec(10), dec(0.5), now)
	assert.True(t, long.LiquidationPx.Equal(dec(95)), "entry*(1-0.5/10) = 95")

	short := ApplyFill(NewPosition("a", "m"), dec(-10), dec(100), dec(10), dec(0.5), now)
	assert.True(t, short.LiquidationPx.Equal(dec(105)), "entry*(1+0.5/10) = 105")
}

func TestMarginHealth_ClampedBetweenZeroAndHundred(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := ApplyFill(NewPosition("a", "m"), dec(10), dec(100), dec(10), dec(0.05), now)

	healthAtEntry := MarginHealth(p, dec(100), dec(0.1), dec(0.05))
	assert.True(t, healthAtEntry.Equal(dec(100)))

	healthDeep := MarginHealth(p, dec(50), dec(0.1), dec(0.05))
	assert.True(t, healthDeep.Equal(common.Zero))
}

func TestPreTradeCheck_RejectsOverLeverage(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	account := NewAccount("agent-1")
	account.Collateral = dec(1000)

	intent := TradeIntent{
		Market:            "BTC-PERP",
		Leverage:          dec(20),
		ProjectedNotional: dec(5000),
		RequiredMargin:    dec(250),
	}
	err := PreTradeCheck(account, common.Zero, dec(10), intent, now)
	require.Error(t, err)
	assert.Equal(t, common.KindRiskReject, common.KindOf(err))
}

func TestPreTradeCheck_RejectsWhileBreakerActive(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	account := NewAccount("agent-1")
	account.Collateral = dec(1000)
	account.Breaker.Trip(now, time.Hour)

	intent := TradeIntent{Leverage: dec(2), ProjectedNotional: dec(100), RequiredMargin: dec(50)}
	err := PreTradeCheck(account, common.Zero, dec(10), intent, now)
	require.Error(t, err)
}

func TestCircuitBreaker_ClearsAfterCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var cb CircuitBreaker
	cb.Trip(now, time.Minute)

	assert.True(t, cb.Active(now.Add(30*time.Second)))
	assert.False(t, cb.Active(now.Add(2*time.Minute)))
}
