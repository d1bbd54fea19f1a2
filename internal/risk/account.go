package risk

import (
	"time"

	"fenrir-perp/internal/common"
	"github.com/shopspring/decimal"
)

// RiskLimits are the per-agent overrides on top of the market's own caps.
// Defaults mirror the conservative bounds a newly registered agent gets
// before an operator raises them.
type RiskLimits struct {
	MaxPositionUSD  common.Price
	MaxLeverage     common.Price
	DailyLossLimit  common.Price
	MaxOpenOrders   int
}

func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositionUSD: decimal.NewFromInt(100_000),
		MaxLeverage:    decimal.NewFromInt(10),
		DailyLossLimit: decimal.NewFromInt(10_000),
		MaxOpenOrders:  100,
	}
}

// CircuitBreaker is a latched per-agent kill switch: once triggered, every
// new-order intent fails fast until it is reset or the cooldown expires.
type CircuitBreaker struct {
	Triggered     bool
	TriggeredAt   time.Time
	CooldownUntil time.Time
}

func (cb *CircuitBreaker) Trip(now time.Time, cooldown time.Duration) {
	cb.Triggered = true
	cb.TriggeredAt = now
	cb.CooldownUntil = now.Add(cooldown)
}

func (cb *CircuitBreaker) Reset() {
	*cb = CircuitBreaker{}
}

// Active reports whether the breaker still blocks order intents at now,
// clearing itself on cooldown expiry rather than requiring an explicit reset.
func (cb *CircuitBreaker) Active(now time.Time) bool {
	if !cb.Triggered {
		return false
	}
	if !cb.CooldownUntil.IsZero() && now.After(cb.CooldownUntil) {
		cb.Reset()
		return false
	}
	return true
}

// Account is the agent-level collateral ledger: balance, PnL accumulators,
// trade counters, and risk overrides. Invariant: collateral >= sum of
// position margins, enforced by the engine rather than this struct itself.
type Account struct {
	AgentID          common.AgentId
	Collateral       common.Price
	UnrealizedPnL    common.Price
	RealizedPnL      common.Price
	OpenOrderCount   int
	TotalTrades      int
	WinningTrades    int
	DailyRealizedLoss common.Price
	DailyLossResetAt time.Time
	Limits           RiskLimits
	Breaker          CircuitBreaker
}

func NewAccount(agent common.AgentId) Account {
	return Account{
		AgentID:    agent,
		Collateral: common.Zero,
		Limits:     DefaultRiskLimits(),
	}
}

func (a Account) AvailableCollateral(lockedMargin common.Price) common.Price {
	return a.Collateral.Sub(lockedMargin)
}

func (a Account) WinRate() common.Price {
	if a.TotalTrades == 0 {
		return common.Zero
	}
	return decimal.NewFromInt(int64(a.WinningTrades)).Div(decimal.NewFromInt(int64(a.TotalTrades)))
}

// TradeIntent is the proposed change PreTradeCheck evaluates before an order
// is admitted to the book.
type TradeIntent struct {
	Market          string
	Leverage        common.Price
	ProjectedNotional common.Price
	RequiredMargin  common.Price
}

// PreTradeCheck evaluates the risk-limit gate from spec §4.D, returning a
// RiskReject error naming the specific limit that failed.
func PreTradeCheck(account Account, lockedMargin common.Price, marketMaxLeverage common.Price, intent TradeIntent, now time.Time) error {
	if account.Breaker.Active(now) {
		return common.NewError(common.KindRiskReject, "circuit breaker active")
	}
	effectiveMaxLeverage := marketMaxLeverage
	if account.Limits.MaxLeverage.LessThan(effectiveMaxLeverage) {
		effectiveMaxLeverage = account.Limits.MaxLeverage
	}
	if intent.Leverage.GreaterThan(effectiveMaxLeverage) {
		return common.NewError(common.KindRiskReject, "leverage exceeds limit")
	}
	if intent.ProjectedNotional.GreaterThan(account.Limits.MaxPositionUSD) {
		return common.NewError(common.KindRiskReject, "projected notional exceeds max position size")
	}
	if account.OpenOrderCount >= account.Limits.MaxOpenOrders {
		return common.NewError(common.KindRiskReject, "open order count at limit")
	}
	if account.DailyRealizedLoss.GreaterThanOrEqual(account.Limits.DailyLossLimit) {
		return common.NewError(common.KindRiskReject, "daily realized loss limit reached")
	}
	if intent.RequiredMargin.GreaterThan(account.AvailableCollateral(lockedMargin)) {
		return common.NewError(common.KindRiskReject, "insufficient available collateral")
	}
	return nil
}

