// Package risk implements the position & margin engine: pure fill
// accounting, liquidation and health math, and the per-agent risk checks
// that gate new order intents.
package risk

import (
	"time"

	"fenrir-perp/internal/common"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Position is the per (agent, market) derived state. Lazily created on first
// fill, zeroed (not deleted) on full close, fully replaced on a sign flip.
type Position struct {
	AgentID         common.AgentId
	Market          string
	Size            common.Quantity // signed; positive = long
	EntryPrice      common.Price
	Margin          common.Price
	LiquidationPx   common.Price
	RealizedPnL     common.Price
	LastFundingAt   time.Time
	UpdatedAt       time.Time
}

func NewPosition(agent common.AgentId, market string) Position {
	return Position{
		AgentID:    agent,
		Market:     market,
		Size:       common.Zero,
		EntryPrice: common.Zero,
		Margin:     common.Zero,
		RealizedPnL: common.Zero,
	}
}

func (p Position) IsFlat() bool { return p.Size.IsZero() }

func (p Position) Leverage() common.Price {
	if p.Margin.IsZero() {
		return common.Zero
	}
	notional := p.Size.Abs().Mul(p.EntryPrice)
	return notional.Div(p.Margin)
}

// ApplyFill is the deterministic, I/O-free core of the margin engine: a
// signed size delta at fillPrice moves the position from old to new size,
// realising PnL on any portion that closes and re-averaging entry on any
// portion that opens. leverage is the leverage the fill was requested at,
// used to size the margin charged for any newly-opened portion.
func ApplyFill(p Position, sizeDelta common.Quantity, fillPrice common.Price, leverage common.Price, maintenanceRate common.Price, now time.Time) Position {
	old := p.Size
	next := old.Add(sizeDelta)

	switch {
	case next.IsZero():
		// Full close: realise PnL on the entire old size, zero entry and margin.
		p.RealizedPnL = p.RealizedPnL.Add(old.Mul(fillPrice.Sub(p.EntryPrice)))
		p.Size = common.Zero
		p.EntryPrice = common.Zero
		p.Margin = common.Zero

	case old.IsZero() || sameSign(old, next):
		// Adding to (or opening) a position: blend entry price, raise margin.
		absOld := old.Abs()
		absDelta := sizeDelta.Abs()
		if old.IsZero() {
			p.EntryPrice = fillPrice
		} else {
			weighted := absOld.Mul(p.EntryPrice).Add(absDelta.Mul(fillPrice))
			p.EntryPrice = weighted.Div(absOld.Add(absDelta))
		}
		addedMargin := addedMarginFor(absDelta, fillPrice, leverage)
		p.Margin = p.Margin.Add(addedMargin)
		p.Size = next

	default:
		// Reducing or flipping: realise PnL on the closed portion at the old
		// entry price and sign.
		closedQty := minDecimal(old.Abs(), sizeDelta.Abs())
		sign := common.One
		if old.Sign() < 0 {
			sign = sign.Neg()
		}
		p.RealizedPnL = p.RealizedPnL.Add(closedQty.Mul(fillPrice.Sub(p.EntryPrice)).Mul(sign))

		if next.IsZero() {
			p.EntryPrice = common.Zero
			p.Margin = common.Zero
		} else if sameSign(old, next) {
			// Partial reduction: margin scales down with size, entry unchanged.
			ratio := next.Abs().Div(old.Abs())
			p.Margin = p.Margin.Mul(ratio)
		} else {
			// Sign flip: residual opens fresh at fillPrice.
			p.EntryPrice = fillPrice
			p.Margin = addedMarginFor(next.Abs(), fillPrice, leverage)
		}
		p.Size = next
	}

	p.UpdatedAt = now
	p.LiquidationPx = LiquidationPrice(p, maintenanceRate)
	return p
}

func addedMarginFor(qty, price, leverage common.Price) common.Price {
	if leverage.IsZero() {
		return common.Zero
	}
	return qty.Mul(price).Div(leverage)
}

func sameSign(a, b common.Quantity) bool {
	return a.Sign() == b.Sign()
}

func minDecimal(a, b common.Price) common.Price {
	if a.LessThan(b) {
		return a
	}
	return b
}

// LiquidationPrice returns entry × (1 − maintenanceRate/leverage) for a long
// and entry × (1 + maintenanceRate/leverage) for a short, 0 for a flat
// position (unused). The liquidation loop does not use this price; it
// compares Equity with the maintenance margin.
func LiquidationPrice(p Position, maintenanceRate common.Price) common.Price {
	if p.Size.IsZero() || p.Margin.IsZero() {
		return common.Zero
	}
	leverage := p.Leverage()
	if leverage.IsZero() {
		return common.Zero
	}
	adj := maintenanceRate.Div(leverage)
	if p.Size.Sign() > 0 {
		return p.EntryPrice.Mul(common.One.Sub(adj))
	}
	return p.EntryPrice.Mul(common.One.Add(adj))
}

// Equity is the mark-to-market value of the position: margin plus leveraged
// unrealised PnL. Mirrors the original's margin model, where the price
// move is scaled by leverage against the full notional rather than by a
// flat per-unit price delta (`unrealized_pnl = size_usdc * leverage *
// price_change_pct`, signed by side).
func Equity(p Position, markPrice common.Price) common.Price {
	if p.Size.IsZero() || p.EntryPrice.IsZero() {
		return p.Margin
	}
	notional := p.Size.Abs().Mul(p.EntryPrice)
	priceChange := markPrice.Sub(p.EntryPrice).Div(p.EntryPrice)
	pnl := notional.Mul(p.Leverage()).Mul(priceChange)
	if p.Size.Sign() < 0 {
		pnl = pnl.Neg()
	}
	return p.Margin.Add(pnl)
}

// MarginHealth normalises equity to 0..100 between the maintenance margin
// (0) and the initial margin (100), clamped at both ends.
func MarginHealth(p Position, markPrice, initialMarginRate, maintenanceRate common.Price) common.Price {
	if p.Size.IsZero() {
		return hundred
	}
	notional := p.Size.Abs().Mul(p.EntryPrice)
	initial := notional.Mul(initialMarginRate)
	maintenance := notional.Mul(maintenanceRate)
	if initial.Equal(maintenance) {
		return hundred
	}
	eq := Equity(p, markPrice)
	health := eq.Sub(maintenance).Div(initial.Sub(maintenance)).Mul(hundred)
	if health.LessThan(common.Zero) {
		return common.Zero
	}
	if health.GreaterThan(hundred) {
		return hundred
	}
	return health
}
