// Package order implements the price-time priority matching engine: one
// OrderBook per market, orders, and the trades they produce.
package order

import (
	"time"

	"fenrir-perp/internal/common"
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type Type int

const (
	Limit Type = iota
	Market
	Stop
	StopLimit
)

type TimeInForce int

const (
	GTC TimeInForce = iota
	IOC
	FOK
	PostOnly
)

type Status int

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Cancelled
	Rejected
	Expired
)

func (s Status) Terminal() bool {
	switch s {
	case Filled, Cancelled, Rejected, Expired:
		return true
	default:
		return false
	}
}

// Order mirrors the record described in spec.md §3. Only the owning book
// mutates an order once it has been placed.
type Order struct {
	ID            common.OrderId
	AgentID       common.AgentId
	Market        string
	Side          Side
	Type          Type
	Price         *common.Price // set iff Type == Limit or StopLimit
	StopPrice     *common.Price
	TotalQuantity common.Quantity
	Remaining     common.Quantity
	TimeInForce   TimeInForce
	Leverage      common.Price // leverage the agent chose for any position this order opens or adds to
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ClientID      string
	RejectReason  string
}

func (o *Order) IsActive() bool {
	return o.Status == Open || o.Status == PartiallyFilled
}

func (o *Order) IsFilled() bool {
	return o.Remaining.IsZero()
}

// fill decrements the remaining quantity by qty and transitions status.
// Callers must ensure qty <= o.Remaining; the book never calls this with a
// larger quantity since matches are always min(taker, maker) remaining.
func (o *Order) fill(qty common.Quantity, now time.Time) {
	o.Remaining = o.Remaining.Sub(qty)
	o.UpdatedAt = now
	if o.Remaining.IsZero() {
		o.Status = Filled
	} else {
		o.Status = PartiallyFilled
	}
}

func (o *Order) cancel(now time.Time) {
	o.Status = Cancelled
	o.UpdatedAt = now
}

func (o *Order) reject(reason string, now time.Time) {
	o.Status = Rejected
	o.RejectReason = reason
	o.UpdatedAt = now
}

// Trade is an immutable fill record, emitted atomically with the match that
// produced it and never rewritten.
type Trade struct {
	ID            common.TradeId
	Market        string
	Price         common.Price
	Quantity      common.Quantity
	MakerOrderID  common.OrderId
	TakerOrderID  common.OrderId
	MakerAgentID  common.AgentId
	TakerAgentID  common.AgentId
	MakerSide     Side
	MakerLeverage common.Price
	TakerLeverage common.Price
	Timestamp     time.Time
}
