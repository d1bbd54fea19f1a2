package common

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// AgentId is an opaque unique identifier for an agent, immutable once
// assigned at registration.
type AgentId string

func NewAgentId() AgentId {
	return AgentId(uuid.New().String())
}

// APIKey is the credential derived for an agent at registration time.
type APIKey string

func NewAPIKey() APIKey {
	return APIKey(uuid.New().String())
}

// OrderId is monotone within a process: the matching engine draws every
// market's order ids from one sequence, so an id is never reused across
// markets.
type OrderId uint64

// TradeId is monotone within a process, per market engine.
type TradeId uint64

// RequestId, QuoteId and PositionId are negotiation-ledger and position
// identifiers; they cross agent boundaries so they use uuids rather than a
// single engine-local counter.
type RequestId string
type QuoteId string
type PositionId string

func NewRequestId() RequestId   { return RequestId(uuid.New().String()) }
func NewQuoteId() QuoteId       { return QuoteId(uuid.New().String()) }
func NewPositionId() PositionId { return PositionId(uuid.New().String()) }

// IdSequence hands out monotone ids. Each OrderBook keeps its own for trade
// ids (and for NextOrderID), while the matching engine keeps a single one
// for the order ids of all markets.
type IdSequence struct {
	counter uint64
}

func (s *IdSequence) Next() uint64 {
	return atomic.AddUint64(&s.counter, 1)
}
