// Package negotiation implements the P2P request/quote/accept lifecycle for
// positions that bypass the central order book: an agent broadcasts a
// Request, market makers answer with Quotes, and Accept atomically turns one
// Quote into a Position via the risk engine.
package negotiation

import (
	"time"

	"fenrir-perp/internal/common"
	"fenrir-perp/internal/order"
	"fenrir-perp/internal/risk"
)

type Request struct {
	ID             common.RequestId
	AgentID        common.AgentId
	Market         string
	Side           order.Side
	Size           common.Quantity
	LeverageCap    common.Price
	MaxFundingRate common.Price
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

func (r Request) Expired(now time.Time) bool { return !now.Before(r.ExpiresAt) }

type Quote struct {
	ID         common.QuoteId
	RequestID  common.RequestId
	MMAgentID  common.AgentId
	Rate       common.Price
	Collateral common.Price
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

func (q Quote) Expired(now time.Time) bool { return !now.Before(q.ExpiresAt) }

// AcceptedMatch records the outcome of a successful Accept: which Request
// and Quote were consumed and the Position they produced.
type AcceptedMatch struct {
	RequestID   common.RequestId
	QuoteID     common.QuoteId
	PositionID  common.PositionId
	Market      string
	TraderAgent common.AgentId
	MMAgent     common.AgentId
	Size        common.Quantity
	EntryPrice  common.Price
	AcceptedAt  time.Time
}
