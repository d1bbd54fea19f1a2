// Package price is the external Price Source collaborator: GetPrice returns
// the freshest known mark price for a market plus when it was published, or
// reports the value as stale so callers (liquidation, funding) can refuse to
// act on it.
package price

import (
	"context"
	"sync"
	"time"

	"fenrir-perp/internal/common"
)

// Quote is a normalised (fixed-precision) price observation.
type Quote struct {
	Price       common.Price
	PublishedAt time.Time
}

// Source is implemented by anything that can answer "what's the price of
// this market right now". Stale is a distinct outcome from "not found": a
// market this source has never heard of is a configuration error, while a
// stale quote is an expected, handled condition.
type Source interface {
	GetPrice(ctx context.Context, market string) (Quote, error)
}

var ErrStale = common.NewError(common.KindUpstream, "price quote is stale")
var ErrUnknownMarket = common.NewError(common.KindNotFound, "no price known for market")

// StaticSource is a fixed-table source for tests and local development: set
// prices directly, no network calls. It also backs negotiation.PriceSource
// (through Adapter's LastPrice) and the liquidation loop's GetPrice reads.
type StaticSource struct {
	mu        sync.RWMutex
	quotes    map[string]Quote
	freshness time.Duration
	clock     common.Clock
}

func NewStaticSource(freshness time.Duration, clock common.Clock) *StaticSource {
	if clock == nil {
		clock = common.RealClock{}
	}
	return &StaticSource{quotes: make(map[string]Quote), freshness: freshness, clock: clock}
}

func (s *StaticSource) Set(market string, p common.Price, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[market] = Quote{Price: p, PublishedAt: at}
}

func (s *StaticSource) GetPrice(ctx context.Context, market string) (Quote, error) {
	s.mu.RLock()
	q, ok := s.quotes[market]
	s.mu.RUnlock()
	if !ok {
		return Quote{}, ErrUnknownMarket
	}
	if s.freshness > 0 && s.clock.Now().Sub(q.PublishedAt) > s.freshness {
		return Quote{}, ErrStale
	}
	return q, nil
}

// LastPrice adapts Source to a narrower read, treating a stale or missing
// quote as "no price available" rather than propagating the distinction.
func LastPrice(ctx context.Context, s Source, market string) (common.Price, bool) {
	q, err := s.GetPrice(ctx, market)
	if err != nil {
		return common.Zero, false
	}
	return q.Price, true
}

// Adapter satisfies any narrower "LastPrice(market) (Price, bool)" consumer
// interface (e.g. the negotiation ledger's PriceSource) against a context
// fixed at construction, since background context is always correct for a
// best-effort, non-blocking mark-price lookup.
type Adapter struct {
	Source Source
	Ctx    context.Context
}

func (a Adapter) LastPrice(market string) (common.Price, bool) {
	ctx := a.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return LastPrice(ctx, a.Source, market)
}
