package negotiation

import (
	"sync"
	"time"

	"fenrir-perp/internal/common"
	"fenrir-perp/internal/eventbus"
	"fenrir-perp/internal/order"
	"fenrir-perp/internal/risk"
)

// PriceSource is the minimal read used to stamp a negotiated position's
// entry price; the full external price source lives in internal/price.
type PriceSource interface {
	LastPrice(market string) (common.Price, bool)
}

// Ledger holds every live Request and its Quotes. A Request maps to at most
// one eventual Accept; expired entries are swept both lazily (checked on
// every access) and by Sweep, which cmd/server runs on a periodic ticker.
type Ledger struct {
	mu       sync.Mutex
	requests map[common.RequestId]Request
	quotes   map[common.RequestId][]Quote

	risk    *risk.Engine
	markets *common.Registry
	prices  PriceSource
	bus     *eventbus.Bus
	clock   common.Clock
}

func NewLedger(riskEngine *risk.Engine, markets *common.Registry, prices PriceSource, bus *eventbus.Bus, clock common.Clock) *Ledger {
	if clock == nil {
		clock = common.RealClock{}
	}
	return &Ledger{
		requests: make(map[common.RequestId]Request),
		quotes:   make(map[common.RequestId][]Quote),
		risk:     riskEngine,
		markets:  markets,
		prices:   prices,
		bus:      bus,
		clock:    clock,
	}
}

// SubmitRequest runs risk.PreTradeCheck for req's agent, then registers req
// and broadcasts it to prospective market makers.
func (l *Ledger) SubmitRequest(req Request) (Request, error) {
	now := l.clock.Now()
	market, ok := l.markets.Get(req.Market)
	if !ok {
		return Request{}, common.NewError(common.KindValidation, "unknown market")
	}
	leverage := req.LeverageCap
	notional := req.Size.Mul(leverage)
	intent := risk.TradeIntent{
		Market:            req.Market,
		Leverage:          leverage,
		ProjectedNotional: notional,
	}
	if err := l.risk.PreTradeCheck(req.AgentID, market.MaxLeverage, intent, now); err != nil {
		return Request{}, err
	}

	l.mu.Lock()
	l.requests[req.ID] = req
	l.quotes[req.ID] = nil
	l.mu.Unlock()

	if l.bus != nil {
		l.bus.Publish(eventbus.Event{
			Type:   eventbus.RequestOpened,
			Market: req.Market,
			Stream: eventbus.StreamKey{Kind: "request", ID: string(req.ID)},
			Data:   req,
		})
	}
	return req, nil
}

// SubmitQuote admits quote against a live, unexpired request.
func (l *Ledger) SubmitQuote(quote Quote) (Quote, error) {
	now := l.clock.Now()

	l.mu.Lock()
	req, ok := l.requests[quote.RequestID]
	if ok && req.Expired(now) {
		delete(l.requests, quote.RequestID)
		delete(l.quotes, quote.RequestID)
		ok = false
	}
	if !ok {
		l.mu.Unlock()
		return Quote{}, common.NewError(common.KindNotFound, "trade request not found or expired")
	}
	if quote.Rate.GreaterThan(req.MaxFundingRate) {
		l.mu.Unlock()
		return Quote{}, common.NewError(common.KindRiskReject, "quoted rate exceeds request's ceiling")
	}
	l.quotes[quote.RequestID] = append(l.quotes[quote.RequestID], quote)
	l.mu.Unlock()

	if l.bus != nil {
		l.bus.Publish(eventbus.Event{
			Type:   eventbus.QuoteReceived,
			Market: req.Market,
			Stream: eventbus.StreamKey{Kind: "request", ID: string(quote.RequestID)},
			Data:   quote,
		})
	}
	return quote, nil
}

// Accept atomically consumes quote against request, applies the fill to
// both sides via the risk engine, and removes the request and all of its
// quotes. At most one Accept can ever succeed per request.
func (l *Ledger) Accept(requestID common.RequestId, quoteID common.QuoteId) (AcceptedMatch, error) {
	now := l.clock.Now()

	l.mu.Lock()
	req, ok := l.requests[requestID]
	if !ok || req.Expired(now) {
		l.mu.Unlock()
		return AcceptedMatch{}, common.NewError(common.KindNotFound, "trade request not found or expired")
	}
	var matched Quote
	found := false
	for _, q := range l.quotes[requestID] {
		if q.ID == quoteID {
			matched = q
			found = true
			break
		}
	}
	if !found || matched.Expired(now) {
		l.mu.Unlock()
		return AcceptedMatch{}, common.NewError(common.KindNotFound, "quote not found or expired")
	}
	market, ok := l.markets.Get(req.Market)
	if !ok {
		l.mu.Unlock()
		return AcceptedMatch{}, common.NewError(common.KindValidation, "unknown market")
	}
	delete(l.requests, requestID)
	delete(l.quotes, requestID)
	l.mu.Unlock()

	var entryPrice common.Price
	if l.prices != nil {
		if px, ok := l.prices.LastPrice(req.Market); ok {
			entryPrice = px
		}
	}

	traderDelta := req.Size
	if req.Side == order.Sell {
		traderDelta = traderDelta.Neg()
	}
	mmDelta := traderDelta.Neg()

	mmLeverage := req.LeverageCap
	if !matched.Collateral.IsZero() {
		notional := req.Size.Mul(entryPrice)
		mmLeverage = notional.Div(matched.Collateral)
	}

	traderFill := risk.Fill{Agent: req.AgentID, Market: req.Market, SizeDelta: traderDelta, Price: entryPrice, Leverage: req.LeverageCap}
	mmFill := risk.Fill{Agent: matched.MMAgentID, Market: req.Market, SizeDelta: mmDelta, Price: entryPrice, Leverage: mmLeverage}

	l.risk.ApplyCrossFill(mmFill, traderFill, market.MaintenanceMarginRate, now)

	positionID := common.NewPositionId()
	match := AcceptedMatch{
		RequestID:   requestID,
		QuoteID:     quoteID,
		PositionID:  positionID,
		Market:      req.Market,
		TraderAgent: req.AgentID,
		MMAgent:     matched.MMAgentID,
		Size:        req.Size,
		EntryPrice:  entryPrice,
		AcceptedAt:  now,
	}

	if l.bus != nil {
		l.bus.Publish(eventbus.Event{
			Type:   eventbus.QuoteAccepted,
			Market: req.Market,
			Stream: eventbus.StreamKey{Kind: "request", ID: string(requestID)},
			Data:   match,
		})
		l.bus.Publish(eventbus.Event{
			Type:   eventbus.PositionOpened,
			Market: req.Market,
			Stream: eventbus.StreamKey{Kind: "position", ID: string(positionID)},
			Data:   match,
		})
	}
	return match, nil
}

// Sweep removes every expired request (and its quotes); cmd/server calls it
// on a periodic timer in addition to the lazy checks in SubmitQuote and
// Accept.
func (l *Ledger) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, req := range l.requests {
		if req.Expired(now) {
			delete(l.requests, id)
			delete(l.quotes, id)
			removed++
		}
	}
	return removed
}

func (l *Ledger) Request(id common.RequestId) (Request, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	req, ok := l.requests[id]
	if ok && req.Expired(l.clock.Now()) {
		return Request{}, false
	}
	return req, ok
}

func (l *Ledger) Quotes(requestID common.RequestId) []Quote {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	out := make([]Quote, 0, len(l.quotes[requestID]))
	for _, q := range l.quotes[requestID] {
		if !q.Expired(now) {
			out = append(out, q)
		}
	}
	return out
}

func (l *Ledger) ActiveRequests() []Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	out := make([]Request, 0, len(l.requests))
	for _, req := range l.requests {
		if !req.Expired(now) {
			out = append(out, req)
		}
	}
	return out
}
