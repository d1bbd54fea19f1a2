// Package matching is the glue between the HTTP boundary and the per-market
// order books: it owns one order.OrderBook per symbol, runs every accepted
// order through the risk engine's pre-trade check, applies resulting fills
// to both sides' positions, and publishes the events and trade records that
// follow from a match.
package matching

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"fenrir-perp/internal/common"
	"fenrir-perp/internal/eventbus"
	"fenrir-perp/internal/order"
	"fenrir-perp/internal/risk"
	"github.com/rs/zerolog/log"
)

// TradeSink persists trades as they happen; internal/store provides the
// durable implementation. A nil sink is valid (trades are still matched and
// published, just not recorded).
type TradeSink interface {
	AppendTrade(ctx context.Context, trade TradeRecord) error
}

// TradeRecord is the subset of order.Trade the store cares about, kept here
// (rather than importing internal/store) so this package has no dependency
// on the persistence layer's schema.
type TradeRecord struct {
	ID           uint64
	Market       string
	Price        common.Price
	Quantity     common.Quantity
	MakerOrderID uint64
	TakerOrderID uint64
	MakerAgentID string
	TakerAgentID string
	Timestamp    int64
}

// Engine owns one OrderBook per market and wires every placed order through
// the risk engine, mirroring the teacher's map-of-books dispatch but with an
// actual matching and risk-accounting path behind it.
type Engine struct {
	markets *common.Registry
	risk    *risk.Engine
	bus     *eventbus.Bus
	sink    TradeSink
	clock   common.Clock

	books map[string]*order.OrderBook

	orderSeq common.IdSequence // order ids for every market, so marketOf keys never collide

	marketOfMu sync.RWMutex
	marketOf   map[common.OrderId]string // order id -> market, for id-only lookups
}

func NewEngine(markets *common.Registry, riskEngine *risk.Engine, bus *eventbus.Bus, sink TradeSink, clock common.Clock) *Engine {
	if clock == nil {
		clock = common.RealClock{}
	}
	e := &Engine{
		markets:  markets,
		risk:     riskEngine,
		bus:      bus,
		sink:     sink,
		clock:    clock,
		books:    make(map[string]*order.OrderBook),
		marketOf: make(map[common.OrderId]string),
	}
	for _, m := range markets.List() {
		e.books[m.Symbol] = order.NewOrderBook(m, clock)
	}
	return e
}

func (e *Engine) Book(market string) (*order.OrderBook, bool) {
	b, ok := e.books[market]
	return b, ok
}

// PlaceIntent is what a caller (the HTTP order handler) supplies; Leverage
// is the leverage the agent wants to open or add to a position at.
type PlaceIntent struct {
	Agent       common.AgentId
	Market      string
	Side        order.Side
	Type        order.Type
	Price       *common.Price
	Quantity    common.Quantity
	TimeInForce order.TimeInForce
	ClientID    string
	Leverage    common.Price
}

// PlaceResult is what the caller gets back: the finalized order, the trades
// it produced, and the placing agent's position after the last of those
// trades (the zero Position when nothing traded).
type PlaceResult struct {
	Order          order.Order
	Trades         []order.Trade
	UpdatedAccount risk.Position
}

// Place runs one order through risk pre-checks, the book, and then applies
// every resulting trade to both sides' positions under the risk engine.
func (e *Engine) Place(ctx context.Context, intent PlaceIntent) (PlaceResult, error) {
	book, ok := e.books[intent.Market]
	if !ok {
		return PlaceResult{}, common.NewError(common.KindValidation, "unknown market")
	}
	market := book.Market()

	notional := intent.Quantity.Mul(e.referencePrice(intent))
	requiredMargin := notional.Div(intent.Leverage)
	tradeIntent := risk.TradeIntent{
		Market:            intent.Market,
		Leverage:          intent.Leverage,
		ProjectedNotional: notional,
		RequiredMargin:    requiredMargin,
	}
	if err := e.risk.PreTradeCheck(intent.Agent, market.MaxLeverage, tradeIntent, e.clock.Now()); err != nil {
		return PlaceResult{}, err
	}

	o := order.Order{
		ID:            common.OrderId(e.orderSeq.Next()),
		AgentID:       intent.Agent,
		Market:        intent.Market,
		Side:          intent.Side,
		Type:          intent.Type,
		Price:         intent.Price,
		TotalQuantity: intent.Quantity,
		TimeInForce:   intent.TimeInForce,
		ClientID:      intent.ClientID,
		Leverage:      intent.Leverage,
	}

	result, err := book.Place(o)
	if err != nil {
		return PlaceResult{}, err
	}

	e.marketOfMu.Lock()
	e.marketOf[result.Order.ID] = intent.Market
	e.marketOfMu.Unlock()

	var lastPosition risk.Position
	for _, trade := range result.Trades {
		lastPosition = e.applyTrade(ctx, market, trade)
	}

	e.publishOrderEvent(result.Order)

	return PlaceResult{Order: result.Order, Trades: result.Trades, UpdatedAccount: lastPosition}, nil
}

// applyTrade books the fill against both the maker's and the taker's
// positions, persists the trade, and publishes a Trade event. The taker
// always sits on the opposite side of the maker's resting order.
func (e *Engine) applyTrade(ctx context.Context, market common.Market, trade order.Trade) risk.Position {
	makerDelta := trade.Quantity
	if trade.MakerSide == order.Sell {
		makerDelta = trade.Quantity.Neg()
	}

	makerFill := risk.Fill{Agent: trade.MakerAgentID, Market: market.Symbol, SizeDelta: makerDelta, Price: trade.Price, Leverage: trade.MakerLeverage}
	takerFill := risk.Fill{Agent: trade.TakerAgentID, Market: market.Symbol, SizeDelta: makerDelta.Neg(), Price: trade.Price, Leverage: trade.TakerLeverage}

	makerPos, takerPos := e.risk.ApplyCrossFill(makerFill, takerFill, market.MaintenanceMarginRate, e.clock.Now())

	if e.sink != nil {
		rec := TradeRecord{
			ID:           uint64(trade.ID),
			Market:       trade.Market,
			Price:        trade.Price,
			Quantity:     trade.Quantity,
			MakerOrderID: uint64(trade.MakerOrderID),
			TakerOrderID: uint64(trade.TakerOrderID),
			MakerAgentID: string(trade.MakerAgentID),
			TakerAgentID: string(trade.TakerAgentID),
			Timestamp:    trade.Timestamp.Unix(),
		}
		if err := e.sink.AppendTrade(ctx, rec); err != nil {
			log.Warn().Err(err).Str("market", market.Symbol).Msg("failed to persist trade")
		}
	}

	if e.bus != nil {
		e.bus.Publish(eventbus.Event{
			Type:   eventbus.Trade,
			Market: market.Symbol,
			Stream: eventbus.StreamKey{Kind: "market", ID: market.Symbol},
			Data:   trade,
		})
	}

	return takerPos
}

// referencePrice uses the order's own limit price when present, otherwise
// the book's current mid, falling back to the best available side. A
// market order with no book depth yet has no usable reference and is left
// to the risk check's required-margin computation with a zero notional,
// which PreTradeCheck will simply not reject on notional grounds.
func (e *Engine) referencePrice(intent PlaceIntent) common.Price {
	if intent.Price != nil {
		return *intent.Price
	}
	book, ok := e.books[intent.Market]
	if !ok {
		return common.Zero
	}
	bbo := book.BBO()
	if mid := bbo.Mid(); mid != nil {
		return *mid
	}
	if bbo.BestBid != nil {
		return *bbo.BestBid
	}
	if bbo.BestAsk != nil {
		return *bbo.BestAsk
	}
	return common.Zero
}

func (e *Engine) publishOrderEvent(o order.Order) {
	if e.bus == nil {
		return
	}
	evtType := eventbus.OrderAccepted
	if o.Status.Terminal() && o.Status != order.Filled {
		evtType = eventbus.OrderClosed
	}
	e.bus.Publish(eventbus.Event{
		Type:   evtType,
		Market: o.Market,
		Stream: eventbus.StreamKey{Kind: "order", ID: strconv.FormatUint(uint64(o.ID), 10)},
		Data:   o,
	})
}

// Cancel cancels a resting order on behalf of requestingAgent.
func (e *Engine) Cancel(market string, id common.OrderId, requestingAgent common.AgentId) (order.Order, error) {
	book, ok := e.books[market]
	if !ok {
		return order.Order{}, common.NewError(common.KindValidation, "unknown market")
	}
	cancelled, err := book.Cancel(id, requestingAgent)
	if err != nil {
		return order.Order{}, err
	}
	e.publishOrderEvent(cancelled)
	return cancelled, nil
}

// OrderByID looks up an order without the caller knowing which market it was
// placed on, for the id-only GET /orders/{id} and DELETE /orders/{id} routes.
func (e *Engine) OrderByID(id common.OrderId) (order.Order, bool) {
	e.marketOfMu.RLock()
	market, ok := e.marketOf[id]
	e.marketOfMu.RUnlock()
	if !ok {
		return order.Order{}, false
	}
	book, ok := e.books[market]
	if !ok {
		return order.Order{}, false
	}
	return book.Get(id)
}

// CancelByID cancels an order by id alone, resolving its market from the
// internal index before delegating to Cancel.
func (e *Engine) CancelByID(id common.OrderId, requestingAgent common.AgentId) (order.Order, error) {
	e.marketOfMu.RLock()
	market, ok := e.marketOf[id]
	e.marketOfMu.RUnlock()
	if !ok {
		return order.Order{}, common.NewError(common.KindNotFound, "order not found")
	}
	return e.Cancel(market, id, requestingAgent)
}

// OrdersByAgent lists every order the agent has resting across all markets,
// optionally restricted to one market.
func (e *Engine) OrdersByAgent(agent common.AgentId, market string) []order.Order {
	out := make([]order.Order, 0)
	if market != "" {
		if book, ok := e.books[market]; ok {
			out = append(out, book.OrdersByAgent(agent)...)
		}
		return out
	}
	symbols := make([]string, 0, len(e.books))
	for sym := range e.books {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		out = append(out, e.books[sym].OrdersByAgent(agent)...)
	}
	return out
}

// Snapshots returns every market's order book depth, sorted by symbol, for
// the market-data listing endpoint.
func (e *Engine) Snapshots(depth int) []order.Snapshot {
	symbols := make([]string, 0, len(e.books))
	for sym := range e.books {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	out := make([]order.Snapshot, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, e.books[sym].Snapshot(depth))
	}
	return out
}
