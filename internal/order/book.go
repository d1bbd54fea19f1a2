package order

import (
	"sync"
	"time"

	"fenrir-perp/internal/common"
	"github.com/tidwall/btree"
)

// level is one price level: an aggregate quantity plus the FIFO order of ids
// resting at that price. Orders are owned exactly once, in OrderBook.orders;
// a level only ever holds ids, avoiding the two-mutable-owners trap the
// Design Notes warn about.
type level struct {
	price    common.Price
	orderIDs []common.OrderId
	qty      common.Quantity
}

func newLevel(price common.Price) *level {
	return &level{price: price, qty: common.Zero}
}

type levels = btree.BTreeG[*level]

// Snapshot is a point-in-time view of a book's top-of-book depth.
type Snapshot struct {
	Market    string
	Bids      []LevelView
	Asks      []LevelView
	Sequence  uint64
	Timestamp time.Time
}

type LevelView struct {
	Price      common.Price
	Quantity   common.Quantity
	OrderCount int
}

// BBO is the best-bid/best-offer pair.
type BBO struct {
	BestBid *common.Price
	BestAsk *common.Price
}

func (b BBO) Spread() *common.Price {
	if b.BestBid == nil || b.BestAsk == nil {
		return nil
	}
	s := b.BestAsk.Sub(*b.BestBid)
	return &s
}

func (b BBO) Mid() *common.Price {
	if b.BestBid == nil || b.BestAsk == nil {
		return nil
	}
	m := b.BestBid.Add(*b.BestAsk).Div(common.Two)
	return &m
}

type orderLocation struct {
	price common.Price
	side  Side
}

// OrderBook is the price-time priority matching engine for a single market.
// Single-writer under mu; Snapshot/BBO may be called concurrently and always
// observe state after exactly one discrete transition (Place or Cancel).
type OrderBook struct {
	mu sync.Mutex

	market common.Market

	bids *levels // descending by price
	asks *levels // ascending by price

	orders map[common.OrderId]*Order
	index  map[common.OrderId]orderLocation

	orderSeq common.IdSequence
	tradeSeq common.IdSequence
	sequence uint64

	bestBid *common.Price
	bestAsk *common.Price

	clock common.Clock
}

func NewOrderBook(market common.Market, clock common.Clock) *OrderBook {
	bids := btree.NewBTreeG(func(a, b *level) bool {
		return a.price.GreaterThan(b.price)
	})
	asks := btree.NewBTreeG(func(a, b *level) bool {
		return a.price.LessThan(b.price)
	})
	if clock == nil {
		clock = common.RealClock{}
	}
	return &OrderBook{
		market: market,
		bids:   bids,
		asks:   asks,
		orders: make(map[common.OrderId]*Order),
		index:  make(map[common.OrderId]orderLocation),
		clock:  clock,
	}
}

func (b *OrderBook) Market() common.Market { return b.market }

// NextOrderID hands the caller the id to use when building a new Order; the
// sequence is owned by the book so ids stay monotone per market without a
// global counter. Trade ids are assigned internally during matching.
func (b *OrderBook) NextOrderID() common.OrderId { return common.OrderId(b.orderSeq.Next()) }

// PlaceResult bundles what Place produced for callers that must wire
// position updates and persistence off of it.
type PlaceResult struct {
	Order  Order
	Trades []Trade
}

// Place validates, matches, and (if still residual) rests the order,
// following spec.md §4.B step by step. It returns the finalized order state
// and any trades produced.
func (b *OrderBook) Place(o Order) (PlaceResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	o.CreatedAt, o.UpdatedAt = now, now
	o.Remaining = o.TotalQuantity
	o.Status = Open

	if !b.market.Active {
		o.reject("market inactive", now)
		return PlaceResult{Order: o}, nil
	}
	if o.TotalQuantity.Sign() <= 0 {
		o.reject("quantity must be positive", now)
		return PlaceResult{Order: o}, nil
	}
	if o.Type == Limit || o.Type == StopLimit {
		if o.Price == nil {
			o.reject("limit order requires a price", now)
			return PlaceResult{Order: o}, nil
		}
		if !b.market.TickAligned(*o.Price) {
			o.reject("price is not a multiple of tick size", now)
			return PlaceResult{Order: o}, nil
		}
	}
	if o.Type == Market && o.TimeInForce != IOC {
		o.TimeInForce = IOC
	}
	if o.TimeInForce == PostOnly {
		if o.Price == nil {
			o.reject("post-only requires a limit price", now)
			return PlaceResult{Order: o}, nil
		}
		if crosses := b.crossesBook(o.Side, *o.Price); crosses {
			o.reject("post-only order would have crossed the book", now)
			return PlaceResult{Order: o}, nil
		}
	}

	trades := b.match(&o, now)

	if o.IsActive() && !o.Remaining.IsZero() {
		switch o.TimeInForce {
		case IOC:
			o.cancel(now)
		case FOK:
			// Greedy-match-then-cancel-residual, matching the source's
			// actual FOK behavior (see DESIGN.md, Open Questions resolved).
			o.cancel(now)
		case PostOnly:
			// Reaching here with trades would mean the order crossed
			// despite the pre-check; reject defensively rather than rest
			// a partially-filled post-only order.
			if len(trades) > 0 {
				o.reject("post-only order crossed during matching", now)
				trades = nil
			} else {
				b.rest(&o)
			}
		case GTC:
			b.rest(&o)
		}
	}

	b.updateBestPrices()
	b.sequence++

	return PlaceResult{Order: o, Trades: trades}, nil
}

// crossesBook reports whether a limit order at price would take liquidity
// immediately, used by the PostOnly pre-check.
func (b *OrderBook) crossesBook(side Side, price common.Price) bool {
	switch side {
	case Buy:
		return b.bestAsk != nil && price.GreaterThanOrEqual(*b.bestAsk)
	default:
		return b.bestBid != nil && price.LessThanOrEqual(*b.bestBid)
	}
}

// match walks the opposite side from best price outward, consuming maker
// orders FIFO within each level.
func (b *OrderBook) match(o *Order, now time.Time) []Trade {
	var trades []Trade

	opposite := b.asks
	if o.Side == Sell {
		opposite = b.bids
	}

	for !o.Remaining.IsZero() {
		lvl, ok := opposite.Min()
		if !ok {
			break
		}
		if o.Type == Limit || o.Type == StopLimit {
			if o.Side == Buy && lvl.price.GreaterThan(*o.Price) {
				break
			}
			if o.Side == Sell && lvl.price.LessThan(*o.Price) {
				break
			}
		}

		consumed := 0
		for _, makerID := range lvl.orderIDs {
			if o.Remaining.IsZero() {
				break
			}
			maker := b.orders[makerID]
			fillQty := o.Remaining
			if maker.Remaining.LessThan(fillQty) {
				fillQty = maker.Remaining
			}

			trade := Trade{
				ID:            common.TradeId(b.tradeSeq.Next()),
				Market:        b.market.Symbol,
				Price:         lvl.price,
				Quantity:      fillQty,
				MakerOrderID:  maker.ID,
				TakerOrderID:  o.ID,
				MakerAgentID:  maker.AgentID,
				TakerAgentID:  o.AgentID,
				MakerSide:     maker.Side,
				MakerLeverage: maker.Leverage,
				TakerLeverage: o.Leverage,
				Timestamp:     now,
			}
			trades = append(trades, trade)

			o.fill(fillQty, now)
			maker.fill(fillQty, now)
			lvl.qty = lvl.qty.Sub(fillQty)

			if maker.IsFilled() {
				consumed++
				delete(b.orders, makerID)
				delete(b.index, makerID)
			} else {
				break // partially filled maker always blocks remaining taker qty to zero
			}
		}

		if consumed > 0 {
			lvl.orderIDs = lvl.orderIDs[consumed:]
		}
		if len(lvl.orderIDs) == 0 {
			opposite.Delete(lvl)
		}
	}

	return trades
}

// rest inserts the residual of o into the book. Called only for GTC (or a
// PostOnly order that did not cross).
func (b *OrderBook) rest(o *Order) {
	side := b.asks
	if o.Side == Buy {
		side = b.bids
	}

	lvl, ok := side.Get(&level{price: *o.Price})
	if !ok {
		lvl = newLevel(*o.Price)
		side.Set(lvl)
	}
	lvl.orderIDs = append(lvl.orderIDs, o.ID)
	lvl.qty = lvl.qty.Add(o.Remaining)

	b.orders[o.ID] = o
	b.index[o.ID] = orderLocation{price: *o.Price, side: o.Side}
}

// Cancel removes a resting order owned by requestingAgent. Returns the
// finalized order or a NotFound error.
func (b *OrderBook) Cancel(id common.OrderId, requestingAgent common.AgentId) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	loc, ok := b.index[id]
	if !ok {
		return Order{}, common.NewError(common.KindNotFound, "order not found")
	}
	o := b.orders[id]
	if o.AgentID != requestingAgent {
		return Order{}, common.NewError(common.KindNotFound, "order not found")
	}
	if o.Status.Terminal() {
		return Order{}, common.NewError(common.KindConflict, "order already in a terminal state")
	}

	side := b.asks
	if loc.side == Buy {
		side = b.bids
	}
	lvl, ok := side.Get(&level{price: loc.price})
	if !ok {
		return Order{}, common.WrapError(common.KindFatal, "level missing for indexed order", nil)
	}
	for i, oid := range lvl.orderIDs {
		if oid == id {
			lvl.orderIDs = append(lvl.orderIDs[:i], lvl.orderIDs[i+1:]...)
			break
		}
	}
	lvl.qty = lvl.qty.Sub(o.Remaining)
	if len(lvl.orderIDs) == 0 {
		side.Delete(lvl)
	}

	now := b.clock.Now()
	o.cancel(now)
	delete(b.orders, id)
	delete(b.index, id)

	b.updateBestPrices()
	b.sequence++

	return *o, nil
}

func (b *OrderBook) Get(id common.OrderId) (Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// OrdersByAgent returns every order the agent has resting or otherwise
// tracked in this book. Order of results is unspecified.
func (b *OrderBook) OrdersByAgent(agent common.AgentId) []Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Order, 0)
	for _, o := range b.orders {
		if o.AgentID == agent {
			out = append(out, *o)
		}
	}
	return out
}

func (b *OrderBook) updateBestPrices() {
	if lvl, ok := b.bids.Min(); ok {
		p := lvl.price
		b.bestBid = &p
	} else {
		b.bestBid = nil
	}
	if lvl, ok := b.asks.Min(); ok {
		p := lvl.price
		b.bestAsk = &p
	} else {
		b.bestAsk = nil
	}
}

func (b *OrderBook) BBO() BBO {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BBO{BestBid: b.bestBid, BestAsk: b.bestAsk}
}

// Snapshot returns the top `depth` levels on each side as they stood after
// the last discrete transition.
func (b *OrderBook) Snapshot(depth int) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Market:    b.market.Symbol,
		Sequence:  b.sequence,
		Timestamp: b.clock.Now(),
	}
	n := 0
	b.bids.Scan(func(lvl *level) bool {
		if n >= depth {
			return false
		}
		snap.Bids = append(snap.Bids, LevelView{Price: lvl.price, Quantity: lvl.qty, OrderCount: len(lvl.orderIDs)})
		n++
		return true
	})
	n = 0
	b.asks.Scan(func(lvl *level) bool {
		if n >= depth {
			return false
		}
		snap.Asks = append(snap.Asks, LevelView{Price: lvl.price, Quantity: lvl.qty, OrderCount: len(lvl.orderIDs)})
		n++
		return true
	})
	return snap
}
