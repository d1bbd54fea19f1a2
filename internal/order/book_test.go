package order

import (
	"testing"
	"time"

	"fenrir-perp/internal/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMarket() common.Market {
	return common.Market{
		Symbol:                "BTC-PERP",
		Index:                 0,
		TickSize:              decimal.NewFromFloat(0.5),
		MinLot:                decimal.NewFromFloat(0.001),
		MaxLeverage:           decimal.NewFromInt(20),
		InitialMarginRate:     decimal.NewFromFloat(0.05),
		MaintenanceMarginRate: decimal.NewFromFloat(0.025),
		Active:                true,
	}
}

func newTestBook() *OrderBook {
	clock := common.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewOrderBook(testMarket(), clock)
}

func price(f float64) *common.Price {
	p := decimal.NewFromFloat(f)
	return &p
}

func limitOrder(book *OrderBook, agent string, side Side, px float64, qty float64, tif TimeInForce) Order {
	return Order{
		ID:            book.NextOrderID(),
		AgentID:       common.AgentId(agent),
		Market:        book.Market().Symbol,
		Side:          side,
		Type:          Limit,
		Price:         price(px),
		TotalQuantity: decimal.NewFromFloat(qty),
		TimeInForce:   tif,
	}
}

func marketOrder(book *OrderBook, agent string, side Side, qty float64) Order {
	return Order{
		ID:            book.NextOrderID(),
		AgentID:       common.AgentId(agent),
		Market:        book.Market().Symbol,
		Side:          side,
		Type:          Market,
		TotalQuantity: decimal.NewFromFloat(qty),
		TimeInForce:   IOC,
	}
}

// S1 from the scenario table: a resting ask crossed by an incoming bid at or
// above its price fills in full at the maker's price.
func TestPlace_SimpleCross(t *testing.T) {
	book := newTestBook()

	res, err := book.Place(limitOrder(book, "mm-1", Sell, 100, 1, GTC))
	require.NoError(t, err)
	assert.Equal(t, Open, res.Order.Status)

	res, err = book.Place(limitOrder(book, "taker-1", Buy, 100, 1, GTC))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(decimal.NewFromFloat(100)))
	assert.True(t, res.Trades[0].Quantity.Equal(decimal.NewFromFloat(1)))
	assert.Equal(t, Filled, res.Order.Status)

	bbo := book.BBO()
	assert.Nil(t, bbo.BestBid)
	assert.Nil(t, bbo.BestAsk)
}

// S2: two makers resting at the same price fill in arrival order (FIFO).
func TestPlace_TimePriorityWithinLevel(t *testing.T) {
	book := newTestBook()

	first, err := book.Place(limitOrder(book, "mm-first", Sell, 100, 1, GTC))
	require.NoError(t, err)
	second, err := book.Place(limitOrder(book, "mm-second", Sell, 100, 1, GTC))
	require.NoError(t, err)

	res, err := book.Place(limitOrder(book, "taker-1", Buy, 100, 1, GTC))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, first.Order.ID, res.Trades[0].MakerOrderID)

	res2, err := book.Place(limitOrder(book, "taker-2", Buy, 100, 1, GTC))
	require.NoError(t, err)
	require.Len(t, res2.Trades, 1)
	assert.Equal(t, second.Order.ID, res2.Trades[0].MakerOrderID)
}

// S3: BBO and spread reflect the best resting levels on each side.
func TestBBO_SpreadAndMid(t *testing.T) {
	book := newTestBook()
	_, err := book.Place(limitOrder(book, "mm-1", Buy, 99, 1, GTC))
	require.NoError(t, err)
	_, err = book.Place(limitOrder(book, "mm-2", Sell, 101, 1, GTC))
	require.NoError(t, err)

	bbo := book.BBO()
	require.NotNil(t, bbo.BestBid)
	require.NotNil(t, bbo.BestAsk)
	assert.True(t, bbo.BestBid.Equal(decimal.NewFromFloat(99)))
	assert.True(t, bbo.BestAsk.Equal(decimal.NewFromFloat(101)))
	assert.True(t, bbo.Spread().Equal(decimal.NewFromFloat(2)))
	assert.True(t, bbo.Mid().Equal(decimal.NewFromFloat(100)))
}

func TestPlace_RejectsOffTickPrice(t *testing.T) {
	book := newTestBook()
	res, err := book.Place(limitOrder(book, "mm-1", Buy, 99.3, 1, GTC))
	require.NoError(t, err)
	assert.Equal(t, Rejected, res.Order.Status)
	assert.Contains(t, res.Order.RejectReason, "tick size")
}

func TestPlace_PostOnlyRestsWhenNotCrossing(t *testing.T) {
	book := newTestBook()
	_, err := book.Place(limitOrder(book, "mm-1", Sell, 101, 1, GTC))
	require.NoError(t, err)

	res, err := book.Place(limitOrder(book, "mm-2", Buy, 100, 1, PostOnly))
	require.NoError(t, err)
	assert.Equal(t, Open, res.Order.Status)
	assert.Empty(t, res.Trades)
}

// S6: a PostOnly order that would cross the book is rejected outright, never
// partially filled.
func TestPlace_PostOnlyRejectedWhenCrossing(t *testing.T) {
	book := newTestBook()
	_, err := book.Place(limitOrder(book, "mm-1", Sell, 100, 1, GTC))
	require.NoError(t, err)

	res, err := book.Place(limitOrder(book, "mm-2", Buy, 100, 1, PostOnly))
	require.NoError(t, err)
	assert.Equal(t, Rejected, res.Order.Status)
	assert.Empty(t, res.Trades)

	// the resting ask must be untouched
	bbo := book.BBO()
	require.NotNil(t, bbo.BestAsk)
	assert.True(t, bbo.BestAsk.Equal(decimal.NewFromFloat(100)))
}

func TestPlace_IOCCancelsResidual(t *testing.T) {
	book := newTestBook()
	_, err := book.Place(limitOrder(book, "mm-1", Sell, 100, 1, GTC))
	require.NoError(t, err)

	res, err := book.Place(limitOrder(book, "taker-1", Buy, 100, 2, IOC))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Quantity.Equal(decimal.NewFromFloat(1)))
	assert.Equal(t, Cancelled, res.Order.Status)
	assert.True(t, res.Order.Remaining.Equal(decimal.NewFromFloat(1)))
}

// FOK greedily matches then cancels whatever remains unfilled in the same
// pass, rather than refusing to touch the book at all when it cannot be
// filled in one shot.
func TestPlace_FOKCancelsResidualAfterPartialMatch(t *testing.T) {
	book := newTestBook()
	_, err := book.Place(limitOrder(book, "mm-1", Sell, 100, 1, GTC))
	require.NoError(t, err)

	res, err := book.Place(limitOrder(book, "taker-1", Buy, 100, 5, FOK))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Quantity.Equal(decimal.NewFromFloat(1)))
	assert.Equal(t, Cancelled, res.Order.Status)
}

func TestPlace_MarketOrderSweepsMultipleLevels(t *testing.T) {
	book := newTestBook()
	_, err := book.Place(limitOrder(book, "mm-1", Sell, 100, 1, GTC))
	require.NoError(t, err)
	_, err = book.Place(limitOrder(book, "mm-2", Sell, 100.5, 1, GTC))
	require.NoError(t, err)
	_, err = book.Place(limitOrder(book, "mm-3", Sell, 101, 1, GTC))
	require.NoError(t, err)

	res, err := book.Place(marketOrder(book, "taker-1", Buy, 2.5))
	require.NoError(t, err)
	require.Len(t, res.Trades, 3)
	assert.Equal(t, Filled, res.Order.Status)
	assert.True(t, res.Trades[0].Price.Equal(decimal.NewFromFloat(100)))
	assert.True(t, res.Trades[1].Price.Equal(decimal.NewFromFloat(100.5)))
	assert.True(t, res.Trades[2].Price.Equal(decimal.NewFromFloat(101)))

	bbo := book.BBO()
	require.NotNil(t, bbo.BestAsk)
	assert.True(t, bbo.BestAsk.Equal(decimal.NewFromFloat(101)))
}

func TestCancel_RemovesRestingOrder(t *testing.T) {
	book := newTestBook()
	res, err := book.Place(limitOrder(book, "mm-1", Buy, 99, 1, GTC))
	require.NoError(t, err)

	cancelled, err := book.Cancel(res.Order.ID, "mm-1")
	require.NoError(t, err)
	assert.Equal(t, Cancelled, cancelled.Status)

	bbo := book.BBO()
	assert.Nil(t, bbo.BestBid)
}

func TestCancel_WrongAgentIsNotFound(t *testing.T) {
	book := newTestBook()
	res, err := book.Place(limitOrder(book, "mm-1", Buy, 99, 1, GTC))
	require.NoError(t, err)

	_, err = book.Cancel(res.Order.ID, "someone-else")
	require.Error(t, err)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
}

func TestCancel_AlreadyFilledIsNotFound(t *testing.T) {
	book := newTestBook()
	resting, err := book.Place(limitOrder(book, "mm-1", Sell, 100, 1, GTC))
	require.NoError(t, err)
	_, err = book.Place(limitOrder(book, "taker-1", Buy, 100, 1, GTC))
	require.NoError(t, err)

	_, err = book.Cancel(resting.Order.ID, "mm-1")
	require.Error(t, err)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
}

func TestPlace_RejectsZeroQuantity(t *testing.T) {
	book := newTestBook()
	res, err := book.Place(limitOrder(book, "mm-1", Buy, 99, 0, GTC))
	require.NoError(t, err)
	assert.Equal(t, Rejected, res.Order.Status)
}

func TestSnapshot_ReflectsRestingDepth(t *testing.T) {
	book := newTestBook()
	_, err := book.Place(limitOrder(book, "mm-1", Buy, 99, 1, GTC))
	require.NoError(t, err)
	_, err = book.Place(limitOrder(book, "mm-2", Buy, 98.5, 2, GTC))
	require.NoError(t, err)
	_, err = book.Place(limitOrder(book, "mm-3", Sell, 101, 3, GTC))
	require.NoError(t, err)

	snap := book.Snapshot(10)
	require.Len(t, snap.Bids, 2)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Bids[0].Price.Equal(decimal.NewFromFloat(99)))
	assert.True(t, snap.Bids[1].Price.Equal(decimal.NewFromFloat(98.5)))
	assert.True(t, snap.Asks[0].Quantity.Equal(decimal.NewFromFloat(3)))
}

func TestPlace_InactiveMarketRejectsEverything(t *testing.T) {
	clock := common.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	market := testMarket()
	market.Active = false
	book := NewOrderBook(market, clock)

	res, err := book.Place(limitOrder(book, "mm-1", Buy, 99, 1, GTC))
	require.NoError(t, err)
	assert.Equal(t, Rejected, res.Order.Status)
	assert.Contains(t, res.Order.RejectReason, "inactive")
}
