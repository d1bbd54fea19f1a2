package server

import "time"

type registerAgentRequest struct {
	InitialCollateral string `json:"initial_collateral"`
}

type registerAgentResponse struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

type agentResponse struct {
	AgentID    string `json:"agent_id"`
	Collateral string `json:"collateral"`
}

type statsResponse struct {
	TotalTrades int64  `json:"total_trades"`
	Wins        int64  `json:"wins"`
	Losses      int64  `json:"losses"`
	WinRate     float64 `json:"win_rate"`
	TotalPnL    string `json:"total_pnl"`
	AvgPnL      string `json:"avg_pnl"`
	TotalVolume string `json:"total_volume"`
}

type limitsResponse struct {
	MaxPositionUSD string `json:"max_position_usd"`
	MaxLeverage    string `json:"max_leverage"`
	DailyLossLimit string `json:"daily_loss_limit"`
	MaxOpenOrders  int    `json:"max_open_orders"`
}

type setLimitsRequest struct {
	MaxPositionUSD string `json:"max_position_usd"`
	MaxLeverage    string `json:"max_leverage"`
	DailyLossLimit string `json:"daily_loss_limit"`
	MaxOpenOrders  int    `json:"max_open_orders"`
}

type fundingSummaryResponse struct {
	TotalPaid     string `json:"total_paid"`
	TotalReceived string `json:"total_received"`
	Net           string `json:"net"`
	PaymentCount  int    `json:"payment_count"`
}

type placeOrderRequest struct {
	Market      string `json:"market"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Price       string `json:"price,omitempty"`
	Quantity    string `json:"quantity"`
	TimeInForce string `json:"time_in_force,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	Leverage    string `json:"leverage"`
}

type orderResponse struct {
	OrderID       uint64     `json:"order_id"`
	AgentID       string     `json:"agent_id"`
	Market        string     `json:"market"`
	Side          string     `json:"side"`
	Type          string     `json:"type"`
	Price         string     `json:"price,omitempty"`
	TotalQuantity string     `json:"total_quantity"`
	Remaining     string     `json:"remaining"`
	TimeInForce   string     `json:"time_in_force"`
	Status        string     `json:"status"`
	RejectReason  string     `json:"reject_reason,omitempty"`
	ClientID      string     `json:"client_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type tradeResponse struct {
	TradeID      uint64 `json:"trade_id"`
	Market       string `json:"market"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	MakerOrderID uint64 `json:"maker_order_id"`
	TakerOrderID uint64 `json:"taker_order_id"`
}

type placeOrderResponse struct {
	Order  orderResponse   `json:"order"`
	Trades []tradeResponse `json:"trades"`
}

type submitRequestRequest struct {
	Market         string `json:"market"`
	Side           string `json:"side"`
	Size           string `json:"size"`
	LeverageCap    string `json:"leverage_cap"`
	MaxFundingRate string `json:"max_funding_rate"`
	ValidFor       string `json:"valid_for"` // duration, e.g. "5m"
}

type requestResponse struct {
	RequestID      string    `json:"request_id"`
	AgentID        string    `json:"agent_id"`
	Market         string    `json:"market"`
	Side           string    `json:"side"`
	Size           string    `json:"size"`
	LeverageCap    string    `json:"leverage_cap"`
	MaxFundingRate string    `json:"max_funding_rate"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type submitQuoteRequest struct {
	RequestID  string `json:"request_id"`
	Rate       string `json:"rate"`
	Collateral string `json:"collateral"`
	ValidFor   string `json:"valid_for"`
}

type quoteResponse struct {
	QuoteID    string    `json:"quote_id"`
	RequestID  string    `json:"request_id"`
	MMAgentID  string    `json:"mm_agent_id"`
	Rate       string    `json:"rate"`
	Collateral string    `json:"collateral"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type acceptQuoteRequest struct {
	RequestID string `json:"request_id"`
	QuoteID   string `json:"quote_id"`
}

type acceptedMatchResponse struct {
	RequestID   string    `json:"request_id"`
	QuoteID     string    `json:"quote_id"`
	PositionID  string    `json:"position_id"`
	Market      string    `json:"market"`
	TraderAgent string    `json:"trader_agent"`
	MMAgent     string    `json:"mm_agent"`
	EntryPrice  string    `json:"entry_price"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

type positionResponse struct {
	AgentID       string    `json:"agent_id"`
	Market        string    `json:"market"`
	Size          string    `json:"size"`
	EntryPrice    string    `json:"entry_price"`
	Margin        string    `json:"margin"`
	LiquidationPx string    `json:"liquidation_px"`
	RealizedPnL   string    `json:"realized_pnl"`
	Leverage      string    `json:"leverage"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type marginResponse struct {
	Market        string `json:"market"`
	Equity        string `json:"equity"`
	MarginHealth  string `json:"margin_health"`
	LiquidationPx string `json:"liquidation_px"`
}

type closePositionRequest struct {
	Market string `json:"market"`
}

type closedPositionResponse struct {
	PositionID  string     `json:"position_id"`
	AgentID     string     `json:"agent_id"`
	Market      string     `json:"market"`
	Size        string     `json:"size"`
	EntryPrice  string     `json:"entry_price"`
	RealizedPnL string     `json:"realized_pnl"`
	ClosePnL    string     `json:"close_pnl"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

type marketResponse struct {
	Symbol                string `json:"symbol"`
	Index                 int    `json:"index"`
	TickSize              string `json:"tick_size"`
	MinLot                string `json:"min_lot"`
	MaxLeverage           string `json:"max_leverage"`
	InitialMarginRate     string `json:"initial_margin_rate"`
	MaintenanceMarginRate string `json:"maintenance_margin_rate"`
	Active                bool   `json:"active"`
}

type levelResponse struct {
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	OrderCount int    `json:"order_count"`
}

type orderbookResponse struct {
	Market    string          `json:"market"`
	Bids      []levelResponse `json:"bids"`
	Asks      []levelResponse `json:"asks"`
	Sequence  uint64          `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
}

type bboResponse struct {
	BestBid string `json:"best_bid,omitempty"`
	BestAsk string `json:"best_ask,omitempty"`
	Spread  string `json:"spread,omitempty"`
	Mid     string `json:"mid,omitempty"`
}

type priceResponse struct {
	Market      string    `json:"market"`
	Price       string    `json:"price"`
	PublishedAt time.Time `json:"published_at"`
}

type leaderboardRowResponse struct {
	AgentID      string  `json:"agent_id"`
	Rank         int     `json:"rank"`
	TotalVolume  string  `json:"total_volume"`
	TotalQuotes  int64   `json:"total_quotes"`
	FilledQuotes int64   `json:"filled_quotes"`
	FillRate     float64 `json:"fill_rate"`
	TotalPoints  string  `json:"total_points"`
}
