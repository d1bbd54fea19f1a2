package server

import (
	"net/http"
	"strconv"

	"fenrir-perp/internal/common"
	"fenrir-perp/internal/matching"
	"fenrir-perp/internal/order"
	"fenrir-perp/internal/risk"
)

func positionToResponse(p risk.Position) positionResponse {
	return positionResponse{
		AgentID:       string(p.AgentID),
		Market:        p.Market,
		Size:          p.Size.String(),
		EntryPrice:    p.EntryPrice.String(),
		Margin:        p.Margin.String(),
		LiquidationPx: p.LiquidationPx.String(),
		RealizedPnL:   p.RealizedPnL.String(),
		Leverage:      p.Leverage().String(),
		UpdatedAt:     p.UpdatedAt,
	}
}

// listPositions handles GET /positions/{agent}: every open position across
// every market.
func (h *handlers) listPositions(w http.ResponseWriter, r *http.Request) {
	agentID := common.AgentId(r.PathValue("agent"))
	positions := h.deps.Risk.Positions(agentID)
	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		if p.IsFlat() {
			continue
		}
		out = append(out, positionToResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// getPositionMargin handles GET /positions/{agent}/margin?market=SYMBOL:
// live equity and margin health against the current mark price.
func (h *handlers) getPositionMargin(w http.ResponseWriter, r *http.Request) {
	agentID := common.AgentId(r.PathValue("agent"))
	marketSymbol := r.URL.Query().Get("market")
	if marketSymbol == "" {
		writeError(w, common.NewError(common.KindValidation, "market query parameter is required"))
		return
	}
	market, ok := h.deps.Markets.Get(marketSymbol)
	if !ok {
		writeError(w, common.NewError(common.KindValidation, "unknown market"))
		return
	}
	quote, err := h.deps.Prices.GetPrice(r.Context(), marketSymbol)
	if err != nil {
		writeError(w, err)
		return
	}

	pos := h.deps.Risk.Position(agentID, marketSymbol)
	equity := risk.Equity(pos, quote.Price)
	health := risk.MarginHealth(pos, quote.Price, market.InitialMarginRate, market.MaintenanceMarginRate)

	writeJSON(w, http.StatusOK, marginResponse{
		Market:        marketSymbol,
		Equity:        equity.String(),
		MarginHealth:  health.String(),
		LiquidationPx: pos.LiquidationPx.String(),
	})
}

// getPositionHistory handles GET /positions/{agent}/history?page=&page_size=.
func (h *handlers) getPositionHistory(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")
	page := queryInt(r, "page", 0)
	pageSize := queryInt(r, "page_size", 50)

	recs, _, err := h.deps.Store.ClosedPositions(r.Context(), agentID, page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]closedPositionResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, closedPositionResponse{
			PositionID:  rec.ID,
			AgentID:     rec.AgentID,
			Market:      rec.Market,
			Size:        rec.Size,
			EntryPrice:  rec.EntryPrice,
			RealizedPnL: rec.RealizedPnL,
			ClosePnL:    rec.ClosePnL,
			OpenedAt:    rec.OpenedAt,
			ClosedAt:    rec.ClosedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// closePosition handles POST /trade/close: the agent's open position on the
// named market is unwound with an IOC market order on the opposite side,
// the same fill path every other central-book trade takes.
func (h *handlers) closePosition(w http.ResponseWriter, r *http.Request) {
	agentID, _ := agentFromContext(r.Context())

	var body closePositionRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	pos := h.deps.Risk.Position(agentID, body.Market)
	if pos.IsFlat() {
		writeError(w, common.NewError(common.KindNotFound, "no open position on this market"))
		return
	}

	side := order.Sell
	if pos.Size.IsNegative() {
		side = order.Buy
	}
	leverage := pos.Leverage()
	if leverage.IsZero() {
		leverage = common.One
	}

	intent := matching.PlaceIntent{
		Agent:       agentID,
		Market:      body.Market,
		Side:        side,
		Type:        order.Market,
		Quantity:    pos.Size.Abs(),
		TimeInForce: order.IOC,
		Leverage:    leverage,
	}
	result, err := h.deps.Matching.Place(r.Context(), intent)
	if err != nil {
		writeError(w, err)
		return
	}

	if len(result.Trades) > 0 {
		exitPrice := result.Trades[len(result.Trades)-1].Price
		h.submitSettlement(settleCloseJob{owner: string(agentID), market: body.Market, exitPrice: exitPrice})
	}

	trades := make([]tradeResponse, 0, len(result.Trades))
	for _, tr := range result.Trades {
		trades = append(trades, tradeToResponse(tr))
	}
	writeJSON(w, http.StatusOK, placeOrderResponse{Order: orderToResponse(result.Order), Trades: trades})
}
