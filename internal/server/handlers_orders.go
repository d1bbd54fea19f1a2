package server

import (
	"net/http"
	"strconv"

	"fenrir-perp/internal/common"
	"fenrir-perp/internal/matching"
)

// placeOrder handles POST /orders, the central-book entry point: parse,
// delegate to the matching engine (which runs the risk pre-check itself),
// and report back both the resting/filled order and any trades it produced.
func (h *handlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	agentID, _ := agentFromContext(r.Context())

	var req placeOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		writeError(w, err)
		return
	}
	orderType, err := parseOrderType(req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	tif, err := parseTimeInForce(req.TimeInForce)
	if err != nil {
		writeError(w, err)
		return
	}
	quantity, err := common.ParseQuantity(req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	leverage, err := common.ParsePrice(req.Leverage)
	if err != nil {
		writeError(w, err)
		return
	}

	var price *common.Price
	if req.Price != "" {
		p, err := common.ParsePrice(req.Price)
		if err != nil {
			writeError(w, err)
			return
		}
		price = &p
	}

	intent := matching.PlaceIntent{
		Agent:       agentID,
		Market:      req.Market,
		Side:        side,
		Type:        orderType,
		Price:       price,
		Quantity:    quantity,
		TimeInForce: tif,
		ClientID:    req.ClientID,
		Leverage:    leverage,
	}
	result, err := h.deps.Matching.Place(r.Context(), intent)
	if err != nil {
		writeError(w, err)
		return
	}

	trades := make([]tradeResponse, 0, len(result.Trades))
	for _, tr := range result.Trades {
		trades = append(trades, tradeToResponse(tr))
	}
	writeJSON(w, http.StatusCreated, placeOrderResponse{Order: orderToResponse(result.Order), Trades: trades})
}

func parseOrderID(r *http.Request) (common.OrderId, error) {
	raw := r.PathValue("id")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, common.NewError(common.KindValidation, "invalid order id")
	}
	return common.OrderId(n), nil
}

func (h *handlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	agentID, _ := agentFromContext(r.Context())
	id, err := parseOrderID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	o, err := h.deps.Matching.CancelByID(id, agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(o))
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	o, ok := h.deps.Matching.OrderByID(id)
	if !ok {
		writeError(w, common.NewError(common.KindNotFound, "order not found"))
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(o))
}

// listOrders handles GET /orders, scoped to the authenticated agent, with an
// optional ?market= filter.
func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	agentID, _ := agentFromContext(r.Context())
	market := r.URL.Query().Get("market")

	orders := h.deps.Matching.OrdersByAgent(agentID, market)
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderToResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}
