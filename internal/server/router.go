package server

import (
	"net/http"

	"fenrir-perp/internal/agent"
)

// newRouter builds the full route table using Go's method+pattern mux
// matching: public endpoints (registration, market data, health, the
// websocket upgrade) are registered directly, every other endpoint is
// wrapped with requireAuth first.
func newRouter(h *handlers, hub *Hub, registry *agent.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	auth := requireAuth(registry)

	// Health and registration: no credential exists yet for these calls.
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("POST /agents/register", h.registerAgent)

	// Market data and the event stream are public reads.
	mux.HandleFunc("GET /markets", h.listMarkets)
	mux.HandleFunc("GET /markets/{symbol}/orderbook", h.getOrderbook)
	mux.HandleFunc("GET /markets/{symbol}/bbo", h.getBBO)
	mux.HandleFunc("GET /price/{symbol}", h.getPrice)
	mux.HandleFunc("GET /mm/leaderboard", h.mmLeaderboard)
	mux.HandleFunc("GET /ws", hub.ServeWS)

	// Agent identity and limits.
	mux.Handle("GET /agents/{id}", auth(http.HandlerFunc(h.getAgent)))
	mux.Handle("GET /agents/{id}/stats", auth(http.HandlerFunc(h.getAgentStats)))
	mux.Handle("GET /agents/{id}/limits", auth(http.HandlerFunc(h.getAgentLimits)))
	mux.Handle("POST /agents/{id}/limits", auth(http.HandlerFunc(h.setAgentLimits)))
	mux.Handle("GET /agents/{id}/funding", auth(http.HandlerFunc(h.getAgentFunding)))

	// Central order book.
	mux.Handle("POST /orders", auth(http.HandlerFunc(h.placeOrder)))
	mux.Handle("GET /orders", auth(http.HandlerFunc(h.listOrders)))
	mux.Handle("GET /orders/{id}", auth(http.HandlerFunc(h.getOrder)))
	mux.Handle("DELETE /orders/{id}", auth(http.HandlerFunc(h.cancelOrder)))

	// P2P negotiation.
	mux.Handle("POST /trade/request", auth(http.HandlerFunc(h.submitTradeRequest)))
	mux.Handle("POST /trade/quote", auth(http.HandlerFunc(h.submitQuote)))
	mux.Handle("POST /trade/accept", auth(http.HandlerFunc(h.acceptQuote)))
	mux.Handle("POST /trade/close", auth(http.HandlerFunc(h.closePosition)))
	mux.Handle("GET /requests", auth(http.HandlerFunc(h.listRequests)))
	mux.Handle("GET /quotes/{request_id}", auth(http.HandlerFunc(h.listQuotes)))

	// Positions.
	mux.Handle("GET /positions/{agent}", auth(http.HandlerFunc(h.listPositions)))
	mux.Handle("GET /positions/{agent}/margin", auth(http.HandlerFunc(h.getPositionMargin)))
	mux.Handle("GET /positions/{agent}/history", auth(http.HandlerFunc(h.getPositionHistory)))

	return mux
}
