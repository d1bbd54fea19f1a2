package server

import (
	"net/http"

	"fenrir-perp/internal/common"
	"fenrir-perp/internal/order"
)

func (h *handlers) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets := h.deps.Markets.List()
	out := make([]marketResponse, 0, len(markets))
	for _, m := range markets {
		out = append(out, marketToResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func levelsToResponse(levels []order.LevelView) []levelResponse {
	out := make([]levelResponse, 0, len(levels))
	for _, lv := range levels {
		out = append(out, levelResponse{
			Price:      lv.Price.String(),
			Quantity:   lv.Quantity.String(),
			OrderCount: lv.OrderCount,
		})
	}
	return out
}

// getOrderbook handles GET /markets/{symbol}/orderbook?depth=N.
func (h *handlers) getOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	book, ok := h.deps.Matching.Book(symbol)
	if !ok {
		writeError(w, common.NewError(common.KindNotFound, "unknown market"))
		return
	}
	depth := queryInt(r, "depth", 20)
	snap := book.Snapshot(depth)
	writeJSON(w, http.StatusOK, orderbookResponse{
		Market:    snap.Market,
		Bids:      levelsToResponse(snap.Bids),
		Asks:      levelsToResponse(snap.Asks),
		Sequence:  snap.Sequence,
		Timestamp: snap.Timestamp,
	})
}

func (h *handlers) getBBO(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	book, ok := h.deps.Matching.Book(symbol)
	if !ok {
		writeError(w, common.NewError(common.KindNotFound, "unknown market"))
		return
	}
	bbo := book.BBO()
	resp := bboResponse{}
	if bbo.BestBid != nil {
		resp.BestBid = bbo.BestBid.String()
	}
	if bbo.BestAsk != nil {
		resp.BestAsk = bbo.BestAsk.String()
	}
	if spread := bbo.Spread(); spread != nil {
		resp.Spread = spread.String()
	}
	if mid := bbo.Mid(); mid != nil {
		resp.Mid = mid.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getPrice(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	quote, err := h.deps.Prices.GetPrice(r.Context(), symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{
		Market:      symbol,
		Price:       quote.Price.String(),
		PublishedAt: quote.PublishedAt,
	})
}

// mmLeaderboard handles GET /mm/leaderboard.
func (h *handlers) mmLeaderboard(w http.ResponseWriter, r *http.Request) {
	rows := h.deps.Leaderboard.Leaderboard()
	out := make([]leaderboardRowResponse, 0, len(rows))
	for _, s := range rows {
		out = append(out, leaderboardRowResponse{
			AgentID:      string(s.AgentID),
			Rank:         s.Rank,
			TotalVolume:  s.TotalVolume.String(),
			TotalQuotes:  s.TotalQuotes,
			FilledQuotes: s.FilledQuotes,
			FillRate:     s.FillRate(),
			TotalPoints:  s.TotalPoints.String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
