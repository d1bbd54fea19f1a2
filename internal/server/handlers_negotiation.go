package server

import (
	"net/http"
	"time"

	"fenrir-perp/internal/common"
	"fenrir-perp/internal/negotiation"
)

func parseValidFor(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, common.NewError(common.KindValidation, "invalid valid_for duration")
	}
	return d, nil
}

func requestToResponse(req negotiation.Request) requestResponse {
	return requestResponse{
		RequestID:      string(req.ID),
		AgentID:        string(req.AgentID),
		Market:         req.Market,
		Side:           sideString(req.Side),
		Size:           req.Size.String(),
		LeverageCap:    req.LeverageCap.String(),
		MaxFundingRate: req.MaxFundingRate.String(),
		CreatedAt:      req.CreatedAt,
		ExpiresAt:      req.ExpiresAt,
	}
}

func quoteToResponse(q negotiation.Quote) quoteResponse {
	return quoteResponse{
		QuoteID:    string(q.ID),
		RequestID:  string(q.RequestID),
		MMAgentID:  string(q.MMAgentID),
		Rate:       q.Rate.String(),
		Collateral: q.Collateral.String(),
		CreatedAt:  q.CreatedAt,
		ExpiresAt:  q.ExpiresAt,
	}
}

// submitTradeRequest handles POST /trade/request: an agent broadcasts a
// position it wants market makers to quote on.
func (h *handlers) submitTradeRequest(w http.ResponseWriter, r *http.Request) {
	agentID, _ := agentFromContext(r.Context())

	var body submitRequestRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	side, err := parseSide(body.Side)
	if err != nil {
		writeError(w, err)
		return
	}
	size, err := common.ParseQuantity(body.Size)
	if err != nil {
		writeError(w, err)
		return
	}
	leverageCap, err := common.ParsePrice(body.LeverageCap)
	if err != nil {
		writeError(w, err)
		return
	}
	maxFundingRate, err := common.ParsePrice(body.MaxFundingRate)
	if err != nil {
		writeError(w, err)
		return
	}
	validFor, err := parseValidFor(body.ValidFor, 5*time.Minute)
	if err != nil {
		writeError(w, err)
		return
	}

	now := h.deps.Clock.Now()
	req := negotiation.Request{
		ID:             common.NewRequestId(),
		AgentID:        agentID,
		Market:         body.Market,
		Side:           side,
		Size:           size,
		LeverageCap:    leverageCap,
		MaxFundingRate: maxFundingRate,
		CreatedAt:      now,
		ExpiresAt:      now.Add(validFor),
	}
	saved, err := h.deps.Negotiation.SubmitRequest(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, requestToResponse(saved))
}

// submitQuote handles POST /trade/quote: a market maker answers a live
// request with a funding rate and posted collateral.
func (h *handlers) submitQuote(w http.ResponseWriter, r *http.Request) {
	agentID, _ := agentFromContext(r.Context())

	var body submitQuoteRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	rate, err := common.ParsePrice(body.Rate)
	if err != nil {
		writeError(w, err)
		return
	}
	collateral, err := common.ParsePrice(body.Collateral)
	if err != nil {
		writeError(w, err)
		return
	}
	validFor, err := parseValidFor(body.ValidFor, 2*time.Minute)
	if err != nil {
		writeError(w, err)
		return
	}

	now := h.deps.Clock.Now()
	quote := negotiation.Quote{
		ID:         common.NewQuoteId(),
		RequestID:  common.RequestId(body.RequestID),
		MMAgentID:  agentID,
		Rate:       rate,
		Collateral: collateral,
		CreatedAt:  now,
		ExpiresAt:  now.Add(validFor),
	}
	saved, err := h.deps.Negotiation.SubmitQuote(quote)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, quoteToResponse(saved))
}

// acceptQuote handles POST /trade/accept: the requesting agent picks one
// quote, atomically opening the position through the risk engine.
func (h *handlers) acceptQuote(w http.ResponseWriter, r *http.Request) {
	var body acceptQuoteRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	match, err := h.deps.Negotiation.Accept(common.RequestId(body.RequestID), common.QuoteId(body.QuoteID))
	if err != nil {
		writeError(w, err)
		return
	}

	h.submitSettlement(settleOpenJob{
		owner:      string(match.TraderAgent),
		market:     match.Market,
		size:       match.Size,
		entryPrice: match.EntryPrice,
	})

	writeJSON(w, http.StatusOK, acceptedMatchResponse{
		RequestID:   string(match.RequestID),
		QuoteID:     string(match.QuoteID),
		PositionID:  string(match.PositionID),
		Market:      match.Market,
		TraderAgent: string(match.TraderAgent),
		MMAgent:     string(match.MMAgent),
		EntryPrice:  match.EntryPrice.String(),
		AcceptedAt:  match.AcceptedAt,
	})
}

func (h *handlers) listRequests(w http.ResponseWriter, r *http.Request) {
	reqs := h.deps.Negotiation.ActiveRequests()
	out := make([]requestResponse, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, requestToResponse(req))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) listQuotes(w http.ResponseWriter, r *http.Request) {
	requestID := common.RequestId(r.PathValue("request_id"))
	quotes := h.deps.Negotiation.Quotes(requestID)
	out := make([]quoteResponse, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, quoteToResponse(q))
	}
	writeJSON(w, http.StatusOK, out)
}
