package server

import (
	"encoding/json"
	"net/http"

	"fenrir-perp/internal/common"
	"fenrir-perp/internal/risk"
	tomb "gopkg.in/tomb.v2"
)

// handlers holds every collaborator a request handler may need; methods on
// it are registered directly against the mux rather than closures, mirroring
// the teacher's dispatch-table-of-methods style. tomb is set once, by Run,
// and only used to submit settlement jobs onto the shared worker pool.
type handlers struct {
	deps Deps
	tomb *tomb.Tomb
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return common.WrapError(common.KindValidation, "malformed request body", err)
	}
	return nil
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// registerAgent handles POST /agents/register: no auth required, since an
// API key doesn't exist yet.
func (h *handlers) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	collateral := common.Zero
	if req.InitialCollateral != "" {
		c, err := common.ParsePrice(req.InitialCollateral)
		if err != nil {
			writeError(w, err)
			return
		}
		collateral = c
	}

	id, key, err := h.deps.Agents.Register(r.Context(), collateral)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerAgentResponse{AgentID: string(id), APIKey: string(key)})
}

func (h *handlers) getAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.deps.Agents.Get(r.Context(), common.AgentId(id))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agentResponse{AgentID: rec.ID, Collateral: rec.Collateral})
}

func (h *handlers) getAgentStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stats, err := h.deps.Store.GetAgentStats(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		TotalTrades: stats.TotalTrades,
		Wins:        stats.Wins,
		Losses:      stats.Losses,
		WinRate:     stats.WinRate,
		TotalPnL:    stats.TotalPnL,
		AvgPnL:      stats.AvgPnL,
		TotalVolume: stats.TotalVolume,
	})
}

func (h *handlers) getAgentLimits(w http.ResponseWriter, r *http.Request) {
	id := common.AgentId(r.PathValue("id"))
	limits := h.deps.Agents.Limits(id)
	writeJSON(w, http.StatusOK, limitsResponseFrom(limits))
}

func limitsResponseFrom(limits risk.RiskLimits) limitsResponse {
	return limitsResponse{
		MaxPositionUSD: limits.MaxPositionUSD.String(),
		MaxLeverage:    limits.MaxLeverage.String(),
		DailyLossLimit: limits.DailyLossLimit.String(),
		MaxOpenOrders:  limits.MaxOpenOrders,
	}
}

// setAgentLimits handles POST /agents/{id}/limits. Only the agent itself may
// adjust its own limits; an operator wanting to tighten another agent's
// limits out of band would use a separate admin path, not this one.
func (h *handlers) setAgentLimits(w http.ResponseWriter, r *http.Request) {
	id := common.AgentId(r.PathValue("id"))
	caller, _ := agentFromContext(r.Context())
	if caller != id {
		writeError(w, common.NewError(common.KindValidation, "cannot modify another agent's limits"))
		return
	}

	var req setLimitsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	maxPos, err := common.ParsePrice(req.MaxPositionUSD)
	if err != nil {
		writeError(w, err)
		return
	}
	maxLev, err := common.ParsePrice(req.MaxLeverage)
	if err != nil {
		writeError(w, err)
		return
	}
	dailyLoss, err := common.ParsePrice(req.DailyLossLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	limits := risk.RiskLimits{
		MaxPositionUSD: maxPos,
		MaxLeverage:    maxLev,
		DailyLossLimit: dailyLoss,
		MaxOpenOrders:  req.MaxOpenOrders,
	}
	h.deps.Agents.SetLimits(id, limits)
	writeJSON(w, http.StatusOK, limitsResponseFrom(limits))
}

// getAgentFunding handles GET /agents/{id}/funding, summing the agent's
// recorded funding payments into a paid/received/net view.
func (h *handlers) getAgentFunding(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	payments, err := h.deps.Store.FundingPayments(r.Context(), id, 500)
	if err != nil {
		writeError(w, err)
		return
	}

	paid := common.Zero
	received := common.Zero
	for _, p := range payments {
		amount, err := common.ParsePrice(p.Amount)
		if err != nil {
			continue
		}
		if amount.IsNegative() {
			paid = paid.Add(amount.Abs())
		} else {
			received = received.Add(amount)
		}
	}
	writeJSON(w, http.StatusOK, fundingSummaryResponse{
		TotalPaid:     paid.String(),
		TotalReceived: received.String(),
		Net:           received.Sub(paid).String(),
		PaymentCount:  len(payments),
	})
}
