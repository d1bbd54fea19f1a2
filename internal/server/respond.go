package server

import (
	"encoding/json"
	"net/http"

	"fenrir-perp/internal/common"
	"github.com/rs/zerolog/log"
)

// writeJSON encodes v as the response body, logging (not panicking) on a
// failed encode since the status line has already been written.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response body")
	}
}

type errorBody struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// writeError maps a common.Error's Kind to an HTTP status, per spec.md §7.
func writeError(w http.ResponseWriter, err error) {
	kind := common.KindOf(err)
	status := statusForKind(kind)
	writeJSON(w, status, errorBody{Kind: kind.String(), Reason: err.Error()})
}

func statusForKind(kind common.Kind) int {
	switch kind {
	case common.KindValidation:
		return http.StatusBadRequest
	case common.KindRiskReject:
		return http.StatusUnprocessableEntity
	case common.KindNotFound:
		return http.StatusNotFound
	case common.KindConflict:
		return http.StatusConflict
	case common.KindBusy:
		return http.StatusTooManyRequests
	case common.KindUpstream:
		return http.StatusBadGateway
	case common.KindFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
