package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fenrir-perp/internal/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettleOpen_PostsRawIntegerEncodedRequest(t *testing.T) {
	var captured openPositionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/settle/open", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(Response{Success: true, Signature: "sig-1"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	resp, err := client.SettleOpen(context.Background(), "owner-1", "BTC-PERP", decimal.NewFromInt(2), decimal.NewFromInt(50000))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "sig-1", resp.Signature)
	assert.Equal(t, 0, captured.MarketIndex)
	assert.Equal(t, int64(2_000_000), captured.Size)
	assert.Equal(t, int64(50_000_000_000), captured.EntryPrice)
}

func TestSettleOpen_UnknownMarketIsValidationError(t *testing.T) {
	client := NewClient("http://unused")
	_, err := client.SettleOpen(context.Background(), "owner-1", "DOGE-PERP", decimal.NewFromInt(1), decimal.NewFromInt(1))
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))
}

func TestSettleClose_RetriesThenFailsOnPersistentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	client.maxRetries = 1
	client.backoff = 0
	_, err := client.SettleClose(context.Background(), "owner-1", "BTC-PERP", decimal.NewFromInt(51000))
	require.Error(t, err)
	assert.Equal(t, common.KindUpstream, common.KindOf(err))
}

func TestHealthCheck_ReturnsFalseWhenUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	assert.False(t, client.HealthCheck(context.Background()))
}
