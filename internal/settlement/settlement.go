// Package settlement is a stub client for an external settlement bridge
// service (the on-chain finality layer this venue's Non-goals explicitly
// exclude from the core trading path). Calls are logged and retried with
// backoff but never gate order placement, risk accounting, or liquidation:
// the bridge is a downstream observer, not a dependency.
package settlement

import (
	"context"
	"fmt"
	"time"

	"fenrir-perp/internal/common"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

var marketIndex = map[string]int{
	"BTC-PERP": 0,
	"ETH-PERP": 1,
	"SOL-PERP": 2,
}

type openPositionRequest struct {
	Owner       string `json:"owner"`
	MarketIndex int    `json:"market_index"`
	Size        int64  `json:"size"`
	EntryPrice  int64  `json:"entry_price"`
}

type closePositionRequest struct {
	Owner       string `json:"owner"`
	MarketIndex int    `json:"market_index"`
	ExitPrice   int64  `json:"exit_price"`
}

// Response mirrors the bridge's settlement acknowledgement.
type Response struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Client talks to the settlement bridge over HTTP; every call retries a
// fixed number of times with linear backoff and logs (never returns a fatal
// error to the caller) on exhaustion, per the bridge's fire-and-forget
// contract.
type Client struct {
	http       *resty.Client
	maxRetries int
	backoff    time.Duration
}

func NewClient(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(5 * time.Second).
			SetHeader("Content-Type", "application/json"),
		maxRetries: 3,
		backoff:    200 * time.Millisecond,
	}
}

// HealthCheck reports whether the bridge is reachable; never an error, only
// a boolean, since callers treat an unreachable bridge as "settle later".
func (c *Client) HealthCheck(ctx context.Context) bool {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	return err == nil && resp.IsSuccess()
}

// SettleOpen notifies the bridge of a new position. Size is signed
// (positive=long). Entry price is converted to the bridge's 6-decimal raw
// integer format.
func (c *Client) SettleOpen(ctx context.Context, owner, market string, size common.Quantity, entryPrice common.Price) (Response, error) {
	idx, ok := marketIndex[market]
	if !ok {
		return Response{}, common.NewError(common.KindValidation, fmt.Sprintf("unknown market for settlement: %s", market))
	}
	req := openPositionRequest{
		Owner:       owner,
		MarketIndex: idx,
		Size:        size.Shift(common.USDScale).IntPart(),
		EntryPrice:  entryPrice.Shift(common.USDScale).IntPart(),
	}
	return c.postWithRetry(ctx, "/settle/open", req)
}

// SettleClose notifies the bridge of a position close at exitPrice.
func (c *Client) SettleClose(ctx context.Context, owner, market string, exitPrice common.Price) (Response, error) {
	idx, ok := marketIndex[market]
	if !ok {
		return Response{}, common.NewError(common.KindValidation, fmt.Sprintf("unknown market for settlement: %s", market))
	}
	req := closePositionRequest{
		Owner:       owner,
		MarketIndex: idx,
		ExitPrice:   exitPrice.Shift(common.USDScale).IntPart(),
	}
	return c.postWithRetry(ctx, "/settle/close", req)
}

func (c *Client) postWithRetry(ctx context.Context, path string, body any) (Response, error) {
	var result Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(c.backoff * time.Duration(attempt))
		}
		resp, err := c.http.R().SetContext(ctx).SetBody(body).SetResult(&result).Post(path)
		if err == nil && resp.IsSuccess() {
			if !result.Success {
				log.Warn().Str("path", path).Str("error", result.Error).Msg("settlement bridge rejected request")
			}
			return result, nil
		}
		lastErr = err
		if lastErr == nil {
			lastErr = fmt.Errorf("settlement bridge returned status %d", resp.StatusCode())
		}
		log.Warn().Err(lastErr).Str("path", path).Int("attempt", attempt+1).Msg("settlement bridge call failed, retrying")
	}

	return Response{}, common.WrapError(common.KindUpstream, "settlement bridge unreachable after retries", lastErr)
}
