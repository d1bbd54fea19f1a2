package price

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"fenrir-perp/internal/common"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// HTTPSource polls a CoinGecko-shaped simple-price endpoint and caches the
// result per market, the same "poll on a ticker, update a shared table"
// shape as the source's price feed.
type HTTPSource struct {
	client    *resty.Client
	symbolIDs map[string]string // our market symbol -> upstream coin id
	freshness time.Duration
	clock     common.Clock

	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewHTTPSource(baseURL string, symbolIDs map[string]string, freshness time.Duration, clock common.Clock) *HTTPSource {
	if clock == nil {
		clock = common.RealClock{}
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", "fenrir-perp/1.0").
		SetTimeout(5 * time.Second)
	return &HTTPSource{
		client:    client,
		symbolIDs: symbolIDs,
		freshness: freshness,
		clock:     clock,
		quotes:    make(map[string]Quote),
	}
}

type simplePriceResponse map[string]map[string]float64

// Refresh fetches every configured market's price in one request and
// updates the cache. Errors are logged and swallowed by the caller's poll
// loop; a failed refresh just leaves the previous quote to age toward
// staleness rather than wiping it.
func (s *HTTPSource) Refresh(ctx context.Context) error {
	ids := make([]string, 0, len(s.symbolIDs))
	for _, id := range s.symbolIDs {
		ids = append(ids, id)
	}

	var body simplePriceResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("ids", strings.Join(ids, ",")).
		SetQueryParam("vs_currencies", "usd").
		SetResult(&body).
		Get("/simple/price")
	if err != nil {
		return common.WrapError(common.KindUpstream, "price source request failed", err)
	}
	if resp.IsError() {
		return common.NewError(common.KindUpstream, fmt.Sprintf("price source returned %s", resp.Status()))
	}

	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for symbol, coinID := range s.symbolIDs {
		usd, ok := body[coinID]
		if !ok {
			log.Warn().Str("market", symbol).Str("coin_id", coinID).Msg("price source missing entry")
			continue
		}
		px, ok := usd["usd"]
		if !ok {
			continue
		}
		s.quotes[symbol] = Quote{Price: common.RoundPrice(decimal.NewFromFloat(px)), PublishedAt: now}
	}
	return nil
}

func (s *HTTPSource) GetPrice(ctx context.Context, market string) (Quote, error) {
	s.mu.RLock()
	q, ok := s.quotes[market]
	s.mu.RUnlock()
	if !ok {
		return Quote{}, ErrUnknownMarket
	}
	if s.freshness > 0 && s.clock.Now().Sub(q.PublishedAt) > s.freshness {
		return Quote{}, ErrStale
	}
	return q, nil
}

