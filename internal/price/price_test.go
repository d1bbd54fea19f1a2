package price

import (
	"context"
	"testing"
	"time"

	"fenrir-perp/internal/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticSource_FreshQuoteReturnsPrice(t *testing.T) {
	clock := common.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	src := NewStaticSource(5*time.Second, clock)
	src.Set("BTC-PERP", decimal.NewFromInt(50000), clock.Now())

	q, err := src.GetPrice(context.Background(), "BTC-PERP")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(50000)))
}

func TestStaticSource_StaleQuoteIsRejected(t *testing.T) {
	clock := common.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	src := NewStaticSource(5*time.Second, clock)
	src.Set("BTC-PERP", decimal.NewFromInt(50000), clock.Now())

	clock.Advance(10 * time.Second)
	_, err := src.GetPrice(context.Background(), "BTC-PERP")
	require.Error(t, err)
	assert.Equal(t, common.KindUpstream, common.KindOf(err))
}

func TestStaticSource_UnknownMarketIsNotFound(t *testing.T) {
	src := NewStaticSource(0, nil)
	_, err := src.GetPrice(context.Background(), "DOGE-PERP")
	require.Error(t, err)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
}

func TestAdapter_ReturnsFalseWhenStale(t *testing.T) {
	clock := common.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	src := NewStaticSource(time.Second, clock)
	src.Set("BTC-PERP", decimal.NewFromInt(50000), clock.Now())
	clock.Advance(time.Minute)

	adapter := Adapter{Source: src}
	_, ok := adapter.LastPrice("BTC-PERP")
	assert.False(t, ok)
}
