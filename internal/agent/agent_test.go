package agent

import (
	"context"
	"testing"
	"time"

	"fenrir-perp/internal/common"
	"fenrir-perp/internal/risk"
	"fenrir-perp/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecords struct {
	byID  map[string]store.AgentRecord
	byKey map[string]store.AgentRecord
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{byID: make(map[string]store.AgentRecord), byKey: make(map[string]store.AgentRecord)}
}

func (f *fakeRecords) UpsertAgent(ctx context.Context, a store.AgentRecord) error {
	f.byID[a.ID] = a
	f.byKey[a.APIKeyHash] = a
	return nil
}

func (f *fakeRecords) GetAgent(ctx context.Context, id string) (store.AgentRecord, error) {
	a, ok := f.byID[id]
	if !ok {
		return store.AgentRecord{}, common.NewError(common.KindNotFound, "agent not found")
	}
	return a, nil
}

func (f *fakeRecords) GetAgentByAPIKeyHash(ctx context.Context, hash string) (store.AgentRecord, error) {
	a, ok := f.byKey[hash]
	if !ok {
		return store.AgentRecord{}, common.NewError(common.KindNotFound, "agent not found")
	}
	return a, nil
}

func newTestRegistry() (*Registry, *fakeRecords) {
	clock := common.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	markets := common.NewRegistry()
	riskEngine := risk.NewEngine(markets)
	records := newFakeRecords()
	return NewRegistry(records, riskEngine, clock), records
}

func TestRegister_ReturnsUsableKeyAndCreditsCollateral(t *testing.T) {
	reg, _ := newTestRegistry()
	id, key, err := reg.Register(context.Background(), decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NotEmpty(t, key)

	got, err := reg.Authenticate(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	account, err := reg.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "1000", account.Collateral)
}

func TestAuthenticate_UnknownKeyIsRejected(t *testing.T) {
	reg, _ := newTestRegistry()
	_, err := reg.Authenticate(context.Background(), common.NewAPIKey())
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))
}

func TestAuthenticate_FallsBackToStoreAfterCacheReset(t *testing.T) {
	reg, records := newTestRegistry()
	id, key, err := reg.Register(context.Background(), decimal.Zero)
	require.NoError(t, err)

	// Simulate a fresh process with an empty cache but the same durable records.
	freshReg := NewRegistry(records, risk.NewEngine(common.NewRegistry()), common.NewManualClock(time.Now()))
	got, err := freshReg.Authenticate(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestSetLimits_OverridesAccountLimits(t *testing.T) {
	reg, _ := newTestRegistry()
	id, _, err := reg.Register(context.Background(), decimal.Zero)
	require.NoError(t, err)

	limits := risk.DefaultRiskLimits()
	limits.MaxLeverage = decimal.NewFromInt(3)
	reg.SetLimits(id, limits)

	got := reg.Limits(id)
	assert.True(t, got.MaxLeverage.Equal(decimal.NewFromInt(3)))
}
