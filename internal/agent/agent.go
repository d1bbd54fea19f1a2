// Package agent implements registration and API-key authentication for
// agents, the identity boundary every state-mutating HTTP endpoint sits
// behind. Registration mints an opaque id and key pair; the key is never
// stored in the clear, only its hash, the same "never persist the secret"
// posture the teacher's net package takes with client sessions.
package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"fenrir-perp/internal/common"
	"fenrir-perp/internal/risk"
	"fenrir-perp/internal/store"
)

// Records is the subset of store.Store registration and auth depend on,
// kept narrow so this package can be tested without a full gorm-backed
// store.
type Records interface {
	UpsertAgent(ctx context.Context, agent store.AgentRecord) error
	GetAgent(ctx context.Context, id string) (store.AgentRecord, error)
	GetAgentByAPIKeyHash(ctx context.Context, hash string) (store.AgentRecord, error)
}

// Registry resolves API keys to agent ids and mediates registration,
// in-memory cached on top of the durable store so every authenticated
// request does not pay a database round trip.
type Registry struct {
	store Records
	risk  *risk.Engine
	clock common.Clock

	mu    sync.RWMutex
	byKey map[string]common.AgentId // api key hash -> agent id
}

func NewRegistry(s Records, riskEngine *risk.Engine, clock common.Clock) *Registry {
	if clock == nil {
		clock = common.RealClock{}
	}
	return &Registry{store: s, risk: riskEngine, clock: clock, byKey: make(map[string]common.AgentId)}
}

func hashKey(key common.APIKey) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Register mints a new agent id and API key, seeds its initial collateral in
// the risk engine, and persists the record. The key is returned exactly
// once; only its hash is ever stored.
func (r *Registry) Register(ctx context.Context, initialCollateral common.Price) (common.AgentId, common.APIKey, error) {
	id := common.NewAgentId()
	key := common.NewAPIKey()
	hash := hashKey(key)
	now := r.clock.Now()

	rec := store.AgentRecord{
		ID:         string(id),
		APIKeyHash: hash,
		Collateral: initialCollateral.String(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.UpsertAgent(ctx, rec); err != nil {
		return "", "", err
	}

	if !initialCollateral.IsZero() {
		r.risk.CreditCollateral(id, initialCollateral)
	}

	r.mu.Lock()
	r.byKey[hash] = id
	r.mu.Unlock()

	return id, key, nil
}

// Authenticate resolves an API key to its agent id, checking the in-memory
// cache before falling back to the durable store (so a process restart
// still authenticates keys issued in a prior run).
func (r *Registry) Authenticate(ctx context.Context, key common.APIKey) (common.AgentId, error) {
	hash := hashKey(key)

	r.mu.RLock()
	id, ok := r.byKey[hash]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	rec, err := r.store.GetAgentByAPIKeyHash(ctx, hash)
	if err != nil {
		return "", common.NewError(common.KindValidation, "invalid API key")
	}

	r.mu.Lock()
	r.byKey[hash] = common.AgentId(rec.ID)
	r.mu.Unlock()

	return common.AgentId(rec.ID), nil
}

// Get returns the stored record for id (a NotFound error if there is none),
// surfaced via GET /agents/{id}.
func (r *Registry) Get(ctx context.Context, id common.AgentId) (store.AgentRecord, error) {
	return r.store.GetAgent(ctx, string(id))
}

// Limits returns the agent's current risk overrides.
func (r *Registry) Limits(agent common.AgentId) risk.RiskLimits {
	return r.risk.Account(agent).Limits
}

// SetLimits overwrites the agent's risk overrides.
func (r *Registry) SetLimits(agent common.AgentId, limits risk.RiskLimits) {
	r.risk.SetLimits(agent, limits)
}
