package risk

import (
	"sort"
	"sync"
	"time"

	"fenrir-perp/internal/common"
)

const shardCount = 32

type shard struct {
	mu        sync.Mutex
	accounts  map[common.AgentId]*Account
	positions map[common.AgentId]map[string]*Position
}

// Engine holds every agent's account and positions, sharded by agent id so
// that unrelated agents never contend on the same lock. A fill touching two
// agents (maker and taker) takes both shard locks in canonical agent-id
// order to avoid deadlock, per the Design Notes.
type Engine struct {
	shards  [shardCount]*shard
	markets *common.Registry
}

func NewEngine(markets *common.Registry) *Engine {
	e := &Engine{markets: markets}
	for i := range e.shards {
		e.shards[i] = &shard{
			accounts:  make(map[common.AgentId]*Account),
			positions: make(map[common.AgentId]map[string]*Position),
		}
	}
	return e
}

func (e *Engine) shardFor(agent common.AgentId) *shard {
	h := fnv32(string(agent))
	return e.shards[h%shardCount]
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// withAgents acquires both agents' shard locks in canonical order (by the
// shard pointer's slice index, a stable total order within one Engine) and
// runs fn. If a == b only one lock is taken.
func (e *Engine) withAgents(a, b common.AgentId, fn func(sa, sb *shard)) {
	shA, shB := e.shardFor(a), e.shardFor(b)
	if shA == shB {
		shA.mu.Lock()
		defer shA.mu.Unlock()
		fn(shA, shA)
		return
	}
	first, second := shA, shB
	if indexOf(e.shards[:], shB) < indexOf(e.shards[:], shA) {
		first, second = shB, shA
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()
	fn(shA, shB)
}

func indexOf(shards []*shard, target *shard) int {
	for i, s := range shards {
		if s == target {
			return i
		}
	}
	return -1
}

func (s *shard) account(agent common.AgentId) *Account {
	a, ok := s.accounts[agent]
	if !ok {
		na := NewAccount(agent)
		a = &na
		s.accounts[agent] = a
	}
	return a
}

func (s *shard) position(agent common.AgentId, market string) *Position {
	byMarket, ok := s.positions[agent]
	if !ok {
		byMarket = make(map[string]*Position)
		s.positions[agent] = byMarket
	}
	p, ok := byMarket[market]
	if !ok {
		np := NewPosition(agent, market)
		p = &np
		byMarket[market] = p
	}
	return p
}

// Account returns a copy of the agent's account, creating a default one on
// first access.
func (e *Engine) Account(agent common.AgentId) Account {
	sh := e.shardFor(agent)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return *sh.account(agent)
}

func (e *Engine) Position(agent common.AgentId, market string) Position {
	sh := e.shardFor(agent)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return *sh.position(agent, market)
}

func (e *Engine) Positions(agent common.AgentId) []Position {
	sh := e.shardFor(agent)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	byMarket := sh.positions[agent]
	out := make([]Position, 0, len(byMarket))
	for _, p := range byMarket {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Market < out[j].Market })
	return out
}

// AllOpenPositions scans every shard for non-flat positions, used by the
// liquidation loop and the funding scheduler to discover what to check
// without either owning its own index of live positions.
func (e *Engine) AllOpenPositions() []Position {
	out := make([]Position, 0)
	for _, sh := range e.shards {
		sh.mu.Lock()
		for _, byMarket := range sh.positions {
			for _, p := range byMarket {
				if !p.Size.IsZero() {
					out = append(out, *p)
				}
			}
		}
		sh.mu.Unlock()
	}
	return out
}

// Fill is one side of a trade: which agent, which direction, how much, at
// what price, requested at what leverage.
type Fill struct {
	Agent     common.AgentId
	Market    string
	SizeDelta common.Quantity // signed: positive increases long exposure
	Price     common.Price
	Leverage  common.Price
}

// ApplyCrossFill applies both sides of a trade (maker and taker) under the
// canonical lock order, so the pair is atomic with respect to any other
// operation touching either agent.
func (e *Engine) ApplyCrossFill(maker, taker Fill, maintenanceRate common.Price, now time.Time) (makerPos, takerPos Position) {
	e.withAgents(maker.Agent, taker.Agent, func(shMaker, shTaker *shard) {
		mp := shMaker.position(maker.Agent, maker.Market)
		*mp = ApplyFill(*mp, maker.SizeDelta, maker.Price, maker.Leverage, maintenanceRate, now)
		makerPos = *mp

		tp := shTaker.position(taker.Agent, taker.Market)
		*tp = ApplyFill(*tp, taker.SizeDelta, taker.Price, taker.Leverage, maintenanceRate, now)
		takerPos = *tp
	})
	return makerPos, takerPos
}

// PreTradeCheck reads the agent's account and the locked margin across all
// of its open positions, then delegates to the pure check.
func (e *Engine) PreTradeCheck(agent common.AgentId, marketMaxLeverage common.Price, intent TradeIntent, now time.Time) error {
	sh := e.shardFor(agent)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	account := *sh.account(agent)
	var lockedMargin common.Price = common.Zero
	for _, p := range sh.positions[agent] {
		lockedMargin = lockedMargin.Add(p.Margin)
	}
	return PreTradeCheck(account, lockedMargin, marketMaxLeverage, intent, now)
}

// SetLimits overwrites the agent's risk overrides, used by the
// /agents/{id}/limits endpoint. Unlike a fill, this never touches another
// agent's shard.
func (e *Engine) SetLimits(agent common.AgentId, limits RiskLimits) {
	sh := e.shardFor(agent)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.account(agent).Limits = limits
}

// CreditCollateral adds amount to the agent's free collateral balance, used
// by agent registration (initial deposit) and any out-of-band top-up.
func (e *Engine) CreditCollateral(agent common.AgentId, amount common.Price) Account {
	sh := e.shardFor(agent)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	acc := sh.account(agent)
	acc.Collateral = acc.Collateral.Add(amount)
	return *acc
}

// TripBreaker and ResetBreaker expose the circuit breaker to callers that
// observe a daily-loss or compliance breach out of band.
func (e *Engine) TripBreaker(agent common.AgentId, now time.Time, cooldown time.Duration) {
	sh := e.shardFor(agent)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.account(agent).Breaker.Trip(now, cooldown)
}

func (e *Engine) ResetBreaker(agent common.AgentId) {
	sh := e.shardFor(agent)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.account(agent).Breaker.Reset()
}

// CloseAtLiquidation force-closes a position at the given mark price,
// booking size × (mark − entry) into the position's RealizedPnL. It returns
// the margin that was locked in the position and a fee of feeRate × that
// margin. No counterparty or insurance balance is credited, and the agent's
// collateral is left unchanged. Used exclusively by the liquidation loop.
func (e *Engine) CloseAtLiquidation(agent common.AgentId, market string, markPrice, feeRate common.Price, now time.Time) (closedMargin, fee common.Price, ok bool) {
	sh := e.shardFor(agent)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p := sh.position(agent, market)
	if p.Size.IsZero() {
		return common.Zero, common.Zero, false
	}

	margin := p.Margin
	fee = margin.Mul(feeRate)
	realized := p.Size.Mul(markPrice.Sub(p.EntryPrice))
	p.RealizedPnL = p.RealizedPnL.Add(realized)
	p.Size = common.Zero
	p.EntryPrice = common.Zero
	p.Margin = common.Zero
	p.UpdatedAt = now
	p.LiquidationPx = common.Zero

	return margin, fee, true
}

// ApplyFunding adjusts a position's margin by a signed amount (negative =
// paid out, positive = received) and stamps LastFundingAt. Used exclusively
// by the funding scheduler.
func (e *Engine) ApplyFunding(agent common.AgentId, market string, amount common.Price, now time.Time) Position {
	sh := e.shardFor(agent)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p := sh.position(agent, market)
	p.Margin = p.Margin.Add(amount)
	p.LastFundingAt = now
	p.UpdatedAt = now
	return *p
}
