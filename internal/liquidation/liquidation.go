// Package liquidation runs the background loop that marks open positions
// against the external price source and force-closes any that fall below
// maintenance margin.
package liquidation

import (
	"context"
	"time"

	"fenrir-perp/internal/common"
	"fenrir-perp/internal/eventbus"
	"fenrir-perp/internal/price"
	"fenrir-perp/internal/risk"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/tomb.v2"
)

// Config mirrors the source's LiquidationConfig: a fixed poll tick, the
// maximum age of a price the loop will act on, the liquidation fee rate, and
// a dry-run switch for rehearsing in production without moving money. The
// maintenance rate comes with each PositionRef.
type Config struct {
	CheckInterval time.Duration
	FreshnessBound time.Duration
	LiquidationFee common.Price
	DryRun        bool
}

func DefaultConfig() Config {
	return Config{
		CheckInterval:  time.Second,
		FreshnessBound: 10 * time.Second,
		LiquidationFee: decimal.NewFromFloat(0.01),
	}
}

// Tracker is the minimal read the loop needs over live positions: every
// (agent, market) pair currently carrying open size, and the market's
// maintenance rate.
type Tracker interface {
	OpenPositions() []PositionRef
}

type PositionRef struct {
	Agent           common.AgentId
	Market          string
	MaintenanceRate common.Price
}

// Loop is a tomb-supervised background task. It is constructed once and
// started with Run inside a *tomb.Tomb, the same way every other
// long-running component in this service starts under t.Go.
type Loop struct {
	cfg     Config
	tracker Tracker
	risk    *risk.Engine
	prices  price.Source
	bus     *eventbus.Bus
	clock   common.Clock
}

func NewLoop(cfg Config, tracker Tracker, riskEngine *risk.Engine, prices price.Source, bus *eventbus.Bus, clock common.Clock) *Loop {
	if clock == nil {
		clock = common.RealClock{}
	}
	return &Loop{cfg: cfg, tracker: tracker, risk: riskEngine, prices: prices, bus: bus, clock: clock}
}

// Run ticks at cfg.CheckInterval until t dies, finishing the current
// iteration before exiting on shutdown.
func (l *Loop) Run(t *tomb.Tomb) error {
	ticker := time.NewTicker(l.cfg.CheckInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", l.cfg.CheckInterval).Bool("dry_run", l.cfg.DryRun).Msg("liquidation loop starting")

	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			l.tick(t.Context(context.Background()))
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	refs := l.tracker.OpenPositions()
	for _, ref := range refs {
		l.checkOne(ctx, ref)
	}
}

func (l *Loop) checkOne(ctx context.Context, ref PositionRef) {
	quote, err := l.prices.GetPrice(ctx, ref.Market)
	if err != nil {
		if common.KindOf(err) == common.KindUpstream {
			log.Warn().Str("market", ref.Market).Msg("skipping liquidation check: stale or unavailable price")
			return
		}
		log.Error().Err(err).Str("market", ref.Market).Msg("price lookup failed")
		return
	}
	if l.cfg.FreshnessBound > 0 && l.clock.Now().Sub(quote.PublishedAt) > l.cfg.FreshnessBound {
		log.Warn().Str("market", ref.Market).Msg("skipping liquidation check: stale or unavailable price")
		return
	}

	pos := l.risk.Position(ref.Agent, ref.Market)
	if pos.Size.IsZero() {
		return
	}

	equity := risk.Equity(pos, quote.Price)
	// Maintenance margin is a ratio of the locked margin (the original's
	// trader_collateral), not of notional: S5's 0.5 ratio against a $100
	// margin yields a $50 maintenance margin, not $500.
	maintenanceMargin := pos.Margin.Mul(ref.MaintenanceRate)
	if !equity.LessThan(maintenanceMargin) {
		return
	}

	log.Warn().
		Str("agent", string(ref.Agent)).
		Str("market", ref.Market).
		Str("entry", pos.EntryPrice.String()).
		Str("mark", quote.Price.String()).
		Msg("liquidation threshold breached")

	if l.bus != nil {
		l.bus.Publish(eventbus.Event{
			Type:   eventbus.Liquidation,
			Market: ref.Market,
			Stream: eventbus.StreamKey{Kind: "position", ID: string(ref.Agent) + ":" + ref.Market},
			Data: LiquidationEvent{
				Agent:      ref.Agent,
				Market:     ref.Market,
				EntryPrice: pos.EntryPrice,
				MarkPrice:  quote.Price,
				Equity:     equity,
			},
		})
	}

	if l.cfg.DryRun {
		return
	}

	now := l.clock.Now()
	_, fee, ok := l.risk.CloseAtLiquidation(ref.Agent, ref.Market, quote.Price, l.cfg.LiquidationFee, now)
	if !ok {
		return // already closed by a concurrent liquidation or a manual close
	}
	log.Info().Str("agent", string(ref.Agent)).Str("market", ref.Market).Str("fee", fee.String()).Msg("position liquidated")
}

// LiquidationEvent is the payload broadcast alongside eventbus.Liquidation.
type LiquidationEvent struct {
	Agent      common.AgentId
	Market     string
	EntryPrice common.Price
	MarkPrice  common.Price
	Equity     common.Price
}
