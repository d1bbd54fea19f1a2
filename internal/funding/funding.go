// Package funding implements the periodic funding scheduler: every interval
// (default 8 hours), each active position has a signed funding payment
// applied, sized against its market's funding rate.
package funding

import (
	"context"
	"time"

	"fenrir-perp/internal/common"
	"fenrir-perp/internal/eventbus"
	"fenrir-perp/internal/risk"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/tomb.v2"
)

// RateSource supplies the current annualised funding rate for a market. A
// positive rate transfers value from the long side to the short side.
type RateSource interface {
	FundingRate(market string) (common.Price, bool)
}

// StaticRates is a fixed-table RateSource for tests and simple deployments.
type StaticRates struct {
	rates map[string]common.Price
}

func NewStaticRates(rates map[string]common.Price) *StaticRates {
	if rates == nil {
		rates = make(map[string]common.Price)
	}
	return &StaticRates{rates: rates}
}

func (r *StaticRates) Set(market string, rate common.Price) { r.rates[market] = rate }

func (r *StaticRates) FundingRate(market string) (common.Price, bool) {
	rate, ok := r.rates[market]
	return rate, ok
}

// Tracker lists every (agent, market) with open size. The liquidation loop
// has its own Tracker, whose PositionRef also carries a maintenance rate.
type Tracker interface {
	OpenPositions() []PositionRef
}

type PositionRef struct {
	Agent  common.AgentId
	Market string
}

type Config struct {
	IntervalHours int
	DryRun        bool
	// RecoverMissed, when true, pays out intervals missed while the process
	// was down. Default false: missed intervals are never retroactively paid.
	RecoverMissed bool
}

func DefaultConfig() Config {
	return Config{IntervalHours: 8}
}

// Payment is an append-only funding record.
type Payment struct {
	Agent     common.AgentId
	Market    string
	Rate      common.Price
	Notional  common.Price
	Amount    common.Price // signed from this position's perspective: negative = paid, positive = received
	SettledAt time.Time
}

// Recorder persists Payments; internal/store provides the durable
// implementation. Dry-run mode never calls it.
type Recorder interface {
	SaveFundingPayment(ctx context.Context, p Payment) error
}

// Scheduler wakes on real-clock boundaries aligned to the interval (00:00,
// 08:00, 16:00 UTC for the default 8h interval) and settles every open
// position against its market's funding rate.
type Scheduler struct {
	cfg      Config
	tracker  Tracker
	risk     *risk.Engine
	rates    RateSource
	recorder Recorder
	bus      *eventbus.Bus
	clock    common.Clock
}

func NewScheduler(cfg Config, tracker Tracker, riskEngine *risk.Engine, rates RateSource, recorder Recorder, bus *eventbus.Bus, clock common.Clock) *Scheduler {
	if clock == nil {
		clock = common.RealClock{}
	}
	return &Scheduler{cfg: cfg, tracker: tracker, risk: riskEngine, rates: rates, recorder: recorder, bus: bus, clock: clock}
}

// nextBoundary returns the next clock-aligned interval boundary strictly
// after now, e.g. for an 8h interval: 00:00, 08:00, 16:00 UTC.
func nextBoundary(now time.Time, intervalHours int) time.Time {
	if intervalHours <= 0 {
		intervalHours = 8
	}
	utc := now.UTC()
	dayStart := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	elapsed := utc.Sub(dayStart)
	interval := time.Duration(intervalHours) * time.Hour
	periodsElapsed := elapsed / interval
	next := dayStart.Add((periodsElapsed + 1) * interval)
	return next
}

// Run blocks, settling funding at every aligned boundary, until t dies.
func (s *Scheduler) Run(t *tomb.Tomb) error {
	log.Info().Int("interval_hours", s.cfg.IntervalHours).Bool("dry_run", s.cfg.DryRun).Msg("funding scheduler starting")

	for {
		wait := nextBoundary(s.clock.Now(), s.cfg.IntervalHours).Sub(s.clock.Now())
		timer := time.NewTimer(wait)
		select {
		case <-t.Dying():
			timer.Stop()
			return nil
		case <-timer.C:
			s.Settle(t.Context(context.Background()))
		}
	}
}

// Settle applies one funding round to every open position. Exported so a
// recovery flag or a test can invoke it outside the real-clock loop.
func (s *Scheduler) Settle(ctx context.Context) int {
	refs := s.tracker.OpenPositions()
	now := s.clock.Now()
	settled := 0

	intervalHours := s.cfg.IntervalHours
	if intervalHours <= 0 {
		intervalHours = 8
	}
	periodsPerYear := decimal.NewFromInt(24 * 365).Div(decimal.NewFromInt(int64(intervalHours)))

	for _, ref := range refs {
		rate, ok := s.rates.FundingRate(ref.Market)
		if !ok {
			continue
		}
		pos := s.risk.Position(ref.Agent, ref.Market)
		if pos.Size.IsZero() {
			continue
		}

		notional := pos.Size.Abs().Mul(pos.EntryPrice)
		magnitude := notional.Mul(rate).Div(periodsPerYear)

		sign := common.One
		if pos.Size.Sign() > 0 {
			sign = sign.Neg()
		}
		amount := magnitude.Mul(sign)

		payment := Payment{
			Agent:     ref.Agent,
			Market:    ref.Market,
			Rate:      rate,
			Notional:  notional,
			Amount:    amount,
			SettledAt: now,
		}

		if !s.cfg.DryRun {
			s.risk.ApplyFunding(ref.Agent, ref.Market, amount, now)
			if s.recorder != nil {
				if err := s.recorder.SaveFundingPayment(ctx, payment); err != nil {
					log.Warn().Err(err).Str("agent", string(ref.Agent)).Msg("failed to persist funding payment")
				}
			}
		}

		if s.bus != nil {
			s.bus.Publish(eventbus.Event{
				Type:   eventbus.FundingApplied,
				Market: ref.Market,
				Stream: eventbus.StreamKey{Kind: "position", ID: string(ref.Agent) + ":" + ref.Market},
				Data:   payment,
			})
		}
		settled++
	}

	log.Info().Int("settled", settled).Msg("funding settlement complete")
	return settled
}
