// Package demomm implements a background market maker that auto-quotes
// every open negotiation Request, so a single operator can exercise the
// P2P negotiation flow without running a second real agent. Disabled by
// default; toggled via configuration.
package demomm

import (
	"time"

	"fenrir-perp/internal/common"
	"fenrir-perp/internal/negotiation"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/tomb.v2"
)

var leverageMultiplierStep = decimal.NewFromFloat(0.05)

// Config mirrors the knobs the demo bot exposes: a base funding rate it
// quotes at (scaled up with requested leverage), a collateral ratio against
// notional, a size ceiling above which it stays out, and how long its
// quotes stay valid.
type Config struct {
	AgentID          common.AgentId
	BaseFundingRate  common.Price
	CollateralRatio  common.Price
	MaxQuoteNotional common.Price
	QuoteValidFor    time.Duration
	PollInterval     time.Duration
	Enabled          bool
}

func DefaultConfig() Config {
	return Config{
		AgentID:          "demo_mm_bot",
		BaseFundingRate:  decimal.NewFromFloat(0.008),
		CollateralRatio:  decimal.NewFromFloat(0.15),
		MaxQuoteNotional: decimal.NewFromInt(10000),
		QuoteValidFor:    5 * time.Minute,
		PollInterval:     2 * time.Second,
		Enabled:          false,
	}
}

// Bot polls the negotiation ledger for requests it hasn't already quoted and
// answers each with a funding rate scaled by the requested leverage.
type Bot struct {
	cfg    Config
	ledger *negotiation.Ledger
	clock  common.Clock

	quoted map[common.RequestId]bool
}

func NewBot(cfg Config, ledger *negotiation.Ledger, clock common.Clock) *Bot {
	if clock == nil {
		clock = common.RealClock{}
	}
	return &Bot{cfg: cfg, ledger: ledger, clock: clock, quoted: make(map[common.RequestId]bool)}
}

// Run polls every PollInterval until t dies. A no-op when the bot is
// disabled in config.
func (b *Bot) Run(t *tomb.Tomb) error {
	if !b.cfg.Enabled {
		log.Info().Msg("demo mm disabled")
		return nil
	}
	log.Info().
		Str("agent_id", string(b.cfg.AgentID)).
		Str("base_funding_rate", b.cfg.BaseFundingRate.String()).
		Msg("demo mm starting")

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *Bot) tick() {
	now := b.clock.Now()
	for _, req := range b.ledger.ActiveRequests() {
		if req.Expired(now) || b.alreadyQuoted(req.ID) {
			continue
		}
		b.quoteOne(req, now)
	}
}

func (b *Bot) alreadyQuoted(id common.RequestId) bool {
	if b.quoted[id] {
		return true
	}
	for _, q := range b.ledger.Quotes(id) {
		if q.MMAgentID == b.cfg.AgentID {
			b.quoted[id] = true
			return true
		}
	}
	return false
}

func (b *Bot) quoteOne(req negotiation.Request, now time.Time) {
	notional := req.Size.Mul(common.One) // requests are already sized in USDC notional terms
	if notional.GreaterThan(b.cfg.MaxQuoteNotional) {
		log.Debug().Str("request_id", string(req.ID)).Msg("demo mm: skipping, request too large")
		return
	}

	leverageMult := common.One.Add(req.LeverageCap.Sub(common.One).Mul(leverageMultiplierStep))
	fundingRate := b.cfg.BaseFundingRate.Mul(leverageMult)
	if fundingRate.GreaterThan(req.MaxFundingRate) {
		log.Debug().Str("request_id", string(req.ID)).Msg("demo mm: funding rate above requester's ceiling")
		return
	}

	collateral := notional.Mul(b.cfg.CollateralRatio).Div(req.LeverageCap)

	quote := negotiation.Quote{
		ID:         common.NewQuoteId(),
		RequestID:  req.ID,
		MMAgentID:  b.cfg.AgentID,
		Rate:       fundingRate,
		Collateral: collateral,
		CreatedAt:  now,
		ExpiresAt:  now.Add(b.cfg.QuoteValidFor),
	}

	if _, err := b.ledger.SubmitQuote(quote); err != nil {
		log.Warn().Err(err).Str("request_id", string(req.ID)).Msg("demo mm: quote rejected")
		return
	}
	b.quoted[req.ID] = true
	log.Info().
		Str("market", req.Market).
		Str("request_id", string(req.ID)).
		Str("funding_rate", fundingRate.String()).
		Msg("demo mm quoted")
}
