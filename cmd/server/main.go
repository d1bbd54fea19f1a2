// Command server boots the exchange: loads configuration, wires the
// matching engine, risk engine, negotiation ledger, HTTP/websocket
// boundary, and every background loop (liquidation, funding, the demo
// market maker) under one supervising tomb, and blocks until a shutdown
// signal arrives.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fenrir-perp/internal/agent"
	"fenrir-perp/internal/common"
	"fenrir-perp/internal/config"
	"fenrir-perp/internal/demomm"
	"fenrir-perp/internal/eventbus"
	"fenrir-perp/internal/funding"
	"fenrir-perp/internal/incentives"
	"fenrir-perp/internal/liquidation"
	"fenrir-perp/internal/matching"
	"fenrir-perp/internal/negotiation"
	"fenrir-perp/internal/price"
	"fenrir-perp/internal/risk"
	"fenrir-perp/internal/server"
	"fenrir-perp/internal/settlement"
	"fenrir-perp/internal/store"
	"fenrir-perp/internal/worker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	configureLogging(cfg.Logging)

	markets := buildRegistry(cfg.Markets)
	clock := common.RealClock{}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}

	bus := eventbus.NewBus(0, time.Now)
	riskEngine := risk.NewEngine(markets)
	matchingEngine := matching.NewEngine(markets, riskEngine, bus, matchingSink{db}, clock)
	prices := buildPriceSource(cfg.Price, clock)
	ledger := negotiation.NewLedger(riskEngine, markets, price.Adapter{Source: prices}, bus, clock)
	agents := agent.NewRegistry(db, riskEngine, clock)
	leaderboard := incentives.NewTracker(bus)

	rates := funding.NewStaticRates(nil)
	for _, m := range cfg.Markets {
		rates.Set(m.Symbol, decimal.NewFromFloat(cfg.DemoMM.BaseFundingRate))
	}

	liqLoop := liquidation.NewLoop(liquidationConfigFrom(cfg.Liquidation), openPositionTracker{riskEngine, markets}, riskEngine, prices, bus, clock)
	fundingSched := funding.NewScheduler(fundingConfigFrom(cfg.Funding), fundingTracker{riskEngine}, riskEngine, rates, db, bus, clock)
	bot := demomm.NewBot(demoMMConfigFrom(cfg.DemoMM), ledger, clock)

	var settleClient *settlement.Client
	var settlePool *worker.Pool
	if cfg.Settlement.Enabled {
		settleClient = settlement.NewClient(cfg.Settlement.BaseURL)
		p := worker.NewPool(4, 256)
		settlePool = &p
	}

	srv := server.NewServer(server.Config{
		Addr:             cfg.Server.Addr,
		RateLimitPerMin:  cfg.Server.RateLimitPerMin,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		ShutdownDeadline: cfg.Server.ShutdownDeadline,
	}, server.Deps{
		Agents:      agents,
		Matching:    matchingEngine,
		Negotiation: ledger,
		Risk:        riskEngine,
		Markets:     markets,
		Prices:      prices,
		Bus:         bus,
		Store:       db,
		Leaderboard: leaderboard,
		Settlement:  settleClient,
		SettlePool:  settlePool,
		Clock:       clock,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	t, _ := tomb.WithContext(ctx)

	t.Go(func() error { return srv.Run(t) })
	t.Go(func() error { return liqLoop.Run(t) })
	t.Go(func() error { return fundingSched.Run(t) })
	t.Go(func() error { return bot.Run(t) })
	t.Go(func() error { return leaderboard.Run(t) })
	t.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-t.Dying():
				return nil
			case <-ticker.C:
				ledger.Sweep(clock.Now())
			}
		}
	})
	if httpSource, ok := prices.(*price.HTTPSource); ok {
		t.Go(func() error { return pollPrices(t, httpSource) })
	}

	log.Info().Str("addr", cfg.Server.Addr).Msg("fenrir-perp starting")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	t.Kill(nil)
	if err := t.Wait(); err != nil {
		log.Error().Err(err).Msg("shutdown completed with error")
	}
}

func configureLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func buildRegistry(cfgs []config.MarketConfig) *common.Registry {
	markets := make([]common.Market, 0, len(cfgs))
	for i, m := range cfgs {
		idx := m.Index
		if idx == 0 {
			idx = i
		}
		markets = append(markets, common.Market{
			Symbol:                m.Symbol,
			Index:                 idx,
			TickSize:              decimal.NewFromFloat(m.TickSize),
			MinLot:                decimal.NewFromFloat(m.MinLot),
			MaxLeverage:           decimal.NewFromFloat(m.MaxLeverage),
			InitialMarginRate:     decimal.NewFromFloat(m.InitialMarginRate),
			MaintenanceMarginRate: decimal.NewFromFloat(m.MaintenanceMarginRate),
			Active:                m.Active,
		})
	}
	return common.NewRegistry(markets...)
}

func buildPriceSource(cfg config.PriceConfig, clock common.Clock) price.Source {
	if cfg.Source == "http" {
		return price.NewHTTPSource(cfg.BaseURL, cfg.SymbolIDs, cfg.Freshness, clock)
	}
	static := price.NewStaticSource(cfg.Freshness, clock)
	for symbol, px := range cfg.StaticSeed {
		static.Set(symbol, decimal.NewFromFloat(px), clock.Now())
	}
	return static
}

func pollPrices(t *tomb.Tomb, src *price.HTTPSource) error {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			if err := src.Refresh(t.Context(context.Background())); err != nil {
				log.Warn().Err(err).Msg("price refresh failed")
			}
		}
	}
}

func liquidationConfigFrom(c config.LiquidationConfig) liquidation.Config {
	cfg := liquidation.DefaultConfig()
	if c.CheckInterval > 0 {
		cfg.CheckInterval = c.CheckInterval
	}
	if c.FreshnessBound > 0 {
		cfg.FreshnessBound = c.FreshnessBound
	}
	if c.LiquidationFee > 0 {
		cfg.LiquidationFee = decimal.NewFromFloat(c.LiquidationFee)
	}
	cfg.DryRun = c.DryRun
	return cfg
}

func fundingConfigFrom(c config.FundingConfig) funding.Config {
	cfg := funding.DefaultConfig()
	if c.IntervalHours > 0 {
		cfg.IntervalHours = c.IntervalHours
	}
	cfg.DryRun = c.DryRun
	cfg.RecoverMissed = c.RecoverMissed
	return cfg
}

func demoMMConfigFrom(c config.DemoMMConfig) demomm.Config {
	cfg := demomm.DefaultConfig()
	cfg.Enabled = c.Enabled
	if c.AgentID != "" {
		cfg.AgentID = common.AgentId(c.AgentID)
	}
	if c.BaseFundingRate > 0 {
		cfg.BaseFundingRate = decimal.NewFromFloat(c.BaseFundingRate)
	}
	if c.CollateralRatio > 0 {
		cfg.CollateralRatio = decimal.NewFromFloat(c.CollateralRatio)
	}
	if c.MaxQuoteNotional > 0 {
		cfg.MaxQuoteNotional = decimal.NewFromFloat(c.MaxQuoteNotional)
	}
	if c.QuoteValidFor > 0 {
		cfg.QuoteValidFor = c.QuoteValidFor
	}
	if c.PollInterval > 0 {
		cfg.PollInterval = c.PollInterval
	}
	return cfg
}

// matchingSink adapts store.Store to matching.TradeSink, translating the
// engine's market-agnostic TradeRecord into the durable schema's row.
type matchingSink struct {
	db store.Store
}

func (s matchingSink) AppendTrade(ctx context.Context, trade matching.TradeRecord) error {
	return s.db.AppendTrade(ctx, store.TradeRecord{
		ID:           trade.ID,
		Market:       trade.Market,
		Price:        trade.Price.String(),
		Quantity:     trade.Quantity.String(),
		MakerOrderID: trade.MakerOrderID,
		TakerOrderID: trade.TakerOrderID,
		MakerAgentID: trade.MakerAgentID,
		TakerAgentID: trade.TakerAgentID,
		Timestamp:    time.Unix(trade.Timestamp, 0).UTC(),
	})
}

// openPositionTracker adapts risk.Engine's global scan to the liquidation
// loop's narrower Tracker interface, attaching each market's maintenance
// rate from the registry.
type openPositionTracker struct {
	risk    *risk.Engine
	markets *common.Registry
}

func (t openPositionTracker) OpenPositions() []liquidation.PositionRef {
	positions := t.risk.AllOpenPositions()
	out := make([]liquidation.PositionRef, 0, len(positions))
	for _, p := range positions {
		m, ok := t.markets.Get(p.Market)
		if !ok {
			continue
		}
		out = append(out, liquidation.PositionRef{Agent: p.AgentID, Market: p.Market, MaintenanceRate: m.MaintenanceMarginRate})
	}
	return out
}

// fundingTracker adapts the same scan to the funding scheduler's Tracker
// interface, which carries no maintenance rate.
type fundingTracker struct {
	risk *risk.Engine
}

func (t fundingTracker) OpenPositions() []funding.PositionRef {
	positions := t.risk.AllOpenPositions()
	out := make([]funding.PositionRef, 0, len(positions))
	for _, p := range positions {
		out = append(out, funding.PositionRef{Agent: p.AgentID, Market: p.Market})
	}
	return out
}
