package app

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/config"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/crypto"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/executor"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/oracle"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/platform/binance"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/platform/paper"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/queue"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/scheduler"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/service"
)

// filterRefresh is how long exchange lot-size filters are cached.
const filterRefresh = time.Hour

// calibrationSamples is the closed-trade count before observed win/loss
// statistics drive the Kelly fraction.
const calibrationSamples = 10

// venue is where orders go and where mark prices are cached.
type venue struct {
	gateway  domain.ExecutionGateway
	resolver domain.QuantityResolver
	prices   domain.PriceCache
	exchange *binance.Client
}

// buildVenue selects the execution venue for the configured mode. Both modes
// read exchange filters and fallback prices from the public REST API; only
// live mode signs orders.
func buildVenue(cfg *config.Config, infra *Infra, logger *slog.Logger) (venue, error) {
	prices := infra.PriceCache
	if prices == nil {
		prices = paper.NewPrices()
	}
	exCfg := binance.Config{
		BaseURL:         cfg.Exchange.BaseURL,
		OrdersPerSecond: cfg.Exchange.OrdersPerSecond,
		Timeout:         cfg.Exchange.RequestTimeout.Duration,
	}

	switch strings.ToLower(cfg.Mode) {
	case "paper":
		exchange := binance.NewClient(exCfg, logger)
		return venue{
			gateway: paper.NewGateway(prices, exchange, paper.Config{
				MaxAge:      cfg.Redis.PriceTTL.Duration,
				SlippageBps: cfg.Trading.SlippageBps,
			}, logger),
			// Simulated fills keep symbol validation and precision but skip
			// the exchange's lot and notional minimums.
			resolver: binance.NewResolver(binance.SimulatedFilters(exchange), filterRefresh),
			prices:   prices,
			exchange: exchange,
		}, nil

	case "live":
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:     cfg.Exchange.APISecret,
			EncryptedPath: cfg.Exchange.EncryptedSecretPath,
			Password:      cfg.Exchange.SecretPassword,
		})
		if err != nil {
			return venue{}, fmt.Errorf("app: exchange secret: %w", err)
		}
		exCfg.Auth = &crypto.HMACAuth{
			Key:        cfg.Exchange.APIKey,
			Secret:     secret,
			RecvWindow: time.Duration(cfg.Exchange.RecvWindowMs) * time.Millisecond,
		}
		exchange := binance.NewClient(exCfg, logger)
		return venue{
			gateway:  exchange,
			resolver: binance.NewResolver(exchange, filterRefresh),
			prices:   prices,
			exchange: exchange,
		}, nil

	default:
		return venue{}, fmt.Errorf("app: unsupported mode %q", cfg.Mode)
	}
}

// core is the control graph: ledgers, governor, coordinator and loops.
type core struct {
	capital  *service.CapitalLedger
	exposure *service.ExposureTracker
	risk     *service.RiskGovernor
	ledger   *service.PositionLedger
	sizer    *service.PositionSizer
	coord    *executor.Coordinator
	consumer *executor.SignalConsumer
	queue    domain.OpportunityQueue
	oracle   *oracle.Momentum
	ctrl     *scheduler.Controller
}

// buildCore constructs the controller. q may be nil, in which case signals
// queue in memory.
func buildCore(
	cfg *config.Config,
	v venue,
	q domain.OpportunityQueue,
	positions domain.PositionStore,
	events domain.EventPublisher,
	logger *slog.Logger,
) (*core, error) {
	t := cfg.Trading
	if q == nil {
		q = queue.NewMemory()
	}

	capital := service.NewCapitalLedger(decimal.NewFromFloat(t.InitialCapital))
	exposure := service.NewExposureTracker(capital, service.ExposureLimits{
		SymbolPct:   t.MaxSymbolExposurePct,
		CategoryPct: t.MaxCategoryExposurePct,
	})
	risk := service.NewRiskGovernor(capital, service.RiskConfig{
		MaxDailyDrawdown: t.MaxDailyDrawdown,
		HardStop:         t.RiskHardStop,
	}, events, logger)
	ledger := service.NewPositionLedger(capital, exposure, risk, events, logger)
	sizer := service.NewPositionSizer(capital, service.SizerConfig{
		SeedMultiplier:  t.SeedMultiplier,
		MaxRiskPerTrade: t.MaxRiskPerTrade,
		KellyFactor:     t.KellyFactor,
		MinSamples:      calibrationSamples,
	})
	admission := service.NewAdmissionController(
		ledger, exposure, risk, sizer,
		service.NewStaticCategorizer(t.Categories),
		service.AdmissionConfig{
			MinConfidence:          t.MinConfidence,
			MinConsciousness:       t.MinConsciousness,
			MinAlignment:           t.MinAlignment,
			MaxConcurrentPositions: t.MaxConcurrentPositions,
			SeedAmount:             decimal.NewFromFloat(t.SeedAmount),
		},
		logger,
	)
	coord := executor.NewCoordinator(admission, ledger, capital, exposure, risk, v.gateway, v.resolver, events, logger)
	consumer := executor.NewSignalConsumer(q, coord, events, executor.ConsumerConfig{
		BatchSize: t.SignalBatchSize,
		TTL:       t.SignalTTL.Duration,
	}, logger)
	momentum := oracle.NewMomentum(t.Symbols, oracle.DefaultConfig(), logger)

	ctrl, err := scheduler.New(scheduler.Deps{
		Oracle:      momentum,
		Gateway:     v.gateway,
		Coordinator: coord,
		Consumer:    consumer,
		Ledger:      ledger,
		Risk:        risk,
		Sizer:       sizer,
		Positions:   positions,
	}, scheduler.Config{
		EvaluateInterval:     t.EvaluateInterval.Duration,
		MonitorInterval:      t.MonitorInterval.Duration,
		SignalInterval:       t.SignalEvery(),
		HousekeepingInterval: t.HousekeepingInterval.Duration,
		ExitPolicy: service.ExitPolicy{
			MaxPositionTime:        t.MaxPositionTime.Duration,
			SignalDropThreshold:    t.SignalDropThreshold,
			ProfitTargetMultiplier: t.ProfitTargetMultiplier,
			TrailingActivation:     t.TrailingActivation,
			TrailingLockFraction:   t.TrailingLockFraction,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("app: build controller: %w", err)
	}

	return &core{
		capital:  capital,
		exposure: exposure,
		risk:     risk,
		ledger:   ledger,
		sizer:    sizer,
		coord:    coord,
		consumer: consumer,
		queue:    q,
		oracle:   momentum,
		ctrl:     ctrl,
	}, nil
}
