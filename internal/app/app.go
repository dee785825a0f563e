package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"circuit-keeper/internal/alerts"
	"circuit-keeper/internal/auction"
	"circuit-keeper/internal/config"
	"circuit-keeper/internal/exchange"
	"circuit-keeper/internal/feed"
	"circuit-keeper/internal/hedge"
	"circuit-keeper/internal/history"
	"circuit-keeper/internal/ledger"
	"circuit-keeper/internal/metrics"
	"circuit-keeper/internal/state"
	"circuit-keeper/internal/state/sqlite"
	"circuit-keeper/internal/submit"
	"circuit-keeper/internal/trigger"
)

// App owns one configured keeper and everything it needs to run cycles
// until the context ends.
type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *sqlite.Store
	ledger    *ledger.RPCClient
	submitter *submit.Submitter
	runner    *actionRunner
	keeper    Keeper
	metrics   *metrics.Metrics
	promSrv   *http.Server
	alerts    *alerts.Telegram
	history   *history.Writer

	// set for the liquidation-bid keeper only
	ws     *feed.WSClient
	book   *feed.OrderBook
	bidder *liquidationBidKeeper
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	rpc := ledger.NewRPCClient(cfg.RPC.BaseURL, cfg.RPC.Timeout, log)
	backoff := submit.Backoff{
		Base:        cfg.Submit.BackoffBase,
		Multiplier:  cfg.Submit.BackoffMultiplier,
		Cap:         cfg.Submit.BackoffCap,
		MaxAttempts: cfg.Submit.MaxAttempts,
	}
	submitter := submit.New(rpc, submit.RealClock(), backoff, cfg.Submit.BroadcastRetries, log)

	m := metrics.NewNoop()
	var promSrv *http.Server
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		m = prom.Metrics
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler())
		promSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
	}

	alertsClient := alerts.NewTelegram(cfg.Telegram, log)
	historyWriter, err := history.New(cfg.History, log)
	if err != nil {
		return nil, err
	}

	runner := &actionRunner{
		ledger:    rpc,
		submitter: submitter,
		builder:   newPayloadBuilder(cfg.Submit.FeePerCost),
		policy: trigger.Policy{
			CollateralAsset:     cfg.Policy.CollateralAsset,
			LiquidationRatio:    cfg.Policy.LiquidationRatio,
			LiquidationDiscount: cfg.Policy.LiquidationDiscount,
			PriceMaxAge:         cfg.Policy.PriceMaxAge,
			TreasuryMinimum:     cfg.Policy.TreasuryMinimum,
			TreasurySurplus:     cfg.Policy.TreasurySurplus,
		},
		metrics: m,
		log:     log,
		now:     time.Now,
	}

	a := &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		ledger:    rpc,
		submitter: submitter,
		runner:    runner,
		metrics:   m,
		promSrv:   promSrv,
		alerts:    alertsClient,
		history:   historyWriter,
	}
	keeper, err := a.buildKeeper(runner)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.keeper = keeper
	return a, nil
}

func (a *App) buildKeeper(runner *actionRunner) (Keeper, error) {
	cfg := a.cfg
	switch cfg.Bot.Kind {
	case "liquidation-start":
		return &liquidationStartKeeper{runner: runner}, nil
	case "bad-debt":
		return &badDebtKeeper{runner: runner, continueDelay: cfg.Bot.ContinueDelay}, nil
	case "surplus":
		return &surplusKeeper{runner: runner}, nil
	case "recharge":
		return &rechargeKeeper{
			runner:       runner,
			settleAll:    cfg.Policy.SettleAll,
			settleTarget: cfg.Policy.SettleTarget,
		}, nil
	case "oracle-update":
		aggregator, err := a.buildAggregator()
		if err != nil {
			return nil, err
		}
		return &oracleUpdateKeeper{
			runner:     runner,
			feed:       aggregator,
			instrument: cfg.Feed.Instrument,
			asset:      cfg.Policy.CollateralAsset,
			deviation:  cfg.Policy.OracleDeviation,
			maxAge:     cfg.Policy.PriceMaxAge,
		}, nil
	case "liquidation-bid":
		return a.buildBidKeeper(runner)
	default:
		return nil, fmt.Errorf("unknown bot kind %q", cfg.Bot.Kind)
	}
}

func (a *App) buildAggregator() (*feed.Aggregator, error) {
	cfg := a.cfg
	var sources []feed.Source
	if cfg.Feed.BaseURL != "" {
		sources = append(sources, feed.NewRESTClient("primary", cfg.Feed.BaseURL, cfg.Feed.Timeout, a.log))
	}
	for _, src := range cfg.Feed.Sources {
		sources = append(sources, feed.NewRESTClient(src.Name, src.BaseURL, cfg.Feed.Timeout, a.log))
	}
	if len(sources) == 0 {
		return nil, errors.New("feed.base_url or feed.sources is required")
	}
	return feed.NewAggregator(sources, cfg.Feed.MinValidFeeds, cfg.Feed.MaxDeviation, cfg.Policy.PriceMaxAge, a.log), nil
}

func (a *App) buildBidKeeper(runner *actionRunner) (Keeper, error) {
	cfg := a.cfg
	signer, err := exchange.NewSigner(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("exchange credentials: %w", err)
	}
	venue, err := exchange.NewClient(cfg.Exchange.BaseURL, cfg.Exchange.Timeout, signer, a.log)
	if err != nil {
		return nil, err
	}
	instrument := cfg.Policy.HedgeInstrument
	if instrument == "" {
		instrument = cfg.Feed.Instrument
	}
	hedger, err := hedge.NewCoordinator(venue, a.store, hedge.Config{
		Instrument:  instrument,
		LimitBuffer: cfg.Policy.HedgeLimitBuffer,
		Tolerance:   cfg.Policy.HedgeTolerance,
	}, a.log)
	if err != nil {
		return nil, err
	}

	a.book = feed.NewOrderBook(cfg.Feed.Instrument)
	a.ws = feed.NewWSClient(cfg.Feed.WSURL, cfg.Feed.ReconnectDelay, cfg.Feed.PingInterval, a.log)

	coordinator := auction.NewCoordinator(a.submitter, runner.builder, a.book, hedger, auction.Policy{
		MaxBidAmount: cfg.Policy.MaxBidAmount,
		MaxBidPrice:  cfg.Policy.MaxBidPrice,
		MinMargin:    cfg.Policy.MinMargin,
	}, a.log)

	bidder := &liquidationBidKeeper{
		runner:      runner,
		coordinator: coordinator,
		hedger:      hedger,
		alerts:      a.alerts,
		history:     a.history,
		stableAsset: cfg.Policy.StableAsset,
	}
	a.bidder = bidder
	return bidder, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.history.Close()
	a.history.Start(ctx)

	if a.promSrv != nil {
		go func() {
			if err := a.promSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Warn("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = a.promSrv.Shutdown(shutdownCtx)
		}()
	}

	if a.ws != nil {
		if err := a.startBook(ctx); err != nil {
			return err
		}
	}

	a.log.Info("keeper started",
		zap.String("kind", a.keeper.Name()),
		zap.Duration("interval", a.cfg.Bot.RunInterval))

	ticker := time.NewTicker(a.cfg.Bot.RunInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return a.shutdown()
		case <-ticker.C:
			a.metrics.CyclesRun.Inc()
			a.runner.stats = cycleStats{}
			err := a.keeper.RunCycle(ctx)
			a.recordCycle(ctx, err)
			if err != nil {
				if ctx.Err() != nil {
					return a.shutdown()
				}
				failures++
				a.metrics.CycleErrors.Inc()
				a.log.Warn("cycle failed",
					zap.Int("consecutive_failures", failures),
					zap.Error(err))
				if failures >= a.cfg.Bot.MaxConsecutiveFailures {
					return fmt.Errorf("%d consecutive cycle failures, last: %w", failures, err)
				}
				continue
			}
			failures = 0
		}
	}
}

// startBook connects the market-data stream and keeps the order book
// current in the background.
func (a *App) startBook(ctx context.Context) error {
	if err := a.ws.Connect(ctx); err != nil {
		return err
	}
	if err := a.ws.Subscribe(ctx, a.book.Subscription()); err != nil {
		return err
	}
	go func() {
		err := a.ws.Run(ctx, func(raw json.RawMessage) {
			if err := a.book.ApplyMessage(raw); err != nil {
				a.log.Warn("order book message rejected", zap.Error(err))
			}
		})
		if err != nil && ctx.Err() == nil {
			a.log.Warn("market data stream stopped", zap.Error(err))
		}
	}()
	return nil
}

func (a *App) recordCycle(ctx context.Context, cycleErr error) {
	now := time.Now().UTC()
	stats := a.runner.stats
	snapshot := state.CycleSnapshot{
		Kind:           a.keeper.Name(),
		OraclePrice:    stats.oraclePrice,
		TreasuryBal:    stats.treasuryBal,
		VaultsScanned:  stats.vaultsScanned,
		ActiveAuctions: stats.activeAuctions,
		Actions:        stats.actions,
		UpdatedAtMS:    now.UnixMilli(),
	}
	record := history.CycleRecord{
		Time:           now,
		Kind:           a.keeper.Name(),
		OraclePrice:    stats.oraclePrice,
		TreasuryBal:    stats.treasuryBal,
		VaultsScanned:  stats.vaultsScanned,
		ActiveAuctions: stats.activeAuctions,
		Actions:        stats.actions,
	}
	if cycleErr != nil {
		record.CycleErr = cycleErr.Error()
	}
	if a.bidder != nil {
		report := a.bidder.hedgeReport()
		snapshot.HedgeTarget = report.TargetExposure
		snapshot.HedgeFilled = report.HedgedExposure
		record.HedgeTarget = report.TargetExposure
		record.HedgeFilled = report.HedgedExposure
	}
	if err := state.SaveCycleSnapshot(ctx, a.store, snapshot); err != nil {
		a.log.Warn("cycle snapshot save failed", zap.Error(err))
	}
	a.history.EnqueueCycle(record)
}

// shutdown gives in-flight submissions a bounded window to reach a
// terminal status before the process exits.
func (a *App) shutdown() error {
	waitCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Bot.ShutdownWait)
	defer cancel()
	if err := a.submitter.Wait(waitCtx); err != nil {
		a.log.Warn("shutdown with submissions still pending", zap.Error(err))
	}
	return context.Canceled
}
