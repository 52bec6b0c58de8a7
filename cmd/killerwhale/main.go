package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tg "github.com/go-telegram/bot"
	"go.uber.org/zap"

	"github.com/0xsamyy/killerwhale/internal/archive"
	"github.com/0xsamyy/killerwhale/internal/classifier"
	"github.com/0xsamyy/killerwhale/internal/config"
	"github.com/0xsamyy/killerwhale/internal/dedupe"
	"github.com/0xsamyy/killerwhale/internal/health"
	"github.com/0xsamyy/killerwhale/internal/ledger"
	"github.com/0xsamyy/killerwhale/internal/logger"
	"github.com/0xsamyy/killerwhale/internal/metrics"
	"github.com/0xsamyy/killerwhale/internal/notify"
	"github.com/0xsamyy/killerwhale/internal/price"
	"github.com/0xsamyy/killerwhale/internal/registry"
	"github.com/0xsamyy/killerwhale/internal/scanner"
	"github.com/0xsamyy/killerwhale/internal/store"
	"github.com/0xsamyy/killerwhale/internal/telegram"
)

func main() {
	cfg := config.MustLoad()
	if err := logger.Init(cfg.LogLevel, cfg.AppEnv); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()
	log.Info(cfg.RedactedSummary())

	if err := run(cfg, log); err != nil {
		log.Errorw("fatal", "error", err)
		_ = logger.Sync()
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(cfg config.Config, log *zap.SugaredLogger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()

	st, err := store.NewBolt(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer func() {
		if e := st.Close(); e != nil {
			log.Warnw("store close", "error", e)
		}
	}()

	reg := registry.Default()
	if cfg.RegistryPath != "" {
		if reg, err = registry.Load(cfg.RegistryPath); err != nil {
			return fmt.Errorf("registry: %w", err)
		}
	}
	log.Infow("registry loaded", "entries", reg.Len())
	cls := classifier.New(reg, cfg.Thresholds)

	sources, err := price.ByName(cfg.PriceSources, nil)
	if err != nil {
		return fmt.Errorf("price sources: %w", err)
	}
	oracle := price.NewOracle(sources,
		price.WithSourceTimeout(cfg.PriceTimeout),
		price.WithMaxAge(cfg.PriceMaxAge),
		price.WithBootstrap(cfg.PriceBootstrap),
		price.WithObserver(m),
		price.WithLogger(logger.Component("price")),
	)

	clients := make([]*ledger.Client, 0, len(cfg.RPCURLs))
	endpoints := make([]scanner.RPC, 0, len(cfg.RPCURLs))
	for _, u := range cfg.RPCURLs {
		c := ledger.NewClient(u,
			ledger.WithTimeout(cfg.RPCTimeout),
			ledger.WithMaxRetries(cfg.RPCMaxRetries),
			ledger.WithCommitment(cfg.Commitment),
		)
		clients = append(clients, c)
		endpoints = append(endpoints, c)
	}

	start, err := startSlot(ctx, cfg, st, clients[0], log)
	if err != nil {
		return err
	}

	dd, ddHealth, err := newDedupe(ctx, cfg, log)
	if err != nil {
		return err
	}
	if c, ok := dd.(interface{ Close() error }); ok {
		defer func() { _ = c.Close() }()
	}

	bot, err := tg.New(cfg.TelegramBotToken)
	if err != nil {
		return fmt.Errorf("telegram init: %w", err)
	}

	ncfg := notify.DefaultConfig(cfg.TelegramChatID)
	ncfg.QueueSize = cfg.AlertQueueSize
	ncfg.RatePerSec = cfg.AlertRatePerSec
	ncfg.MaxPause = cfg.AlertMaxPause
	dispatcher := notify.NewDispatcher(notify.NewTelegramSender(bot), ncfg, logger.Component("notify"), m)

	arch, err := newArchive(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		if e := arch.Close(); e != nil {
			log.Warnw("archive close", "error", e)
		}
	}()

	popts := []scanner.PipelineOption{
		scanner.WithDedupe(dd),
		scanner.WithWatchlist(st),
		scanner.WithSymbols(ledger.NewMetadataResolver(clients[0])),
		scanner.WithEventObserver(m),
		scanner.WithPipelineLogger(logger.Component("pipeline")),
	}
	if arch.Len() > 0 {
		log.Infow("archive enabled", "sinks", arch.Names())
		popts = append(popts, scanner.WithArchive(arch))
	}
	pipeline := scanner.NewPipeline(cls, oracle, dispatcher, popts...)

	var watcher *ledger.SlotWatcher
	pollerOpts := []scanner.PollerOption{
		scanner.WithFetchObserver(m),
		scanner.WithPollerLogger(logger.Component("poller")),
	}
	if cfg.WSSURL != "" {
		watcher = ledger.NewSlotWatcher(cfg.WSSURL, logger.Component("slotwatch"))
		pollerOpts = append(pollerOpts, scanner.WithTipHint(watcher))
	}

	state := scanner.NewScannerState(start)
	poller, err := scanner.NewPoller(state, endpoints, pipeline, scanner.PollerConfig{
		LagBound:           cfg.Scan.LagBound,
		SafetyMargin:       cfg.Scan.SafetyMargin,
		MaxPendingAttempts: cfg.MaxPendingAttempts,
	}, pollerOpts...)
	if err != nil {
		return fmt.Errorf("poller: %w", err)
	}
	sc := scanner.NewScanner(state, poller,
		scanner.WithCursorStore(st),
		scanner.WithSlotObserver(m),
		scanner.WithIdleInterval(cfg.IdleInterval),
		scanner.WithScannerLogger(logger.Component("scanner")),
	)

	hopts := []health.Option{
		health.WithStore(st),
		health.WithQuotes(oracle),
		health.WithQueue(dispatcher),
		health.WithMaxLag(cfg.Scan.LagBound * 10),
	}
	if watcher != nil {
		hopts = append(hopts, health.WithSlotFeed(watcher))
	}
	if ddHealth != nil {
		hopts = append(hopts, health.WithDedupe(ddHealth))
	}
	hlth := health.New(sc, hopts...)

	th := telegram.New(bot, st, hlth, cfg.TelegramAdminChatID, cancel, logger.Component("telegram"))

	var wg sync.WaitGroup
	spawn := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
			log.Debugw("stopped", "component", name)
		}()
	}

	spawn("dispatcher", func() { dispatcher.Run(ctx) })
	if watcher != nil {
		spawn("slotwatch", func() { watcher.Run(ctx) })
	}
	if mem, ok := dd.(*dedupe.Memory); ok {
		spawn("dedupe-janitor", func() { mem.RunJanitor(ctx, 10*time.Minute) })
	}
	spawn("metrics", func() {
		if err := m.Serve(ctx, cfg.MetricsAddr, hlth, logger.Component("metrics")); err != nil {
			log.Errorw("metrics server", "error", err)
		}
	})
	spawn("telegram", func() { th.Run(ctx) })
	spawn("scanner", func() { sc.Run(ctx) })

	log.Infow("started", "cursor", start, "endpoints", len(endpoints), "profile", cfg.Scan.Name)
	<-ctx.Done()
	log.Info("shutting down")
	wg.Wait()
	return nil
}

// startSlot resumes from the persisted cursor, then START_SLOT, then the
// current tip.
func startSlot(ctx context.Context, cfg config.Config, st *store.Bolt, rpc *ledger.Client, log *zap.SugaredLogger) (uint64, error) {
	if slot, ok, err := st.LoadCursor(ctx); err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	} else if ok {
		log.Infow("resuming from saved cursor", "slot", slot)
		return slot, nil
	}
	if cfg.StartSlot > 0 {
		return cfg.StartSlot, nil
	}
	tip, err := rpc.GetSlot(ctx)
	if err != nil {
		return 0, fmt.Errorf("initial tip: %w", err)
	}
	log.Infow("no saved cursor, starting at tip", "slot", tip)
	return tip, nil
}

func newDedupe(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (dedupe.Filter, health.Pinger, error) {
	if cfg.RedisURL == "" {
		return dedupe.NewMemory(cfg.DedupeTTL), nil, nil
	}
	r, err := dedupe.NewRedis(ctx, cfg.RedisURL, cfg.DedupeTTL, logger.Component("dedupe"))
	if err != nil {
		return nil, nil, fmt.Errorf("redis dedupe: %w", err)
	}
	log.Info("dedupe backed by redis")
	return r, r, nil
}

func newArchive(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*archive.Multi, error) {
	var sinks []archive.Sink
	if cfg.PostgresDSN != "" {
		pg, err := archive.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres archive: %w", err)
		}
		sinks = append(sinks, pg)
	}
	if cfg.ClickHouseDSN != "" {
		ch, err := archive.NewClickHouse(ctx, cfg.ClickHouseDSN)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, fmt.Errorf("clickhouse archive: %w", err)
		}
		sinks = append(sinks, ch)
	}
	return archive.NewMulti(sinks, 5*time.Second, m, logger.Component("archive")), nil
}
