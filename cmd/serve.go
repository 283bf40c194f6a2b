package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ew384/automaton-core/internal/broker"
	"github.com/ew384/automaton-core/internal/bus"
	"github.com/ew384/automaton-core/internal/config"
	"github.com/ew384/automaton-core/internal/custodian"
	"github.com/ew384/automaton-core/internal/gateway"
	"github.com/ew384/automaton-core/internal/httpapi"
	"github.com/ew384/automaton-core/internal/messages"
	"github.com/ew384/automaton-core/internal/monitor"
	"github.com/ew384/automaton-core/internal/plugin"
	"github.com/ew384/automaton-core/internal/plugin/platforms/bridge"
	"github.com/ew384/automaton-core/internal/scheduler"
	"github.com/ew384/automaton-core/internal/store"
	"github.com/ew384/automaton-core/internal/store/pg"
	"github.com/ew384/automaton-core/internal/store/sqlite"
	"github.com/ew384/automaton-core/internal/telemetry"
	"github.com/ew384/automaton-core/internal/upload"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	watcher, err := config.WatchFile(cfgPath, cfg)
	if err != nil {
		slog.Warn("config hot-reload disabled", "error", err)
	}

	shutdownTelemetry, err := telemetry.Setup(context.Background(), cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry disabled", "error", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTelemetry(shutdownCtx)
	}()

	stores, err := store.Open(store.StoreConfig{
		Mode:        cfg.Database.Mode,
		PostgresDSN: cfg.Database.PostgresDSN,
		SQLitePath:  cfg.Database.SQLitePath,
	}, pg.NewStores, sqlite.NewStores)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	br, err := broker.NewRodBroker(broker.RodBrokerConfig{
		Headless: cfg.Broker.Headless,
		BinPath:  cfg.Broker.ChromeBin,
	})
	if err != nil {
		slog.Error("failed to launch browser", "error", err)
		os.Exit(1)
	}

	registry := plugin.NewRegistry()
	registerBridgePlugins(registry, cfg)

	cust := custodian.New(br, registry, custodian.Options{
		HealthInterval: parseDurationOr(cfg.Custodian.HealthInterval, 0),
		MaxRetries:     cfg.Custodian.MaxRetries,
	})

	sched := scheduler.New(cust, newSchedulerSyncFn(registry), scheduler.Options{
		MaxConcurrentTasks:   cfg.Scheduler.MaxConcurrentTasks,
		MaxConsecutiveErrors: cfg.Scheduler.MaxConsecutiveErrors,
		BackoffMultiplier:    cfg.Scheduler.BackoffMultiplier,
	})
	seedSchedulerTasks(sched, stores)

	orch := monitor.New(registry, monitor.Options{})
	msgStore := messages.NewStore()
	pipeline := upload.New(br, registry, stores.Publish)
	eventBus := bus.New()

	gwServer := gateway.NewServer(cfg, eventBus, httpapi.Deps{
		Custodian: cust,
		Registry:  registry,
		Orch:      orch,
		Messages:  msgStore,
		Pipeline:  pipeline,
		AvatarDir: cfg.Upload.AvatarDir,
	})

	sched.Start()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := gwServer.Start(ctx); err != nil {
			slog.Error("gateway server stopped", "error", err)
		}
	}()

	slog.Info("automaton started", "gateway_addr", cfg.Gateway.Host, "gateway_port", cfg.Gateway.Port)

	<-ctx.Done()
	slog.Info("shutting down")

	sched.Stop()
	cust.Close()
	if watcher != nil {
		watcher.Close()
	}
}

// registerBridgePlugins wires a bridge-backed MESSAGE plugin for every
// platform configured with a companion script host URL. Platforms with a
// DOM-driven plugin instead leave BridgeURL empty and register through a
// separate Initializer list once an in-page plugin exists for them.
func registerBridgePlugins(reg *plugin.Registry, cfg *config.Config) {
	platforms := map[string]config.PlatformConfig{
		"wechat":      cfg.Platforms.WeChat,
		"douyin":      cfg.Platforms.Douyin,
		"xiaohongshu": cfg.Platforms.Xiaohongshu,
		"kuaishou":    cfg.Platforms.Kuaishou,
		"weibo":       cfg.Platforms.Weibo,
		"bilibili":    cfg.Platforms.Bilibili,
	}
	for name, pc := range platforms {
		if !pc.Enabled || pc.BridgeURL == "" {
			continue
		}
		p := bridge.New(bridge.Config{Platform: name, URL: pc.BridgeURL})
		if err := reg.Register(plugin.KindMessage, name, p); err != nil {
			slog.Error("plugin registration failed", "platform", name, "error", err)
		}
	}
}

// newSchedulerSyncFn adapts the plugin registry into the scheduler's
// narrow SyncFn contract: look up the platform's MESSAGE plugin and run
// one sync against the already-ensured tab.
func newSchedulerSyncFn(reg *plugin.Registry) scheduler.SyncFn {
	return func(ctx context.Context, platform, accountID string, tabID broker.TabID, opts scheduler.SyncOptions) scheduler.SyncResult {
		mp, ok := reg.GetMessage(platform)
		if !ok {
			return scheduler.SyncResult{Success: false, Err: context.DeadlineExceeded}
		}
		result, err := mp.SyncMessages(ctx, plugin.SyncParams{
			Platform:  platform,
			AccountID: accountID,
			TabID:     tabID,
			FullSync:  opts.FullSync,
		})
		if err != nil {
			return scheduler.SyncResult{Success: false, Err: err}
		}
		return scheduler.SyncResult{Success: result.Success, NewMessages: len(result.NewMessages)}
	}
}

// seedSchedulerTasks loads the task store's persisted tasks into the
// in-memory Scheduler on startup.
func seedSchedulerTasks(sched *scheduler.Scheduler, stores *store.Stores) {
	records, err := stores.Tasks.List(context.Background())
	if err != nil {
		slog.Warn("failed to load scheduler task audit records", "error", err)
		return
	}
	for _, r := range records {
		sched.AddTask(&scheduler.Task{
			ID:                  r.ID,
			Platform:            r.Platform,
			AccountID:           r.AccountID,
			CurrentCookieFile:   r.CurrentCookieFile,
			SyncIntervalMinutes: r.SyncIntervalMinutes,
			Enabled:             r.Enabled,
			Priority:            r.Priority,
		})
	}
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
