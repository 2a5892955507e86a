package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"stockdata/internal/alerting"
	"stockdata/internal/cache"
	"stockdata/internal/config"
	"stockdata/internal/fetcher"
	"stockdata/internal/httpapi"
	"stockdata/internal/marketdata"
	"stockdata/internal/scheduler"
	"stockdata/internal/service"
	"stockdata/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	manager *service.SourceManager
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// Manager lazily builds the source manager shared by every command.
func (a *App) Manager() (*service.SourceManager, error) {
	if a.manager != nil {
		return a.manager, nil
	}
	adapters, err := fetcher.NewAdapters(a.Config, a.Logger)
	if err != nil {
		return nil, err
	}
	mc := a.Config.Manager
	a.manager = service.NewSourceManager(adapters, service.Options{
		DefaultSource: marketdata.ProviderName(strings.ToUpper(mc.DefaultSource)),
		FallbackOrder: a.Config.FallbackOrder(),
		HistoricalTTL: mc.HistoricalTTL,
		CurrentTTL:    mc.CurrentTTL,
		BatchTTL:      mc.BatchTTL,
		Cache:         cache.New(mc.MaxCacheEntries),
	}, a.Logger)
	return a.manager, nil
}

func (a *App) newGuard() (*service.Guard, error) {
	m, err := a.Manager()
	if err != nil {
		return nil, err
	}
	return service.NewGuard(m, a.Logger, service.WithRefreshTimeout(a.Config.Server.RequestTimeout)), nil
}

// newNotifier builds one notifier per configured channel; nil when none apply.
func (a *App) newNotifier() alerting.Notifier {
	var channels alerting.Multi
	for _, ch := range a.Config.Alerting.Channels {
		switch strings.ToLower(strings.TrimSpace(ch)) {
		case "telegram":
			cfg := a.Config.Alerting.Telegram
			if !cfg.Enabled {
				continue
			}
			channels = append(channels, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger))
		case "log":
			channels = append(channels, alerting.NewLogNotifier(a.Logger))
		default:
			a.Logger.Warn().Str("channel", ch).Msg("unknown alert channel ignored")
		}
	}
	switch len(channels) {
	case 0:
		return nil
	case 1:
		return channels[0]
	default:
		return channels
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Migrate applies the archive schema.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法迁移")
	}
	defer closeStore()

	applied, err := store.Migrate(ctx, a.Config.Database.MigrationsPath)
	if err != nil {
		return err
	}
	a.Logger.Info().Int("files", applied).Str("path", a.Config.Database.MigrationsPath).Msg("migrations applied")
	return nil
}

// Run executes the long-running refresh watcher.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; archive disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	guard, err := a.newGuard()
	if err != nil {
		return err
	}

	wc := a.Config.Watch
	sched := scheduler.New(scheduler.Options{
		Interval:     wc.Interval,
		AlignToStart: wc.AlignToBucket,
		RunOnStart:   wc.RunOnStart,
		StartupDelay: wc.StartupDelay,
	}, a.Logger)

	var bars storage.BarStore
	var events storage.HealthStore
	if store != nil {
		bars = store
		events = store
	}

	res, _ := marketdata.ParseResolution(wc.Resolution)
	watcher := service.NewWatcher(service.WatchOptions{
		Symbols:         normalizeSymbols(wc.Symbols),
		Resolution:      res,
		HealthChecks:    wc.HealthChecks,
		HealthRetention: wc.HealthRetention,
		AlertsEnabled:   a.Config.Alerting.Enabled,
		NotifyRecovery:  a.Config.Alerting.NotifyRecovery,
		Channels:        a.Config.Alerting.Channels,
		LockKey:         wc.AdvisoryLockKey,
	}, sched, guard, bars, events, a.newNotifier(), a.Logger)

	a.Logger.Info().Strs("symbols", wc.Symbols).Dur("interval", wc.Interval).Msg("starting refresh watcher")
	err = watcher.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watcher terminated with error")
		return err
	}

	a.Logger.Info().Msg("refresh watcher stopped")
	return nil
}

// Serve runs the HTTP API until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	guard, err := a.newGuard()
	if err != nil {
		return err
	}
	sc := a.Config.Server
	srv := httpapi.NewServer(httpapi.Config{
		Addr:            sc.Addr,
		Mode:            sc.Mode,
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		ShutdownTimeout: sc.ShutdownTimeout,
		RequestTimeout:  sc.RequestTimeout,
	}, guard, a.Logger)
	return srv.Start(ctx)
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// HistoryOptions select a historical series.
type HistoryOptions struct {
	Symbol     string
	From       time.Time
	To         time.Time
	Resolution marketdata.Resolution
	Source     marketdata.ProviderName
	Page       int
	Format     string
	Legacy     bool
}

// CurrentOptions select the latest quote of one or more symbols.
type CurrentOptions struct {
	Symbols    []string
	Resolution marketdata.Resolution
	Source     marketdata.ProviderName
	Format     string
	Legacy     bool
}

// ExportOptions hold parameters for exporting a price series.
type ExportOptions struct {
	Symbol     string
	From       time.Time
	To         time.Time
	Resolution marketdata.Resolution
	Source     marketdata.ProviderName
	Live       bool
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Symbol string
	Limit  int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	Symbols    []string
	From       time.Time
	To         time.Time
	Resolution marketdata.Resolution
	Source     marketdata.ProviderName
	DryRun     bool
	Workers    int
}
