package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"metalledger/internal/adapter"
	"metalledger/internal/alerting"
	"metalledger/internal/cache"
	"metalledger/internal/config"
	"metalledger/internal/egress"
	"metalledger/internal/ingest"
	"metalledger/internal/normalizer"
	"metalledger/internal/pricing"
	"metalledger/internal/scheduler"
	"metalledger/internal/storage"
	"metalledger/internal/storage/migrations"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// newAdapters builds the enabled source adapters. inbox, when non-nil,
// serves dealer_manual.
func (a *App) newAdapters(inbox *adapter.DealerInbox) []adapter.Adapter {
	cfg := a.Config.Adapters
	client := egress.NewClient(cfg.RequestTimeout, a.Config.Egress.Allowlist)

	var out []adapter.Adapter
	if inbox != nil && a.Config.AdapterEnabled(pricing.SourceDealerManual) {
		out = append(out, inbox)
	}
	if a.Config.AdapterEnabled(pricing.SourceIScrap) {
		out = append(out, adapter.NewIScrapFeed(cfg.IScrap.Region))
	}
	if a.Config.AdapterEnabled(pricing.SourceScrapRegister) {
		out = append(out, adapter.NewScrapRegisterFeed(cfg.ScrapRegister.Region))
	}
	if a.Config.AdapterEnabled(pricing.SourceRecyclingToday) {
		out = append(out, adapter.NewRecyclingTodayFeed())
	}
	if a.Config.AdapterEnabled(pricing.SourceMetalsAPI) {
		out = append(out, adapter.NewMetalsAPI(adapter.MetalsAPIOptions{
			BaseURL:   cfg.MetalsAPI.BaseURL,
			APIKey:    cfg.MetalsAPI.APIKey,
			Symbols:   cfg.MetalsAPI.Symbols,
			UserAgent: cfg.MetalsAPI.UserAgent,
		}, client, a.Logger))
	}
	if a.Config.AdapterEnabled(pricing.SourceLBMA) {
		out = append(out, adapter.NewLBMA(adapter.LBMAOptions{
			BaseURL: cfg.LBMA.BaseURL,
			APIKey:  cfg.LBMA.APIKey,
			CSVPath: cfg.LBMA.CSVPath,
		}, client, a.Logger))
	}
	if a.Config.AdapterEnabled(pricing.SourceSeed) {
		out = append(out, adapter.NewSeedFeed())
	}
	return out
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newNormalizer() (*normalizer.Normalizer, error) {
	table, err := a.Config.PriorityTable()
	if err != nil {
		return nil, err
	}
	return normalizer.New(normalizer.Options{
		Multiplier: a.Config.Normalizer.OutlierMultiplier,
		Priority:   table,
	}, a.Logger), nil
}

// openLedger connects to PostgreSQL, applying migrations when configured.
// A dry run gets an empty in-memory ledger instead.
func (a *App) openLedger(ctx context.Context, dryRun bool) (storage.Ledger, func(), error) {
	if dryRun {
		a.Logger.Warn().Msg("dry run: using in-memory ledger, nothing is persisted")
		return storage.NewMemoryStore(), func() {}, nil
	}
	if a.Config.Database.DSN == "" {
		return nil, nil, fmt.Errorf("database.dsn: %w", storage.ErrNotConfigured)
	}

	pool, err := storage.Connect(ctx, a.Config.Database, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	if a.Config.Database.AutoMigrate {
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	store := storage.NewStore(pool)
	return store, store.Close, nil
}

// openPublisher connects the latest-price cache. Cache failures degrade to
// running without it.
func (a *App) openPublisher(ctx context.Context, dryRun bool) (ingest.Publisher, func()) {
	if dryRun {
		return nil, func() {}
	}
	publisher, err := cache.New(ctx, a.Config.Cache, a.Logger)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("latest-price cache unavailable; continuing without it")
		return nil, func() {}
	}
	if publisher == nil {
		return nil, func() {}
	}
	return publisher, func() { _ = publisher.Close() }
}

type serviceParts struct {
	adapters  []adapter.Adapter
	scheduler *scheduler.Scheduler
	dryRun    bool
}

func (a *App) newService(ctx context.Context, parts serviceParts) (*ingest.Service, func(), error) {
	norm, err := a.newNormalizer()
	if err != nil {
		return nil, nil, err
	}

	ledger, closeLedger, err := a.openLedger(ctx, parts.dryRun)
	if err != nil {
		return nil, nil, err
	}
	publisher, closePublisher := a.openPublisher(ctx, parts.dryRun)

	var notifier alerting.Notifier
	if !parts.dryRun {
		notifier = a.newNotifier()
	}

	lockKey := a.Config.Scheduler.AdvisoryLockKey
	if parts.dryRun {
		lockKey = 0
	}

	svc, err := ingest.New(ingest.Options{
		Window:   a.Config.RollingWindow(),
		LockKey:  lockKey,
		Collapse: a.Config.Normalizer.CollapseByPriority,
		Actor:    a.Config.App.Actor,
	}, ingest.Deps{
		Adapters:   parts.adapters,
		Normalizer: norm,
		Ledger:     ledger,
		Publisher:  publisher,
		Notifier:   notifier,
		Scheduler:  parts.scheduler,
	}, a.Logger)
	if err != nil {
		closePublisher()
		closeLedger()
		return nil, nil, err
	}

	return svc, func() {
		closePublisher()
		closeLedger()
	}, nil
}

// Run executes the long-running ingestion service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToInterval,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: a.Config.Scheduler.RunImmediately,
	}, a.Logger)

	svc, closeAll, err := a.newService(ctx, serviceParts{
		adapters:  a.newAdapters(nil),
		scheduler: sched,
	})
	if err != nil {
		return err
	}
	defer closeAll()

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting ingestion service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("ingestion service stopped")
	return nil
}

// TickOptions configure a one-shot tick.
type TickOptions struct {
	DryRun bool
	// DealerFile is a CSV of dealer postings queued ahead of the tick.
	DealerFile string
}

// ExportOptions hold parameters for exporting canonical history.
type ExportOptions struct {
	Metal     pricing.MetalSlug
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Metal pricing.MetalSlug
	Limit int
}
