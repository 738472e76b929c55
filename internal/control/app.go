package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hoangnd/queuemedic/internal/core/config"
	"github.com/hoangnd/queuemedic/internal/core/domain"
	"github.com/hoangnd/queuemedic/internal/eventbus"
	"github.com/hoangnd/queuemedic/internal/infra/arr"
	"github.com/hoangnd/queuemedic/internal/infra/downloader"
	redisclient "github.com/hoangnd/queuemedic/internal/infra/redis"
	"github.com/hoangnd/queuemedic/internal/infra/storage"
	"github.com/hoangnd/queuemedic/internal/infra/storage/memory"
	"github.com/hoangnd/queuemedic/internal/infra/storage/postgres"
	"github.com/hoangnd/queuemedic/internal/monitoring/classify"
	"github.com/hoangnd/queuemedic/internal/monitoring/health"
	"github.com/hoangnd/queuemedic/internal/monitoring/monitor"
	"github.com/hoangnd/queuemedic/internal/observers"
	"github.com/hoangnd/queuemedic/internal/recovery"
)

// App wires the event bus, the queue monitor, the recovery orchestrator
// and the observers together and manages their lifecycle.
type App struct {
	cfg *config.AppConfig
	log *slog.Logger

	bus          *eventbus.Bus
	monitor      *monitor.Monitor
	orchestrator *recovery.Orchestrator
	activity     *observers.ActivityLog
	broadcaster  *observers.Broadcaster
	healthMon    *health.Monitor
	healthServer *health.Server

	db          *postgres.DB
	redisClient *redisclient.Client

	cancel context.CancelFunc
}

// New creates an App with all dependencies initialized.
func New(cfg *config.AppConfig, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	bus := eventbus.New(eventbus.DefaultHistoryCapacity, log)

	// 1. Storage backend
	var (
		records   storage.RetryRecordRepository
		events    storage.EventRepository
		db        *postgres.DB
		redisC    *redisclient.Client
		healthDep []health.NamedChecker
	)
	switch cfg.Storage.Backend {
	case "postgres":
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate("migrations"); err != nil {
			return nil, err
		}
		records = postgres.NewRecordRepo(db)
		events = postgres.NewEventRepo(db)
		healthDep = append(healthDep, health.NamedChecker{Name: "postgres", Checker: db})
		log.Info("using PostgreSQL storage")
	case "redis":
		var err error
		redisC, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		records = redisclient.NewRecordRepo(redisC)
		// Event timelines stay in memory when records live in Redis.
		events = memory.NewEventRepo(memory.NewMemoryStorage())
		healthDep = append(healthDep, health.NamedChecker{Name: "redis", Checker: redisC})
		log.Info("using Redis storage")
	default:
		store := memory.NewMemoryStorage()
		records = memory.NewRecordRepo(store)
		events = memory.NewEventRepo(store)
		log.Info("using memory storage")
	}

	// 2. Capability clients
	dlClient := downloader.NewClient(cfg.Downloader)
	managers := make([]*arr.Client, 0, len(cfg.Managers))
	for _, mc := range cfg.Managers {
		managers = append(managers, arr.NewClient(mc))
	}
	capability := arr.NewCapability(dlClient, managers...)

	if cfg.Downloader.BaseURL != "" {
		healthDep = append(healthDep, health.NamedChecker{Name: "downloader", Checker: dlClient})
	}
	for _, m := range managers {
		healthDep = append(healthDep, health.NamedChecker{Name: m.Name(), Checker: m})
	}

	// 3. Pipeline components
	sourceApps := monitor.DefaultConfig().SourceApps
	if len(cfg.Monitor.SourceApps) > 0 {
		sourceApps = make(map[string]domain.SourceApp, len(cfg.Monitor.SourceApps))
		for prefix, app := range cfg.Monitor.SourceApps {
			sourceApps[prefix] = domain.SourceApp(app)
		}
	}
	qm := monitor.New(monitor.Config{
		Interval:     cfg.Monitor.Interval,
		FetchTimeout: cfg.Monitor.FetchTimeout,
		SourceApps:   sourceApps,
	}, dlClient, bus, classify.New(classify.DefaultRules()), log)

	orch := recovery.New(recovery.Config{
		MaxRetries: cfg.Recovery.MaxRetries,
		Backoff: recovery.ExponentialBackoff{
			Base: cfg.Recovery.BackoffBase,
			Max:  cfg.Recovery.BackoffMax,
		},
		InvokeTimeout: cfg.Recovery.InvokeTimeout,
	}, bus, records, capability, log)

	activity := observers.NewActivityLog(bus, events, observers.DefaultActivityBuffer, log)
	broadcaster := observers.NewBroadcaster(bus, log)

	staleAfter := 3 * cfg.Monitor.Interval
	healthMon := health.NewMonitor(records, bus, staleAfter, healthDep...)
	healthServer := health.NewServer(healthMon, orch, activity, broadcaster, cfg.Server.Port)

	return &App{
		cfg:          cfg,
		log:          log,
		bus:          bus,
		monitor:      qm,
		orchestrator: orch,
		activity:     activity,
		broadcaster:  broadcaster,
		healthMon:    healthMon,
		healthServer: healthServer,
		db:           db,
		redisClient:  redisC,
	}, nil
}

// Start brings every component up. Observers attach before the monitor
// starts so the first poll's events are captured.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.activity.Start(ctx); err != nil {
		return err
	}
	if err := a.broadcaster.Start(ctx); err != nil {
		return err
	}
	if err := a.healthMon.Start(ctx); err != nil {
		return err
	}
	if err := a.orchestrator.Start(ctx); err != nil {
		return err
	}

	// The polling loop owns its goroutine.
	go func() {
		if err := a.monitor.Start(ctx); err != nil {
			a.log.Error("queue monitor failed", slog.Any("err", err))
		}
	}()

	go func() {
		if err := a.healthServer.Start(); err != nil {
			a.log.Error("health server failed", slog.Any("err", err))
		}
	}()

	a.log.Info("queuemedic started",
		slog.Int("port", a.cfg.Server.Port),
		slog.Duration("poll_interval", a.cfg.Monitor.Interval),
		slog.String("storage", a.cfg.Storage.Backend))
	return nil
}

// Stop tears the components down in reverse order.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping queuemedic")

	a.monitor.Stop()
	if err := a.orchestrator.Stop(); err != nil {
		a.log.Warn("orchestrator stop failed", slog.Any("err", err))
	}
	if err := a.healthMon.Stop(); err != nil {
		a.log.Warn("health monitor stop failed", slog.Any("err", err))
	}
	if err := a.broadcaster.Stop(); err != nil {
		a.log.Warn("broadcaster stop failed", slog.Any("err", err))
	}
	if err := a.activity.Stop(); err != nil {
		a.log.Warn("activity log stop failed", slog.Any("err", err))
	}
	if a.cancel != nil {
		a.cancel()
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("failed to close redis", slog.Any("err", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("failed to close db", slog.Any("err", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return a.healthServer.Stop(shutdownCtx)
}
