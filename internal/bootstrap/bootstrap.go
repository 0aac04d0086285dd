package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	httpadapter "github.com/EvertonViniciusav/Invoice-signature-system/internal/adapters/http"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/adapters/watcher"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/config"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/ports"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/usecase"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/infrastructure/extractor/nfe"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/infrastructure/queue/nats"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/infrastructure/repository/postgres"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/infrastructure/resilience"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/infrastructure/security"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/infrastructure/storage/localfs"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/observability/logging"
	"github.com/EvertonViniciusav/Invoice-signature-system/internal/observability/metrics"
)

const schemaStartupTimeout = 5 * time.Second

// API holds the wired HTTP side: router, metrics and the database handle.
type API struct {
	Config config.Config
	Router *httpadapter.Router

	closeFn func()
}

// Watcher holds the wired ingestion side.
type Watcher struct {
	Config  config.Config
	Watcher *watcher.Watcher
	Metrics *metrics.IngestMetrics

	closeFn func()
}

func NewAPI(ctx context.Context, cfg config.Config, logger *slog.Logger) (*API, error) {
	tokens, err := security.NewTokenManager(cfg.AuthTokenSecret, cfg.AuthTokenTTL())
	if err != nil {
		return nil, fmt.Errorf("init token manager: %w", err)
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	invoiceRepo := postgres.NewInvoiceRepository(db, newDatabaseExecutor(cfg, logger, nil))
	userRepo := postgres.NewUserRepository(db)

	invoiceUC := usecase.NewInvoiceUseCase(invoiceRepo, cfg.CompanyID)
	userUC := usecase.NewUserUseCase(userRepo, security.NewBcryptHasher(bcrypt.DefaultCost), tokens)

	router := httpadapter.NewRouter(cfg, invoiceUC, userUC, tokens,
		httpadapter.WithLogger(logger),
		httpadapter.WithMetrics(metrics.NewHTTPServerMetrics("api")),
	)

	return &API{
		Config: cfg,
		Router: router,
		closeFn: func() {
			_ = db.Close()
		},
	}, nil
}

func (a *API) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func NewWatcher(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Watcher, error) {
	ingestMetrics := metrics.NewIngestMetrics("watcher")

	inbox, err := localfs.NewInbox(cfg.WatchDir, localfs.InboxOptions{
		ArchiveDirName: cfg.ArchiveDirName,
		ClaimsDirName:  cfg.ClaimsDirName,
		ArchiveDelay:   cfg.ArchiveDelay(),
		ClaimTTL:       cfg.ClaimTTL(),
	})
	if err != nil {
		return nil, fmt.Errorf("init inbox: %w", err)
	}
	stabilizer := localfs.NewStabilizer(localfs.StabilizerOptions{
		Interval:   cfg.StabilizeInterval(),
		Timeout:    cfg.StabilizeTimeout(),
		EmptyGrace: cfg.StabilizeEmptyGrace(),
	})
	extractor, err := nfe.NewExtractor()
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}

	activity, err := logging.NewActivityLog(logging.ActivityOptions{
		Path:         cfg.ActivityLogPath,
		MaxSizeMB:    cfg.ActivityLogMaxSizeMB,
		MaxBackups:   cfg.ActivityLogMaxBackups,
		MaxAgeDays:   cfg.ActivityLogMaxAgeDays,
		Logger:       logger,
		OnWriteError: ingestMetrics.ActivityLogWriteFailed,
	})
	if err != nil {
		return nil, fmt.Errorf("init activity log: %w", err)
	}

	// The watcher starts with the database down; inserts fail per file until it is back.
	db, err := postgres.Connect(cfg.PostgresDSN)
	if err != nil {
		_ = activity.Close()
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	schema := postgres.NewSchemaGate(db)
	schemaCtx, cancel := context.WithTimeout(ctx, schemaStartupTimeout)
	if err := schema.Ensure(schemaCtx); err != nil {
		logger.Warn("postgres_unavailable_at_start", "error", err)
	}
	cancel()

	invoiceRepo := postgres.NewInvoiceRepository(db,
		newDatabaseExecutor(cfg, logger, ingestMetrics.BreakerStateChanged),
		postgres.WithSchemaGate(schema),
	)

	var (
		publisher ports.EventPublisher
		natsPub   *nats.Publisher
	)
	if strings.TrimSpace(cfg.NATSURL) != "" {
		natsPub, err = nats.NewPublisher(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: resilience.NewExecutor(resilience.PublisherConfig(),
				resilience.WithLogger(logger),
				resilience.WithStateListener(ingestMetrics.BreakerStateChanged),
			),
			Logger:             logger,
		})
		if err != nil {
			_ = db.Close()
			_ = activity.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		publisher = natsPub
	}

	ingestUC := usecase.NewIngestInvoiceUseCase(
		inbox,
		stabilizer,
		extractor,
		invoiceRepo,
		publisher,
		activity,
		ingestMetrics,
		usecase.IngestOptions{CompanyID: cfg.CompanyID},
	)

	w, err := watcher.New(cfg.WatchDir, ingestUC, watcher.Options{
		Lister:       inbox,
		Reconcile:    cfg.ReconcileOnStart,
		Logger:       logger,
		OnReconciled: ingestMetrics.RecordReconciled,
	})
	if err != nil {
		if natsPub != nil {
			natsPub.Close()
		}
		_ = db.Close()
		_ = activity.Close()
		return nil, fmt.Errorf("init watcher: %w", err)
	}

	return &Watcher{
		Config:  cfg,
		Watcher: w,
		Metrics: ingestMetrics,
		closeFn: func() {
			if natsPub != nil {
				natsPub.Close()
			}
			_ = db.Close()
			_ = activity.Close()
		},
	}, nil
}

func (w *Watcher) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func newDatabaseExecutor(cfg config.Config, logger *slog.Logger, onChange resilience.StateListener) *resilience.Executor {
	policy := resilience.DatabaseConfig().
		WithRetry(cfg.DBRetryMaxAttempts, cfg.DBRetryInitialBackoff(), cfg.DBRetryMaxBackoff()).
		WithBreaker(cfg.DBBreakerEnabled, cfg.DBBreakerOpenTimeout())
	return resilience.NewExecutor(policy, resilience.WithLogger(logger), resilience.WithStateListener(onChange))
}
