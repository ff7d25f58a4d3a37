package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/perf-eval-api/internal/repository"
	"github.com/noah-isme/perf-eval-api/internal/service"
	"github.com/noah-isme/perf-eval-api/pkg/cache"
	"github.com/noah-isme/perf-eval-api/pkg/config"
	"github.com/noah-isme/perf-eval-api/pkg/database"
	"github.com/noah-isme/perf-eval-api/pkg/events"
	"github.com/noah-isme/perf-eval-api/pkg/jobs"
	"github.com/noah-isme/perf-eval-api/pkg/logger"
	"github.com/noah-isme/perf-eval-api/pkg/transaction"
)

// runtime holds the process-wide dependencies shared by the commands.
type runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *sqlx.DB
	redis     *redis.Client
	cacheRepo *repository.CacheRepository
	metrics   *service.MetricsService
	async     *events.AsyncDispatcher
	executor  *transaction.Executor
	approvals *service.StepApprovalService
	revisions *service.RevisionRequestService
	workflow  *service.StepWorkflowService
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logr, nil
}

// newRuntime opens the store and wires the workflow services. Redis is optional: when
// caching is disabled or unreachable the services run uncached.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, logr, err := loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, database.Up, logr); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	rt := &runtime{cfg: cfg, logger: logr, db: db, metrics: service.NewMetricsService()}
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		} else {
			rt.redis = client
		}
	}
	rt.cacheRepo = repository.NewCacheRepository(rt.redis, cfg.Redis.KeyPrefix, logr)
	cacheSvc := service.NewCacheService(rt.cacheRepo, rt.metrics, cfg.Cache.DirectoryTTL, logr, rt.redis != nil)

	registry := events.NewRegistry()
	if err := service.RegisterWorkflowEventHandlers(registry, cacheSvc, logr); err != nil {
		rt.Close()
		return nil, fmt.Errorf("register event handlers: %w", err)
	}
	var dispatcher events.Dispatcher = registry
	if cfg.Events.Async {
		rt.async = events.NewAsyncDispatcher(registry, jobs.QueueConfig{
			Workers:    cfg.Events.Workers,
			BufferSize: cfg.Events.BufferSize,
			MaxRetries: cfg.Events.MaxRetries,
			RetryDelay: cfg.Events.RetryDelay,
			Logger:     logr,
		})
		rt.async.Start(ctx)
		dispatcher = rt.async
	}

	rt.executor = transaction.NewExecutor(db, logr, transaction.Config{
		MaxRetries: cfg.Transaction.MaxRetries,
		BaseDelay:  cfg.Transaction.BaseDelay,
		MaxDelay:   cfg.Transaction.MaxDelay,
		Jitter:     cfg.Transaction.Jitter,
	},
		transaction.WithObserver(rt.metrics),
		transaction.WithDispatcher(dispatcher),
		transaction.WithDispatchErrorHook(func(_ context.Context, event events.Event, err error) {
			logr.Error("domain event handler failed", zap.String("event", event.EventName()), zap.Error(err))
		}),
	)

	validate := service.NewValidator()
	lines := repository.NewEvaluationLineRepository(db)
	revisionRepo := repository.NewRevisionRequestRepository(db)
	rt.approvals = service.NewStepApprovalService(rt.executor,
		repository.NewStepApprovalRepository(db),
		repository.NewSecondaryStepApprovalRepository(db),
		lines, revisionRepo, logr)
	rt.revisions = service.NewRevisionRequestService(service.RevisionRequestServiceConfig{
		Tx:        rt.executor,
		Revisions: revisionRepo,
		Approvals: rt.approvals,
		Lines:     lines,
		Directory: service.NewDirectoryService(repository.NewDirectoryRepository(db), cacheSvc, cfg.Cache.DirectoryTTL, logr),
		Cache:     cacheSvc,
		Metrics:   rt.metrics,
		Validator: validate,
		UnreadTTL: cfg.Cache.UnreadTTL,
		Logger:    logr,
	})
	rt.workflow = service.NewStepWorkflowService(rt.executor, lines, rt.approvals, rt.revisions, validate, logr)
	return rt, nil
}

// Close delivers queued domain events, bounded by a short grace period, before releasing
// connections.
func (r *runtime) Close() {
	if r.async != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.async.Shutdown(ctx); err != nil {
			r.logger.Warn("domain events abandoned on shutdown", zap.Error(err))
		}
		cancel()
	}
	if r.cacheRepo != nil {
		_ = r.cacheRepo.Close()
	}
	if r.db != nil {
		_ = r.db.Close()
	}
	_ = r.logger.Sync()
}
