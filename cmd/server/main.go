package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	auditadmin "procflow/internal/admin"
	approvalhandler "procflow/internal/approval/handler"
	"procflow/internal/approval/idempotency"
	approvalmetrics "procflow/internal/approval/metrics"
	"procflow/internal/approval/service"
	approvalmemory "procflow/internal/approval/store/memory"
	approvalpg "procflow/internal/approval/store/postgres"
	jwttoken "procflow/internal/jwt_token"
	"procflow/internal/platform/config"
	"procflow/internal/platform/httpserver"
	"procflow/internal/platform/kafka"
	"procflow/internal/platform/logger"
	httpmetrics "procflow/internal/platform/metrics"
	"procflow/internal/platform/postgres"
	"procflow/internal/platform/redis"
	"procflow/internal/ratelimit"
	"procflow/internal/workflow/embedded"
	audit "procflow/pkg/platform/audit"
	"procflow/pkg/platform/audit/intercept"
	"procflow/pkg/platform/audit/publishers/stream"
	"procflow/pkg/platform/audit/recorder"
	auditmemory "procflow/pkg/platform/audit/store/memory"
	auditpg "procflow/pkg/platform/audit/store/postgres"
	auditsqlite "procflow/pkg/platform/audit/store/sqlite"
	"procflow/pkg/platform/httputil"
	adminmw "procflow/pkg/platform/middleware/admin"
	authmw "procflow/pkg/platform/middleware/auth"
	"procflow/pkg/platform/middleware/metadata"
	"procflow/pkg/platform/middleware/request"
	"procflow/pkg/platform/middleware/requesttime"
	"procflow/pkg/requestcontext"
)

func main() {
	configPath := flag.String("config", os.Getenv("PROCFLOW_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// infra holds the external resources the server owns. Nil fields are not
// configured.
type infra struct {
	db       *sql.DB
	redis    *redis.Client
	producer *kafka.Producer
	sqlite   *auditsqlite.Store
}

func (i *infra) close(ctx context.Context, log *slog.Logger) {
	if i.producer != nil {
		if err := i.producer.Close(ctx); err != nil {
			log.Warn("kafka close failed", "error", err)
		}
	}
	if i.sqlite != nil {
		if err := i.sqlite.Close(); err != nil {
			log.Warn("sqlite close failed", "error", err)
		}
	}
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			log.Warn("redis close failed", "error", err)
		}
	}
	if i.db != nil {
		if err := i.db.Close(); err != nil {
			log.Warn("database close failed", "error", err)
		}
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	res := &infra{}
	defer res.close(context.Background(), log)

	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		res.db = db
		if cfg.Database.MigrateOnStart {
			if err := postgres.RunMigrations(db, log); err != nil {
				return err
			}
		}
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	res.redis = rc

	sink, err := buildAuditSink(ctx, cfg, res, log)
	if err != nil {
		return err
	}
	rec := recorder.New(sink,
		recorder.WithLogger(log),
		recorder.WithMetrics(recorder.NewMetrics()),
		recorder.WithWorkers(cfg.Audit.Workers),
		recorder.WithQueueSize(cfg.Audit.QueueSize),
		recorder.WithServerName(cfg.Server.Name),
	)

	engine, err := buildEngine(cfg, res, log)
	if err != nil {
		_ = rec.Close(context.Background())
		return err
	}
	audited := service.NewAudited(engine, intercept.New(rec, intercept.WithLogger(log)))

	jwt := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
	var limitStore ratelimit.Store = ratelimit.NewInMemoryStore()
	if res.redis != nil {
		limitStore = ratelimit.NewRedisStore(res.redis.Client)
	}
	limiter := ratelimit.New(limitStore, cfg.RateLimit.WritesPerWindow, cfg.RateLimit.Window, log,
		ratelimit.WithMetrics(ratelimit.NewMetrics()))

	authn := authmw.RequireAuth(jwttoken.NewJWTServiceAdapter(jwt), log,
		authmw.WithFailureHook(func(r *http.Request, err error) {
			rec.RecordLogin(r.Context(), audit.FromHTTPRequest(r), err)
		}))

	router := newRouter(log, authn, limiter,
		approvalhandler.New(audited, log),
		auditadmin.New(rec, log),
		res,
	)
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting procflow", "addr", cfg.Server.Addr, "audit_sink", cfg.Audit.Sink)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return recorder.NewRetention(rec, cfg.Audit.RetentionDays, cfg.Audit.SweepInterval, log).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		// in-flight requests may still enqueue entries until Shutdown returns
		if err := rec.Close(shutdownCtx); err != nil {
			log.Error("audit drain incomplete", "error", err)
		}
		return nil
	})
	return g.Wait()
}

func buildAuditSink(ctx context.Context, cfg *config.Config, res *infra, log *slog.Logger) (audit.Sink, error) {
	var sink audit.Sink
	switch cfg.Audit.Sink {
	case config.SinkPostgres:
		sink = auditpg.New(res.db)
	case config.SinkSQLite:
		store, err := auditsqlite.Open(ctx, cfg.Audit.SQLitePath)
		if err != nil {
			return nil, err
		}
		res.sqlite = store
		sink = store
	default:
		log.Warn("audit entries are kept in memory only")
		sink = auditmemory.NewInMemoryStore()
	}

	producer, err := kafka.NewProducer(ctx, cfg.Kafka)
	if err != nil {
		return nil, err
	}
	if producer == nil {
		return sink, nil
	}
	res.producer = producer
	log.Info("audit stream enabled", "topic", cfg.Kafka.AuditTopic)
	return stream.New(sink, producer,
		stream.WithLogger(log),
		stream.WithMetrics(stream.NewMetrics()),
		stream.WithBufferSize(cfg.Kafka.BufferSize),
	), nil
}

func buildEngine(cfg *config.Config, res *infra, log *slog.Logger) (*service.Engine, error) {
	limit, err := decimal.NewFromString(cfg.Workflow.FinanceApprovalLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid WORKFLOW_FINANCE_APPROVAL_LIMIT: %w", err)
	}
	directory, err := embedded.LoadDirectory(cfg.Workflow.DirectoryFile)
	if err != nil {
		return nil, err
	}
	backend := embedded.New(directory,
		embedded.WithLogger(log),
		embedded.WithRules(embedded.Rules{
			LeaveEscalationDays:  cfg.Workflow.LeaveEscalationDays,
			FinanceApprovalLimit: limit,
		}),
	)

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(approvalmetrics.New()),
		service.WithBackendTimeout(cfg.Workflow.BackendTimeout),
	}

	if res.redis != nil {
		opts = append(opts, service.WithIdempotencyStore(idempotency.NewRedisStore(res.redis.Client), cfg.Workflow.IdempotencyTTL))
	} else {
		opts = append(opts, service.WithIdempotencyStore(idempotency.NewInMemoryStore(), cfg.Workflow.IdempotencyTTL))
	}

	if res.db != nil {
		store := approvalpg.New(res.db)
		return service.New(store, store, backend, opts...), nil
	}
	log.Warn("approval requests are kept in memory only")
	store := approvalmemory.New()
	return service.New(store, store, backend, opts...), nil
}

func newRouter(log *slog.Logger, authn func(http.Handler) http.Handler, limiter *ratelimit.Middleware, approvals *approvalhandler.Handler, auditLog *auditadmin.Handler, res *infra) http.Handler {
	httpMetrics := httpmetrics.New()

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(request.Logger(log))
	r.Use(chimw.Recoverer)
	r.Use(httpMetrics.Middleware)

	r.Get("/health", healthHandler(res))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authn)
		r.Use(limiter.Writes)
		approvals.Register(r)
		r.Route("/admin", func(r chi.Router) {
			r.Use(adminmw.RequireRole(requestcontext.RoleAdmin, log))
			approvals.RegisterAdmin(r)
			auditLog.Register(r)
		})
	})
	return r
}

func healthHandler(res *infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		healthy := true
		check := func(name string, err error) {
			if err != nil {
				checks[name] = err.Error()
				healthy = false
				return
			}
			checks[name] = "ok"
		}
		if res.db != nil {
			check("postgres", res.db.PingContext(ctx))
		}
		if res.redis != nil {
			check("redis", res.redis.Health(ctx))
		}
		if res.producer != nil {
			check("kafka", res.producer.Health(ctx))
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, map[string]any{"healthy": healthy, "checks": checks})
	}
}
