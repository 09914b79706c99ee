package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/liveshow/internal/platform/analytics"
	"github.com/example/liveshow/internal/platform/auth"
	"github.com/example/liveshow/internal/platform/config"
	"github.com/example/liveshow/internal/platform/db"
	"github.com/example/liveshow/internal/platform/httpserver"
	"github.com/example/liveshow/internal/platform/logging"
	"github.com/example/liveshow/internal/platform/natsconn"
	"github.com/example/liveshow/internal/platform/redisconn"
	"github.com/example/liveshow/internal/platform/run"
	"github.com/example/liveshow/services/scoring/internal/archive"
	scoringcfg "github.com/example/liveshow/services/scoring/internal/config"
	"github.com/example/liveshow/services/scoring/internal/handlers"
	"github.com/example/liveshow/services/scoring/internal/ingest"
	"github.com/example/liveshow/services/scoring/internal/metrics"
	"github.com/example/liveshow/services/scoring/internal/scoring"
	"github.com/example/liveshow/services/scoring/internal/show"
)

var errNATSUnavailable = errors.New("nats is not connected")

func main() {
	appCfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	cfg, err := scoringcfg.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(appCfg.LogLevel, appCfg.ServiceName, appCfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelBoot()

	rdb, err := redisconn.Open(bootCtx, redisconn.Options{URL: cfg.RedisURL, PoolSize: cfg.RedisPoolSize})
	if err != nil {
		log.Error("redis connect", zap.Error(err))
		_ = log.Sync()
		run.Exit(1)
	}
	defer func() { _ = rdb.Close() }()

	store, closeArchive := initArchive(bootCtx, log, appCfg, cfg)
	if closeArchive != nil {
		defer closeArchive()
	}

	// NATS is optional: without it the nats source and analytics are off.
	var js nats.JetStreamContext
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: appCfg.ServiceName, Log: log})
		if err == nil {
			js, err = nc.JetStream()
		}
		if err != nil {
			log.Warn("nats unavailable, live source and analytics disabled", zap.Error(err))
			js = nil
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var ctl *show.Controller
	rec := metrics.New(reg, cfg.MetricsEnabled, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n, err := ctl.Engine().Leaderboard().Size(ctx)
		if err != nil {
			return 0
		}
		return float64(n)
	})

	events := analytics.New(js, log)
	ctl = show.New(show.Config{
		Redis:      rdb,
		Archive:    store,
		Analytics:  events,
		Metrics:    rec,
		Log:        log,
		Calculator: scoring.New(cfg.LikesPerPointFollower, cfg.LikesPerPointNonFollower),
		Sources: map[show.Mode]show.Source{
			show.ModeMock: replaySource(cfg, log),
			show.ModeNATS: natsSource(js, cfg, log),
		},
		CheckTarget: checkTarget,
	}, cfg.SessionID)
	if _, err := ctl.SetSession(bootCtx, cfg.SessionID, false); err != nil {
		log.Warn("initial session", zap.Error(err))
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: redisconn.ReadyFunc(rdb)})
	if cfg.MetricsEnabled {
		r.Handle("/metrics", metrics.Handler(reg))
	}
	mountRoutes(r, ctl, store, rec, appCfg, cfg, log)

	srv := httpserver.New(httpserver.Options{Addr: appCfg.HTTP.Addr, ServiceName: appCfg.ServiceName, Logger: log, Router: r})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error("grpc listen", zap.Error(err))
		run.Exit(1)
	}
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	runner := run.New(log)
	runner.ShutdownTimeout = appCfg.ShutdownTimeout
	code := runner.WithSignals(
		func(ctx context.Context) error { return srv.Start(log) },
		func(ctx context.Context) error {
			log.Info("grpc server starting", zap.String("addr", cfg.GRPCAddr))
			return grpcSrv.Serve(lis)
		},
	)

	healthSrv.Shutdown()
	runner.Graceful(
		ctl.Stop,
		srv.Shutdown,
		func(ctx context.Context) error {
			stopped := make(chan struct{})
			go func() {
				grpcSrv.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-ctx.Done():
				grpcSrv.Stop()
			}
			return nil
		},
		events.Flush,
		func(context.Context) error {
			if nc != nil {
				return nc.Drain()
			}
			return nil
		},
	)

	log.Info("exit", zap.Int("code", code))
	_ = log.Sync()
	run.Exit(code)
}

func mountRoutes(r chi.Router, ctl *show.Controller, store archive.Store, rec metrics.Recorder,
	appCfg config.AppConfig, cfg scoringcfg.Config, log *zap.Logger) {
	board := handlers.NewBoard(ctl, handlers.NewCache(cfg.CacheSizeMB, cfg.CacheTTL), rec, cfg.LeaderboardLimit)
	control := &handlers.Control{
		Show:    ctl,
		Archive: store,
		Board:   board,
		DefaultTargets: map[show.Mode]string{
			show.ModeMock: cfg.ReplayFile,
			show.ModeNATS: cfg.EventsSubject,
		},
	}

	requireAdmin := adminGuard(appCfg, cfg, log)
	login := httpserver.NewRateLimiter(cfg.LoginRate, cfg.LoginBurst)
	login.TrustForwarded = cfg.TrustProxy

	r.Group(func(r chi.Router) {
		r.Use(metrics.Middleware(rec))

		r.Get("/v1/status", handlers.GetStatus(ctl))
		r.Get("/v1/leaderboard", board.GetLeaderboard())
		r.Get("/v1/users/{viewer_id}", handlers.GetUser(ctl))
		r.Get("/ws/leaderboard", handlers.LeaderboardStream(board, cfg.SnapshotInterval, log))
		r.With(login.Middleware).Post("/v1/auth/token", handlers.Login(cfg.AdminPasswordHash, auth.Issuer{
			Secret: []byte(cfg.JWTSecret),
			Name:   appCfg.ServiceName,
			TTL:    cfg.TokenTTL,
		}))

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin...)
			r.Post("/v1/session", control.SetSession())
			r.Post("/v1/session/end", control.EndSession())
			r.Post("/v1/control/start", control.Start())
			r.Post("/v1/control/stop", control.Stop())
			r.Post("/v1/control/scoring/{active}", control.SetScoring())
			r.Post("/v1/winner/select", control.SelectWinner())
			r.Post("/v1/users/{viewer_id}/reset", control.ResetUser())
			r.Get("/v1/users/{viewer_id}/comments", control.ListComments())
			r.Get("/v1/logs", control.ListLogs())
			r.Post("/v1/comments/{comment_id}/used", control.MarkCommentUsed())
			r.Delete("/v1/comments/{comment_id}/used", control.MarkCommentUsed())
		})
	})
}

// adminGuard returns the middleware chain for admin routes. Without a JWT
// secret the routes are open, which production refuses.
func adminGuard(appCfg config.AppConfig, cfg scoringcfg.Config, log *zap.Logger) []func(next http.Handler) http.Handler {
	if cfg.JWTSecret == "" {
		if appCfg.IsProduction() {
			log.Error("JWT_SECRET is required in production")
			_ = log.Sync()
			run.Exit(1)
		}
		log.Warn("JWT_SECRET not set, admin routes are unauthenticated (development only)")
		return nil
	}
	verifier := auth.JWTVerifier{Secret: []byte(cfg.JWTSecret), Issuer: appCfg.ServiceName, Leeway: 30 * time.Second}
	return []func(next http.Handler) http.Handler{auth.RequireUser(verifier), auth.RequireAdmin}
}

// initArchive selects the archive backend. In production it requires a
// working Postgres connection and terminates the process otherwise.
func initArchive(ctx context.Context, log *zap.Logger, appCfg config.AppConfig, cfg scoringcfg.Config) (archive.Store, func()) {
	if cfg.DatabaseURL == "" {
		if appCfg.IsProduction() {
			log.Error("DATABASE_URL is required in production")
			_ = log.Sync()
			run.Exit(1)
		}
		log.Warn("DATABASE_URL not set, using in-memory archive (development only)")
		return archive.NewMemory(), nil
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns})
	if err == nil {
		if err = db.Migrate(ctx, pool, "live_archive", archive.Schema); err != nil {
			pool.Close()
		}
	}
	if err != nil {
		if appCfg.IsProduction() {
			log.Error("postgres is required in production but unavailable", zap.Error(err))
			_ = log.Sync()
			run.Exit(1)
		}
		log.Warn("postgres unavailable, falling back to in-memory archive", zap.Error(err))
		return archive.NewMemory(), nil
	}

	log.Info("archive store: postgres")
	return archive.NewBreaker(archive.NewPostgres(pool), archive.BreakerConfig{
		MaxRequests:      cfg.CBMaxRequests,
		Interval:         cfg.CBInterval,
		Timeout:          cfg.CBTimeout,
		FailureThreshold: cfg.CBFailureThreshold,
	}, log), pool.Close
}

func replaySource(cfg scoringcfg.Config, log *zap.Logger) show.Source {
	return func(ctx context.Context, target string, handle ingest.Handler) error {
		r := &ingest.Replay{
			Dir:    cfg.ReplayDir,
			Path:   target,
			Speed:  cfg.ReplaySpeed,
			Loop:   cfg.ReplayLoop,
			Handle: handle,
			Log:    log.Named("replay"),
		}
		return r.Run(ctx)
	}
}

// checkTarget keeps mock-mode targets inside the replay directory.
func checkTarget(mode show.Mode, target string) (string, error) {
	if mode == show.ModeMock {
		return ingest.ReplayPath(target)
	}
	return target, nil
}

func natsSource(js nats.JetStreamContext, cfg scoringcfg.Config, log *zap.Logger) show.Source {
	return func(ctx context.Context, target string, handle ingest.Handler) error {
		if js == nil {
			return errNATSUnavailable
		}
		c := ingest.NewConsumer(js, ingest.ConsumerConfig{
			Stream:     cfg.EventsStream,
			Subject:    target,
			Durable:    cfg.EventsDurable,
			DLQSubject: cfg.DLQSubject,
			MaxDeliver: cfg.MaxDeliver,
		}, handle, log.Named("consumer"))
		return c.Run(ctx)
	}
}
