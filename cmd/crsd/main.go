package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/mind-engage/mindengage-crs/internal/api/http"
	"github.com/mind-engage/mindengage-crs/internal/audit"
	"github.com/mind-engage/mindengage-crs/internal/config"
	"github.com/mind-engage/mindengage-crs/internal/crs"
	"github.com/mind-engage/mindengage-crs/internal/db"
	"github.com/mind-engage/mindengage-crs/internal/lock"
	"github.com/mind-engage/mindengage-crs/internal/storage"
	"github.com/mind-engage/mindengage-crs/internal/telemetry"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	if err := run(cfg); err != nil {
		slog.Error("crsd exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "crsd",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(sctx)
	}()
	metrics, err := telemetry.NewInstruments()
	if err != nil {
		return err
	}

	// --- Store ---
	var (
		store    crs.Store
		recorder audit.Recorder
	)
	if cfg.Mode == config.ModeDev {
		store, recorder = crs.NewInMemoryStore(), &audit.MemoryRecorder{}
		slog.Warn("dev mode: scores are kept in memory only")
	} else {
		octx, cancel := context.WithTimeout(ctx, 10*time.Second)
		dbh, err := db.Open(octx, db.Driver(cfg.DBDriver), cfg.DBDSN)
		cancel()
		if err != nil {
			return err
		}
		defer dbh.Close()
		store, recorder = crs.NewSQLStore(dbh), audit.NewSQLRecorder(dbh)
	}

	// --- Per-student lock ---
	var keyed lock.Keyed = lock.NewKeyedMutex()
	if cfg.LockDriver == "redis" {
		rdb := lock.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		keyed = lock.NewRedisLocker(rdb, cfg.LockTTL)
	}

	svc := crs.NewService(store, crs.Options{
		Lock:     keyed,
		Audit:    recorder,
		Metrics:  metrics,
		Location: cfg.Location(),
	})

	if cfg.RecomputeSchedule != "" {
		sched, err := svc.Schedule(cfg.RecomputeSchedule, 4, 30*time.Minute)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
		slog.Info("scheduled full recompute", "schedule", cfg.RecomputeSchedule)
	}

	bs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		return err
	}

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Actor-ID"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	api.Mount(r, svc, bs)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		slog.Info("crsd listening", "addr", cfg.HTTPAddr, "mode", cfg.Mode, "db", cfg.DBDriver, "lock", cfg.LockDriver)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
