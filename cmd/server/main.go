package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"vicinity/internal/graph/handler"
	"vicinity/internal/graph/metrics"
	"vicinity/internal/graph/service"
	"vicinity/internal/graph/store"
	"vicinity/internal/graph/store/memory"
	"vicinity/internal/graph/store/postgres"
	"vicinity/internal/graph/store/redisreg"
	jwttoken "vicinity/internal/jwt_token"
	"vicinity/internal/platform/config"
	"vicinity/internal/platform/httpserver"
	"vicinity/internal/platform/logger"
	platformredis "vicinity/internal/platform/redis"
	id "vicinity/pkg/domain"
	"vicinity/pkg/platform/events"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in internal/graph.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, cleanup, err := buildStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	sink, closeSink, err := buildSink(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSink()

	publisher := events.NewPublisher(sink,
		events.WithAsyncBuffer(256),
		events.WithLogger(log),
	)
	defer publisher.Close()

	svc, err := service.New(stores.registry, stores.snapshots, stores.records, publisher,
		service.WithLogger(log),
		service.WithMetrics(metrics.New()),
	)
	if err != nil {
		return err
	}

	deployer, err := id.ParseIdentity(cfg.DeployerIdentity)
	if err != nil {
		return err
	}
	reg, _, err := svc.Bootstrap(ctx, deployer)
	if err != nil {
		return err
	}
	log.Info("registry bootstrapped", "registry_id", reg.ID.String(), "deployer", deployer.String())

	jwtSvc := jwttoken.NewJWTService(cfg.JWTSigningKey, "vicinity")

	router := chi.NewRouter()
	handler.New(svc, handler.SystemClock{}, jwtSvc, log).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting vicinity", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

type storeSet struct {
	registry  store.RegistryStore
	snapshots store.SnapshotStore
	records   store.RecordStore
}

// buildStores selects backends from the config: Postgres when a URL is
// given, with an optional Redis-backed registry on top; in-memory
// otherwise.
func buildStores(ctx context.Context, cfg config.Config, log *slog.Logger) (storeSet, func(), error) {
	var stores storeSet
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.PostgresURL != "" {
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return storeSet{}, nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		if err := db.PingContext(ctx); err != nil {
			cleanup()
			return storeSet{}, nil, err
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			cleanup()
			return storeSet{}, nil, err
		}
		stores.registry = postgres.NewRegistryStore(db)
		stores.snapshots = postgres.NewSnapshotStore(db)
		stores.records = postgres.NewRecordStore(db)
		log.Info("using postgres stores")
	} else {
		stores.registry = memory.NewRegistryStore()
		stores.snapshots = memory.NewSnapshotStore()
		stores.records = memory.NewRecordStore()
		log.Info("using in-memory stores")
	}

	if cfg.RedisURL != "" {
		client, err := platformredis.New(ctx, cfg.RedisURL)
		if err != nil {
			cleanup()
			return storeSet{}, nil, err
		}
		closers = append(closers, func() { _ = client.Close() })
		stores.registry = redisreg.New(client.Client)
		log.Info("using redis registry")
	}

	return stores, cleanup, nil
}

// buildSink returns the event sink: Kafka when brokers are configured,
// an in-memory sink otherwise.
func buildSink(ctx context.Context, cfg config.Config, log *slog.Logger) (events.Sink, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		log.Info("using in-memory event sink")
		return events.NewInMemorySink(), func() {}, nil
	}

	sink, err := events.NewKafkaSink(ctx, cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, nil, err
	}
	log.Info("using kafka event sink", "topic", cfg.KafkaTopic)
	return sink, sink.Close, nil
}
