package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"landrecords/internal/auditlog/handler"
	auditservice "landrecords/internal/auditlog/service"
	jwttoken "landrecords/internal/jwt_token"
	"landrecords/internal/platform/config"
	"landrecords/internal/platform/httpserver"
	"landrecords/internal/platform/logger"
	"landrecords/internal/platform/metrics"
	"landrecords/internal/platform/middleware"
	"landrecords/internal/platform/postgres"
	"landrecords/internal/platform/redis"
	audit "landrecords/pkg/platform/audit"
	"landrecords/pkg/platform/audit/query"
	kafkasink "landrecords/pkg/platform/audit/sink/kafka"
	pgstore "landrecords/pkg/platform/audit/store/postgres"
	"landrecords/pkg/platform/audit/store/rediscache"
	"landrecords/pkg/platform/audit/writer"
	"landrecords/pkg/platform/middleware/metadata"
	"landrecords/pkg/platform/middleware/requesttime"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "landrecords-audit: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	store := pgstore.New(db)
	if cfg.Audit.SchemaBootstrap {
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("bootstrap audit schema: %w", err)
		}
	}

	var backend rediscache.Backend = store
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		backend = rediscache.New(store, redisClient.Client,
			rediscache.WithTTL(cfg.Audit.CountCacheTTL),
			rediscache.WithLogger(log),
		)
		log.InfoContext(ctx, "audit count cache enabled", "ttl", cfg.Audit.CountCacheTTL)
	}

	writerOpts := []writer.Option{
		writer.WithLogger(log),
		writer.WithMetrics(writer.NewMetrics()),
		writer.WithCircuitBreaker(writer.NewCircuitBreaker(cfg.Audit.BreakerThreshold, cfg.Audit.BreakerCooldown)),
		writer.WithSinkTimeout(cfg.Audit.SinkTimeout),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaClient, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.Kafka.Brokers...),
			kgo.DefaultProduceTopic(cfg.Kafka.Topic),
			kgo.RecordDeliveryTimeout(cfg.Audit.SinkTimeout),
			kgo.ProduceRequestTimeout(cfg.Audit.SinkTimeout),
		)
		if err != nil {
			return fmt.Errorf("create kafka client: %w", err)
		}
		defer kafkaClient.Close()
		if err := kafkasink.EnsureTopic(ctx, kafkaClient, cfg.Kafka.Topic, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			return err
		}
		writerOpts = append(writerOpts, writer.WithSink(kafkasink.New(kafkaClient, cfg.Kafka.Topic)))
		log.InfoContext(ctx, "audit kafka mirror enabled", "topic", cfg.Kafka.Topic)
	}
	auditWriter := writer.New(backend, writerOpts...)

	queryCfg := query.DefaultConfig()
	queryCfg.MaxLimit = cfg.Audit.QueryMaxLimit
	queryCfg.DefaultLimit = cfg.Audit.QueryDefaultLimit
	queryCfg.Location = cfg.Audit.Timezone
	engine := query.New(backend, queryCfg,
		query.WithLogger(log),
		query.WithMetrics(query.NewMetrics()),
	)

	svc := auditservice.New(auditWriter, engine, audit.DefaultRegistry())

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	jwtValidator := jwttoken.NewJWTServiceAdapter(jwtService)

	router := chi.NewRouter()
	router.Use(metadata.ClientMetadata)
	router.Use(requesttime.Middleware)
	router.Use(middleware.Principal(jwtValidator, log))
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	handler.New(svc, log, metrics.New(), jwtValidator).Register(router)

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "starting landrecords audit service", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.InfoContext(shutdownCtx, "shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
