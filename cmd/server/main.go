package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-pool/internal/config"
	"github.com/example/ride-pool/internal/dispatch"
	"github.com/example/ride-pool/internal/geo"
	httpapi "github.com/example/ride-pool/internal/http"
	"github.com/example/ride-pool/internal/ingest"
	"github.com/example/ride-pool/internal/logging"
	"github.com/example/ride-pool/internal/payments"
	"github.com/example/ride-pool/internal/pool"
	"github.com/example/ride-pool/internal/routing"
	"github.com/example/ride-pool/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("ride-pool-server", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rides storage.RideStore
	var requests storage.RequestStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "err", err)
			os.Exit(1)
		}
		defer ps.Close()
		if cfg.RunMigrations {
			applied, err := ps.MigrateDir(ctx, cfg.MigrationsDir)
			if err != nil {
				logger.Error("migration failed", "dir", cfg.MigrationsDir, "applied", applied, "err", err)
				os.Exit(1)
			}
			logger.Info("migrations applied", "files", applied)
		}
		rides, requests = ps, ps
	} else {
		mem := storage.NewMemoryStore()
		rides, requests = mem, mem
		logger.Warn("PG_DSN not set, using in-memory storage")
	}

	var index geo.Geo
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		index = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
	} else {
		index = geo.NewIndex()
	}

	provider, err := routing.New(routing.Options{
		Kind:           cfg.RouteProvider,
		OSRMURL:        cfg.OSRMURL,
		GraphHopperURL: cfg.GraphHopperURL,
		GraphHopperKey: cfg.GraphHopperAPIKey,
		GoogleAPIKey:   cfg.GoogleMapsAPIKey,
	})
	if err != nil {
		logger.Error("route provider setup failed", "err", err)
		os.Exit(1)
	}
	if cfg.RouteCacheTTL > 0 {
		provider = &routing.CachedProvider{Provider: provider, Cache: routing.NewCache(cfg.RouteCacheTTL)}
	}

	wsreg := dispatch.NewWSRegistry()
	deps := pool.Deps{
		Rides:    rides,
		Requests: requests,
		Routes:   provider,
		Geo:      index,
		Notifier: dispatch.NewNotifier(cfg.PushEndpoint, cfg.PushKey, wsreg, logger),
		Logger:   logger,
	}
	if cfg.StripeAPIKey != "" {
		deps.Payments = payments.NewStripeClient(cfg.StripeAPIKey)
	}
	svc := pool.New(deps, poolConfig(cfg.Pool))

	var publisher httpapi.LocationPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(httpapi.Deps{Pool: svc, Geo: index, Publisher: publisher, WS: wsreg, Logger: logger}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("ride-pool listening", "addr", cfg.HTTPAddr, "route_provider", cfg.RouteProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
	logger.Info("ride-pool stopped")
}

func poolConfig(p config.PoolSettings) pool.Config {
	return pool.Config{
		RatePerKm:         p.FareRatePerKm,
		ToleranceDeg:      p.MatchToleranceDeg,
		ArrivalThresholdM: p.ArrivalThresholdM,
		MaxDetourKm:       p.MaxDetourKm,
		NearbyRadiusKm:    p.NearbyRadiusKm,
		NearbyLimit:       p.NearbyLimit,
		DefaultSpeedMps:   p.DefaultSpeedMps,
		UpdateMaxAttempts: p.UpdateMaxAttempts,
		Currency:          p.FareCurrency,
	}
}
