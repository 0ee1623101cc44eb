package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-pool/internal/config"
	"github.com/example/ride-pool/internal/dispatch"
	"github.com/example/ride-pool/internal/geo"
	"github.com/example/ride-pool/internal/ingest"
	"github.com/example/ride-pool/internal/logging"
	"github.com/example/ride-pool/internal/models"
	"github.com/example/ride-pool/internal/pool"
	"github.com/example/ride-pool/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total vehicle location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
	ridesApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_ride_updates_total",
		Help: "Total location updates applied to pooled rides",
	})
	rideErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_ride_errors_total",
		Help: "Total location updates that could not be applied",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors, ridesApplied, rideErrors)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	logger := logging.NewLogger("ride-pool-consumer", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// allow some flags for local runs
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve prometheus metrics on")
	flag.Parse()

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	radapter := &redisAdapter{c: rc}

	var applier LocationApplier
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "err", err)
			os.Exit(1)
		}
		defer ps.Close()
		applier = pool.New(pool.Deps{
			Rides:    ps,
			Requests: ps,
			Notifier: dispatch.NewNotifier(cfg.PushEndpoint, cfg.PushKey, nil, logger),
			Logger:   logger,
		}, pool.Config{
			RatePerKm:         cfg.Pool.FareRatePerKm,
			ToleranceDeg:      cfg.Pool.MatchToleranceDeg,
			ArrivalThresholdM: cfg.Pool.ArrivalThresholdM,
			UpdateMaxAttempts: cfg.Pool.UpdateMaxAttempts,
			Currency:          cfg.Pool.FareCurrency,
		})
	} else {
		logger.Warn("PG_DSN not set, only the driver index will be updated")
	}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			// readiness: check redis connectivity
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()

		loc, err := ingest.DecodeLocation(m.Value)
		if err != nil || geo.Validate(loc.Loc) != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "err", err, "key", string(m.Key))
			continue
		}

		if loc.DriverID != "" {
			d := models.Driver{ID: loc.DriverID, Loc: loc.Loc, Online: true, Updated: loc.At}
			if err := updateRedisWithRetry(ctx, radapter, cfg.RedisGeoKey, d, cfg.ApplyRetries, cfg.RetryDelay); err != nil {
				redisErrors.Inc()
				logger.Warn("redis update failed", "driver_id", d.ID, "err", err)
			} else {
				redisUpdates.Inc()
			}
		}

		if applier == nil || loc.RideID == "" {
			continue
		}
		if err := applyWithRetry(ctx, applier, loc, cfg.ApplyRetries, cfg.RetryDelay); err != nil {
			rideErrors.Inc()
			logger.Warn("ride location update failed", "ride_id", loc.RideID, "err", err)
			continue
		}
		ridesApplied.Inc()
	}
}

// RedisUpdater defines the small subset of redis operations we need for tests and production.
type RedisUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	_, err := r.c.GeoAdd(ctx, key, loc).Result()
	return err
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

// updateRedisWithRetry updates redis using the RedisUpdater interface with retry/backoff.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, key string, d models.Driver, attempts int, delay time.Duration) error {
	for i := 0; i < attempts; i++ {
		if err := rc.GeoAdd(ctx, key, &redis.GeoLocation{Longitude: d.Loc.Lng, Latitude: d.Loc.Lat, Name: d.ID}); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		if err := rc.HSet(ctx, geo.MetaKey(d.ID), geo.MetaFields(d)); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return nil
}

// LocationApplier is the part of the pool service the consumer drives.
type LocationApplier interface {
	UpdateLocation(ctx context.Context, loc models.VehicleLocation) (*pool.LocationResult, error)
}

// applyWithRetry retries transient failures. Unknown rides and invalid
// coordinates are permanent and returned immediately.
func applyWithRetry(ctx context.Context, a LocationApplier, loc models.VehicleLocation, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		_, err = a.UpdateLocation(ctx, loc)
		if err == nil {
			return nil
		}
		var ice *geo.InvalidCoordinateError
		if errors.Is(err, storage.ErrNotFound) || errors.As(err, &ice) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
