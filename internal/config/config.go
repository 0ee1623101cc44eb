package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// PoolSettings are the matching, fare and tracking knobs shared by the API
// and the location consumer.
type PoolSettings struct {
	MatchToleranceDeg float64
	FareRatePerKm     float64
	FareCurrency      string
	ArrivalThresholdM float64
	MaxDetourKm       float64
	NearbyRadiusKm    float64
	NearbyLimit       int
	DefaultSpeedMps   float64
	UpdateMaxAttempts int
}

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN         string
	RunMigrations bool
	MigrationsDir string

	RouteProvider     string
	OSRMURL           string
	GraphHopperURL    string
	GraphHopperAPIKey string
	GoogleMapsAPIKey  string
	RouteCacheTTL     time.Duration

	PushEndpoint string
	PushKey      string
	StripeAPIKey string

	Pool PoolSettings

	LogLevel string
}

// ConsumerConfig configures the vehicle location consumer.
type ConsumerConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	PGDSN string

	PushEndpoint string
	PushKey      string

	MetricsAddr  string
	ApplyRetries int
	RetryDelay   time.Duration

	Pool PoolSettings

	LogLevel string
}

func defaultPoolSettings() PoolSettings {
	return PoolSettings{
		MatchToleranceDeg: 0.01,
		FareRatePerKm:     10,
		FareCurrency:      "usd",
		ArrivalThresholdM: 100,
		MaxDetourKm:       3,
		NearbyRadiusKm:    10,
		NearbyLimit:       20,
		DefaultSpeedMps:   8,
		UpdateMaxAttempts: 3,
	}
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "drivers_geo",
		KafkaTopic:      "vehicle-locations",
		MigrationsDir:   "migrations",
		RouteProvider:   "osrm",
		OSRMURL:         "http://localhost:5000",
		GraphHopperURL:  "https://graphhopper.com",
		RouteCacheTTL:   5 * time.Minute,
		Pool:            defaultPoolSettings(),
		LogLevel:        "info",
	}
}

func defaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "vehicle-locations",
		KafkaGroup:   "ride-pool-consumer",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "drivers_geo",
		MetricsAddr:  ":2112",
		ApplyRetries: 3,
		RetryDelay:   200 * time.Millisecond,
		Pool:         defaultPoolSettings(),
		LogLevel:     "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")
	setStringFromEnv(&cfg.MigrationsDir, "MIGRATIONS_DIR")

	if v := os.Getenv("ROUTE_PROVIDER"); v != "" {
		cfg.RouteProvider = strings.ToLower(strings.TrimSpace(v))
	}
	setStringFromEnv(&cfg.OSRMURL, "OSRM_URL")
	setStringFromEnv(&cfg.GraphHopperURL, "GRAPHHOPPER_URL")
	cfg.GraphHopperAPIKey = os.Getenv("GRAPHHOPPER_API_KEY")
	cfg.GoogleMapsAPIKey = os.Getenv("GOOGLE_MAPS_API_KEY")
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)

	cfg.PushEndpoint = os.Getenv("PUSH_ENDPOINT")
	cfg.PushKey = os.Getenv("PUSH_KEY")
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")

	loadPoolSettings(&cfg.Pool, &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	switch cfg.RouteProvider {
	case "osrm", "graphhopper", "google":
	default:
		errs = append(errs, fmt.Errorf("ROUTE_PROVIDER must be one of osrm, graphhopper, google"))
	}
	if cfg.RouteProvider == "google" && cfg.GoogleMapsAPIKey == "" {
		errs = append(errs, fmt.Errorf("GOOGLE_MAPS_API_KEY is required when ROUTE_PROVIDER=google"))
	}

	return cfg, errors.Join(errs...)
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := defaultConsumerConfig()
	var errs []error

	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKER")
	}
	if brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.PushEndpoint = os.Getenv("PUSH_ENDPOINT")
	cfg.PushKey = os.Getenv("PUSH_KEY")

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setIntFromEnv(&cfg.ApplyRetries, "CONSUMER_APPLY_RETRIES", &errs)
	setDurationFromEnv(&cfg.RetryDelay, "CONSUMER_RETRY_DELAY", &errs)

	loadPoolSettings(&cfg.Pool, &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must list at least one broker"))
	}
	if cfg.ApplyRetries <= 0 {
		errs = append(errs, fmt.Errorf("CONSUMER_APPLY_RETRIES must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func loadPoolSettings(p *PoolSettings, errs *[]error) {
	setFloatFromEnv(&p.MatchToleranceDeg, "MATCH_TOLERANCE_DEG", errs)
	setFloatFromEnv(&p.FareRatePerKm, "FARE_RATE_PER_KM", errs)
	if v := os.Getenv("FARE_CURRENCY"); v != "" {
		p.FareCurrency = strings.ToLower(strings.TrimSpace(v))
	}
	setFloatFromEnv(&p.ArrivalThresholdM, "ARRIVAL_THRESHOLD_M", errs)
	setFloatFromEnv(&p.MaxDetourKm, "MAX_DETOUR_KM", errs)
	setFloatFromEnv(&p.NearbyRadiusKm, "NEARBY_RADIUS_KM", errs)
	setIntFromEnv(&p.NearbyLimit, "NEARBY_LIMIT", errs)
	setFloatFromEnv(&p.DefaultSpeedMps, "DEFAULT_SPEED_MPS", errs)
	setIntFromEnv(&p.UpdateMaxAttempts, "UPDATE_MAX_ATTEMPTS", errs)

	if p.MatchToleranceDeg <= 0 {
		*errs = append(*errs, fmt.Errorf("MATCH_TOLERANCE_DEG must be > 0"))
	}
	if p.FareRatePerKm < 0 {
		*errs = append(*errs, fmt.Errorf("FARE_RATE_PER_KM must be >= 0"))
	}
	if p.ArrivalThresholdM <= 0 {
		*errs = append(*errs, fmt.Errorf("ARRIVAL_THRESHOLD_M must be > 0"))
	}
	if p.UpdateMaxAttempts <= 0 {
		*errs = append(*errs, fmt.Errorf("UPDATE_MAX_ATTEMPTS must be > 0"))
	}
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
