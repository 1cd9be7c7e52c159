package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"

	EventsRedis    = "redis"
	EventsRabbitMQ = "rabbitmq"
	EventsPgLog    = "pglog"
	EventsNone     = "none"
)

type Config struct {
	Env        string // dev, prod
	HTTPPort   string // default 8080
	AppVersion string
	LogLevel   string // debug, info, warn, error

	StoreBackend  string // postgres, mongo, memory
	PostgresDSN   string // required for postgres store or pglog events
	MongoURI      string // required for mongo store
	MongoDatabase string

	RedisAddr     string // host:port, empty disables redis
	RedisUsername string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool // set by a rediss:// REDIS_URL

	HoldDuration         time.Duration // hold used when the client sends none
	MaxHoldDuration      time.Duration // longest hold a client may ask for
	CASMaxAttempts       int           // total compare-and-swap attempts per operation
	CASBackoff           time.Duration // initial backoff between attempts
	StrictExpiredConfirm bool          // refuse confirms on any lapsed hold

	SweeperInterval   time.Duration // how often the expiry sweeper runs
	SweepBatchSize    int           // max holds released per pass
	SweeperEmbedded   bool          // run the sweeper inside api-server
	SweeperLeaderLock bool          // take a redis lock per sweep pass
	LockTTL           time.Duration // how long the sweeper lock lives

	EventsBackend string // redis, rabbitmq, pglog, none
	EventsChannel string
	RabbitMQURL   string
	RabbitMQQueue string

	RateLimitRPS    int
	CORSOrigins     []string
	ShutdownTimeout time.Duration // graceful shutdown timeout
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:        getEnv("APP_ENV", "dev"),
		HTTPPort:   getEnv("HTTP_PORT", "8080"),
		AppVersion: getEnv("APP_VERSION", "dev"),
		LogLevel:   strings.ToLower(getEnv("LOG_LEVEL", "info")),

		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", StorePostgres)),
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: getEnv("MONGO_DATABASE", "slot_booking"),

		HoldDuration:         getDuration("HOLD_DURATION", 10*time.Minute),
		MaxHoldDuration:      getDuration("MAX_HOLD_DURATION", 30*time.Minute),
		CASMaxAttempts:       getInt("CAS_MAX_ATTEMPTS", 3),
		CASBackoff:           getDuration("CAS_BACKOFF", 20*time.Millisecond),
		StrictExpiredConfirm: getBool("STRICT_EXPIRED_CONFIRM", true),

		SweeperInterval:   getDuration("SWEEPER_INTERVAL", 5*time.Minute),
		SweepBatchSize:    getInt("SWEEP_BATCH_SIZE", 500),
		SweeperEmbedded:   getBool("SWEEPER_EMBEDDED", false),
		SweeperLeaderLock: getBool("SWEEPER_LEADER_LOCK", true),
		LockTTL:           getDuration("LOCK_TTL", 30*time.Second),

		EventsBackend: strings.ToLower(getEnv("EVENTS_BACKEND", EventsNone)),
		EventsChannel: getEnv("EVENTS_CHANNEL", "slot-events"),
		RabbitMQURL:   os.Getenv("RABBITMQ_URL"),
		RabbitMQQueue: getEnv("RABBITMQ_QUEUE", "slot-events"),

		RateLimitRPS:    getInt("RATE_LIMIT_RPS", 50),
		CORSOrigins:     getList("CORS_ORIGINS", []string{"*"}),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		cfg.RedisAddr = opts.Addr
		cfg.RedisUsername = opts.Username
		cfg.RedisPassword = opts.Password
		cfg.RedisDB = opts.DB
		cfg.RedisTLS = opts.TLSConfig != nil
	} else {
		cfg.RedisAddr = getEnv("REDIS_ADDR", "")
		cfg.RedisUsername = getEnv("REDIS_USERNAME", "")
		cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
		cfg.RedisDB = getInt("REDIS_DB", 0)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements that defaults cannot cover.
func (c Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case StorePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres store"))
		}
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.EventsBackend {
	case EventsRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_URL or REDIS_ADDR is required for redis events"))
		}
	case EventsRabbitMQ:
		if c.RabbitMQURL == "" {
			errs = append(errs, errors.New("RABBITMQ_URL is required for rabbitmq events"))
		}
	case EventsPgLog:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for pglog events"))
		}
	case EventsNone:
	default:
		errs = append(errs, fmt.Errorf("unknown EVENTS_BACKEND %q", c.EventsBackend))
	}

	if c.HoldDuration <= 0 {
		errs = append(errs, errors.New("HOLD_DURATION must be positive"))
	}
	if c.MaxHoldDuration < c.HoldDuration {
		errs = append(errs, errors.New("MAX_HOLD_DURATION must not be shorter than HOLD_DURATION"))
	}
	if c.CASMaxAttempts < 1 {
		errs = append(errs, errors.New("CAS_MAX_ATTEMPTS must be at least 1"))
	}
	if c.SweeperInterval <= 0 {
		errs = append(errs, errors.New("SWEEPER_INTERVAL must be positive"))
	}
	if c.SweepBatchSize < 1 {
		errs = append(errs, errors.New("SWEEP_BATCH_SIZE must be at least 1"))
	}

	return errors.Join(errs...)
}

// UseLeaderLock reports whether sweeper passes should be serialised via redis.
func (c Config) UseLeaderLock() bool {
	return c.SweeperLeaderLock && c.RedisAddr != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		fmt.Fprintf(os.Stderr, "invalid duration for %s=%q, using default %s\n", key, v, def)
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		fmt.Fprintf(os.Stderr, "invalid integer for %s=%q, using default %d\n", key, v, def)
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		fmt.Fprintf(os.Stderr, "invalid boolean for %s=%q, using default %t\n", key, v, def)
	}
	return def
}

func getList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
