// Package app wires configuration into a running booking service: store,
// redis, event publisher and health dependencies.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking-engine/internal/api"
	"github.com/hackgods/slot-booking-engine/internal/booking"
	"github.com/hackgods/slot-booking-engine/internal/clock"
	"github.com/hackgods/slot-booking-engine/internal/config"
	"github.com/hackgods/slot-booking-engine/internal/db"
	"github.com/hackgods/slot-booking-engine/internal/events"
	redisclient "github.com/hackgods/slot-booking-engine/internal/redis"
	"github.com/hackgods/slot-booking-engine/migrations"
)

type Runtime struct {
	Config       config.Config
	Logger       *zap.Logger
	Repo         booking.Repository
	Service      *booking.Service
	Redis        *redis.Client
	Dependencies []api.Dependency

	closers []func()
}

// Bootstrap connects everything cfg asks for. On error, whatever was already
// opened is closed before returning.
func Bootstrap(ctx context.Context, cfg config.Config, logger *zap.Logger) (rt *Runtime, err error) {
	rt = &Runtime{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	var pgPool *pgxpool.Pool
	connectPg := func() (*pgxpool.Pool, error) {
		if pgPool != nil {
			return pgPool, nil
		}
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection error: %w", err)
		}
		rt.addCloser(pool.Close)
		rt.Dependencies = append(rt.Dependencies, api.Dependency{Name: "postgres", Critical: true, Ping: pool.Ping})

		if err := migrations.Apply(ctx, pool); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("connected to Postgres")
		pgPool = pool
		return pool, nil
	}

	switch cfg.StoreBackend {
	case config.StorePostgres:
		pool, err := connectPg()
		if err != nil {
			return nil, err
		}
		rt.Repo = booking.NewPgRepository(pool)

	case config.StoreMongo:
		mongoCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		client, err := db.ConnectMongo(mongoCtx, cfg.MongoURI)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("mongo connection error: %w", err)
		}
		rt.addCloser(func() { _ = client.Disconnect(context.Background()) })
		rt.Dependencies = append(rt.Dependencies, api.Dependency{
			Name:     "mongo",
			Critical: true,
			Ping:     func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) },
		})

		repo := booking.NewMongoRepository(client.Database(cfg.MongoDatabase))
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		logger.Info("connected to MongoDB", zap.String("database", cfg.MongoDatabase))
		rt.Repo = repo

	default:
		logger.Warn("using in-memory slot store; data is lost on restart")
		rt.Repo = booking.NewMemoryRepository()
	}

	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TLS:      cfg.RedisTLS,
		})
		switch {
		case err == nil:
			rt.Redis = rdb
			rt.addCloser(func() {
				if err := rdb.Close(); err != nil {
					logger.Warn("error closing redis", zap.Error(err))
				}
			})
			rt.Dependencies = append(rt.Dependencies, api.Dependency{
				Name: "redis",
				Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			})
			logger.Info("connected to Redis")
		case cfg.EventsBackend == config.EventsRedis:
			return nil, fmt.Errorf("redis connection error: %w", err)
		default:
			logger.Warn("redis unavailable, continuing without it", zap.Error(err))
		}
	}

	pub, err := rt.newPublisher(connectPg)
	if err != nil {
		return nil, err
	}

	rt.Service = booking.NewService(rt.Repo, pub, clock.NewSystem(),
		booking.WithLogger(logger.Named("booking")),
		booking.WithHoldDurations(cfg.HoldDuration, cfg.MaxHoldDuration),
		booking.WithCASRetry(cfg.CASMaxAttempts, cfg.CASBackoff),
		booking.WithStrictExpiredConfirm(cfg.StrictExpiredConfirm),
		booking.WithSweepBatchSize(cfg.SweepBatchSize),
	)
	return rt, nil
}

func (rt *Runtime) newPublisher(connectPg func() (*pgxpool.Pool, error)) (events.Publisher, error) {
	cfg := rt.Config

	switch cfg.EventsBackend {
	case config.EventsRedis:
		rt.Logger.Info("publishing slot events to redis", zap.String("channel", cfg.EventsChannel))
		return events.NewRedisPublisher(rt.Redis, cfg.EventsChannel), nil

	case config.EventsRabbitMQ:
		conn, err := amqp.Dial(cfg.RabbitMQURL)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq connection error: %w", err)
		}
		rt.addCloser(func() { _ = conn.Close() })

		pub, err := events.NewRabbitPublisher(conn, cfg.RabbitMQQueue)
		if err != nil {
			return nil, err
		}
		rt.addCloser(func() { _ = pub.Close() })
		rt.Dependencies = append(rt.Dependencies, api.Dependency{
			Name: "rabbitmq",
			Ping: func(context.Context) error {
				if conn.IsClosed() {
					return amqp.ErrClosed
				}
				return nil
			},
		})
		rt.Logger.Info("publishing slot events to rabbitmq", zap.String("queue", cfg.RabbitMQQueue))
		return pub, nil

	case config.EventsPgLog:
		pool, err := connectPg()
		if err != nil {
			return nil, err
		}
		rt.Logger.Info("recording slot events in event_logs")
		return events.NewPgLogPublisher(pool), nil
	}

	return events.NewNop(), nil
}

// Locker returns the sweeper leader lock, or nil when it is disabled or redis
// is not connected.
func (rt *Runtime) Locker() booking.Locker {
	if !rt.Config.SweeperLeaderLock || rt.Redis == nil {
		return nil
	}
	return redisclient.NewLocker(rt.Redis, rt.Config.LockTTL)
}

func (rt *Runtime) NewSweeper() *booking.Sweeper {
	return booking.NewSweeper(rt.Service, rt.Config.SweeperInterval, rt.Locker(), rt.Logger.Named("sweeper"))
}

func (rt *Runtime) addCloser(fn func()) {
	rt.closers = append(rt.closers, fn)
}

// Close releases connections in reverse order of opening.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
