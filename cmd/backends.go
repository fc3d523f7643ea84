package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"otpauth/internal/config"
	"otpauth/internal/credential"
	"otpauth/internal/database"
	"otpauth/internal/hasher"
	"otpauth/internal/mailer"
	"otpauth/internal/otp"
	"otpauth/internal/ratelimit"
)

// backends holds the external connections the configuration asks for.
// Unused ones stay nil.
type backends struct {
	mongo    *mongo.Client
	postgres *pgxpool.Pool
	redis    *redis.Client
}

func connectBackends(ctx context.Context, cfg config.Config, logger *log.Logger) (*backends, error) {
	b := &backends{}
	var err error
	if cfg.StoreDriver == config.StoreMongo || cfg.OTPBackend == config.OTPMongo {
		if b.mongo, err = database.ConnectMongoDB(ctx, cfg.MongoURI, logger); err != nil {
			return nil, err
		}
	}
	if cfg.StoreDriver == config.StorePostgres {
		if b.postgres, err = database.ConnectPostgres(ctx, cfg.DatabaseURL); err != nil {
			b.close(logger)
			return nil, err
		}
		logger.Println("Connected to PostgreSQL")
	}
	if cfg.RateLimits.Backend == config.LimiterRedis {
		if b.redis, err = database.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); err != nil {
			b.close(logger)
			return nil, err
		}
		logger.Println("Connected to Redis")
	}
	return b, nil
}

func (b *backends) close(logger *log.Logger) {
	if b.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.mongo.Disconnect(ctx); err != nil {
			logger.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}
	if b.postgres != nil {
		b.postgres.Close()
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			logger.Printf("Error closing Redis client: %v", err)
		}
	}
}

func (b *backends) accounts(ctx context.Context, cfg config.Config) (credential.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		s := credential.NewMongoStore(database.Collection(b.mongo, cfg.MongoDB, database.AccountsCollection))
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("account indexes: %w", err)
		}
		return s, nil
	case config.StorePostgres:
		if err := database.Migrate(ctx, b.postgres); err != nil {
			return nil, err
		}
		return credential.NewPostgresStore(b.postgres), nil
	default:
		return credential.NewMemoryStore(), nil
	}
}

// ledger builds the configured OTP ledger. Process-local variants get a
// sweeper bound to bg so expired codes do not accumulate.
func (b *backends) ledger(ctx, bg context.Context, cfg config.Config, h hasher.Hasher) (otp.Ledger, error) {
	switch cfg.OTPBackend {
	case config.OTPMongo:
		store := otp.NewMongoStore(database.Collection(b.mongo, cfg.MongoDB, database.OTPCollection))
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("otp indexes: %w", err)
		}
		return otp.NewDurableLedger(h, store), nil
	case config.OTPEphemeral:
		l := otp.NewMemoryLedger(h)
		go l.Run(bg, cfg.OTPSweep)
		return l, nil
	default:
		store := otp.NewMapStore()
		go store.Run(bg, cfg.OTPSweep, time.Now)
		return otp.NewDurableLedger(h, store), nil
	}
}

func (b *backends) limiter(bg context.Context, cfg config.Config) ratelimit.Limiter {
	if b.redis != nil {
		return ratelimit.NewRedisLimiter(b.redis, cfg.RateLimits.RedisPrefix)
	}
	l := ratelimit.NewMemoryLimiter(ratelimit.WithMaxKeys(cfg.RateLimits.MaxKeys))
	go l.Run(bg, cfg.RateLimits.SweepInterval)
	return l
}

// newNotifier sends mail through SMTP when configured and otherwise logs
// messages. Either way delivery runs off the request path.
func newNotifier(cfg config.Config, logger *log.Logger) (*mailer.Dispatcher, error) {
	var sink mailer.Deliverer = mailer.LogDeliverer{Logger: logger}
	if cfg.SMTP().Configured() {
		d, err := mailer.NewSMTPDeliverer(cfg.SMTP())
		if err != nil {
			return nil, err
		}
		sink = d
	}
	return mailer.NewDispatcher(sink, mailer.DispatcherConfig{
		Workers:           cfg.MailWorkers,
		BufferSize:        cfg.MailQueueSize,
		LogCodesOnFailure: cfg.Env == config.Development,
	}, logger), nil
}
