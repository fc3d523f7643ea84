// Package config loads service settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"otpauth/internal/hasher"
	"otpauth/internal/mailer"
	"otpauth/internal/token"
)

type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// DevSigningSecret signs tokens in development when JWT_SECRET is unset.
// It is public and must never be used in production.
const DevSigningSecret = "otpauth-insecure-development-signing-secret"

const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"

	OTPMemory    = "memory"
	OTPMongo     = "mongo"
	OTPEphemeral = "ephemeral"

	LimiterMemory = "memory"
	LimiterRedis  = "redis"
)

var ErrInvalid = errors.New("invalid configuration")

// Limit is one endpoint's request budget.
type Limit struct {
	Max    int           `env:"MAX"`
	Window time.Duration `env:"WINDOW"`
}

type RateLimits struct {
	Backend       string        `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	MaxKeys       int           `env:"RATE_LIMIT_MAX_KEYS" envDefault:"100000"`
	SweepInterval time.Duration `env:"RATE_LIMIT_SWEEP_INTERVAL" envDefault:"1m"`
	RedisPrefix   string        `env:"RATE_LIMIT_REDIS_PREFIX" envDefault:"otpauth:rl"`

	Signup Limit `envPrefix:"RATE_SIGNUP_"`
	Login  Limit `envPrefix:"RATE_LOGIN_"`
	Verify Limit `envPrefix:"RATE_VERIFY_"`
	Resend Limit `envPrefix:"RATE_RESEND_"`
	Forgot Limit `envPrefix:"RATE_FORGOT_"`
	Reset  Limit `envPrefix:"RATE_RESET_"`
}

type Config struct {
	Env  Environment `env:"APP_ENV" envDefault:"development"`
	Port string      `env:"PORT" envDefault:"8080"`

	JWTSecret string        `env:"JWT_SECRET"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"168h"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"otpauth"`

	SMTPServer   string `env:"SMTP_SERVER"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	MailWorkers   int `env:"MAIL_WORKERS" envDefault:"2"`
	MailQueueSize int `env:"MAIL_QUEUE_SIZE" envDefault:"256"`

	StoreDriver string        `env:"STORE_DRIVER" envDefault:"memory"`
	OTPBackend  string        `env:"OTP_BACKEND" envDefault:"memory"`
	OTPSweep    time.Duration `env:"OTP_SWEEP_INTERVAL" envDefault:"1m"`

	MongoURI      string `env:"MONGO_URI"`
	MongoDB       string `env:"MONGO_DB"`
	DatabaseURL   string `env:"DATABASE_URL"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	RateLimits RateLimits

	ConcealAccounts   bool     `env:"AUTH_CONCEAL_ACCOUNTS" envDefault:"true"`
	TrustProxyHeaders bool     `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
	AllowedOrigins    []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	HashAlgorithm     string `env:"HASH_ALGORITHM" envDefault:"argon2id"`
	Argon2MemoryKB    uint32 `env:"ARGON2_MEMORY_KB" envDefault:"65536"`
	Argon2Time        uint32 `env:"ARGON2_TIME" envDefault:"3"`
	Argon2Parallelism uint8  `env:"ARGON2_PARALLELISM" envDefault:"2"`
	BcryptCost        int    `env:"BCRYPT_COST" envDefault:"12"`
}

// Load reads files (".env" when none are given) into the process
// environment, then parses and validates the settings. A missing file is
// only a warning.
func Load(logger *log.Logger, files ...string) (Config, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := godotenv.Load(files...); err != nil {
		logger.Println("Warning: .env file not found")
	}

	cfg := Config{RateLimits: RateLimits{
		Signup: Limit{Max: 5, Window: 15 * time.Minute},
		Login:  Limit{Max: 5, Window: 15 * time.Minute},
		Verify: Limit{Max: 10, Window: 15 * time.Minute},
		Resend: Limit{Max: 3, Window: 15 * time.Minute},
		Forgot: Limit{Max: 3, Window: 15 * time.Minute},
		Reset:  Limit{Max: 5, Window: 15 * time.Minute},
	}}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(logger); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate(logger *log.Logger) error {
	switch c.Env {
	case Development, Production:
	default:
		return fmt.Errorf("%w: APP_ENV must be %q or %q, got %q", ErrInvalid, Development, Production, c.Env)
	}

	if c.JWTSecret == "" {
		if c.Env == Production {
			return fmt.Errorf("%w: JWT_SECRET is required in production", ErrInvalid)
		}
		logger.Println("Warning: JWT_SECRET not set; using the insecure development signing secret")
		c.JWTSecret = DevSigningSecret
	}
	if len(c.JWTSecret) < token.MinSecretLen {
		return fmt.Errorf("%w: JWT_SECRET must be at least %d bytes", ErrInvalid, token.MinSecretLen)
	}
	if c.JWTTTL < token.MinTTL || c.JWTTTL > token.MaxTTL {
		return fmt.Errorf("%w: JWT_TTL must be between %s and %s", ErrInvalid, token.MinTTL, token.MaxTTL)
	}

	if c.Env == Production && !c.SMTP().Configured() {
		return fmt.Errorf("%w: SMTP_SERVER, SMTP_USER and SMTP_PASSWORD are required in production", ErrInvalid)
	}

	switch c.StoreDriver {
	case StoreMemory, StoreMongo:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for STORE_DRIVER=postgres", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown STORE_DRIVER %q", ErrInvalid, c.StoreDriver)
	}
	switch c.OTPBackend {
	case OTPMemory, OTPMongo, OTPEphemeral:
	default:
		return fmt.Errorf("%w: unknown OTP_BACKEND %q", ErrInvalid, c.OTPBackend)
	}
	switch c.RateLimits.Backend {
	case LimiterMemory, LimiterRedis:
	default:
		return fmt.Errorf("%w: unknown RATE_LIMIT_BACKEND %q", ErrInvalid, c.RateLimits.Backend)
	}
	switch c.HashAlgorithm {
	case hasher.AlgorithmArgon2id, hasher.AlgorithmBcrypt:
	default:
		return fmt.Errorf("%w: unknown HASH_ALGORITHM %q", ErrInvalid, c.HashAlgorithm)
	}

	for name, l := range map[string]Limit{
		"SIGNUP": c.RateLimits.Signup, "LOGIN": c.RateLimits.Login,
		"VERIFY": c.RateLimits.Verify, "RESEND": c.RateLimits.Resend,
		"FORGOT": c.RateLimits.Forgot, "RESET": c.RateLimits.Reset,
	} {
		if l.Max < 0 || (l.Max > 0 && l.Window <= 0) {
			return fmt.Errorf("%w: RATE_%s_MAX/RATE_%s_WINDOW out of range", ErrInvalid, name, name)
		}
	}
	return nil
}

func (c Config) Addr() string { return ":" + c.Port }

func (c Config) SMTP() mailer.SMTPConfig {
	return mailer.SMTPConfig{
		Server:   c.SMTPServer,
		User:     c.SMTPUser,
		Password: c.SMTPPassword,
		From:     c.SMTPFrom,
	}
}

// ExposeCodes reports whether issued codes may be echoed in responses:
// only in development with no way to mail them.
func (c Config) ExposeCodes() bool {
	return c.Env == Development && !c.SMTP().Configured()
}

func (c Config) Hasher() hasher.Config {
	return hasher.Config{
		Algorithm: c.HashAlgorithm,
		Argon2: hasher.Argon2Config{
			Memory:      c.Argon2MemoryKB,
			Time:        c.Argon2Time,
			Parallelism: c.Argon2Parallelism,
			SaltLength:  16,
			KeyLength:   32,
		},
		BcryptCost: c.BcryptCost,
	}
}

func (c Config) Token() token.Config {
	return token.Config{
		Secret: []byte(c.JWTSecret),
		TTL:    c.JWTTTL,
		Issuer: c.JWTIssuer,
	}
}
