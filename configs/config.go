package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/maheshrc27/postflow/pkg/logger"
)

const (
	QueueBackendAsynq  = "asynq"
	QueueBackendMemory = "memory"
)

type R2 struct {
	AccountID  string `env:"ACCOUNT_ID"`
	AccessKey  string `env:"ACCESS_KEY"`
	SecretKey  string `env:"SECRET_KEY"`
	BucketName string `env:"BUCKET_NAME"`
	Endpoint   string `env:"ENDPOINT"`
	Region     string `env:"REGION" envDefault:"auto"`
	// URLTTL is the lifetime of presigned media URLs handed to platforms.
	URLTTL time.Duration `env:"URL_TTL" envDefault:"1h"`
}

type Queue struct {
	Backend       string        `env:"BACKEND" envDefault:"asynq"`
	Name          string        `env:"NAME" envDefault:"publish"`
	Concurrency   int           `env:"CONCURRENCY" envDefault:"3"`
	LockDuration  time.Duration `env:"LOCK_DURATION" envDefault:"30s"`
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	TaskTimeout   time.Duration `env:"TASK_TIMEOUT" envDefault:"10m"`
	Retention     time.Duration `env:"RETENTION" envDefault:"24h"`
	MaxDeliveries int           `env:"MAX_DELIVERIES" envDefault:"5"`
}

type Retry struct {
	InitialDelay time.Duration `env:"INITIAL_DELAY" envDefault:"60s"`
	Base         float64       `env:"BASE" envDefault:"2"`
	MaxDelay     time.Duration `env:"MAX_DELAY" envDefault:"1h"`
}

type RateLimit struct {
	// PerMinute is the publish budget of one account; 0 disables limiting.
	PerMinute int           `env:"PER_MINUTE" envDefault:"0"`
	DenyDelay time.Duration `env:"DENY_DELAY" envDefault:"5m"`
	// Redis shares the budget between worker processes.
	Redis bool `env:"REDIS" envDefault:"true"`
}

type Platforms struct {
	FacebookBaseURL  string        `env:"FACEBOOK_BASE_URL"`
	InstagramBaseURL string        `env:"INSTAGRAM_BASE_URL"`
	TiktokBaseURL    string        `env:"TIKTOK_BASE_URL"`
	YoutubeEndpoint  string        `env:"YOUTUBE_ENDPOINT"`
	MediaTempDir     string        `env:"MEDIA_TEMP_DIR"`
	NativeMinLead    time.Duration `env:"NATIVE_MIN_LEAD" envDefault:"15m"`
}

type Config struct {
	PostgresURI string `env:"POSTGRES_URI"`
	RedisURI    string `env:"REDIS_URI" envDefault:"redis://localhost:6379/0"`
	MongoURI    string `env:"MONGO_URI"`
	MongoDB     string `env:"MONGO_DATABASE" envDefault:"postflow"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":3000"`
	// SecretKey signs the bearer tokens of the ops API.
	SecretKey     string        `env:"SECRET_KEY"`
	EncryptionKey string        `env:"TOKEN_ENCRYPTION_KEY"`
	TokenSkew     time.Duration `env:"TOKEN_SKEW" envDefault:"1m"`

	ReconcileInterval       time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	CredentialCheckInterval time.Duration `env:"CREDENTIAL_CHECK_INTERVAL" envDefault:"10m"`

	Queue     Queue         `envPrefix:"QUEUE_"`
	Retry     Retry         `envPrefix:"RETRY_"`
	RateLimit RateLimit     `envPrefix:"RATE_LIMIT_"`
	Platforms Platforms     `envPrefix:"PLATFORM_"`
	R2        R2            `envPrefix:"R2_"`
	Logger    logger.Config `envPrefix:"LOG_"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Queue.Backend {
	case QueueBackendAsynq, QueueBackendMemory:
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue concurrency must be positive, got %d", c.Queue.Concurrency)
	}
	if c.EncryptionKey != "" && len(c.EncryptionKey) != 16 && len(c.EncryptionKey) != 24 && len(c.EncryptionKey) != 32 {
		return fmt.Errorf("token encryption key must be 16, 24 or 32 bytes, got %d", len(c.EncryptionKey))
	}
	return nil
}
