// Package config loads syncgate settings from an optional YAML file, a .env file and
// SYNCGATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"syncgate/internal/auth"
	"syncgate/internal/export"
	"syncgate/internal/logger"
	"syncgate/internal/queue"
)

type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Mongo     MongoConfig
	Log       logger.Config
	Auth      auth.Config
	Secrets   SecretsConfig
	Queues    []queue.QueueConfig
	Worker    WorkerConfig
	Scheduler SchedulerConfig
	Export    ExportConfig
	Notifier  NotifierConfig
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// MaxWebhookBody caps inbound webhook request bodies.
	MaxWebhookBody int64
	// WebhookMaxAge is the freshness window for inbound webhook timestamps.
	WebhookMaxAge time.Duration
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	URL string
}

type MongoConfig struct {
	URI      string
	Database string
}

type SecretsConfig struct {
	// Key encrypts stored credentials; empty leaves them in plaintext.
	Key string
}

type WorkerConfig struct {
	Enabled        bool
	PollInterval   time.Duration
	StalledEvery   time.Duration
	ResultCacheTTL time.Duration
}

type SchedulerConfig struct {
	Enabled bool
	Every   time.Duration
}

type ExportConfig struct {
	Dir string
	S3  export.S3Config
}

type NotifierConfig struct {
	URL         string
	Secret      string
	MaxAttempts int
}

// Load reads configuration. path may name a YAML file; when empty, syncgate.yaml is looked
// up in the working directory and /etc/syncgate and is optional.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("syncgate")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/syncgate")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	v.SetEnvPrefix("SYNCGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		HTTP: HTTPConfig{
			Addr:            v.GetString("http.addr"),
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			MaxWebhookBody:  v.GetInt64("http.max_webhook_body"),
			WebhookMaxAge:   v.GetDuration("http.webhook_max_age"),
		},
		Database: DatabaseConfig{URL: v.GetString("database.url")},
		Redis:    RedisConfig{URL: v.GetString("redis.url")},
		Mongo:    MongoConfig{URI: v.GetString("mongo.uri"), Database: v.GetString("mongo.database")},
		Log: logger.Config{
			Level:       v.GetString("log.level"),
			Encoding:    v.GetString("log.encoding"),
			Development: v.GetBool("log.development"),
		},
		Auth: auth.Config{
			Mode:       v.GetString("auth.mode"),
			HMACSecret: v.GetString("auth.hmac_secret"),
			JWKSURL:    v.GetString("auth.jwks_url"),
			Issuer:     v.GetString("auth.issuer"),
			RoleClaim:  v.GetString("auth.role_claim"),
			CacheTTL:   v.GetDuration("auth.jwks_cache_ttl"),
		},
		Secrets: SecretsConfig{Key: v.GetString("secrets.key")},
		Queues:  queues(v),
		Worker: WorkerConfig{
			Enabled:        v.GetBool("worker.enabled"),
			PollInterval:   v.GetDuration("worker.poll_interval"),
			StalledEvery:   v.GetDuration("worker.stalled_every"),
			ResultCacheTTL: v.GetDuration("worker.result_cache_ttl"),
		},
		Scheduler: SchedulerConfig{
			Enabled: v.GetBool("scheduler.enabled"),
			Every:   v.GetDuration("scheduler.every"),
		},
		Export: ExportConfig{
			Dir: v.GetString("export.dir"),
			S3: export.S3Config{
				Bucket:       v.GetString("export.s3.bucket"),
				Prefix:       v.GetString("export.s3.prefix"),
				Region:       v.GetString("export.s3.region"),
				Endpoint:     v.GetString("export.s3.endpoint"),
				AccessKey:    v.GetString("export.s3.access_key"),
				SecretKey:    v.GetString("export.s3.secret_key"),
				UsePathStyle: v.GetBool("export.s3.use_path_style"),
			},
		},
		Notifier: NotifierConfig{
			URL:         v.GetString("notifier.url"),
			Secret:      v.GetString("notifier.secret"),
			MaxAttempts: v.GetInt("notifier.max_attempts"),
		},
	}
	applyFallbacks(cfg)
	return cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.max_webhook_body", 1<<20)
	v.SetDefault("http.webhook_max_age", 5*time.Minute)
	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "syncgate")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.development", false)
	v.SetDefault("auth.mode", auth.ModeDev)
	v.SetDefault("auth.role_claim", "role")
	v.SetDefault("auth.jwks_cache_ttl", 10*time.Minute)
	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.stalled_every", 30*time.Second)
	v.SetDefault("worker.result_cache_ttl", 24*time.Hour)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.every", time.Minute)
	v.SetDefault("export.dir", "exports")
	v.SetDefault("export.s3.region", "us-east-1")
	v.SetDefault("notifier.max_attempts", 10)
}

// queues starts from the built-in queues and applies queues.<name>.* overrides.
func queues(v *viper.Viper) []queue.QueueConfig {
	qs := queue.DefaultQueues()
	for i := range qs {
		p := "queues." + qs[i].Name + "."
		if v.IsSet(p + "concurrency") {
			qs[i].Concurrency = v.GetInt(p + "concurrency")
		}
		if v.IsSet(p + "attempts") {
			qs[i].Retry.Attempts = v.GetInt(p + "attempts")
		}
		if v.IsSet(p + "backoff") {
			qs[i].Retry.Backoff = queue.Backoff(v.GetString(p + "backoff"))
		}
		if v.IsSet(p + "delay") {
			qs[i].Retry.Delay = v.GetDuration(p + "delay")
		}
		if v.IsSet(p + "max_delay") {
			qs[i].Retry.MaxDelay = v.GetDuration(p + "max_delay")
		}
		if v.IsSet(p + "lease") {
			qs[i].Lease = v.GetDuration(p + "lease")
		}
	}
	return qs
}

// applyFallbacks honours the unprefixed variables common in container platforms.
func applyFallbacks(cfg *Config) {
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = os.Getenv("REDIS_URL")
	}
	if os.Getenv("SYNCGATE_HTTP_ADDR") == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTP.Addr = ":" + port
		}
	}
}

func (c *Config) Validate() error {
	for _, q := range c.Queues {
		if q.Concurrency < 1 {
			return fmt.Errorf("queue %s: concurrency must be at least 1", q.Name)
		}
		if q.Retry.Attempts < 1 {
			return fmt.Errorf("queue %s: attempts must be at least 1", q.Name)
		}
		if q.Retry.Backoff != queue.BackoffExponential && q.Retry.Backoff != queue.BackoffFixed {
			return fmt.Errorf("queue %s: unknown backoff %q", q.Name, q.Retry.Backoff)
		}
	}
	if c.HTTP.MaxWebhookBody <= 0 {
		return errors.New("http.max_webhook_body must be positive")
	}
	return nil
}
