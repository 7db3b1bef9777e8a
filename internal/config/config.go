package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" json:"log_level"`
	HTTP     HTTP   `envPrefix:"HTTP_" json:"http"`
	Queue    Queue  `envPrefix:"QUEUE_" json:"queue"`
	Store    Store  `envPrefix:"STORE_" json:"store"`
	Redis    Redis  `envPrefix:"REDIS_" json:"redis"`
}

type HTTP struct {
	Port       int           `env:"PORT" envDefault:"8080" json:"port"`
	Heartbeat  time.Duration `env:"HEARTBEAT" envDefault:"15s" json:"heartbeat"`
	CORSOrigin string        `env:"CORS_ORIGIN" envDefault:"*" json:"cors_origin"`
}

type Queue struct {
	MaxAttempts      int           `env:"MAX_ATTEMPTS" envDefault:"5" json:"max_attempts"`
	BaseDelay        time.Duration `env:"BASE_DELAY" envDefault:"500ms" json:"base_delay"`
	MaxDelay         time.Duration `env:"MAX_DELAY" envDefault:"30s" json:"max_delay"`
	MaxJitter        time.Duration `env:"MAX_JITTER" envDefault:"250ms" json:"max_jitter"`
	AttemptTimeout   time.Duration `env:"ATTEMPT_TIMEOUT" envDefault:"10s" json:"attempt_timeout"`
	SubscriberBuffer int           `env:"SUBSCRIBER_BUFFER" envDefault:"64" json:"subscriber_buffer"`
	// Zero keeps terminal jobs for the life of the process.
	Retention     time.Duration `env:"RETENTION" envDefault:"0s" json:"retention"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m" json:"sweep_interval"`
}

type Store struct {
	Driver string `env:"DRIVER" envDefault:"sqlite" json:"driver"`
	DSN    string `env:"DSN" envDefault:"reviews.db" json:"-"`
}

type Redis struct {
	Addr         string `env:"ADDRESS" envDefault:"localhost:6379" json:"address"`
	Password     string `env:"PASSWORD" json:"-"`
	DB           int    `env:"DB" json:"db"`
	ReviewPrefix string `env:"REVIEW_PREFIX" envDefault:"review:" json:"review_prefix"`
	DLQStreamKey string `env:"DLQ_STREAM" json:"dlq_stream"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres, DriverRedis:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue max attempts must be at least 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.BaseDelay <= 0 || c.Queue.MaxDelay < c.Queue.BaseDelay {
		return fmt.Errorf("invalid queue delays: base=%s max=%s", c.Queue.BaseDelay, c.Queue.MaxDelay)
	}
	if c.Queue.Retention > 0 && c.Queue.SweepInterval <= 0 {
		return errors.New("queue sweep interval must be positive when retention is set")
	}
	return nil
}
