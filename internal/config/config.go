package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the match server configuration.
type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/matches.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	// RedisURL selects the Redis broadcast channel. Empty keeps broadcasts
	// in process.
	RedisURL  string `env:"REDIS_URL"`
	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`

	PresenceTimeout       time.Duration `env:"PRESENCE_TIMEOUT" envDefault:"45s"`
	PresenceSweepInterval time.Duration `env:"PRESENCE_SWEEP_INTERVAL" envDefault:"5s"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
	SeedDemo    bool     `env:"SEED_DEMO" envDefault:"false"`
}

// WatchConfig configures the watch command.
type WatchConfig struct {
	ServerURL string     `env:"WATCH_SERVER_URL" envDefault:"http://localhost:8080"`
	MatchID   string     `env:"WATCH_MATCH_ID,required,notEmpty"`
	Token     string     `env:"WATCH_TOKEN"`
	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	// Without a token, one is issued for UserID from JWT_SECRET.
	UserID    string `env:"WATCH_USER_ID" envDefault:"watcher"`
	JWTSecret string `env:"JWT_SECRET"`

	Heartbeat  time.Duration `env:"WATCH_HEARTBEAT" envDefault:"15s"`
	BackoffMin time.Duration `env:"WATCH_BACKOFF_MIN" envDefault:"500ms"`
	BackoffMax time.Duration `env:"WATCH_BACKOFF_MAX" envDefault:"30s"`
}

func Load() (*Config, error) {
	cfg, err := parse[Config]()
	if err != nil {
		return nil, err
	}
	if cfg.PresenceSweepInterval > cfg.PresenceTimeout {
		return nil, fmt.Errorf("PRESENCE_SWEEP_INTERVAL (%s) exceeds PRESENCE_TIMEOUT (%s)",
			cfg.PresenceSweepInterval, cfg.PresenceTimeout)
	}
	return &cfg, nil
}

func LoadWatch() (*WatchConfig, error) {
	cfg, err := parse[WatchConfig]()
	if err != nil {
		return nil, err
	}
	if cfg.Token == "" && cfg.JWTSecret == "" {
		return nil, errors.New("either WATCH_TOKEN or JWT_SECRET must be set")
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		return nil, fmt.Errorf("WATCH_BACKOFF_MAX (%s) is below WATCH_BACKOFF_MIN (%s)", cfg.BackoffMax, cfg.BackoffMin)
	}
	return &cfg, nil
}

// parse reads an optional .env file, then the environment. Variables
// already set win over the file.
func parse[T any]() (T, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		var zero T
		return zero, fmt.Errorf("loading .env: %w", err)
	}
	cfg, err := env.ParseAs[T]()
	if err != nil {
		return cfg, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}
