package config

import (
	"log/slog"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.LogLevel != slog.LevelInfo || cfg.RedisURL != "" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.PresenceTimeout != 45*time.Second || cfg.PresenceSweepInterval != 5*time.Second {
		t.Errorf("presence = %s / %s", cfg.PresenceTimeout, cfg.PresenceSweepInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("PRESENCE_TIMEOUT", "1m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("log level = %v", cfg.LogLevel)
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.CORSOrigins, want) {
		t.Errorf("cors = %v, want %v", cfg.CORSOrigins, want)
	}
	if cfg.PresenceTimeout != time.Minute {
		t.Errorf("timeout = %s", cfg.PresenceTimeout)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{}},
		{"sweep slower than timeout", map[string]string{
			"JWT_SECRET":              "s3cret",
			"PRESENCE_TIMEOUT":        "5s",
			"PRESENCE_SWEEP_INTERVAL": "10s",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("JWT_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("load succeeded")
			}
		})
	}
}

func TestLoadWatch(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WATCH_MATCH_ID", "m1")
	t.Setenv("WATCH_TOKEN", "tok")
	t.Setenv("WATCH_BACKOFF_MIN", "1s")

	cfg, err := LoadWatch()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MatchID != "m1" || cfg.BackoffMin != time.Second || cfg.BackoffMax != 30*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}

	t.Setenv("WATCH_TOKEN", "")
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadWatch(); err == nil {
		t.Fatalf("load without any credentials succeeded")
	}
}
