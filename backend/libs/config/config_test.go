package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleConfig struct {
	HTTP struct {
		Port string `yaml:"port" env:"SAMPLE_HTTP_PORT"`
	} `yaml:"http"`
	Retry struct {
		Attempts int           `yaml:"attempts"`
		Backoff  time.Duration `yaml:"backoff"`
	} `yaml:"retry"`
	Brokers []string `yaml:"brokers" env:"SAMPLE_BROKERS"`
	Enabled bool     `yaml:"enabled" env:"SAMPLE_ENABLED"`
	Ignored string   `env:"-"`
}

type validatedConfig struct {
	Name string `env:"VALIDATED_NAME"`
}

func (c *validatedConfig) Validate() error {
	if c.Name == "" {
		return errors.New("name required")
	}
	return nil
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "http:\n  port: \"9000\"\nretry:\n  attempts: 3\n  backoff: 250ms\nbrokers: [\"a:9092\"]\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SAMPLE_HTTP_PORT", "9100")
	t.Setenv("RETRY_BACKOFF", "2s")
	t.Setenv("SAMPLE_BROKERS", "b:9092, c:9092")
	t.Setenv("SAMPLE_ENABLED", "true")
	t.Setenv("IGNORED", "nope")

	var cfg sampleConfig
	if err := LoadConfigFile(path, &cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != "9100" {
		t.Fatalf("expected env to override port, got %q", cfg.HTTP.Port)
	}
	if cfg.Retry.Attempts != 3 {
		t.Fatalf("expected attempts from file, got %d", cfg.Retry.Attempts)
	}
	if cfg.Retry.Backoff != 2*time.Second {
		t.Fatalf("expected backoff 2s, got %s", cfg.Retry.Backoff)
	}
	if len(cfg.Brokers) != 2 || cfg.Brokers[0] != "b:9092" || cfg.Brokers[1] != "c:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Brokers)
	}
	if !cfg.Enabled {
		t.Fatalf("expected enabled")
	}
	if cfg.Ignored != "" {
		t.Fatalf("expected ignored field untouched, got %q", cfg.Ignored)
	}
}

func TestLoadConfigRejectsNonPointer(t *testing.T) {
	if err := LoadConfigFile("", sampleConfig{}); err == nil {
		t.Fatalf("expected error for non-pointer target")
	}
	if err := LoadConfigFile("", nil); err == nil {
		t.Fatalf("expected error for nil target")
	}
}

func TestLoadConfigRunsValidator(t *testing.T) {
	var cfg validatedConfig
	if err := LoadConfigFile("", &cfg); err == nil {
		t.Fatalf("expected validation error")
	}
	t.Setenv("VALIDATED_NAME", "engine")
	if err := LoadConfigFile("", &cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadConfigBadValue(t *testing.T) {
	t.Setenv("RETRY_ATTEMPTS", "many")
	var cfg sampleConfig
	if err := LoadConfigFile("", &cfg); err == nil {
		t.Fatalf("expected parse error")
	}
}
