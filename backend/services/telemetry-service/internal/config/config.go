package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "voltlink/backend/libs/config"
)

// Storage backends.
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Port string `yaml:"port" env:"TELEMETRY_HTTP_PORT"`
}

// DatabaseConfig configures Postgres.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"TELEMETRY_POSTGRES_DSN"`
}

// StorageConfig selects the store implementations.
type StorageConfig struct {
	// Driver backs history and the correlation registry.
	Driver string `yaml:"driver" env:"TELEMETRY_STORAGE_DRIVER"`
	// CurrentState backs the latest-state store; empty follows Driver.
	CurrentState string `yaml:"current_state" env:"TELEMETRY_CURRENT_STATE_DRIVER"`
}

// RedisConfig configures the redis current-state store.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"TELEMETRY_REDIS_ADDR"`
	Password  string `yaml:"password" env:"TELEMETRY_REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"TELEMETRY_REDIS_DB"`
	KeyPrefix string `yaml:"key_prefix" env:"TELEMETRY_REDIS_KEY_PREFIX"`
}

// IngestConfig bounds ingestion retries.
type IngestConfig struct {
	HistoryAttempts       int           `yaml:"history_attempts" env:"TELEMETRY_HISTORY_ATTEMPTS"`
	HistoryBackoffInitial time.Duration `yaml:"history_backoff_initial" env:"TELEMETRY_HISTORY_BACKOFF_INITIAL"`
	HistoryBackoffMax     time.Duration `yaml:"history_backoff_max" env:"TELEMETRY_HISTORY_BACKOFF_MAX"`
	CurrentStateAttempts  int           `yaml:"current_state_attempts" env:"TELEMETRY_CURRENT_STATE_ATTEMPTS"`
	BatchWorkers          int           `yaml:"batch_workers" env:"TELEMETRY_BATCH_WORKERS"`
	MaxBatchSize          int           `yaml:"max_batch_size" env:"TELEMETRY_MAX_BATCH_SIZE"`
}

// MQTTConfig configures the device ingestion subscriber.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled" env:"TELEMETRY_MQTT_ENABLED"`
	Broker   string `yaml:"broker" env:"TELEMETRY_MQTT_BROKER"`
	Topic    string `yaml:"topic" env:"TELEMETRY_MQTT_TOPIC"`
	ClientID string `yaml:"client_id" env:"TELEMETRY_MQTT_CLIENT_ID"`
	Username string `yaml:"username" env:"TELEMETRY_MQTT_USERNAME"`
	Password string `yaml:"password" env:"TELEMETRY_MQTT_PASSWORD"`
	QoS      byte   `yaml:"qos" env:"TELEMETRY_MQTT_QOS"`
}

// KafkaConfig configures the outbound ingest event stream.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" env:"TELEMETRY_KAFKA_ENABLED"`
	Brokers []string `yaml:"brokers" env:"TELEMETRY_KAFKA_BROKERS"`
	Topic   string   `yaml:"topic" env:"TELEMETRY_KAFKA_TOPIC"`
}

// AdminConfig configures the correlation admin surface.
type AdminConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"TELEMETRY_ADMIN_JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TELEMETRY_ADMIN_TOKEN_TTL"`
}

// WebSocketConfig configures the live current-state feed.
type WebSocketConfig struct {
	WriteTimeout time.Duration `yaml:"write_timeout" env:"TELEMETRY_WS_WRITE_TIMEOUT"`
	SendBuffer   int           `yaml:"send_buffer" env:"TELEMETRY_WS_SEND_BUFFER"`
}

// Config defines telemetry service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Ingest    IngestConfig    `yaml:"ingest"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Admin     AdminConfig     `yaml:"admin"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		HTTP:    HTTPConfig{Port: "8084"},
		Storage: StorageConfig{Driver: DriverPostgres},
		Redis:   RedisConfig{Addr: "localhost:6379", KeyPrefix: "telemetry"},
		Ingest: IngestConfig{
			HistoryAttempts:       4,
			HistoryBackoffInitial: 50 * time.Millisecond,
			HistoryBackoffMax:     time.Second,
			CurrentStateAttempts:  3,
			BatchWorkers:          8,
			MaxBatchSize:          1000,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			Topic:    "telemetry/+/+",
			ClientID: "telemetry-service",
			QoS:      1,
		},
		Kafka:     KafkaConfig{Topic: "telemetry.ingest"},
		Admin:     AdminConfig{TokenTTL: 12 * time.Hour},
		WebSocket: WebSocketConfig{WriteTimeout: 10 * time.Second, SendBuffer: 64},
	}
}

// Load configuration using shared helper.
func Load() (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile is Load with an explicit YAML path; an empty path falls back to CONFIG_FILE.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Load()
	}
	cfg := Default()
	if err := libconfig.LoadConfigFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// adminOnly reads just the admin section; it carries no Validate so storage
// settings are never checked.
type adminOnly struct {
	Admin AdminConfig `yaml:"admin"`
}

// LoadAdmin reads only the admin section from path (or CONFIG_FILE) and the environment.
// Commands that mint tokens use it without a configured database.
func LoadAdmin(path string) (AdminConfig, error) {
	cfg := adminOnly{Admin: Default().Admin}
	var err error
	if path == "" {
		err = libconfig.LoadConfig(&cfg)
	} else {
		err = libconfig.LoadConfigFile(path, &cfg)
	}
	if err != nil {
		return AdminConfig{}, err
	}
	return cfg.Admin, nil
}

// Validate checks cross-field constraints after loading.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	switch c.CurrentStateDriver() {
	case DriverPostgres, DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("config: unknown current state driver %q", c.Storage.CurrentState)
	}
	if c.NeedsPostgres() && strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database dsn required")
	}
	if c.CurrentStateDriver() == DriverRedis && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("config: redis addr required")
	}
	if c.MQTT.Enabled && strings.TrimSpace(c.MQTT.Broker) == "" {
		return errors.New("config: mqtt broker required")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("config: mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("config: kafka brokers and topic required")
	}
	return nil
}

// CurrentStateDriver resolves the current-state backend.
func (c *Config) CurrentStateDriver() string {
	if c.Storage.CurrentState == "" {
		return c.Storage.Driver
	}
	return c.Storage.CurrentState
}

// NeedsPostgres reports whether any store is backed by Postgres.
func (c *Config) NeedsPostgres() bool {
	return c.Storage.Driver == DriverPostgres || c.CurrentStateDriver() == DriverPostgres
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8084"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
