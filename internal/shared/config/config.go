package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Event log backends.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds every coordinator setting. Precedence, lowest first:
// defaults, optional YAML file, environment (including a local .env).
type Config struct {
	NodeID   string   `yaml:"node_id" env:"NODE_ID"`
	HTTPAddr string   `yaml:"http_addr" env:"HTTP_ADDR"`
	RPCAddr  string   `yaml:"rpc_addr" env:"RPC_ADDR"`
	Peers    []string `yaml:"peers" env:"PEERS" envSeparator:","`

	EventLog    EventLogConfig    `yaml:"event_log"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	RPC         RPCConfig         `yaml:"rpc"`
	Replication ReplicationConfig `yaml:"replication"`
}

type EventLogConfig struct {
	Driver string `yaml:"driver" env:"EVENT_LOG_DRIVER"`
	Path   string `yaml:"path" env:"EVENT_LOG_PATH"`
}

// PostgresConfig mirrors the DB_* variables the engine has always used.
type PostgresConfig struct {
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     string `yaml:"port" env:"DB_PORT"`
	User     string `yaml:"user" env:"DB_USER"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	Database string `yaml:"database" env:"DB_NAME"`
	SSLMode  string `yaml:"sslmode" env:"DB_SSLMODE"`
}

type RPCConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout" env:"RPC_REQUEST_TIMEOUT"`
	MaxFrameBytes  int           `yaml:"max_frame_bytes" env:"RPC_MAX_FRAME_BYTES"`
	QueueSize      int           `yaml:"queue_size" env:"RPC_QUEUE_SIZE"`
}

type ReplicationConfig struct {
	MaxPending     int           `yaml:"max_pending" env:"REPLICATION_MAX_PENDING"`
	PeerSendBuffer int           `yaml:"peer_send_buffer" env:"PEER_SEND_BUFFER"`
	MaxRedialWait  time.Duration `yaml:"max_redial_wait" env:"PEER_MAX_REDIAL_WAIT"`
}

// DSN builds the postgres connection URL.
func (p PostgresConfig) DSN() string {
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, sslmode,
	)
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		NodeID:   uuid.NewString(),
		HTTPAddr: ":9000",
		RPCAddr:  ":9100",
		EventLog: EventLogConfig{
			Driver: DriverSQLite,
			Path:   "./data/events.db",
		},
		Postgres: PostgresConfig{Host: "localhost", Port: "5432", SSLMode: "disable"},
		RPC: RPCConfig{
			RequestTimeout: 5 * time.Second,
			MaxFrameBytes:  1 << 20,
			QueueSize:      64,
		},
		Replication: ReplicationConfig{
			MaxPending:     1024,
			PeerSendBuffer: 256,
			MaxRedialWait:  30 * time.Second,
		},
	}
}

// Load reads .env (if present), then the YAML file at path (if non-empty), then
// the process environment, and validates the result.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv("COORDINATOR_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.NodeID) == "" {
		errs = append(errs, errors.New("node id is required"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	if c.RPCAddr == "" {
		errs = append(errs, errors.New("rpc addr is required"))
	}
	switch c.EventLog.Driver {
	case DriverSQLite:
		if c.EventLog.Path == "" {
			errs = append(errs, errors.New("event log path is required for sqlite"))
		}
	case DriverPostgres, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown event log driver %q", c.EventLog.Driver))
	}
	if c.RPC.RequestTimeout <= 0 {
		errs = append(errs, errors.New("rpc request timeout must be positive"))
	}
	if c.RPC.MaxFrameBytes <= 0 || c.RPC.QueueSize <= 0 {
		errs = append(errs, errors.New("rpc frame size and queue size must be positive"))
	}
	if c.Replication.MaxPending <= 0 || c.Replication.PeerSendBuffer <= 0 {
		errs = append(errs, errors.New("replication buffers must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
