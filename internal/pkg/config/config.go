package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Valkey      ValkeyConfig      `mapstructure:"valkey"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Log         LogConfig         `mapstructure:"log"`
	Index       IndexConfig       `mapstructure:"index"`
	Cluster     ClusterConfig     `mapstructure:"cluster"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Snapshot    SnapshotConfig    `mapstructure:"snapshot"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	// Per-request deadline, in seconds, on /v1 endpoints.
	RequestTimeout int `mapstructure:"request_timeout"`
	// Requests per minute per client IP; zero disables the limiter.
	RateLimit int `mapstructure:"rate_limit"`
	// Inbound WebSocket messages per second per map session.
	WSMessageRate float64 `mapstructure:"ws_message_rate"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
	// Durable consumer name. Every instance keeps a full in-memory catalog,
	// so each needs its own; empty derives one from the hostname.
	Durable string `mapstructure:"durable"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// IndexConfig sizes the spatial index grid.
type IndexConfig struct {
	CellSizeDeg float64 `mapstructure:"cell_size_deg"`
}

// ClusterConfig controls clustering granularity.
type ClusterConfig struct {
	PixelRadius float64 `mapstructure:"pixel_radius"`
	TileSize    int     `mapstructure:"tile_size"`
}

type CoordinatorConfig struct {
	DebounceMS       int `mapstructure:"debounce_ms"`
	ComputeTimeoutMS int `mapstructure:"compute_timeout_ms"`
}

func (c CoordinatorConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

func (c CoordinatorConfig) ComputeTimeout() time.Duration {
	return time.Duration(c.ComputeTimeoutMS) * time.Millisecond
}

// SnapshotConfig points at the compressed store snapshot used for fast
// restarts. An empty path disables snapshots.
type SnapshotConfig struct {
	Path string `mapstructure:"path"`
}

// IngestConfig drives the feed ingestor. A zero poll interval runs once.
type IngestConfig struct {
	PollInterval int `mapstructure:"poll_interval"` // seconds
	Concurrency  int `mapstructure:"concurrency"`
}

func (c IngestConfig) Interval() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.request_timeout", 15)
	v.SetDefault("server.rate_limit", 600)
	v.SetDefault("server.ws_message_rate", 20)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "etxea")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "etxea")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.durable", "")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("index.cell_size_deg", 0.05)
	v.SetDefault("cluster.pixel_radius", 60)
	v.SetDefault("cluster.tile_size", 256)
	v.SetDefault("coordinator.debounce_ms", 50)
	v.SetDefault("coordinator.compute_timeout_ms", 2000)
	v.SetDefault("snapshot.path", "")
	v.SetDefault("ingest.poll_interval", 0)
	v.SetDefault("ingest.concurrency", 4)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: ETXEA_DATABASE_HOST → database.host
	v.SetEnvPrefix("ETXEA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, "server.request_timeout must be positive")
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server.rate_limit must not be negative")
	}
	if c.Server.WSMessageRate <= 0 {
		errs = append(errs, "server.ws_message_rate must be positive")
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log.format must be json or text, got %q", c.Log.Format))
	}
	if c.Index.CellSizeDeg <= 0 || c.Index.CellSizeDeg > 10 {
		errs = append(errs, fmt.Sprintf("index.cell_size_deg must be in (0, 10], got %g", c.Index.CellSizeDeg))
	}
	if c.Cluster.PixelRadius <= 0 {
		errs = append(errs, "cluster.pixel_radius must be positive")
	}
	if c.Cluster.TileSize <= 0 {
		errs = append(errs, "cluster.tile_size must be positive")
	}
	if c.Coordinator.DebounceMS < 0 {
		errs = append(errs, "coordinator.debounce_ms must not be negative")
	}
	if c.Coordinator.ComputeTimeoutMS < 0 {
		errs = append(errs, "coordinator.compute_timeout_ms must not be negative")
	}
	if c.Ingest.PollInterval < 0 {
		errs = append(errs, "ingest.poll_interval must not be negative")
	}
	if c.Ingest.Concurrency <= 0 {
		errs = append(errs, "ingest.concurrency must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
