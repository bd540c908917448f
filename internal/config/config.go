package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds gRPC server configuration
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MaxConnections  int           `yaml:"max_connections"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Config represents the complete configuration for a groove node
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Storage  StorageConfig `yaml:"storage"`
	Disk     DiskConfig    `yaml:"disk"`
	Column   ColumnConfig  `yaml:"column"`
	Cache    CacheConfig   `yaml:"cache"`
	Datasets []MountConfig `yaml:"datasets"`
	Ship     ShipConfig    `yaml:"ship"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Logging  LoggingConfig `yaml:"logging"`
}

// StorageConfig holds the live database configuration
type StorageConfig struct {
	DataDir      string        `yaml:"data_dir"`
	DatabaseFile string        `yaml:"database_file"`
	OpenTimeout  time.Duration `yaml:"open_timeout"`
	NoSync       bool          `yaml:"no_sync"`
	// WriteWorkers bounds the column merges one PutData runs at once
	WriteWorkers int `yaml:"write_workers"`
}

// DatabasePath is the bolt file location
func (s StorageConfig) DatabasePath() string {
	if filepath.IsAbs(s.DatabaseFile) {
		return s.DatabaseFile
	}
	return filepath.Join(s.DataDir, s.DatabaseFile)
}

// DiskConfig holds the free space thresholds guarding writes, in percent
// of the data directory's filesystem
type DiskConfig struct {
	CheckInterval   time.Duration `yaml:"check_interval"`
	WarningPercent  float64       `yaml:"warning_percent"`
	ThrottlePercent float64       `yaml:"throttle_percent"`
	CircuitPercent  float64       `yaml:"circuit_percent"`
}

// ColumnConfig holds column engine configuration
type ColumnConfig struct {
	// MaxPageRows splits merged pages larger than this; 0 keeps one page
	MaxPageRows int `yaml:"max_page_rows"`
}

// CacheConfig holds page cache configuration
type CacheConfig struct {
	MaxBytes        int64         `yaml:"max_bytes"`
	FrequencyWeight float64       `yaml:"frequency_weight"`
	RecencyWeight   float64       `yaml:"recency_weight"`
	AdaptiveWindow  time.Duration `yaml:"adaptive_window"`
}

// MountConfig names a static dataset file served by the node
type MountConfig struct {
	Path string `yaml:"path"`
	// URL overrides the dataset url recorded in the file
	URL string `yaml:"url"`
}

// ShipConfig holds blob shipping configuration
type ShipConfig struct {
	Backend   string `yaml:"backend"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	LocalDir  string `yaml:"local_dir"`
	Codec     string `yaml:"codec"`
	Workers   int    `yaml:"workers"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	SetDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{Server: ServerConfig{NodeID: "groove-local"}}
	SetDefaults(cfg)
	return cfg
}

// SetDefaults sets default values for unspecified configuration
func SetDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 50061
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = 1000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/var/lib/groove"
	}
	if cfg.Storage.DatabaseFile == "" {
		cfg.Storage.DatabaseFile = "groove.db"
	}
	if cfg.Storage.OpenTimeout == 0 {
		cfg.Storage.OpenTimeout = time.Second
	}
	if cfg.Storage.WriteWorkers == 0 {
		cfg.Storage.WriteWorkers = 4
	}

	if cfg.Disk.CheckInterval == 0 {
		cfg.Disk.CheckInterval = 10 * time.Second
	}
	if cfg.Disk.WarningPercent == 0 {
		cfg.Disk.WarningPercent = 80
	}
	if cfg.Disk.ThrottlePercent == 0 {
		cfg.Disk.ThrottlePercent = 90
	}
	if cfg.Disk.CircuitPercent == 0 {
		cfg.Disk.CircuitPercent = 95
	}

	if cfg.Cache.FrequencyWeight == 0 {
		cfg.Cache.FrequencyWeight = 0.5
	}
	if cfg.Cache.RecencyWeight == 0 {
		cfg.Cache.RecencyWeight = 0.5
	}
	if cfg.Cache.AdaptiveWindow == 0 {
		cfg.Cache.AdaptiveWindow = time.Minute
	}

	if cfg.Ship.Backend == "" {
		cfg.Ship.Backend = "local"
	}
	if cfg.Ship.Codec == "" {
		cfg.Ship.Codec = "zstd"
	}
	if cfg.Ship.Workers == 0 {
		cfg.Ship.Workers = 4
	}
	if cfg.Ship.LocalDir == "" {
		cfg.Ship.LocalDir = filepath.Join(cfg.Storage.DataDir, "ship")
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9100
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Storage.WriteWorkers < 1 {
		return fmt.Errorf("storage.write_workers must be positive")
	}
	if !(c.Disk.WarningPercent <= c.Disk.ThrottlePercent && c.Disk.ThrottlePercent <= c.Disk.CircuitPercent && c.Disk.CircuitPercent <= 100) {
		return fmt.Errorf("disk thresholds must satisfy warning <= throttle <= circuit <= 100")
	}
	if c.Column.MaxPageRows < 0 {
		return fmt.Errorf("column.max_page_rows cannot be negative")
	}
	if c.Cache.MaxBytes < 0 {
		return fmt.Errorf("cache.max_bytes cannot be negative")
	}
	for i, m := range c.Datasets {
		if m.Path == "" {
			return fmt.Errorf("datasets[%d].path is required", i)
		}
	}
	switch c.Ship.Backend {
	case "local":
	case "minio", "s3":
		if c.Ship.Bucket == "" {
			return fmt.Errorf("ship.bucket is required for backend %s", c.Ship.Backend)
		}
	default:
		return fmt.Errorf("ship.backend must be one of local, minio, s3")
	}
	if c.Ship.Backend == "minio" && c.Ship.Endpoint == "" {
		return fmt.Errorf("ship.endpoint is required for backend minio")
	}
	switch c.Ship.Codec {
	case "none", "zstd", "lz4":
	default:
		return fmt.Errorf("ship.codec must be one of none, zstd, lz4")
	}
	if c.Ship.Workers < 1 {
		return fmt.Errorf("ship.workers must be positive")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}
	return nil
}
