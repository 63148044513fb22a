// Package config loads and validates the Writer's configuration: write-time
// semantics (dedup, OOB checking, offsets format), the bounded worker pool,
// the storage backend, the filter chain, and the ops server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devrev/arraydb/writer-node/internal/model"
)

// WriteConfig controls the semantics of a single write, mirroring the
// original writer's get_check_coord_dups/get_check_coord_oob/
// get_dedup_coords/get_offsets_mode/get_offsets_extra_element/
// get_offsets_bitsize accessors. The offsets fields are parsed and
// validated, but the Writer does not apply them to bound buffers: each
// model.QueryBuffer carries its own offsets format, bitsize and
// extra-element setting.
type WriteConfig struct {
	CheckCoordDups      bool                 `yaml:"check_coord_dups"`
	DedupCoords         bool                 `yaml:"dedup_coords"`
	CheckCoordOOB       bool                 `yaml:"check_coord_oob"`
	DisableGlobalOrderCheck bool             `yaml:"disable_check_global_order"`
	OffsetsFormat       model.OffsetsFormat  `yaml:"-"`
	OffsetsFormatName   string               `yaml:"offsets_format"` // "bytes" or "elements"
	OffsetsBitsize      model.OffsetsBitsize `yaml:"offsets_bitsize"`
	OffsetsExtraElement bool                 `yaml:"offsets_extra_element"`
}

// WorkerConfig sizes the bounded pool used to fan tile preparation and
// filtering out across attributes and dimensions within one write() call.
type WorkerConfig struct {
	ThreadNum  int           `yaml:"thread_num"`
	QueueSize  int           `yaml:"queue_size"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

// StorageBackendConfig selects and configures where fragments land.
type StorageBackendConfig struct {
	Kind   string `yaml:"kind"` // "local" or "s3"
	Local  LocalBackendConfig `yaml:"local"`
	S3     S3BackendConfig    `yaml:"s3"`
}

// LocalBackendConfig holds local-filesystem backend configuration.
type LocalBackendConfig struct {
	RootDir         string  `yaml:"root_dir"`
	MaxDiskUsage    float64 `yaml:"max_disk_usage"`
	WarnDiskUsage   float64 `yaml:"warn_disk_usage"`
}

// S3BackendConfig holds S3 backend configuration.
type S3BackendConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// FilterConfig names one stage of a per-attribute filter pipeline, e.g.
// {Name: "zstd", Level: 3} or {Name: "checksum-crc32"}.
type FilterConfig struct {
	Name  string `yaml:"name"`
	Level int    `yaml:"level,omitempty"`
}

// MetricsConfig configures the Prometheus registry exposed by the ops
// server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ServerConfig configures the ops HTTP server (/metrics, /health, /ready).
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete configuration for a Writer process.
type Config struct {
	NodeID  string               `yaml:"node_id"`
	Write   WriteConfig          `yaml:"write"`
	Worker  WorkerConfig         `yaml:"worker"`
	Storage StorageBackendConfig `yaml:"storage"`
	Filters []FilterConfig       `yaml:"filters"`
	Metrics MetricsConfig        `yaml:"metrics"`
	Server  ServerConfig         `yaml:"server"`
	Logging LoggingConfig        `yaml:"logging"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a Config with every default applied and no file read,
// used by tests and the demo command.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	if cfg.NodeID == "" {
		cfg.NodeID = "writer-0"
	}

	// check_coord_dups/check_coord_oob default on; dedup defaults off, as
	// in the original writer (duplicates are an error unless the caller
	// opts into silent deduplication).
	if !cfg.Write.CheckCoordDups && !cfg.Write.DedupCoords {
		cfg.Write.CheckCoordDups = true
	}
	if cfg.Write.OffsetsFormatName == "" {
		cfg.Write.OffsetsFormatName = "bytes"
	}
	switch cfg.Write.OffsetsFormatName {
	case "elements":
		cfg.Write.OffsetsFormat = model.OffsetsElements
	default:
		cfg.Write.OffsetsFormat = model.OffsetsBytes
	}
	if cfg.Write.OffsetsBitsize == 0 {
		cfg.Write.OffsetsBitsize = model.Bitsize64
	}
	// check_coord_oob is always turned on here: yaml gives us no
	// tri-state bool, so a false in the file cannot be told apart from an
	// absent key. Code that builds a Config can clear CheckCoordOOB after
	// defaults are applied.
	if !cfg.Write.CheckCoordOOB {
		cfg.Write.CheckCoordOOB = true
	}

	if cfg.Worker.ThreadNum == 0 {
		cfg.Worker.ThreadNum = 4
	}
	if cfg.Worker.QueueSize == 0 {
		cfg.Worker.QueueSize = 256
	}
	if cfg.Worker.TaskTimeout == 0 {
		cfg.Worker.TaskTimeout = 30 * time.Second
	}

	if cfg.Storage.Kind == "" {
		cfg.Storage.Kind = "local"
	}
	if cfg.Storage.Local.RootDir == "" {
		cfg.Storage.Local.RootDir = "/var/lib/arraydb/fragments"
	}
	if cfg.Storage.Local.MaxDiskUsage == 0 {
		cfg.Storage.Local.MaxDiskUsage = 0.9
	}
	if cfg.Storage.Local.WarnDiskUsage == 0 {
		cfg.Storage.Local.WarnDiskUsage = 0.8
	}

	if len(cfg.Filters) == 0 {
		cfg.Filters = []FilterConfig{{Name: "checksum-crc32"}}
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8088
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration for internally inconsistent settings.
func (c *Config) Validate() error {
	if c.Write.CheckCoordDups && c.Write.DedupCoords {
		return fmt.Errorf("write.check_coord_dups and write.dedup_coords are mutually exclusive")
	}
	if c.Write.OffsetsBitsize != model.Bitsize32 && c.Write.OffsetsBitsize != model.Bitsize64 {
		return fmt.Errorf("write.offsets_bitsize must be 32 or 64")
	}
	if c.Worker.ThreadNum < 1 {
		return fmt.Errorf("worker.thread_num must be at least 1")
	}
	switch c.Storage.Kind {
	case "local":
		if c.Storage.Local.RootDir == "" {
			return fmt.Errorf("storage.local.root_dir is required")
		}
		if c.Storage.Local.MaxDiskUsage <= 0 || c.Storage.Local.MaxDiskUsage > 1 {
			return fmt.Errorf("storage.local.max_disk_usage must be in (0, 1]")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required")
		}
	default:
		return fmt.Errorf("storage.kind must be \"local\" or \"s3\", got %q", c.Storage.Kind)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	return nil
}
