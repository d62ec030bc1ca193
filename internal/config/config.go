package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CaptureConfig selects how the capture file is read.
type CaptureConfig struct {
	Filter string `yaml:"filter"`
	// Reader is "libpcap" or "pcapgo".
	Reader string `yaml:"reader"`
}

// EngineConfig holds the flow-table settings.
type EngineConfig struct {
	NumShards      int    `yaml:"num_shards"`
	ShardQueueSize int    `yaml:"shard_queue_size"`
	IdleTimeout    string `yaml:"idle_timeout"`
	ReapInterval   string `yaml:"reap_interval"`
	// IdleClock is "wall" or "capture".
	IdleClock string `yaml:"idle_clock"`
}

// WriterConfig holds the writer pool settings.
type WriterConfig struct {
	NumWorkers   int    `yaml:"num_workers"`
	QueueSize    int    `yaml:"queue_size"`
	MaxOpenFiles int    `yaml:"max_open_files"`
	Format       string `yaml:"format"`
	OutputDir    string `yaml:"output_dir"`
}

// EncoderConfig holds image geometry.
type EncoderConfig struct {
	TileWidth int `yaml:"tile_width"`
	MTFGrid   int `yaml:"mtf_grid"`
	GAFLength int `yaml:"gaf_length"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// StatusConfig enables the status endpoints. Empty addresses disable them.
type StatusConfig struct {
	HTTPListenAddr string `yaml:"http_listen_addr"`
	GRPCListenAddr string `yaml:"grpc_listen_addr"`
}

// NATSConfig configures NATS publishing.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	// PublishSessions sends one message per written artifact.
	PublishSessions bool `yaml:"publish_sessions"`
}

// SMTPConfig holds the configuration for the SMTP email notifier.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// NotifyConfig selects where the end-of-run summary is sent.
type NotifyConfig struct {
	NATS NATSConfig `yaml:"nats"`
	SMTP SMTPConfig `yaml:"smtp"`
}

// ClickHouseConfig holds the connection details for the session index.
type ClickHouseConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Database  string `yaml:"database"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	BatchSize int    `yaml:"batch_size"`
}

// IndexConfig configures session indexing.
type IndexConfig struct {
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// ReportConfig configures the run summary and session manifest files.
// Empty paths disable them.
type ReportConfig struct {
	SummaryFile  string `yaml:"summary_file"`
	ManifestFile string `yaml:"manifest_file"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Capture CaptureConfig `yaml:"capture"`
	Engine  EngineConfig  `yaml:"engine"`
	Writer  WriterConfig  `yaml:"writer"`
	Encoder EncoderConfig `yaml:"encoder"`
	Logging LoggingConfig `yaml:"logging"`
	Status  StatusConfig  `yaml:"status"`
	Notify  NotifyConfig  `yaml:"notify"`
	Index   IndexConfig   `yaml:"index"`
	Report  ReportConfig  `yaml:"report"`
}

// Default returns a complete configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// LoadConfig reads the configuration from a YAML file, fills in defaults
// for anything left unset and validates the result.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	setString(&c.Capture.Filter, "ip or vlan")
	setString(&c.Capture.Reader, "libpcap")

	setInt(&c.Engine.NumShards, 8)
	setInt(&c.Engine.ShardQueueSize, 4096)
	setString(&c.Engine.IdleTimeout, "10s")
	setString(&c.Engine.ReapInterval, "5ms")
	setString(&c.Engine.IdleClock, "wall")

	setInt(&c.Writer.NumWorkers, 4)
	setInt(&c.Writer.QueueSize, 1024)
	setInt(&c.Writer.MaxOpenFiles, 1000)

	setInt(&c.Encoder.TileWidth, 64)
	setInt(&c.Encoder.MTFGrid, 4)
	setInt(&c.Encoder.GAFLength, 64)

	setString(&c.Logging.Level, "info")
	setInt(&c.Logging.MaxSizeMB, 100)
	setInt(&c.Logging.MaxBackups, 3)
	setInt(&c.Logging.MaxAgeDays, 28)

	setString(&c.Notify.NATS.URL, "nats://127.0.0.1:4222")
	setString(&c.Notify.NATS.Subject, "ntv.sessions.written")
	setInt(&c.Notify.SMTP.Port, 587)

	setString(&c.Index.ClickHouse.Host, "127.0.0.1")
	setInt(&c.Index.ClickHouse.Port, 9000)
	setString(&c.Index.ClickHouse.Database, "default")
	setString(&c.Index.ClickHouse.Username, "default")
	setInt(&c.Index.ClickHouse.BatchSize, 500)
}

// Validate checks the values the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.Engine.NumShards <= 0 {
		return fmt.Errorf("engine.num_shards must be positive, got %d", c.Engine.NumShards)
	}
	if c.Engine.ShardQueueSize <= 0 {
		return fmt.Errorf("engine.shard_queue_size must be positive, got %d", c.Engine.ShardQueueSize)
	}
	if _, err := c.IdleTimeout(); err != nil {
		return err
	}
	if _, err := c.ReapInterval(); err != nil {
		return err
	}
	if c.Engine.IdleClock != "wall" && c.Engine.IdleClock != "capture" {
		return fmt.Errorf("engine.idle_clock must be wall or capture, got '%s'", c.Engine.IdleClock)
	}
	if c.Writer.NumWorkers <= 0 {
		return fmt.Errorf("writer.num_workers must be positive, got %d", c.Writer.NumWorkers)
	}
	if c.Writer.QueueSize <= 0 {
		return fmt.Errorf("writer.queue_size must be positive, got %d", c.Writer.QueueSize)
	}
	if c.Writer.MaxOpenFiles <= 0 {
		return fmt.Errorf("writer.max_open_files must be positive, got %d", c.Writer.MaxOpenFiles)
	}
	if c.Capture.Reader != "libpcap" && c.Capture.Reader != "pcapgo" {
		return fmt.Errorf("capture.reader must be libpcap or pcapgo, got '%s'", c.Capture.Reader)
	}
	return nil
}

// IdleTimeout parses engine.idle_timeout.
func (c *Config) IdleTimeout() (time.Duration, error) {
	return positiveDuration("engine.idle_timeout", c.Engine.IdleTimeout)
}

// ReapInterval parses engine.reap_interval.
func (c *Config) ReapInterval() (time.Duration, error) {
	return positiveDuration("engine.reap_interval", c.Engine.ReapInterval)
}

func positiveDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration", name)
	}
	return d, nil
}

func setString(field *string, def string) {
	if *field == "" {
		*field = def
	}
}

func setInt(field *int, def int) {
	if *field == 0 {
		*field = def
	}
}
