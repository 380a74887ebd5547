// Package config loads flowtriage configuration from a YAML file, the
// environment and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rsclarke/flowtriage/internal/logging"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FLOWTRIAGE_SERVER_ADDR.
const EnvPrefix = "FLOWTRIAGE"

type Config struct {
	Log       logging.Config  `mapstructure:"log" yaml:"log"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Extract   ExtractConfig   `mapstructure:"extract" yaml:"extract"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
	Kafka     KafkaConfig     `mapstructure:"kafka" yaml:"kafka"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	MaxConcurrentRuns int64         `mapstructure:"max_concurrent_runs" yaml:"max_concurrent_runs"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	// WriteTimeout of 0 is derived from the capture and extract limits.
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// APIKeys lists "<prefix>:<digest>" entries. Empty disables auth.
	APIKeys []string `mapstructure:"api_keys" yaml:"api_keys"`
}

type DatabaseConfig struct {
	// Driver is one of sqlite, pgx or mysql. Empty disables history.
	Driver       string `mapstructure:"driver" yaml:"driver"`
	DSN          string `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
}

type ArtifactsConfig struct {
	Dir        string   `mapstructure:"dir" yaml:"dir"`
	Components int      `mapstructure:"components" yaml:"components"`
	Samples    int      `mapstructure:"samples" yaml:"samples"`
	Seed       uint64   `mapstructure:"seed" yaml:"seed"`
	Labels     string   `mapstructure:"labels" yaml:"labels"`
	LabelNames []string `mapstructure:"label_names" yaml:"label_names"`
	Compress   bool     `mapstructure:"compress" yaml:"compress"`
}

type CaptureConfig struct {
	Tool              string            `mapstructure:"tool" yaml:"tool"`
	DefaultInterface  string            `mapstructure:"default_interface" yaml:"default_interface"`
	Interfaces        map[string]string `mapstructure:"interfaces" yaml:"interfaces"`
	MaxDuration       time.Duration     `mapstructure:"max_duration" yaml:"max_duration"`
	Grace             time.Duration     `mapstructure:"grace" yaml:"grace"`
	ValidateInterface bool              `mapstructure:"validate_interface" yaml:"validate_interface"`
}

type ExtractConfig struct {
	Tool         string        `mapstructure:"tool" yaml:"tool"`
	Args         []string      `mapstructure:"args" yaml:"args"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollAttempts int           `mapstructure:"poll_attempts" yaml:"poll_attempts"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

type PipelineConfig struct {
	WorkDir    string        `mapstructure:"work_dir" yaml:"work_dir"`
	RunTimeout time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	KeepFiles  bool          `mapstructure:"keep_files" yaml:"keep_files"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", true)

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.max_concurrent_runs", 2)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.api_keys", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "flowtriage.db")
	v.SetDefault("database.max_open_conns", 4)

	v.SetDefault("artifacts.dir", "models")
	v.SetDefault("artifacts.components", 50)
	v.SetDefault("artifacts.samples", 1000)
	v.SetDefault("artifacts.seed", 42)
	v.SetDefault("artifacts.labels", "default")
	v.SetDefault("artifacts.label_names", []string{})
	v.SetDefault("artifacts.compress", true)

	v.SetDefault("capture.tool", "tshark")
	v.SetDefault("capture.default_interface", "any")
	v.SetDefault("capture.interfaces", map[string]string{})
	v.SetDefault("capture.max_duration", "5m")
	v.SetDefault("capture.grace", "15s")
	v.SetDefault("capture.validate_interface", false)

	v.SetDefault("extract.tool", "cfm")
	v.SetDefault("extract.args", []string{})
	v.SetDefault("extract.timeout", "5m")
	v.SetDefault("extract.poll_attempts", 10)
	v.SetDefault("extract.poll_interval", "2s")

	v.SetDefault("pipeline.work_dir", "work")
	v.SetDefault("pipeline.run_timeout", "15m")
	v.SetDefault("pipeline.keep_files", false)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "flowtriage.runs")
}

// New returns a viper instance with defaults and environment overrides
// wired, ready for flag binding and Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path, or flowtriage.yaml from the working directory or
// /etc/flowtriage when path is empty, then applies the environment and
// validates. A missing default config file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("flowtriage")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/flowtriage")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := New().Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: decode defaults: %v", err))
	}
	return &cfg
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "", "sqlite", "pgx", "mysql":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported %q", c.Database.Driver))
	}
	if c.Database.Driver != "" && c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn: required when a driver is set"))
	}
	if c.Server.MaxConcurrentRuns < 1 {
		errs = append(errs, errors.New("server.max_concurrent_runs: must be at least 1"))
	}
	if c.Server.WriteTimeout < 0 {
		errs = append(errs, errors.New("server.write_timeout: must not be negative"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout: must be positive"))
	}
	if c.Artifacts.Components < 1 {
		errs = append(errs, errors.New("artifacts.components: must be at least 1"))
	}
	if c.Artifacts.Samples < 2 {
		errs = append(errs, errors.New("artifacts.samples: must be at least 2"))
	}
	switch c.Artifacts.Labels {
	case "default", "legacy":
	default:
		if len(c.Artifacts.LabelNames) == 0 {
			errs = append(errs, fmt.Errorf("artifacts.labels: unknown preset %q", c.Artifacts.Labels))
		}
	}
	if c.Capture.MaxDuration <= 0 {
		errs = append(errs, errors.New("capture.max_duration: must be positive"))
	}
	if c.Extract.PollAttempts < 0 {
		errs = append(errs, errors.New("extract.poll_attempts: must not be negative"))
	}
	if c.Extract.PollInterval <= 0 {
		errs = append(errs, errors.New("extract.poll_interval: must be positive"))
	}
	if c.Pipeline.WorkDir == "" {
		errs = append(errs, errors.New("pipeline.work_dir: required"))
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, errors.New("kafka: brokers and topic required when enabled"))
	}
	return errors.Join(errs...)
}
