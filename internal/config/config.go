package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath     = "AG53230A_CONFIG"
	DefaultConfigPath = "/etc/ag53230a/ag53230a.yaml"
)

// Defaults of the counter as shipped on the lab network.
const (
	DefaultAddress     = "192.168.0.74"
	DefaultPort        = 5025
	DefaultChannel     = "1"
	DefaultCoupling    = "AC"
	DefaultImpedance   = "50"
	DefaultGateTime    = 1.0
	MaxGateTime        = 1000.0
	DefaultDialTimeout = 5 * time.Second
	DefaultMetricsAddr = "127.0.0.1:9320"
	DefaultQueueCap    = 4096
)

type Config struct {
	Instrument InstrumentConfig `yaml:"instrument"`
	Output     OutputConfig     `yaml:"output"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Queue      QueueConfig      `yaml:"queue"`
	Sinks      SinksConfig      `yaml:"sinks"`
}

type InstrumentConfig struct {
	Address     string        `yaml:"address"`
	Port        int           `yaml:"port"`
	Channel     string        `yaml:"channel"`
	Coupling    string        `yaml:"coupling"`
	Impedance   string        `yaml:"impedance"`
	GateTime    float64       `yaml:"gate_time"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	CheckErrors bool          `yaml:"check_errors"`
}

type OutputConfig struct {
	Prefix   string `yaml:"prefix"`
	Dir      string `yaml:"dir"`
	KeepFile bool   `yaml:"keep_file"`
}

type MonitoringConfig struct {
	Addr string `yaml:"addr"`
}

type QueueConfig struct {
	MemItemsCap int `yaml:"mem_items_cap"`
}

type SinksConfig struct {
	Redis    *RedisConfig    `yaml:"redis"`
	Postgres *PostgresConfig `yaml:"postgres"`
	SQLite   *SQLiteConfig   `yaml:"sqlite"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file or flag overrides a value.
func Default() Config {
	return Config{
		Instrument: InstrumentConfig{
			Address:     DefaultAddress,
			Port:        DefaultPort,
			Channel:     DefaultChannel,
			Coupling:    DefaultCoupling,
			Impedance:   DefaultImpedance,
			GateTime:    DefaultGateTime,
			DialTimeout: DefaultDialTimeout,
		},
		Output: OutputConfig{
			Dir: ".",
		},
		Monitoring: MonitoringConfig{
			Addr: DefaultMetricsAddr,
		},
		Queue: QueueConfig{
			MemItemsCap: DefaultQueueCap,
		},
	}
}

// Load reads a YAML file on top of Default. Keys missing from the file keep
// their default values.
func Load(ctx context.Context, path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	return cfg, nil
}

// LoadOptional resolves the configuration file from path, then
// $AG53230A_CONFIG, then DefaultConfigPath. Only an explicitly named file must
// exist; with nothing found the defaults are returned.
func LoadOptional(ctx context.Context, path string) (Config, error) {
	if path != "" {
		return Load(ctx, path)
	}
	if env := os.Getenv(envConfigPath); env != "" {
		return Load(ctx, env)
	}
	if _, err := os.Stat(DefaultConfigPath); err == nil {
		return Load(ctx, DefaultConfigPath)
	}
	return Default(), nil
}

// Normalize canonicalises user supplied spellings ("dc", "1m", "1MOhm").
func (c *Config) Normalize() {
	c.Instrument.Coupling = strings.ToUpper(strings.TrimSpace(c.Instrument.Coupling))
	imp := strings.ToUpper(strings.TrimSpace(c.Instrument.Impedance))
	imp = strings.TrimSuffix(strings.TrimSuffix(imp, "OHMS"), "OHM")
	switch imp {
	case "1M", "1E6", "1.0E6", "1000000":
		c.Instrument.Impedance = "1M"
	default:
		c.Instrument.Impedance = imp
	}
	c.Instrument.Channel = strings.TrimSpace(c.Instrument.Channel)
	if c.Instrument.DialTimeout <= 0 {
		c.Instrument.DialTimeout = DefaultDialTimeout
	}
	if c.Queue.MemItemsCap <= 0 {
		c.Queue.MemItemsCap = DefaultQueueCap
	}
}

func (c Config) Validate() error {
	var errs []error
	in := c.Instrument
	if in.Address == "" {
		errs = append(errs, errors.New("instrument address must be set"))
	}
	if in.Port <= 0 || in.Port > 65535 {
		errs = append(errs, fmt.Errorf("instrument port %d out of range", in.Port))
	}
	switch in.Channel {
	case "1", "2", "3":
	default:
		errs = append(errs, fmt.Errorf("input channel %q must be 1, 2 or 3", in.Channel))
	}
	if in.Coupling != "AC" && in.Coupling != "DC" {
		errs = append(errs, fmt.Errorf("input coupling %q must be AC or DC", in.Coupling))
	}
	if in.Impedance != "50" && in.Impedance != "1M" {
		errs = append(errs, fmt.Errorf("input impedance %q must be 50 or 1M", in.Impedance))
	}
	switch {
	case math.IsNaN(in.GateTime) || math.IsInf(in.GateTime, 0):
		errs = append(errs, fmt.Errorf("gate time %g must be a finite number of seconds", in.GateTime))
	case in.GateTime <= 0:
		errs = append(errs, fmt.Errorf("gate time %g must be positive", in.GateTime))
	case in.GateTime > MaxGateTime:
		errs = append(errs, fmt.Errorf("gate time %g exceeds the counter maximum of %g s", in.GateTime, MaxGateTime))
	}
	if c.Sinks.Redis != nil && c.Sinks.Redis.Addr == "" {
		errs = append(errs, errors.New("sinks.redis.addr must be set when redis sink is configured"))
	}
	if c.Sinks.Postgres != nil && c.Sinks.Postgres.DSN == "" {
		errs = append(errs, errors.New("sinks.postgres.dsn must be set when postgres sink is configured"))
	}
	if c.Sinks.SQLite != nil && c.Sinks.SQLite.Path == "" {
		errs = append(errs, errors.New("sinks.sqlite.path must be set when sqlite sink is configured"))
	}
	return errors.Join(errs...)
}

// GateDuration returns the gate time as a time.Duration.
func (i InstrumentConfig) GateDuration() time.Duration {
	return time.Duration(i.GateTime * float64(time.Second))
}
