// Package config contains all knobs and defaults used to configure the docmodel binary.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

const (
	DefaultMaxConcurrentQueries = 100
	DefaultConnectTimeout       = 10 * time.Second
	DefaultBootWaitTimeout      = time.Minute
)

// DatastoreConfig defines the document store the connection is opened against.
type DatastoreConfig struct {
	// Engine is the datastore engine to use (e.g. 'memory' or 'mongodb')
	Engine string `json:"engine"`
	URI    string `json:"uri"`

	// Database is the name of the database every model collection lives in.
	Database string `json:"database"`

	// MaxConcurrentQueries bounds the number of concurrent reads across all collections.
	// Zero disables the bound.
	MaxConcurrentQueries uint32 `json:"maxConcurrentQueries"`

	// ConnectTimeout bounds a single connect attempt.
	ConnectTimeout time.Duration `json:"connectTimeout"`

	// UnacknowledgedWrites makes the memory engine report writes as unacknowledged.
	UnacknowledgedWrites bool `json:"unacknowledgedWrites"`
}

type LogConfig struct {
	// Format is the log format to use in the log output (e.g. 'text' or 'json')
	Format string `json:"format"`

	// Level is the log level to use in the log output (e.g. 'none', 'debug', or 'info')
	Level string `json:"level"`
}

type TraceConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint"`
	SampleRatio float64 `json:"sampleRatio"`
	ServiceName string  `json:"serviceName"`
}

type MetricConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// BootConfig defines how the boot command waits for the store.
type BootConfig struct {
	// Wait retries the initial connect with exponential backoff instead of failing at once.
	Wait bool `json:"wait"`

	// WaitTimeout is the total time spent retrying.
	WaitTimeout time.Duration `json:"waitTimeout"`

	// Collections are booted as untyped models on connect.
	Collections []string `json:"collections"`
}

type Config struct {
	Datastore DatastoreConfig `json:"datastore"`
	Log       LogConfig       `json:"log"`
	Trace     TraceConfig     `json:"trace"`
	Metrics   MetricConfig    `json:"metrics"`
	Boot      BootConfig      `json:"boot"`
}

var (
	engines   = []string{"memory", "mongodb"}
	logLevels = []string{"none", "debug", "info", "warn", "error"}
)

// Verify reports the first invalid setting of cfg.
func (cfg *Config) Verify() error {
	if !slices.Contains(engines, cfg.Datastore.Engine) {
		return fmt.Errorf("config 'datastore.engine' must be one of %q", engines)
	}

	if cfg.Datastore.Engine == "mongodb" && cfg.Datastore.URI == "" {
		return errors.New("config 'datastore.uri' is required for the 'mongodb' engine")
	}

	if cfg.Datastore.Database == "" {
		return errors.New("config 'datastore.database' cannot be empty")
	}

	if cfg.Datastore.ConnectTimeout <= 0 {
		return fmt.Errorf("config 'datastore.connectTimeout' (%s) must be positive", cfg.Datastore.ConnectTimeout)
	}

	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return errors.New("config 'log.format' must be one of ['text', 'json']")
	}

	if !slices.Contains(logLevels, cfg.Log.Level) {
		return fmt.Errorf("config 'log.level' must be one of %q", logLevels)
	}

	if cfg.Trace.Enabled && cfg.Trace.Endpoint == "" {
		return errors.New("config 'trace.endpoint' is required when tracing is enabled")
	}

	if cfg.Trace.SampleRatio < 0 || cfg.Trace.SampleRatio > 1 {
		return fmt.Errorf("config 'trace.sampleRatio' (%v) must be between 0 and 1", cfg.Trace.SampleRatio)
	}

	if cfg.Boot.Wait && cfg.Boot.WaitTimeout <= 0 {
		return fmt.Errorf("config 'boot.waitTimeout' (%s) must be positive when waiting", cfg.Boot.WaitTimeout)
	}

	return nil
}

// DefaultConfig is the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Datastore: DatastoreConfig{
			Engine:               "memory",
			Database:             "docmodel",
			MaxConcurrentQueries: DefaultMaxConcurrentQueries,
			ConnectTimeout:       DefaultConnectTimeout,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		Trace: TraceConfig{
			Enabled:     false,
			Endpoint:    "0.0.0.0:4317",
			SampleRatio: 0.2,
			ServiceName: "docmodel",
		},
		Metrics: MetricConfig{
			Enabled: false,
			Addr:    "0.0.0.0:2112",
		},
		Boot: BootConfig{
			Wait:        false,
			WaitTimeout: DefaultBootWaitTimeout,
			Collections: []string{},
		},
	}
}

// MustDefaultConfig returns the default configuration and panics if it does not verify.
func MustDefaultConfig() *Config {
	cfg := DefaultConfig()
	if err := cfg.Verify(); err != nil {
		panic(err)
	}
	return cfg
}
