// Package config loads the logbuffer TOML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Pharos-AI/utils/provenance"
)

const (
	SinkHTTP      = "http"
	SinkWebSocket = "websocket"
	SinkStdout    = "stdout"
	SinkDB        = "db"
)

type Config struct {
	Log     LogConfig     `toml:"log"`
	Sink    SinkConfig    `toml:"sink"`
	Storage StorageConfig `toml:"storage"`
	Ingest  IngestConfig  `toml:"ingest"`
	Scrub   ScrubConfig   `toml:"scrub"`
	Stack   StackConfig   `toml:"stack"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type SinkConfig struct {
	Kind    string   `toml:"kind"`
	URL     string   `toml:"url"`
	APIKey  string   `toml:"api_key"`
	Timeout Duration `toml:"timeout"`
	Gzip    bool     `toml:"gzip"`
}

type StorageConfig struct {
	Path string `toml:"path"`
}

type IngestConfig struct {
	Addr           string `toml:"addr"`
	APIKey         string `toml:"api_key"`
	MaxBodyBytes   int64  `toml:"max_body_bytes"`
	RequestsPerMin int    `toml:"requests_per_min"`
	MaxConns       int    `toml:"max_conns"`
}

type ScrubConfig struct {
	Enabled bool `toml:"enabled"`
}

type StackConfig struct {
	ModuleMarker    string   `toml:"module_marker"`
	ComponentMarker string   `toml:"component_marker"`
	Internal        []string `toml:"internal"`
}

// Duration reads TOML strings such as "5s" or "1m30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "human",
		},
		Sink: SinkConfig{
			Kind:    SinkHTTP,
			URL:     "http://localhost:8088/api/entries",
			Timeout: Duration{10 * time.Second},
		},
		Storage: StorageConfig{
			Path: "logbuffer.db",
		},
		Ingest: IngestConfig{
			Addr:           "localhost:8088",
			MaxBodyBytes:   5 << 20,
			RequestsPerMin: 600,
			MaxConns:       10,
		},
		Scrub: ScrubConfig{
			Enabled: true,
		},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
// Secrets may reference the environment, e.g. api_key = "${LOGBUFFER_KEY}".
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.Sink.URL = os.ExpandEnv(cfg.Sink.URL)
	cfg.Sink.APIKey = os.ExpandEnv(cfg.Sink.APIKey)
	cfg.Ingest.APIKey = os.ExpandEnv(cfg.Ingest.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyDefaults restores values a file explicitly blanked out.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Sink.Kind == "" {
		c.Sink.Kind = def.Sink.Kind
	}
	if c.Sink.Timeout.Duration <= 0 {
		c.Sink.Timeout = def.Sink.Timeout
	}
	if c.Storage.Path == "" {
		c.Storage.Path = def.Storage.Path
	}
	if c.Ingest.Addr == "" {
		c.Ingest.Addr = def.Ingest.Addr
	}
	if c.Ingest.MaxBodyBytes <= 0 {
		c.Ingest.MaxBodyBytes = def.Ingest.MaxBodyBytes
	}
}

func (c *Config) Validate() error {
	switch c.Sink.Kind {
	case SinkHTTP, SinkWebSocket:
		if c.Sink.URL == "" {
			return fmt.Errorf("sink.url is required for %s sink", c.Sink.Kind)
		}
	case SinkStdout, SinkDB:
	default:
		return fmt.Errorf("unknown sink.kind %q", c.Sink.Kind)
	}

	switch c.Log.Format {
	case "json", "human":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}

	if c.Ingest.RequestsPerMin < 0 || c.Ingest.MaxConns < 0 {
		return fmt.Errorf("ingest limits must not be negative")
	}
	return nil
}

// Rules builds provenance rules, keeping the built-in markers for any field
// left empty.
func (s StackConfig) Rules() provenance.Rules {
	rules := provenance.DefaultRules()
	if s.ModuleMarker != "" {
		rules.ModuleMarker = s.ModuleMarker
	}
	if s.ComponentMarker != "" {
		rules.ComponentMarker = s.ComponentMarker
	}
	rules.Internal = append(rules.Internal, s.Internal...)
	return rules
}
