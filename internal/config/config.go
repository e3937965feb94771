// Package config loads server settings from defaults, an optional YAML file,
// and environment variables, in that order of precedence (last wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted by Config.Transport.
const (
	TransportMCP  = "mcp"
	TransportHTTP = "http"
)

// Config holds every tunable of the server.
type Config struct {
	// Transport selects the request layer: "mcp" (JSON-RPC on stdio) or "http".
	Transport string `yaml:"transport"`

	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Detector DetectorConfig `yaml:"detector"`
	Dense    DenseConfig    `yaml:"dense"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Store    StoreConfig    `yaml:"store"`
	Overlay  OverlayConfig  `yaml:"overlay"`
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// DetectorConfig points at the object-detection inference service. An empty
// URL leaves the detector unavailable.
type DetectorConfig struct {
	URL           string  `yaml:"url"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// DenseConfig points at the dense segmentation service. An empty URL leaves
// the dense tier unavailable and every mask comes from the heuristic tier.
type DenseConfig struct {
	URL       string `yaml:"url"`
	InputSize int    `yaml:"input_size"`
}

// OracleConfig configures the hosted classification model. Without an API
// key every analysis falls back to the mock finding.
type OracleConfig struct {
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
	// Seed drives the mock fallback. Zero seeds from the clock.
	Seed int64 `yaml:"seed"`
}

// StoreConfig selects report persistence. An empty MongoURI keeps reports in
// process memory.
type StoreConfig struct {
	MongoURI   string `yaml:"mongo_uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type OverlayConfig struct {
	HighlightColor string  `yaml:"highlight_color"`
	StrokeColor    string  `yaml:"stroke_color"`
	Expansion      float64 `yaml:"expansion"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Transport: TransportMCP,
		HTTP: HTTPConfig{
			Addr:           ":8000",
			MaxUploadBytes: 32 << 20,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   120 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Dense: DenseConfig{
			InputSize: 256,
		},
		Oracle: OracleConfig{
			Model:    "gemini-1.5-flash",
			Endpoint: "https://generativelanguage.googleapis.com/v1beta",
		},
		Store: StoreConfig{
			Database:   "bone",
			Collection: "reports",
		},
		Overlay: OverlayConfig{
			HighlightColor: "#FF000080",
			StrokeColor:    "#FF0000",
			Expansion:      1.2,
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Transport = getEnv("ORTHOSCAN_TRANSPORT", c.Transport)
	c.HTTP.Addr = getEnv("ORTHOSCAN_HTTP_ADDR", c.HTTP.Addr)
	c.Log.Level = getEnv("ORTHOSCAN_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("ORTHOSCAN_LOG_FORMAT", c.Log.Format)
	c.Detector.URL = getEnv("ORTHOSCAN_DETECTOR_URL", c.Detector.URL)
	c.Dense.URL = getEnv("ORTHOSCAN_DENSE_URL", c.Dense.URL)
	c.Oracle.APIKey = getEnv("GEMINI_API_KEY", c.Oracle.APIKey)
	c.Oracle.Model = getEnv("ORTHOSCAN_ORACLE_MODEL", c.Oracle.Model)
	c.Oracle.Endpoint = getEnv("ORTHOSCAN_ORACLE_ENDPOINT", c.Oracle.Endpoint)
	c.Store.MongoURI = getEnv("ORTHOSCAN_MONGO_URI", c.Store.MongoURI)
	c.Store.Database = getEnv("ORTHOSCAN_MONGO_DATABASE", c.Store.Database)
	c.Overlay.HighlightColor = getEnv("ORTHOSCAN_HIGHLIGHT_COLOR", c.Overlay.HighlightColor)

	if v := os.Getenv("ORTHOSCAN_DETECTOR_MIN_CONFIDENCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ORTHOSCAN_DETECTOR_MIN_CONFIDENCE: %w", err)
		}
		c.Detector.MinConfidence = f
	}
	if v := os.Getenv("ORTHOSCAN_ORACLE_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("ORTHOSCAN_ORACLE_SEED: %w", err)
		}
		c.Oracle.Seed = seed
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportMCP, TransportHTTP:
	default:
		return fmt.Errorf("unknown transport %q (want %q or %q)", c.Transport, TransportMCP, TransportHTTP)
	}
	if c.Dense.InputSize <= 0 {
		return fmt.Errorf("dense.input_size must be positive, got %d", c.Dense.InputSize)
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		return fmt.Errorf("detector.min_confidence must be in [0,1], got %v", c.Detector.MinConfidence)
	}
	if c.Overlay.Expansion <= 0 {
		return fmt.Errorf("overlay.expansion must be positive, got %v", c.Overlay.Expansion)
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		return fmt.Errorf("http.max_upload_bytes must be positive, got %d", c.HTTP.MaxUploadBytes)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
