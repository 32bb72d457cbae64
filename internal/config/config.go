package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts "3s"-style strings or a bare number of seconds in config files.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config represents the complete configuration for certprobe
type Config struct {
	// Host sources
	Hosts   string `yaml:"hosts" json:"hosts"`
	File    string `yaml:"file" json:"file"`
	Save    bool   `yaml:"save" json:"save"`
	SaveDir string `yaml:"save_dir" json:"save_dir"`

	// Probing
	Timeout     Duration `yaml:"timeout" json:"timeout"`
	DefaultPort int      `yaml:"default_port" json:"default_port"`
	Concurrency int      `yaml:"concurrency" json:"concurrency"`
	Retries     int      `yaml:"retries" json:"retries"`
	RatePerHost float64  `yaml:"rate_per_host" json:"rate_per_host"`

	// Output
	OutputFormat string `yaml:"output_format" json:"output_format"`
	NoColor      bool   `yaml:"no_color" json:"no_color"`
	Progress     bool   `yaml:"progress" json:"progress"`
	LogLevel     string `yaml:"log_level" json:"log_level"`

	// Report ingest
	Run      string `yaml:"run" json:"run"`
	Ingest   string `yaml:"ingest" json:"ingest"`
	MTLSCert string `yaml:"mtls_cert" json:"mtls_cert"`
	MTLSKey  string `yaml:"mtls_key" json:"mtls_key"`

	// Observability
	MetricsAddr  string `yaml:"metrics_addr" json:"metrics_addr"`
	OTELEndpoint string `yaml:"otel_endpoint" json:"otel_endpoint"`
	OTELInsecure bool   `yaml:"otel_insecure" json:"otel_insecure"`
	OTELService  string `yaml:"otel_service" json:"otel_service"`

	// Redis
	RedisQueueAddr string `yaml:"redis_queue_addr" json:"redis_queue_addr"`
	RedisQueueKey  string `yaml:"redis_queue_key" json:"redis_queue_key"`
}

var outputFormats = map[string]bool{"panel": true, "json": true, "jsonl": true, "csv": true}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	if c.SaveDir == "" {
		c.SaveDir = "saves/hosts"
	}
	if c.Timeout == 0 {
		c.Timeout = Duration(3 * time.Second)
	}
	if c.DefaultPort == 0 {
		c.DefaultPort = 443
	}
	if c.Concurrency == 0 {
		c.Concurrency = 1
	}
	if c.OutputFormat == "" {
		c.OutputFormat = "panel"
	}
	if c.Run == "" {
		c.Run = fmt.Sprintf("run-%d", time.Now().Unix())
	}
	if c.OTELService == "" {
		c.OTELService = "certprobe"
	}
	if c.RedisQueueKey == "" {
		c.RedisQueueKey = "certprobe:queue"
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.DefaultPort < 1 || c.DefaultPort > 65535 {
		return fmt.Errorf("default_port must be between 1 and 65535")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if c.RatePerHost < 0 {
		return fmt.Errorf("rate_per_host must not be negative")
	}
	if !outputFormats[c.OutputFormat] {
		return fmt.Errorf("unknown output_format %q (use panel, json, jsonl or csv)", c.OutputFormat)
	}
	if (c.MTLSCert == "") != (c.MTLSKey == "") {
		return fmt.Errorf("mtls_cert and mtls_key must be set together")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// MergeWithFlags merges command-line flags with file configuration.
// Only flags the user actually set should be passed in; they take precedence.
func (c *Config) MergeWithFlags(flags map[string]interface{}) {
	if v, ok := flags["hosts"].(string); ok && v != "" {
		c.Hosts = v
	}
	if v, ok := flags["file"].(string); ok && v != "" {
		c.File = v
	}
	if v, ok := flags["save"].(bool); ok {
		c.Save = v
	}
	if v, ok := flags["timeout"].(time.Duration); ok && v > 0 {
		c.Timeout = Duration(v)
	}
	if v, ok := flags["port"].(int); ok && v > 0 {
		c.DefaultPort = v
	}
	if v, ok := flags["concurrency"].(int); ok && v > 0 {
		c.Concurrency = v
	}
	if v, ok := flags["retries"].(int); ok && v >= 0 {
		c.Retries = v
	}
	if v, ok := flags["rate_per_host"].(float64); ok && v >= 0 {
		c.RatePerHost = v
	}
	if v, ok := flags["output_format"].(string); ok && v != "" {
		c.OutputFormat = v
	}
	if v, ok := flags["no_color"].(bool); ok {
		c.NoColor = v
	}
	if v, ok := flags["progress"].(bool); ok {
		c.Progress = v
	}
	if v, ok := flags["verbose"].(bool); ok && v {
		c.LogLevel = "debug"
	}
	if v, ok := flags["ingest"].(string); ok && v != "" {
		c.Ingest = v
	}
	if v, ok := flags["mtls_cert"].(string); ok && v != "" {
		c.MTLSCert = v
	}
	if v, ok := flags["mtls_key"].(string); ok && v != "" {
		c.MTLSKey = v
	}
	if v, ok := flags["metrics_addr"].(string); ok && v != "" {
		c.MetricsAddr = v
	}
	if v, ok := flags["otel_endpoint"].(string); ok && v != "" {
		c.OTELEndpoint = v
	}
	if v, ok := flags["otel_insecure"].(bool); ok {
		c.OTELInsecure = v
	}
	if v, ok := flags["otel_service"].(string); ok && v != "" {
		c.OTELService = v
	}
	if v, ok := flags["queue_addr"].(string); ok && v != "" {
		c.RedisQueueAddr = v
	}
	if v, ok := flags["queue_key"].(string); ok && v != "" {
		c.RedisQueueKey = v
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("REDIS_QUEUE_ADDR"); v != "" {
		c.RedisQueueAddr = v
	}
	if v := os.Getenv("REDIS_QUEUE_KEY"); v != "" {
		c.RedisQueueKey = v
	}
}
