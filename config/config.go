// Package config provides layered YAML configuration for the orchestrator
// and every subsystem it wires together.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete orchestrator configuration.
type Config struct {
	Limits   LimitsConfig   `yaml:"limits"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Gate     GateConfig     `yaml:"gate"`
	Graph    GraphConfig    `yaml:"graph"`
	LLM      LLMConfig      `yaml:"llm"`
	Storage  StorageConfig  `yaml:"storage"`
	NATS     NATSConfig     `yaml:"nats"`
}

// LimitsConfig bounds invocation concurrency and payload size.
type LimitsConfig struct {
	GlobalMaxInvocations   int `yaml:"globalMaxInvocations"`
	PerWorkerMaxConcurrent int `yaml:"perWorkerMaxConcurrent"`
	PromptMaxBytes         int `yaml:"promptMaxBytes"`
	DescriptionMaxChars    int `yaml:"descriptionMaxChars"`
}

// TimeoutsConfig holds the two invocation timeout classes plus heartbeat.
type TimeoutsConfig struct {
	InvocationMaxRuntime        time.Duration `yaml:"invocationMaxRuntime"`
	InvocationMaxRuntimeComplex time.Duration `yaml:"invocationMaxRuntimeComplex"`
	InvocationMaxInactivity     time.Duration `yaml:"invocationMaxInactivity"`
	Heartbeat                   time.Duration `yaml:"heartbeat"`
	CancelGracePeriod           time.Duration `yaml:"cancelGracePeriod"`
}

// GateConfig configures the quality-gate pipeline's thresholds and bounds.
type GateConfig struct {
	MaxReworkAttempts    int     `yaml:"maxReworkAttempts"`
	ReviewPassThreshold  float64 `yaml:"reviewPassThreshold"`
	QAPassThreshold      float64 `yaml:"qaPassThreshold"`
	FatalHighFindings    bool    `yaml:"fatalHighFindings"`
}

// GraphConfig configures build-time policy for the Task Graph Engine.
type GraphConfig struct {
	RecursionDepthCap      int  `yaml:"recursionDepthCap"`
	FatalMissingProducer   bool `yaml:"fatalMissingProducer"`
}

// LLMConfig configures the LLM Adapter's assignment confidence and caching.
type LLMConfig struct {
	AssignmentConfidenceThreshold float64 `yaml:"assignmentConfidenceThreshold"`
	CacheTTLSeconds               int     `yaml:"cacheTTLSeconds"`
	MaxRetries                    int     `yaml:"maxRetries"`
	Endpoint                      string  `yaml:"endpoint"`
}

// StorageConfig configures where per-project checkpoints and logs live.
type StorageConfig struct {
	Root string `yaml:"root"`
}

// NATSConfig configures the optional event-bridge connection.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Limits: LimitsConfig{
			GlobalMaxInvocations:   100,
			PerWorkerMaxConcurrent: 5,
			PromptMaxBytes:         100_000,
			DescriptionMaxChars:    2_000,
		},
		Timeouts: TimeoutsConfig{
			InvocationMaxRuntime:        10 * time.Minute,
			InvocationMaxRuntimeComplex: 20 * time.Minute,
			InvocationMaxInactivity:     3 * time.Minute,
			Heartbeat:                   30 * time.Second,
			CancelGracePeriod:           5 * time.Second,
		},
		Gate: GateConfig{
			MaxReworkAttempts:   5,
			ReviewPassThreshold: 0.85,
			QAPassThreshold:     0.90,
			FatalHighFindings:   true,
		},
		Graph: GraphConfig{
			RecursionDepthCap:    10,
			FatalMissingProducer: false,
		},
		LLM: LLMConfig{
			AssignmentConfidenceThreshold: 0.7,
			CacheTTLSeconds:               1800,
			MaxRetries:                    3,
			Endpoint:                      "",
		},
		Storage: StorageConfig{
			Root: "",
		},
		NATS: NATSConfig{
			URL:     "",
			Enabled: false,
		},
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Limits.GlobalMaxInvocations < 1 {
		return fmt.Errorf("limits.globalMaxInvocations must be >= 1")
	}
	if c.Limits.PerWorkerMaxConcurrent < 1 {
		return fmt.Errorf("limits.perWorkerMaxConcurrent must be >= 1")
	}
	if c.Gate.MaxReworkAttempts < 1 {
		return fmt.Errorf("gate.maxReworkAttempts must be >= 1")
	}
	if c.Gate.ReviewPassThreshold < 0 || c.Gate.ReviewPassThreshold > 1 {
		return fmt.Errorf("gate.reviewPassThreshold must be in [0,1]")
	}
	if c.Gate.QAPassThreshold < 0 || c.Gate.QAPassThreshold > 1 {
		return fmt.Errorf("gate.qaPassThreshold must be in [0,1]")
	}
	if c.LLM.AssignmentConfidenceThreshold < 0 || c.LLM.AssignmentConfidenceThreshold > 1 {
		return fmt.Errorf("llm.assignmentConfidenceThreshold must be in [0,1]")
	}
	return nil
}

// LoadFromFile reads and parses a YAML config file layered onto defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration as YAML, creating parent directories.
func (c *Config) SaveToFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Merge overlays other onto c; zero-valued fields in other leave c unchanged.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.Limits.GlobalMaxInvocations != 0 {
		c.Limits.GlobalMaxInvocations = other.Limits.GlobalMaxInvocations
	}
	if other.Limits.PerWorkerMaxConcurrent != 0 {
		c.Limits.PerWorkerMaxConcurrent = other.Limits.PerWorkerMaxConcurrent
	}
	if other.Limits.PromptMaxBytes != 0 {
		c.Limits.PromptMaxBytes = other.Limits.PromptMaxBytes
	}
	if other.Limits.DescriptionMaxChars != 0 {
		c.Limits.DescriptionMaxChars = other.Limits.DescriptionMaxChars
	}
	if other.Timeouts.InvocationMaxRuntime != 0 {
		c.Timeouts.InvocationMaxRuntime = other.Timeouts.InvocationMaxRuntime
	}
	if other.Timeouts.InvocationMaxRuntimeComplex != 0 {
		c.Timeouts.InvocationMaxRuntimeComplex = other.Timeouts.InvocationMaxRuntimeComplex
	}
	if other.Timeouts.InvocationMaxInactivity != 0 {
		c.Timeouts.InvocationMaxInactivity = other.Timeouts.InvocationMaxInactivity
	}
	if other.Timeouts.Heartbeat != 0 {
		c.Timeouts.Heartbeat = other.Timeouts.Heartbeat
	}
	if other.Timeouts.CancelGracePeriod != 0 {
		c.Timeouts.CancelGracePeriod = other.Timeouts.CancelGracePeriod
	}
	if other.Gate.MaxReworkAttempts != 0 {
		c.Gate.MaxReworkAttempts = other.Gate.MaxReworkAttempts
	}
	if other.Gate.ReviewPassThreshold != 0 {
		c.Gate.ReviewPassThreshold = other.Gate.ReviewPassThreshold
	}
	if other.Gate.QAPassThreshold != 0 {
		c.Gate.QAPassThreshold = other.Gate.QAPassThreshold
	}
	if other.Gate.FatalHighFindings {
		c.Gate.FatalHighFindings = true
	}
	if other.Graph.RecursionDepthCap != 0 {
		c.Graph.RecursionDepthCap = other.Graph.RecursionDepthCap
	}
	if other.Graph.FatalMissingProducer {
		c.Graph.FatalMissingProducer = true
	}
	if other.LLM.AssignmentConfidenceThreshold != 0 {
		c.LLM.AssignmentConfidenceThreshold = other.LLM.AssignmentConfidenceThreshold
	}
	if other.LLM.CacheTTLSeconds != 0 {
		c.LLM.CacheTTLSeconds = other.LLM.CacheTTLSeconds
	}
	if other.LLM.MaxRetries != 0 {
		c.LLM.MaxRetries = other.LLM.MaxRetries
	}
	if other.LLM.Endpoint != "" {
		c.LLM.Endpoint = other.LLM.Endpoint
	}
	if other.Storage.Root != "" {
		c.Storage.Root = other.Storage.Root
	}
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Enabled {
		c.NATS.Enabled = true
	}
}
