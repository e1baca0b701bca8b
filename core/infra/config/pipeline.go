package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineConfig is the policy table for ingestion and processing.
type PipelineConfig struct {
	Strategy StrategyConfig `yaml:"strategy"`
	Upload   UploadConfig   `yaml:"upload"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Progress ProgressConfig `yaml:"progress"`
}

type StrategyConfig struct {
	SyncMaxBytes       int64 `yaml:"sync_max_bytes"`
	BackgroundMaxBytes int64 `yaml:"background_max_bytes"`
}

type UploadConfig struct {
	ChunkSizeBytes  int   `yaml:"chunk_size_bytes"`
	TTLSeconds      int64 `yaml:"ttl_seconds"`
	TombstoneTTLSec int64 `yaml:"tombstone_ttl_seconds"`
}

type JobsConfig struct {
	TerminalRetentionSeconds int64 `yaml:"terminal_retention_seconds"`
	MaxProcessingSeconds     int64 `yaml:"max_processing_seconds"`
	SweepIntervalSeconds     int64 `yaml:"sweep_interval_seconds"`
}

type ProgressConfig struct {
	// ReceiveShare is the fraction of total progress attributed to the
	// chunk-receive phase. Carried from the original UI at 0.5.
	ReceiveShare float64 `yaml:"receive_share"`
}

func defaultPipeline() *PipelineConfig {
	return &PipelineConfig{
		Strategy: StrategyConfig{
			SyncMaxBytes:       5 << 20,
			BackgroundMaxBytes: 50 << 20,
		},
		Upload: UploadConfig{
			ChunkSizeBytes:  int(1.5 * (1 << 20)),
			TTLSeconds:      1800,
			TombstoneTTLSec: 600,
		},
		Jobs: JobsConfig{
			TerminalRetentionSeconds: 60,
			MaxProcessingSeconds:     300,
			SweepIntervalSeconds:     10,
		},
		Progress: ProgressConfig{ReceiveShare: 0.5},
	}
}

// LoadPipeline loads a YAML pipeline policy file; returns defaults if the
// file is missing, with the read error attached so callers can log it.
func LoadPipeline(path string) (*PipelineConfig, error) {
	if path == "" {
		return defaultPipeline(), nil
	}
	// #nosec G304 -- pipeline config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return defaultPipeline(), fmt.Errorf("read pipeline config: %w", err)
	}
	return ParsePipeline(data)
}

// ParsePipeline parses pipeline policy from YAML bytes, filling omitted
// fields with defaults.
func ParsePipeline(data []byte) (*PipelineConfig, error) {
	cfg := defaultPipeline()
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return defaultPipeline(), fmt.Errorf("parse pipeline config: %w", err)
	}
	def := defaultPipeline()
	if cfg.Strategy.SyncMaxBytes <= 0 {
		cfg.Strategy.SyncMaxBytes = def.Strategy.SyncMaxBytes
	}
	if cfg.Strategy.BackgroundMaxBytes <= cfg.Strategy.SyncMaxBytes {
		cfg.Strategy.BackgroundMaxBytes = def.Strategy.BackgroundMaxBytes
	}
	if cfg.Upload.ChunkSizeBytes <= 0 {
		cfg.Upload.ChunkSizeBytes = def.Upload.ChunkSizeBytes
	}
	if cfg.Upload.TTLSeconds <= 0 {
		cfg.Upload.TTLSeconds = def.Upload.TTLSeconds
	}
	if cfg.Upload.TombstoneTTLSec <= 0 {
		cfg.Upload.TombstoneTTLSec = def.Upload.TombstoneTTLSec
	}
	if cfg.Jobs.TerminalRetentionSeconds <= 0 {
		cfg.Jobs.TerminalRetentionSeconds = def.Jobs.TerminalRetentionSeconds
	}
	if cfg.Jobs.MaxProcessingSeconds <= 0 {
		cfg.Jobs.MaxProcessingSeconds = def.Jobs.MaxProcessingSeconds
	}
	if cfg.Jobs.SweepIntervalSeconds <= 0 {
		cfg.Jobs.SweepIntervalSeconds = def.Jobs.SweepIntervalSeconds
	}
	if cfg.Progress.ReceiveShare <= 0 || cfg.Progress.ReceiveShare >= 1 {
		cfg.Progress.ReceiveShare = def.Progress.ReceiveShare
	}
	return cfg, nil
}

// UploadTTL returns the pending-upload lifetime as a duration.
func (c *PipelineConfig) UploadTTL() time.Duration {
	return time.Duration(c.Upload.TTLSeconds) * time.Second
}

// TombstoneTTL returns the expired-upload tombstone lifetime.
func (c *PipelineConfig) TombstoneTTL() time.Duration {
	return time.Duration(c.Upload.TombstoneTTLSec) * time.Second
}

// TerminalRetention returns the post-read lifetime of terminal jobs.
func (c *PipelineConfig) TerminalRetention() time.Duration {
	return time.Duration(c.Jobs.TerminalRetentionSeconds) * time.Second
}

// MaxProcessing returns the watchdog deadline for Processing jobs.
func (c *PipelineConfig) MaxProcessing() time.Duration {
	return time.Duration(c.Jobs.MaxProcessingSeconds) * time.Second
}

// SweepInterval returns the watchdog tick interval.
func (c *PipelineConfig) SweepInterval() time.Duration {
	return time.Duration(c.Jobs.SweepIntervalSeconds) * time.Second
}
