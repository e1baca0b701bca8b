package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParsePipelineDefaults(t *testing.T) {
	cfg, err := ParsePipeline(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Strategy.SyncMaxBytes != 5<<20 || cfg.Strategy.BackgroundMaxBytes != 50<<20 {
		t.Fatalf("unexpected default thresholds: %#v", cfg.Strategy)
	}
	if cfg.Progress.ReceiveShare != 0.5 {
		t.Fatalf("unexpected default receive share: %f", cfg.Progress.ReceiveShare)
	}
}

func TestParsePipelineOverrides(t *testing.T) {
	data := []byte(`
strategy:
  sync_max_bytes: 1048576
  background_max_bytes: 10485760
upload:
  chunk_size_bytes: 65536
  ttl_seconds: 120
jobs:
  terminal_retention_seconds: 30
  max_processing_seconds: 60
progress:
  receive_share: 0.3
`)
	cfg, err := ParsePipeline(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Strategy.SyncMaxBytes != 1<<20 {
		t.Fatalf("sync threshold not overridden: %d", cfg.Strategy.SyncMaxBytes)
	}
	if cfg.Upload.ChunkSizeBytes != 65536 {
		t.Fatalf("chunk size not overridden: %d", cfg.Upload.ChunkSizeBytes)
	}
	if cfg.Progress.ReceiveShare != 0.3 {
		t.Fatalf("receive share not overridden: %f", cfg.Progress.ReceiveShare)
	}
	// Omitted fields keep defaults.
	if cfg.Upload.TombstoneTTLSec != 600 || cfg.Jobs.SweepIntervalSeconds != 10 {
		t.Fatalf("defaults not filled: %#v", cfg)
	}
}

func TestParsePipelineRejectsNonsense(t *testing.T) {
	cfg, err := ParsePipeline([]byte("progress:\n  receive_share: 1.5\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Progress.ReceiveShare != 0.5 {
		t.Fatalf("out-of-range receive share must fall back: %f", cfg.Progress.ReceiveShare)
	}
}

func TestLoadPipelineMissingFile(t *testing.T) {
	cfg, err := LoadPipeline(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatalf("expected read error for missing file")
	}
	if cfg == nil || cfg.Strategy.SyncMaxBytes != 5<<20 {
		t.Fatalf("missing file must still yield defaults")
	}
}

func TestLoadPipelineFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte("jobs:\n  max_processing_seconds: 42\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadPipeline(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Jobs.MaxProcessingSeconds != 42 {
		t.Fatalf("file value not applied: %d", cfg.Jobs.MaxProcessingSeconds)
	}
}
