package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
data_dir: /srv/annotations
detector:
  endpoint: http://gpu-box:11434
  model: llava
  confidence: 0.4
default_classes:
  - person
  - bicycle
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.DataDir != "/srv/annotations" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Detector.Endpoint != "http://gpu-box:11434" {
		t.Errorf("Endpoint = %q", cfg.Detector.Endpoint)
	}
	if cfg.Detector.Model != "llava" {
		t.Errorf("Model = %q", cfg.Detector.Model)
	}
	if cfg.Detector.Confidence != 0.4 {
		t.Errorf("Confidence = %v", cfg.Detector.Confidence)
	}
	// Unset fields still get defaults.
	if cfg.Detector.IoUThreshold != 0.45 {
		t.Errorf("IoUThreshold = %v, want default 0.45", cfg.Detector.IoUThreshold)
	}
	if cfg.Detector.Timeout != 5*time.Minute {
		t.Errorf("Timeout = %v, want default 5m", cfg.Detector.Timeout)
	}
	if len(cfg.DefaultClasses) != 2 || cfg.DefaultClasses[1] != "bicycle" {
		t.Errorf("DefaultClasses = %v", cfg.DefaultClasses)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadConfigExpandsEndpointEnv(t *testing.T) {
	t.Setenv("DETECTOR_HOST", "inference.local")

	path := filepath.Join(t.TempDir(), "config.yml")
	content := "detector:\n  endpoint: http://${DETECTOR_HOST}:11434\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Detector.Endpoint != "http://inference.local:11434" {
		t.Errorf("Endpoint = %q", cfg.Detector.Endpoint)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Detector.Endpoint != "http://localhost:11434" {
		t.Errorf("Endpoint = %q", cfg.Detector.Endpoint)
	}
	if cfg.Detector.Model != "qwen2.5vl" {
		t.Errorf("Model = %q", cfg.Detector.Model)
	}
	if cfg.Detector.MaxImageDim != 1024 || cfg.Detector.JPEGQuality != 85 {
		t.Errorf("encoding defaults: %+v", cfg.Detector)
	}
}
