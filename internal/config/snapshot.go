package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Snapshot is the parameter set a stage coordinator persists for the next
// stage, so downstream runs recover sampling and windowing parameters without
// re-specifying them.
type Snapshot struct {
	RunID       string            `yaml:"runID"`
	Stage       string            `yaml:"stage"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Stacking    StackingConfig    `yaml:"stacking"`
	Rotation    RotationConfig    `yaml:"rotation"`
}

// NewSnapshot builds a snapshot for a stage from the active configuration.
func NewSnapshot(stage string, cfg *Config) Snapshot {
	return Snapshot{
		RunID:       uuid.NewString(),
		Stage:       stage,
		Correlation: cfg.Correlation,
		Stacking:    cfg.Stacking,
		Rotation:    cfg.Rotation,
	}
}

// WriteSnapshot persists the snapshot atomically under dir.
func WriteSnapshot(dir string, snap Snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	final := filepath.Join(dir, snapshotName(snap.Stage))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot loads the snapshot a prior stage left under dir.
func ReadSnapshot(dir, stage string) (Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, snapshotName(stage)))
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s snapshot: %w", stage, err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parse %s snapshot: %w", stage, err)
	}
	return snap, nil
}

func snapshotName(stage string) string {
	return stage + "_meta.yaml"
}
