package partition

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Marker is the durable completion record for one work unit. It replaces
// bare sentinel files so a resume can tell who finished the unit and when.
type Marker struct {
	Unit        string    `json:"unit"`
	Stage       string    `json:"stage"`
	Done        bool      `json:"done"`
	RunID       string    `json:"runId"`
	CompletedAt time.Time `json:"completedAt"`
}

// Checkpoints persists and queries completion markers under one directory.
// Markers are written atomically so a crash mid-write never leaves a unit
// looking finished.
type Checkpoints struct {
	logger *slog.Logger
	dir    string
	runID  string
}

// NewCheckpoints creates the marker directory if needed.
func NewCheckpoints(logger *slog.Logger, dir, runID string) (*Checkpoints, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Checkpoints{logger: logger, dir: dir, runID: runID}, nil
}

func (c *Checkpoints) markerPath(stage, unit string) string {
	return filepath.Join(c.dir, stage+"_"+unit+".done.json")
}

// Done reports whether a unit has a valid completion marker. An absent or
// unreadable marker means the unit is redone; redoing is idempotent.
func (c *Checkpoints) Done(stage, unit string) bool {
	raw, err := os.ReadFile(c.markerPath(stage, unit))
	if err != nil {
		return false
	}
	var m Marker
	if err := json.Unmarshal(raw, &m); err != nil || !m.Done || m.Unit != unit || m.Stage != stage {
		c.logger.Warn("ignoring corrupt checkpoint marker",
			slog.String("stage", stage),
			slog.String("unit", unit))
		return false
	}
	return true
}

// MarkDone records a unit's completion. The marker is written to a temp file
// and renamed into place.
func (c *Checkpoints) MarkDone(stage, unit string) error {
	m := Marker{Unit: unit, Stage: stage, Done: true, RunID: c.runID, CompletedAt: time.Now().UTC()}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode checkpoint marker: %w", err)
	}

	path := c.markerPath(stage, unit)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write checkpoint marker: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit checkpoint marker: %w", err)
	}
	return nil
}
