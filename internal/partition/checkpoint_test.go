package partition

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckpointMarkAndQuery(t *testing.T) {
	cp, err := NewCheckpoints(nil, t.TempDir(), "run-1")
	if err != nil {
		t.Fatalf("new checkpoints: %v", err)
	}

	if cp.Done("correlate", "2016_07_01_00_00_00T2016_07_02_00_00_00") {
		t.Fatal("unit must not be done before marking")
	}
	if err := cp.MarkDone("correlate", "2016_07_01_00_00_00T2016_07_02_00_00_00"); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if !cp.Done("correlate", "2016_07_01_00_00_00T2016_07_02_00_00_00") {
		t.Fatal("unit must be done after marking")
	}

	// Markers are namespaced by stage and unit.
	if cp.Done("stack", "2016_07_01_00_00_00T2016_07_02_00_00_00") {
		t.Fatal("another stage must not see the marker")
	}
	if cp.Done("correlate", "TO.PASC_TO.RPV") {
		t.Fatal("another unit must not see the marker")
	}
}

func TestCheckpointMarkDoneIsIdempotent(t *testing.T) {
	cp, err := NewCheckpoints(nil, t.TempDir(), "run-1")
	if err != nil {
		t.Fatalf("new checkpoints: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := cp.MarkDone("stack", "TO.PASC_TO.RPV"); err != nil {
			t.Fatalf("mark done attempt %d: %v", i+1, err)
		}
	}
	if !cp.Done("stack", "TO.PASC_TO.RPV") {
		t.Fatal("unit must stay done after repeated marking")
	}
}

func TestCheckpointCorruptMarkerMeansRedo(t *testing.T) {
	dir := t.TempDir()
	cp, err := NewCheckpoints(nil, dir, "run-1")
	if err != nil {
		t.Fatalf("new checkpoints: %v", err)
	}
	if err := cp.MarkDone("correlate", "chunk-a"); err != nil {
		t.Fatalf("mark done: %v", err)
	}

	path := filepath.Join(dir, "correlate_chunk-a.done.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatalf("corrupt marker: %v", err)
	}
	if cp.Done("correlate", "chunk-a") {
		t.Fatal("a corrupt marker must not count as done")
	}

	// A marker whose payload names a different unit is also rejected.
	if err := os.WriteFile(path, []byte(`{"unit":"chunk-b","stage":"correlate"}`), 0o644); err != nil {
		t.Fatalf("rewrite marker: %v", err)
	}
	if cp.Done("correlate", "chunk-a") {
		t.Fatal("a mismatched marker must not count as done")
	}
}
