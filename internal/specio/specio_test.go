package specio

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ambientstack/noisecc/internal/models"
)

func sampleSpectrum() models.ChannelSpectrum {
	return models.ChannelSpectrum{
		Meta: models.StationMeta{
			Network: "TO", Station: "PASC", Channel: "HHZ",
			Latitude: 34.17, Longitude: -118.18, Elevation: 341,
		},
		Spectra: [][]complex128{
			{complex(1, -0.5), complex(0.25, 2)},
			{complex(-3, 0), complex(0, 1.5)},
		},
		Std:   []float64{1.2, 0.8},
		Times: []float64{1467331200, 1467333000},
		Valid: true,
	}
}

func TestChunkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := []models.ChannelSpectrum{sampleSpectrum()}
	if err := WriteChunk(dir, "2016_07_01_00_00_00T2016_07_02_00_00_00", want); err != nil {
		t.Fatalf("write chunk: %v", err)
	}

	d, err := NewDir(dir)
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	got, err := d.LoadChunk(context.Background(), "2016_07_01_00_00_00T2016_07_02_00_00_00")
	if err != nil {
		t.Fatalf("load chunk: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestChunksAreSorted(t *testing.T) {
	dir := t.TempDir()
	ids := []string{
		"2016_07_02_00_00_00T2016_07_03_00_00_00",
		"2016_07_01_00_00_00T2016_07_02_00_00_00",
	}
	for _, id := range ids {
		if err := WriteChunk(dir, id, []models.ChannelSpectrum{sampleSpectrum()}); err != nil {
			t.Fatalf("write chunk %s: %v", id, err)
		}
	}

	d, err := NewDir(dir)
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	got, err := d.Chunks(context.Background())
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	want := []string{ids[1], ids[0]}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("chunks = %v, want %v", got, want)
	}
}

func TestChunksIgnoreStrayFiles(t *testing.T) {
	dir := t.TempDir()
	if err := WriteChunk(dir, "2016_07_01_00_00_00T2016_07_02_00_00_00", []models.ChannelSpectrum{sampleSpectrum()}); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
	// A chunk file whose name is not a time range, and a non-chunk file.
	if err := WriteChunk(dir, "scratch", []models.ChannelSpectrum{sampleSpectrum()}); err != nil {
		t.Fatalf("write stray chunk: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	d, err := NewDir(dir)
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	got, err := d.Chunks(context.Background())
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(got) != 1 || got[0] != "2016_07_01_00_00_00T2016_07_02_00_00_00" {
		t.Fatalf("chunks = %v", got)
	}
}

func TestLoadChunkMissingFile(t *testing.T) {
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	if _, err := d.LoadChunk(context.Background(), "missing-chunk"); err == nil {
		t.Fatal("expected an error for an absent chunk file")
	}
}

func TestNewDirRejectsMissingPath(t *testing.T) {
	if _, err := NewDir("/nonexistent/spectra"); err == nil {
		t.Fatal("expected an error for a missing directory")
	}
}
