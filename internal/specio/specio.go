// Package specio reads the pre-processed spectrum chunks produced by the
// upstream acquisition tooling: one gzip'd JSON file per time chunk holding
// every channel's half-spectra, quality stds and window times.
package specio

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ambientstack/noisecc/internal/models"
	"github.com/ambientstack/noisecc/internal/utils"
)

const chunkSuffix = ".specchunk.json.gz"

// Dir serves spectrum chunks from a flat directory of chunk files.
type Dir struct {
	path string
}

// NewDir validates that the data directory exists.
func NewDir(path string) (*Dir, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open spectrum dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("spectrum path %s is not a directory", path)
	}
	return &Dir{path: path}, nil
}

// Chunks lists the chunk IDs present in the directory, sorted so every worker
// sees the same unit order. Files whose name does not parse as a chunk time
// range are not chunks and are ignored.
func (d *Dir) Chunks(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("list spectrum dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, chunkSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, chunkSuffix)
		if _, _, err := utils.ParseChunkID(id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, ctx.Err()
}

// channelRecord is the on-disk shape of one channel: complex half-spectra are
// stored as parallel re/im arrays.
type channelRecord struct {
	Network   string  `json:"network"`
	Station   string  `json:"station"`
	Channel   string  `json:"channel"`
	Location  string  `json:"location"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation float64 `json:"elevation"`

	Re    [][]float64 `json:"re"`
	Im    [][]float64 `json:"im"`
	Std   []float64   `json:"std"`
	Times []float64   `json:"times"`
	Valid bool        `json:"valid"`
}

type chunkRecord struct {
	ChunkID  string          `json:"chunkId"`
	Channels []channelRecord `json:"channels"`
}

// LoadChunk reads and decodes one chunk file.
func (d *Dir) LoadChunk(ctx context.Context, chunkID string) ([]models.ChannelSpectrum, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(d.path, chunkID+chunkSuffix))
	if err != nil {
		return nil, fmt.Errorf("open chunk %s: %w", chunkID, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("decompress chunk %s: %w", chunkID, err)
	}
	defer gz.Close()

	var chunk chunkRecord
	if err := json.NewDecoder(gz).Decode(&chunk); err != nil {
		return nil, fmt.Errorf("decode chunk %s: %w", chunkID, err)
	}
	if chunk.ChunkID != "" && chunk.ChunkID != chunkID {
		return nil, fmt.Errorf("chunk file %s names itself %s", chunkID, chunk.ChunkID)
	}

	specs := make([]models.ChannelSpectrum, 0, len(chunk.Channels))
	for i, ch := range chunk.Channels {
		spec, err := ch.toSpectrum()
		if err != nil {
			return nil, fmt.Errorf("chunk %s channel %d: %w", chunkID, i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (ch *channelRecord) toSpectrum() (models.ChannelSpectrum, error) {
	if len(ch.Re) != len(ch.Im) {
		return models.ChannelSpectrum{}, fmt.Errorf("%d re windows vs %d im windows", len(ch.Re), len(ch.Im))
	}
	spectra := make([][]complex128, len(ch.Re))
	for w := range ch.Re {
		if len(ch.Re[w]) != len(ch.Im[w]) {
			return models.ChannelSpectrum{}, fmt.Errorf("window %d: %d re samples vs %d im samples",
				w, len(ch.Re[w]), len(ch.Im[w]))
		}
		win := make([]complex128, len(ch.Re[w]))
		for f := range win {
			win[f] = complex(ch.Re[w][f], ch.Im[w][f])
		}
		spectra[w] = win
	}
	return models.ChannelSpectrum{
		Meta: models.StationMeta{
			Network:   ch.Network,
			Station:   ch.Station,
			Channel:   ch.Channel,
			Location:  ch.Location,
			Latitude:  ch.Latitude,
			Longitude: ch.Longitude,
			Elevation: ch.Elevation,
		},
		Spectra: spectra,
		Std:     ch.Std,
		Times:   ch.Times,
		Valid:   ch.Valid,
	}, nil
}

// WriteChunk encodes one chunk file. The acquisition tooling is the usual
// producer; this writer backs tests and ad-hoc ingestion.
func WriteChunk(dir, chunkID string, specs []models.ChannelSpectrum) error {
	chunk := chunkRecord{ChunkID: chunkID, Channels: make([]channelRecord, 0, len(specs))}
	for _, spec := range specs {
		chunk.Channels = append(chunk.Channels, fromSpectrum(spec))
	}

	path := filepath.Join(dir, chunkID+chunkSuffix)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create chunk %s: %w", chunkID, err)
	}

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(&chunk); err != nil {
		f.Close()
		return fmt.Errorf("encode chunk %s: %w", chunkID, err)
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return fmt.Errorf("flush chunk %s: %w", chunkID, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close chunk %s: %w", chunkID, err)
	}
	return os.Rename(tmp, path)
}

func fromSpectrum(spec models.ChannelSpectrum) channelRecord {
	re := make([][]float64, len(spec.Spectra))
	im := make([][]float64, len(spec.Spectra))
	for w, win := range spec.Spectra {
		re[w] = make([]float64, len(win))
		im[w] = make([]float64, len(win))
		for f, v := range win {
			re[w][f] = real(v)
			im[w][f] = imag(v)
		}
	}
	return channelRecord{
		Network:   spec.Meta.Network,
		Station:   spec.Meta.Station,
		Channel:   spec.Meta.Channel,
		Location:  spec.Meta.Location,
		Latitude:  spec.Meta.Latitude,
		Longitude: spec.Meta.Longitude,
		Elevation: spec.Meta.Elevation,
		Re:        re,
		Im:        im,
		Std:       spec.Std,
		Times:     spec.Times,
		Valid:     spec.Valid,
	}
}
