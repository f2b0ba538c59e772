// Package archive persists correlation records and stacked waveforms in
// SQLite. Rewriting a unit after a crash replays the same keys, so every
// write is an upsert.
package archive

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	_ "modernc.org/sqlite"
)

// Archive is a SQLite-backed store shared by the correlation and stacking
// stages.
type Archive struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to an archive database file.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	a := &Archive{db: db, path: path}
	if err := a.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS correlations (
	chunk_id         TEXT NOT NULL,
	pair             TEXT NOT NULL,
	source_channel   TEXT NOT NULL,
	receiver_channel TEXT NOT NULL,
	component        TEXT NOT NULL,
	waveforms        BLOB NOT NULL,
	times            BLOB NOT NULL,
	ngood            BLOB NOT NULL,
	params           TEXT NOT NULL,
	PRIMARY KEY (chunk_id, pair, source_channel, receiver_channel)
);
CREATE INDEX IF NOT EXISTS idx_correlations_pair ON correlations(pair);

CREATE TABLE IF NOT EXISTS stacks (
	pair             TEXT NOT NULL,
	component        TEXT NOT NULL,
	label            TEXT NOT NULL,
	waveform         BLOB NOT NULL,
	time             REAL NOT NULL,
	ngood            INTEGER NOT NULL,
	station_source   TEXT NOT NULL,
	station_receiver TEXT NOT NULL,
	PRIMARY KEY (pair, component, label)
);`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("init archive schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Waveform blobs are little-endian float64 samples, 2-D sets prefixed with a
// pair of uint32 dimensions.

func encodeFloats(xs []float64) []byte {
	buf := make([]byte, 8*len(xs))
	for i, v := range xs {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeFloats(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("float blob length %d is not a multiple of 8", len(buf))
	}
	out := make([]float64, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return out, nil
}

func encodeWaveforms(waves [][]float64) []byte {
	npts := 0
	if len(waves) > 0 {
		npts = len(waves[0])
	}
	buf := make([]byte, 8, 8+8*len(waves)*npts)
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(waves)))
	binary.LittleEndian.PutUint32(buf[4:], uint32(npts))
	for _, w := range waves {
		buf = append(buf, encodeFloats(w)...)
	}
	return buf
}

func decodeWaveforms(buf []byte) ([][]float64, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("waveform blob too short: %d bytes", len(buf))
	}
	rows := int(binary.LittleEndian.Uint32(buf[0:]))
	npts := int(binary.LittleEndian.Uint32(buf[4:]))
	if len(buf) != 8+8*rows*npts {
		return nil, fmt.Errorf("waveform blob: %d bytes for %dx%d samples", len(buf), rows, npts)
	}
	out := make([][]float64, rows)
	offset := 8
	for i := range out {
		w, err := decodeFloats(buf[offset : offset+8*npts])
		if err != nil {
			return nil, err
		}
		out[i] = w
		offset += 8 * npts
	}
	return out, nil
}

func encodeInts(xs []int) []byte {
	buf := make([]byte, 8*len(xs))
	for i, v := range xs {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(int64(v)))
	}
	return buf
}

func decodeInts(buf []byte) ([]int, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("int blob length %d is not a multiple of 8", len(buf))
	}
	out := make([]int, len(buf)/8)
	for i := range out {
		out[i] = int(int64(binary.LittleEndian.Uint64(buf[8*i:])))
	}
	return out, nil
}
