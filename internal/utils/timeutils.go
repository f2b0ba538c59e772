package utils

import (
	"fmt"
	"time"
)

// chunkIDLayout is the timestamp layout used in chunk identifiers,
// e.g. "2015_01_01_00_00_00T2015_01_01_12_00_00".
const chunkIDLayout = "2006_01_02_15_04_05"

// ChunkID builds the identifier for a time chunk from its bounds.
func ChunkID(start, end time.Time) string {
	return start.UTC().Format(chunkIDLayout) + "T" + end.UTC().Format(chunkIDLayout)
}

// ParseChunkID recovers the chunk bounds from a chunk identifier.
func ParseChunkID(id string) (start, end time.Time, err error) {
	if len(id) != 2*len(chunkIDLayout)+1 || id[len(chunkIDLayout)] != 'T' {
		return time.Time{}, time.Time{}, fmt.Errorf("malformed chunk id %q", id)
	}
	s := id[:len(chunkIDLayout)]
	e := id[len(chunkIDLayout)+1:]
	start, err = time.ParseInLocation(chunkIDLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse chunk start: %w", err)
	}
	end, err = time.ParseInLocation(chunkIDLayout, e, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse chunk end: %w", err)
	}
	return start, end, nil
}

// EpochSeconds converts a timestamp to float64 seconds since the Unix epoch,
// the convention used throughout the numeric layer.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromEpochSeconds converts float64 epoch seconds back to a UTC timestamp.
func FromEpochSeconds(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second))).UTC()
}
