package utils

import (
	"testing"
	"time"
)

func TestChunkIDRoundTrip(t *testing.T) {
	start := time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	id := ChunkID(start, end)
	if id != "2016_07_01_00_00_00T2016_07_02_00_00_00" {
		t.Fatalf("chunk id = %s", id)
	}

	gotStart, gotEnd, err := ParseChunkID(id)
	if err != nil {
		t.Fatalf("parse chunk id: %v", err)
	}
	if !gotStart.Equal(start) || !gotEnd.Equal(end) {
		t.Fatalf("round trip: %v / %v", gotStart, gotEnd)
	}
}

func TestParseChunkIDRejectsMalformed(t *testing.T) {
	for _, id := range []string{
		"",
		"2016_07_01_00_00_00",
		"2016_07_01_00_00_00X2016_07_02_00_00_00",
		"not_a_date_at_all_0Tnot_a_date_at_all_0",
	} {
		if _, _, err := ParseChunkID(id); err == nil {
			t.Fatalf("expected an error for %q", id)
		}
	}
}

func TestEpochSecondsRoundTrip(t *testing.T) {
	ts := time.Date(2016, 7, 1, 12, 30, 0, 0, time.UTC)
	sec := EpochSeconds(ts)
	if sec != 1467376200 {
		t.Fatalf("epoch seconds = %g", sec)
	}
	if got := FromEpochSeconds(sec); !got.Equal(ts) {
		t.Fatalf("round trip = %v, want %v", got, ts)
	}
}
