package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ambientstack/noisecc/internal/models"
)

// SaveCorrelations upserts one unit's correlation records in a single
// transaction. Replaying a unit overwrites its previous rows.
func (a *Archive) SaveCorrelations(ctx context.Context, records []models.CorrelationRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin correlation tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO correlations
	(chunk_id, pair, source_channel, receiver_channel, component, waveforms, times, ngood, params)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (chunk_id, pair, source_channel, receiver_channel) DO UPDATE SET
	component = excluded.component,
	waveforms = excluded.waveforms,
	times     = excluded.times,
	ngood     = excluded.ngood,
	params    = excluded.params`)
	if err != nil {
		return fmt.Errorf("prepare correlation upsert: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		rec := &records[i]
		if err := rec.Validate(); err != nil {
			return err
		}
		params, err := json.Marshal(rec.Params)
		if err != nil {
			return fmt.Errorf("encode correlation params: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			rec.ChunkID, rec.Pair, rec.SourceChannel, rec.ReceiverChannel, rec.Component,
			encodeWaveforms(rec.Waveforms), encodeFloats(rec.Times), encodeInts(rec.Ngood),
			string(params))
		if err != nil {
			return fmt.Errorf("upsert correlation %s/%s: %w", rec.Pair, rec.Component, err)
		}
	}
	return tx.Commit()
}

// Chunks returns the distinct chunk IDs present in the archive, ordered.
func (a *Archive) Chunks(ctx context.Context) ([]string, error) {
	return a.distinct(ctx, "SELECT DISTINCT chunk_id FROM correlations ORDER BY chunk_id")
}

// Pairs returns the distinct station pairs present in the archive, ordered.
// This is the stacking stage's unit list.
func (a *Archive) Pairs(ctx context.Context) ([]string, error) {
	return a.distinct(ctx, "SELECT DISTINCT pair FROM correlations ORDER BY pair")
}

func (a *Archive) distinct(ctx context.Context, query string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// LoadPair returns every correlation record for one station pair across all
// chunks, ordered by chunk then channel so stacking input is deterministic.
func (a *Archive) LoadPair(ctx context.Context, pair string) ([]models.CorrelationRecord, error) {
	rows, err := a.db.QueryContext(ctx, `
SELECT chunk_id, pair, source_channel, receiver_channel, component, waveforms, times, ngood, params
FROM correlations
WHERE pair = ?
ORDER BY chunk_id, source_channel, receiver_channel`, pair)
	if err != nil {
		return nil, fmt.Errorf("query pair %s: %w", pair, err)
	}
	defer rows.Close()

	var records []models.CorrelationRecord
	for rows.Next() {
		var (
			rec                      models.CorrelationRecord
			waves, timesBuf, ngood   []byte
			params                   string
		)
		if err := rows.Scan(&rec.ChunkID, &rec.Pair, &rec.SourceChannel, &rec.ReceiverChannel,
			&rec.Component, &waves, &timesBuf, &ngood, &params); err != nil {
			return nil, fmt.Errorf("scan pair %s: %w", pair, err)
		}
		if rec.Waveforms, err = decodeWaveforms(waves); err != nil {
			return nil, fmt.Errorf("decode pair %s waveforms: %w", pair, err)
		}
		if rec.Times, err = decodeFloats(timesBuf); err != nil {
			return nil, fmt.Errorf("decode pair %s times: %w", pair, err)
		}
		if rec.Ngood, err = decodeInts(ngood); err != nil {
			return nil, fmt.Errorf("decode pair %s ngood: %w", pair, err)
		}
		if err := json.Unmarshal([]byte(params), &rec.Params); err != nil {
			return nil, fmt.Errorf("decode pair %s params: %w", pair, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
