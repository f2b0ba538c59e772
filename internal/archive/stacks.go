package archive

import (
	"context"
	"fmt"

	"github.com/ambientstack/noisecc/internal/models"
)

// SaveStacks upserts one pair's stacked waveforms in a single transaction.
func (a *Archive) SaveStacks(ctx context.Context, results []models.StackResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stack tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO stacks
	(pair, component, label, waveform, time, ngood, station_source, station_receiver)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (pair, component, label) DO UPDATE SET
	waveform         = excluded.waveform,
	time             = excluded.time,
	ngood            = excluded.ngood,
	station_source   = excluded.station_source,
	station_receiver = excluded.station_receiver`)
	if err != nil {
		return fmt.Errorf("prepare stack upsert: %w", err)
	}
	defer stmt.Close()

	for _, res := range results {
		_, err = stmt.ExecContext(ctx,
			res.Pair, res.Component, res.Label, encodeFloats(res.Waveform),
			res.Time, res.Ngood, res.StationSource, res.StationReceiver)
		if err != nil {
			return fmt.Errorf("upsert stack %s/%s/%s: %w", res.Pair, res.Component, res.Label, err)
		}
	}
	return tx.Commit()
}

// LoadStacks returns every stacked waveform for one station pair, ordered by
// component then label.
func (a *Archive) LoadStacks(ctx context.Context, pair string) ([]models.StackResult, error) {
	rows, err := a.db.QueryContext(ctx, `
SELECT pair, component, label, waveform, time, ngood, station_source, station_receiver
FROM stacks
WHERE pair = ?
ORDER BY component, label`, pair)
	if err != nil {
		return nil, fmt.Errorf("query stacks %s: %w", pair, err)
	}
	defer rows.Close()

	var results []models.StackResult
	for rows.Next() {
		var (
			res  models.StackResult
			wave []byte
		)
		if err := rows.Scan(&res.Pair, &res.Component, &res.Label, &wave,
			&res.Time, &res.Ngood, &res.StationSource, &res.StationReceiver); err != nil {
			return nil, fmt.Errorf("scan stacks %s: %w", pair, err)
		}
		if res.Waveform, err = decodeFloats(wave); err != nil {
			return nil, fmt.Errorf("decode stack %s/%s waveform: %w", pair, res.Component, err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
