package store

import (
	"context"
	"fmt"

	"github.com/simdb-io/simdb/pkg/core"
)

// PutBaseline upserts one reference baseline envelope, keyed by
// device, scenario and signal path.
func (s *Store) PutBaseline(ctx context.Context, b core.Baseline) error {
	_, err := s.exec(ctx,
		`INSERT INTO baselines (device, scenario, path, mandatory, range_low, range_high, mean_low, mean_high, median_low, median_high, stdev_low, stdev_high)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (device, scenario, path) DO UPDATE SET
		     mandatory = excluded.mandatory,
		     range_low = excluded.range_low, range_high = excluded.range_high,
		     mean_low = excluded.mean_low, mean_high = excluded.mean_high,
		     median_low = excluded.median_low, median_high = excluded.median_high,
		     stdev_low = excluded.stdev_low, stdev_high = excluded.stdev_high`,
		b.Device, b.Scenario, b.Path, b.Mandatory,
		b.RangeLow, b.RangeHigh, b.MeanLow, b.MeanHigh, b.MedianLow, b.MedianHigh, b.StdevLow, b.StdevHigh,
	)
	if err != nil {
		return fmt.Errorf("failed to put baseline %s/%s/%s: %w", b.Device, b.Scenario, b.Path, err)
	}
	return nil
}

// GetBaselines returns the envelopes recorded for one device and
// scenario combination.
func (s *Store) GetBaselines(ctx context.Context, device, scenario string) ([]core.Baseline, error) {
	rows, err := s.query(ctx,
		`SELECT device, scenario, path, mandatory, range_low, range_high, mean_low, mean_high, median_low, median_high, stdev_low, stdev_high
		 FROM baselines WHERE device = ? AND scenario = ? ORDER BY path`,
		device, scenario,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load baselines: %w", err)
	}
	defer rows.Close()

	var baselines []core.Baseline
	for rows.Next() {
		var b core.Baseline
		if err := rows.Scan(&b.Device, &b.Scenario, &b.Path, &b.Mandatory,
			&b.RangeLow, &b.RangeHigh, &b.MeanLow, &b.MeanHigh,
			&b.MedianLow, &b.MedianHigh, &b.StdevLow, &b.StdevHigh); err != nil {
			return nil, fmt.Errorf("failed to scan baseline: %w", err)
		}
		baselines = append(baselines, b)
	}
	return baselines, rows.Err()
}

// DeleteBaselines drops every envelope for a device and scenario.
func (s *Store) DeleteBaselines(ctx context.Context, device, scenario string) error {
	_, err := s.exec(ctx,
		`DELETE FROM baselines WHERE device = ? AND scenario = ?`, device, scenario)
	if err != nil {
		return fmt.Errorf("failed to delete baselines: %w", err)
	}
	return nil
}
