package db

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/banshee-data/trackfilter/internal/consistency"
)

// ConsistencyReport is the final NEES or NIS summary of one track.
type ConsistencyReport struct {
	RunID   string `json:"run_id"`
	TrackID string `json:"track_id"`
	consistency.Summary
}

// RecordReport inserts or replaces a track report.
func (db *DB) RecordReport(ctx context.Context, r ConsistencyReport) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO consistency_reports
			(run_id, track_id, statistic, dof, samples, mean, lower, upper, verdict)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.TrackID, r.Name, r.DOF, r.Count,
		finiteOrNull(r.Mean), finiteOrNull(r.Lower), finiteOrNull(r.Upper), string(r.Verdict),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s report for %s: %w", r.Name, r.TrackID, err)
	}
	return nil
}

// Reports returns every report of a run ordered by track and statistic.
func (db *DB) Reports(ctx context.Context, runID string) ([]ConsistencyReport, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, track_id, statistic, dof, samples, mean, lower, upper, verdict
		 FROM consistency_reports WHERE run_id = ? ORDER BY track_id, statistic`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []ConsistencyReport
	for rows.Next() {
		var (
			r                  ConsistencyReport
			mean, lower, upper sql.NullFloat64
			verdict            string
		)
		if err := rows.Scan(&r.RunID, &r.TrackID, &r.Name, &r.DOF, &r.Count,
			&mean, &lower, &upper, &verdict); err != nil {
			return nil, err
		}
		r.Mean, r.Lower, r.Upper = nanIfNull(mean), nanIfNull(lower), nanIfNull(upper)
		r.Verdict = consistency.Verdict(verdict)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func finiteOrNull(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func nanIfNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
