package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Step is one recorded session call.
type Step struct {
	RunID     string
	TrackID   string
	SessionID string
	Seq       int
	Time      time.Time
	Kind      string // update or predict
	Status    string
	State     []float64 // nil when the session was empty
	Variance  []float64 // diagonal of P
	NEES      *float64
	NIS       *float64
	GateDist  *float64
}

// RecordSteps inserts steps in one transaction.
func (db *DB) RecordSteps(ctx context.Context, steps []Step) error {
	if len(steps) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO filter_steps (run_id, track_id, session_id, seq, time_unix_ns, kind, status,
			state_json, variance_json, nees, nis, gate_distance)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range steps {
		state, err := encodeFloats(s.State)
		if err != nil {
			return err
		}
		variance, err := encodeFloats(s.Variance)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			s.RunID, s.TrackID, s.SessionID, s.Seq, s.Time.UnixNano(), s.Kind, s.Status,
			state, variance, nullFloat(s.NEES), nullFloat(s.NIS), nullFloat(s.GateDist),
		); err != nil {
			return fmt.Errorf("failed to record step %s/%d: %w", s.TrackID, s.Seq, err)
		}
	}
	return tx.Commit()
}

// Steps returns the steps of one track in sequence order.
func (db *DB) Steps(ctx context.Context, runID, trackID string) ([]Step, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, track_id, session_id, seq, time_unix_ns, kind, status,
			state_json, variance_json, nees, nis, gate_distance
		 FROM filter_steps WHERE run_id = ? AND track_id = ? ORDER BY seq`, runID, trackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var (
			s                 Step
			ns                int64
			state, variance   sql.NullString
			nees, nis, gateD2 sql.NullFloat64
		)
		if err := rows.Scan(&s.RunID, &s.TrackID, &s.SessionID, &s.Seq, &ns, &s.Kind, &s.Status,
			&state, &variance, &nees, &nis, &gateD2); err != nil {
			return nil, err
		}
		s.Time = time.Unix(0, ns)
		if s.State, err = decodeFloats(state); err != nil {
			return nil, err
		}
		if s.Variance, err = decodeFloats(variance); err != nil {
			return nil, err
		}
		s.NEES = floatPtr(nees)
		s.NIS = floatPtr(nis)
		s.GateDist = floatPtr(gateD2)
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// TrackIDs returns the distinct track ids of a run.
func (db *DB) TrackIDs(ctx context.Context, runID string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT track_id FROM filter_steps WHERE run_id = ? ORDER BY track_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func encodeFloats(v []float64) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeFloats(s sql.NullString) ([]float64, error) {
	if !s.Valid {
		return nil, nil
	}
	var v []float64
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", s.String, err)
	}
	return v, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
