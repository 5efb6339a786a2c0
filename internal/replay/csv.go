// Package replay feeds recorded measurement streams through filter sessions,
// one session per track, and records every step.
package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind selects the session call for a record.
type Kind string

const (
	KindUpdate  Kind = "update"
	KindPredict Kind = "predict"
)

// Record is one row of a replay stream:
//
//	track,time_s,kind,variance,z1..zM[,truth1..]
//
// Predict rows may leave variance and z empty. Truth columns are optional
// and hold either the full state or a measurement-space value.
type Record struct {
	Line     int
	Track    string
	Time     time.Time
	Kind     Kind
	Variance float64
	Value    []float64
	Truth    []float64
}

// ErrMalformed is returned for rows that cannot be parsed.
var ErrMalformed = errors.New("replay: malformed record")

// ReadCSV parses a replay stream with measurementDim z columns. A first row
// starting with "track" is treated as a header. Blank lines and lines
// starting with '#' are skipped.
func ReadCSV(r io.Reader, measurementDim int) ([]Record, error) {
	if measurementDim <= 0 {
		return nil, fmt.Errorf("measurement dimension must be positive, got %d", measurementDim)
	}
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var records []Record
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		line, _ := cr.FieldPos(0)
		if len(records) == 0 && strings.EqualFold(strings.TrimSpace(fields[0]), "track") {
			continue
		}
		rec, err := parseRecord(fields, measurementDim)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec.Line = line
		records = append(records, rec)
	}
	return records, nil
}

func parseRecord(fields []string, m int) (Record, error) {
	if len(fields) < 3 {
		return Record{}, fmt.Errorf("%w: want at least track,time_s,kind, got %d fields", ErrMalformed, len(fields))
	}
	rec := Record{Track: strings.TrimSpace(fields[0]), Kind: Kind(strings.ToLower(strings.TrimSpace(fields[2])))}
	if rec.Track == "" {
		return Record{}, fmt.Errorf("%w: empty track id", ErrMalformed)
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return Record{}, fmt.Errorf("%w: time_s %q", ErrMalformed, fields[1])
	}
	rec.Time = time.Unix(0, 0).UTC().Add(time.Duration(math.Round(secs * float64(time.Second))))

	rest := fields[3:]
	switch rec.Kind {
	case KindUpdate:
		if len(rest) < 1+m {
			return Record{}, fmt.Errorf("%w: update needs variance and %d values, got %d fields", ErrMalformed, m, len(rest))
		}
		if rec.Variance, err = parseFloat(rest[0]); err != nil {
			return Record{}, err
		}
		if !(rec.Variance > 0) {
			return Record{}, fmt.Errorf("%w: variance must be positive, got %v", ErrMalformed, rec.Variance)
		}
		if rec.Value, err = parseFloats(rest[1 : 1+m]); err != nil {
			return Record{}, err
		}
		rest = rest[1+m:]
	case KindPredict:
		// Variance and value columns are present but unused when the row
		// also carries truth.
		if len(rest) >= 1+m {
			rest = rest[1+m:]
		} else {
			rest = nil
		}
	default:
		return Record{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, rec.Kind)
	}

	if len(rest) > 0 {
		if rec.Truth, err = parseFloats(rest); err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := parseFloat(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not a finite number", ErrMalformed, s)
	}
	return v, nil
}
