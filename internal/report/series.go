// Package report renders NEES/NIS traces of replay runs as PNG plots
// (gonum/plot) and interactive HTML charts (go-echarts).
package report

import (
	"sort"

	"github.com/banshee-data/trackfilter/internal/consistency"
	"github.com/banshee-data/trackfilter/internal/db"
)

// Point is one statistic sample: seconds since the first step of the track
// against the squared distance.
type Point struct {
	X, Y float64
}

// Series is the trace of one statistic for one track together with its
// final summary.
type Series struct {
	TrackID string
	Name    string // NEES or NIS
	Points  []Point
	Summary consistency.Summary
}

// FromSteps builds the NEES and NIS series of one track from its recorded
// steps and reports. Series without samples are omitted.
func FromSteps(trackID string, steps []db.Step, reports []db.ConsistencyReport) []Series {
	nees := Series{TrackID: trackID, Name: "NEES"}
	nis := Series{TrackID: trackID, Name: "NIS"}
	for _, r := range reports {
		if r.TrackID != trackID {
			continue
		}
		switch r.Name {
		case nees.Name:
			nees.Summary = r.Summary
		case nis.Name:
			nis.Summary = r.Summary
		}
	}

	if len(steps) > 0 {
		origin := steps[0].Time
		for _, s := range steps {
			x := s.Time.Sub(origin).Seconds()
			if s.NEES != nil {
				nees.Points = append(nees.Points, Point{X: x, Y: *s.NEES})
			}
			if s.NIS != nil {
				nis.Points = append(nis.Points, Point{X: x, Y: *s.NIS})
			}
		}
	}

	var out []Series
	for _, s := range []Series{nees, nis} {
		if len(s.Points) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// byName groups series by statistic name in a stable order.
func byName(series []Series) ([]string, map[string][]Series) {
	groups := make(map[string][]Series)
	for _, s := range series {
		groups[s.Name] = append(groups[s.Name], s)
	}
	names := make([]string, 0, len(groups))
	for name, g := range groups {
		sort.Slice(g, func(i, j int) bool { return g[i].TrackID < g[j].TrackID })
		names = append(names, name)
	}
	sort.Strings(names)
	return names, groups
}
