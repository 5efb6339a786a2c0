package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/trackfilter/internal/config"
	"github.com/banshee-data/trackfilter/internal/db"
	"github.com/banshee-data/trackfilter/internal/kalman"
	"github.com/banshee-data/trackfilter/internal/monitoring"
	"github.com/banshee-data/trackfilter/internal/report"
	"github.com/banshee-data/trackfilter/internal/session"
	"github.com/banshee-data/trackfilter/internal/timeutil"
)

// stepBatch is the number of steps buffered per track before a write.
const stepBatch = 256

// StatusReset marks a step whose engine failed numerically; the session was
// reset and the next update re-initialises it.
const StatusReset = "reset"

// Options configures a Runner.
type Options struct {
	Config *config.FilterConfig
	// Store receives the run, its steps and reports. Optional.
	Store *db.DB
	Label string
	// Clock and Speed pace the replay; Speed <= 0 replays as fast as possible.
	Clock timeutil.Clock
	Speed float64
	// MaxConcurrency bounds the number of tracks processed at once; zero
	// means unbounded.
	MaxConcurrency int
}

// TrackResult summarises one replayed track.
type TrackResult struct {
	TrackID     string
	SessionID   string
	Steps       int
	Counts      map[string]int // steps per status
	Resets      int
	CheckString string
	Series      []report.Series
}

// Result summarises a replay run.
type Result struct {
	RunID  string
	Tracks []TrackResult
}

// Series returns the series of every track.
func (r *Result) Series() []report.Series {
	var out []report.Series
	for _, t := range r.Tracks {
		out = append(out, t.Series...)
	}
	return out
}

// Runner replays records through one session per track.
type Runner struct {
	opts Options
}

// NewRunner validates opts and returns a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Config == nil {
		return nil, errors.New("replay: nil filter config")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Runner{opts: opts}, nil
}

// Run replays records. Tracks run concurrently, each owning its session;
// records of one track are processed in input order. The first fatal error
// cancels the remaining tracks.
func (r *Runner) Run(ctx context.Context, records []Record) (*Result, error) {
	tracks, order := groupByTrack(records)
	res := &Result{}

	if r.opts.Store != nil {
		cfgJSON, err := json.Marshal(r.opts.Config)
		if err != nil {
			return nil, err
		}
		run := &db.Run{
			Label:      r.opts.Label,
			Model:      r.opts.Config.GetModel(),
			Dims:       r.opts.Config.GetDims(),
			ConfigJSON: string(cfgJSON),
		}
		if err := r.opts.Store.CreateRun(ctx, run); err != nil {
			return nil, err
		}
		res.RunID = run.ID
	}

	var origin time.Time
	if len(records) > 0 {
		origin = records[0].Time
		for _, rec := range records {
			if rec.Time.Before(origin) {
				origin = rec.Time
			}
		}
	}
	monitoring.Opsf("replay: %d records, %d tracks, model=%s dims=%d",
		len(records), len(order), r.opts.Config.GetModel(), r.opts.Config.GetDims())

	var (
		mu      sync.Mutex
		results = make(map[string]TrackResult, len(order))
	)
	g, gctx := errgroup.WithContext(ctx)
	if r.opts.MaxConcurrency > 0 {
		g.SetLimit(r.opts.MaxConcurrency)
	}
	for _, id := range order {
		g.Go(func() error {
			tr, err := r.runTrack(gctx, res.RunID, id, origin, tracks[id])
			if err != nil {
				return fmt.Errorf("track %s: %w", id, err)
			}
			mu.Lock()
			results[id] = tr
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, id := range order {
		res.Tracks = append(res.Tracks, results[id])
	}
	sort.Slice(res.Tracks, func(i, j int) bool { return res.Tracks[i].TrackID < res.Tracks[j].TrackID })

	if r.opts.Store != nil {
		if err := r.opts.Store.FinishRun(ctx, res.RunID, time.Now()); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r *Runner) runTrack(ctx context.Context, runID, trackID string, origin time.Time, records []Record) (TrackResult, error) {
	s, err := session.NewFromTuning(r.opts.Config)
	if err != nil {
		return TrackResult{}, err
	}
	pacer := timeutil.NewPacer(r.opts.Clock, r.opts.Speed)
	if err := pacer.Wait(ctx, origin); err != nil {
		return TrackResult{}, err
	}

	tr := TrackResult{TrackID: trackID, SessionID: s.ID(), Counts: make(map[string]int)}
	nees := report.Series{TrackID: trackID, Name: "NEES"}
	nis := report.Series{TrackID: trackID, Name: "NIS"}
	var pending []db.Step

	flush := func() error {
		if r.opts.Store == nil || len(pending) == 0 {
			pending = pending[:0]
			return nil
		}
		err := r.opts.Store.RecordSteps(ctx, pending)
		pending = pending[:0]
		return err
	}

	for seq, rec := range records {
		if err := pacer.Wait(ctx, rec.Time); err != nil {
			return TrackResult{}, err
		}
		sample := session.Sample{Time: rec.Time, Value: rec.Value, Variance: rec.Variance, Truth: rec.Truth}

		var est session.Estimate
		if rec.Kind == KindUpdate {
			est, err = s.Update(sample)
		} else {
			est, err = s.Predict(sample)
		}

		step := db.Step{
			RunID:     runID,
			TrackID:   trackID,
			SessionID: s.ID(),
			Seq:       seq,
			Time:      rec.Time,
			Kind:      string(rec.Kind),
		}
		switch {
		case err == nil:
			step.Status = string(est.Status)
			fillStep(&step, est)
		case errors.Is(err, kalman.ErrNumericalDivergence) || errors.Is(err, kalman.ErrHInfinityInfeasible):
			monitoring.Opsf("track %s line %d: %v; resetting session", trackID, rec.Line, err)
			s.Reset()
			tr.Resets++
			step.Status = StatusReset
		default:
			return TrackResult{}, fmt.Errorf("line %d: %w", rec.Line, err)
		}

		x := rec.Time.Sub(origin).Seconds()
		if step.NEES != nil {
			nees.Points = append(nees.Points, report.Point{X: x, Y: *step.NEES})
		}
		if step.NIS != nil {
			nis.Points = append(nis.Points, report.Point{X: x, Y: *step.NIS})
		}
		tr.Steps++
		tr.Counts[step.Status]++

		pending = append(pending, step)
		if len(pending) >= stepBatch {
			if err := flush(); err != nil {
				return TrackResult{}, err
			}
		}
	}
	if err := flush(); err != nil {
		return TrackResult{}, err
	}

	nees.Summary, nis.Summary = s.NEES(), s.NIS()
	for _, series := range []report.Series{nees, nis} {
		if len(series.Points) > 0 {
			tr.Series = append(tr.Series, series)
		}
		if r.opts.Store != nil {
			rep := db.ConsistencyReport{RunID: runID, TrackID: trackID, Summary: series.Summary}
			if err := r.opts.Store.RecordReport(ctx, rep); err != nil {
				return TrackResult{}, err
			}
		}
	}
	tr.CheckString = s.CheckString()
	monitoring.Diagf("track %s done: %d steps, %d resets\n%s", trackID, tr.Steps, tr.Resets, tr.CheckString)
	return tr, nil
}

func fillStep(step *db.Step, est session.Estimate) {
	if est.X != nil {
		step.State = append([]float64(nil), est.X.RawVector().Data...)
		n := est.P.SymmetricDim()
		step.Variance = make([]float64, n)
		for i := 0; i < n; i++ {
			step.Variance[i] = est.P.At(i, i)
		}
	}
	if est.HasNEES {
		v := est.NEES
		step.NEES = &v
	}
	if est.HasNIS {
		v := est.NIS
		step.NIS = &v
	}
	if d2, ok := est.Outcome.GateDistance(); ok {
		step.GateDist = &d2
	}
}

// groupByTrack splits records per track, keeping input order within a track
// and first-seen order across tracks.
func groupByTrack(records []Record) (map[string][]Record, []string) {
	tracks := make(map[string][]Record)
	var order []string
	for _, rec := range records {
		if _, ok := tracks[rec.Track]; !ok {
			order = append(order, rec.Track)
		}
		tracks[rec.Track] = append(tracks[rec.Track], rec)
	}
	return tracks, order
}
