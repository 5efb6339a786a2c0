package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfilter/internal/config"
	"github.com/banshee-data/trackfilter/internal/consistency"
	"github.com/banshee-data/trackfilter/internal/kalman"
	"github.com/banshee-data/trackfilter/internal/models"
	"github.com/banshee-data/trackfilter/internal/monitoring"
)

// ErrNonMonotonicTime is returned when a sample timestamp does not strictly
// exceed the previous predict and update timestamps.
var ErrNonMonotonicTime = errors.New("session: non-monotonic time")

// State is the session lifecycle tag.
type State string

const (
	StateEmpty    State = "empty"    // no estimate yet, or after Reset
	StateTracking State = "tracking" // engine holds a valid estimate
)

// Status describes what a single call did.
type Status string

const (
	StatusReinitialized Status = "reinitialized"
	StatusAccepted      Status = "accepted"
	StatusGated         Status = "gated"
	StatusPredicted     Status = "predicted"
	StatusSkipped       Status = "skipped"
)

// Model supplies the process and measurement models to a session.
// *models.Kinematic implements it.
type Model interface {
	StateDim() int
	MeasurementDim() int
	ObservationMatrix() mat.Matrix
	Init(value []float64, variance float64) (*mat.VecDense, *mat.SymDense, error)
	Process(dt time.Duration) kalman.ProcessModel
	Measurement(value []float64, variance float64) (kalman.MeasurementModel, error)
}

// Config holds the session cadence and update options.
type Config struct {
	// ResetDt is the gap since the last accepted update at which the track
	// is considered stale and re-initialised.
	ResetDt time.Duration
	// LinearDt is the largest gap between accepted updates over which NIS
	// is still folded into the consistency statistics.
	LinearDt time.Duration
	// Gate is the squared Mahalanobis distance above which measurements are
	// rejected. Zero disables gating.
	Gate float64
	// Theta selects the H-infinity gain when positive.
	Theta float64
}

// DefaultConfig returns a Config from the canonical defaults file.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded FilterConfig.
func ConfigFromTuning(cfg *config.FilterConfig) Config {
	return Config{
		ResetDt:  cfg.GetResetDt(),
		LinearDt: cfg.GetLinearDt(),
		Gate:     cfg.GetGate(),
		Theta:    cfg.GetTheta(),
	}
}

func (c Config) validate() error {
	if c.ResetDt <= 0 {
		return fmt.Errorf("%w: reset dt must be positive, got %s", kalman.ErrInvalidArgument, c.ResetDt)
	}
	if c.LinearDt < 0 {
		return fmt.Errorf("%w: linear dt must be non-negative, got %s", kalman.ErrInvalidArgument, c.LinearDt)
	}
	return kalman.UpdateOptions{Theta: c.Theta, Gate: c.Gate}.Validate()
}

// Sample is one timestamped input. Value and Variance are ignored by
// Predict. Truth is optional; it is either a full state or a
// measurement-space value and feeds the NEES statistic.
type Sample struct {
	Time     time.Time
	Value    []float64
	Variance float64
	Truth    []float64
}

// Estimate reports the result of a single call.
type Estimate struct {
	Time    time.Time
	Status  Status
	X       *mat.VecDense // nil when skipped on an empty session
	P       *mat.SymDense
	Outcome kalman.Outcome

	NEES    float64
	HasNEES bool
	NIS     float64
	HasNIS  bool
}

// Session owns one engine and its consistency statistics. It is not safe
// for concurrent use.
type Session struct {
	id    string
	cfg   Config
	model Model

	state       State
	engine      *kalman.Engine
	lastPredict time.Time
	lastUpdate  time.Time

	nees *consistency.Accumulator
	nis  *consistency.Accumulator
}

// New returns an empty session.
func New(cfg Config, model Model) (*Session, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: nil model", kalman.ErrInvalidArgument)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	return &Session{
		id:    uuid.NewString(),
		cfg:   cfg,
		model: model,
		state: StateEmpty,
		nees:  consistency.NewAccumulator("NEES"),
		nis:   consistency.NewAccumulator("NIS"),
	}, nil
}

// NewFromTuning builds the kinematic model and session described by cfg.
func NewFromTuning(cfg *config.FilterConfig) (*Session, error) {
	model, err := models.NewKinematic(cfg.GetOrder(), cfg.GetDims(), cfg.KinematicConfig())
	if err != nil {
		return nil, err
	}
	return New(ConfigFromTuning(cfg), model)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the lifecycle tag.
func (s *Session) State() State { return s.state }

// Config returns the session configuration.
func (s *Session) Config() Config { return s.cfg }

// X returns a copy of the current state, or nil when empty.
func (s *Session) X() *mat.VecDense {
	if s.engine == nil {
		return nil
	}
	return s.engine.X()
}

// P returns a copy of the current covariance, or nil when empty.
func (s *Session) P() *mat.SymDense {
	if s.engine == nil {
		return nil
	}
	return s.engine.P()
}

// NEES returns a snapshot of the NEES statistic.
func (s *Session) NEES() consistency.Summary { return s.nees.Summary() }

// NIS returns a snapshot of the NIS statistic.
func (s *Session) NIS() consistency.Summary { return s.nis.Summary() }

// CheckString reports both consistency statistics.
func (s *Session) CheckString() string {
	return s.nees.CheckString() + s.nis.CheckString()
}

// Reset drops the estimate and timeline. Consistency statistics are kept.
// Callers use it to recover after a fatal engine error.
func (s *Session) Reset() {
	s.state = StateEmpty
	s.engine = nil
	s.lastPredict = time.Time{}
	s.lastUpdate = time.Time{}
	monitoring.Diagf("session %s: reset", s.id)
}

// Update fuses a measurement. An empty or stale session is re-initialised
// from the measurement instead. On error the session is left unchanged.
func (s *Session) Update(sample Sample) (Estimate, error) {
	if err := s.checkTime(sample.Time); err != nil {
		return Estimate{}, err
	}
	if len(sample.Value) != s.model.MeasurementDim() {
		return Estimate{}, fmt.Errorf("update: %w: value has %d entries, want %d",
			kalman.ErrDimensionMismatch, len(sample.Value), s.model.MeasurementDim())
	}
	if err := s.checkTruth(sample.Truth); err != nil {
		return Estimate{}, err
	}

	if s.stale(sample.Time) {
		return s.reinitialize(sample)
	}

	mm, err := s.model.Measurement(sample.Value, sample.Variance)
	if err != nil {
		return Estimate{}, err
	}
	// Predict and update run on a copy so that a failing update leaves the
	// session exactly as it was.
	engine := s.engine.Clone()
	if err := engine.Predict(s.model.Process(sample.Time.Sub(s.lastPredict))); err != nil {
		return Estimate{}, err
	}

	foldNIS := sample.Time.Sub(s.lastUpdate) <= s.cfg.LinearDt
	opts := kalman.UpdateOptions{
		Theta: s.cfg.Theta,
		Gate:  s.cfg.Gate,
		Want:  kalman.Diagnostics{NIS: foldNIS},
	}
	out, err := engine.Update(mm, opts)
	if err != nil {
		return Estimate{}, err
	}
	s.engine = engine
	s.lastPredict = sample.Time

	est := Estimate{Time: sample.Time, Outcome: out, X: engine.X(), P: engine.P()}
	if out.Rejected() {
		d2, _ := out.GateDistance()
		monitoring.Diagf("session %s: measurement at %s gated, d2=%.3f > %.3f",
			s.id, sample.Time.Format(time.RFC3339Nano), d2, s.cfg.Gate)
		est.Status = StatusGated
		return est, nil
	}

	s.lastUpdate = sample.Time
	est.Status = StatusAccepted
	if nis, ok := out.NIS(); ok {
		if err := s.nis.AddDistance(nis, s.model.MeasurementDim()); err != nil {
			return Estimate{}, err
		}
		est.NIS, est.HasNIS = nis, true
	}
	if err := s.foldNEES(&est, sample.Truth); err != nil {
		return Estimate{}, err
	}
	s.trace(est)
	return est, nil
}

// Predict advances a tracking session to the sample time. Empty or stale
// sessions are left untouched.
func (s *Session) Predict(sample Sample) (Estimate, error) {
	if err := s.checkTime(sample.Time); err != nil {
		return Estimate{}, err
	}
	if err := s.checkTruth(sample.Truth); err != nil {
		return Estimate{}, err
	}
	if s.stale(sample.Time) {
		return Estimate{Time: sample.Time, Status: StatusSkipped}, nil
	}

	if err := s.engine.Predict(s.model.Process(sample.Time.Sub(s.lastPredict))); err != nil {
		return Estimate{}, err
	}
	s.lastPredict = sample.Time

	est := Estimate{Time: sample.Time, Status: StatusPredicted, X: s.engine.X(), P: s.engine.P()}
	if err := s.foldNEES(&est, sample.Truth); err != nil {
		return Estimate{}, err
	}
	s.trace(est)
	return est, nil
}

func (s *Session) reinitialize(sample Sample) (Estimate, error) {
	x0, p0, err := s.model.Init(sample.Value, sample.Variance)
	if err != nil {
		return Estimate{}, err
	}
	engine, err := kalman.NewEngine(x0, p0)
	if err != nil {
		return Estimate{}, err
	}
	if s.state == StateTracking {
		monitoring.Diagf("session %s: stale after %s, reinitialising", s.id, sample.Time.Sub(s.lastUpdate))
	} else {
		monitoring.Diagf("session %s: initialising", s.id)
	}
	s.engine = engine
	s.state = StateTracking
	s.lastPredict = sample.Time
	s.lastUpdate = sample.Time

	est := Estimate{Time: sample.Time, Status: StatusReinitialized, X: engine.X(), P: engine.P()}
	s.trace(est)
	return est, nil
}

func (s *Session) stale(t time.Time) bool {
	return s.state == StateEmpty || t.Sub(s.lastUpdate) >= s.cfg.ResetDt
}

func (s *Session) checkTime(t time.Time) error {
	if s.state == StateEmpty && s.lastPredict.IsZero() && s.lastUpdate.IsZero() {
		return nil
	}
	if !t.After(s.lastPredict) || !t.After(s.lastUpdate) {
		return fmt.Errorf("%w: %s is not after predict %s and update %s", ErrNonMonotonicTime,
			t.Format(time.RFC3339Nano), s.lastPredict.Format(time.RFC3339Nano), s.lastUpdate.Format(time.RFC3339Nano))
	}
	return nil
}

func (s *Session) checkTruth(truth []float64) error {
	switch len(truth) {
	case 0, s.model.StateDim(), s.model.MeasurementDim():
		return nil
	}
	return fmt.Errorf("%w: truth has %d entries, want %d (state) or %d (measurement)",
		kalman.ErrDimensionMismatch, len(truth), s.model.StateDim(), s.model.MeasurementDim())
}

// foldNEES adds the estimation error against truth. A full-state truth is
// compared with (x, P); a measurement-space truth with (H·x, H·P·Hᵗ).
func (s *Session) foldNEES(est *Estimate, truth []float64) error {
	if len(truth) == 0 {
		return nil
	}
	x, p := est.X, est.P
	var (
		estimate mat.Vector    = x
		cov      mat.Symmetric = p
	)
	if len(truth) != x.Len() {
		h := s.model.ObservationMatrix()
		m, _ := h.Dims()
		hx := mat.NewVecDense(m, nil)
		hx.MulVec(h, x)
		var hp, hpht mat.Dense
		hp.Mul(h, p)
		hpht.Mul(&hp, h.T())
		proj := mat.NewSymDense(m, nil)
		for i := 0; i < m; i++ {
			for j := i; j < m; j++ {
				proj.SetSym(i, j, 0.5*(hpht.At(i, j)+hpht.At(j, i)))
			}
		}
		estimate, cov = hx, proj
	}

	e := mat.NewVecDense(len(truth), nil)
	e.SubVec(mat.NewVecDense(len(truth), append([]float64(nil), truth...)), estimate)
	d2, err := consistency.Mahalanobis(e, cov)
	if err != nil {
		return fmt.Errorf("nees: %w", err)
	}
	if err := s.nees.AddDistance(d2, len(truth)); err != nil {
		return err
	}
	est.NEES, est.HasNEES = d2, true
	return nil
}

func (s *Session) trace(est Estimate) {
	if !monitoring.TraceEnabled() || est.X == nil {
		return
	}
	monitoring.Tracef("session %s: %s at %s x=%v", s.id, est.Status,
		est.Time.Format(time.RFC3339Nano), est.X.RawVector().Data)
}
