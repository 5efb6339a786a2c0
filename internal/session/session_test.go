package session

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfilter/internal/config"
	"github.com/banshee-data/trackfilter/internal/kalman"
	"github.com/banshee-data/trackfilter/internal/models"
	"github.com/banshee-data/trackfilter/internal/monitoring"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(seconds float64) time.Time {
	return t0.Add(time.Duration(seconds * float64(time.Second)))
}

func cvModel(t *testing.T, q float64) *models.Kinematic {
	t.Helper()
	m, err := models.NewKinematic(models.OrderVelocity, 1, models.KinematicConfig{
		ProcessVariance:         q,
		InitialVelocityVariance: 100,
	})
	require.NoError(t, err)
	return m
}

func newSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s, err := New(cfg, cvModel(t, 0.01))
	require.NoError(t, err)
	return s
}

func update(t *testing.T, s *Session, seconds, z float64) Estimate {
	t.Helper()
	est, err := s.Update(Sample{Time: at(seconds), Value: []float64{z}, Variance: 1})
	require.NoError(t, err)
	return est
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, cvModel(t, 1))
	assert.True(t, errors.Is(err, kalman.ErrInvalidArgument))

	_, err = New(Config{ResetDt: time.Second, Theta: -1}, cvModel(t, 1))
	assert.True(t, errors.Is(err, kalman.ErrInvalidArgument))

	_, err = New(Config{ResetDt: time.Second}, nil)
	assert.True(t, errors.Is(err, kalman.ErrInvalidArgument))

	a := newSession(t, Config{ResetDt: time.Second})
	b := newSession(t, Config{ResetDt: time.Second})
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, StateEmpty, a.State())
	assert.Nil(t, a.X())
	assert.Nil(t, a.P())
}

func TestFirstUpdateInitializes(t *testing.T) {
	t.Parallel()

	s := newSession(t, Config{ResetDt: 5 * time.Second, LinearDt: time.Second})
	est := update(t, s, 0, 4)

	assert.Equal(t, StatusReinitialized, est.Status)
	assert.Equal(t, StateTracking, s.State())
	assert.Equal(t, []float64{4, 0}, est.X.RawVector().Data)
	assert.Equal(t, 1.0, est.P.At(0, 0))
	assert.Equal(t, 100.0, est.P.At(1, 1))
	assert.False(t, est.HasNIS)
}

func TestPredictOnEmptySessionSkips(t *testing.T) {
	t.Parallel()

	s := newSession(t, Config{ResetDt: 5 * time.Second})
	est, err := s.Predict(Sample{Time: at(1)})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, est.Status)
	assert.Nil(t, est.X)
	assert.Equal(t, StateEmpty, s.State())

	// A skipped predict does not claim the timeline.
	assert.Equal(t, StatusReinitialized, update(t, s, 0.5, 1).Status)
}

func TestPredictAdvancesState(t *testing.T) {
	t.Parallel()

	s := newSession(t, Config{ResetDt: 5 * time.Second})
	update(t, s, 0, 0)
	update(t, s, 1, 1)
	update(t, s, 2, 2)
	before := s.X()

	est, err := s.Predict(Sample{Time: at(3)})
	require.NoError(t, err)
	assert.Equal(t, StatusPredicted, est.Status)
	assert.InDelta(t, before.AtVec(0)+before.AtVec(1), est.X.AtVec(0), 1e-12)
	assert.Greater(t, est.P.At(0, 0), 0.0)

	// Predicting past ResetDt since the last update is skipped.
	est, err = s.Predict(Sample{Time: at(7)})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, est.Status)
}

func TestReinitialisationKeepsStatistics(t *testing.T) {
	t.Parallel()

	s := newSession(t, Config{ResetDt: 5 * time.Second, LinearDt: time.Second})
	update(t, s, 0, 0)
	_, err := s.Update(Sample{Time: at(1), Value: []float64{0.5}, Variance: 1, Truth: []float64{0.4}})
	require.NoError(t, err)
	require.Equal(t, 1, s.NEES().Count)
	require.Equal(t, 1, s.NIS().Count)

	est, err := s.Update(Sample{Time: at(6), Value: []float64{42}, Variance: 2, Truth: []float64{42}})
	require.NoError(t, err)
	assert.Equal(t, StatusReinitialized, est.Status)
	assert.Equal(t, []float64{42, 0}, est.X.RawVector().Data)
	assert.Equal(t, 2.0, est.P.At(0, 0))
	assert.False(t, est.HasNEES)
	assert.Equal(t, 1, s.NEES().Count)
	assert.Equal(t, 1, s.NIS().Count)
}

func TestTimeMustIncrease(t *testing.T) {
	t.Parallel()

	s := newSession(t, Config{ResetDt: 5 * time.Second})
	update(t, s, 0, 0)
	_, err := s.Predict(Sample{Time: at(2)})
	require.NoError(t, err)
	x, p := s.X(), s.P()

	tests := []struct {
		name string
		call func() error
	}{
		{"update at predict time", func() error {
			_, err := s.Update(Sample{Time: at(2), Value: []float64{1}, Variance: 1})
			return err
		}},
		{"update between update and predict", func() error {
			_, err := s.Update(Sample{Time: at(1), Value: []float64{1}, Variance: 1})
			return err
		}},
		{"predict in the past", func() error {
			_, err := s.Predict(Sample{Time: at(-1)})
			return err
		}},
	}
	for _, tt := range tests {
		err := tt.call()
		assert.True(t, errors.Is(err, ErrNonMonotonicTime), "%s: %v", tt.name, err)
	}
	assert.True(t, mat.Equal(x, s.X()))
	assert.True(t, mat.Equal(p, s.P()))
}

func TestGatedMeasurementsGoStale(t *testing.T) {
	t.Parallel()

	s := newSession(t, Config{ResetDt: 3 * time.Second, LinearDt: time.Second, Gate: 9.21})
	update(t, s, 0, 0)

	for _, sec := range []float64{1, 2} {
		est := update(t, s, sec, 1000)
		assert.Equal(t, StatusGated, est.Status, "t=%v", sec)
		assert.True(t, est.Outcome.Rejected())
		d2, ok := est.Outcome.GateDistance()
		assert.True(t, ok)
		assert.Greater(t, d2, 9.21)
		assert.InDelta(t, 0, est.X.AtVec(0), 1e-9)
	}
	assert.Equal(t, 0, s.NIS().Count)

	// lastUpdate is still t=0, so the track is stale at t=3.
	est := update(t, s, 3, 1000)
	assert.Equal(t, StatusReinitialized, est.Status)
	assert.Equal(t, 1000.0, est.X.AtVec(0))
}

func TestNISFoldedOnlyWithinLinearDt(t *testing.T) {
	t.Parallel()

	s := newSession(t, Config{ResetDt: 10 * time.Second, LinearDt: time.Second})
	update(t, s, 0, 0)

	assert.True(t, update(t, s, 1, 0.1).HasNIS)
	assert.False(t, update(t, s, 3, 0.2).HasNIS)
	assert.True(t, update(t, s, 3.5, 0.3).HasNIS)

	assert.Equal(t, 2, s.NIS().Count)
	assert.Equal(t, 1, s.NIS().DOF)
}

func TestTruthDimensions(t *testing.T) {
	t.Parallel()

	s := newSession(t, Config{ResetDt: 5 * time.Second})
	update(t, s, 0, 0)

	_, err := s.Update(Sample{Time: at(1), Value: []float64{0, 1}, Variance: 1})
	assert.True(t, errors.Is(err, kalman.ErrDimensionMismatch))

	_, err = s.Predict(Sample{Time: at(1), Truth: []float64{1, 2, 3}})
	assert.True(t, errors.Is(err, kalman.ErrDimensionMismatch))

	// Full-state truth.
	est, err := s.Predict(Sample{Time: at(1), Truth: []float64{0, 0}})
	require.NoError(t, err)
	assert.True(t, est.HasNEES)
	assert.Equal(t, 2, s.NEES().DOF)

	// The first sample fixed two degrees of freedom.
	_, err = s.Predict(Sample{Time: at(2), Truth: []float64{0}})
	assert.Error(t, err)
}

func TestResetReturnsToEmpty(t *testing.T) {
	t.Parallel()

	s := newSession(t, Config{ResetDt: 5 * time.Second, LinearDt: time.Second})
	update(t, s, 10, 0)
	update(t, s, 11, 0)
	s.Reset()

	assert.Equal(t, StateEmpty, s.State())
	assert.Nil(t, s.X())
	assert.Equal(t, 1, s.NIS().Count)

	// The timeline restarts after a reset.
	assert.Equal(t, StatusReinitialized, update(t, s, 0, 5).Status)
}

func TestHInfinitySession(t *testing.T) {
	t.Parallel()

	s := newSession(t, Config{ResetDt: 5 * time.Second, LinearDt: time.Second, Theta: 1e-3})
	update(t, s, 0, 0)
	for i := 1; i <= 20; i++ {
		est := update(t, s, float64(i), float64(i))
		require.Equal(t, StatusAccepted, est.Status)
	}
	assert.InDelta(t, 1.0, s.X().AtVec(1), 0.3)
}

// A correctly tuned constant-velocity filter on a trajectory drawn from the
// same model produces NEES and NIS means near their degrees of freedom.
func TestChiSquareCentering(t *testing.T) {
	t.Parallel()

	const (
		q       = 0.01
		r       = 9.0
		samples = 1000
	)
	model := cvModel(t, q)
	s, err := New(Config{ResetDt: 5 * time.Second, LinearDt: time.Second}, model)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(17, 23))
	pm := model.Process(time.Second)
	f := pm.Jacobian(nil)
	var chol mat.Cholesky
	require.True(t, chol.Factorize(pm.Q))
	var l mat.TriDense
	chol.LTo(&l)

	truth := mat.NewVecDense(2, []float64{0, 1})
	for i := 0; i < samples; i++ {
		if i > 0 {
			next := mat.NewVecDense(2, nil)
			next.MulVec(f, truth)
			w := mat.NewVecDense(2, []float64{rng.NormFloat64(), rng.NormFloat64()})
			noise := mat.NewVecDense(2, nil)
			noise.MulVec(&l, w)
			next.AddVec(next, noise)
			truth = next
		}
		z := truth.AtVec(0) + 3*rng.NormFloat64()
		var truthPos []float64
		if i > 0 {
			truthPos = []float64{truth.AtVec(0)}
		}
		_, err := s.Update(Sample{Time: at(float64(i)), Value: []float64{z}, Variance: r, Truth: truthPos})
		require.NoError(t, err, "sample %d", i)
	}

	nees := s.NEES()
	assert.Equal(t, samples-1, nees.Count)
	assert.Less(t, nees.Mean, 1.2)

	nis := s.NIS()
	assert.Equal(t, samples-1, nis.Count)
	assert.InDelta(t, 1.0, nis.Mean, 0.2)
	assert.Contains(t, s.CheckString(), "NEES:")
	assert.Contains(t, s.CheckString(), "NIS:")
}

func TestConfigFromTuning(t *testing.T) {
	t.Parallel()

	gate := 7.5
	theta := 0.02
	reset := "8s"
	cfg := &config.FilterConfig{Gate: &gate, Theta: &theta, ResetDt: &reset}

	got := ConfigFromTuning(cfg)
	assert.Equal(t, Config{ResetDt: 8 * time.Second, LinearDt: time.Second, Gate: 7.5, Theta: 0.02}, got)

	s, err := NewFromTuning(cfg)
	require.NoError(t, err)
	assert.Equal(t, got, s.Config())

	def := DefaultConfig()
	assert.Greater(t, def.Gate, 0.0)
	assert.Equal(t, 5*time.Second, def.ResetDt)
}

func TestGatingIsLoggedOnDiagStream(t *testing.T) {
	var diag bytes.Buffer
	monitoring.SetLogWriters(monitoring.LogWriters{Diag: &diag})
	defer monitoring.SetLogWriters(monitoring.LogWriters{Ops: os.Stderr})

	s := newSession(t, Config{ResetDt: 5 * time.Second, Gate: 1})
	update(t, s, 0, 0)
	update(t, s, 1, 500)

	assert.Contains(t, diag.String(), "initialising")
	assert.Contains(t, diag.String(), "gated")
}

func TestInfeasibleUpdateLeavesSessionUnchanged(t *testing.T) {
	t.Parallel()

	s := newSession(t, Config{ResetDt: 5 * time.Second, LinearDt: time.Second, Theta: 50})
	assert.Equal(t, StatusReinitialized, update(t, s, 0, 0).Status)
	x, p := s.X(), s.P()

	for attempt := 0; attempt < 2; attempt++ {
		_, err := s.Update(Sample{Time: at(1), Value: []float64{1}, Variance: 1})
		require.Error(t, err)
		assert.True(t, errors.Is(err, kalman.ErrHInfinityInfeasible), "attempt %d: %v", attempt, err)
		assert.False(t, errors.Is(err, ErrNonMonotonicTime), "attempt %d: %v", attempt, err)
		assert.True(t, mat.Equal(x, s.X()))
		assert.True(t, mat.Equal(p, s.P()))
	}

	// The prior is still anchored at t=0, so a later predict sees the full gap.
	est, err := s.Predict(Sample{Time: at(1)})
	require.NoError(t, err)
	assert.Greater(t, est.P.At(0, 0), p.At(0, 0))
}
