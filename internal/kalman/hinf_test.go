package kalman

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestHInfinityInfeasibleAboveLargestEigenvalue(t *testing.T) {
	t.Parallel()

	// P⁻¹ + HᵗR⁻¹H = diag(1.5, 2), so any theta at or above 1.5 is infeasible.
	x0 := mat.NewVecDense(2, []float64{1, 1})
	p0 := mat.NewSymDense(2, []float64{2, 0, 0, 0.5})
	e, err := NewEngine(x0, p0)
	require.NoError(t, err)

	_, err = e.Update(positionMeasurement(2, 1), UpdateOptions{Theta: 2.5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHInfinityInfeasible))
	assert.True(t, mat.Equal(x0, e.X()))
	assert.True(t, mat.Equal(p0, e.P()))
}

func TestHInfinityGainClosedForm(t *testing.T) {
	t.Parallel()

	p := mat.NewSymDense(2, []float64{2, 0, 0, 0.5})
	h := mat.NewDense(1, 2, []float64{1, 0})
	htri, err := hTransposeRInverse(h, mat.NewSymDense(1, []float64{1}))
	require.NoError(t, err)

	k, err := HInfinityGain(0.1, p, h, htri)
	require.NoError(t, err)

	// Scalar observed block: K = p / (1 − θp + p).
	assert.InDelta(t, 2/2.8, k.At(0, 0), 1e-12)
	assert.InDelta(t, 0, k.At(1, 0), 1e-12)
}

func TestHInfinityIsMoreConservative(t *testing.T) {
	t.Parallel()

	x0 := mat.NewVecDense(2, []float64{1, 1})
	p0 := mat.NewSymDense(2, []float64{2, 0, 0, 0.5})

	robust, err := NewEngine(x0, p0)
	require.NoError(t, err)
	_, err = robust.Update(positionMeasurement(2, 1), UpdateOptions{Theta: 0.1})
	require.NoError(t, err)

	standard, err := NewEngine(x0, p0)
	require.NoError(t, err)
	_, err = standard.Update(positionMeasurement(2, 1), UpdateOptions{})
	require.NoError(t, err)

	assert.InDelta(t, 2.0/3.0, standard.P().At(0, 0), 1e-12)
	assert.Greater(t, robust.P().At(0, 0), standard.P().At(0, 0))
	requireSPD(t, robust.P())
}

func TestHInfinityApproachesStandardGain(t *testing.T) {
	t.Parallel()
	rng := newRand(5)

	for trial := 0; trial < 20; trial++ {
		n, m := 4, 2
		p := randomSPD(rng, n, 0.5)
		h := randomMatrix(rng, m, n)
		r := randomSPD(rng, m, 0.5)

		htri, err := hTransposeRInverse(h, r)
		require.NoError(t, err)
		robust, err := HInfinityGain(1e-10, p, h, htri)
		require.NoError(t, err)

		var pht mat.Dense
		pht.Mul(p, h.T())
		innov, err := newInnovation(h, &pht, r)
		require.NoError(t, err)
		standard := innov.gain(&pht)

		assert.True(t, mat.EqualApprox(robust, standard, 1e-6), "trial %d", trial)
	}
}

func TestHInfinityKeepsDiagnostics(t *testing.T) {
	t.Parallel()

	e, err := NewEngine(mat.NewVecDense(2, []float64{0, 0}), mat.NewSymDense(2, []float64{4, 0, 0, 1}))
	require.NoError(t, err)

	out, err := e.Update(positionMeasurement(3, 5), UpdateOptions{Theta: 0.05, Want: Diagnostics{NIS: true}})
	require.NoError(t, err)
	nis, ok := out.NIS()
	require.True(t, ok)
	assert.InDelta(t, 1.0, nis, 1e-12)
}

func TestHInfinityArgumentChecks(t *testing.T) {
	t.Parallel()

	p := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	h := mat.NewDense(1, 2, []float64{1, 0})
	htri := mat.NewDense(2, 1, []float64{1, 0})

	_, err := HInfinityGain(0, p, h, htri)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = HInfinityGain(0.1, p, h, mat.NewDense(1, 1, []float64{1}))
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	_, err = hTransposeRInverse(h, mat.NewSymDense(1, []float64{0}))
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}
