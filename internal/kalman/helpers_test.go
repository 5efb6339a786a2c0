package kalman

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func randomMatrix(rng *rand.Rand, r, c int) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(r, c, data)
}

// randomSPD returns A·Aᵗ + floor·I, which is symmetric positive definite.
func randomSPD(rng *rand.Rand, n int, floor float64) *mat.SymDense {
	a := randomMatrix(rng, n, n)
	s := mat.NewSymDense(n, nil)
	s.SymOuterK(1, a)
	for i := 0; i < n; i++ {
		s.SetSym(i, i, s.At(i, i)+floor)
	}
	return s
}

func randomVector(rng *rand.Rand, n int) *mat.VecDense {
	v := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		v.SetVec(i, rng.NormFloat64())
	}
	return v
}

// constantVelocity returns the 1-D constant-velocity model for a step dt
// with white acceleration of spectral density q.
func constantVelocity(dt, q float64) ProcessModel {
	f := mat.NewDense(2, 2, []float64{
		1, dt,
		0, 1,
	})
	qm := mat.NewSymDense(2, []float64{
		q * dt * dt * dt / 3, q * dt * dt / 2,
		q * dt * dt / 2, q * dt,
	})
	return ProcessModel{Jacobian: Constant(f), Q: qm}
}

func positionMeasurement(z, variance float64) MeasurementModel {
	return MeasurementModel{
		Jacobian: Constant(mat.NewDense(1, 2, []float64{1, 0})),
		R:        mat.NewSymDense(1, []float64{variance}),
		Z:        mat.NewVecDense(1, []float64{z}),
	}
}

func requireSPD(t *testing.T, p mat.Symmetric) {
	t.Helper()
	var chol mat.Cholesky
	require.True(t, chol.Factorize(p), "covariance is not positive definite:\n%v", mat.Formatted(p))
}
