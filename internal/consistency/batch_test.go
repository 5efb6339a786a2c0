package consistency

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNEESAverage(t *testing.T) {
	t.Parallel()

	values := []mat.Vector{
		mat.NewVecDense(1, []float64{1}),
		mat.NewVecDense(1, []float64{3}),
	}
	estimates := []mat.Vector{
		mat.NewVecDense(1, []float64{0}),
		mat.NewVecDense(1, []float64{1}),
	}
	covs := []mat.Symmetric{
		mat.NewSymDense(1, []float64{1}),
		mat.NewSymDense(1, []float64{2}),
	}

	got, err := NEESAverage(values, estimates, covs)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, got, 1e-12)
}

func TestNEESAverageErrors(t *testing.T) {
	t.Parallel()

	one := []mat.Vector{mat.NewVecDense(1, []float64{1})}
	cov := []mat.Symmetric{mat.NewSymDense(1, []float64{1})}

	_, err := NEESAverage(nil, nil, nil)
	assert.True(t, errors.Is(err, ErrEmpty))

	_, err = NEESAverage(one, nil, cov)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	_, err = NEESAverage(one, []mat.Vector{mat.NewVecDense(2, nil)}, cov)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	_, err = NEESAverage(one, one, []mat.Symmetric{mat.NewSymDense(1, []float64{-1})})
	assert.True(t, errors.Is(err, ErrSingularCovariance))
}
