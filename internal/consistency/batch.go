package consistency

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// NEESAverage returns the mean NEES of a batch of estimates against their
// true values. All slices must have the same non-zero length.
func NEESAverage(values, estimates []mat.Vector, covariances []mat.Symmetric) (float64, error) {
	if len(values) != len(estimates) || len(values) != len(covariances) {
		return 0, fmt.Errorf("%w: %d values, %d estimates, %d covariances",
			ErrDimensionMismatch, len(values), len(estimates), len(covariances))
	}
	if len(values) == 0 {
		return 0, ErrEmpty
	}
	nees := make([]float64, len(values))
	for i := range values {
		if values[i].Len() != estimates[i].Len() {
			return 0, fmt.Errorf("sample %d: %w: value has %d entries, estimate has %d",
				i, ErrDimensionMismatch, values[i].Len(), estimates[i].Len())
		}
		e := mat.NewVecDense(values[i].Len(), nil)
		e.SubVec(values[i], estimates[i])
		d2, err := Mahalanobis(e, covariances[i])
		if err != nil {
			return 0, fmt.Errorf("sample %d: %w", i, err)
		}
		nees[i] = d2
	}
	return stat.Mean(nees, nil), nil
}
