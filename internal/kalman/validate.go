package kalman

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Validate checks the post-condition of every predict and update: x and P
// are finite and P is positive definite. The returned error wraps
// ErrNumericalDivergence and names the caller via label.
func Validate(label string, x mat.Vector, p mat.Symmetric) error {
	for i := 0; i < x.Len(); i++ {
		if v := x.AtVec(i); !isFinite(v) {
			return fmt.Errorf("%s: %w: state[%d] = %v", label, ErrNumericalDivergence, i, v)
		}
	}
	n := p.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if v := p.At(i, j); !isFinite(v) {
				return fmt.Errorf("%s: %w: covariance[%d,%d] = %v", label, ErrNumericalDivergence, i, j, v)
			}
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(p) {
		return fmt.Errorf("%s: %w: covariance is not positive definite", label, ErrNumericalDivergence)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
