package kalman

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

func eye(n int) *mat.Dense {
	result := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		result.Set(i, i, 1.0)
	}
	return result
}

// symmetrize returns (A + Aᵗ)/2 as a SymDense. Rounding in the covariance
// products leaves A only approximately symmetric.
func symmetrize(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}

func copySym(a mat.Symmetric) *mat.SymDense {
	n := a.SymmetricDim()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, a.At(i, j))
		}
	}
	return s
}

// invertSPD inverts a symmetric positive definite matrix through its
// Cholesky factor. ok is false when a is not positive definite.
func invertSPD(a mat.Symmetric) (inv *mat.SymDense, chol *mat.Cholesky, ok bool) {
	chol = &mat.Cholesky{}
	if !chol.Factorize(a) {
		return nil, nil, false
	}
	inv = mat.NewSymDense(a.SymmetricDim(), nil)
	if err := chol.InverseTo(inv); err != nil && !isConditionWarning(err) {
		return nil, nil, false
	}
	return inv, chol, true
}

// isConditionWarning reports whether err is gonum's ill-conditioning
// warning, which still leaves a usable result in the receiver.
func isConditionWarning(err error) bool {
	var cond mat.Condition
	return errors.As(err, &cond)
}
