package kalman

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// HInfinityGain computes the minimax gain for risk parameter theta > 0:
//
//	K = P·(I − θ·P + HtRi·H·P)⁻¹·HtRi
//
// where HtRi = Hᵗ·R⁻¹. The problem is feasible only while
// M = P⁻¹ − θ·I + HtRi·H is positive definite; otherwise the returned error
// wraps ErrHInfinityInfeasible. Nothing is mutated.
func HInfinityGain(theta float64, p mat.Symmetric, h, htri mat.Matrix) (*mat.Dense, error) {
	if !(theta > 0) || !isFinite(theta) {
		return nil, fmt.Errorf("%w: theta must be positive, got %v", ErrInvalidArgument, theta)
	}
	n := p.SymmetricDim()
	m, hc := h.Dims()
	tr, tc := htri.Dims()
	if hc != n || tr != n || tc != m {
		return nil, fmt.Errorf("%w: P is %dx%d, H is %dx%d, HtRi is %dx%d", ErrDimensionMismatch, n, n, m, hc, tr, tc)
	}

	pInv, _, ok := invertSPD(p)
	if !ok {
		return nil, fmt.Errorf("h-infinity prior: %w: covariance is not positive definite", ErrNumericalDivergence)
	}

	var htrih mat.Dense
	htrih.Mul(htri, h)

	var feas mat.Dense
	feas.Add(pInv, &htrih)
	for i := 0; i < n; i++ {
		feas.Set(i, i, feas.At(i, i)-theta)
	}
	var chol mat.Cholesky
	if !chol.Factorize(symmetrize(&feas)) {
		return nil, fmt.Errorf("%w: P⁻¹ − θI + HᵗR⁻¹H not positive definite at theta=%g", ErrHInfinityInfeasible, theta)
	}

	inner := eye(n)
	var thetaP mat.Dense
	thetaP.Scale(theta, p)
	inner.Sub(inner, &thetaP)
	var htrihp mat.Dense
	htrihp.Mul(&htrih, p)
	inner.Add(inner, &htrihp)

	var innerInv mat.Dense
	if err := innerInv.Inverse(inner); err != nil && !isConditionWarning(err) {
		return nil, fmt.Errorf("%w: %v", ErrHInfinityInfeasible, err)
	}

	var pInner, k mat.Dense
	pInner.Mul(p, &innerInv)
	k.Mul(&pInner, htri)
	return &k, nil
}

// hTransposeRInverse returns Hᵗ·R⁻¹.
func hTransposeRInverse(h mat.Matrix, r mat.Symmetric) (*mat.Dense, error) {
	rInv, _, ok := invertSPD(r)
	if !ok {
		return nil, fmt.Errorf("%w: measurement noise R is not positive definite", ErrInvalidArgument)
	}
	var htri mat.Dense
	htri.Mul(h.T(), rInv)
	return &htri, nil
}
