package kalman

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// LinearConfig holds the fixed model matrices of a LinearFilter.
type LinearConfig struct {
	F mat.Matrix    // N×N state transition
	H mat.Matrix    // M×N observation
	Q mat.Symmetric // N×N process noise
	R mat.Symmetric // M×M measurement noise
}

// LinearFilter runs the Kalman recursion on fixed matrices set once at
// construction: no Jacobian evaluation, no gating and no H-infinity gain.
type LinearFilter struct {
	n, m int
	f, h *mat.Dense
	q, r *mat.SymDense

	x *mat.VecDense
	p *mat.SymDense
}

// NewLinearFilter validates the configuration against (x0, P0) and returns
// a filter owning copies of all of them.
func NewLinearFilter(cfg LinearConfig, x0 mat.Vector, p0 mat.Symmetric) (*LinearFilter, error) {
	if cfg.F == nil || cfg.H == nil || cfg.Q == nil || cfg.R == nil {
		return nil, fmt.Errorf("%w: linear filter needs F, H, Q and R", ErrInvalidArgument)
	}
	n := x0.Len()
	if fr, fc := cfg.F.Dims(); fr != n || fc != n {
		return nil, fmt.Errorf("%w: F is %dx%d, state has %d entries", ErrDimensionMismatch, fr, fc, n)
	}
	m, hc := cfg.H.Dims()
	if hc != n {
		return nil, fmt.Errorf("%w: H is %dx%d, state has %d entries", ErrDimensionMismatch, m, hc, n)
	}
	if cfg.Q.SymmetricDim() != n || cfg.R.SymmetricDim() != m || p0.SymmetricDim() != n {
		return nil, fmt.Errorf("%w: Q, R or P0 do not match N=%d, M=%d", ErrDimensionMismatch, n, m)
	}
	if _, _, ok := invertSPD(cfg.R); !ok {
		return nil, fmt.Errorf("%w: measurement noise R is not positive definite", ErrInvalidArgument)
	}

	x := mat.VecDenseCopyOf(x0)
	p := copySym(p0)
	if err := Validate("linear init", x, p); err != nil {
		return nil, err
	}
	return &LinearFilter{
		n: n,
		m: m,
		f: mat.DenseCopyOf(cfg.F),
		h: mat.DenseCopyOf(cfg.H),
		q: copySym(cfg.Q),
		r: copySym(cfg.R),
		x: x,
		p: p,
	}, nil
}

// X returns a copy of the state estimate.
func (lf *LinearFilter) X() *mat.VecDense {
	return mat.VecDenseCopyOf(lf.x)
}

// P returns a copy of the state covariance.
func (lf *LinearFilter) P() *mat.SymDense {
	return copySym(lf.p)
}

// Predict advances the estimate by one step of the fixed model.
func (lf *LinearFilter) Predict() error {
	x := mat.NewVecDense(lf.n, nil)
	x.MulVec(lf.f, lf.x)

	var fp, fpft mat.Dense
	fp.Mul(lf.f, lf.p)
	fpft.Mul(&fp, lf.f.T())
	fpft.Add(&fpft, lf.q)
	p := symmetrize(&fpft)

	if err := Validate("linear predict", x, p); err != nil {
		return err
	}
	lf.x, lf.p = x, p
	return nil
}

// Update fuses measurement z using the standard gain and the Joseph form.
func (lf *LinearFilter) Update(z mat.Vector) error {
	if z.Len() != lf.m {
		return fmt.Errorf("linear update: %w: z has %d entries, want %d", ErrDimensionMismatch, z.Len(), lf.m)
	}
	var pht mat.Dense
	pht.Mul(lf.p, lf.h.T())
	innov, err := newInnovation(lf.h, &pht, lf.r)
	if err != nil {
		return fmt.Errorf("linear update: %w", err)
	}
	k := innov.gain(&pht)

	hx := mat.NewVecDense(lf.m, nil)
	hx.MulVec(lf.h, lf.x)
	residual := EuclideanSub(z, hx)

	dx := mat.NewVecDense(lf.n, nil)
	dx.MulVec(k, residual)
	x := EuclideanAdd(lf.x, dx)
	p := josephUpdate(lf.p, k, lf.h, lf.r)

	if err := Validate("linear update", x, p); err != nil {
		return err
	}
	lf.x, lf.p = x, p
	return nil
}
