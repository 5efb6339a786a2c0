package kalman

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Engine is the extended Kalman filter recursion. Process and measurement
// models are supplied per call, so one Engine type serves every tracking
// filter variant. The state dimension is fixed at construction.
type Engine struct {
	n int
	x *mat.VecDense
	p *mat.SymDense
}

// NewEngine returns an Engine seeded with a copy of (x0, P0). The initial
// estimate must pass Validate.
func NewEngine(x0 mat.Vector, p0 mat.Symmetric) (*Engine, error) {
	n := x0.Len()
	if n == 0 {
		return nil, fmt.Errorf("%w: empty state vector", ErrInvalidArgument)
	}
	if p0.SymmetricDim() != n {
		return nil, fmt.Errorf("%w: state has %d entries, covariance is %dx%d", ErrDimensionMismatch, n, p0.SymmetricDim(), p0.SymmetricDim())
	}
	x := mat.VecDenseCopyOf(x0)
	p := copySym(p0)
	if err := Validate("init", x, p); err != nil {
		return nil, err
	}
	return &Engine{n: n, x: x, p: p}, nil
}

// Dim returns the state dimension N.
func (e *Engine) Dim() int {
	return e.n
}

// X returns a copy of the state estimate.
func (e *Engine) X() *mat.VecDense {
	return mat.VecDenseCopyOf(e.x)
}

// P returns a copy of the state covariance.
func (e *Engine) P() *mat.SymDense {
	return copySym(e.p)
}

// Clone returns an independent copy of the engine.
func (e *Engine) Clone() *Engine {
	return &Engine{n: e.n, x: mat.VecDenseCopyOf(e.x), p: copySym(e.p)}
}

// Predict propagates the estimate through the process model:
//
//	x ← f(x)
//	P ← F·P·Fᵗ + Q
//
// with F the Jacobian at the prior state. The new estimate is committed only
// after it validates.
func (e *Engine) Predict(pm ProcessModel) error {
	if pm.Jacobian == nil || pm.Q == nil {
		return fmt.Errorf("predict: %w: process model needs a Jacobian and Q", ErrInvalidArgument)
	}
	f := pm.Jacobian(e.x)
	if r, c := f.Dims(); r != e.n || c != e.n {
		return fmt.Errorf("predict: %w: Jacobian is %dx%d, state has %d entries", ErrDimensionMismatch, r, c, e.n)
	}
	if q := pm.Q.SymmetricDim(); q != e.n {
		return fmt.Errorf("predict: %w: Q is %dx%d, state has %d entries", ErrDimensionMismatch, q, q, e.n)
	}

	var x *mat.VecDense
	if pm.F != nil {
		x = mat.VecDenseCopyOf(pm.F(e.x))
		if x.Len() != e.n {
			return fmt.Errorf("predict: %w: f(x) has %d entries, state has %d", ErrDimensionMismatch, x.Len(), e.n)
		}
	} else {
		x = mat.NewVecDense(e.n, nil)
		x.MulVec(f, e.x)
	}

	var fp, fpft mat.Dense
	fp.Mul(f, e.p)
	fpft.Mul(&fp, f.T())
	fpft.Add(&fpft, pm.Q)
	p := symmetrize(&fpft)

	if err := Validate("predict", x, p); err != nil {
		return err
	}
	e.x, e.p = x, p
	return nil
}

// Update fuses one measurement into the estimate.
//
// S and S⁻¹ are computed only when the standard gain needs them or when a
// gate, NIS or likelihood is requested. A gated measurement returns an
// Outcome with Rejected() true and leaves the estimate untouched. Any error
// also leaves the estimate untouched.
func (e *Engine) Update(mm MeasurementModel, opts UpdateOptions) (Outcome, error) {
	if err := opts.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("update: %w", err)
	}
	if mm.Jacobian == nil || mm.R == nil || mm.Z == nil {
		return Outcome{}, fmt.Errorf("update: %w: measurement model needs a Jacobian, R and z", ErrInvalidArgument)
	}

	hj := mm.Jacobian(e.x)
	m, c := hj.Dims()
	if c != e.n {
		return Outcome{}, fmt.Errorf("update: %w: Jacobian is %dx%d, state has %d entries", ErrDimensionMismatch, m, c, e.n)
	}
	if mm.Z.Len() != m || mm.R.SymmetricDim() != m {
		return Outcome{}, fmt.Errorf("update: %w: z has %d entries, R is %dx%d, Jacobian has %d rows",
			ErrDimensionMismatch, mm.Z.Len(), mm.R.SymmetricDim(), mm.R.SymmetricDim(), m)
	}

	var pht mat.Dense
	pht.Mul(e.p, hj.T())

	var innov *innovation
	if opts.Theta == 0 || opts.diagnosticsRequested() {
		var err error
		if innov, err = newInnovation(hj, &pht, mm.R); err != nil {
			return Outcome{}, fmt.Errorf("update: %w", err)
		}
	}

	var hx *mat.VecDense
	if mm.H != nil {
		hx = mat.VecDenseCopyOf(mm.H(e.x))
		if hx.Len() != m {
			return Outcome{}, fmt.Errorf("update: %w: h(x) has %d entries, z has %d", ErrDimensionMismatch, hx.Len(), m)
		}
	} else {
		hx = mat.NewVecDense(m, nil)
		hx.MulVec(hj, e.x)
	}
	sub := mm.Sub
	if sub == nil {
		sub = EuclideanSub
	}
	out := Outcome{residual: sub(mm.Z, hx)}

	if opts.diagnosticsRequested() {
		d2 := innov.mahalanobis(out.residual)
		if opts.Want.NIS {
			out.nis, out.hasNIS = d2, true
		}
		if opts.Want.Likelihood {
			out.likelihood, out.hasLikelihood = innov.likelihood(out.residual), true
		}
		if opts.Gate > 0 && d2 > opts.Gate {
			out.rejected = true
			out.gateDistance = d2
			return out, nil
		}
	}

	var k *mat.Dense
	if opts.Theta > 0 {
		htri, err := hTransposeRInverse(hj, mm.R)
		if err != nil {
			return Outcome{}, fmt.Errorf("update: %w", err)
		}
		if k, err = HInfinityGain(opts.Theta, e.p, hj, htri); err != nil {
			return Outcome{}, fmt.Errorf("update: %w", err)
		}
	} else {
		k = innov.gain(&pht)
	}

	dx := mat.NewVecDense(e.n, nil)
	dx.MulVec(k, out.residual)
	add := mm.Add
	if add == nil {
		add = EuclideanAdd
	}
	x := add(e.x, dx)

	p := josephUpdate(e.p, k, hj, mm.R)

	if err := Validate("update", x, p); err != nil {
		return Outcome{}, err
	}
	e.x, e.p = x, p
	return out, nil
}

// josephUpdate returns (I−K·H)·P·(I−K·H)ᵗ + K·R·Kᵗ, which keeps P symmetric
// positive semi-definite for any gain, not only the optimal one.
func josephUpdate(p mat.Symmetric, k, h mat.Matrix, r mat.Symmetric) *mat.SymDense {
	n := p.SymmetricDim()
	var kh mat.Dense
	kh.Mul(k, h)
	a := eye(n)
	a.Sub(a, &kh)

	var ap, apat mat.Dense
	ap.Mul(a, p)
	apat.Mul(&ap, a.T())

	var kr, krkt mat.Dense
	kr.Mul(k, r)
	krkt.Mul(&kr, k.T())

	apat.Add(&apat, &krkt)
	return symmetrize(&apat)
}
