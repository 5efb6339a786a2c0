package kalman

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// VectorFunc maps a state vector to a vector (state transition f or
// measurement function h).
type VectorFunc func(x mat.Vector) mat.Vector

// MatrixFunc evaluates a Jacobian at a state vector.
type MatrixFunc func(x mat.Vector) mat.Matrix

// AddFunc is the state-combine operator ⊕: it applies a correction dx to x.
type AddFunc func(x, dx mat.Vector) *mat.VecDense

// SubFunc is the measurement-difference operator ⊖: it returns a ⊖ b.
type SubFunc func(a, b mat.Vector) *mat.VecDense

// ProcessModel is supplied on every predict call. The engine keeps no
// reference to it after the call returns.
type ProcessModel struct {
	// F propagates the state. When nil the model is linear and the state
	// is propagated as Jacobian(x)·x.
	F VectorFunc
	// Jacobian returns ∂f/∂x evaluated at the prior state.
	Jacobian MatrixFunc
	// Q is the process noise covariance for this step.
	Q mat.Symmetric
}

// MeasurementModel is supplied on every update call.
type MeasurementModel struct {
	// H predicts the measurement. When nil it is Jacobian(x)·x.
	H VectorFunc
	// Jacobian returns ∂h/∂x evaluated at the prior state.
	Jacobian MatrixFunc
	// R is the measurement noise covariance.
	R mat.Symmetric
	// Z is the measurement.
	Z mat.Vector
	// Add is ⊕; nil means Euclidean addition.
	Add AddFunc
	// Sub is ⊖; nil means Euclidean subtraction.
	Sub SubFunc
}

// Constant returns a MatrixFunc that ignores the state, for linear models.
func Constant(m mat.Matrix) MatrixFunc {
	return func(mat.Vector) mat.Matrix { return m }
}

// EuclideanAdd returns x + dx.
func EuclideanAdd(x, dx mat.Vector) *mat.VecDense {
	out := mat.NewVecDense(x.Len(), nil)
	out.AddVec(x, dx)
	return out
}

// EuclideanSub returns a - b.
func EuclideanSub(a, b mat.Vector) *mat.VecDense {
	out := mat.NewVecDense(a.Len(), nil)
	out.SubVec(a, b)
	return out
}

// AngularAdd returns a ⊕ that wraps the listed components to (-π, π]
// after addition.
func AngularAdd(angles ...int) AddFunc {
	return func(x, dx mat.Vector) *mat.VecDense {
		out := EuclideanAdd(x, dx)
		wrapComponents(out, angles)
		return out
	}
}

// AngularSub returns a ⊖ whose listed components are the shortest signed
// angular difference.
func AngularSub(angles ...int) SubFunc {
	return func(a, b mat.Vector) *mat.VecDense {
		out := EuclideanSub(a, b)
		wrapComponents(out, angles)
		return out
	}
}

// WrapAngle maps an angle in radians to (-π, π].
func WrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

func wrapComponents(v *mat.VecDense, idx []int) {
	for _, i := range idx {
		if i >= 0 && i < v.Len() {
			v.SetVec(i, WrapAngle(v.AtVec(i)))
		}
	}
}
