package models

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfilter/internal/kalman"
)

// Order is the highest modelled derivative of position.
type Order int

const (
	OrderPosition     Order = 0 // random walk
	OrderVelocity     Order = 1 // constant velocity
	OrderAcceleration Order = 2 // constant acceleration
)

// ErrUnknownModel is returned for an unsupported order or model name.
var ErrUnknownModel = errors.New("models: unknown model")

// ParseOrder maps a configuration name to an Order.
func ParseOrder(name string) (Order, error) {
	switch name {
	case "position", "p":
		return OrderPosition, nil
	case "velocity", "pv", "constant_velocity":
		return OrderVelocity, nil
	case "acceleration", "pva", "constant_acceleration":
		return OrderAcceleration, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

func (o Order) String() string {
	switch o {
	case OrderPosition:
		return "position"
	case OrderVelocity:
		return "velocity"
	case OrderAcceleration:
		return "acceleration"
	}
	return fmt.Sprintf("Order(%d)", int(o))
}

// KinematicConfig holds the noise parameters of a Kinematic model.
type KinematicConfig struct {
	// ProcessVariance is the spectral density of the white noise driving
	// the highest derivative.
	ProcessVariance float64
	// InitialVelocityVariance seeds the velocity block on (re)initialisation.
	InitialVelocityVariance float64
	// InitialAccelerationVariance seeds the acceleration block.
	InitialAccelerationVariance float64
}

// Kinematic is a linear kinematic model. The state is laid out in derivative
// blocks: [position(dims), velocity(dims), acceleration(dims)] truncated at
// the model order. Only the position block is observed.
type Kinematic struct {
	order Order
	dims  int
	cfg   KinematicConfig
	h     *mat.Dense
}

// NewKinematic returns a kinematic model of the given order in dims spatial
// dimensions.
func NewKinematic(order Order, dims int, cfg KinematicConfig) (*Kinematic, error) {
	if order < OrderPosition || order > OrderAcceleration {
		return nil, fmt.Errorf("%w: order %d", ErrUnknownModel, int(order))
	}
	if dims <= 0 {
		return nil, fmt.Errorf("models: dims must be positive, got %d", dims)
	}
	if !(cfg.ProcessVariance > 0) {
		return nil, fmt.Errorf("models: process variance must be positive, got %v", cfg.ProcessVariance)
	}
	if order >= OrderVelocity && !(cfg.InitialVelocityVariance > 0) {
		return nil, fmt.Errorf("models: initial velocity variance must be positive, got %v", cfg.InitialVelocityVariance)
	}
	if order >= OrderAcceleration && !(cfg.InitialAccelerationVariance > 0) {
		return nil, fmt.Errorf("models: initial acceleration variance must be positive, got %v", cfg.InitialAccelerationVariance)
	}

	k := &Kinematic{order: order, dims: dims, cfg: cfg}
	k.h = mat.NewDense(dims, k.StateDim(), nil)
	for i := 0; i < dims; i++ {
		k.h.Set(i, i, 1)
	}
	return k, nil
}

// Order returns the model order.
func (k *Kinematic) Order() Order { return k.order }

// StateDim is dims·(order+1).
func (k *Kinematic) StateDim() int { return k.dims * (int(k.order) + 1) }

// MeasurementDim is the number of spatial dimensions.
func (k *Kinematic) MeasurementDim() int { return k.dims }

// ObservationMatrix returns a copy of H, which selects the position block.
func (k *Kinematic) ObservationMatrix() mat.Matrix { return mat.DenseCopyOf(k.h) }

// Init returns the initial estimate for a measured position: the position
// block takes the measurement with the measurement variance, higher
// derivatives start at zero with their configured variances.
func (k *Kinematic) Init(value []float64, variance float64) (*mat.VecDense, *mat.SymDense, error) {
	if len(value) != k.dims {
		return nil, nil, fmt.Errorf("init: %w: value has %d entries, want %d", kalman.ErrDimensionMismatch, len(value), k.dims)
	}
	if !(variance > 0) || math.IsInf(variance, 0) {
		return nil, nil, fmt.Errorf("init: %w: variance must be positive and finite, got %v", kalman.ErrInvalidArgument, variance)
	}
	n := k.StateDim()
	x := mat.NewVecDense(n, nil)
	p := mat.NewSymDense(n, nil)
	for i, v := range value {
		x.SetVec(i, v)
		p.SetSym(i, i, variance)
	}
	seed := []float64{variance, k.cfg.InitialVelocityVariance, k.cfg.InitialAccelerationVariance}
	for d := 1; d <= int(k.order); d++ {
		for i := 0; i < k.dims; i++ {
			j := d*k.dims + i
			p.SetSym(j, j, seed[d])
		}
	}
	return x, p, nil
}

// Process returns the process model for a step of dt.
func (k *Kinematic) Process(dt time.Duration) kalman.ProcessModel {
	s := dt.Seconds()
	o := int(k.order)
	n := k.StateDim()

	f := mat.NewDense(n, n, nil)
	q := mat.NewSymDense(n, nil)
	for a := 0; a <= o; a++ {
		for b := a; b <= o; b++ {
			// Derivative a picks up derivative b with dt^(b−a)/(b−a)!.
			fab := pow(s, b-a) / factorial(b-a)
			// Continuous white noise on derivative o, integrated over dt.
			e := 2*o - a - b + 1
			qab := k.cfg.ProcessVariance * pow(s, e) / (factorial(o-a) * factorial(o-b) * float64(e))
			for i := 0; i < k.dims; i++ {
				f.Set(a*k.dims+i, b*k.dims+i, fab)
				q.SetSym(a*k.dims+i, b*k.dims+i, qab)
			}
		}
	}
	return kalman.ProcessModel{Jacobian: kalman.Constant(f), Q: q}
}

// Measurement returns the measurement model for an observed position with
// isotropic variance.
func (k *Kinematic) Measurement(value []float64, variance float64) (kalman.MeasurementModel, error) {
	if len(value) != k.dims {
		return kalman.MeasurementModel{}, fmt.Errorf("measurement: %w: value has %d entries, want %d",
			kalman.ErrDimensionMismatch, len(value), k.dims)
	}
	if !(variance > 0) || math.IsInf(variance, 0) {
		return kalman.MeasurementModel{}, fmt.Errorf("measurement: %w: variance must be positive and finite, got %v",
			kalman.ErrInvalidArgument, variance)
	}
	r := mat.NewSymDense(k.dims, nil)
	for i := 0; i < k.dims; i++ {
		r.SetSym(i, i, variance)
	}
	return kalman.MeasurementModel{
		Jacobian: kalman.Constant(k.h),
		R:        r,
		Z:        mat.NewVecDense(k.dims, append([]float64(nil), value...)),
	}, nil
}

// Position returns the position block of x.
func (k *Kinematic) Position(x mat.Vector) []float64 {
	return k.block(x, 0)
}

// Velocity returns the velocity block of x, or nil for a position model.
func (k *Kinematic) Velocity(x mat.Vector) []float64 {
	if k.order < OrderVelocity {
		return nil
	}
	return k.block(x, 1)
}

func (k *Kinematic) block(x mat.Vector, d int) []float64 {
	out := make([]float64, k.dims)
	for i := range out {
		out[i] = x.AtVec(d*k.dims + i)
	}
	return out
}

func pow(x float64, n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= x
	}
	return r
}

func factorial(n int) float64 {
	r := 1.0
	for i := 2; i <= n; i++ {
		r *= float64(i)
	}
	return r
}
