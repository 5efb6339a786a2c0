package kalman

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Diagnostics selects the optional outputs of an update. Requesting any of
// them (or a gate) forces the innovation covariance S and its inverse to be
// computed.
type Diagnostics struct {
	NIS        bool
	Likelihood bool
}

// UpdateOptions carries the optional per-update parameters.
type UpdateOptions struct {
	// Theta is the H-infinity risk parameter. Zero selects the standard
	// Kalman gain; negative values are rejected.
	Theta float64
	// Gate is the squared Mahalanobis distance above which the measurement
	// is rejected. Zero disables gating.
	Gate float64
	Want Diagnostics
}

func (o UpdateOptions) diagnosticsRequested() bool {
	return o.Gate > 0 || o.Want.NIS || o.Want.Likelihood
}

// Validate rejects a negative or non-finite theta and a negative or NaN gate.
func (o UpdateOptions) Validate() error {
	if math.IsNaN(o.Theta) || math.IsInf(o.Theta, 0) || o.Theta < 0 {
		return fmt.Errorf("%w: theta must be a finite non-negative number, got %v", ErrInvalidArgument, o.Theta)
	}
	if math.IsNaN(o.Gate) || o.Gate < 0 {
		return fmt.Errorf("%w: gate must be non-negative, got %v", ErrInvalidArgument, o.Gate)
	}
	return nil
}

// Outcome is the immutable result of one update.
type Outcome struct {
	residual *mat.VecDense

	rejected     bool
	gateDistance float64

	nis    float64
	hasNIS bool

	likelihood    float64
	hasLikelihood bool
}

// Residual returns a copy of z ⊖ h(x) computed against the prior estimate.
func (o Outcome) Residual() *mat.VecDense {
	if o.residual == nil {
		return nil
	}
	return mat.VecDenseCopyOf(o.residual)
}

// Rejected reports whether the gate discarded the measurement. A rejected
// update leaves the estimate untouched.
func (o Outcome) Rejected() bool {
	return o.rejected
}

// GateDistance returns the squared Mahalanobis distance that exceeded the
// gate. ok is false when the measurement was accepted.
func (o Outcome) GateDistance() (d2 float64, ok bool) {
	return o.gateDistance, o.rejected
}

// NIS returns the normalised innovation squared when it was requested.
func (o Outcome) NIS() (float64, bool) {
	return o.nis, o.hasNIS
}

// Likelihood returns the Gaussian density of the residual under N(0, S)
// when it was requested.
func (o Outcome) Likelihood() (float64, bool) {
	return o.likelihood, o.hasLikelihood
}

func (o Outcome) String() string {
	var b strings.Builder
	if o.rejected {
		fmt.Fprintf(&b, "rejected d2=%.4f", o.gateDistance)
	} else {
		b.WriteString("accepted")
	}
	if o.hasNIS {
		fmt.Fprintf(&b, " nis=%.4f", o.nis)
	}
	if o.hasLikelihood {
		fmt.Fprintf(&b, " likelihood=%.4g", o.likelihood)
	}
	return b.String()
}

// innovation holds S = H·P·Hᵗ + R and its inverse for one update.
type innovation struct {
	s    *mat.SymDense
	sInv *mat.SymDense
}

func newInnovation(h mat.Matrix, pht *mat.Dense, r mat.Symmetric) (*innovation, error) {
	var hpht mat.Dense
	hpht.Mul(h, pht)
	hpht.Add(&hpht, r)
	s := symmetrize(&hpht)
	sInv, _, ok := invertSPD(s)
	if !ok {
		return nil, fmt.Errorf("innovation covariance: %w: not positive definite", ErrNumericalDivergence)
	}
	return &innovation{s: s, sInv: sInv}, nil
}

// mahalanobis returns rᵗ·S⁻¹·r.
func (in *innovation) mahalanobis(r mat.Vector) float64 {
	return mat.Inner(r, in.sInv, r)
}

// gain returns the standard Kalman gain P·Hᵗ·S⁻¹.
func (in *innovation) gain(pht *mat.Dense) *mat.Dense {
	var k mat.Dense
	k.Mul(pht, in.sInv)
	return &k
}

func (in *innovation) likelihood(r mat.Vector) float64 {
	mu := make([]float64, r.Len())
	normal, ok := distmv.NewNormal(mu, in.s, nil)
	if !ok {
		return 0
	}
	return math.Exp(normal.LogProb(mat.Col(nil, 0, r)))
}
