package consistency

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrDimensionMismatch is returned when a sample disagrees with the
	// degrees of freedom fixed by the first sample.
	ErrDimensionMismatch = errors.New("consistency: dimension mismatch")
	// ErrSingularCovariance is returned when a covariance cannot be inverted.
	ErrSingularCovariance = errors.New("consistency: covariance not positive definite")
	// ErrEmpty is returned by batch statistics given no samples.
	ErrEmpty = errors.New("consistency: no samples")
)

// Confidence is the two-sided acceptance probability used by CheckString.
const Confidence = 0.95

// Verdict classifies a sample mean against its acceptance interval.
type Verdict string

const (
	VerdictUnknown     Verdict = "unknown"
	VerdictConsistent  Verdict = "consistent"
	VerdictOptimistic  Verdict = "optimistic"  // mean above the interval: covariance too small
	VerdictPessimistic Verdict = "pessimistic" // mean below the interval: covariance too large
)

// Accumulator keeps a running sum of squared Mahalanobis distances. The zero
// value is not usable; create one with NewAccumulator.
type Accumulator struct {
	name  string
	dof   int
	count int
	sum   float64
}

// NewAccumulator returns an empty accumulator labelled name.
func NewAccumulator(name string) *Accumulator {
	return &Accumulator{name: name}
}

// Add folds errᵗ·cov⁻¹·err into the accumulator with dof = len(err).
func (a *Accumulator) Add(err mat.Vector, cov mat.Symmetric) error {
	d2, e := Mahalanobis(err, cov)
	if e != nil {
		return fmt.Errorf("%s: %w", a.name, e)
	}
	return a.AddDistance(d2, err.Len())
}

// AddDistance folds a precomputed squared distance with explicit dof.
func (a *Accumulator) AddDistance(d2 float64, dof int) error {
	if dof <= 0 {
		return fmt.Errorf("%s: %w: dof must be positive, got %d", a.name, ErrDimensionMismatch, dof)
	}
	if math.IsNaN(d2) || math.IsInf(d2, 0) || d2 < 0 {
		return fmt.Errorf("%s: invalid squared distance %v", a.name, d2)
	}
	if a.count > 0 && dof != a.dof {
		return fmt.Errorf("%s: %w: sample has %d dof, accumulator has %d", a.name, ErrDimensionMismatch, dof, a.dof)
	}
	a.dof = dof
	a.count++
	a.sum += d2
	return nil
}

// Name returns the accumulator label.
func (a *Accumulator) Name() string { return a.name }

// Count returns the number of folded samples.
func (a *Accumulator) Count() int { return a.count }

// DOF returns the degrees of freedom fixed by the first sample, or 0.
func (a *Accumulator) DOF() int { return a.dof }

// Mean returns the sample mean, or NaN when empty.
func (a *Accumulator) Mean() float64 {
	if a.count == 0 {
		return math.NaN()
	}
	return a.sum / float64(a.count)
}

// Summary is a value snapshot of an accumulator.
type Summary struct {
	Name    string
	DOF     int
	Count   int
	Mean    float64
	Lower   float64
	Upper   float64
	Verdict Verdict
}

// Summary snapshots the accumulator together with its acceptance interval.
func (a *Accumulator) Summary() Summary {
	s := Summary{
		Name:    a.name,
		DOF:     a.dof,
		Count:   a.count,
		Mean:    a.Mean(),
		Lower:   math.NaN(),
		Upper:   math.NaN(),
		Verdict: VerdictUnknown,
	}
	if a.count == 0 {
		return s
	}
	s.Lower, s.Upper = Bounds(a.count, a.dof, Confidence)
	switch {
	case s.Mean > s.Upper:
		s.Verdict = VerdictOptimistic
	case s.Mean < s.Lower:
		s.Verdict = VerdictPessimistic
	default:
		s.Verdict = VerdictConsistent
	}
	return s
}

// CheckString renders a short multi-line report of the sample mean against
// the expected dof. It is diagnostic only.
func (a *Accumulator) CheckString() string {
	s := a.Summary()
	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n", s.Name)
	fmt.Fprintf(&b, "  samples: %d\n", s.Count)
	if s.Count == 0 {
		b.WriteString("  mean: n/a\n")
		return b.String()
	}
	fmt.Fprintf(&b, "  mean: %.4f (expected %d)\n", s.Mean, s.DOF)
	fmt.Fprintf(&b, "  %.0f%% interval: [%.4f, %.4f]\n", Confidence*100, s.Lower, s.Upper)
	fmt.Fprintf(&b, "  verdict: %s\n", s.Verdict)
	return b.String()
}

// Bounds returns the two-sided acceptance interval for the mean of count
// chi-square samples with dof degrees of freedom each. The sum of the
// samples is chi-square with count·dof degrees of freedom.
func Bounds(count, dof int, confidence float64) (lower, upper float64) {
	if count <= 0 || dof <= 0 {
		return math.NaN(), math.NaN()
	}
	chi := distuv.ChiSquared{K: float64(count * dof)}
	tail := (1 - confidence) / 2
	n := float64(count)
	return chi.Quantile(tail) / n, chi.Quantile(1-tail) / n
}

// Mahalanobis returns eᵗ·cov⁻¹·e.
func Mahalanobis(e mat.Vector, cov mat.Symmetric) (float64, error) {
	n := e.Len()
	if cov.SymmetricDim() != n {
		return 0, fmt.Errorf("%w: error has %d entries, covariance is %dx%d", ErrDimensionMismatch, n, cov.SymmetricDim(), cov.SymmetricDim())
	}
	var chol mat.Cholesky
	if !chol.Factorize(cov) {
		return 0, ErrSingularCovariance
	}
	y := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(y, e); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return 0, fmt.Errorf("%w: %v", ErrSingularCovariance, err)
		}
	}
	return mat.Dot(e, y), nil
}
