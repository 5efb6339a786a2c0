package kalman

import "errors"

var (
	// ErrNumericalDivergence reports a non-finite state or a covariance that
	// is not positive definite. There is no repair path: discard the filter.
	ErrNumericalDivergence = errors.New("numerical divergence")

	// ErrHInfinityInfeasible reports that the minimax problem has no
	// solution at the requested risk parameter.
	ErrHInfinityInfeasible = errors.New("h-infinity infeasible")

	// ErrDimensionMismatch reports vectors or matrices whose shapes do not
	// agree with the filter dimensions.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidArgument reports a malformed model or option.
	ErrInvalidArgument = errors.New("invalid argument")
)
