// Package kalman owns the recursive state-estimation core shared by every
// tracking filter.
//
// Responsibilities: the extended (closure-driven) predict/update recursion,
// the fixed-matrix linear variant, the H-infinity robust gain, Mahalanobis
// gating with optional NIS and likelihood diagnostics, and the post-condition
// validation that runs after every step.
// Key types: Engine, LinearFilter, ProcessModel, MeasurementModel, Outcome.
//
// An Engine owns exactly one (x, P) pair and is not safe for concurrent use.
// Independent engines share nothing and may run on separate goroutines.
//
// Dependency rule: no knowledge of sessions, timestamps or storage.
package kalman
