// Package session wraps a Kalman engine in the lifecycle used by every
// tracking filter: initialise on the first measurement, predict and update
// on a strictly increasing timeline, re-initialise when measurements stop
// arriving for too long, and keep NEES/NIS consistency statistics.
package session
