// Package consistency accumulates normalised estimation error squared (NEES)
// and normalised innovation squared (NIS) statistics and compares their
// sample means against the chi-square expectation.
package consistency
