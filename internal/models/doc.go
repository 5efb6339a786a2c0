// Package models provides the kinematic process and measurement models used
// by filter sessions: position random walk, constant velocity and constant
// acceleration, in any number of spatial dimensions.
package models
