package filter

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidConfig is returned when a filter or one of its parts is misconfigured
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrInvalidInput is returned when a filter step receives malformed input
	ErrInvalidInput = errors.New("invalid input")
	// ErrDegenerate is returned when all particle weights collapse to zero
	ErrDegenerate = errors.New("degenerate particle weights")
)

// Observation is a range measurement to a landmark with known position.
type Observation struct {
	// Range is the measured distance to the landmark
	Range float64
	// X is the landmark X coordinate
	X float64
	// Y is the landmark Y coordinate
	Y float64
}

// Localizer estimates robot pose from controls and landmark observations.
type Localizer interface {
	// Step advances the filter by one control cycle and returns the new estimate
	Step([]Observation, mat.Vector) (Estimate, error)
	// State returns the most recent state estimate
	State() mat.Vector
	// Cov returns the most recent state covariance
	Cov() mat.Symmetric
}

// Propagator propagates internal state of the system
type Propagator interface {
	// Propagate propagates state x to the next step given control u
	Propagate(x, u mat.Vector) (mat.Vector, error)
}

// Weigher measures how well a state explains a set of observations
type Weigher interface {
	// Likelihood returns the likelihood of observations given state x
	Likelihood(x mat.Vector, z []Observation) float64
}

// InitCond is initial state condition of the filter
type InitCond interface {
	// State returns initial state
	State() mat.Vector
	// Cov returns initial state covariance
	Cov() mat.Symmetric
}

// Estimate is dynamical system filter estimate
type Estimate interface {
	// Val returns state estimate
	Val() mat.Vector
	// Cov returns state covariance
	Cov() mat.Symmetric
}

// Noise is dynamical system noise
type Noise interface {
	// Sample returns a sample of the noise
	Sample() mat.Vector
	// Cov returns noise covariance matrix
	Cov() mat.Symmetric
	// Reset resets noise
	Reset() error
}
