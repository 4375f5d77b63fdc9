// Package model provides the robot motion model and the range sensor likelihood.
//
// Both are available as pure functions (Move, RangeLikelihood) and as small
// adapters (Unicycle, RangeSensor) that satisfy the filter interfaces.
package model

import (
	"fmt"
	"math"

	filter "github.com/marco-hrlic/go-localize"
	"gonum.org/v1/gonum/mat"
)

const (
	// StateDim is the size of the robot state vector: x, y, heading, velocity
	StateDim = 4
	// ControlDim is the size of the control vector: velocity, yaw rate
	ControlDim = 2
)

// Move advances robot state x by one time step dt under control u and returns the new state.
// Heading integrates yaw rate first and position then integrates velocity along the
// updated heading. The velocity component of the returned state is the commanded velocity.
//
//	θ' = θ + ω·dt
//	x' = x + v·cos(θ')·dt
//	y' = y + v·sin(θ')·dt
//	v' = v
func Move(x, u mat.Vector, dt float64) *mat.VecDense {
	v, w := u.AtVec(0), u.AtVec(1)

	yaw := x.AtVec(2) + w*dt

	return mat.NewVecDense(StateDim, []float64{
		x.AtVec(0) + v*math.Cos(yaw)*dt,
		x.AtVec(1) + v*math.Sin(yaw)*dt,
		yaw,
		v,
	})
}

// RangeLikelihood returns the value of the Gaussian PDF with mean and standard deviation sigma at x.
func RangeLikelihood(x, mean, sigma float64) float64 {
	d := x - mean
	return 1.0 / math.Sqrt(2.0*math.Pi*sigma*sigma) * math.Exp(-0.5*d*d/(sigma*sigma))
}

// Unicycle is a unicycle kinematic model with a fixed time step
type Unicycle struct {
	dt float64
}

// NewUnicycle creates new Unicycle model with time step dt and returns it.
// It returns error if dt is not positive.
func NewUnicycle(dt float64) (*Unicycle, error) {
	if dt <= 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return nil, fmt.Errorf("%w: time step %f", filter.ErrInvalidConfig, dt)
	}

	return &Unicycle{dt: dt}, nil
}

// Propagate propagates state x to the next time step given control u.
// It returns error if x or u have invalid dimensions.
func (m *Unicycle) Propagate(x, u mat.Vector) (mat.Vector, error) {
	if x.Len() != StateDim {
		return nil, fmt.Errorf("%w: state dimension %d", filter.ErrInvalidInput, x.Len())
	}

	if u.Len() != ControlDim {
		return nil, fmt.Errorf("%w: control dimension %d", filter.ErrInvalidInput, u.Len())
	}

	return Move(x, u, m.dt), nil
}

// DT returns model time step
func (m *Unicycle) DT() float64 {
	return m.dt
}

// RangeSensor scores states against range observations with Gaussian range error
type RangeSensor struct {
	variance float64
	sigma    float64
}

// NewRangeSensor creates new RangeSensor with range error variance and returns it.
// It returns error if variance is not positive.
func NewRangeSensor(variance float64) (*RangeSensor, error) {
	if variance <= 0 || math.IsNaN(variance) || math.IsInf(variance, 0) {
		return nil, fmt.Errorf("%w: measurement variance %f", filter.ErrInvalidConfig, variance)
	}

	return &RangeSensor{
		variance: variance,
		sigma:    math.Sqrt(variance),
	}, nil
}

// Likelihood returns the product of range likelihoods of all observations in z given state x.
// Observations are treated as conditionally independent; an empty z yields 1.
func (s *RangeSensor) Likelihood(x mat.Vector, z []filter.Observation) float64 {
	l := 1.0
	for _, o := range z {
		pred := math.Hypot(x.AtVec(0)-o.X, x.AtVec(1)-o.Y)
		l *= RangeLikelihood(pred, o.Range, s.sigma)
	}

	return l
}

// Variance returns range error variance
func (s *RangeSensor) Variance() float64 {
	return s.variance
}
