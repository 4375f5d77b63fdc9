package sim

import (
	"fmt"
	"math"

	filter "github.com/marco-hrlic/go-localize"
	"github.com/marco-hrlic/go-localize/model"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Robot is a simulated robot. It tracks its true state and the state
// obtained by integrating noisy controls (dead reckoning).
type Robot struct {
	model *model.Unicycle
	truth *mat.VecDense
	dr    *mat.VecDense
	noise filter.Noise
}

// NewRobot creates new Robot starting at x with time step dt and returns it.
// Input noise n is added to the commanded controls before they are reported.
// It returns error if x or n have invalid dimensions or dt is not positive.
func NewRobot(x mat.Vector, dt float64, n filter.Noise) (*Robot, error) {
	if x == nil || x.Len() != model.StateDim {
		return nil, fmt.Errorf("invalid robot state: %v", x)
	}

	if n == nil || n.Cov().Symmetric() != model.ControlDim {
		return nil, fmt.Errorf("invalid input noise")
	}

	m, err := model.NewUnicycle(dt)
	if err != nil {
		return nil, err
	}

	return &Robot{
		model: m,
		truth: mat.VecDenseCopyOf(x),
		dr:    mat.VecDenseCopyOf(x),
		noise: n,
	}, nil
}

// Move moves the robot by one step under control u and returns the noisy
// control the robot reports, which also drives dead reckoning.
func (r *Robot) Move(u mat.Vector) (mat.Vector, error) {
	truth, err := r.model.Propagate(r.truth, u)
	if err != nil {
		return nil, fmt.Errorf("robot propagation failed: %w", err)
	}

	ud := mat.NewVecDense(model.ControlDim, nil)
	ud.AddVec(u, r.noise.Sample())

	dr, err := r.model.Propagate(r.dr, ud)
	if err != nil {
		return nil, fmt.Errorf("dead reckoning propagation failed: %w", err)
	}

	r.truth = mat.VecDenseCopyOf(truth)
	r.dr = mat.VecDenseCopyOf(dr)

	return ud, nil
}

// Truth returns the true robot state
func (r *Robot) Truth() mat.Vector {
	return mat.VecDenseCopyOf(r.truth)
}

// DeadReckoning returns the dead reckoning state
func (r *Robot) DeadReckoning() mat.Vector {
	return mat.VecDenseCopyOf(r.dr)
}

// Landmark is a landmark with known position
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Landmarks is a landmark field
type Landmarks []Landmark

// Observe returns range observations of all landmarks within maxRange of state x.
// Each range is corrupted by a sample of rangeNoise.
func (l Landmarks) Observe(x mat.Vector, maxRange float64, rangeNoise distuv.Normal) []filter.Observation {
	z := make([]filter.Observation, 0, len(l))
	for _, lm := range l {
		d := math.Hypot(x.AtVec(0)-lm.X, x.AtVec(1)-lm.Y)
		if d > maxRange {
			continue
		}
		z = append(z, filter.Observation{
			Range: d + rangeNoise.Rand(),
			X:     lm.X,
			Y:     lm.Y,
		})
	}

	return z
}
