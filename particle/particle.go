package particle

import (
	filter "github.com/marco-hrlic/go-localize"
	"gonum.org/v1/gonum/mat"
)

// Particle is Particle Filter
type Particle interface {
	// filter.Localizer is pose localizer
	filter.Localizer
	// Weights returns particle weights
	Weights() mat.Vector
	// Particles returns filter particles as column vectors
	Particles() mat.Matrix
	// Neff returns effective sample size of the particle weights
	Neff() float64
}
