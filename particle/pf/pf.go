package pf

import (
	"fmt"
	"math"

	filter "github.com/marco-hrlic/go-localize"
	"github.com/marco-hrlic/go-localize/estimate"
	"github.com/marco-hrlic/go-localize/model"
	"github.com/marco-hrlic/go-localize/noise"
	"github.com/marco-hrlic/go-localize/rand"
	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// PF is a Particle Filter localizing a robot from range-only landmark observations.
// Particles are propagated through the motion model with noisy controls, weighted
// by the range likelihood of the observations and resampled with low-variance
// resampling whenever the effective sample size drops below half the particle count.
//
// PF is not safe for concurrent use.
type PF struct {
	// model propagates particles to the next step
	model filter.Propagator
	// sensor weighs particles against observations
	sensor filter.Weigher
	// x stores filter particles as column vectors
	x *mat.Dense
	// xPred stores predicted particles until the step is committed
	xPred *mat.Dense
	// w stores particle weights
	w []float64
	// wPred stores predicted weights until the step is committed
	wPred []float64
	// q is control noise
	q filter.Noise
	// src drives resampling
	src rand.Source
	// rnd draws resampling offsets
	rnd *exprand.Rand
	// threshold is the effective sample size below which particles are resampled
	threshold float64
	// state is the most recent state estimate
	state *mat.VecDense
	// cov is the most recent state covariance
	cov *mat.SymDense
	// neff is the effective sample size the last step decided resampling on
	neff float64
	// resampled reports whether the last step resampled particles
	resampled bool
	// multinomial requests roulette draws instead of low-variance resampling
	multinomial bool
}

// minWeightSum is the smallest normal float64
const minWeightSum = 0x1p-1022

// Option configures PF
type Option func(*PF)

// WithMultinomial makes PF resample with independent roulette draws
// instead of low-variance (systematic) resampling.
func WithMultinomial() Option {
	return func(f *PF) {
		f.multinomial = true
	}
}

// New creates new Particle Filter (PF) with the following parameters and returns it:
// - m:     motion model
// - o:     observation likelihood
// - ic:    initial condition of the filter
// - q:     control noise; nil means noiseless controls
// - p:     number of filter particles
// - src:   source of resampling draws; nil seeds a source from the clock
// - opts:  optional PF configuration
// All particles start at the initial state with equal weights. The initial covariance
// is reported by Cov until the first successful Step.
// New returns error if non-positive number of particles is given or if any of the parameters has invalid dimensions.
func New(m filter.Propagator, o filter.Weigher, ic filter.InitCond, q filter.Noise, p int, src rand.Source, opts ...Option) (*PF, error) {
	// must have at least one particle; can't be negative
	if p <= 0 {
		return nil, fmt.Errorf("%w: particle count %d", filter.ErrInvalidConfig, p)
	}

	if m == nil || o == nil || ic == nil {
		return nil, fmt.Errorf("%w: missing model, sensor or initial condition", filter.ErrInvalidConfig)
	}

	init := ic.State()
	if init == nil || init.Len() != model.StateDim {
		return nil, fmt.Errorf("%w: initial state dimension", filter.ErrInvalidConfig)
	}

	initCov := ic.Cov()
	if initCov == nil || initCov.Symmetric() != model.StateDim {
		return nil, fmt.Errorf("%w: initial covariance dimension", filter.ErrInvalidConfig)
	}

	if q != nil {
		if q.Cov().Symmetric() != model.ControlDim {
			return nil, fmt.Errorf("%w: control noise dimension %d", filter.ErrInvalidConfig, q.Cov().Symmetric())
		}
	} else {
		q, _ = noise.NewZero(model.ControlDim)
	}

	if src == nil {
		src = rand.NewTimeSource()
	}

	// Initialize particle weights to equal probabilities:
	// particle weights must sum up to 1 to represent probability
	w := make([]float64, p)
	for i := range w {
		w[i] = 1 / float64(p)
	}

	// all particles start at the initial state: prediction noise spreads them out
	x := mat.NewDense(model.StateDim, p, nil)
	col := mat.Col(nil, 0, init)
	for c := 0; c < p; c++ {
		x.SetCol(c, col)
	}

	cov := mat.NewSymDense(model.StateDim, nil)
	cov.CopySym(initCov)

	f := &PF{
		model:     m,
		sensor:    o,
		x:         x,
		xPred:     mat.NewDense(model.StateDim, p, nil),
		w:         w,
		wPred:     make([]float64, p),
		q:         q,
		src:       src,
		rnd:       exprand.New(src),
		threshold: float64(p) / 2.0,
		state:     mat.VecDenseCopyOf(init),
		cov:       cov,
		neff:      float64(p),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

// Step runs one step of the filter for observations z and control input u and returns the new estimate.
// It predicts particles through the motion model with noisy controls, weighs them by z,
// computes the weighted mean and covariance and resamples particles when their effective
// sample size falls below half of the particle count.
// Step is atomic: if it returns error the filter is left as it was before the call.
// It returns error if u has invalid size, if the particles fail to propagate or be resampled,
// or if the particle weights sum underflows.
func (f *PF) Step(z []filter.Observation, u mat.Vector) (filter.Estimate, error) {
	if u == nil || u.Len() != model.ControlDim {
		return nil, fmt.Errorf("%w: control input", filter.ErrInvalidInput)
	}

	ud := mat.NewVecDense(model.ControlDim, nil)
	for c := range f.w {
		// noisy control input
		ud.AddVec(u, f.q.Sample())

		xNext, err := f.model.Propagate(f.x.ColView(c), ud)
		if err != nil {
			return nil, fmt.Errorf("particle state propagation failed: %w", err)
		}
		f.xPred.Slice(0, model.StateDim, c, c+1).(*mat.Dense).Copy(xNext)

		f.wPred[c] = f.w[c] * f.sensor.Likelihood(xNext, z)
	}

	// a subnormal sum has already lost its precision
	sum := floats.Sum(f.wPred)
	if !(sum >= minWeightSum) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("%w: weights sum %v", filter.ErrDegenerate, sum)
	}

	// normalize the particle weights so they express probability
	for i := range f.wPred {
		f.wPred[i] /= sum
	}

	neff := 1.0 / floats.Dot(f.wPred, f.wPred)

	var indices []int
	if neff < f.threshold {
		var err error
		if indices, err = f.draw(f.wPred); err != nil {
			return nil, fmt.Errorf("failed to resample filter particles: %w", err)
		}
	}

	// commit the step
	f.state, f.cov = posterior(f.xPred, f.wPred)
	f.neff = neff
	f.resampled = indices != nil

	if f.resampled {
		// f.x is free: its particles were propagated into f.xPred
		for c, ind := range indices {
			f.x.Slice(0, model.StateDim, c, c+1).(*mat.Dense).Copy(f.xPred.ColView(ind))
		}
		// we have resampled particles, therefore we must reinitialize their weights, too
		for i := range f.w {
			f.w[i] = 1 / float64(len(f.w))
		}
	} else {
		f.x, f.xPred = f.xPred, f.x
		f.w, f.wPred = f.wPred, f.w
	}

	return estimate.NewBaseWithCov(f.state, f.cov)
}

// posterior returns the weighted mean and covariance of particles x with normalized weights w
func posterior(x *mat.Dense, w []float64) (*mat.VecDense, *mat.SymDense) {
	mean := mat.NewVecDense(model.StateDim, nil)
	mean.MulVec(x, mat.NewVecDense(len(w), w))

	cov := mat.NewSymDense(model.StateDim, nil)
	dx := mat.NewVecDense(model.StateDim, nil)
	for c := range w {
		dx.SubVec(x.ColView(c), mean)
		cov.SymRankOne(cov, w[c], dx)
	}

	return mean, cov
}

// draw picks len(w) particle indices in proportion to the normalized weights w
func (f *PF) draw(w []float64) ([]int, error) {
	if f.multinomial {
		return rand.RouletteDrawN(w, len(w), f.src)
	}

	return rand.SystematicDrawN(w, len(w), f.rnd.Float64())
}

// State returns the most recent state estimate.
// Before the first successful Step it returns the initial state.
func (f *PF) State() mat.Vector {
	return mat.VecDenseCopyOf(f.state)
}

// Cov returns the most recent state covariance.
// Before the first successful Step it returns the initial covariance.
func (f *PF) Cov() mat.Symmetric {
	cov := mat.NewSymDense(f.cov.Symmetric(), nil)
	cov.CopySym(f.cov)

	return cov
}

// Particles returns filter particles as column vectors
func (f *PF) Particles() mat.Matrix {
	p := &mat.Dense{}
	p.Clone(f.x)

	return p
}

// Weights returns a vector containing filter particle weights
func (f *PF) Weights() mat.Vector {
	data := make([]float64, len(f.w))
	copy(data, f.w)

	return mat.NewVecDense(len(data), data)
}

// Neff returns effective sample size of the particle weights: 1/Σw².
func (f *PF) Neff() float64 {
	return 1.0 / floats.Dot(f.w, f.w)
}

// LastNeff returns the effective sample size of the normalized weights of the last
// successful Step, taken before any resampling. It returns the particle count before the first Step.
func (f *PF) LastNeff() float64 {
	return f.neff
}

// Resampled returns true if the last successful Step resampled the particles
func (f *PF) Resampled() bool {
	return f.resampled
}

// Threshold returns the effective sample size below which particles are resampled
func (f *PF) Threshold() float64 {
	return f.threshold
}
