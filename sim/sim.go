package sim

import (
	"fmt"
	"math"

	filter "github.com/marco-hrlic/go-localize"
	"github.com/marco-hrlic/go-localize/model"
	"github.com/marco-hrlic/go-localize/noise"
	"github.com/marco-hrlic/go-localize/particle/pf"
	"github.com/marco-hrlic/go-localize/rand"
	"github.com/milosgajdos83/matrix"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Step is the outcome of a single simulation step
type Step struct {
	Index         int
	Truth         []float64
	DeadReckoning []float64
	Estimate      []float64
	CovTrace      float64
	// Neff is the effective sample size the resampling decision was taken on
	Neff          float64
	Resampled     bool
	Observations  int
}

// Recorder records simulation steps
type Recorder interface {
	Record(Step) error
}

// Simulation drives a simulated robot through a landmark field and
// localizes it with a particle filter.
type Simulation struct {
	cfg        *Config
	robot      *Robot
	filter     *pf.PF
	landmarks  Landmarks
	rangeNoise distuv.Normal
	u          *mat.VecDense
	index      int
}

// New creates new Simulation from cfg and returns it.
// Every random stream of the simulation is seeded from cfg.GetSeed().
// It returns error if cfg is invalid or the filter fails to be created.
func New(cfg *Config) (*Simulation, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	seed := cfg.GetSeed()

	inputNoise, err := newInputNoise(cfg.GetInputNoiseV(), cfg.GetInputNoiseYaw(), seed)
	if err != nil {
		return nil, fmt.Errorf("failed to create input noise: %w", err)
	}

	x0 := mat.NewVecDense(model.StateDim, nil)
	robot, err := NewRobot(x0, cfg.GetDT(), inputNoise)
	if err != nil {
		return nil, fmt.Errorf("failed to create robot: %w", err)
	}

	m, err := model.NewUnicycle(cfg.GetDT())
	if err != nil {
		return nil, err
	}

	sensor, err := model.NewRangeSensor(cfg.GetRangeVariance())
	if err != nil {
		return nil, err
	}

	q, err := noise.NewDiagonal(diag(cfg.GetFilterNoiseV(), cfg.GetFilterNoiseYaw()), seed+1)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter noise: %w", err)
	}

	var opts []pf.Option
	if cfg.GetResampler() == ResamplerMultinomial {
		opts = append(opts, pf.WithMultinomial())
	}

	ic := NewInitCond(x0, mat.NewSymDense(model.StateDim, nil))
	f, err := pf.New(m, sensor, ic, q, cfg.GetParticles(), rand.NewSource(seed+2), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create particle filter: %w", err)
	}

	return &Simulation{
		cfg:       cfg,
		robot:     robot,
		filter:    f,
		landmarks: cfg.GetLandmarks(),
		rangeNoise: distuv.Normal{
			Mu:    0,
			Sigma: cfg.GetRangeNoise(),
			Src:   rand.NewSource(seed + 3),
		},
		u: mat.NewVecDense(model.ControlDim, []float64{cfg.GetVelocity(), cfg.GetYawRate()}),
	}, nil
}

// newInputNoise returns Gaussian input noise, or Diagonal noise if either deviation is zero
func newInputNoise(v, yaw float64, seed uint64) (filter.Noise, error) {
	if v > 0 && yaw > 0 {
		return noise.NewGaussian([]float64{0, 0}, diag(v*v, yaw*yaw), seed)
	}

	return noise.NewDiagonal(diag(v, yaw), seed)
}

// diag returns a 2x2 symmetric matrix with a and b on its diagonal
func diag(a, b float64) *mat.SymDense {
	return mat.NewSymDense(model.ControlDim, []float64{a, 0, 0, b})
}

// Step moves the robot, observes the landmarks and runs one filter step.
func (s *Simulation) Step() (Step, error) {
	ud, err := s.robot.Move(s.u)
	if err != nil {
		return Step{}, err
	}

	truth := s.robot.Truth()
	z := s.landmarks.Observe(truth, s.cfg.GetMaxRange(), s.rangeNoise)

	est, err := s.filter.Step(z, ud)
	if err != nil {
		return Step{}, fmt.Errorf("filter step %d failed: %w", s.index, err)
	}

	step := Step{
		Index:         s.index,
		Truth:         mat.Col(nil, 0, truth),
		DeadReckoning: mat.Col(nil, 0, s.robot.DeadReckoning()),
		Estimate:      mat.Col(nil, 0, est.Val()),
		CovTrace:      mat.Trace(est.Cov()),
		Neff:          s.filter.LastNeff(),
		Resampled:     s.filter.Resampled(),
		Observations:  len(z),
	}
	s.index++

	return step, nil
}

// Filter returns the simulation particle filter
func (s *Simulation) Filter() *pf.PF {
	return s.filter
}

// Robot returns the simulated robot
func (s *Simulation) Robot() *Robot {
	return s.robot
}

// Landmarks returns the simulation landmark field
func (s *Simulation) Landmarks() Landmarks {
	return s.landmarks
}

// Result is the outcome of a simulation run. Trajectories store one state per row.
type Result struct {
	Truth         *mat.Dense
	DeadReckoning *mat.Dense
	Estimate      *mat.Dense
	CovTrace      []float64
	Neff          []float64
	Resamples     int
	// Spread is the unweighted covariance of the final particles
	Spread mat.Symmetric
}

// PositionRMSE returns root mean square position error of the estimate
func (r *Result) PositionRMSE() float64 {
	return rmse(r.Truth, r.Estimate)
}

// DeadReckoningRMSE returns root mean square position error of dead reckoning
func (r *Result) DeadReckoningRMSE() float64 {
	return rmse(r.Truth, r.DeadReckoning)
}

func rmse(truth, est *mat.Dense) float64 {
	rows, _ := truth.Dims()
	sum := 0.0
	for i := 0; i < rows; i++ {
		dx := truth.At(i, 0) - est.At(i, 0)
		dy := truth.At(i, 1) - est.At(i, 1)
		sum += dx*dx + dy*dy
	}

	return math.Sqrt(sum / float64(rows))
}

// Run runs a simulation configured by cfg and returns its result.
// If rec is not nil every step is recorded.
// It returns error if the simulation fails to be created, a step fails or rec fails to record it.
func Run(cfg *Config, rec Recorder) (*Result, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}

	steps := s.cfg.GetSteps()
	res := &Result{
		Truth:         mat.NewDense(steps, model.StateDim, nil),
		DeadReckoning: mat.NewDense(steps, model.StateDim, nil),
		Estimate:      mat.NewDense(steps, model.StateDim, nil),
		CovTrace:      make([]float64, steps),
		Neff:          make([]float64, steps),
	}

	for i := 0; i < steps; i++ {
		step, err := s.Step()
		if err != nil {
			return nil, err
		}

		res.Truth.SetRow(i, step.Truth)
		res.DeadReckoning.SetRow(i, step.DeadReckoning)
		res.Estimate.SetRow(i, step.Estimate)
		res.CovTrace[i] = step.CovTrace
		res.Neff[i] = step.Neff
		if step.Resampled {
			res.Resamples++
		}

		if rec != nil {
			if err := rec.Record(step); err != nil {
				return nil, fmt.Errorf("failed to record step %d: %w", i, err)
			}
		}
	}

	spread, err := matrix.Cov(s.filter.Particles().(*mat.Dense), "cols")
	if err != nil {
		return nil, fmt.Errorf("failed to calculate particle spread: %w", err)
	}
	res.Spread = spread

	return res, nil
}
