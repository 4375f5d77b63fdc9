package pf

import (
	"errors"
	"math"
	"testing"

	filter "github.com/marco-hrlic/go-localize"
	"github.com/marco-hrlic/go-localize/model"
	"github.com/marco-hrlic/go-localize/noise"
	"github.com/marco-hrlic/go-localize/particle"
	"github.com/marco-hrlic/go-localize/rand"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	okModel  *model.Unicycle
	okSensor *model.RangeSensor
	okIC     *initCond
)

type initCond struct {
	state *mat.VecDense
	cov   *mat.SymDense
}

func (c *initCond) State() mat.Vector  { return mat.VecDenseCopyOf(c.state) }
func (c *initCond) Cov() mat.Symmetric { return mat.NewSymDense(c.cov.Symmetric(), c.cov.RawSymmetric().Data) }

func newInitCond(state []float64, cov []float64) *initCond {
	return &initCond{
		state: mat.NewVecDense(len(state), state),
		cov:   mat.NewSymDense(len(state), cov),
	}
}

// fakeWeigher returns the configured likelihoods in turn
type fakeWeigher struct {
	vals []float64
	i    int
}

func (w *fakeWeigher) Likelihood(x mat.Vector, z []filter.Observation) float64 {
	l := w.vals[w.i%len(w.vals)]
	w.i++
	return l
}

func setup() {
	okModel, _ = model.NewUnicycle(0.1)
	okSensor, _ = model.NewRangeSensor(0.04)
	okIC = newInitCond([]float64{0, 0, 0, 0}, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 0.5, 0,
		0, 0, 0, 0.1,
	})
}

func TestMain(m *testing.M) {
	setup()
	m.Run()
}

func TestPFNew(t *testing.T) {
	assert := assert.New(t)

	q, err := noise.NewDiagonal(mat.NewSymDense(2, []float64{0.1, 0, 0, 0.05}), 1)
	require.NoError(t, err)

	f, err := New(okModel, okSensor, okIC, q, 10, rand.NewSource(1))
	assert.NotNil(f)
	assert.NoError(err)

	var _ particle.Particle = f

	// before the first step the initial condition is reported
	assert.True(mat.Equal(okIC.State(), f.State()))
	assert.True(mat.Equal(okIC.Cov(), f.Cov()))
	assert.InDelta(10.0, f.Neff(), 1e-9)
	assert.Equal(5.0, f.Threshold())
	assert.False(f.Resampled())

	w := f.Weights()
	assert.Equal(10, w.Len())
	for i := 0; i < w.Len(); i++ {
		assert.Equal(0.1, w.AtVec(i))
	}

	// all particles start at the initial state
	p := f.Particles()
	r, c := p.Dims()
	assert.Equal(4, r)
	assert.Equal(10, c)
	for j := 0; j < c; j++ {
		assert.True(mat.Equal(okIC.State(), mat.NewVecDense(4, mat.Col(nil, j, p))))
	}

	// nil noise and source are allowed
	f, err = New(okModel, okSensor, okIC, nil, 1, nil)
	assert.NotNil(f)
	assert.NoError(err)
}

func TestPFNewErrors(t *testing.T) {
	assert := assert.New(t)

	badQ, err := noise.NewDiagonal(mat.NewSymDense(3, nil), 1)
	require.NoError(t, err)

	testCases := []struct {
		m  filter.Propagator
		o  filter.Weigher
		ic filter.InitCond
		q  filter.Noise
		p  int
	}{
		{okModel, okSensor, okIC, nil, 0},
		{okModel, okSensor, okIC, nil, -5},
		{nil, okSensor, okIC, nil, 10},
		{okModel, nil, okIC, nil, 10},
		{okModel, okSensor, nil, nil, 10},
		{okModel, okSensor, newInitCond([]float64{0, 0, 0}, nil), nil, 10},
		{okModel, okSensor, &initCond{state: mat.NewVecDense(4, nil), cov: mat.NewSymDense(3, nil)}, nil, 10},
		{okModel, okSensor, okIC, badQ, 10},
	}

	for _, tc := range testCases {
		f, err := New(tc.m, tc.o, tc.ic, tc.q, tc.p, rand.NewSource(1))
		assert.Nil(f)
		assert.True(errors.Is(err, filter.ErrInvalidConfig))
	}
}

func TestPFStepSingleParticle(t *testing.T) {
	assert := assert.New(t)

	x0 := newInitCond([]float64{1, 2, 0.3, 0}, make([]float64, 16))
	f, err := New(okModel, okSensor, x0, nil, 1, rand.NewSource(1))
	require.NoError(t, err)

	u := mat.NewVecDense(2, []float64{1.5, 0.2})
	est, err := f.Step(nil, u)
	assert.NoError(err)

	want := model.Move(x0.State(), u, 0.1)
	assert.True(mat.EqualApprox(want, est.Val(), 1e-12))
	assert.True(mat.EqualApprox(want, f.State(), 1e-12))
	assert.InDelta(0.0, mat.Trace(f.Cov()), 1e-15)
	assert.False(f.Resampled())
}

func TestPFStepScenario(t *testing.T) {
	assert := assert.New(t)

	f, err := New(okModel, okSensor, okIC, nil, 100, rand.NewSource(1))
	require.NoError(t, err)

	u := mat.NewVecDense(2, []float64{1.0, 0.0})
	z := []filter.Observation{{Range: math.Hypot(5-0.1, 0), X: 5, Y: 0}}

	est, err := f.Step(z, u)
	assert.NoError(err)
	assert.InDelta(0.1, est.Val().AtVec(0), 1e-9)
	assert.InDelta(0.0, est.Val().AtVec(1), 1e-9)

	// identical particles keep identical weights
	assert.InDelta(100.0, f.Neff(), 1e-6)
	assert.False(f.Resampled())
	for i := 0; i < 100; i++ {
		assert.InDelta(0.01, f.Weights().AtVec(i), 1e-12)
	}
}

func TestPFStepInvariants(t *testing.T) {
	assert := assert.New(t)

	for _, n := range []int{2, 51, 200} {
		q, err := noise.NewDiagonal(mat.NewSymDense(2, []float64{0.5, 0, 0, 0.3}), uint64(n))
		require.NoError(t, err)

		f, err := New(okModel, okSensor, okIC, q, n, rand.NewSource(uint64(n)))
		require.NoError(t, err)

		truth := mat.NewVecDense(4, []float64{0, 0, 0, 0})
		u := mat.NewVecDense(2, []float64{1.0, 0.1})
		landmarks := [][2]float64{{10, 0}, {10, 10}, {0, 15}, {-5, 20}}

		resamples := 0
		for step := 0; step < 50; step++ {
			truth = model.Move(truth, u, 0.1)

			z := make([]filter.Observation, 0, len(landmarks))
			for i, lm := range landmarks {
				// landmarks come in and out of view
				if (step+i)%3 == 0 {
					continue
				}
				d := math.Hypot(truth.AtVec(0)-lm[0], truth.AtVec(1)-lm[1])
				z = append(z, filter.Observation{Range: d, X: lm[0], Y: lm[1]})
			}

			_, err := f.Step(z, u)
			require.NoError(t, err)

			w := f.Weights()
			assert.Equal(n, w.Len())
			assert.InDelta(1.0, mat.Sum(w), 1e-5)

			_, c := f.Particles().Dims()
			assert.Equal(n, c)

			neff := f.Neff()
			assert.True(neff > 0)
			assert.True(neff <= float64(n)+1e-9)

			if f.Resampled() {
				resamples++
				for i := 0; i < n; i++ {
					assert.Equal(1/float64(n), w.AtVec(i))
				}
				assert.InDelta(float64(n), neff, 1e-9)
			}
		}

		if n > 2 {
			assert.True(resamples > 0, "particles of %d were never resampled", n)
		}
	}
}

func TestPFResampleDecision(t *testing.T) {
	assert := assert.New(t)

	u := mat.NewVecDense(2, []float64{0.0, 0.0})

	testCases := []struct {
		likelihoods []float64
		resample    bool
	}{
		// Neff == 4
		{[]float64{1, 1, 1, 1}, false},
		// Neff == 3
		{[]float64{1, 1, 1, 0}, false},
		// Neff == 2 == threshold
		{[]float64{1, 1, 0, 0}, false},
		// Neff == 1.6
		{[]float64{3, 1, 0, 0}, true},
		// Neff == 1
		{[]float64{0, 0, 5, 0}, true},
	}

	for _, tc := range testCases {
		w := &fakeWeigher{vals: tc.likelihoods}
		f, err := New(okModel, w, okIC, nil, 4, rand.NewSource(1))
		require.NoError(t, err)

		// weights before resampling decide the outcome
		norm := make([]float64, len(tc.likelihoods))
		copy(norm, tc.likelihoods)
		floats.Scale(1/floats.Sum(norm), norm)
		neff := 1 / floats.Dot(norm, norm)

		_, err = f.Step(nil, u)
		assert.NoError(err)
		assert.Equal(tc.resample, f.Resampled())
		assert.Equal(neff < f.Threshold(), f.Resampled())
		// the deciding value survives resampling
		assert.InDelta(neff, f.LastNeff(), 1e-12)

		if tc.resample {
			assert.Equal(4.0, f.Neff())
			for i := 0; i < 4; i++ {
				assert.Equal(0.25, f.Weights().AtVec(i))
			}
		} else {
			assert.InDeltaSlice(norm, f.Weights().(*mat.VecDense).RawVector().Data, 1e-12)
		}
	}
}

func TestPFResampleCopiesHeavyParticles(t *testing.T) {
	assert := assert.New(t)

	// spread particles apart first
	q, err := noise.NewDiagonal(mat.NewSymDense(2, []float64{1.0, 0, 0, 0.5}), 3)
	require.NoError(t, err)

	w := &fakeWeigher{vals: []float64{1}}
	f, err := New(okModel, w, okIC, q, 8, rand.NewSource(3))
	require.NoError(t, err)

	u := mat.NewVecDense(2, []float64{1.0, 0.0})
	_, err = f.Step(nil, u)
	require.NoError(t, err)

	// a single particle carries nearly all weight on the next step
	w.vals = []float64{1e-9, 1e-9, 1e-9, 1, 1e-9, 1e-9, 1e-9, 1e-9}
	w.i = 0
	_, err = f.Step(nil, u)
	require.NoError(t, err)
	assert.True(f.Resampled())

	// the estimate is taken before resampling and every particle is now the heavy one
	p := f.Particles()
	heavy := mat.Col(nil, 3, p)
	for c := 0; c < 8; c++ {
		assert.Equal(heavy, mat.Col(nil, c, p))
	}
	assert.InDeltaSlice(heavy, f.State().(*mat.VecDense).RawVector().Data, 1e-6)
}

func TestPFStepDegenerate(t *testing.T) {
	assert := assert.New(t)

	sensor, err := model.NewRangeSensor(1e-6)
	require.NoError(t, err)

	q, err := noise.NewDiagonal(mat.NewSymDense(2, []float64{0.1, 0, 0, 0.1}), 5)
	require.NoError(t, err)

	f, err := New(okModel, sensor, okIC, q, 20, rand.NewSource(5))
	require.NoError(t, err)

	u := mat.NewVecDense(2, []float64{1.0, 0.0})
	_, err = f.Step(nil, u)
	require.NoError(t, err)

	state, cov := f.State(), f.Cov()
	weights, particles := f.Weights(), f.Particles()

	// grossly inconsistent range underflows every weight
	z := []filter.Observation{{Range: 1000, X: 1, Y: 1}}
	est, err := f.Step(z, u)
	assert.Nil(est)
	assert.True(errors.Is(err, filter.ErrDegenerate))

	// failed step leaves the filter untouched
	assert.True(mat.Equal(state, f.State()))
	assert.True(mat.Equal(cov, f.Cov()))
	assert.True(mat.Equal(weights, f.Weights()))
	assert.True(mat.Equal(particles, f.Particles()))

	// the filter keeps working afterwards
	_, err = f.Step(nil, u)
	assert.NoError(err)
}

func TestPFStepSubnormalWeights(t *testing.T) {
	assert := assert.New(t)

	sensor, err := model.NewRangeSensor(1)
	require.NoError(t, err)

	f, err := New(okModel, sensor, okIC, nil, 2, rand.NewSource(1))
	require.NoError(t, err)

	state, cov := f.State(), f.Cov()
	weights, particles := f.Weights(), f.Particles()

	// predicted range to the landmark is 4.9: the likelihood of a range
	// 38.3 further off is around 1e-319, below the smallest normal float64
	u := mat.NewVecDense(2, []float64{1.0, 0.0})
	z := []filter.Observation{{Range: 4.9 + 38.3, X: 5, Y: 0}}
	l := sensor.Likelihood(model.Move(okIC.State(), u, 0.1), z)
	require.True(t, l > 0 && l < 0x1p-1022)

	est, err := f.Step(z, u)
	assert.Nil(est)
	assert.True(errors.Is(err, filter.ErrDegenerate))

	assert.True(mat.Equal(state, f.State()))
	assert.True(mat.Equal(cov, f.Cov()))
	assert.True(mat.Equal(weights, f.Weights()))
	assert.True(mat.Equal(particles, f.Particles()))
	assert.Equal(2.0, f.LastNeff())
	assert.False(f.Resampled())
}

func TestPFStepTinyWeights(t *testing.T) {
	assert := assert.New(t)

	// tiny but normal likelihoods still normalize exactly
	w := &fakeWeigher{vals: []float64{1e-300, 3e-300}}
	f, err := New(okModel, w, okIC, nil, 2, rand.NewSource(1))
	require.NoError(t, err)

	est, err := f.Step(nil, mat.NewVecDense(2, []float64{1.0, 0.0}))
	require.NoError(t, err)
	assert.False(f.Resampled())
	assert.InDeltaSlice([]float64{0.25, 0.75}, f.Weights().(*mat.VecDense).RawVector().Data, 1e-12)
	assert.InDelta(1.6, f.LastNeff(), 1e-12)

	for i := 0; i < 4; i++ {
		v := est.Val().AtVec(i)
		assert.False(math.IsNaN(v) || math.IsInf(v, 0))
	}
	assert.InDelta(0.1, est.Val().AtVec(0), 1e-12)
}

func TestPFMultinomialResampling(t *testing.T) {
	assert := assert.New(t)

	q, err := noise.NewDiagonal(mat.NewSymDense(2, []float64{1.0, 0, 0, 0.5}), 4)
	require.NoError(t, err)

	w := &fakeWeigher{vals: []float64{1}}
	f, err := New(okModel, w, okIC, q, 6, rand.NewSource(4), WithMultinomial())
	require.NoError(t, err)

	u := mat.NewVecDense(2, []float64{1.0, 0.0})
	_, err = f.Step(nil, u)
	require.NoError(t, err)
	assert.False(f.Resampled())

	w.vals = []float64{0, 0, 0, 0, 1, 0}
	w.i = 0
	_, err = f.Step(nil, u)
	require.NoError(t, err)
	assert.True(f.Resampled())
	assert.Equal(1.0, f.LastNeff())

	p := f.Particles()
	heavy := mat.Col(nil, 4, p)
	for c := 0; c < 6; c++ {
		assert.Equal(heavy, mat.Col(nil, c, p))
		assert.Equal(1/6.0, f.Weights().AtVec(c))
	}
}

func TestPFStepInvalidControl(t *testing.T) {
	assert := assert.New(t)

	f, err := New(okModel, okSensor, okIC, nil, 4, rand.NewSource(1))
	require.NoError(t, err)

	est, err := f.Step(nil, mat.NewVecDense(3, nil))
	assert.Nil(est)
	assert.True(errors.Is(err, filter.ErrInvalidInput))

	est, err = f.Step(nil, nil)
	assert.Nil(est)
	assert.True(errors.Is(err, filter.ErrInvalidInput))
}

func TestPFAccessorsIdempotent(t *testing.T) {
	assert := assert.New(t)

	q, err := noise.NewDiagonal(mat.NewSymDense(2, []float64{0.3, 0, 0, 0.3}), 9)
	require.NoError(t, err)

	f, err := New(okModel, okSensor, okIC, q, 30, rand.NewSource(9))
	require.NoError(t, err)

	z := []filter.Observation{{Range: 5, X: 5, Y: 0}}
	_, err = f.Step(z, mat.NewVecDense(2, []float64{1, 0}))
	require.NoError(t, err)

	assert.True(mat.Equal(f.State(), f.State()))
	assert.True(mat.Equal(f.Cov(), f.Cov()))

	// returned values are copies
	s := f.State().(*mat.VecDense)
	s.SetVec(0, 1e6)
	assert.NotEqual(1e6, f.State().AtVec(0))
}

func TestPFConvergence(t *testing.T) {
	assert := assert.New(t)

	m, err := model.NewUnicycle(1.0)
	require.NoError(t, err)

	sensor, err := model.NewRangeSensor(0.01)
	require.NoError(t, err)

	q, err := noise.NewDiagonal(mat.NewSymDense(2, []float64{0.5, 0, 0, 0.5}), 11)
	require.NoError(t, err)

	f, err := New(m, sensor, okIC, q, 500, rand.NewSource(11))
	require.NoError(t, err)

	// stationary robot at the origin
	u := mat.NewVecDense(2, []float64{0, 0})
	landmarks := [][2]float64{{5, 0}, {0, 5}, {-5, 0}, {0, -5}}
	z := make([]filter.Observation, len(landmarks))
	for i, lm := range landmarks {
		z[i] = filter.Observation{Range: math.Hypot(lm[0], lm[1]), X: lm[0], Y: lm[1]}
	}

	// no observations: particles diffuse
	for i := 0; i < 6; i++ {
		_, err := f.Step(nil, u)
		require.NoError(t, err)
	}
	spread := posTrace(f.Cov())
	assert.True(spread > 0.5)

	var late float64
	for i := 0; i < 10; i++ {
		_, err := f.Step(z, u)
		require.NoError(t, err)
		if i >= 5 {
			late += posTrace(f.Cov()) / 5
		}
	}

	assert.True(late < 0.5*spread, "position spread %f did not shrink below %f", late, spread)
	assert.InDelta(0.0, f.State().AtVec(0), 0.3)
	assert.InDelta(0.0, f.State().AtVec(1), 0.3)
}

func posTrace(cov mat.Symmetric) float64 {
	return cov.At(0, 0) + cov.At(1, 1)
}
