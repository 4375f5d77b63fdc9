package noise

import (
	"fmt"

	"github.com/marco-hrlic/go-localize/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// Zero is zero noise: its samples are always zero vectors
type Zero struct {
	size int
}

// NewZero creates new zero noise of the given size and returns it.
// It returns error if size is not positive.
func NewZero(size int) (*Zero, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid noise size: %d", size)
	}

	return &Zero{size: size}, nil
}

// Sample returns a zero vector
func (z *Zero) Sample() mat.Vector {
	return mat.NewVecDense(z.size, nil)
}

// Cov returns zero covariance matrix
func (z *Zero) Cov() mat.Symmetric {
	return mat.NewSymDense(z.size, nil)
}

// Reset does nothing for zero noise
func (z *Zero) Reset() error {
	return nil
}

// Diagonal is noise made of independent zero mean Gaussians.
// The diagonal entries of its matrix are used as standard deviations that
// scale standard normal samples; off-diagonal entries are ignored.
type Diagonal struct {
	cov   *mat.SymDense
	scale []float64
	seed  uint64
	src   rand.Source
	dist  distuv.Normal
}

// NewDiagonal creates new Diagonal noise from the diagonal of cov and returns it.
// Sampling is driven by a source seeded with seed.
// It returns error if cov is empty or if any of its diagonal entries is negative.
func NewDiagonal(cov mat.Symmetric, seed uint64) (*Diagonal, error) {
	if cov == nil || cov.Symmetric() == 0 {
		return nil, fmt.Errorf("invalid noise covariance: %v", cov)
	}

	n := cov.Symmetric()
	scale := make([]float64, n)
	for i := range scale {
		scale[i] = cov.At(i, i)
		if scale[i] < 0 {
			return nil, fmt.Errorf("invalid noise scale at %d: %f", i, scale[i])
		}
	}

	c := mat.NewSymDense(n, nil)
	c.CopySym(cov)

	src := rand.NewSource(seed)

	return &Diagonal{
		cov:   c,
		scale: scale,
		seed:  seed,
		src:   src,
		dist:  distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}, nil
}

// Sample returns a sample of the noise
func (d *Diagonal) Sample() mat.Vector {
	s := mat.NewVecDense(len(d.scale), nil)
	for i := range d.scale {
		s.SetVec(i, d.dist.Rand()*d.scale[i])
	}

	return s
}

// Cov returns the matrix the noise was created with
func (d *Diagonal) Cov() mat.Symmetric {
	cov := mat.NewSymDense(d.cov.Symmetric(), nil)
	cov.CopySym(d.cov)

	return cov
}

// Reset restarts the noise sample stream from its seed
func (d *Diagonal) Reset() error {
	d.src.Seed(d.seed)

	return nil
}

// Gaussian is multivariate Gaussian noise
type Gaussian struct {
	mean []float64
	cov  *mat.SymDense
	seed uint64
	src  rand.Source
	dist *distmv.Normal
}

// NewGaussian creates new Gaussian noise with mean and covariance cov and returns it.
// It returns error if the dimensions of mean and cov do not match or if cov is not positive definite.
func NewGaussian(mean []float64, cov mat.Symmetric, seed uint64) (*Gaussian, error) {
	if cov == nil || len(mean) != cov.Symmetric() {
		return nil, fmt.Errorf("invalid noise dimensions: mean %d", len(mean))
	}

	src := rand.NewSource(seed)
	dist, ok := distmv.NewNormal(mean, cov, src)
	if !ok {
		return nil, fmt.Errorf("noise covariance is not positive definite")
	}

	m := make([]float64, len(mean))
	copy(m, mean)

	c := mat.NewSymDense(cov.Symmetric(), nil)
	c.CopySym(cov)

	return &Gaussian{
		mean: m,
		cov:  c,
		seed: seed,
		src:  src,
		dist: dist,
	}, nil
}

// Sample returns a sample of the noise
func (g *Gaussian) Sample() mat.Vector {
	return mat.NewVecDense(len(g.mean), g.dist.Rand(nil))
}

// Cov returns noise covariance
func (g *Gaussian) Cov() mat.Symmetric {
	cov := mat.NewSymDense(g.cov.Symmetric(), nil)
	cov.CopySym(g.cov)

	return cov
}

// Mean returns noise mean
func (g *Gaussian) Mean() []float64 {
	m := make([]float64, len(g.mean))
	copy(m, g.mean)

	return m
}

// Reset restarts the noise sample stream from its seed
func (g *Gaussian) Reset() error {
	g.src.Seed(g.seed)

	return nil
}
