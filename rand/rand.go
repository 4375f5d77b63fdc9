// Package rand provides seedable random sources and weighted index draws
// used to resample filter particles.
package rand

import (
	"fmt"
	"sort"
	"time"

	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

// Source is a source of uniformly distributed pseudo-random uint64 values
type Source = exprand.Source

// NewSource returns a new Source seeded with seed
func NewSource(seed uint64) Source {
	return exprand.NewSource(seed)
}

// NewTimeSource returns a new Source seeded from the wall clock
func NewTimeSource() Source {
	return exprand.NewSource(uint64(time.Now().UnixNano()))
}

// cumWeights validates w and returns its cumulative sum
func cumWeights(w []float64) ([]float64, error) {
	if len(w) == 0 {
		return nil, fmt.Errorf("invalid weights count: %d", len(w))
	}

	for i := range w {
		if w[i] < 0 {
			return nil, fmt.Errorf("invalid weight at %d: %f", i, w[i])
		}
	}

	cum := make([]float64, len(w))
	floats.CumSum(cum, w)

	if total := cum[len(cum)-1]; total <= 0 {
		return nil, fmt.Errorf("invalid weights sum: %f", total)
	}

	return cum, nil
}

// SystematicDrawN draws n indices into w using low-variance (systematic) sampling
// and returns them. u must be a uniform draw from [0, 1): the first pointer is
// placed at u/n of the total weight and every following pointer 1/n further.
// The returned indices are non-decreasing and are found in a single forward pass.
// It returns error if w is empty, contains negative values or sums to zero, or if n or u are invalid.
func SystematicDrawN(w []float64, n int, u float64) ([]int, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid number of draws: %d", n)
	}

	if u < 0 || u >= 1 {
		return nil, fmt.Errorf("invalid offset: %f", u)
	}

	cum, err := cumWeights(w)
	if err != nil {
		return nil, err
	}

	total := cum[len(cum)-1]
	step := total / float64(n)
	last := len(cum) - 1

	indices := make([]int, n)
	ind := 0
	for i := range indices {
		ptr := (u + float64(i)) * step
		for ptr > cum[ind] && ind < last {
			ind++
		}
		indices[i] = ind
	}

	return indices, nil
}

// RouletteDrawN draws n indices into w with probabilities proportional to their weights
// using independent draws (multinomial sampling) and returns them.
// It returns error if w is empty, contains negative values or sums to zero, or if n is invalid.
func RouletteDrawN(w []float64, n int, src Source) ([]int, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid number of draws: %d", n)
	}

	cum, err := cumWeights(w)
	if err != nil {
		return nil, err
	}

	if src == nil {
		src = NewTimeSource()
	}
	rnd := exprand.New(src)

	total := cum[len(cum)-1]
	last := len(cum) - 1

	indices := make([]int, n)
	for i := range indices {
		ind := sort.SearchFloat64s(cum, rnd.Float64()*total)
		if ind > last {
			ind = last
		}
		indices[i] = ind
	}

	return indices, nil
}
