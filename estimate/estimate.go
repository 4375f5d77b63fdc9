package estimate

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Base is a basic filter estimate: state vector and its covariance
type Base struct {
	val *mat.VecDense
	cov *mat.SymDense
}

// NewBase returns base estimate of state val with zero covariance.
// It returns error if val is empty.
func NewBase(val mat.Vector) (*Base, error) {
	if val == nil || val.Len() == 0 {
		return nil, fmt.Errorf("invalid estimate value: %v", val)
	}

	return &Base{
		val: mat.VecDenseCopyOf(val),
		cov: mat.NewSymDense(val.Len(), nil),
	}, nil
}

// NewBaseWithCov returns base estimate of state val with covariance cov.
// It returns error if the dimensions of val and cov do not match.
func NewBaseWithCov(val mat.Vector, cov mat.Symmetric) (*Base, error) {
	if val == nil || val.Len() == 0 {
		return nil, fmt.Errorf("invalid estimate value: %v", val)
	}

	if cov == nil || cov.Symmetric() != val.Len() {
		return nil, fmt.Errorf("invalid covariance dimension for state of length %d", val.Len())
	}

	c := mat.NewSymDense(cov.Symmetric(), nil)
	c.CopySym(cov)

	return &Base{
		val: mat.VecDenseCopyOf(val),
		cov: c,
	}, nil
}

// Val returns estimated state
func (b *Base) Val() mat.Vector {
	return mat.VecDenseCopyOf(b.val)
}

// Cov returns estimated state covariance
func (b *Base) Cov() mat.Symmetric {
	cov := mat.NewSymDense(b.cov.Symmetric(), nil)
	cov.CopySym(b.cov)

	return cov
}
