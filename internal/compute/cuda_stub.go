//go:build !cuda

package compute

import "errors"

var errNoCUDA = errors.New("compute: cuda (not available)")

type CUDABackend struct{}

func NewCUDABackend() *CUDABackend {
	return &CUDABackend{}
}

func (c *CUDABackend) Name() string       { return "cuda (not available)" }
func (c *CUDABackend) Available() bool    { return false }
func (c *CUDABackend) Cleanup()           {}
func (c *CUDABackend) Synchronize() error { return nil }

func (c *CUDABackend) NewBuffer(n int) (Buffer, error) { return nil, errNoCUDA }

func (c *CUDABackend) Axpy(dst, src Buffer, scale float64) error { return errNoCUDA }

func (c *CUDABackend) Fill(dst Buffer, v float64) error { return errNoCUDA }

func (c *CUDABackend) Wrap(pos Buffer, origin, period [3]float64) error { return errNoCUDA }

func (c *CUDABackend) PairForces(pos, mass, force Buffer, g, softening float64) error {
	return errNoCUDA
}
