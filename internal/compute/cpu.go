package compute

import (
	"fmt"
	"math"
	"runtime"
	"sync"
)

const minChunk = 64

type CPUBackend struct {
	workers int
}

func NewCPUBackend() *CPUBackend {
	return &CPUBackend{
		workers: runtime.NumCPU(),
	}
}

func (c *CPUBackend) Name() string       { return "cpu" }
func (c *CPUBackend) Available() bool    { return true }
func (c *CPUBackend) Cleanup()           {}
func (c *CPUBackend) Synchronize() error { return nil }
func (c *CPUBackend) Workers() int       { return c.workers }

type hostBuffer struct {
	owner *CPUBackend
	data  []float64
}

func (b *hostBuffer) Len() int { return len(b.data) }

func (b *hostBuffer) Upload(src []float64) error {
	if b.owner == nil {
		return ErrReleased
	}
	if len(src) != len(b.data) {
		return fmt.Errorf("%w: upload %d into %d", ErrBufferSize, len(src), len(b.data))
	}
	copy(b.data, src)
	return nil
}

func (b *hostBuffer) Download(dst []float64) error {
	if b.owner == nil {
		return ErrReleased
	}
	if len(dst) != len(b.data) {
		return fmt.Errorf("%w: download %d into %d", ErrBufferSize, len(b.data), len(dst))
	}
	copy(dst, b.data)
	return nil
}

func (b *hostBuffer) Release() {
	b.data = nil
	b.owner = nil
}

func (c *CPUBackend) NewBuffer(n int) (Buffer, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrBufferSize, n)
	}
	return &hostBuffer{owner: c, data: make([]float64, n)}, nil
}

func (c *CPUBackend) own(bufs ...Buffer) ([]*hostBuffer, error) {
	out := make([]*hostBuffer, len(bufs))
	for i, b := range bufs {
		hb, ok := b.(*hostBuffer)
		if !ok || hb.owner != c {
			if ok && hb.owner == nil {
				return nil, ErrReleased
			}
			return nil, ErrForeignBuffer
		}
		out[i] = hb
	}
	return out, nil
}

// parallel splits [0, n) into one contiguous chunk per worker.
func (c *CPUBackend) parallel(n int, fn func(start, end int)) {
	if n <= minChunk || c.workers <= 1 {
		fn(0, n)
		return
	}

	workers := c.workers
	if n/minChunk < workers {
		workers = n / minChunk
	}
	chunkSize := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}
		if start >= end {
			break
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

func (c *CPUBackend) Axpy(dst, src Buffer, scale float64) error {
	bufs, err := c.own(dst, src)
	if err != nil {
		return err
	}
	d, s := bufs[0].data, bufs[1].data
	if len(d) != len(s) {
		return fmt.Errorf("%w: axpy %d vs %d", ErrBufferSize, len(d), len(s))
	}

	c.parallel(len(d), func(start, end int) {
		for i := start; i < end; i++ {
			d[i] += scale * s[i]
		}
	})
	return nil
}

func (c *CPUBackend) Fill(dst Buffer, v float64) error {
	bufs, err := c.own(dst)
	if err != nil {
		return err
	}
	d := bufs[0].data

	c.parallel(len(d), func(start, end int) {
		for i := start; i < end; i++ {
			d[i] = v
		}
	})
	return nil
}

func (c *CPUBackend) Wrap(pos Buffer, origin, period [3]float64) error {
	bufs, err := c.own(pos)
	if err != nil {
		return err
	}
	p := bufs[0].data
	if len(p)%3 != 0 {
		return fmt.Errorf("%w: %d is not a multiple of 3", ErrBufferSize, len(p))
	}

	n := len(p) / 3
	c.parallel(n, func(start, end int) {
		for i := start; i < end; i++ {
			for k := 0; k < 3; k++ {
				if period[k] > 0 {
					p[i*3+k] = WrapCoord(p[i*3+k], origin[k], period[k])
				}
			}
		}
	})
	return nil
}

func (c *CPUBackend) PairForces(pos, mass, force Buffer, g, softening float64) error {
	bufs, err := c.own(pos, mass, force)
	if err != nil {
		return err
	}
	p, m, f := bufs[0].data, bufs[1].data, bufs[2].data
	n := len(m)
	if len(p) != 3*n || len(f) != 3*n {
		return fmt.Errorf("%w: pair forces over %d particles", ErrBufferSize, n)
	}

	eps2 := softening * softening
	c.parallel(n, func(start, end int) {
		for i := start; i < end; i++ {
			xi, yi, zi := p[i*3], p[i*3+1], p[i*3+2]
			var fx, fy, fz float64

			for j := 0; j < n; j++ {
				if i == j {
					continue
				}

				rx := p[j*3] - xi
				ry := p[j*3+1] - yi
				rz := p[j*3+2] - zi
				r2 := rx*rx + ry*ry + rz*rz + eps2
				if r2 == 0 {
					continue
				}

				rInv := 1.0 / math.Sqrt(r2)
				r3Inv := rInv * rInv * rInv

				s := g * m[i] * m[j] * r3Inv
				fx += s * rx
				fy += s * ry
				fz += s * rz
			}

			f[i*3], f[i*3+1], f[i*3+2] = fx, fy, fz
		}
	})
	return nil
}

// WrapCoord reduces x into [origin, origin+period).
func WrapCoord(x, origin, period float64) float64 {
	r := math.Mod(x-origin, period)
	if r < 0 {
		r += period
	}
	if r >= period {
		r = 0
	}
	return origin + r
}
