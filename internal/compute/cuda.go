//go:build cuda

package compute

/*
#cgo CFLAGS: -I/opt/cuda/include
#cgo LDFLAGS: -L/opt/cuda/lib64 -L${SRCDIR} -lcudart -lkernels -lstdc++
#include <stdlib.h>

extern int cuda_device_count();
extern const char* cuda_device_name_get();
extern double* cuda_alloc(int n);
extern void cuda_free(double* ptr);
extern int cuda_upload(double* dst, const double* src, int n);
extern int cuda_download(double* dst, const double* src, int n);
extern int cuda_axpy(double* dst, const double* src, int n, double scale);
extern int cuda_fill(double* dst, int n, double v);
extern int cuda_wrap(double* pos, int n, double ox, double oy, double oz, double lx, double ly, double lz);
extern int cuda_pair_forces(const double* pos, const double* mass, double* force, int n, double g, double softening);
extern int cuda_synchronize();
*/
import "C"

import (
	"fmt"
	"unsafe"
)

type CUDABackend struct {
	available  bool
	deviceName string
}

func NewCUDABackend() *CUDABackend {
	count := int(C.cuda_device_count())
	name := ""
	if count > 0 {
		name = C.GoString(C.cuda_device_name_get())
	}
	return &CUDABackend{
		available:  count > 0,
		deviceName: name,
	}
}

func (c *CUDABackend) Name() string {
	if c.available {
		return "cuda (" + c.deviceName + ")"
	}
	return "cuda (not available)"
}

func (c *CUDABackend) Available() bool { return c.available }
func (c *CUDABackend) Cleanup()        {}

func (c *CUDABackend) Synchronize() error {
	return status("synchronize", C.cuda_synchronize())
}

type deviceBuffer struct {
	owner *CUDABackend
	ptr   *C.double
	n     int
}

func (b *deviceBuffer) Len() int { return b.n }

func (b *deviceBuffer) Upload(src []float64) error {
	if b.owner == nil {
		return ErrReleased
	}
	if len(src) != b.n {
		return fmt.Errorf("%w: upload %d into %d", ErrBufferSize, len(src), b.n)
	}
	if b.n == 0 {
		return nil
	}
	return status("upload", C.cuda_upload(b.ptr, (*C.double)(unsafe.Pointer(&src[0])), C.int(b.n)))
}

func (b *deviceBuffer) Download(dst []float64) error {
	if b.owner == nil {
		return ErrReleased
	}
	if len(dst) != b.n {
		return fmt.Errorf("%w: download %d into %d", ErrBufferSize, b.n, len(dst))
	}
	if b.n == 0 {
		return nil
	}
	return status("download", C.cuda_download((*C.double)(unsafe.Pointer(&dst[0])), b.ptr, C.int(b.n)))
}

func (b *deviceBuffer) Release() {
	if b.ptr != nil {
		C.cuda_free(b.ptr)
	}
	b.ptr = nil
	b.owner = nil
}

func (c *CUDABackend) NewBuffer(n int) (Buffer, error) {
	if !c.available {
		return nil, fmt.Errorf("compute: %s", c.Name())
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrBufferSize, n)
	}
	buf := &deviceBuffer{owner: c, n: n}
	if n > 0 {
		buf.ptr = C.cuda_alloc(C.int(n))
		if buf.ptr == nil {
			return nil, fmt.Errorf("compute: cuda allocation of %d values failed", n)
		}
	}
	return buf, nil
}

func (c *CUDABackend) own(bufs ...Buffer) ([]*deviceBuffer, error) {
	out := make([]*deviceBuffer, len(bufs))
	for i, b := range bufs {
		db, ok := b.(*deviceBuffer)
		if !ok || db.owner != c {
			if ok && db.owner == nil {
				return nil, ErrReleased
			}
			return nil, ErrForeignBuffer
		}
		out[i] = db
	}
	return out, nil
}

func (c *CUDABackend) Axpy(dst, src Buffer, scale float64) error {
	bufs, err := c.own(dst, src)
	if err != nil {
		return err
	}
	if bufs[0].n != bufs[1].n {
		return fmt.Errorf("%w: axpy %d vs %d", ErrBufferSize, bufs[0].n, bufs[1].n)
	}
	if bufs[0].n == 0 {
		return nil
	}
	return status("axpy", C.cuda_axpy(bufs[0].ptr, bufs[1].ptr, C.int(bufs[0].n), C.double(scale)))
}

func (c *CUDABackend) Fill(dst Buffer, v float64) error {
	bufs, err := c.own(dst)
	if err != nil {
		return err
	}
	if bufs[0].n == 0 {
		return nil
	}
	return status("fill", C.cuda_fill(bufs[0].ptr, C.int(bufs[0].n), C.double(v)))
}

func (c *CUDABackend) Wrap(pos Buffer, origin, period [3]float64) error {
	bufs, err := c.own(pos)
	if err != nil {
		return err
	}
	p := bufs[0]
	if p.n%3 != 0 {
		return fmt.Errorf("%w: %d is not a multiple of 3", ErrBufferSize, p.n)
	}
	if p.n == 0 {
		return nil
	}
	return status("wrap", C.cuda_wrap(p.ptr, C.int(p.n/3),
		C.double(origin[0]), C.double(origin[1]), C.double(origin[2]),
		C.double(period[0]), C.double(period[1]), C.double(period[2])))
}

func (c *CUDABackend) PairForces(pos, mass, force Buffer, g, softening float64) error {
	bufs, err := c.own(pos, mass, force)
	if err != nil {
		return err
	}
	n := bufs[1].n
	if bufs[0].n != 3*n || bufs[2].n != 3*n {
		return fmt.Errorf("%w: pair forces over %d particles", ErrBufferSize, n)
	}
	if n == 0 {
		return nil
	}
	return status("pair forces", C.cuda_pair_forces(bufs[0].ptr, bufs[1].ptr, bufs[2].ptr, C.int(n), C.double(g), C.double(softening)))
}

func status(op string, code C.int) error {
	if code != 0 {
		return fmt.Errorf("compute: cuda %s failed with code %d", op, int(code))
	}
	return nil
}
