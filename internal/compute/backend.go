package compute

import (
	"errors"

	"github.com/san-kum/partsim/internal/logging"
)

var (
	// ErrBufferSize indicates buffers whose lengths do not fit the kernel.
	ErrBufferSize = errors.New("compute: buffer size mismatch")

	// ErrForeignBuffer indicates a buffer allocated by another backend.
	ErrForeignBuffer = errors.New("compute: buffer belongs to another backend")

	// ErrReleased indicates use of a released buffer.
	ErrReleased = errors.New("compute: buffer already released")
)

// Buffer is a fixed-length block of float64 values in backend memory.
type Buffer interface {
	Len() int
	Upload(src []float64) error
	Download(dst []float64) error
	Release()
}

// Backend runs particle kernels on device buffers.
type Backend interface {
	Name() string
	Available() bool
	NewBuffer(n int) (Buffer, error)

	// Axpy computes dst += scale*src.
	Axpy(dst, src Buffer, scale float64) error
	// Fill sets every element of dst to v.
	Fill(dst Buffer, v float64) error
	// Wrap reduces packed vectors into [origin, origin+period) per axis.
	// Axes with a non-positive period are left untouched.
	Wrap(pos Buffer, origin, period [3]float64) error
	// PairForces writes the softened inverse-square attraction on every
	// particle into force.
	PairForces(pos, mass, force Buffer, g, softening float64) error

	Synchronize() error
	Cleanup()
}

var activeBackend Backend

func init() {
	activeBackend = AutoSelectBackend()
}

func SetBackend(b Backend) {
	if activeBackend != nil && activeBackend != b {
		activeBackend.Cleanup()
	}
	activeBackend = b
}

func GetBackend() Backend {
	return activeBackend
}

// Backends lists every backend compiled into the binary.
func Backends() []Backend {
	return []Backend{NewCUDABackend(), NewCPUBackend()}
}

func AutoSelectBackend() Backend {
	cuda := NewCUDABackend()
	if cuda.Available() {
		logging.Logger().Info("compute backend selected", "name", cuda.Name())
		return cuda
	}
	cpu := NewCPUBackend()
	logging.Logger().Info("compute backend selected", "name", cpu.Name())
	return cpu
}
