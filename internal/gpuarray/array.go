// Package gpuarray provides fixed-length arrays that live on the host or on
// a compute backend, with an explicit residency state machine.
//
// The host mirror of a device-resident array is refreshed at every
// synchronization point ([Array.Sync]) and pushed back before device work
// ([Array.Flush]), so a [View] obtained from [Array.View] always reflects the
// latest completed operation.
package gpuarray

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/san-kum/partsim/internal/compute"
)

// Location is where an array's data is authoritative.
type Location int32

const (
	HostResident Location = iota
	DeviceResident
	InTransfer
)

func (l Location) String() string {
	switch l {
	case HostResident:
		return "host"
	case DeviceResident:
		return "device"
	case InTransfer:
		return "in-transfer"
	default:
		return fmt.Sprintf("location(%d)", int32(l))
	}
}

// Codec flattens elements into the float64 layout of device buffers.
type Codec[T any] struct {
	Width  int
	Pack   func(dst []float64, src []T)
	Unpack func(dst []T, src []float64)
}

// Array is a fixed-length sequence of T with an optional device copy.
type Array[T any] struct {
	mu      sync.Mutex
	codec   Codec[T]
	host    []T
	staging []float64
	backend compute.Backend
	buf     compute.Buffer
	loc     atomic.Int32
}

func New[T any](n int, codec Codec[T]) *Array[T] {
	a := &Array[T]{codec: codec}
	a.host = make([]T, n)
	return a
}

func (a *Array[T]) Len() int { return len(a.host) }

func (a *Array[T]) Location() Location { return Location(a.loc.Load()) }

// View returns a fixed-length read/write view of the host mirror.
func (a *Array[T]) View() View[T] {
	return View[T]{s: a.host[:len(a.host):len(a.host)]}
}

// Buffer returns the device buffer, or nil while host-resident.
func (a *Array[T]) Buffer() compute.Buffer {
	if a.Location() != DeviceResident {
		return nil
	}
	return a.buf
}

// Reset discards the contents, releases any device copy and reallocates n
// zero values on the host.
func (a *Array[T]) Reset(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.release()
	a.host = make([]T, n)
	a.staging = nil
	a.loc.Store(int32(HostResident))
}

// ToDevice allocates a buffer on b and uploads the host data. It is a no-op
// when the array already lives on b.
func (a *Array[T]) ToDevice(b compute.Backend) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Location() == DeviceResident && a.backend == b {
		return nil
	}
	if a.Location() == DeviceResident {
		if err := a.download(); err != nil {
			return err
		}
		a.release()
	}

	a.loc.Store(int32(InTransfer))
	buf, err := b.NewBuffer(len(a.host) * a.codec.Width)
	if err != nil {
		a.loc.Store(int32(HostResident))
		return fmt.Errorf("gpuarray: allocate: %w", err)
	}
	a.buf, a.backend = buf, b

	if err := a.upload(); err != nil {
		a.release()
		a.loc.Store(int32(HostResident))
		return err
	}
	a.loc.Store(int32(DeviceResident))
	return nil
}

// ToHost downloads the device copy and releases it.
func (a *Array[T]) ToHost() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Location() != DeviceResident {
		return nil
	}

	a.loc.Store(int32(InTransfer))
	if err := a.download(); err != nil {
		a.loc.Store(int32(DeviceResident))
		return err
	}
	a.release()
	a.loc.Store(int32(HostResident))
	return nil
}

// Flush pushes the host mirror to the device copy.
func (a *Array[T]) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Location() != DeviceResident {
		return nil
	}
	return a.upload()
}

// Sync refreshes the host mirror from the device copy.
func (a *Array[T]) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Location() != DeviceResident {
		return nil
	}
	return a.download()
}

// Permute reorders the array so that element i becomes the old element
// perm[i], on the host mirror and, when present, the device copy.
func (a *Array[T]) Permute(perm []int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(perm) != len(a.host) {
		return fmt.Errorf("gpuarray: permutation of %d applied to %d elements", len(perm), len(a.host))
	}

	tmp := make([]T, len(a.host))
	for i, j := range perm {
		tmp[i] = a.host[j]
	}
	copy(a.host, tmp)

	if a.Location() == DeviceResident {
		return a.upload()
	}
	return nil
}

func (a *Array[T]) flat() []float64 {
	n := len(a.host) * a.codec.Width
	if len(a.staging) != n {
		a.staging = make([]float64, n)
	}
	return a.staging
}

func (a *Array[T]) upload() error {
	flat := a.flat()
	a.codec.Pack(flat, a.host)
	if err := a.buf.Upload(flat); err != nil {
		return fmt.Errorf("gpuarray: upload: %w", err)
	}
	return nil
}

func (a *Array[T]) download() error {
	if err := a.backend.Synchronize(); err != nil {
		return fmt.Errorf("gpuarray: synchronize: %w", err)
	}
	flat := a.flat()
	if err := a.buf.Download(flat); err != nil {
		return fmt.Errorf("gpuarray: download: %w", err)
	}
	a.codec.Unpack(a.host, flat)
	return nil
}

func (a *Array[T]) release() {
	if a.buf != nil {
		a.buf.Release()
	}
	a.buf, a.backend = nil, nil
}
