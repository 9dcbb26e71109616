package gpuarray

// View is a fixed-length window onto an array's host storage. Writes go
// straight to the owning array; the length can never change through it.
type View[T any] struct {
	s []T
}

func (v View[T]) Len() int { return len(v.s) }

func (v View[T]) At(i int) T { return v.s[i] }

func (v View[T]) Set(i int, x T) { v.s[i] = x }

// Slice exposes the elements directly. Its capacity equals its length, so
// append always copies and never grows the owning array.
func (v View[T]) Slice() []T { return v.s }

// CopyTo copies the view into dst and returns the number of elements copied.
func (v View[T]) CopyTo(dst []T) int { return copy(dst, v.s) }
