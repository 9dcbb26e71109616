// Package compute provides the accelerator backends particle models execute
// on when their execution target is the accelerator.
//
// A backend owns device memory ([Buffer]) and runs a small set of kernels
// over it: axpy updates, fills, periodic wrapping and softened pair forces.
// Vector buffers are packed as interleaved x, y, z triples.
//
//   - CUDA: built with the `cuda` tag when a device is present
//   - CPU: worker-pool backend with its own buffer memory, always available
//
// The active backend is chosen once at start-up:
//
//	b := compute.GetBackend()
//	buf, _ := b.NewBuffer(3 * n)
//
// Kernels may run asynchronously; callers must call [Backend.Synchronize]
// before downloading results.
package compute
