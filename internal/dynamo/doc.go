// Package dynamo defines the particle-model contract shared by integrators,
// force fields and the simulation driver.
//
//   - [Model]: per-particle state plus the operations every model provides
//   - [BaseModel]: the canonical state owner concrete models embed
//   - [Domain]: the space particles live in and its boundary policy
//   - [Integrator], [ForceField], [Metric]: driver-side collaborators
//
// # Example
//
//	box := geometry.NewPeriodicBox(r3.Vec{}, r3.Vec{X: 10, Y: 10, Z: 10})
//	m, _ := dynamo.NewBaseModel(128, false, box)
//	_ = m.SetPositionsRandomly(noise.New(42))
//	_ = m.ComputeForces(true)
//	_ = m.MoveParticles(displacements, 0.5)
//
// # Execution target
//
// A model executes either on the host or on the active compute backend.
// [BaseModel.SetExecutionTarget] transfers all per-particle arrays
// synchronously before returning, and every operation that runs on the
// backend ends with a synchronization point, so views returned by the
// accessors always hold the result of the last completed operation.
//
// # Thread Safety
//
// A model is single-writer: the caller sequences compute-forces, move and
// sort within a step. The internal lock only makes each operation, and in
// particular [BaseModel.Permute], atomic with respect to the others.
package dynamo
