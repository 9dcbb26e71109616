// Package physics provides concrete particle models and the external force
// fields the driver can apply to them.
//
//   - [Passive]: particles without mutual interaction, moved by fields only
//   - [NBody]: softened self-gravity, by direct summation, Barnes–Hut tree
//     or the compute backend's pair kernel
//   - [UniformField], [HarmonicTrap], [Drag]: additive force fields
//
// Models embed [dynamo.BaseModel]; [NBody] also implements
// [dynamo.Configurable] and [dynamo.Hamiltonian].
//
// # Force accumulation
//
// Passive models leave the force array to the driver, which zeroes it before
// applying fields. NBody is a self-force model: its ComputeForces overwrites
// the array with the interaction forces, and fields add on top.
//
//	nb, _ := physics.NewNBody(1000, true, box)
//	_ = nb.SetPositionsRandomly(noise.New(1))
//	_ = physics.Thermalize(nb, noise.New(2), 0.1)
//	if h, ok := dynamo.Model(nb).(dynamo.Hamiltonian); ok {
//	    e, _ := h.Energy()
//	}
package physics
