// Package analysis inspects sampled metric series after a run.
//
//   - [PowerSpectrum]: windowed power spectrum of a uniformly sampled series
//   - [Spectrum.Dominant]: strongest non-zero frequency
//
// A harmonic trap shows its kinetic energy oscillating at twice the trap
// frequency:
//
//	s, err := analysis.PowerSpectrum(result.Times, result.Series["kinetic"])
//	f, _ := s.Dominant()
package analysis
