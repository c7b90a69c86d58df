// Package integrators provides fixed-step explicit schemes for advancing a
// bioprocess state. Every scheme accepts an optional additive correction to
// the rate, held constant over the step, and clamps the result to
// non-negative concentrations as a hard post-condition.
package integrators

import "fmt"

// RateFunc evaluates instantaneous rates at x into out. It must not mutate x.
type RateFunc func(x []float64, out []float64)

// Stepper advances one state by dt. The correction, when non-nil, is added
// elementwise to the evaluated rate at every stage. Implementations are
// deterministic and must not retain references to their arguments.
type Stepper interface {
	Step(f RateFunc, x []float64, dt float64, correction []float64) []float64
	Name() string
}

// New builds a stepper by name, in the manner of the model registry:
// "euler" or "rk4".
func New(name string) (Stepper, error) {
	switch name {
	case "euler":
		return NewEuler(), nil
	case "rk4":
		return NewRK4(), nil
	default:
		return nil, fmt.Errorf("unknown integrator: %s", name)
	}
}

// clamp zeroes negative concentrations in place. Biological quantities
// cannot go negative; this is a post-condition of every step, not a change
// to the kinetics.
func clamp(x []float64) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}
