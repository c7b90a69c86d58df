package integrators

// Euler is the forward Euler scheme. It is the default for hybrid training
// because the sensitivity of the step to the correction term is exactly dt.
type Euler struct {
	rate []float64
}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Name() string { return "euler" }

func (e *Euler) Step(f RateFunc, x []float64, dt float64, correction []float64) []float64 {
	n := len(x)
	if len(e.rate) != n {
		e.rate = make([]float64, n)
	}
	f(x, e.rate)
	if correction != nil {
		for i := range e.rate {
			e.rate[i] += correction[i]
		}
	}

	result := make([]float64, n)
	for i := range x {
		result[i] = x[i] + dt*e.rate[i]
	}
	clamp(result)
	return result
}
