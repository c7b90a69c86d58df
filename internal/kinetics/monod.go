// Package kinetics implements the mechanistic rate law of a batch bioprocess:
// Monod growth on a single limiting substrate with growth-associated product
// formation.
//
//	dX/dt = mu(S) * X          mu(S) = mu_max * S / (Ks + S)
//	dS/dt = -(1/Yxs) * mu(S) * X
//	dP/dt = qp(S) * X          qp(S) = qp_max * S / (Ks + S)
//
// mu and qp are defined as zero for S <= 0 so exhausted substrate never
// produces negative growth.
package kinetics

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Params is the named set of mechanistic scalars. Fixed at construction;
// multiple models may hold independent copies.
type Params struct {
	MuMax float64 // maximum specific growth rate (1/h)
	Ks    float64 // substrate saturation constant (g/L)
	Yxs   float64 // biomass yield on substrate (g/g)
	Yps   float64 // product yield on substrate (g/g)
	QpMax float64 // maximum specific production rate (g/g/h)
}

// DefaultParams are calibration values for a typical mammalian cell culture.
func DefaultParams() Params {
	return Params{
		MuMax: 0.5,
		Ks:    0.1,
		Yxs:   0.5,
		Yps:   0.3,
		QpMax: 0.1,
	}
}

// Mu is the specific growth rate, zero when substrate is exhausted.
func (p Params) Mu(s float64) float64 {
	if s <= 0 {
		return 0
	}
	return p.MuMax * s / (p.Ks + s)
}

// Qp is the specific production rate, same saturating form as Mu.
func (p Params) Qp(s float64) float64 {
	if s <= 0 {
		return 0
	}
	return p.QpMax * s / (p.Ks + s)
}

// Rates evaluates the instantaneous rates at x. The input is not mutated;
// auxiliary channels beyond the core three get a zero rate.
func (p Params) Rates(x State) State {
	out := make(State, len(x))
	p.RatesInto(x, out)
	return out
}

// RatesInto writes the rates for x into out, which must have the same
// length. The plain-slice signature lets it plug directly into an
// integrator's rate function.
func (p Params) RatesInto(x []float64, out []float64) {
	for i := range out {
		out[i] = 0
	}
	if len(x) < NumCore {
		return
	}
	bx, s := x[Biomass], x[Substrate]
	mu := p.Mu(s)
	out[Biomass] = mu * bx
	out[Substrate] = -(1.0 / p.Yxs) * mu * bx
	out[Product] = p.Qp(s) * bx
}

// Jacobian returns d(rates)/d(state) at x as a dense dim x dim matrix.
// Rows and columns of auxiliary channels are zero. Needed by the
// physics-informed loss gradient.
func (p Params) Jacobian(x State) *mat.Dense {
	dim := len(x)
	j := mat.NewDense(dim, dim, nil)
	if dim < NumCore {
		return j
	}
	bx, s := x[Biomass], x[Substrate]
	mu := p.Mu(s)
	qp := p.Qp(s)
	var dmu, dqp float64
	if s > 0 {
		den := (p.Ks + s) * (p.Ks + s)
		dmu = p.MuMax * p.Ks / den
		dqp = p.QpMax * p.Ks / den
	}
	j.Set(Biomass, Biomass, mu)
	j.Set(Biomass, Substrate, dmu*bx)
	j.Set(Substrate, Biomass, -mu/p.Yxs)
	j.Set(Substrate, Substrate, -dmu*bx/p.Yxs)
	j.Set(Product, Biomass, qp)
	j.Set(Product, Substrate, dqp*bx)
	return j
}

// Map exposes the parameters by name for reporting and persistence.
func (p Params) Map() map[string]float64 {
	return map[string]float64{
		"mu_max": p.MuMax,
		"Ks":     p.Ks,
		"Yxs":    p.Yxs,
		"Yps":    p.Yps,
		"qp_max": p.QpMax,
	}
}

// Set assigns a parameter by name.
func (p *Params) Set(name string, value float64) error {
	switch name {
	case "mu_max":
		p.MuMax = value
	case "Ks":
		p.Ks = value
	case "Yxs":
		p.Yxs = value
	case "Yps":
		p.Yps = value
	case "qp_max":
		p.QpMax = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}

// Validate checks that the parameter set is physically meaningful.
func (p Params) Validate() error {
	if p.MuMax < 0 {
		return fmt.Errorf("mu_max must be non-negative, got %f", p.MuMax)
	}
	if p.Ks <= 0 {
		return fmt.Errorf("Ks must be positive, got %f", p.Ks)
	}
	if p.Yxs <= 0 {
		return fmt.Errorf("Yxs must be positive, got %f", p.Yxs)
	}
	if p.QpMax < 0 {
		return fmt.Errorf("qp_max must be non-negative, got %f", p.QpMax)
	}
	return nil
}
