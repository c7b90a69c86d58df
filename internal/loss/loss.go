// Package loss implements the physics-informed training objective: a
// weighted sum of data-fit MSE and the ODE-residual MSE, where the residual
// compares the numerically-differentiated predicted trajectory against the
// mechanistic rates evaluated on the predictions.
package loss

import (
	"math"

	"github.com/san-kum/bioproc/internal/errs"
	"github.com/san-kum/bioproc/internal/kinetics"
)

// Weights are the loss mixing constants lambda_data and lambda_physics.
type Weights struct {
	Data    float64
	Physics float64
}

// DefaultWeights weight both components equally.
func DefaultWeights() Weights {
	return Weights{Data: 1.0, Physics: 1.0}
}

// Components breaks a loss value into its parts;
// Total = Data*lambda_data + Physics*lambda_physics.
type Components struct {
	Total   float64
	Data    float64
	Physics float64
}

// Eval computes the loss for a batch of one-step predictions. pred, obs, and
// last (the state each prediction stepped from) run parallel to dts. The
// loss module does not distinguish measured channels from upstream-estimated
// ones; everything in obs counts as observed.
func Eval(pred, obs, last []kinetics.State, dts []float64, p kinetics.Params, w Weights) (Components, error) {
	c, _, err := compute(pred, obs, last, dts, p, w, false)
	return c, err
}

// Grad computes the loss and its gradient with respect to each prediction.
func Grad(pred, obs, last []kinetics.State, dts []float64, p kinetics.Params, w Weights) (Components, [][]float64, error) {
	return compute(pred, obs, last, dts, p, w, true)
}

func compute(pred, obs, last []kinetics.State, dts []float64, p kinetics.Params, w Weights, withGrad bool) (Components, [][]float64, error) {
	b := len(pred)
	if b == 0 {
		return Components{}, nil, errs.Shape("loss batch", 1, 0)
	}
	if len(obs) != b || len(last) != b || len(dts) != b {
		return Components{}, nil, errs.Shape("loss batch", b, min3(len(obs), len(last), len(dts)))
	}
	dim := len(pred[0])

	var grads [][]float64
	if withGrad {
		grads = make([][]float64, b)
	}

	n := float64(b * dim)
	var dataSum, physSum float64
	for i := 0; i < b; i++ {
		if len(pred[i]) != dim || len(obs[i]) != dim || len(last[i]) != dim {
			return Components{}, nil, errs.Shape("loss channels", dim, len(obs[i]))
		}
		if !pred[i].IsFinite() || !obs[i].IsFinite() || !last[i].IsFinite() {
			return Components{}, nil, errs.Numerical("loss input")
		}
		dt := dts[i]
		if dt <= 0 || math.IsNaN(dt) {
			return Components{}, nil, errs.Configuration("dt", dt, "time step must be positive")
		}

		rates := p.Rates(pred[i])
		resid := make([]float64, dim)
		for j := 0; j < dim; j++ {
			d := pred[i][j] - obs[i][j]
			dataSum += d * d
			resid[j] = (pred[i][j]-last[i][j])/dt - rates[j]
			physSum += resid[j] * resid[j]
		}

		if !withGrad {
			continue
		}
		// dTotal/dpred = 2*ld*(pred-obs)/n + 2*lp/n * (e/dt - J^T e).
		jac := p.Jacobian(pred[i])
		row := make([]float64, dim)
		for j := 0; j < dim; j++ {
			jte := 0.0
			for k := 0; k < dim; k++ {
				jte += jac.At(k, j) * resid[k]
			}
			row[j] = 2*w.Data*(pred[i][j]-obs[i][j])/n + 2*w.Physics/n*(resid[j]/dt-jte)
		}
		grads[i] = row
	}

	c := Components{
		Data:    dataSum / n,
		Physics: physSum / n,
	}
	c.Total = w.Data*c.Data + w.Physics*c.Physics
	if math.IsNaN(c.Total) || math.IsInf(c.Total, 0) {
		return Components{}, nil, errs.Numerical("loss value")
	}
	return c, grads, nil
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
