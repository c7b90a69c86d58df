package loss

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/bioproc/internal/errs"
	"github.com/san-kum/bioproc/internal/kinetics"
)

// exactFixture picks a previous state so the discrete ODE residual of pred
// is exactly zero: last = pred - dt*f(pred).
func exactFixture(p kinetics.Params, pred kinetics.State, dt float64) (last kinetics.State) {
	rates := p.Rates(pred)
	last = make(kinetics.State, len(pred))
	for i := range pred {
		last[i] = pred[i] - dt*rates[i]
	}
	return last
}

func TestLossZeroIffExact(t *testing.T) {
	p := kinetics.DefaultParams()
	pred := kinetics.State{1.0, 5.0, 0.3}
	dt := 0.5
	last := exactFixture(p, pred, dt)

	c, err := Eval(
		[]kinetics.State{pred},
		[]kinetics.State{pred.Clone()}, // observed equals predicted
		[]kinetics.State{last},
		[]float64{dt},
		p, DefaultWeights(),
	)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(c.Total) > 1e-12 {
		t.Errorf("exact trajectory should give zero loss, got %e", c.Total)
	}

	// Either violation alone makes the loss strictly positive.
	cData, err := Eval(
		[]kinetics.State{pred},
		[]kinetics.State{{1.1, 5.0, 0.3}},
		[]kinetics.State{last},
		[]float64{dt},
		p, DefaultWeights(),
	)
	if err != nil {
		t.Fatal(err)
	}
	if cData.Total <= 0 || cData.Data <= 0 {
		t.Errorf("data mismatch should give positive loss, got %+v", cData)
	}

	cPhys, err := Eval(
		[]kinetics.State{pred},
		[]kinetics.State{pred.Clone()},
		[]kinetics.State{{0.9, 5.2, 0.28}},
		[]float64{dt},
		p, DefaultWeights(),
	)
	if err != nil {
		t.Fatal(err)
	}
	if cPhys.Total <= 0 || cPhys.Physics <= 0 {
		t.Errorf("residual mismatch should give positive loss, got %+v", cPhys)
	}
}

func TestLossMonotoneUnderPerturbation(t *testing.T) {
	p := kinetics.DefaultParams()
	base := kinetics.State{1.0, 5.0, 0.3}
	dt := 0.5
	last := exactFixture(p, base, dt)

	prev := -1.0
	for _, eps := range []float64{0, 0.01, 0.05, 0.1, 0.5} {
		pred := kinetics.State{base[0] + eps, base[1], base[2]}
		c, err := Eval(
			[]kinetics.State{pred},
			[]kinetics.State{base.Clone()},
			[]kinetics.State{last},
			[]float64{dt},
			p, DefaultWeights(),
		)
		if err != nil {
			t.Fatal(err)
		}
		if c.Total <= prev {
			t.Errorf("loss not increasing at eps=%f: %e after %e", eps, c.Total, prev)
		}
		prev = c.Total
	}
}

func TestLossWeights(t *testing.T) {
	p := kinetics.DefaultParams()
	pred := []kinetics.State{{1.0, 5.0, 0.3}}
	obs := []kinetics.State{{1.2, 4.9, 0.35}}
	last := []kinetics.State{{0.9, 5.1, 0.28}}
	dts := []float64{0.5}

	c, err := Eval(pred, obs, last, dts, p, Weights{Data: 2.0, Physics: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	want := 2.0*c.Data + 0.5*c.Physics
	if math.Abs(c.Total-want) > 1e-12 {
		t.Errorf("total %e, want %e", c.Total, want)
	}
}

func TestLossNonFiniteInput(t *testing.T) {
	p := kinetics.DefaultParams()
	pred := []kinetics.State{{math.NaN(), 5.0, 0.3}}
	obs := []kinetics.State{{1.0, 5.0, 0.3}}
	last := []kinetics.State{{0.9, 5.1, 0.28}}

	_, err := Eval(pred, obs, last, []float64{0.5}, p, DefaultWeights())
	var numErr *errs.NumericalError
	if !errors.As(err, &numErr) {
		t.Errorf("expected NumericalError, got %v", err)
	}
}

func TestLossBadDt(t *testing.T) {
	p := kinetics.DefaultParams()
	s := []kinetics.State{{1.0, 5.0, 0.3}}

	_, err := Eval(s, s, s, []float64{0}, p, DefaultWeights())
	var cfgErr *errs.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError for dt=0, got %v", err)
	}
}

// TestGradFiniteDifference verifies the analytic prediction gradient against
// central differences of Eval.
func TestGradFiniteDifference(t *testing.T) {
	p := kinetics.DefaultParams()
	pred := []kinetics.State{{1.0, 5.0, 0.3}, {2.0, 2.5, 0.8}}
	obs := []kinetics.State{{1.1, 4.8, 0.32}, {1.9, 2.6, 0.75}}
	last := []kinetics.State{{0.9, 5.2, 0.28}, {1.8, 2.8, 0.7}}
	dts := []float64{0.5, 1.0}
	w := Weights{Data: 1.0, Physics: 0.7}

	_, grads, err := Grad(pred, obs, last, dts, p, w)
	if err != nil {
		t.Fatal(err)
	}

	const h = 1e-6
	for i := range pred {
		for j := range pred[i] {
			orig := pred[i][j]
			pred[i][j] = orig + h
			chi, err := Eval(pred, obs, last, dts, p, w)
			if err != nil {
				t.Fatal(err)
			}
			pred[i][j] = orig - h
			clo, err := Eval(pred, obs, last, dts, p, w)
			if err != nil {
				t.Fatal(err)
			}
			pred[i][j] = orig

			fd := (chi.Total - clo.Total) / (2 * h)
			if math.Abs(grads[i][j]-fd) > 1e-5*math.Max(1, math.Abs(fd)) {
				t.Errorf("grad[%d][%d]: analytic %e vs finite-diff %e", i, j, grads[i][j], fd)
			}
		}
	}
}
