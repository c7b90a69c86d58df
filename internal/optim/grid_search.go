// Package optim fits mechanistic parameters by exhaustive grid search,
// scoring each candidate by the teacher-forced one-step loss over a window
// set. Useful for pinning down the mechanistic backbone before the residual
// learner is trained on what remains.
package optim

import (
	"context"
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/bioproc/internal/dataset"
	"github.com/san-kum/bioproc/internal/errs"
	"github.com/san-kum/bioproc/internal/integrators"
	"github.com/san-kum/bioproc/internal/kinetics"
	"github.com/san-kum/bioproc/internal/loss"
)

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
}

// NewGridSearch validates the parameter names against the kinetic model and
// pairs them with their candidate values.
func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) == 0 {
		return nil, errs.Configuration("grid params", 0, "at least one parameter required")
	}
	if len(params) != len(ranges) {
		return nil, errs.Shape("grid ranges", len(params), len(ranges))
	}
	probe := kinetics.DefaultParams()
	for i, name := range params {
		if err := probe.Set(name, probe.Map()[name]); err != nil {
			return nil, errs.Configuration("grid param", name, "unknown kinetic parameter")
		}
		if len(ranges[i]) == 0 {
			return nil, errs.Configuration("grid range", name, "empty candidate list")
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges}, nil
}

type candidate struct {
	values []float64
	score  float64
	err    error
}

// Fit scores every grid point concurrently and returns the parameter set
// with the lowest one-step loss. Ties go to the earliest point in grid
// order, so results are deterministic. Candidates that fail to integrate
// are skipped; Fit only errors when no candidate produced a finite score.
func (g *GridSearch) Fit(ctx context.Context, base kinetics.Params, stepper integrators.Stepper, windows []dataset.Window, w loss.Weights) (kinetics.Params, float64, error) {
	if len(windows) == 0 {
		return base, 0, errs.Shape("fit windows", 1, 0)
	}
	cands := g.enumerate()

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(runtime.NumCPU())
	var mu sync.Mutex
	for ci := range cands {
		ci := ci
		grp.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			score, err := g.score(base, cands[ci].values, stepper, windows, w)
			mu.Lock()
			cands[ci].score = score
			cands[ci].err = err
			mu.Unlock()
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return base, 0, err
	}

	best := -1
	bestScore := math.Inf(1)
	for i, c := range cands {
		if c.err == nil && c.score < bestScore {
			best = i
			bestScore = c.score
		}
	}
	if best < 0 {
		return base, 0, errs.Numerical("grid search")
	}

	fitted := base
	for i, name := range g.paramNames {
		if err := fitted.Set(name, cands[best].values[i]); err != nil {
			return base, 0, err
		}
	}
	return fitted, bestScore, nil
}

// enumerate lists every combination of candidate values in grid order, the
// last parameter varying fastest.
func (g *GridSearch) enumerate() []candidate {
	total := 1
	for _, r := range g.ranges {
		total *= len(r)
	}
	cands := make([]candidate, 0, total)
	values := make([]float64, len(g.ranges))

	var walk func(depth int)
	walk = func(depth int) {
		if depth == len(g.ranges) {
			c := candidate{values: make([]float64, len(values))}
			copy(c.values, values)
			cands = append(cands, c)
			return
		}
		for _, v := range g.ranges[depth] {
			values[depth] = v
			walk(depth + 1)
		}
	}
	walk(0)
	return cands
}

func (g *GridSearch) score(base kinetics.Params, values []float64, stepper integrators.Stepper, windows []dataset.Window, w loss.Weights) (float64, error) {
	p := base
	for i, name := range g.paramNames {
		if err := p.Set(name, values[i]); err != nil {
			return 0, err
		}
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}
	// Steppers keep scratch buffers and candidates score concurrently, so
	// each scoring pass runs on its own instance.
	step, err := integrators.New(stepper.Name())
	if err != nil {
		return 0, err
	}

	preds := make([]kinetics.State, len(windows))
	targets := make([]kinetics.State, len(windows))
	last := make([]kinetics.State, len(windows))
	dts := make([]float64, len(windows))
	for i, win := range windows {
		last[i] = win.Last()
		targets[i] = win.Targets[0]
		dts[i] = win.Dts[0]
		next := kinetics.State(step.Step(p.RatesInto, win.Last(), dts[i], nil))
		if !next.IsFinite() {
			return 0, errs.Numerical("candidate step")
		}
		preds[i] = next
	}
	comps, err := loss.Eval(preds, targets, last, dts, p, w)
	if err != nil {
		return 0, err
	}
	return comps.Total, nil
}
