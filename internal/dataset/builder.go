package dataset

import (
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/san-kum/bioproc/internal/errs"
	"github.com/san-kum/bioproc/internal/kinetics"
)

// Window is one training sample: a contiguous input slice of an experiment
// and the following Horizon states as targets. Inputs and Targets alias the
// experiment's storage and must be treated as read-only. Windows never cross
// experiment boundaries.
type Window struct {
	ExperimentID string
	Start        int
	Inputs       []kinetics.State
	Targets      []kinetics.State
	Dts          []float64 // time step preceding each target
}

// Last returns the final input state, the one the model steps forward from.
func (w Window) Last() kinetics.State {
	return w.Inputs[len(w.Inputs)-1]
}

// Splits holds the shuffled train/validation/test partitions along with the
// effective plan. Splits are immutable once built and safe for concurrent
// reads.
type Splits struct {
	Plan  Plan
	Train []Window
	Val   []Window
	Test  []Window
}

// Dim returns the channel dimension of the windows.
func (s *Splits) Dim() int {
	for _, part := range [][]Window{s.Train, s.Val, s.Test} {
		if len(part) > 0 {
			return len(part[0].Inputs[0])
		}
	}
	return 0
}

// Build slides a stride-1 window across each experiment and partitions the
// result. Shuffling is seeded, so the same inputs and seed reproduce the
// exact same split membership.
func Build(exps []*Experiment, req Request) (*Splits, error) {
	if len(exps) == 0 {
		return nil, errs.Configuration("experiments", 0, "at least one experiment required")
	}
	dim := exps[0].Dim()
	lengths := make(map[string]int, len(exps))
	for _, e := range exps {
		if e.Dim() != dim {
			return nil, errs.Shape("experiment "+e.ID()+" channels", dim, e.Dim())
		}
		lengths[e.ID()] = e.Len()
	}

	plan, err := MakePlan(lengths, req)
	if err != nil {
		return nil, err
	}
	for _, id := range plan.Excluded {
		log.Warn().
			Str("experiment", id).
			Int("length", lengths[id]).
			Int("window_length", plan.WindowLen).
			Msg("experiment too short for any window, excluded from sequencing")
	}

	excluded := make(map[string]bool, len(plan.Excluded))
	for _, id := range plan.Excluded {
		excluded[id] = true
	}

	windows := make([]Window, 0, plan.Total)
	for _, e := range exps {
		if excluded[e.ID()] {
			continue
		}
		states := e.States()
		times := e.Times()
		n := e.Len()
		for start := 0; start+plan.WindowLen+plan.Horizon <= n; start++ {
			end := start + plan.WindowLen
			dts := make([]float64, plan.Horizon)
			for j := 0; j < plan.Horizon; j++ {
				dts[j] = times[end+j] - times[end+j-1]
			}
			windows = append(windows, Window{
				ExperimentID: e.ID(),
				Start:        start,
				Inputs:       states[start:end],
				Targets:      states[end : end+plan.Horizon],
				Dts:          dts,
			})
		}
	}

	rng := rand.New(rand.NewSource(req.Seed))
	rng.Shuffle(len(windows), func(i, j int) {
		windows[i], windows[j] = windows[j], windows[i]
	})

	return &Splits{
		Plan:  plan,
		Train: windows[:plan.Train],
		Val:   windows[plan.Train : plan.Train+plan.Val],
		Test:  windows[plan.Train+plan.Val:],
	}, nil
}
