// Package dataset turns a set of batch experiments into fixed-length training
// windows. Window length, batch size, and split sizes adapt to the shortest
// experiment so that a dataset with only tens of observations still yields a
// usable, non-empty partition per split.
package dataset

import (
	"github.com/san-kum/bioproc/internal/errs"
	"github.com/san-kum/bioproc/internal/kinetics"
)

// Experiment is one time-ordered run of the process. It is owned by the
// data-loading collaborator and treated as read-only here; the constructor
// validates shape and time monotonicity but does not copy.
type Experiment struct {
	id     string
	times  []float64
	states []kinetics.State
}

// NewExperiment validates and wraps one experiment's observations.
func NewExperiment(id string, times []float64, states []kinetics.State) (*Experiment, error) {
	if len(times) != len(states) {
		return nil, errs.Shape("experiment "+id+" time axis", len(states), len(times))
	}
	if len(states) == 0 {
		return nil, errs.Configuration("experiment", id, "no observations")
	}
	dim := len(states[0])
	if dim < kinetics.NumCore {
		return nil, errs.Shape("experiment "+id+" channels", kinetics.NumCore, dim)
	}
	for i, s := range states {
		if len(s) != dim {
			return nil, errs.Shape("experiment "+id+" channels", dim, len(s))
		}
		if i > 0 && times[i] <= times[i-1] {
			return nil, errs.Configuration("time_axis", times[i], "time points must be strictly increasing")
		}
	}
	return &Experiment{id: id, times: times, states: states}, nil
}

func (e *Experiment) ID() string               { return e.id }
func (e *Experiment) Len() int                 { return len(e.states) }
func (e *Experiment) Dim() int                 { return len(e.states[0]) }
func (e *Experiment) Times() []float64         { return e.times }
func (e *Experiment) States() []kinetics.State { return e.states }
