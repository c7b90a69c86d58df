// Package hybrid combines the mechanistic kinetics with a learned residual
// correction. At every simulation step the mechanistic rate is evaluated,
// the correction source (when present) is queried on the trailing window of
// states, the two are added, and the integrator advances the state:
//
//	rate_effective = rate_mechanistic + correction
//
// With a nil correction source the model reduces exactly to pure mechanistic
// integration. Additive combination is the only supported mode.
package hybrid

import (
	"context"

	"github.com/san-kum/bioproc/internal/dataset"
	"github.com/san-kum/bioproc/internal/errs"
	"github.com/san-kum/bioproc/internal/integrators"
	"github.com/san-kum/bioproc/internal/kinetics"
)

// Mode distinguishes the two model variants. Both share the integrator and
// kinetics; they differ only in whether a correction is added before
// integration.
type Mode int

const (
	MechanisticOnly Mode = iota
	ResidualHybrid
)

func (m Mode) String() string {
	if m == ResidualHybrid {
		return "residual_hybrid"
	}
	return "mechanistic_only"
}

// CorrectionSource produces per-channel rate corrections for a batch of
// trailing windows, ordered identically to the input batch.
type CorrectionSource interface {
	Correct(windows [][]kinetics.State, training bool) ([][]float64, error)
	Dims() (in, out int)
}

// Model integrates the hybrid dynamics. Not safe for concurrent mutation;
// evaluation passes over immutable inputs may run concurrently only on
// separate Model values.
type Model struct {
	params  kinetics.Params
	stepper integrators.Stepper
	source  CorrectionSource
	dim     int
}

// New validates shapes and builds a model. A nil source selects
// MechanisticOnly mode.
func New(params kinetics.Params, stepper integrators.Stepper, source CorrectionSource, dim int) (*Model, error) {
	if err := params.Validate(); err != nil {
		return nil, errs.Configuration("kinetics", nil, err.Error())
	}
	if stepper == nil {
		return nil, errs.Configuration("integrator", nil, "required")
	}
	if dim < kinetics.NumCore {
		return nil, errs.Shape("model channels", kinetics.NumCore, dim)
	}
	if source != nil {
		in, out := source.Dims()
		if in != dim {
			return nil, errs.Shape("correction source input", dim, in)
		}
		if out != dim {
			return nil, errs.Shape("correction source output", dim, out)
		}
	}
	return &Model{params: params, stepper: stepper, source: source, dim: dim}, nil
}

func (m *Model) Mode() Mode {
	if m.source == nil {
		return MechanisticOnly
	}
	return ResidualHybrid
}

func (m *Model) Params() kinetics.Params      { return m.params }
func (m *Model) Stepper() integrators.Stepper { return m.stepper }
func (m *Model) Source() CorrectionSource     { return m.source }
func (m *Model) Dim() int                     { return m.dim }

// StepBatch advances each state one step with its own dt and optional
// correction row. Every element uses the same scheme; there is no cross-batch
// interaction. The returned masks flag channels pinned at zero by the
// non-negativity clamp, where gradients must be cut.
func (m *Model) StepBatch(last []kinetics.State, corr [][]float64, dts []float64) ([]kinetics.State, [][]bool, error) {
	if len(dts) != len(last) {
		return nil, nil, errs.Shape("step batch dts", len(last), len(dts))
	}
	if corr != nil && len(corr) != len(last) {
		return nil, nil, errs.Shape("step batch corrections", len(last), len(corr))
	}
	preds := make([]kinetics.State, len(last))
	masks := make([][]bool, len(last))
	for i, x := range last {
		if dts[i] <= 0 {
			return nil, nil, errs.Configuration("dt", dts[i], "time step must be positive")
		}
		if len(x) != m.dim {
			return nil, nil, errs.Shape("step batch channels", m.dim, len(x))
		}
		var c []float64
		if corr != nil {
			c = corr[i]
		}
		next := kinetics.State(m.stepper.Step(m.params.RatesInto, x, dts[i], c))
		if !next.IsFinite() {
			return nil, nil, errs.Numerical("integration step")
		}
		mask := make([]bool, m.dim)
		for j, v := range next {
			mask[j] = v == 0
		}
		preds[i] = next
		masks[i] = mask
	}
	return preds, masks, nil
}

// Forward is the teacher-forced pass: every window's true past states feed
// the correction source, and each prediction is one integrator step from the
// window's last observed state. Used during training and one-step
// evaluation; contrast with Rollout.
func (m *Model) Forward(windows []dataset.Window) ([]kinetics.State, error) {
	if len(windows) == 0 {
		return nil, errs.Shape("forward batch", 1, 0)
	}
	var corr [][]float64
	if m.source != nil {
		inputs := make([][]kinetics.State, len(windows))
		for i, w := range windows {
			inputs[i] = w.Inputs
		}
		var err error
		corr, err = m.source.Correct(inputs, false)
		if err != nil {
			return nil, err
		}
	}
	last := make([]kinetics.State, len(windows))
	dts := make([]float64, len(windows))
	for i, w := range windows {
		last[i] = w.Last()
		dts[i] = w.Dts[0]
	}
	preds, _, err := m.StepBatch(last, corr, dts)
	return preds, err
}

// Rollout is the autoregressive pass: starting from a seed window of true
// states, the model's own predictions feed subsequent windows. It produces
// one prediction per time point after the seed and stops when the horizon is
// done. The context is checked each step so a batch driver can cancel long
// rollouts.
func (m *Model) Rollout(ctx context.Context, seed []kinetics.State, times []float64) ([]kinetics.State, error) {
	if len(seed) == 0 {
		return nil, errs.Shape("rollout seed", 1, 0)
	}
	if len(times) <= len(seed) {
		return nil, errs.Configuration("times", len(times), "must extend past the seed window")
	}
	for _, s := range seed {
		if len(s) != m.dim {
			return nil, errs.Shape("rollout seed channels", m.dim, len(s))
		}
	}
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			return nil, errs.Configuration("times", times[i], "time points must be strictly increasing")
		}
	}

	window := kinetics.CloneAll(seed)
	preds := make([]kinetics.State, 0, len(times)-len(seed))
	for i := len(seed); i < len(times); i++ {
		select {
		case <-ctx.Done():
			return preds, ctx.Err()
		default:
		}

		var c []float64
		if m.source != nil {
			corr, err := m.source.Correct([][]kinetics.State{window}, false)
			if err != nil {
				return nil, err
			}
			c = corr[0]
		}
		dt := times[i] - times[i-1]
		next := kinetics.State(m.stepper.Step(m.params.RatesInto, window[len(window)-1], dt, c))
		if !next.IsFinite() {
			return nil, errs.Numerical("rollout step")
		}
		preds = append(preds, next)
		window = append(window[1:], next)
	}
	return preds, nil
}
