// Package evaluate reports model fit on held-out data, both one step ahead
// (teacher-forced over test windows) and open loop (full-trajectory rollouts
// seeded with the first observations of each experiment).
package evaluate

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/bioproc/internal/dataset"
	"github.com/san-kum/bioproc/internal/errs"
	"github.com/san-kum/bioproc/internal/hybrid"
	"github.com/san-kum/bioproc/internal/integrators"
	"github.com/san-kum/bioproc/internal/kinetics"
	"github.com/san-kum/bioproc/internal/metrics"
)

// ChannelReport pairs a channel label with its fit metrics.
type ChannelReport struct {
	Channel string          `json:"channel"`
	Metrics metrics.Summary `json:"metrics"`
}

// Report aggregates fit metrics over all channels and per channel, together
// with the flattened predicted and observed values the metrics were
// computed from.
type Report struct {
	Mode     string          `json:"mode"`
	Overall  metrics.Summary `json:"overall"`
	Channels []ChannelReport `json:"channels"`
	Pred     []float64       `json:"pred"`
	Obs      []float64       `json:"obs"`
}

// Trajectory is one experiment's open-loop rollout next to its
// observations. Predicted covers the time points after the seed window.
type Trajectory struct {
	ExperimentID string           `json:"experiment_id"`
	Times        []float64        `json:"times"`
	SeedLen      int              `json:"seed_len"`
	Predicted    []kinetics.State `json:"predicted"`
	Observed     []kinetics.State `json:"observed"`
}

// Comparison holds rollout reports for the hybrid model and its mechanistic
// baseline over the same experiments, for a like-for-like read on what the
// residual learner adds.
type Comparison struct {
	Hybrid      *Report `json:"hybrid"`
	Mechanistic *Report `json:"mechanistic"`
}

// OneStep evaluates teacher-forced single-step predictions over a window
// split and reports overall and per-channel metrics.
func OneStep(model *hybrid.Model, windows []dataset.Window) (*Report, error) {
	if len(windows) == 0 {
		return nil, errs.Shape("evaluation windows", 1, 0)
	}
	preds, err := model.Forward(windows)
	if err != nil {
		return nil, err
	}
	obs := make([]kinetics.State, len(windows))
	for i, w := range windows {
		obs[i] = w.Targets[0]
	}
	return report(model.Mode().String(), preds, obs)
}

// Rollout runs an open-loop rollout per experiment, each seeded with its
// first seedLen observations, and scores predictions against the remaining
// observations. Experiments run concurrently; the trajectories come back
// sorted by experiment ID.
func Rollout(ctx context.Context, model *hybrid.Model, exps []*dataset.Experiment, seedLen int) ([]Trajectory, *Report, error) {
	if len(exps) == 0 {
		return nil, nil, errs.Shape("rollout experiments", 1, 0)
	}
	if seedLen < 1 {
		return nil, nil, errs.Configuration("seed length", seedLen, "must be at least 1")
	}
	for _, e := range exps {
		if e.Len() <= seedLen {
			return nil, nil, errs.Configuration("experiment", e.ID(), "shorter than the seed window")
		}
	}

	trajs := make([]Trajectory, len(exps))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range exps {
		i, e := i, e
		g.Go(func() error {
			// Steppers keep scratch buffers, so each rollout gets its own
			// model around a fresh stepper. The correction source is
			// read-only in evaluation and safe to share.
			stepper, err := integrators.New(model.Stepper().Name())
			if err != nil {
				return err
			}
			worker, err := hybrid.New(model.Params(), stepper, model.Source(), model.Dim())
			if err != nil {
				return err
			}
			preds, err := worker.Rollout(gctx, e.States()[:seedLen], e.Times())
			if err != nil {
				return err
			}
			trajs[i] = Trajectory{
				ExperimentID: e.ID(),
				Times:        e.Times(),
				SeedLen:      seedLen,
				Predicted:    preds,
				Observed:     e.States()[seedLen:],
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	sort.Slice(trajs, func(i, j int) bool { return trajs[i].ExperimentID < trajs[j].ExperimentID })

	var preds, obs []kinetics.State
	for _, tr := range trajs {
		preds = append(preds, tr.Predicted...)
		obs = append(obs, tr.Observed...)
	}
	rep, err := report(model.Mode().String(), preds, obs)
	if err != nil {
		return nil, nil, err
	}
	return trajs, rep, nil
}

// Compare rolls out the hybrid model and a mechanistic-only model with the
// same kinetics and integrator over the same experiments.
func Compare(ctx context.Context, model *hybrid.Model, exps []*dataset.Experiment, seedLen int) (*Comparison, error) {
	if model.Mode() != hybrid.ResidualHybrid {
		return nil, errs.Configuration("model mode", model.Mode().String(), "comparison requires a residual hybrid model")
	}
	baseline, err := hybrid.New(model.Params(), model.Stepper(), nil, model.Dim())
	if err != nil {
		return nil, err
	}
	_, hybridRep, err := Rollout(ctx, model, exps, seedLen)
	if err != nil {
		return nil, err
	}
	_, mechRep, err := Rollout(ctx, baseline, exps, seedLen)
	if err != nil {
		return nil, err
	}
	return &Comparison{Hybrid: hybridRep, Mechanistic: mechRep}, nil
}

func report(mode string, preds, obs []kinetics.State) (*Report, error) {
	if len(preds) != len(obs) {
		return nil, errs.Shape("report states", len(obs), len(preds))
	}
	dim := len(preds[0])
	rep := &Report{Mode: mode}
	perChannel := make([][]float64, 2*dim)
	for i := range preds {
		if len(preds[i]) != dim || len(obs[i]) != dim {
			return nil, errs.Shape("report channels", dim, len(obs[i]))
		}
		for j := 0; j < dim; j++ {
			rep.Pred = append(rep.Pred, preds[i][j])
			rep.Obs = append(rep.Obs, obs[i][j])
			perChannel[j] = append(perChannel[j], preds[i][j])
			perChannel[dim+j] = append(perChannel[dim+j], obs[i][j])
		}
	}

	overall, err := metrics.Compute(rep.Pred, rep.Obs)
	if err != nil {
		return nil, err
	}
	rep.Overall = overall
	for j := 0; j < dim; j++ {
		sum, err := metrics.Compute(perChannel[j], perChannel[dim+j])
		if err != nil {
			return nil, err
		}
		rep.Channels = append(rep.Channels, ChannelReport{
			Channel: kinetics.ChannelName(j),
			Metrics: sum,
		})
	}
	return rep, nil
}
