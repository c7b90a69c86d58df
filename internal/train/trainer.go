// Package train calibrates the residual network of a hybrid model against
// windowed experiment data. Each epoch shuffles the training windows,
// teacher-forces one integrator step per window, backpropagates the
// physics-informed loss through the correction, and applies an Adam update.
// Validation loss drives a reduce-on-plateau learning rate schedule and
// best-checkpoint tracking.
package train

import (
	"context"
	"errors"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/san-kum/bioproc/internal/dataset"
	"github.com/san-kum/bioproc/internal/errs"
	"github.com/san-kum/bioproc/internal/hybrid"
	"github.com/san-kum/bioproc/internal/kinetics"
	"github.com/san-kum/bioproc/internal/learner"
	"github.com/san-kum/bioproc/internal/loss"
)

// Config holds the training hyperparameters.
type Config struct {
	Epochs   int
	Seed     int64
	Weights  loss.Weights
	Adam     AdamConfig
	Factor   float64 // learning rate multiplier on plateau
	Patience int     // epochs without val improvement before reducing

	// OnCheckpoint, when set, is invoked with the current model state after
	// every epoch so a caller can persist resumable checkpoints. A returned
	// error aborts training.
	OnCheckpoint func(Checkpoint) error
}

// DefaultConfig mirrors the calibration defaults: 100 epochs, plateau
// factor 0.5 with patience 10.
func DefaultConfig() Config {
	return Config{
		Epochs:   100,
		Seed:     42,
		Weights:  loss.DefaultWeights(),
		Adam:     DefaultAdamConfig(),
		Factor:   0.5,
		Patience: 10,
	}
}

func (c Config) validate() error {
	if c.Epochs < 1 {
		return errs.Configuration("epochs", c.Epochs, "must be at least 1")
	}
	if c.Factor <= 0 || c.Factor >= 1 {
		return errs.Configuration("factor", c.Factor, "must be in (0, 1)")
	}
	if c.Patience < 1 {
		return errs.Configuration("patience", c.Patience, "must be at least 1")
	}
	if c.Weights.Data < 0 || c.Weights.Physics < 0 {
		return errs.Configuration("loss weights", c.Weights, "must be non-negative")
	}
	return nil
}

// EpochRecord is one row of the training history.
type EpochRecord struct {
	Epoch        int     `json:"epoch"`
	TrainTotal   float64 `json:"train_total"`
	TrainData    float64 `json:"train_data"`
	TrainPhysics float64 `json:"train_physics"`
	ValTotal     float64 `json:"val_total"`
	ValData      float64 `json:"val_data"`
	ValPhysics   float64 `json:"val_physics"`
	LR           float64 `json:"lr"`
}

// Checkpoint is a self-contained snapshot of the trainable state: network
// weights, the mechanistic parameters they were calibrated against, and
// enough trainer state to resume or to identify the best epoch.
type Checkpoint struct {
	Epoch      int                  `json:"epoch"`
	ValLoss    float64              `json:"val_loss"`
	LR         float64              `json:"lr"`
	Weights    map[string][]float64 `json:"weights"`
	MechParams map[string]float64   `json:"mech_params"`
}

// Trainer runs the calibration loop for one hybrid model.
type Trainer struct {
	model *hybrid.Model
	gru   *learner.GRU
	cfg   Config
	opt   *Adam
	sched *Plateau
	rng   *rand.Rand
}

// New builds a trainer for a residual-hybrid model whose correction source
// is the given network.
func New(model *hybrid.Model, gru *learner.GRU, cfg Config) (*Trainer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if model == nil || gru == nil {
		return nil, errs.Configuration("trainer", nil, "model and network are required")
	}
	if model.Mode() != hybrid.ResidualHybrid {
		return nil, errs.Configuration("model mode", model.Mode().String(), "training requires a residual hybrid model")
	}
	return &Trainer{
		model: model,
		gru:   gru,
		cfg:   cfg,
		opt:   NewAdam(gru.Params(), cfg.Adam),
		sched: NewPlateau(cfg.Factor, cfg.Patience),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Run trains for the configured number of epochs and returns the history
// and the best checkpoint by validation loss. On return the network carries
// the best epoch's weights, not the final epoch's. The context is checked
// between epochs; cancellation returns the history accumulated so far.
func (t *Trainer) Run(ctx context.Context, splits dataset.Splits) ([]EpochRecord, Checkpoint, error) {
	if len(splits.Train) == 0 || len(splits.Val) == 0 {
		return nil, Checkpoint{}, errs.Shape("training splits", 1, 0)
	}
	batch := splits.Plan.BatchSize
	if batch < 1 || batch > len(splits.Train) {
		batch = len(splits.Train)
	}

	history := make([]EpochRecord, 0, t.cfg.Epochs)
	var best Checkpoint
	order := make([]int, len(splits.Train))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		select {
		case <-ctx.Done():
			return history, best, ctx.Err()
		default:
		}

		t.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var trainSum accum
		for bi, start := 0, 0; start < len(order); bi, start = bi+1, start+batch {
			end := start + batch
			if end > len(order) {
				end = len(order)
			}
			windows := make([]dataset.Window, end-start)
			for i, idx := range order[start:end] {
				windows[i] = splits.Train[idx]
			}
			comps, err := t.trainBatch(windows)
			if err != nil {
				t.tagNumerical(err, epoch, bi)
				return history, best, err
			}
			trainSum.add(comps, len(windows))
		}
		trainLoss := trainSum.mean()

		valLoss, err := t.evalSplit(splits.Val, batch)
		if err != nil {
			t.tagNumerical(err, epoch, -1)
			return history, best, err
		}

		lr := t.opt.LR()
		rec := EpochRecord{
			Epoch:        epoch,
			TrainTotal:   trainLoss.Total,
			TrainData:    trainLoss.Data,
			TrainPhysics: trainLoss.Physics,
			ValTotal:     valLoss.Total,
			ValData:      valLoss.Data,
			ValPhysics:   valLoss.Physics,
			LR:           lr,
		}
		history = append(history, rec)

		if epoch == 0 || valLoss.Total < best.ValLoss {
			best = t.snapshot(epoch, valLoss.Total, lr)
		}
		if next := t.sched.Observe(valLoss.Total, lr); next != lr {
			t.opt.SetLR(next)
			log.Info().Int("epoch", epoch).Float64("lr", next).Msg("reducing learning rate")
		}

		log.Info().
			Int("epoch", epoch).
			Float64("train_loss", rec.TrainTotal).
			Float64("val_loss", rec.ValTotal).
			Float64("lr", rec.LR).
			Msg("epoch complete")

		if t.cfg.OnCheckpoint != nil {
			if err := t.cfg.OnCheckpoint(t.snapshot(epoch, valLoss.Total, t.opt.LR())); err != nil {
				return history, best, err
			}
		}
	}

	if err := t.gru.LoadStateDict(best.Weights); err != nil {
		return history, best, err
	}
	log.Info().Int("best_epoch", best.Epoch).Float64("val_loss", best.ValLoss).Msg("training finished")
	return history, best, nil
}

// trainBatch runs one teacher-forced step with backpropagation. The
// gradient of the prediction with respect to the correction is dt on free
// channels and zero where the non-negativity clamp is active.
func (t *Trainer) trainBatch(windows []dataset.Window) (loss.Components, error) {
	inputs, targets, last, dts := unpack(windows)

	corr, cache, err := t.gru.Forward(inputs, true)
	if err != nil {
		return loss.Components{}, err
	}
	preds, masks, err := t.model.StepBatch(last, corr, dts)
	if err != nil {
		return loss.Components{}, err
	}
	comps, dPred, err := loss.Grad(preds, targets, last, dts, t.model.Params(), t.cfg.Weights)
	if err != nil {
		return loss.Components{}, err
	}

	dCorr := make([][]float64, len(dPred))
	for i, row := range dPred {
		g := make([]float64, len(row))
		for j, v := range row {
			if !masks[i][j] {
				g[j] = v * dts[i]
			}
		}
		dCorr[i] = g
	}

	t.gru.ZeroGrad()
	if err := t.gru.Backward(cache, dCorr); err != nil {
		return loss.Components{}, err
	}
	t.opt.Step()
	return comps, nil
}

// evalSplit computes the loss over a split without dropout or gradients.
func (t *Trainer) evalSplit(split []dataset.Window, batch int) (loss.Components, error) {
	var sum accum
	for start := 0; start < len(split); start += batch {
		end := start + batch
		if end > len(split) {
			end = len(split)
		}
		windows := split[start:end]
		inputs, targets, last, dts := unpack(windows)

		corr, _, err := t.gru.Forward(inputs, false)
		if err != nil {
			return loss.Components{}, err
		}
		preds, _, err := t.model.StepBatch(last, corr, dts)
		if err != nil {
			return loss.Components{}, err
		}
		comps, err := loss.Eval(preds, targets, last, dts, t.model.Params(), t.cfg.Weights)
		if err != nil {
			return loss.Components{}, err
		}
		sum.add(comps, len(windows))
	}
	return sum.mean(), nil
}

func (t *Trainer) snapshot(epoch int, valLoss, lr float64) Checkpoint {
	return Checkpoint{
		Epoch:      epoch,
		ValLoss:    valLoss,
		LR:         lr,
		Weights:    t.gru.StateDict(),
		MechParams: t.model.Params().Map(),
	}
}

func (t *Trainer) tagNumerical(err error, epoch, batch int) {
	var numErr *errs.NumericalError
	if errors.As(err, &numErr) {
		numErr.Epoch = epoch
		numErr.Batch = batch
		log.Error().Int("epoch", epoch).Int("batch", batch).Msg("non-finite value, aborting training")
	}
}

// unpack splits windows into the parallel slices the forward pass needs.
// Training always targets the first horizon step.
func unpack(windows []dataset.Window) (inputs [][]kinetics.State, targets, last []kinetics.State, dts []float64) {
	inputs = make([][]kinetics.State, len(windows))
	targets = make([]kinetics.State, len(windows))
	last = make([]kinetics.State, len(windows))
	dts = make([]float64, len(windows))
	for i, w := range windows {
		inputs[i] = w.Inputs
		targets[i] = w.Targets[0]
		last[i] = w.Last()
		dts[i] = w.Dts[0]
	}
	return inputs, targets, last, dts
}

// accum accumulates batch-size-weighted loss components so the epoch
// figure is an exact mean over windows rather than a mean of batch means.
type accum struct {
	total, data, physics float64
	n                    int
}

func (c *accum) add(l loss.Components, n int) {
	c.total += l.Total * float64(n)
	c.data += l.Data * float64(n)
	c.physics += l.Physics * float64(n)
	c.n += n
}

func (c *accum) mean() loss.Components {
	if c.n == 0 {
		return loss.Components{}
	}
	f := float64(c.n)
	return loss.Components{Total: c.total / f, Data: c.data / f, Physics: c.physics / f}
}
