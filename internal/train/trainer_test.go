package train

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/san-kum/bioproc/internal/dataset"
	"github.com/san-kum/bioproc/internal/errs"
	"github.com/san-kum/bioproc/internal/hybrid"
	"github.com/san-kum/bioproc/internal/integrators"
	"github.com/san-kum/bioproc/internal/kinetics"
	"github.com/san-kum/bioproc/internal/learner"
	"github.com/san-kum/bioproc/internal/loss"
	"github.com/san-kum/bioproc/internal/metrics"
)

func TestAdamMinimizesQuadratic(t *testing.T) {
	w := []float64{5.0}
	g := []float64{0}
	p := &learner.Param{Name: "w", Data: w, Grad: g}
	cfg := DefaultAdamConfig()
	cfg.LearningRate = 0.1
	cfg.WeightDecay = 0
	opt := NewAdam([]*learner.Param{p}, cfg)

	for i := 0; i < 500; i++ {
		g[0] = 2 * (w[0] - 3.0)
		opt.Step()
	}
	if math.Abs(w[0]-3.0) > 1e-3 {
		t.Fatalf("adam did not converge: w = %v", w[0])
	}
}

func TestAdamWeightDecayShrinks(t *testing.T) {
	w := []float64{1.0}
	g := []float64{0}
	p := &learner.Param{Name: "w", Data: w, Grad: g}
	cfg := DefaultAdamConfig()
	cfg.WeightDecay = 0.1
	opt := NewAdam([]*learner.Param{p}, cfg)

	// Zero loss gradient: only the decay term acts, pulling w toward zero.
	for i := 0; i < 50; i++ {
		opt.Step()
	}
	if w[0] >= 1.0 || w[0] <= 0 {
		t.Fatalf("weight decay should shrink w toward zero, got %v", w[0])
	}
}

func TestPlateauReducesAfterPatience(t *testing.T) {
	p := NewPlateau(0.5, 2)
	lr := 0.1
	lr = p.Observe(1.0, lr) // best
	if lr != 0.1 {
		t.Fatalf("lr changed on first observation: %v", lr)
	}
	lr = p.Observe(1.0, lr) // wait 1
	lr = p.Observe(1.0, lr) // wait 2: reduce
	if math.Abs(lr-0.05) > 1e-15 {
		t.Fatalf("expected reduction to 0.05, got %v", lr)
	}
	lr = p.Observe(0.5, lr) // improvement resets the counter
	lr = p.Observe(0.5, lr)
	if lr != 0.05 {
		t.Fatalf("lr changed before patience elapsed: %v", lr)
	}
}

func TestPlateauNeverIncreases(t *testing.T) {
	p := NewPlateau(0.5, 1)
	lr := 0.1
	losses := []float64{1.0, 2.0, 0.5, 0.4, 3.0, 0.1}
	for _, l := range losses {
		next := p.Observe(l, lr)
		if next > lr {
			t.Fatalf("lr increased from %v to %v", lr, next)
		}
		lr = next
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero epochs", func(c *Config) { c.Epochs = 0 }},
		{"factor one", func(c *Config) { c.Factor = 1.0 }},
		{"zero patience", func(c *Config) { c.Patience = 0 }},
		{"negative weight", func(c *Config) { c.Weights = loss.Weights{Data: -1, Physics: 1} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			model, gru := newTestModel(t)
			if _, err := New(model, gru, cfg); err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}
}

func TestNewRejectsMechanisticModel(t *testing.T) {
	model, err := hybrid.New(kinetics.DefaultParams(), mustStepper(t, "euler"), nil, kinetics.NumCore)
	if err != nil {
		t.Fatal(err)
	}
	_, gru := newTestModel(t)
	if _, err := New(model, gru, DefaultConfig()); err == nil {
		t.Fatal("expected error for mechanistic-only model")
	}
}

// syntheticSplits integrates the kinetics with a constant extra rate on each
// channel, so the residual network has a learnable, stationary target.
func syntheticSplits(t *testing.T, p kinetics.Params, extra kinetics.State, seed int64) *dataset.Splits {
	t.Helper()
	starts := []kinetics.State{
		{0.1, 10.0, 0.0},
		{0.2, 8.0, 0.0},
		{0.15, 12.0, 0.0},
	}
	ids := []string{"run-a", "run-b", "run-c"}
	exps := make([]*dataset.Experiment, len(starts))
	for e := range starts {
		times := make([]float64, 21)
		states := make([]kinetics.State, 21)
		states[0] = starts[e].Clone()
		for i := 1; i < 21; i++ {
			times[i] = float64(i) * 12.0
			prev := states[i-1]
			rates := p.Rates(prev)
			next := make(kinetics.State, len(prev))
			for j := range prev {
				next[j] = prev[j] + 12.0*(rates[j]+extra[j])
				if next[j] < 0 {
					next[j] = 0
				}
			}
			states[i] = next
		}
		exp, err := dataset.NewExperiment(ids[e], times, states)
		if err != nil {
			t.Fatal(err)
		}
		exps[e] = exp
	}
	splits, err := dataset.Build(exps, dataset.Request{
		WindowLen:  10,
		BatchSize:  8,
		TrainRatio: 0.7,
		ValRatio:   0.15,
		TestRatio:  0.15,
		Seed:       seed,
	})
	if err != nil {
		t.Fatal(err)
	}
	return splits
}

func newTestModel(t *testing.T) (*hybrid.Model, *learner.GRU) {
	t.Helper()
	gru, err := learner.New(learner.Config{
		InputDim:  kinetics.NumCore,
		HiddenDim: 16,
		NumLayers: 1,
		OutputDim: kinetics.NumCore,
		Seed:      7,
	})
	if err != nil {
		t.Fatal(err)
	}
	params := kinetics.DefaultParams()
	params.MuMax = 0.05
	model, err := hybrid.New(params, mustStepper(t, "euler"), gru, kinetics.NumCore)
	if err != nil {
		t.Fatal(err)
	}
	return model, gru
}

func mustStepper(t *testing.T, name string) integrators.Stepper {
	t.Helper()
	s, err := integrators.New(name)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRunCalibratesResidual(t *testing.T) {
	model, gru := newTestModel(t)
	splits := syntheticSplits(t, model.Params(), kinetics.State{0.002, -0.003, 0.001}, 42)

	cfg := DefaultConfig()
	cfg.Epochs = 60
	tr, err := New(model, gru, cfg)
	if err != nil {
		t.Fatal(err)
	}
	history, best, err := tr.Run(context.Background(), *splits)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != cfg.Epochs {
		t.Fatalf("expected %d epoch records, got %d", cfg.Epochs, len(history))
	}
	if best.ValLoss >= history[0].ValTotal {
		t.Fatalf("validation loss did not improve: first %v, best %v", history[0].ValTotal, best.ValLoss)
	}
	for i := 1; i < len(history); i++ {
		if history[i].LR > history[i-1].LR {
			t.Fatalf("learning rate increased at epoch %d", i)
		}
	}

	// The network carries the best epoch's weights after Run.
	preds, err := model.Forward(splits.Val)
	if err != nil {
		t.Fatal(err)
	}
	targets := make([]kinetics.State, len(splits.Val))
	last := make([]kinetics.State, len(splits.Val))
	dts := make([]float64, len(splits.Val))
	for i, w := range splits.Val {
		targets[i] = w.Targets[0]
		last[i] = w.Last()
		dts[i] = w.Dts[0]
	}
	comps, err := loss.Eval(preds, targets, last, dts, model.Params(), cfg.Weights)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(comps.Total-best.ValLoss) > 1e-9 {
		t.Fatalf("restored weights give val loss %v, checkpoint recorded %v", comps.Total, best.ValLoss)
	}

	// One-step test-split fit.
	var predFlat, obsFlat []float64
	testPreds, err := model.Forward(splits.Test)
	if err != nil {
		t.Fatal(err)
	}
	for i, w := range splits.Test {
		predFlat = append(predFlat, testPreds[i]...)
		obsFlat = append(obsFlat, w.Targets[0]...)
	}
	sum, err := metrics.Compute(predFlat, obsFlat)
	if err != nil {
		t.Fatal(err)
	}
	if sum.R2 < 0.9 {
		t.Fatalf("one-step R2 = %v, want >= 0.9", sum.R2)
	}
}

func TestRunDeterministicUnderSeed(t *testing.T) {
	run := func() []EpochRecord {
		model, gru := newTestModel(t)
		splits := syntheticSplits(t, model.Params(), kinetics.State{0.002, -0.003, 0.001}, 42)
		cfg := DefaultConfig()
		cfg.Epochs = 5
		tr, err := New(model, gru, cfg)
		if err != nil {
			t.Fatal(err)
		}
		history, _, err := tr.Run(context.Background(), *splits)
		if err != nil {
			t.Fatal(err)
		}
		return history
	}
	a := run()
	b := run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("epoch %d diverged across identical runs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestRunCheckpointCallback(t *testing.T) {
	model, gru := newTestModel(t)
	splits := syntheticSplits(t, model.Params(), kinetics.State{0.001, 0, 0}, 1)
	cfg := DefaultConfig()
	cfg.Epochs = 3
	var seen []int
	cfg.OnCheckpoint = func(ck Checkpoint) error {
		if len(ck.Weights) == 0 || len(ck.MechParams) == 0 {
			t.Fatal("checkpoint missing state")
		}
		seen = append(seen, ck.Epoch)
		return nil
	}
	tr, err := New(model, gru, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := tr.Run(context.Background(), *splits); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3 || seen[0] != 0 || seen[2] != 2 {
		t.Fatalf("unexpected checkpoint epochs: %v", seen)
	}
}

func TestRunCheckpointCallbackErrorAborts(t *testing.T) {
	model, gru := newTestModel(t)
	splits := syntheticSplits(t, model.Params(), kinetics.State{0.001, 0, 0}, 1)
	cfg := DefaultConfig()
	cfg.Epochs = 10
	fail := errors.New("disk full")
	cfg.OnCheckpoint = func(Checkpoint) error { return fail }
	tr, err := New(model, gru, cfg)
	if err != nil {
		t.Fatal(err)
	}
	history, _, err := tr.Run(context.Background(), *splits)
	if !errors.Is(err, fail) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected abort after first epoch, got %d records", len(history))
	}
}

func TestRunContextCancellation(t *testing.T) {
	model, gru := newTestModel(t)
	splits := syntheticSplits(t, model.Params(), kinetics.State{0.001, 0, 0}, 1)
	cfg := DefaultConfig()
	cfg.Epochs = 100

	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	cfg.OnCheckpoint = func(Checkpoint) error {
		count++
		if count == 2 {
			cancel()
		}
		return nil
	}
	tr, err := New(model, gru, cfg)
	if err != nil {
		t.Fatal(err)
	}
	history, _, err := tr.Run(ctx, *splits)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 completed epochs before cancellation, got %d", len(history))
	}
}

func TestRunNumericalAbortCarriesContext(t *testing.T) {
	model, gru := newTestModel(t)

	// A state this large overflows the squared data error, which must
	// surface as a numerical error tagged with epoch and batch.
	times := make([]float64, 6)
	states := make([]kinetics.State, 6)
	for i := range times {
		times[i] = float64(i)
		states[i] = kinetics.State{1e200, 10, 0}
	}
	exp, err := dataset.NewExperiment("blowup", times, states)
	if err != nil {
		t.Fatal(err)
	}
	splits, err := dataset.Build([]*dataset.Experiment{exp}, dataset.Request{
		WindowLen:  3,
		BatchSize:  4,
		TrainRatio: 0.5,
		ValRatio:   0.25,
		TestRatio:  0.25,
		Seed:       1,
	})
	if err != nil {
		t.Fatal(err)
	}
	tr, err := New(model, gru, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = tr.Run(context.Background(), *splits)
	var numErr *errs.NumericalError
	if !errors.As(err, &numErr) {
		t.Fatalf("expected numerical error, got %v", err)
	}
	if numErr.Epoch != 0 || numErr.Batch < 0 {
		t.Fatalf("numerical error missing training context: %+v", numErr)
	}
}
