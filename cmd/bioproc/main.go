package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/san-kum/bioproc/internal/config"
	"github.com/san-kum/bioproc/internal/dataset"
	"github.com/san-kum/bioproc/internal/evaluate"
	"github.com/san-kum/bioproc/internal/hybrid"
	"github.com/san-kum/bioproc/internal/integrators"
	"github.com/san-kum/bioproc/internal/kinetics"
	"github.com/san-kum/bioproc/internal/learner"
	"github.com/san-kum/bioproc/internal/optim"
	"github.com/san-kum/bioproc/internal/store"
	"github.com/san-kum/bioproc/internal/train"
)

var (
	dataDir    string
	configFile string
	preset     string
	epochs     int
	seed       int64
	integrator string
	residual   bool
	estimateS  bool
	// simulate initial state
	x0 float64
	s0 float64
	p0 float64
	// simulate time axis
	dt       float64
	duration float64
	// fit grid, name=v1,v2,... per entry
	gridParams []string
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	rootCmd := &cobra.Command{
		Use:   "bioproc",
		Short: "hybrid mechanistic and residual bioprocess modeling",
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".bioproc", "data directory")

	trainCmd := &cobra.Command{
		Use:   "train [experiments]",
		Short: "calibrate a model against experiment data",
		Long: "Calibrate a hybrid model against a JSON batch file or a directory of\n" +
			"CSV experiments, then evaluate it on the held-out test split.",
		Args: cobra.ExactArgs(1),
		RunE: runTrain,
	}
	trainCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	trainCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	trainCmd.Flags().IntVar(&epochs, "epochs", config.DefaultEpochs, "training epochs")
	trainCmd.Flags().Int64Var(&seed, "seed", config.DefaultSeed, "random seed")
	trainCmd.Flags().StringVar(&integrator, "integrator", "euler", "integrator (euler, rk4)")
	trainCmd.Flags().BoolVar(&residual, "residual", true, "train the residual learner")
	trainCmd.Flags().BoolVar(&estimateS, "estimate-substrate", false,
		"replace the substrate channel with the yield-based estimate from biomass")
	trainCmd.Flags().Float64Var(&s0, "s0", 10.0, "initial substrate for the estimate")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "run a mechanistic batch simulation",
		RunE:  runSimulate,
	}
	simulateCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	simulateCmd.Flags().Float64Var(&x0, "x0", 0.1, "initial biomass")
	simulateCmd.Flags().Float64Var(&s0, "s0", 10.0, "initial substrate")
	simulateCmd.Flags().Float64Var(&p0, "p0", 0.0, "initial product")
	simulateCmd.Flags().Float64Var(&dt, "dt", 1.0, "timestep (h)")
	simulateCmd.Flags().Float64Var(&duration, "time", 48.0, "duration (h)")
	simulateCmd.Flags().StringVar(&integrator, "integrator", "euler", "integrator (euler, rk4)")

	fitCmd := &cobra.Command{
		Use:   "fit [experiments]",
		Short: "grid-search mechanistic parameters against experiment data",
		Args:  cobra.ExactArgs(1),
		RunE:  runFit,
	}
	fitCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	fitCmd.Flags().StringVar(&integrator, "integrator", "euler", "integrator (euler, rk4)")
	fitCmd.Flags().Int64Var(&seed, "seed", config.DefaultSeed, "random seed")
	fitCmd.Flags().StringArrayVar(&gridParams, "param", nil,
		"parameter grid as name=v1,v2,... (repeatable)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list calibration runs",
		RunE:  listRuns,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range config.ListPresets() {
				fmt.Println(p)
			}
			return nil
		},
	}

	rootCmd.AddCommand(trainCmd, simulateCmd, fitCmd, listCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	// CLI flags override the file.
	if cmd.Flags().Changed("epochs") {
		cfg.Train.Epochs = epochs
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = seed
	}
	if cmd.Flags().Changed("integrator") {
		cfg.Integrator = integrator
	}
	if cmd.Flags().Changed("residual") {
		cfg.Residual = residual
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadExperiments accepts either a JSON batch file or a directory of CSV
// files, one experiment per file.
func loadExperiments(path string) ([]*dataset.Experiment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return store.LoadExperimentsJSON(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var exps []*dataset.Experiment
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		exp, err := store.LoadExperimentCSV(filepath.Join(path, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		exps = append(exps, exp)
	}
	if len(exps) == 0 {
		return nil, fmt.Errorf("no csv experiments in %s", path)
	}
	return exps, nil
}

// fillSubstrate replaces each experiment's substrate channel with the
// yield-based estimate from biomass, for datasets recorded without
// substrate measurements.
func fillSubstrate(exps []*dataset.Experiment, s0, yxs float64) ([]*dataset.Experiment, error) {
	out := make([]*dataset.Experiment, len(exps))
	for i, e := range exps {
		states := kinetics.CloneAll(e.States())
		biomass := make([]float64, len(states))
		for j, s := range states {
			biomass[j] = s[kinetics.Biomass]
		}
		est := dataset.EstimateSubstrate(biomass, s0, yxs)
		for j := range states {
			states[j][kinetics.Substrate] = est[j]
		}
		filled, err := dataset.NewExperiment(e.ID(), e.Times(), states)
		if err != nil {
			return nil, err
		}
		out[i] = filled
	}
	return out, nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	exps, err := loadExperiments(args[0])
	if err != nil {
		return err
	}
	if estimateS {
		exps, err = fillSubstrate(exps, s0, cfg.Kinetics.Yxs)
		if err != nil {
			return err
		}
	}

	splits, err := dataset.Build(exps, cfg.DataRequest())
	if err != nil {
		return err
	}
	dim := splits.Dim()
	log.Info().
		Int("experiments", len(exps)).
		Int("window_len", splits.Plan.WindowLen).
		Int("train", splits.Plan.Train).
		Int("val", splits.Plan.Val).
		Int("test", splits.Plan.Test).
		Msg("dataset ready")

	stepper, err := integrators.New(cfg.Integrator)
	if err != nil {
		return err
	}

	st := store.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	if !cfg.Residual {
		model, err := hybrid.New(cfg.KineticsParams(), stepper, nil, dim)
		if err != nil {
			return err
		}
		return evaluateRun(cmd.Context(), st, model, splits, exps, nil)
	}

	gru, err := learner.New(cfg.LearnerSpec(dim))
	if err != nil {
		return err
	}
	model, err := hybrid.New(cfg.KineticsParams(), stepper, gru, dim)
	if err != nil {
		return err
	}

	runID, err := st.NewRun(store.RunMetadata{
		Integrator: cfg.Integrator,
		Residual:   true,
		Seed:       cfg.Seed,
		Epochs:     cfg.Train.Epochs,
	})
	if err != nil {
		return err
	}

	tcfg := cfg.TrainSpec()
	tcfg.OnCheckpoint = func(ck train.Checkpoint) error {
		return st.SaveCheckpoint(runID, "latest", ck)
	}
	trainer, err := train.New(model, gru, tcfg)
	if err != nil {
		return err
	}

	fmt.Printf("training for %d epochs...\n", cfg.Train.Epochs)
	start := time.Now()
	history, best, err := trainer.Run(cmd.Context(), *splits)
	if err != nil {
		return err
	}
	fmt.Printf("completed in %v\n", time.Since(start))
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("best epoch: %d (val loss %.6f)\n", best.Epoch, best.ValLoss)

	if err := st.SaveCheckpoint(runID, "best", best); err != nil {
		return err
	}
	if err := st.SaveHistory(runID, history); err != nil {
		return err
	}
	if err := st.UpdateMetadata(runID, store.RunMetadata{
		Integrator:  cfg.Integrator,
		Residual:    true,
		Seed:        cfg.Seed,
		Epochs:      len(history),
		BestEpoch:   best.Epoch,
		BestValLoss: best.ValLoss,
	}); err != nil {
		return err
	}

	return evaluateRun(cmd.Context(), st, model, splits, exps, &runID)
}

// evaluateRun scores the model on the test split and as full rollouts,
// printing the metrics and persisting reports when a run ID is given.
func evaluateRun(ctx context.Context, st *store.Store, model *hybrid.Model, splits *dataset.Splits, exps []*dataset.Experiment, runID *string) error {
	oneStep, err := evaluate.OneStep(model, splits.Test)
	if err != nil {
		return err
	}
	fmt.Println("\none-step test metrics:")
	printReport(oneStep)

	seedLen := splits.Plan.WindowLen
	usable := make([]*dataset.Experiment, 0, len(exps))
	for _, e := range exps {
		if e.Len() > seedLen {
			usable = append(usable, e)
		}
	}
	if len(usable) == 0 {
		return nil
	}

	trajs, rollRep, err := evaluate.Rollout(ctx, model, usable, seedLen)
	if err != nil {
		return err
	}
	fmt.Println("\nrollout metrics:")
	printReport(rollRep)

	if runID == nil {
		return nil
	}

	cmp := &evaluate.Comparison{Hybrid: rollRep}
	if model.Mode() == hybrid.ResidualHybrid {
		cmp, err = evaluate.Compare(ctx, model, usable, seedLen)
		if err != nil {
			return err
		}
		fmt.Println("\nmechanistic baseline:")
		printReport(cmp.Mechanistic)
	}
	if err := st.SaveEvaluation(*runID, cmp); err != nil {
		return err
	}
	return st.SaveTrajectories(*runID, trajs)
}

func printReport(rep *evaluate.Report) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tRMSE\tMAE\tR2\tMAPE")
	printRow(w, "overall", rep.Overall.RMSE, rep.Overall.MAE, rep.Overall.R2, rep.Overall.MAPE, rep.Overall.MAPEReliable)
	for _, ch := range rep.Channels {
		printRow(w, ch.Channel, ch.Metrics.RMSE, ch.Metrics.MAE, ch.Metrics.R2, ch.Metrics.MAPE, ch.Metrics.MAPEReliable)
	}
	w.Flush()
}

func printRow(w *tabwriter.Writer, name string, rmse, mae, r2, mape float64, reliable bool) {
	mapeCol := fmt.Sprintf("%.2f%%", mape)
	if !reliable {
		mapeCol = "n/a"
	}
	fmt.Fprintf(w, "%s\t%.6f\t%.6f\t%.4f\t%s\n", name, rmse, mae, r2, mapeCol)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	stepper, err := integrators.New(cfg.Integrator)
	if err != nil {
		return err
	}
	model, err := hybrid.New(cfg.KineticsParams(), stepper, nil, kinetics.NumCore)
	if err != nil {
		return err
	}

	if dt <= 0 || duration <= dt {
		return fmt.Errorf("need positive dt and duration > dt")
	}
	steps := int(duration/dt) + 1
	times := make([]float64, steps)
	for i := range times {
		times[i] = float64(i) * dt
	}
	seedState := []kinetics.State{{x0, s0, p0}}
	preds, err := model.Rollout(cmd.Context(), seedState, times)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tBIOMASS\tSUBSTRATE\tPRODUCT")
	fmt.Fprintf(w, "%.2f\t%.4f\t%.4f\t%.4f\n", times[0], x0, s0, p0)
	for i, p := range preds {
		fmt.Fprintf(w, "%.2f\t%.4f\t%.4f\t%.4f\n", times[i+1], p[kinetics.Biomass], p[kinetics.Substrate], p[kinetics.Product])
	}
	return w.Flush()
}

func runFit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(gridParams) == 0 {
		return fmt.Errorf("at least one --param grid is required")
	}
	names := make([]string, 0, len(gridParams))
	ranges := make([][]float64, 0, len(gridParams))
	for _, spec := range gridParams {
		name, list, ok := strings.Cut(spec, "=")
		if !ok {
			return fmt.Errorf("bad --param %q, want name=v1,v2,...", spec)
		}
		var vals []float64
		for _, field := range strings.Split(list, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return fmt.Errorf("bad value in --param %q: %w", spec, err)
			}
			vals = append(vals, v)
		}
		names = append(names, name)
		ranges = append(ranges, vals)
	}

	exps, err := loadExperiments(args[0])
	if err != nil {
		return err
	}
	splits, err := dataset.Build(exps, cfg.DataRequest())
	if err != nil {
		return err
	}
	stepper, err := integrators.New(cfg.Integrator)
	if err != nil {
		return err
	}

	gs, err := optim.NewGridSearch(names, ranges)
	if err != nil {
		return err
	}
	weights := cfg.TrainSpec().Weights
	fitted, score, err := gs.Fit(cmd.Context(), cfg.KineticsParams(), stepper, splits.Train, weights)
	if err != nil {
		return err
	}

	fmt.Printf("best loss: %.6f\n", score)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARAM\tVALUE")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%.6f\n", name, fitted.Map()[name])
	}
	return w.Flush()
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := store.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tINTEG\tRESIDUAL\tEPOCHS\tBEST\tVAL LOSS")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%d\t%d\t%.6f\n",
			run.ID,
			run.CreatedAt.Format("2006-01-02 15:04:05"),
			run.Integrator,
			run.Residual,
			run.Epochs,
			run.BestEpoch,
			run.BestValLoss,
		)
	}
	return w.Flush()
}
