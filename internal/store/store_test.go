package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/san-kum/bioproc/internal/evaluate"
	"github.com/san-kum/bioproc/internal/train"
)

func TestStoreRunLifecycle(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runID, err := st.NewRun(RunMetadata{
		Integrator: "euler",
		Residual:   true,
		Seed:       42,
		Epochs:     100,
	})
	if err != nil {
		t.Fatalf("new run failed: %v", err)
	}
	if runID == "" {
		t.Error("expected non-empty run id")
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.Seed != 42 || !meta.Residual {
		t.Errorf("metadata round trip lost fields: %+v", meta)
	}

	meta.BestEpoch = 17
	meta.BestValLoss = 0.003
	if err := st.UpdateMetadata(runID, *meta); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	meta, err = st.Load(runID)
	if err != nil {
		t.Fatal(err)
	}
	if meta.BestEpoch != 17 {
		t.Errorf("expected best epoch 17, got %d", meta.BestEpoch)
	}

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}
}

func TestStoreListEmpty(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "missing"))
	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatal(err)
	}
	runID, err := st.NewRun(RunMetadata{Integrator: "euler"})
	if err != nil {
		t.Fatal(err)
	}

	ck := train.Checkpoint{
		Epoch:   5,
		ValLoss: 0.02,
		LR:      0.0005,
		Weights: map[string][]float64{
			"gru.0.wz": {0.1, -0.2, 0.3},
			"proj.b":   {0.01},
		},
		MechParams: map[string]float64{"mu_max": 0.5},
	}
	if err := st.SaveCheckpoint(runID, "best", ck); err != nil {
		t.Fatalf("save checkpoint failed: %v", err)
	}
	loaded, err := st.LoadCheckpoint(runID, "best")
	if err != nil {
		t.Fatalf("load checkpoint failed: %v", err)
	}
	if loaded.Epoch != 5 || loaded.LR != 0.0005 {
		t.Errorf("checkpoint fields lost: %+v", loaded)
	}
	if len(loaded.Weights["gru.0.wz"]) != 3 || loaded.Weights["gru.0.wz"][1] != -0.2 {
		t.Errorf("weights lost: %v", loaded.Weights)
	}
	if loaded.MechParams["mu_max"] != 0.5 {
		t.Errorf("mech params lost: %v", loaded.MechParams)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatal(err)
	}
	runID, err := st.NewRun(RunMetadata{})
	if err != nil {
		t.Fatal(err)
	}

	history := []train.EpochRecord{
		{Epoch: 0, TrainTotal: 1.0, ValTotal: 1.1, LR: 0.001},
		{Epoch: 1, TrainTotal: 0.8, ValTotal: 0.9, LR: 0.001},
	}
	if err := st.SaveHistory(runID, history); err != nil {
		t.Fatalf("save history failed: %v", err)
	}
	loaded, err := st.LoadHistory(runID)
	if err != nil {
		t.Fatalf("load history failed: %v", err)
	}
	if len(loaded) != 2 || loaded[1].ValTotal != 0.9 {
		t.Errorf("history round trip lost records: %+v", loaded)
	}
}

func TestEvaluationRoundTrip(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatal(err)
	}
	runID, err := st.NewRun(RunMetadata{})
	if err != nil {
		t.Fatal(err)
	}

	cmp := &evaluate.Comparison{
		Hybrid:      &evaluate.Report{Mode: "residual_hybrid"},
		Mechanistic: &evaluate.Report{Mode: "mechanistic_only"},
	}
	if err := st.SaveEvaluation(runID, cmp); err != nil {
		t.Fatalf("save evaluation failed: %v", err)
	}
	loaded, err := st.LoadEvaluation(runID)
	if err != nil {
		t.Fatalf("load evaluation failed: %v", err)
	}
	if loaded.Hybrid.Mode != "residual_hybrid" {
		t.Errorf("evaluation round trip lost fields: %+v", loaded)
	}
}

func TestLoadExperimentsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.json")
	body := `{
  "experiments": [
    {
      "id": "run-a",
      "times": [0, 12, 24],
      "states": [[0.1, 10, 0], [0.15, 9.5, 0.01], [0.22, 8.8, 0.03]]
    }
  ]
}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	exps, err := LoadExperimentsJSON(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(exps) != 1 || exps[0].ID() != "run-a" || exps[0].Len() != 3 {
		t.Errorf("unexpected experiments: %v", exps)
	}
}

func TestLoadExperimentsJSONEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(path, []byte(`{"experiments": []}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadExperimentsJSON(path); err == nil {
		t.Error("expected error for empty batch")
	}
}

func TestLoadExperimentCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ferm01.csv")
	body := "time,biomass,substrate,product\n0,0.1,10,0\n12,0.15,9.5,0.01\n24,0.22,8.8,0.03\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	exp, err := LoadExperimentCSV(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if exp.ID() != "ferm01" {
		t.Errorf("expected id ferm01, got %s", exp.ID())
	}
	if exp.Len() != 3 || exp.Dim() != 3 {
		t.Errorf("unexpected shape: %d x %d", exp.Len(), exp.Dim())
	}
	if exp.States()[1][0] != 0.15 {
		t.Errorf("unexpected value: %v", exp.States()[1])
	}
}

func TestLoadExperimentCSVBadValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	body := "time,biomass,substrate,product\n0,abc,10,0\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadExperimentCSV(path); err == nil {
		t.Error("expected parse error")
	}
}
