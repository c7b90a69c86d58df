// Package store persists calibration runs on disk. Every run gets its own
// directory under the base dir holding metadata.json, the epoch history,
// checkpoints, and evaluation reports, all as indented JSON.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/san-kum/bioproc/internal/evaluate"
	"github.com/san-kum/bioproc/internal/train"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Integrator  string    `json:"integrator"`
	Residual    bool      `json:"residual"`
	Seed        int64     `json:"seed"`
	Epochs      int       `json:"epochs"`
	BestEpoch   int       `json:"best_epoch"`
	BestValLoss float64   `json:"best_val_loss"`
}

// NewRun allocates a run directory and writes its metadata.
func (s *Store) NewRun(meta RunMetadata) (string, error) {
	runID := fmt.Sprintf("run_%d", time.Now().Unix())
	runDir := filepath.Join(s.baseDir, runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}
	meta.ID = runID
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	if err := writeJSON(filepath.Join(runDir, "metadata.json"), meta); err != nil {
		return "", err
	}
	return runID, nil
}

// UpdateMetadata rewrites a run's metadata, typically after training to
// record the best epoch.
func (s *Store) UpdateMetadata(runID string, meta RunMetadata) error {
	meta.ID = runID
	return writeJSON(filepath.Join(s.baseDir, runID, "metadata.json"), meta)
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var meta RunMetadata
		if err := readJSON(filepath.Join(s.baseDir, entry.Name(), "metadata.json"), &meta); err != nil {
			continue
		}
		runs = append(runs, meta)
	}
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	var meta RunMetadata
	if err := readJSON(filepath.Join(s.baseDir, runID, "metadata.json"), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// SaveCheckpoint writes a named checkpoint; "latest" and "best" are the
// conventional names used by the trainer wiring.
func (s *Store) SaveCheckpoint(runID, name string, ck train.Checkpoint) error {
	return writeJSON(s.checkpointPath(runID, name), ck)
}

func (s *Store) LoadCheckpoint(runID, name string) (*train.Checkpoint, error) {
	var ck train.Checkpoint
	if err := readJSON(s.checkpointPath(runID, name), &ck); err != nil {
		return nil, err
	}
	return &ck, nil
}

func (s *Store) checkpointPath(runID, name string) string {
	return filepath.Join(s.baseDir, runID, "checkpoint_"+name+".json")
}

// SaveHistory writes the full epoch history; safe to call every epoch, the
// file is replaced whole.
func (s *Store) SaveHistory(runID string, history []train.EpochRecord) error {
	return writeJSON(filepath.Join(s.baseDir, runID, "history.json"), history)
}

func (s *Store) LoadHistory(runID string) ([]train.EpochRecord, error) {
	var history []train.EpochRecord
	if err := readJSON(filepath.Join(s.baseDir, runID, "history.json"), &history); err != nil {
		return nil, err
	}
	return history, nil
}

// SaveEvaluation writes the rollout comparison report for a run.
func (s *Store) SaveEvaluation(runID string, cmp *evaluate.Comparison) error {
	return writeJSON(filepath.Join(s.baseDir, runID, "evaluation.json"), cmp)
}

func (s *Store) LoadEvaluation(runID string) (*evaluate.Comparison, error) {
	var cmp evaluate.Comparison
	if err := readJSON(filepath.Join(s.baseDir, runID, "evaluation.json"), &cmp); err != nil {
		return nil, err
	}
	return &cmp, nil
}

// SaveTrajectories writes the per-experiment rollout trajectories.
func (s *Store) SaveTrajectories(runID string, trajs []evaluate.Trajectory) error {
	return writeJSON(filepath.Join(s.baseDir, runID, "trajectories.json"), trajs)
}

func writeJSON(path string, v any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
