package store

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/san-kum/bioproc/internal/dataset"
	"github.com/san-kum/bioproc/internal/errs"
	"github.com/san-kum/bioproc/internal/kinetics"
)

// experimentFile is the JSON batch format: a list of experiments, each with
// a time axis and row-per-timepoint states.
type experimentFile struct {
	Experiments []experimentRecord `json:"experiments"`
}

type experimentRecord struct {
	ID     string      `json:"id"`
	Times  []float64   `json:"times"`
	States [][]float64 `json:"states"`
}

// LoadExperimentsJSON reads a batch of experiments from a JSON file.
func LoadExperimentsJSON(path string) ([]*dataset.Experiment, error) {
	var file experimentFile
	if err := readJSON(path, &file); err != nil {
		return nil, err
	}
	if len(file.Experiments) == 0 {
		return nil, errs.Configuration("experiments file", path, "contains no experiments")
	}
	exps := make([]*dataset.Experiment, len(file.Experiments))
	for i, rec := range file.Experiments {
		states := make([]kinetics.State, len(rec.States))
		for j, row := range rec.States {
			states[j] = kinetics.State(row)
		}
		exp, err := dataset.NewExperiment(rec.ID, rec.Times, states)
		if err != nil {
			return nil, err
		}
		exps[i] = exp
	}
	return exps, nil
}

// LoadExperimentCSV reads one experiment from a CSV file with a header row.
// The first column is time; the remaining columns are state channels in
// order biomass, substrate, product, then any auxiliary channels. The file
// name without extension becomes the experiment ID.
func LoadExperimentCSV(path string) (*dataset.Experiment, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, errs.Configuration("experiment file", path, "needs a header and at least one row")
	}

	times := make([]float64, 0, len(records)-1)
	states := make([]kinetics.State, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) < 1+kinetics.NumCore {
			return nil, errs.Shape("csv columns", 1+kinetics.NumCore, len(record))
		}
		tv, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, errs.Configuration("time value", record[0], "not a number")
		}
		state := make(kinetics.State, len(record)-1)
		for j, field := range record[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, errs.Configuration("state value", field, "not a number")
			}
			state[j] = v
		}
		times = append(times, tv)
		states = append(states, state)
	}

	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return dataset.NewExperiment(id, times, states)
}
