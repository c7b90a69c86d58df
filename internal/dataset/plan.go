package dataset

import (
	"sort"

	"github.com/san-kum/bioproc/internal/errs"
)

// Request is the configured sequencing policy before adaptation.
type Request struct {
	WindowLen  int
	BatchSize  int
	Horizon    int // number of target steps per window; 0 means 1
	TrainRatio float64
	ValRatio   float64
	TestRatio  float64
	Seed       int64
}

// Plan is the effective policy after adaptation to the dataset shape.
// Train+Val+Test always equals Total; no window is dropped or duplicated.
type Plan struct {
	WindowLen int
	BatchSize int
	Horizon   int
	Total     int
	Train     int
	Val       int
	Test      int
	Excluded  []string // experiments too short to yield any window
}

// MakePlan derives the effective window length, batch size, and split counts
// from the experiment lengths. It is a pure function: same inputs, same plan.
//
// The window length adapts downward twice: it may not reach past the
// shortest experiment (L <= min_len - 1), and it may not exceed the
// data-size heuristic max(3, min_len/10) that keeps windows short on very
// small datasets. Experiments still too short to yield a window are excluded,
// which is a degradation, not an error; the builder warns about them.
func MakePlan(lengths map[string]int, req Request) (Plan, error) {
	if req.Horizon == 0 {
		req.Horizon = 1
	}
	if err := validateRequest(req); err != nil {
		return Plan{}, err
	}
	if len(lengths) == 0 {
		return Plan{}, errs.Configuration("experiments", 0, "at least one experiment required")
	}

	minLen := 0
	for _, n := range lengths {
		if minLen == 0 || n < minLen {
			minLen = n
		}
	}

	sizeCap := minLen / 10
	if sizeCap < 3 {
		sizeCap = 3
	}
	l := req.WindowLen
	if l > minLen-1 {
		l = minLen - 1
	}
	if l > sizeCap {
		l = sizeCap
	}
	if l < 1 {
		l = 1
	}

	ids := make([]string, 0, len(lengths))
	for id := range lengths {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	total := 0
	var excluded []string
	for _, id := range ids {
		w := lengths[id] - l - req.Horizon + 1
		if w <= 0 {
			excluded = append(excluded, id)
			continue
		}
		total += w
	}
	if total == 0 {
		return Plan{}, errs.Configuration("window_length", req.WindowLen,
			"no experiment yields a window even after adaptation")
	}

	nVal := int(req.ValRatio * float64(total))
	nTest := int(req.TestRatio * float64(total))
	nTrain := total - nVal - nTest
	nTrain, nVal, nTest = rebalance(total, nTrain, nVal, nTest,
		req.TrainRatio > 0, req.ValRatio > 0, req.TestRatio > 0)

	batch := req.BatchSize
	if batch > nTrain {
		batch = nTrain
	}
	if batch < 1 {
		batch = 1
	}

	return Plan{
		WindowLen: l,
		BatchSize: batch,
		Horizon:   req.Horizon,
		Total:     total,
		Train:     nTrain,
		Val:       nVal,
		Test:      nTest,
		Excluded:  excluded,
	}, nil
}

func validateRequest(req Request) error {
	if req.WindowLen < 1 {
		return errs.Configuration("window_length", req.WindowLen, "must be at least 1")
	}
	if req.BatchSize < 1 {
		return errs.Configuration("batch_size", req.BatchSize, "must be at least 1")
	}
	if req.Horizon < 1 {
		return errs.Configuration("horizon", req.Horizon, "must be at least 1")
	}
	ratios := []struct {
		name string
		v    float64
	}{
		{"train_ratio", req.TrainRatio},
		{"val_ratio", req.ValRatio},
		{"test_ratio", req.TestRatio},
	}
	sum := 0.0
	for _, r := range ratios {
		if r.v < 0 || r.v > 1 {
			return errs.Configuration(r.name, r.v, "must be within [0, 1]")
		}
		sum += r.v
	}
	if sum <= 0 || sum > 1+1e-9 {
		return errs.Configuration("split_ratios", sum, "must sum to a value in (0, 1]")
	}
	return nil
}

// rebalance guarantees at least one window per requested split when the
// total allows it, borrowing from the largest split. Counts always sum to
// total on return.
func rebalance(total, train, val, test int, wantTrain, wantVal, wantTest bool) (int, int, int) {
	counts := []int{train, val, test}
	wanted := []bool{wantTrain, wantVal, wantTest}

	if total < 3 {
		return counts[0], counts[1], counts[2]
	}
	for i := range counts {
		if !wanted[i] || counts[i] > 0 {
			continue
		}
		largest := 0
		for j := 1; j < len(counts); j++ {
			if counts[j] > counts[largest] {
				largest = j
			}
		}
		if counts[largest] > 1 {
			counts[largest]--
			counts[i]++
		}
	}
	return counts[0], counts[1], counts[2]
}
