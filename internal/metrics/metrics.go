// Package metrics computes the scalar evaluation metrics reported for a
// test split: RMSE, MAE, R², and MAPE. MAPE is flagged unreliable whenever
// a target magnitude falls below a small epsilon, instead of blowing up on
// near-zero denominators.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/bioproc/internal/errs"
)

// MAPEEpsilon is the smallest target magnitude that still contributes to
// MAPE.
const MAPEEpsilon = 1e-8

// Summary holds the metrics over one prediction/observation pairing.
// MAPE is the mean absolute percentage error over the targets whose
// magnitude is at least MAPEEpsilon; Reliable reports whether every target
// qualified.
type Summary struct {
	RMSE         float64 `json:"rmse"`
	MAE          float64 `json:"mae"`
	R2           float64 `json:"r2"`
	MAPE         float64 `json:"mape"`
	MAPEReliable bool    `json:"mape_reliable"`
}

// Compute evaluates all metrics for parallel prediction and observation
// slices.
func Compute(pred, obs []float64) (Summary, error) {
	if len(pred) != len(obs) {
		return Summary{}, errs.Shape("metrics input", len(obs), len(pred))
	}
	if len(pred) == 0 {
		return Summary{}, errs.Shape("metrics input", 1, 0)
	}
	for i := range pred {
		if math.IsNaN(pred[i]) || math.IsInf(pred[i], 0) || math.IsNaN(obs[i]) || math.IsInf(obs[i], 0) {
			return Summary{}, errs.Numerical("metrics input")
		}
	}

	var sqSum, absSum float64
	var mapeSum float64
	mapeCount := 0
	for i := range pred {
		d := pred[i] - obs[i]
		sqSum += d * d
		absSum += math.Abs(d)
		if math.Abs(obs[i]) >= MAPEEpsilon {
			mapeSum += math.Abs(d / obs[i])
			mapeCount++
		}
	}
	n := float64(len(pred))

	s := Summary{
		RMSE:         math.Sqrt(sqSum / n),
		MAE:          absSum / n,
		R2:           stat.RSquaredFrom(pred, obs, nil),
		MAPEReliable: mapeCount == len(pred),
	}
	if mapeCount > 0 {
		s.MAPE = 100 * mapeSum / float64(mapeCount)
	} else {
		s.MAPEReliable = false
	}
	return s, nil
}
