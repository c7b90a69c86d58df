package train

import (
	"math"

	"github.com/san-kum/bioproc/internal/learner"
)

// AdamConfig holds the optimizer hyperparameters.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64 // L2 coefficient folded into the gradient
}

// DefaultAdamConfig matches the calibration defaults of the original
// pipeline: lr 1e-3, weight decay 1e-5.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  1e-5,
	}
}

// Adam applies the Adam update rule to a parameter set, keeping first and
// second moment buffers per tensor.
type Adam struct {
	cfg    AdamConfig
	lr     float64
	params []*learner.Param
	m      [][]float64
	v      [][]float64
	step   int
}

func NewAdam(params []*learner.Param, cfg AdamConfig) *Adam {
	a := &Adam{
		cfg:    cfg,
		lr:     cfg.LearningRate,
		params: params,
		m:      make([][]float64, len(params)),
		v:      make([][]float64, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float64, len(p.Data))
		a.v[i] = make([]float64, len(p.Data))
	}
	return a
}

// LR is the learning rate currently in effect.
func (a *Adam) LR() float64 { return a.lr }

// SetLR overrides the learning rate; used by the plateau scheduler.
func (a *Adam) SetLR(lr float64) { a.lr = lr }

// Step applies one update from the accumulated gradients.
func (a *Adam) Step() {
	a.step++
	bc1 := 1 - math.Pow(a.cfg.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.cfg.Beta2, float64(a.step))

	for i, p := range a.params {
		m := a.m[i]
		v := a.v[i]
		for j := range p.Data {
			g := p.Grad[j] + a.cfg.WeightDecay*p.Data[j]
			m[j] = a.cfg.Beta1*m[j] + (1-a.cfg.Beta1)*g
			v[j] = a.cfg.Beta2*v[j] + (1-a.cfg.Beta2)*g*g
			mhat := m[j] / bc1
			vhat := v[j] / bc2
			p.Data[j] -= a.lr * mhat / (math.Sqrt(vhat) + a.cfg.Epsilon)
		}
	}
}
