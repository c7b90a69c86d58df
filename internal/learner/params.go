package learner

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/bioproc/internal/errs"
)

func (g *GRU) buildParams() {
	add := func(name string, w, grad *mat.Dense) {
		g.params = append(g.params, &Param{
			Name: name,
			Data: w.RawMatrix().Data,
			Grad: grad.RawMatrix().Data,
		})
	}
	addVec := func(name string, w, grad []float64) {
		g.params = append(g.params, &Param{Name: name, Data: w, Grad: grad})
	}

	for l, layer := range g.layers {
		prefix := fmt.Sprintf("gru.%d.", l)
		add(prefix+"wz", layer.wz, layer.gwz)
		add(prefix+"wr", layer.wr, layer.gwr)
		add(prefix+"wh", layer.wh, layer.gwh)
		add(prefix+"uz", layer.uz, layer.guz)
		add(prefix+"ur", layer.ur, layer.gur)
		add(prefix+"uh", layer.uh, layer.guh)
		addVec(prefix+"bz", layer.bz, layer.gbz)
		addVec(prefix+"br", layer.br, layer.gbr)
		addVec(prefix+"bh", layer.bh, layer.gbh)
	}
	add("proj.w", g.projW, g.gProjW)
	addVec("proj.b", g.projB, g.gProjB)
}

// Params exposes every trainable tensor for an optimizer.
func (g *GRU) Params() []*Param { return g.params }

// ZeroGrad clears all gradient accumulators.
func (g *GRU) ZeroGrad() {
	for _, p := range g.params {
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}

// StateDict deep-copies the current weights, keyed by parameter name.
func (g *GRU) StateDict() map[string][]float64 {
	out := make(map[string][]float64, len(g.params))
	for _, p := range g.params {
		c := make([]float64, len(p.Data))
		copy(c, p.Data)
		out[p.Name] = c
	}
	return out
}

// LoadStateDict restores weights previously captured by StateDict.
func (g *GRU) LoadStateDict(weights map[string][]float64) error {
	for _, p := range g.params {
		src, ok := weights[p.Name]
		if !ok {
			return errs.Configuration("checkpoint", p.Name, "missing parameter")
		}
		if len(src) != len(p.Data) {
			return errs.Shape("checkpoint parameter "+p.Name, len(p.Data), len(src))
		}
		copy(p.Data, src)
	}
	return nil
}
