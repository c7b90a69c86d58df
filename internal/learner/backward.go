package learner

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/bioproc/internal/errs"
)

// Backward accumulates parameter gradients for the pass recorded in cache,
// given dOut, the loss gradient with respect to each correction vector in
// the batch. Gradients add up across calls until ZeroGrad.
func (g *GRU) Backward(cache *Cache, dOut [][]float64) error {
	if cache == nil {
		return errs.Configuration("cache", nil, "Backward requires a training-mode forward pass")
	}
	if len(dOut) != cache.batch {
		return errs.Shape("learner gradient batch", cache.batch, len(dOut))
	}

	b := cache.batch
	dY := mat.NewDense(b, g.cfg.OutputDim, nil)
	for i, row := range dOut {
		if len(row) != g.cfg.OutputDim {
			return errs.Shape("learner gradient channels", g.cfg.OutputDim, len(row))
		}
		for j, v := range row {
			dY.Set(i, j, v)
		}
	}

	// Projection layer.
	accumulateAtB(g.gProjW, dY, cache.lastH)
	colSumsInto(g.gProjB, dY)

	// Gradient flowing into the top layer's final hidden state.
	dhLast := mat.NewDense(b, g.cfg.HiddenDim, nil)
	dhLast.Mul(dY, g.projW)

	// dSeq[t] is the gradient w.r.t. the current layer's output at step t.
	top := len(g.layers) - 1
	dSeq := make([]*mat.Dense, cache.steps)
	for t := range dSeq {
		dSeq[t] = mat.NewDense(b, g.cfg.HiddenDim, nil)
	}
	addInto(dSeq[cache.steps-1], dhLast)

	for l := top; l >= 0; l-- {
		dInputs := g.layers[l].backward(cache, l, dSeq)
		if l == 0 {
			break
		}
		// Route input gradients through the dropout applied to the layer
		// below's outputs.
		below := l - 1
		dSeq = dInputs
		if cache.masks[below] != nil {
			for t := range dSeq {
				hadamardInto(dSeq[t], dSeq[t], cache.masks[below][t])
			}
		}
	}
	return nil
}

// backward runs BPTT for one layer and returns the gradients w.r.t. the
// layer's inputs at every step.
func (l *gruLayer) backward(cache *Cache, li int, dSeq []*mat.Dense) []*mat.Dense {
	b := cache.batch
	steps := cache.steps

	dInputs := make([]*mat.Dense, steps)
	carry := mat.NewDense(b, l.hidden, nil)

	zeroH := mat.NewDense(b, l.hidden, nil)

	for t := steps - 1; t >= 0; t-- {
		dh := mat.NewDense(b, l.hidden, nil)
		addInto(dh, dSeq[t])
		addInto(dh, carry)

		z := cache.z[li][t]
		r := cache.r[li][t]
		hhat := cache.hhat[li][t]
		hprev := zeroH
		if t > 0 {
			hprev = cache.h[li][t-1]
		}
		x := cache.inputs[li][t]

		zd := z.RawMatrix().Data
		rd := r.RawMatrix().Data
		hhd := hhat.RawMatrix().Data
		hpd := hprev.RawMatrix().Data
		dhd := dh.RawMatrix().Data

		daZ := mat.NewDense(b, l.hidden, nil)
		daH := mat.NewDense(b, l.hidden, nil)
		dazd := daZ.RawMatrix().Data
		dahd := daH.RawMatrix().Data
		for i := range dhd {
			// dz through h = (1-z)*hprev + z*hhat, then sigmoid'.
			dazd[i] = dhd[i] * (hhd[i] - hpd[i]) * zd[i] * (1 - zd[i])
			// dhhat through tanh'.
			dahd[i] = dhd[i] * zd[i] * (1 - hhd[i]*hhd[i])
		}

		// Candidate gate: a_h = x Wh^T + (r.*hprev) Uh^T + bh.
		rh := mat.NewDense(b, l.hidden, nil)
		hadamardInto(rh, r, hprev)
		accumulateAtB(l.gwh, daH, x)
		accumulateAtB(l.guh, daH, rh)
		colSumsInto(l.gbh, daH)

		dRH := mat.NewDense(b, l.hidden, nil)
		dRH.Mul(daH, l.uh)

		daR := mat.NewDense(b, l.hidden, nil)
		dard := daR.RawMatrix().Data
		drhd := dRH.RawMatrix().Data
		for i := range dard {
			// dr = dRH.*hprev, then sigmoid'.
			dard[i] = drhd[i] * hpd[i] * rd[i] * (1 - rd[i])
		}

		accumulateAtB(l.gwz, daZ, x)
		accumulateAtB(l.guz, daZ, hprev)
		colSumsInto(l.gbz, daZ)

		accumulateAtB(l.gwr, daR, x)
		accumulateAtB(l.gur, daR, hprev)
		colSumsInto(l.gbr, daR)

		// Gradient to the previous hidden state.
		next := mat.NewDense(b, l.hidden, nil)
		nd := next.RawMatrix().Data
		for i := range nd {
			nd[i] = dhd[i]*(1-zd[i]) + drhd[i]*rd[i]
		}
		addMulInto2(next, daZ, l.uz)
		addMulInto2(next, daR, l.ur)
		carry = next

		// Gradient to the layer input.
		dx := mat.NewDense(b, l.in, nil)
		dx.Mul(daH, l.wh)
		addMulInto2(dx, daZ, l.wz)
		addMulInto2(dx, daR, l.wr)
		dInputs[t] = dx
	}
	return dInputs
}

// addMulInto2 computes dst += a * w (no transpose), the backward counterpart
// of addMulInto.
func addMulInto2(dst, a, w *mat.Dense) {
	var tmp mat.Dense
	tmp.Mul(a, w)
	addInto(dst, &tmp)
}
