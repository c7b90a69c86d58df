// Package learner implements the recurrent residual learner: a stacked GRU
// encoder over a window of recent states followed by a linear projection to a
// per-channel rate correction. Forward passes are batched; the activation
// cache from a training-mode pass feeds an exact backpropagation-through-time
// in Backward.
package learner

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/bioproc/internal/errs"
	"github.com/san-kum/bioproc/internal/kinetics"
)

// Config describes the learner architecture. These are the only recognized
// options; there is no other hidden behavior.
type Config struct {
	InputDim  int
	HiddenDim int
	NumLayers int
	OutputDim int
	Dropout   float64 // applied between stacked layers during training
	Seed      int64
}

func (c Config) validate() error {
	if c.InputDim < 1 {
		return errs.Configuration("learner.input_dim", c.InputDim, "must be at least 1")
	}
	if c.HiddenDim < 1 {
		return errs.Configuration("learner.hidden_dim", c.HiddenDim, "must be at least 1")
	}
	if c.NumLayers < 1 {
		return errs.Configuration("learner.num_layers", c.NumLayers, "must be at least 1")
	}
	if c.OutputDim < 1 {
		return errs.Configuration("learner.output_dim", c.OutputDim, "must be at least 1")
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return errs.Configuration("learner.dropout", c.Dropout, "must be within [0, 1)")
	}
	return nil
}

// Param is one named parameter tensor. Data aliases the live weights and
// Grad the matching gradient accumulator, so an optimizer can update both
// in place.
type Param struct {
	Name string
	Data []float64
	Grad []float64
}

type gruLayer struct {
	in, hidden int

	wz, wr, wh *mat.Dense // hidden x in
	uz, ur, uh *mat.Dense // hidden x hidden
	bz, br, bh []float64

	gwz, gwr, gwh *mat.Dense
	guz, gur, guh *mat.Dense
	gbz, gbr, gbh []float64
}

// GRU is the residual learner. Not safe for concurrent use: forward caching
// and gradient accumulators are shared state.
type GRU struct {
	cfg    Config
	layers []*gruLayer
	projW  *mat.Dense // out x hidden
	projB  []float64
	gProjW *mat.Dense
	gProjB []float64

	params []*Param
	rng    *rand.Rand
}

// New builds a GRU with seeded uniform initialization in (-k, k),
// k = 1/sqrt(hidden).
func New(cfg Config) (*GRU, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	g := &GRU{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}

	k := 1.0 / math.Sqrt(float64(cfg.HiddenDim))
	in := cfg.InputDim
	for l := 0; l < cfg.NumLayers; l++ {
		layer := &gruLayer{
			in:     in,
			hidden: cfg.HiddenDim,
			wz:     g.newWeight(cfg.HiddenDim, in, k),
			wr:     g.newWeight(cfg.HiddenDim, in, k),
			wh:     g.newWeight(cfg.HiddenDim, in, k),
			uz:     g.newWeight(cfg.HiddenDim, cfg.HiddenDim, k),
			ur:     g.newWeight(cfg.HiddenDim, cfg.HiddenDim, k),
			uh:     g.newWeight(cfg.HiddenDim, cfg.HiddenDim, k),
			bz:     make([]float64, cfg.HiddenDim),
			br:     make([]float64, cfg.HiddenDim),
			bh:     make([]float64, cfg.HiddenDim),
			gwz:    mat.NewDense(cfg.HiddenDim, in, nil),
			gwr:    mat.NewDense(cfg.HiddenDim, in, nil),
			gwh:    mat.NewDense(cfg.HiddenDim, in, nil),
			guz:    mat.NewDense(cfg.HiddenDim, cfg.HiddenDim, nil),
			gur:    mat.NewDense(cfg.HiddenDim, cfg.HiddenDim, nil),
			guh:    mat.NewDense(cfg.HiddenDim, cfg.HiddenDim, nil),
			gbz:    make([]float64, cfg.HiddenDim),
			gbr:    make([]float64, cfg.HiddenDim),
			gbh:    make([]float64, cfg.HiddenDim),
		}
		g.layers = append(g.layers, layer)
		in = cfg.HiddenDim
	}
	g.projW = g.newWeight(cfg.OutputDim, cfg.HiddenDim, k)
	g.projB = make([]float64, cfg.OutputDim)
	g.gProjW = mat.NewDense(cfg.OutputDim, cfg.HiddenDim, nil)
	g.gProjB = make([]float64, cfg.OutputDim)

	g.buildParams()
	return g, nil
}

func (g *GRU) newWeight(r, c int, k float64) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = (g.rng.Float64()*2 - 1) * k
	}
	return mat.NewDense(r, c, data)
}

// Config returns the architecture the learner was built with.
func (g *GRU) Config() Config { return g.cfg }

// Dims reports input and output channel dimensions, used by the hybrid model
// to verify shape compatibility at construction.
func (g *GRU) Dims() (in, out int) { return g.cfg.InputDim, g.cfg.OutputDim }

// Correct satisfies the hybrid model's correction-source contract. Callers
// that need the activation cache for backpropagation use Forward directly.
func (g *GRU) Correct(windows [][]kinetics.State, training bool) ([][]float64, error) {
	corr, _, err := g.Forward(windows, training)
	return corr, err
}

// Cache holds the activations of one training-mode forward pass.
type Cache struct {
	batch, steps int

	// indexed [layer][step]; all matrices are batch x width and contiguous.
	inputs [][]*mat.Dense
	z      [][]*mat.Dense
	r      [][]*mat.Dense
	hhat   [][]*mat.Dense
	h      [][]*mat.Dense
	masks  [][]*mat.Dense // inverted dropout masks on layer outputs; nil rows when inactive

	lastH *mat.Dense
	dY    *mat.Dense // scratch for Backward
}

// Forward encodes a batch of windows and returns the per-window correction
// vectors, ordered exactly as the input batch. In training mode dropout is
// active and the returned cache supports Backward; in evaluation mode the
// cache is nil.
func (g *GRU) Forward(windows [][]kinetics.State, training bool) ([][]float64, *Cache, error) {
	b := len(windows)
	if b == 0 {
		return nil, nil, errs.Shape("learner batch", 1, 0)
	}
	steps := len(windows[0])
	if steps == 0 {
		return nil, nil, errs.Shape("learner window", 1, 0)
	}
	for _, w := range windows {
		if len(w) != steps {
			return nil, nil, errs.Shape("learner window length", steps, len(w))
		}
		for _, s := range w {
			if len(s) != g.cfg.InputDim {
				return nil, nil, errs.Shape("learner input channels", g.cfg.InputDim, len(s))
			}
		}
	}

	cache := &Cache{
		batch:  b,
		steps:  steps,
		inputs: make([][]*mat.Dense, len(g.layers)),
		z:      make([][]*mat.Dense, len(g.layers)),
		r:      make([][]*mat.Dense, len(g.layers)),
		hhat:   make([][]*mat.Dense, len(g.layers)),
		h:      make([][]*mat.Dense, len(g.layers)),
		masks:  make([][]*mat.Dense, len(g.layers)),
	}

	// Layer 0 input: the raw window states, one matrix per time step.
	seq := make([]*mat.Dense, steps)
	for t := 0; t < steps; t++ {
		x := mat.NewDense(b, g.cfg.InputDim, nil)
		for i, w := range windows {
			for j, v := range w[t] {
				x.Set(i, j, v)
			}
		}
		seq[t] = x
	}

	for l, layer := range g.layers {
		cache.inputs[l] = seq
		cache.z[l] = make([]*mat.Dense, steps)
		cache.r[l] = make([]*mat.Dense, steps)
		cache.hhat[l] = make([]*mat.Dense, steps)
		cache.h[l] = make([]*mat.Dense, steps)

		h := mat.NewDense(b, layer.hidden, nil)
		out := make([]*mat.Dense, steps)
		for t := 0; t < steps; t++ {
			z, r, hhat, hNext := layer.step(seq[t], h)
			cache.z[l][t] = z
			cache.r[l][t] = r
			cache.hhat[l][t] = hhat
			cache.h[l][t] = hNext
			h = hNext
			out[t] = hNext
		}

		// Inverted dropout on the outputs feeding the next layer.
		if training && g.cfg.Dropout > 0 && l < len(g.layers)-1 {
			cache.masks[l] = make([]*mat.Dense, steps)
			keep := 1 - g.cfg.Dropout
			dropped := make([]*mat.Dense, steps)
			for t := 0; t < steps; t++ {
				mask := mat.NewDense(b, layer.hidden, nil)
				md := mask.RawMatrix().Data
				for i := range md {
					if g.rng.Float64() < keep {
						md[i] = 1 / keep
					}
				}
				cache.masks[l][t] = mask
				d := mat.NewDense(b, layer.hidden, nil)
				hadamardInto(d, out[t], mask)
				dropped[t] = d
			}
			out = dropped
		}
		seq = out
	}

	cache.lastH = cache.h[len(g.layers)-1][steps-1]

	y := mat.NewDense(b, g.cfg.OutputDim, nil)
	y.Mul(cache.lastH, g.projW.T())
	addBiasRow(y, g.projB)

	corr := make([][]float64, b)
	for i := 0; i < b; i++ {
		row := make([]float64, g.cfg.OutputDim)
		for j := 0; j < g.cfg.OutputDim; j++ {
			row[j] = y.At(i, j)
		}
		corr[i] = row
	}

	if !training {
		return corr, nil, nil
	}
	return corr, cache, nil
}

// step advances one GRU layer by one time step for the whole batch.
func (l *gruLayer) step(x, hprev *mat.Dense) (z, r, hhat, h *mat.Dense) {
	b, _ := x.Dims()

	z = mat.NewDense(b, l.hidden, nil)
	z.Mul(x, l.wz.T())
	addMulInto(z, hprev, l.uz)
	addBiasRow(z, l.bz)
	sigmoidInPlace(z)

	r = mat.NewDense(b, l.hidden, nil)
	r.Mul(x, l.wr.T())
	addMulInto(r, hprev, l.ur)
	addBiasRow(r, l.br)
	sigmoidInPlace(r)

	rh := mat.NewDense(b, l.hidden, nil)
	hadamardInto(rh, r, hprev)

	hhat = mat.NewDense(b, l.hidden, nil)
	hhat.Mul(x, l.wh.T())
	addMulInto(hhat, rh, l.uh)
	addBiasRow(hhat, l.bh)
	tanhInPlace(hhat)

	h = mat.NewDense(b, l.hidden, nil)
	hd := h.RawMatrix().Data
	zd := z.RawMatrix().Data
	hpd := hprev.RawMatrix().Data
	hhd := hhat.RawMatrix().Data
	for i := range hd {
		hd[i] = (1-zd[i])*hpd[i] + zd[i]*hhd[i]
	}
	return z, r, hhat, h
}
