package kinetics

import (
	"math"
	"strconv"
)

// Channel indices of the core state vector. Datasets may carry additional
// auxiliary channels (pH, temperature) after Product; the mechanistic rate
// law leaves those untouched.
const (
	Biomass = iota // X
	Substrate
	Product
	NumCore
)

// ChannelName maps a channel index to its reporting label.
func ChannelName(i int) string {
	switch i {
	case Biomass:
		return "biomass"
	case Substrate:
		return "substrate"
	case Product:
		return "product"
	}
	return "aux_" + strconv.Itoa(i-NumCore)
}

// State is a concentration vector. The first three channels are always
// biomass, substrate, and product.
type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

// IsFinite reports whether every channel is a finite number.
func (s State) IsFinite() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// CloneAll deep-copies a slice of states.
func CloneAll(states []State) []State {
	out := make([]State, len(states))
	for i, s := range states {
		out[i] = s.Clone()
	}
	return out
}
