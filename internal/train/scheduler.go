package train

// Plateau reduces the learning rate by a fixed factor whenever the
// validation loss has not improved for a given number of epochs. The rate
// only ever decreases.
type Plateau struct {
	factor   float64
	patience int
	best     float64
	wait     int
	seen     bool
}

func NewPlateau(factor float64, patience int) *Plateau {
	return &Plateau{factor: factor, patience: patience}
}

// Observe records one epoch's validation loss against lr and returns the
// rate to use from the next epoch on.
func (p *Plateau) Observe(valLoss, lr float64) float64 {
	if !p.seen || valLoss < p.best {
		p.best = valLoss
		p.seen = true
		p.wait = 0
		return lr
	}
	p.wait++
	if p.wait >= p.patience {
		p.wait = 0
		return lr * p.factor
	}
	return lr
}
