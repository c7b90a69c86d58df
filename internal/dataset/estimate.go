package dataset

// EstimateSubstrate reconstructs a substrate series from measured biomass
// when no substrate channel was recorded, using the yield relation
// S = S0 - (X - X0)/Yxs clamped at zero. The filled channel is then treated
// identically to measured data downstream.
func EstimateSubstrate(biomass []float64, s0, yxs float64) []float64 {
	out := make([]float64, len(biomass))
	if len(biomass) == 0 {
		return out
	}
	x0 := biomass[0]
	for i, x := range biomass {
		s := s0 - (x-x0)/yxs
		if s < 0 {
			s = 0
		}
		out[i] = s
	}
	return out
}
