package config

// Presets are starting points for common calibration setups. Fields left
// zero fall back to defaults when merged by callers; each preset here is a
// complete config so it can be used directly.
var Presets = map[string]*Config{
	// Quick smoke run for wiring checks, not for real calibration.
	"smoke": presetWith(func(c *Config) {
		c.Train.Epochs = 5
		c.Learner.HiddenDim = 16
		c.Learner.NumLayers = 1
		c.Learner.Dropout = 0
	}),
	// Small sparse datasets: shorter windows, no dropout, more patience.
	"sparse": presetWith(func(c *Config) {
		c.Data.WindowLen = 5
		c.Data.BatchSize = 8
		c.Learner.HiddenDim = 32
		c.Learner.NumLayers = 1
		c.Learner.Dropout = 0
		c.Train.Patience = 20
	}),
	// Physics-dominated fit for noisy measurements.
	"physics_heavy": presetWith(func(c *Config) {
		c.Loss.LambdaData = 1.0
		c.Loss.LambdaPhysics = 10.0
	}),
	// Mechanistic baseline, no residual learner.
	"mechanistic": presetWith(func(c *Config) {
		c.Residual = false
	}),
}

func presetWith(mutate func(*Config)) *Config {
	c := DefaultConfig()
	mutate(c)
	return c
}

func GetPreset(name string) *Config {
	cfg, ok := Presets[name]
	if !ok {
		return nil
	}
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	return names
}
