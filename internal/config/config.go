package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/bioproc/internal/dataset"
	"github.com/san-kum/bioproc/internal/errs"
	"github.com/san-kum/bioproc/internal/kinetics"
	"github.com/san-kum/bioproc/internal/learner"
	"github.com/san-kum/bioproc/internal/loss"
	"github.com/san-kum/bioproc/internal/train"
)

const (
	DefaultMuMax       = 0.5
	DefaultKs          = 0.1
	DefaultYxs         = 0.5
	DefaultYps         = 0.3
	DefaultQpMax       = 0.1
	DefaultWindowLen   = 10
	DefaultBatchSize   = 32
	DefaultTrainRatio  = 0.7
	DefaultValRatio    = 0.15
	DefaultTestRatio   = 0.15
	DefaultHiddenDim   = 64
	DefaultNumLayers   = 2
	DefaultDropout     = 0.1
	DefaultLambdaData  = 1.0
	DefaultLambdaPhys  = 1.0
	DefaultLR          = 0.001
	DefaultWeightDecay = 1e-5
	DefaultEpochs      = 100
	DefaultPatience    = 10
	DefaultFactor      = 0.5
	DefaultSeed        = 42
)

type Config struct {
	Integrator    string         `yaml:"integrator"`
	Residual      bool           `yaml:"residual"`
	Seed          int64          `yaml:"seed"`
	CheckpointDir string         `yaml:"checkpoint_dir"`
	Kinetics      KineticsConfig `yaml:"kinetics"`
	Data          DataConfig     `yaml:"data"`
	Learner       LearnerConfig  `yaml:"learner"`
	Loss          LossConfig     `yaml:"loss"`
	Train         TrainConfig    `yaml:"train"`
}

type KineticsConfig struct {
	MuMax float64 `yaml:"mu_max"`
	Ks    float64 `yaml:"ks"`
	Yxs   float64 `yaml:"yxs"`
	Yps   float64 `yaml:"yps"`
	QpMax float64 `yaml:"qp_max"`
}

type DataConfig struct {
	WindowLen  int     `yaml:"window_len"`
	BatchSize  int     `yaml:"batch_size"`
	Horizon    int     `yaml:"horizon"`
	TrainRatio float64 `yaml:"train_ratio"`
	ValRatio   float64 `yaml:"val_ratio"`
	TestRatio  float64 `yaml:"test_ratio"`
}

type LearnerConfig struct {
	HiddenDim int     `yaml:"hidden_dim"`
	NumLayers int     `yaml:"num_layers"`
	Dropout   float64 `yaml:"dropout"`
}

type LossConfig struct {
	LambdaData    float64 `yaml:"lambda_data"`
	LambdaPhysics float64 `yaml:"lambda_physics"`
}

type TrainConfig struct {
	Epochs      int     `yaml:"epochs"`
	LR          float64 `yaml:"lr"`
	WeightDecay float64 `yaml:"weight_decay"`
	Factor      float64 `yaml:"factor"`
	Patience    int     `yaml:"patience"`
}

func DefaultConfig() *Config {
	return &Config{
		Integrator: "euler",
		Residual:   true,
		Seed:       DefaultSeed,
		Kinetics: KineticsConfig{
			MuMax: DefaultMuMax,
			Ks:    DefaultKs,
			Yxs:   DefaultYxs,
			Yps:   DefaultYps,
			QpMax: DefaultQpMax,
		},
		Data: DataConfig{
			WindowLen:  DefaultWindowLen,
			BatchSize:  DefaultBatchSize,
			Horizon:    1,
			TrainRatio: DefaultTrainRatio,
			ValRatio:   DefaultValRatio,
			TestRatio:  DefaultTestRatio,
		},
		Learner: LearnerConfig{
			HiddenDim: DefaultHiddenDim,
			NumLayers: DefaultNumLayers,
			Dropout:   DefaultDropout,
		},
		Loss: LossConfig{
			LambdaData:    DefaultLambdaData,
			LambdaPhysics: DefaultLambdaPhys,
		},
		Train: TrainConfig{
			Epochs:      DefaultEpochs,
			LR:          DefaultLR,
			WeightDecay: DefaultWeightDecay,
			Factor:      DefaultFactor,
			Patience:    DefaultPatience,
		},
	}
}

// Load reads a YAML config; fields absent from the file keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the fields the downstream constructors do not, so a bad
// file fails fast with a named parameter.
func (c *Config) Validate() error {
	if c.Integrator != "euler" && c.Integrator != "rk4" {
		return errs.Configuration("integrator", c.Integrator, "must be euler or rk4")
	}
	if err := c.KineticsParams().Validate(); err != nil {
		return err
	}
	if c.Learner.HiddenDim < 1 {
		return errs.Configuration("hidden_dim", c.Learner.HiddenDim, "must be at least 1")
	}
	if c.Learner.NumLayers < 1 {
		return errs.Configuration("num_layers", c.Learner.NumLayers, "must be at least 1")
	}
	if c.Learner.Dropout < 0 || c.Learner.Dropout >= 1 {
		return errs.Configuration("dropout", c.Learner.Dropout, "must be in [0, 1)")
	}
	if c.Loss.LambdaData < 0 || c.Loss.LambdaPhysics < 0 {
		return errs.Configuration("loss weights", c.Loss, "must be non-negative")
	}
	if c.Train.Epochs < 1 {
		return errs.Configuration("epochs", c.Train.Epochs, "must be at least 1")
	}
	if c.Train.LR <= 0 {
		return errs.Configuration("lr", c.Train.LR, "must be positive")
	}
	if c.Train.WeightDecay < 0 {
		return errs.Configuration("weight_decay", c.Train.WeightDecay, "must be non-negative")
	}
	return nil
}

// KineticsParams converts the kinetics section to model parameters.
func (c *Config) KineticsParams() kinetics.Params {
	return kinetics.Params{
		MuMax: c.Kinetics.MuMax,
		Ks:    c.Kinetics.Ks,
		Yxs:   c.Kinetics.Yxs,
		Yps:   c.Kinetics.Yps,
		QpMax: c.Kinetics.QpMax,
	}
}

// DataRequest converts the data section to a windowing request.
func (c *Config) DataRequest() dataset.Request {
	return dataset.Request{
		WindowLen:  c.Data.WindowLen,
		BatchSize:  c.Data.BatchSize,
		Horizon:    c.Data.Horizon,
		TrainRatio: c.Data.TrainRatio,
		ValRatio:   c.Data.ValRatio,
		TestRatio:  c.Data.TestRatio,
		Seed:       c.Seed,
	}
}

// LearnerSpec converts the learner section for a given channel count.
func (c *Config) LearnerSpec(dim int) learner.Config {
	return learner.Config{
		InputDim:  dim,
		HiddenDim: c.Learner.HiddenDim,
		NumLayers: c.Learner.NumLayers,
		OutputDim: dim,
		Dropout:   c.Learner.Dropout,
		Seed:      c.Seed,
	}
}

// TrainSpec converts the train and loss sections to a trainer config.
func (c *Config) TrainSpec() train.Config {
	adam := train.DefaultAdamConfig()
	adam.LearningRate = c.Train.LR
	adam.WeightDecay = c.Train.WeightDecay
	return train.Config{
		Epochs:   c.Train.Epochs,
		Seed:     c.Seed,
		Weights:  loss.Weights{Data: c.Loss.LambdaData, Physics: c.Loss.LambdaPhysics},
		Adam:     adam,
		Factor:   c.Train.Factor,
		Patience: c.Train.Patience,
	}
}
