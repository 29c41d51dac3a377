// Copyright 2024 dage Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"strings"

	"github.com/dage-io/dage/base/log"
	"github.com/dage-io/dage/dataset"
	"github.com/dage-io/dage/losses"
	"github.com/dage-io/dage/model"
	"github.com/dage-io/dage/trainer"
	"github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	ModelTwoStream    = "two_stream"
	ModelSingleStream = "single_stream"
)

// Config is the configuration of a training run.
type Config struct {
	Loss    LossConfig    `mapstructure:"loss"`
	Model   ModelConfig   `mapstructure:"model"`
	Train   TrainConfig   `mapstructure:"train"`
	Dataset DatasetConfig `mapstructure:"dataset"`
}

// LossConfig starts from a preset. Fields that are set override the preset.
type LossConfig struct {
	Preset             string                 `mapstructure:"preset"`
	Connection         *losses.ConnectionType `mapstructure:"connection"`
	Weight             *losses.WeightType     `mapstructure:"weight"`
	Filter             *losses.FilterType     `mapstructure:"filter"`
	FilterParam        *float64               `mapstructure:"filter_param"`
	PenaltyFilter      *losses.FilterType     `mapstructure:"penalty_filter"`
	PenaltyFilterParam *float64               `mapstructure:"penalty_filter_param"`
}

type ModelConfig struct {
	Type        string  `mapstructure:"type" validate:"oneof=two_stream single_stream"`
	BaseLayers  []int   `mapstructure:"base_layers" validate:"dive,gt=0"`
	DenseSize   int     `mapstructure:"dense_size" validate:"gt=0"`
	EmbedSize   int     `mapstructure:"embed_size" validate:"gt=0"`
	Alpha       float32 `mapstructure:"alpha" validate:"gte=0,lte=1"`
	EvenWeights bool    `mapstructure:"even_weights"`
	NumUnfrozen int     `mapstructure:"num_unfrozen" validate:"gte=-1"`
	RandomState int64   `mapstructure:"random_state"`
}

type TrainConfig struct {
	Optimizer    string  `mapstructure:"optimizer" validate:"oneof=adam sgd"`
	Epochs       int     `mapstructure:"epochs" validate:"gt=0"`
	BatchSize    int     `mapstructure:"batch_size" validate:"gt=0"`
	LearningRate float32 `mapstructure:"learning_rate" validate:"gt=0"`
	WeightDecay  float32 `mapstructure:"weight_decay" validate:"gte=0"`
	Flipping     bool    `mapstructure:"flipping"`
	MaxSkipped   int     `mapstructure:"max_skipped" validate:"gte=0"`
	NumJobs      int     `mapstructure:"n_jobs" validate:"gt=0"`
	Verbose      int     `mapstructure:"verbose" validate:"gt=0"`
	Seed         int64   `mapstructure:"seed"`
}

// DatasetConfig loads source and target domains from CSV files. Synthetic
// domains are generated when no file is given.
type DatasetConfig struct {
	Source     string          `mapstructure:"source" validate:"required_with=Target"`
	Target     string          `mapstructure:"target" validate:"required_with=Source"`
	Separator  string          `mapstructure:"separator" validate:"required"`
	PairRatio  float64         `mapstructure:"pair_ratio" validate:"gte=0"`
	ValidRatio float64         `mapstructure:"valid_ratio" validate:"gte=0,lt=1"`
	Synthetic  SyntheticConfig `mapstructure:"synthetic"`
}

type SyntheticConfig struct {
	Classes         int     `mapstructure:"classes" validate:"gt=1"`
	Dim             int     `mapstructure:"dim" validate:"gt=0"`
	SamplesPerClass int     `mapstructure:"samples_per_class" validate:"gt=0"`
	Spread          float64 `mapstructure:"spread" validate:"gt=0"`
	Shift           float64 `mapstructure:"shift"`
	Seed            int64   `mapstructure:"seed"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Loss: LossConfig{
			Preset: "dage_full",
		},
		Model: ModelConfig{
			Type:        ModelTwoStream,
			BaseLayers:  []int{64},
			DenseSize:   64,
			EmbedSize:   16,
			Alpha:       0.25,
			EvenWeights: true,
			NumUnfrozen: -1,
		},
		Train: TrainConfig{
			Optimizer:    trainer.OptimizerAdam,
			Epochs:       10,
			BatchSize:    16,
			LearningRate: 0.001,
			MaxSkipped:   10,
			NumJobs:      1,
			Verbose:      1,
		},
		Dataset: DatasetConfig{
			Separator:  ",",
			PairRatio:  1,
			ValidRatio: 0.1,
			Synthetic: SyntheticConfig{
				Classes:         4,
				Dim:             8,
				SamplesPerClass: 32,
				Spread:          0.5,
				Shift:           1,
			},
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [loss]
	v.SetDefault("loss.preset", defaultConfig.Loss.Preset)
	// [model]
	v.SetDefault("model.type", defaultConfig.Model.Type)
	v.SetDefault("model.base_layers", defaultConfig.Model.BaseLayers)
	v.SetDefault("model.dense_size", defaultConfig.Model.DenseSize)
	v.SetDefault("model.embed_size", defaultConfig.Model.EmbedSize)
	v.SetDefault("model.alpha", defaultConfig.Model.Alpha)
	v.SetDefault("model.even_weights", defaultConfig.Model.EvenWeights)
	v.SetDefault("model.num_unfrozen", defaultConfig.Model.NumUnfrozen)
	v.SetDefault("model.random_state", defaultConfig.Model.RandomState)
	// [train]
	v.SetDefault("train.optimizer", defaultConfig.Train.Optimizer)
	v.SetDefault("train.epochs", defaultConfig.Train.Epochs)
	v.SetDefault("train.batch_size", defaultConfig.Train.BatchSize)
	v.SetDefault("train.learning_rate", defaultConfig.Train.LearningRate)
	v.SetDefault("train.weight_decay", defaultConfig.Train.WeightDecay)
	v.SetDefault("train.flipping", defaultConfig.Train.Flipping)
	v.SetDefault("train.max_skipped", defaultConfig.Train.MaxSkipped)
	v.SetDefault("train.n_jobs", defaultConfig.Train.NumJobs)
	v.SetDefault("train.verbose", defaultConfig.Train.Verbose)
	v.SetDefault("train.seed", defaultConfig.Train.Seed)
	// [dataset]
	v.SetDefault("dataset.source", defaultConfig.Dataset.Source)
	v.SetDefault("dataset.target", defaultConfig.Dataset.Target)
	v.SetDefault("dataset.separator", defaultConfig.Dataset.Separator)
	v.SetDefault("dataset.pair_ratio", defaultConfig.Dataset.PairRatio)
	v.SetDefault("dataset.valid_ratio", defaultConfig.Dataset.ValidRatio)
	// [dataset.synthetic]
	v.SetDefault("dataset.synthetic.classes", defaultConfig.Dataset.Synthetic.Classes)
	v.SetDefault("dataset.synthetic.dim", defaultConfig.Dataset.Synthetic.Dim)
	v.SetDefault("dataset.synthetic.samples_per_class", defaultConfig.Dataset.Synthetic.SamplesPerClass)
	v.SetDefault("dataset.synthetic.spread", defaultConfig.Dataset.Synthetic.Spread)
	v.SetDefault("dataset.synthetic.shift", defaultConfig.Dataset.Synthetic.Shift)
	v.SetDefault("dataset.synthetic.seed", defaultConfig.Dataset.Synthetic.Seed)
}

// lossOverrides have no default so that unset keys keep the preset.
var lossOverrides = []string{
	"loss.connection",
	"loss.weight",
	"loss.filter",
	"loss.filter_param",
	"loss.penalty_filter",
	"loss.penalty_filter_param",
}

// LoadConfig loads configuration from a TOML file. Every key can be overridden
// by an environment variable, e.g. DAGE_TRAIN_EPOCHS for train.epochs. An
// empty path loads defaults and environment variables only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	v.SetEnvPrefix("DAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range lossOverrides {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if path != "" {
		v.SetConfigType("toml")
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Annotatef(err, "failed to read config %s", path)
		}
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.NewNotValid(err, "failed to decode config")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &config, nil
}

func (config *Config) Validate() error {
	if err := validateStruct(config); err != nil {
		return errors.Trace(err)
	}
	if _, err := config.Loss.Resolve(); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Resolve applies overrides to the preset.
func (c *LossConfig) Resolve() (losses.Config, error) {
	var config losses.Config
	if c.Preset != "" {
		var err error
		if config, err = losses.Preset(c.Preset); err != nil {
			return losses.Config{}, errors.Trace(err)
		}
	}
	if c.Connection != nil {
		config.Connection = *c.Connection
	}
	if c.Weight != nil {
		config.Weight = *c.Weight
	}
	if c.Filter != nil {
		config.Filter = *c.Filter
	}
	if c.FilterParam != nil {
		config.FilterParam = *c.FilterParam
	}
	if c.PenaltyFilter != nil {
		config.PenaltyFilter = *c.PenaltyFilter
	}
	if c.PenaltyFilterParam != nil {
		config.PenaltyFilterParam = *c.PenaltyFilterParam
	}
	if err := config.Validate(); err != nil {
		return losses.Config{}, errors.Trace(err)
	}
	return config, nil
}

func (c *ModelConfig) GetParams() model.Params {
	return model.Params{
		model.BaseLayers:  c.BaseLayers,
		model.DenseSize:   c.DenseSize,
		model.EmbedSize:   c.EmbedSize,
		model.Alpha:       c.Alpha,
		model.EvenWeights: c.EvenWeights,
		model.NumUnfrozen: c.NumUnfrozen,
		model.RandomState: c.RandomState,
	}
}

// NewModel builds the configured model for the given input dimension and
// number of classes.
func (config *Config) NewModel(inputDim, numClasses int) (model.Model, error) {
	params := config.Model.GetParams()
	switch config.Model.Type {
	case ModelSingleStream:
		return model.NewSingleStream(inputDim, numClasses, params), nil
	case ModelTwoStream:
		lossConfig, err := config.Loss.Resolve()
		if err != nil {
			return nil, errors.Trace(err)
		}
		loss, err := losses.NewDAGELoss(lossConfig)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return model.NewTwoStream(inputDim, numClasses, loss, params), nil
	default:
		return nil, errors.NotValidf("model type %q", config.Model.Type)
	}
}

func (c *TrainConfig) GetFitConfig() *trainer.Config {
	return &trainer.Config{
		Optimizer:    c.Optimizer,
		Epochs:       c.Epochs,
		BatchSize:    c.BatchSize,
		LearningRate: c.LearningRate,
		WeightDecay:  c.WeightDecay,
		Flipping:     c.Flipping,
		MaxSkipped:   c.MaxSkipped,
		Jobs:         c.NumJobs,
		Verbose:      c.Verbose,
		Seed:         c.Seed,
	}
}

// Domains are the datasets of a training run. Train pairs are built from the
// training part of both domains and validation pairs from the rest.
type Domains struct {
	Source      *dataset.Domain
	Target      *dataset.Domain
	TargetValid *dataset.Domain
	Train       *dataset.Pairs
	Valid       *dataset.Pairs
}

// LoadDomains loads or generates both domains, unifies their classes and
// pairs them up.
func (c *DatasetConfig) LoadDomains(seed int64) (*Domains, error) {
	var (
		source, target *dataset.Domain
		err            error
	)
	if c.Source == "" {
		source, target, err = dataset.Synthetic(dataset.SyntheticOptions{
			Classes:         c.Synthetic.Classes,
			Dim:             c.Synthetic.Dim,
			SamplesPerClass: c.Synthetic.SamplesPerClass,
			Spread:          c.Synthetic.Spread,
			Shift:           c.Synthetic.Shift,
			Seed:            c.Synthetic.Seed,
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		log.Logger().Info("generate synthetic domains",
			zap.Int("classes", c.Synthetic.Classes),
			zap.Int("dim", c.Synthetic.Dim),
			zap.Float64("shift", c.Synthetic.Shift))
	} else {
		if source, err = dataset.LoadCSV(c.Source, c.Separator); err != nil {
			return nil, errors.Trace(err)
		}
		if target, err = dataset.LoadCSV(c.Target, c.Separator); err != nil {
			return nil, errors.Trace(err)
		}
		if source.Dim() != target.Dim() {
			return nil, errors.NotValidf("source dimension %d and target dimension %d", source.Dim(), target.Dim())
		}
		dataset.Unify(source, target)
	}

	domains := &Domains{Source: source, Target: target}
	sourceTrain, sourceValid := source.Split(c.ValidRatio, seed)
	targetTrain, targetValid := target.Split(c.ValidRatio, seed)
	domains.TargetValid = targetValid
	if domains.Train, err = dataset.MakePairs(sourceTrain, targetTrain, c.PairRatio, seed); err != nil {
		return nil, errors.Trace(err)
	}
	if sourceValid.Count() > 0 && targetValid.Count() > 0 {
		if domains.Valid, err = dataset.MakePairs(sourceValid, targetValid, c.PairRatio, seed); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return domains, nil
}
