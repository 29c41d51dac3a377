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

package trainer

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/c-bata/goptuna"
	"github.com/dage-io/dage/base/log"
	"github.com/dage-io/dage/dataset"
	"github.com/dage-io/dage/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ModelCreator creates a model with the given loss preset and
// hyper-parameters.
type ModelCreator func(preset string, params model.Params) (model.Model, error)

// Trial is the outcome of one set of hyper-parameters.
type Trial struct {
	Preset       string
	Params       model.Params
	LearningRate float32
	Score        Score
}

// ModelSearch searches loss presets, the auxiliary loss weight and the
// learning rate. Trials are scored by target accuracy on validation pairs.
type ModelSearch struct {
	ctx     context.Context
	create  ModelCreator
	presets []string
	train   *dataset.Pairs
	valid   []*dataset.Batch
	config  *Config
	trials  []Trial
	best    int
}

func NewModelSearch(ctx context.Context, create ModelCreator, presets []string, train *dataset.Pairs, valid []*dataset.Batch, config *Config) *ModelSearch {
	presets = slices.Clone(presets)
	slices.Sort(presets)
	return &ModelSearch{
		ctx:     ctx,
		create:  create,
		presets: presets,
		train:   train,
		valid:   valid,
		config:  config,
		best:    -1,
	}
}

func (ms *ModelSearch) Objective(trial goptuna.Trial) (float64, error) {
	if len(ms.presets) == 0 {
		return 0, errors.New("no preset to search")
	}
	if len(ms.valid) == 0 {
		return 0, errors.New("no validation pairs")
	}
	preset, err := trial.SuggestCategorical("Preset", ms.presets)
	if err != nil {
		return 0, errors.Trace(err)
	}
	params, lr, err := suggestParams(trial)
	if err != nil {
		return 0, errors.Trace(err)
	}
	m, err := ms.create(preset, params)
	if err != nil {
		return 0, errors.Trace(err)
	}
	config := *ms.config
	config.LearningRate = lr
	config.Tracker = nil
	config.Verbose = config.Epochs
	log.Logger().Info(fmt.Sprintf("search %v", len(ms.trials)+1),
		zap.String("preset", preset),
		zap.Any("params", params),
		zap.Float32("learning_rate", lr))
	history, err := Fit(ms.ctx, m, ms.train, ms.valid, &config)
	if err != nil {
		return 0, errors.Trace(err)
	}
	// the last epoch is always evaluated
	score := *history.Records[len(history.Records)-1].Valid
	ms.trials = append(ms.trials, Trial{
		Preset:       preset,
		Params:       params,
		LearningRate: lr,
		Score:        score,
	})
	if ms.best < 0 || score.AccuracyTarget > ms.trials[ms.best].Score.AccuracyTarget {
		ms.best = len(ms.trials) - 1
	}
	return float64(score.AccuracyTarget), nil
}

func suggestParams(trial goptuna.Trial) (model.Params, float32, error) {
	alpha, err := trial.SuggestFloat(string(model.Alpha), 0.01, 0.99)
	if err != nil {
		return nil, 0, errors.Trace(err)
	}
	evenWeights, err := trial.SuggestCategorical(string(model.EvenWeights), []string{"true", "false"})
	if err != nil {
		return nil, 0, errors.Trace(err)
	}
	lr, err := trial.SuggestLogFloat("LearningRate", 1e-4, 1e-1)
	if err != nil {
		return nil, 0, errors.Trace(err)
	}
	return model.Params{
		model.Alpha:       float32(alpha),
		model.EvenWeights: lo.Must(strconv.ParseBool(evenWeights)),
	}, float32(lr), nil
}

// Trials returns every completed trial in order.
func (ms *ModelSearch) Trials() []Trial {
	return ms.trials
}

// Best returns the trial with the highest target accuracy.
func (ms *ModelSearch) Best() (Trial, bool) {
	if ms.best < 0 {
		return Trial{}, false
	}
	return ms.trials[ms.best], true
}
