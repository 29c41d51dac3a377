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
	"math/rand"
	"time"

	"github.com/chewxy/math32"
	"github.com/dage-io/dage/base/log"
	"github.com/dage-io/dage/common/nn"
	"github.com/dage-io/dage/common/parallel"
	"github.com/dage-io/dage/dataset"
	"github.com/dage-io/dage/model"
	"github.com/juju/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"modernc.org/mathutil"
)

// Tracker observes training progress.
type Tracker interface {
	// Step is called after every training step.
	Step()
	Finish()
}

const (
	OptimizerAdam = "adam"
	OptimizerSGD  = "sgd"
)

type Config struct {
	Optimizer    string
	Epochs       int
	BatchSize    int
	LearningRate float32
	WeightDecay  float32
	// Flipping trains every batch a second time with source and target swapped.
	Flipping bool
	// MaxSkipped is the number of consecutive non-finite steps that abort
	// training.
	MaxSkipped int
	Jobs       int
	Verbose    int
	Seed       int64
	Tracker    Tracker
}

func NewConfig() *Config {
	return &Config{
		Optimizer:    OptimizerAdam,
		Epochs:       10,
		BatchSize:    16,
		LearningRate: 0.001,
		MaxSkipped:   10,
		Jobs:         1,
		Verbose:      1,
	}
}

// StepsPerEpoch returns the number of optimizer steps in an epoch over n pairs.
func (c *Config) StepsPerEpoch(n int) int {
	steps := n / c.BatchSize
	if c.Flipping {
		steps *= 2
	}
	return steps
}

func (c *Config) newOptimizer(params []*nn.Tensor) (nn.Optimizer, error) {
	var optimizer nn.Optimizer
	switch c.Optimizer {
	case OptimizerAdam, "":
		optimizer = nn.NewAdam(params, c.LearningRate)
	case OptimizerSGD:
		optimizer = nn.NewSGD(params, c.LearningRate)
	default:
		return nil, errors.NotValidf("optimizer %q", c.Optimizer)
	}
	optimizer.SetWeightDecay(c.WeightDecay)
	return optimizer, nil
}

// Fit trains a model on paired batches with Adam or SGD. Steps with a non-finite loss
// are skipped. Validation batches, if any, are evaluated after every epoch.
func Fit(ctx context.Context, m model.Model, train *dataset.Pairs, valid []*dataset.Batch, config *Config) (*History, error) {
	if config.BatchSize <= 0 || train.Len() < config.BatchSize {
		return nil, errors.NotValidf("batch size %d for %d pairs", config.BatchSize, train.Len())
	}
	if config.Epochs <= 0 {
		return nil, errors.NotValidf("%d epochs", config.Epochs)
	}
	rng := rand.New(rand.NewSource(config.Seed))
	optimizer, err := config.newOptimizer(m.Parameters())
	if err != nil {
		return nil, errors.Trace(err)
	}
	history := &History{}
	consecutive := 0

	for epoch := 1; epoch <= config.Epochs; epoch++ {
		fitStart := time.Now()
		train.Shuffle(rng)
		record := Record{Epoch: epoch}
		var acc scoreAccumulator
		step := func(batch *dataset.Batch) error {
			losses, err := m.Losses(batch)
			if err != nil {
				return errors.Trace(err)
			}
			if config.Tracker != nil {
				config.Tracker.Step()
			}
			if cost := losses.Total.Value(); math32.IsNaN(cost) || math32.IsInf(cost, 0) {
				SkippedStepsTotal.Inc()
				record.Skipped++
				consecutive++
				log.Logger().Warn("skip step with non-finite loss",
					zap.Int("epoch", epoch),
					zap.Float32("loss", cost),
					zap.Float32("aux_loss", losses.Aux.Value()))
				if config.MaxSkipped > 0 && consecutive >= config.MaxSkipped {
					return errors.Errorf("%d consecutive steps with non-finite loss", consecutive)
				}
				return nil
			}
			consecutive = 0
			optimizer.ZeroGrad()
			losses.Total.Backward()
			optimizer.Step()
			StepsTotal.Inc()
			acc.add(losses, batch.Size())
			return nil
		}
		for _, batch := range train.Batches(config.BatchSize) {
			if err := ctx.Err(); err != nil {
				return history, errors.Trace(err)
			}
			if err := step(batch); err != nil {
				return history, err
			}
			if config.Flipping {
				if err := step(batch.Flip()); err != nil {
					return history, err
				}
			}
		}
		record.FitTime = time.Since(fitStart)
		record.Train = acc.score()
		EpochsTotal.Inc()
		EpochSeconds.Set(record.FitTime.Seconds())
		observeScore("train", record.Train)

		fields := []zap.Field{
			zap.String("fit_time", record.FitTime.String()),
			zap.Int("skipped", record.Skipped),
		}
		fields = append(fields, record.Train.ZapFields()...)
		if len(valid) > 0 && (epoch%max(config.Verbose, 1) == 0 || epoch == config.Epochs) {
			evalStart := time.Now()
			score, err := Evaluate(ctx, m, valid, config.Jobs)
			if err != nil {
				return history, errors.Trace(err)
			}
			record.Valid = &score
			observeScore("valid", score)
			fields = append(fields, zap.String("eval_time", time.Since(evalStart).String()))
			fields = append(fields, zap.Float32("val_loss", score.Loss), zap.Float32("val_preds_acc", score.AccuracyTarget))
		}
		log.Logger().Info(fmt.Sprintf("fit %v/%v", epoch, config.Epochs), fields...)
		history.Records = append(history.Records, record)
	}
	if config.Tracker != nil {
		config.Tracker.Finish()
	}
	if best, ok := history.Best(); ok {
		log.Logger().Info("fit complete", append([]zap.Field{zap.Int("best_epoch", best.Epoch)}, best.Valid.ZapFields()...)...)
	}
	return history, nil
}

// Evaluate computes the average score of batches on jobs goroutines. Models
// are only read, never updated.
func Evaluate(ctx context.Context, m model.Model, batches []*dataset.Batch, jobs int) (Score, error) {
	jobs = mathutil.Max(jobs, 1)
	chunks := parallel.Split(batches, jobs)
	accumulators := make([]scoreAccumulator, len(chunks))
	err := parallel.Parallel(ctx, len(chunks), jobs, func(_, jobId int) error {
		for _, batch := range chunks[jobId] {
			losses, err := m.Losses(batch)
			if err != nil {
				return errors.Trace(err)
			}
			accumulators[jobId].add(losses, batch.Size())
		}
		return nil
	})
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	var total scoreAccumulator
	for i := range accumulators {
		total.merge(&accumulators[i])
	}
	return total.score(), nil
}

// EvaluateTarget returns the accuracy of target predictions on a domain.
func EvaluateTarget(ctx context.Context, m model.Model, domain *dataset.Domain, batchSize, jobs int) (float32, error) {
	batches := domain.Batches(batchSize)
	if len(batches) == 0 {
		return 0, nil
	}
	jobs = mathutil.Max(jobs, 1)
	var correct atomic.Int64
	err := parallel.Parallel(ctx, len(batches), jobs, func(_, jobId int) error {
		batch := batches[jobId]
		var n int64
		for i, pred := range m.PredictTarget(batch.X) {
			if pred == batch.Y[i] {
				n++
			}
		}
		correct.Add(n)
		return nil
	})
	if err != nil {
		return 0, errors.Trace(err)
	}
	return float32(correct.Load()) / float32(domain.Count()), nil
}
