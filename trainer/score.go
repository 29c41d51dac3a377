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
	"time"

	"github.com/chewxy/math32"
	"github.com/dage-io/dage/model"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Score averages losses and accuracies over batches.
type Score struct {
	Loss           float32
	CESource       float32
	CETarget       float32
	Aux            float32
	AccuracySource float32
	AccuracyTarget float32
}

func (score Score) ZapFields() []zap.Field {
	return []zap.Field{
		zap.Float32("loss", score.Loss),
		zap.Float32("ce_loss_src", score.CESource),
		zap.Float32("ce_loss_tgt", score.CETarget),
		zap.Float32("aux_loss", score.Aux),
		zap.Float32("preds_acc_src", score.AccuracySource),
		zap.Float32("preds_acc", score.AccuracyTarget),
	}
}

// scoreAccumulator collects per-batch losses weighted by batch size.
type scoreAccumulator struct {
	values  [6][]float64
	weights []float64
}

func (a *scoreAccumulator) add(l *model.Losses, batchSize int) {
	for i, v := range []float32{
		l.Total.Value(),
		l.CESource.Value(),
		l.CETarget.Value(),
		l.Aux.Value(),
		l.AccuracySource,
		l.AccuracyTarget,
	} {
		a.values[i] = append(a.values[i], float64(v))
	}
	a.weights = append(a.weights, float64(batchSize))
}

func (a *scoreAccumulator) merge(other *scoreAccumulator) {
	for i := range a.values {
		a.values[i] = append(a.values[i], other.values[i]...)
	}
	a.weights = append(a.weights, other.weights...)
}

// score returns weighted means. Non-finite values are left out so that one
// degenerate batch does not hide the rest.
func (a *scoreAccumulator) score() Score {
	var means [6]float32
	for i, values := range a.values {
		var finite, weights []float64
		for j, v := range values {
			if !math32.IsNaN(float32(v)) && !math32.IsInf(float32(v), 0) {
				finite = append(finite, v)
				weights = append(weights, a.weights[j])
			}
		}
		if len(finite) > 0 {
			means[i] = float32(stat.Mean(finite, weights))
		} else if len(values) > 0 {
			means[i] = math32.NaN()
		}
	}
	return Score{
		Loss:           means[0],
		CESource:       means[1],
		CETarget:       means[2],
		Aux:            means[3],
		AccuracySource: means[4],
		AccuracyTarget: means[5],
	}
}

// Record is the outcome of one epoch.
type Record struct {
	Epoch   int
	FitTime time.Duration
	// Skipped counts steps with a non-finite loss.
	Skipped int
	Train   Score
	Valid   *Score
}

type History struct {
	Records []Record
}

// Best returns the record with the highest validation accuracy on the target
// stream.
func (h *History) Best() (Record, bool) {
	var (
		best  Record
		found bool
	)
	for _, r := range h.Records {
		if r.Valid == nil {
			continue
		}
		if !found || r.Valid.AccuracyTarget > best.Valid.AccuracyTarget {
			best, found = r, true
		}
	}
	return best, found
}
