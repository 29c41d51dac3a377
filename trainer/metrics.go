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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelSplit  = "split"
	LabelLoss   = "loss"
	LabelStream = "stream"
)

var (
	StepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dage",
		Subsystem: "trainer",
		Name:      "steps_total",
	})
	SkippedStepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dage",
		Subsystem: "trainer",
		Name:      "skipped_steps_total",
	})
	EpochsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dage",
		Subsystem: "trainer",
		Name:      "epochs_total",
	})
	EpochSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dage",
		Subsystem: "trainer",
		Name:      "epoch_seconds",
	})
	LossVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dage",
		Subsystem: "trainer",
		Name:      "loss",
	}, []string{LabelSplit, LabelLoss})
	AccuracyVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dage",
		Subsystem: "trainer",
		Name:      "accuracy",
	}, []string{LabelSplit, LabelStream})
)

func observeScore(split string, score Score) {
	LossVec.WithLabelValues(split, "total").Set(float64(score.Loss))
	LossVec.WithLabelValues(split, "ce_src").Set(float64(score.CESource))
	LossVec.WithLabelValues(split, "ce_tgt").Set(float64(score.CETarget))
	LossVec.WithLabelValues(split, "aux").Set(float64(score.Aux))
	AccuracyVec.WithLabelValues(split, "src").Set(float64(score.AccuracySource))
	AccuracyVec.WithLabelValues(split, "tgt").Set(float64(score.AccuracyTarget))
}
