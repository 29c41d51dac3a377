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

package model

import (
	"github.com/dage-io/dage/common/nn"
	"github.com/dage-io/dage/dataset"
)

// SingleStream is trained with cross entropy on source samples only. Target
// samples are evaluated but never contribute to the total loss.
type SingleStream struct {
	BaseModel
	network
	inputDim   int
	numClasses int
}

func NewSingleStream(inputDim, numClasses int, params Params) *SingleStream {
	m := &SingleStream{inputDim: inputDim, numClasses: numClasses}
	m.SetParams(params)
	m.network = newNetwork(inputDim, numClasses, params)
	return m
}

func (m *SingleStream) Parameters() []*nn.Tensor {
	return m.parameters()
}

func (m *SingleStream) Freeze(numUnfrozen int) {
	m.freeze(numUnfrozen)
}

func (m *SingleStream) Weights() []*nn.Tensor {
	return m.weights()
}

func (m *SingleStream) Forward(x *nn.Tensor) *nn.Tensor {
	return m.top.Forward(m.embed(x))
}

func (m *SingleStream) Losses(batch *dataset.Batch) (*Losses, error) {
	logitsSource := m.Forward(batch.XS)
	logitsTarget := m.Forward(batch.XT)
	losses := &Losses{
		CESource:       nn.SoftmaxCrossEntropy(logitsSource, oneHot(batch.YS, m.numClasses)),
		CETarget:       nn.SoftmaxCrossEntropy(logitsTarget, oneHot(batch.YT, m.numClasses)),
		Aux:            nn.NewScalar(0),
		AccuracySource: accuracy(logitsSource, batch.YS),
		AccuracyTarget: accuracy(logitsTarget, batch.YT),
	}
	losses.Total = losses.CESource
	return losses, nil
}

func (m *SingleStream) PredictTarget(x *nn.Tensor) []int {
	return m.Forward(x).ArgMax()
}
