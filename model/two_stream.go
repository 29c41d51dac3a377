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
	"github.com/juju/errors"
)

// TwoStream runs source and target samples through the same network. The
// embeddings of both streams feed the auxiliary loss and the logits of both
// streams feed cross entropy losses:
//
//	total = α·aux + w_s·ce_s + w_t·ce_t
//
// With even weights w_s = w_t = (1-α)/2, otherwise w_s = 0 and w_t = 1-α.
type TwoStream struct {
	BaseModel
	network
	inputDim    int
	numClasses  int
	aux         AuxLoss
	alpha       float32
	evenWeights bool
}

func NewTwoStream(inputDim, numClasses int, aux AuxLoss, params Params) *TwoStream {
	m := &TwoStream{inputDim: inputDim, numClasses: numClasses, aux: aux}
	m.SetParams(params)
	m.network = newNetwork(inputDim, numClasses, params)
	return m
}

func (m *TwoStream) SetParams(params Params) {
	m.BaseModel.SetParams(params)
	m.alpha = m.Params.GetFloat32(Alpha, 0.25)
	m.evenWeights = m.Params.GetBool(EvenWeights, true)
}

// LossWeights returns the weights of the auxiliary loss, the source cross
// entropy and the target cross entropy.
func (m *TwoStream) LossWeights() (aux, source, target float32) {
	if m.evenWeights {
		return m.alpha, 0.5 * (1 - m.alpha), 0.5 * (1 - m.alpha)
	}
	return m.alpha, 0, 1 - m.alpha
}

func (m *TwoStream) Parameters() []*nn.Tensor {
	return m.parameters()
}

func (m *TwoStream) Freeze(numUnfrozen int) {
	m.freeze(numUnfrozen)
}

func (m *TwoStream) Weights() []*nn.Tensor {
	return m.weights()
}

// Embed maps samples of either domain to embeddings.
func (m *TwoStream) Embed(x *nn.Tensor) *nn.Tensor {
	return m.embed(x)
}

// Losses requires an auxiliary loss. A model loaded without one only predicts.
func (m *TwoStream) Losses(batch *dataset.Batch) (*Losses, error) {
	if m.aux == nil {
		return nil, errors.NotValidf("two-stream model without auxiliary loss")
	}
	embedSource := m.embed(batch.XS)
	embedTarget := m.embed(batch.XT)
	logitsSource := m.top.Forward(embedSource)
	logitsTarget := m.top.Forward(embedTarget)
	losses := &Losses{
		CESource:       nn.SoftmaxCrossEntropy(logitsSource, oneHot(batch.YS, m.numClasses)),
		CETarget:       nn.SoftmaxCrossEntropy(logitsTarget, oneHot(batch.YT, m.numClasses)),
		AccuracySource: accuracy(logitsSource, batch.YS),
		AccuracyTarget: accuracy(logitsTarget, batch.YT),
	}
	var err error
	if losses.Aux, err = m.aux.PairLoss(batch.YS, batch.YT, embedSource, embedTarget); err != nil {
		return nil, errors.Trace(err)
	}
	wAux, wSource, wTarget := m.LossWeights()
	losses.Total = nn.Add(
		nn.Mul(losses.CESource, nn.NewScalar(wSource)),
		nn.Mul(losses.CETarget, nn.NewScalar(wTarget)))
	// a zero weight must not turn a non-finite auxiliary loss into NaN
	if wAux != 0 {
		losses.Total = nn.Add(losses.Total, nn.Mul(losses.Aux, nn.NewScalar(wAux)))
	}
	return losses, nil
}

// PredictTarget classifies samples with the target stream.
func (m *TwoStream) PredictTarget(x *nn.Tensor) []int {
	return m.top.Forward(m.embed(x)).ArgMax()
}
