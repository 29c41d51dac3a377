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

// Model is the interface for all models trained on batches of paired
// source and target samples.
type Model interface {
	SetParams(params Params)
	GetParams() Params
	// Parameters returns the trainable tensors.
	Parameters() []*nn.Tensor
	// Losses runs both streams on a batch.
	Losses(batch *dataset.Batch) (*Losses, error)
	// PredictTarget classifies target samples.
	PredictTarget(x *nn.Tensor) []int
	// Freeze keeps only the last numUnfrozen base layers trainable.
	Freeze(numUnfrozen int)
	// Weights returns every parameter including frozen ones.
	Weights() []*nn.Tensor
}

// Losses of a batch. Total is the weighted sum that is minimized.
type Losses struct {
	Total          *nn.Tensor
	CESource       *nn.Tensor
	CETarget       *nn.Tensor
	Aux            *nn.Tensor
	AccuracySource float32
	AccuracyTarget float32
}

// AuxLoss is a loss on embeddings of paired samples.
type AuxLoss interface {
	PairLoss(ys, yt []int, xs, xt *nn.Tensor) (*nn.Tensor, error)
}

// BaseModel must be included by every model. Hyper-parameters are managed by
// the BaseModel.
type BaseModel struct {
	Params    Params
	randState int64
}

func (model *BaseModel) SetParams(params Params) {
	model.Params = params
	model.randState = model.Params.GetInt64(RandomState, 0)
}

func (model *BaseModel) GetParams() Params {
	return model.Params
}

// network is the stack shared by all models: base extracts features, mid
// maps them to embeddings and top maps embeddings to class logits.
type network struct {
	base *nn.Sequential
	mid  *nn.Sequential
	top  *nn.Sequential
}

func newNetwork(inputDim, numClasses int, params Params) network {
	nn.SetSeed(params.GetInt64(RandomState, 0))
	var layers []nn.Layer
	size := inputDim
	for _, hidden := range params.GetIntSlice(BaseLayers, []int{64}) {
		layers = append(layers, nn.NewLinear(size, hidden), nn.NewReLU())
		size = hidden
	}
	denseSize := params.GetInt(DenseSize, 64)
	embedSize := params.GetInt(EmbedSize, 16)
	n := network{
		base: nn.NewSequential(layers...),
		mid: nn.NewSequential(
			nn.NewLinear(size, denseSize),
			nn.NewReLU(),
			nn.NewLinear(denseSize, embedSize),
		),
		top: nn.NewSequential(nn.NewLinear(embedSize, numClasses)),
	}
	if numUnfrozen := params.GetInt(NumUnfrozen, -1); numUnfrozen >= 0 {
		n.base.Freeze(numUnfrozen)
	}
	return n
}

// embed returns the output of mid.
func (n network) embed(x *nn.Tensor) *nn.Tensor {
	return n.mid.Forward(n.base.Forward(x))
}

func (n network) parameters() []*nn.Tensor {
	var params []*nn.Tensor
	params = append(params, n.base.Parameters()...)
	params = append(params, n.mid.Parameters()...)
	params = append(params, n.top.Parameters()...)
	return params
}

func (n network) weights() []*nn.Tensor {
	var weights []*nn.Tensor
	weights = append(weights, n.base.Weights()...)
	weights = append(weights, n.mid.Weights()...)
	weights = append(weights, n.top.Weights()...)
	return weights
}

func (n network) freeze(numUnfrozen int) {
	if numUnfrozen < 0 {
		n.base.Unfreeze()
	} else {
		n.base.Freeze(numUnfrozen)
	}
}

// oneHot encodes labels as rows of a len(y) × numClasses tensor.
func oneHot(y []int, numClasses int) *nn.Tensor {
	data := make([]float32, len(y)*numClasses)
	for i, label := range y {
		data[i*numClasses+label] = 1
	}
	return nn.NewTensor(data, len(y), numClasses)
}

func accuracy(logits *nn.Tensor, y []int) float32 {
	if len(y) == 0 {
		return 0
	}
	correct := 0
	for i, pred := range logits.ArgMax() {
		if pred == y[i] {
			correct++
		}
	}
	return float32(correct) / float32(len(y))
}
