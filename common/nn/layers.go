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

package nn

import "github.com/chewxy/math32"

type Layer interface {
	Parameters() []*Tensor
	Forward(x *Tensor) *Tensor
}

type LinearLayer struct {
	W *Tensor
	B *Tensor
}

func NewLinear(in, out int) *LinearLayer {
	return &LinearLayer{
		W: Normal(0, 1.0/math32.Sqrt(float32(in)), in, out),
		B: Zeros(out),
	}
}

func (l *LinearLayer) Forward(x *Tensor) *Tensor {
	return Add(MatMul(x, l.W), l.B)
}

func (l *LinearLayer) Parameters() []*Tensor {
	return []*Tensor{l.W, l.B}
}

type reluLayer struct{}

func NewReLU() Layer {
	return &reluLayer{}
}

func (r *reluLayer) Parameters() []*Tensor {
	return nil
}

func (r *reluLayer) Forward(x *Tensor) *Tensor {
	return ReLu(x)
}

type Sequential struct {
	Layers []Layer
	frozen int
}

func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

// Freeze stops training of every layer except the last numUnfrozen layers that
// own parameters. Frozen layers still run in Forward.
func (s *Sequential) Freeze(numUnfrozen int) {
	trainable := 0
	s.frozen = len(s.Layers)
	for i := len(s.Layers) - 1; i >= 0; i-- {
		if trainable >= numUnfrozen {
			break
		}
		s.frozen = i
		if len(s.Layers[i].Parameters()) > 0 {
			trainable++
		}
	}
}

// Unfreeze makes every layer trainable again.
func (s *Sequential) Unfreeze() {
	s.frozen = 0
}

// Parameters returns the parameters of trainable layers.
func (s *Sequential) Parameters() []*Tensor {
	var params []*Tensor
	for _, l := range s.Layers[s.frozen:] {
		params = append(params, l.Parameters()...)
	}
	return params
}

// Weights returns the parameters of every layer, frozen or not.
func (s *Sequential) Weights() []*Tensor {
	var params []*Tensor
	for _, l := range s.Layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

func (s *Sequential) Forward(x *Tensor) *Tensor {
	for _, l := range s.Layers {
		x = l.Forward(x)
	}
	return x
}
