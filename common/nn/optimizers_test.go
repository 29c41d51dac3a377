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
package nn_test

import (
	"math"
	"testing"

	"github.com/dage-io/dage/common/nn"
	"github.com/stretchr/testify/assert"
)

func testOptimizer(optimizerCreator func(params []*nn.Tensor, lr float32) nn.Optimizer, lr float32, epochs int) (losses []float32) {
	// Create input (x, x^2, x^3) and output data of a cubic polynomial
	xx := make([]float32, 0, 600)
	y := make([]float32, 0, 200)
	for i := 0; i < 200; i++ {
		v := -1 + 2*float32(i)/199
		xx = append(xx, v, v*v, v*v*v)
		y = append(y, float32(1-2*float64(v)+0.5*math.Pow(float64(v), 3)))
	}
	input := nn.NewTensor(xx, 200, 3)
	target := nn.NewTensor(y, 200, 1)

	model := nn.NewSequential(
		nn.NewLinear(3, 1),
	)
	optimizer := optimizerCreator(model.Parameters(), lr)
	for i := 0; i < epochs; i++ {
		yPred := model.Forward(input)
		loss := nn.Mean(nn.Square(nn.Sub(yPred, target)))
		losses = append(losses, loss.Data()[0])

		optimizer.ZeroGrad()
		loss.Backward()
		optimizer.Step()
	}
	return
}

func TestSGD(t *testing.T) {
	losses := testOptimizer(nn.NewSGD, 0.5, 1000)
	assert.Less(t, losses[len(losses)-1], losses[0])
	assert.Less(t, losses[len(losses)-1], float32(0.01))
}

func TestAdam(t *testing.T) {
	losses := testOptimizer(nn.NewAdam, 0.02, 1000)
	assert.Less(t, losses[len(losses)-1], losses[0])
	assert.Less(t, losses[len(losses)-1], float32(0.05))
}

func TestWeightDecay(t *testing.T) {
	w := nn.NewTensor([]float32{1, -1}, 2)
	optimizer := nn.NewSGD([]*nn.Tensor{w}, 0.5)
	optimizer.SetWeightDecay(1)
	optimizer.ZeroGrad()
	// zero loss gradient, only decay acts
	nn.Mul(w, nn.NewScalar(0)).Backward()
	optimizer.Step()
	assert.Equal(t, []float32{0.5, -0.5}, w.Data())
}
