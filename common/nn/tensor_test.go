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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTensor(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, []int{2, 3}, x.Shape())
	assert.Equal(t, 6, x.Len())
	assert.Equal(t, float32(6), x.At(1, 2))
	assert.Equal(t, float32(2), x.At(0, 1))
	assert.Panics(t, func() { NewTensor([]float32{1, 2, 3}, 2, 2) })
	assert.Panics(t, func() { x.At(1) })
	assert.Panics(t, func() { x.Value() })
	assert.Equal(t, float32(7), NewScalar(7).Value())
	assert.Equal(t, "[1, 2, 3, 4, 5, 6]", x.String())
	assert.Equal(t, "7", NewScalar(7).String())
}

func TestArgMax(t *testing.T) {
	x := NewTensor([]float32{
		0, 3, 1,
		5, 5, 2,
		-1, -2, -0.5,
	}, 3, 3)
	assert.Equal(t, []int{1, 0, 2}, x.ArgMax())
}

func TestNoGrad(t *testing.T) {
	x := Rand(2, 2)
	y := Add(x, x).NoGrad()
	y.Backward()
	assert.Nil(t, x.Grad())
	assert.NotNil(t, y.Grad())
}

func TestSetSeed(t *testing.T) {
	SetSeed(42)
	a := RandN(3, 3)
	SetSeed(42)
	b := RandN(3, 3)
	assert.Equal(t, a.Data(), b.Data())
	c := Normal(10, 0, 2)
	assert.Equal(t, []float32{10, 10}, c.Data())
}
