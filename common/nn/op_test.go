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

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

const (
	eps  = 1e-2
	rtol = 1e-2
	atol = 5e-3
)

// numericalDiff estimates the gradient of sum(f(x)) by central differences.
func numericalDiff(f func(*Tensor) *Tensor, x *Tensor) *Tensor {
	x0, x1 := x.clone(), x.clone()
	dx := make([]float32, len(x.data))
	for i, v := range x.data {
		x0.data[i] = v - eps
		x1.data[i] = v + eps
		y0 := f(x0)
		y1 := f(x1)
		for j := range y0.data {
			dx[i] += (y1.data[j] - y0.data[j]) / (2 * eps)
		}
		x0.data[i] = v
		x1.data[i] = v
	}
	return NewTensor(dx, x.shape...)
}

func allClose(t *testing.T, a, b *Tensor) {
	if !assert.Equal(t, a.shape, b.shape) {
		return
	}
	for i := range a.data {
		if math32.Abs(a.data[i]-b.data[i]) > atol+rtol*math32.Abs(b.data[i]) {
			t.Fatalf("a.data[%d] = %f, b.data[%d] = %f\n", i, a.data[i], i, b.data[i])
			return
		}
	}
}

func TestAdd(t *testing.T) {
	// (2,3) + (2,3) -> (2,3)
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := NewTensor([]float32{2, 3, 4, 5, 6, 7}, 2, 3)
	z := Add(x, y)
	assert.Equal(t, []float32{3, 5, 7, 9, 11, 13}, z.data)

	// Test gradient
	x = Rand(2, 3)
	y = Rand(2, 3)
	z = Add(x, y)
	z.Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return Add(x, y) }, x)
	allClose(t, x.grad, dx)
	dy := numericalDiff(func(y *Tensor) *Tensor { return Add(x, y) }, y)
	allClose(t, y.grad, dy)

	// (2,3) + () -> (2,3)
	x = NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y = NewScalar(2)
	z = Add(x, y)
	assert.Equal(t, []float32{3, 4, 5, 6, 7, 8}, z.data)

	// Test gradient
	z.Backward()
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, x.grad.data)
	assert.Equal(t, []float32{6}, y.grad.data)

	// (2,3) + (3) -> (2,3)
	x = NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y = NewTensor([]float32{2, 3, 4}, 3)
	z = Add(x, y)
	assert.Equal(t, []float32{3, 5, 7, 6, 8, 10}, z.data)

	// Test gradient
	z.Backward()
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, x.grad.data)
	assert.Equal(t, []float32{2, 2, 2}, y.grad.data)
}

func TestSub(t *testing.T) {
	// (2,3) - (2,3) -> (2,3)
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := NewTensor([]float32{2, 3, 4, 5, 6, 7}, 2, 3)
	z := Sub(x, y)
	assert.Equal(t, []float32{-1, -1, -1, -1, -1, -1}, z.data)

	// Test gradient
	x = Rand(2, 3)
	y = Rand(2, 3)
	z = Sub(x, y)
	z.Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return Sub(x, y) }, x)
	allClose(t, x.grad, dx)
	dy := numericalDiff(func(y *Tensor) *Tensor { return Sub(x, y) }, y)
	allClose(t, y.grad, dy)

	// () - (2,3) -> (2,3)
	x = NewScalar(1)
	y = NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	z = Sub(x, y)
	assert.Equal(t, []float32{0, -1, -2, -3, -4, -5}, z.data)
	z.Backward()
	assert.Equal(t, []float32{6}, x.grad.data)
	assert.Equal(t, []float32{-1, -1, -1, -1, -1, -1}, y.grad.data)
}

func TestMul(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := NewTensor([]float32{2, 3, 4}, 3)
	z := Mul(x, y)
	assert.Equal(t, []float32{2, 6, 12, 8, 15, 24}, z.data)

	x = Rand(2, 3)
	y = Rand(3)
	z = Mul(x, y)
	z.Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return Mul(x, y) }, x)
	allClose(t, x.grad, dx)
	dy := numericalDiff(func(y *Tensor) *Tensor { return Mul(x, y) }, y)
	allClose(t, y.grad, dy)
}

func TestDiv(t *testing.T) {
	x := NewTensor([]float32{2, 4, 6}, 3)
	y := NewScalar(2)
	z := Div(x, y)
	assert.Equal(t, []float32{1, 2, 3}, z.data)

	x = Add(Rand(2, 3), NewScalar(1)).NoGrad()
	y = Add(Rand(2, 3), NewScalar(1)).NoGrad()
	z = Div(x, y)
	z.Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return Div(x, y) }, x)
	allClose(t, x.grad, dx)
	dy := numericalDiff(func(y *Tensor) *Tensor { return Div(x, y) }, y)
	allClose(t, y.grad, dy)

	// division by zero is not guarded
	z = Div(NewScalar(0), NewScalar(0))
	assert.True(t, math32.IsNaN(z.Value()))
	z = Div(NewScalar(1), NewScalar(0))
	assert.True(t, math32.IsInf(z.Value(), 1))
}

func TestNegSquareExpLog(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3}, 3)
	assert.Equal(t, []float32{-1, -2, -3}, Neg(x).data)
	assert.Equal(t, []float32{1, 4, 9}, Square(x).data)
	assert.InDelta(t, math32.E, Exp(x).data[0], 1e-5)
	assert.InDelta(t, 0, Log(x).data[0], 1e-6)

	x = Add(Rand(2, 3), NewScalar(0.5)).NoGrad()
	for _, f := range []func(*Tensor) *Tensor{Neg, Square, Exp, Log} {
		x.grad = nil
		y := f(x)
		y.Backward()
		allClose(t, x.grad, numericalDiff(f, x))
	}
}

func TestSumMean(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := Sum(x)
	assert.Equal(t, float32(21), y.Value())
	y.Backward()
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, x.grad.data)

	x.grad = nil
	y = Mean(x)
	assert.Equal(t, float32(3.5), y.Value())
	y.Backward()
	allClose(t, x.grad, numericalDiff(Mean, x))
}

func TestRowSumDiag(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := RowSum(x)
	assert.Equal(t, []int{2}, y.shape)
	assert.Equal(t, []float32{6, 15}, y.data)

	d := Diag(y)
	assert.Equal(t, []int{2, 2}, d.shape)
	assert.Equal(t, []float32{6, 0, 0, 15}, d.data)

	// gradient through a Laplacian D - W
	w := Rand(3, 3)
	coef := Rand(3, 3)
	f := func(w *Tensor) *Tensor { return Mul(Sub(Diag(RowSum(w)), w), coef) }
	z := f(w)
	z.Backward()
	allClose(t, w.grad, numericalDiff(f, w))
}

func TestTrace(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4}, 2, 2)
	y := Trace(x)
	assert.Equal(t, float32(5), y.Value())
	y.Backward()
	assert.Equal(t, []float32{1, 0, 0, 1}, x.grad.data)
	assert.Panics(t, func() { Trace(Rand(2, 3)) })
}

func TestMatMul(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	z := MatMul(x, y)
	assert.Equal(t, []int{2, 2}, z.shape)
	assert.Equal(t, []float32{22, 28, 49, 64}, z.data)

	x = Rand(2, 3)
	y = Rand(3, 4)
	z = MatMul(x, y)
	z.Backward()
	allClose(t, x.grad, numericalDiff(func(x *Tensor) *Tensor { return MatMul(x, y) }, x))
	allClose(t, y.grad, numericalDiff(func(y *Tensor) *Tensor { return MatMul(x, y) }, y))

	assert.Panics(t, func() { MatMul(Rand(2, 3), Rand(2, 3)) })
}

func TestTranspose(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := Transpose(x)
	assert.Equal(t, []int{3, 2}, y.shape)
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, y.data)

	coef := Rand(3, 2)
	f := func(x *Tensor) *Tensor { return Mul(Transpose(x), coef) }
	x = Rand(2, 3)
	f(x).Backward()
	allClose(t, x.grad, numericalDiff(f, x))
}

func TestConcat(t *testing.T) {
	x0 := NewTensor([]float32{1, 2, 3, 4}, 2, 2)
	x1 := NewTensor([]float32{5, 6}, 1, 2)
	y := Concat(x0, x1)
	assert.Equal(t, []int{3, 2}, y.shape)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, y.data)

	coef := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	Mul(y, coef).Backward()
	assert.Equal(t, []float32{1, 2, 3, 4}, x0.grad.data)
	assert.Equal(t, []float32{5, 6}, x1.grad.data)

	assert.Panics(t, func() { Concat(Rand(2, 2), Rand(2, 3)) })
}

func TestSelect(t *testing.T) {
	// (2, 2, 3): two samples, two streams, three features
	x := NewTensor([]float32{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
	}, 2, 2, 3)
	y0 := Select(x, 0)
	y1 := Select(x, 1)
	assert.Equal(t, []float32{1, 2, 3, 7, 8, 9}, y0.data)
	assert.Equal(t, []float32{4, 5, 6, 10, 11, 12}, y1.data)

	Sum(Add(y0, Mul(y1, NewScalar(2)))).Backward()
	assert.Equal(t, []float32{1, 1, 1, 2, 2, 2, 1, 1, 1, 2, 2, 2}, x.grad.data)
	assert.Panics(t, func() { Select(x, 2) })
}

func TestWhere(t *testing.T) {
	inf := math32.Inf(1)
	x := NewTensor([]float32{1, inf, math32.NaN(), -2}, 2, 2)
	mask := NewTensor([]float32{1, 0, 0, 1}, 2, 2)
	y := Where(mask, x)
	assert.Equal(t, []float32{1, 0, 0, -2}, y.data)

	x = Rand(2, 3)
	mask = NewTensor([]float32{0, 1, 1, 0, 0, 1}, 2, 3)
	f := func(x *Tensor) *Tensor { return Where(mask, x) }
	f(x).Backward()
	assert.Equal(t, []float32{0, 1, 1, 0, 0, 1}, x.grad.data)
	assert.Nil(t, mask.grad)
	assert.Panics(t, func() { Where(Ones(3, 2), x) })
}

func TestPairwiseDistance(t *testing.T) {
	x := NewTensor([]float32{
		0, 0,
		3, 4,
		1, 1,
	}, 3, 2)
	d := PairwiseDistance(x)
	assert.Equal(t, []int{3, 3}, d.shape)
	assert.Equal(t, []float32{
		0, 25, 2,
		25, 0, 13,
		2, 13, 0,
	}, d.data)

	// asymmetric upstream gradient
	coef := Rand(4, 4)
	f := func(x *Tensor) *Tensor { return Mul(PairwiseDistance(x), coef) }
	x = Rand(4, 3)
	f(x).Backward()
	allClose(t, x.grad, numericalDiff(f, x))
}

func TestReLu(t *testing.T) {
	x := NewTensor([]float32{-1, 2, -3, 4}, 4)
	y := ReLu(x)
	assert.Equal(t, []float32{0, 2, 0, 4}, y.data)
	y.Backward()
	assert.Equal(t, []float32{0, 1, 0, 1}, x.grad.data)
}

func TestSoftmaxCrossEntropy(t *testing.T) {
	logits := NewTensor([]float32{0, 0, 0, 0}, 2, 2)
	target := NewTensor([]float32{1, 0, 0, 1}, 2, 2)
	y := SoftmaxCrossEntropy(logits, target)
	assert.InDelta(t, math32.Ln2, y.Value(), 1e-6)

	logits = Rand(3, 4)
	target = NewTensor([]float32{
		1, 0, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}, 3, 4)
	f := func(x *Tensor) *Tensor { return SoftmaxCrossEntropy(x, target) }
	f(logits).Backward()
	allClose(t, logits.grad, numericalDiff(f, logits))
}

func TestBackwardAccumulates(t *testing.T) {
	// y = x*x + x uses x three times
	x := NewTensor([]float32{3}, 1)
	y := Add(Mul(x, x), x)
	y.Backward()
	assert.Equal(t, []float32{7}, x.grad.data)

	// a diamond: z = (x + x) * (x + x)
	x = NewTensor([]float32{2}, 1)
	s := Add(x, x)
	z := Mul(s, s)
	z.Backward()
	assert.Equal(t, []float32{16}, x.grad.data)
}
