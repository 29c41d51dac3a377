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
	"fmt"
	"math/rand"
	"strings"

	"github.com/chewxy/math32"
)

var rng = rand.New(rand.NewSource(0))

// SetSeed resets the generator used by Rand, RandN and Normal. It is not safe to
// call concurrently with tensor initialization.
func SetSeed(seed int64) {
	rng = rand.New(rand.NewSource(seed))
}

type Tensor struct {
	data  []float32
	shape []int
	grad  *Tensor
	op    op
}

func NewTensor(data []float32, shape ...int) *Tensor {
	size := 1
	for _, s := range shape {
		size *= s
	}
	if len(shape) > 0 && size != len(data) {
		panic(fmt.Sprintf("tensor of shape %v requires %d elements, but got %d", shape, size, len(data)))
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

func NewScalar(data float32) *Tensor {
	return &Tensor{
		data:  []float32{data},
		shape: []int{},
	}
}

func numel(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Rand creates a tensor filled with uniform samples in [0, 1).
func Rand(shape ...int) *Tensor {
	data := make([]float32, numel(shape))
	for i := range data {
		data[i] = rng.Float32()
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// RandN creates a tensor filled with standard normal samples.
func RandN(shape ...int) *Tensor {
	return Normal(0, 1, shape...)
}

// Normal creates a tensor filled with normal samples.
func Normal(mean, std float32, shape ...int) *Tensor {
	data := make([]float32, numel(shape))
	for i := range data {
		data[i] = mean + std*float32(rng.NormFloat64())
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// Ones creates a tensor filled with ones.
func Ones(shape ...int) *Tensor {
	data := make([]float32, numel(shape))
	for i := range data {
		data[i] = 1
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape ...int) *Tensor {
	return &Tensor{
		data:  make([]float32, numel(shape)),
		shape: shape,
	}
}

// NoGrad detaches a tensor from the graph that produced it.
func (t *Tensor) NoGrad() *Tensor {
	if t.op != nil {
		t.op = nil
	}
	return t
}

// Data returns the underlying row-major buffer.
func (t *Tensor) Data() []float32 {
	return t.data
}

func (t *Tensor) Shape() []int {
	return t.shape
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.data)
}

// At returns the element at the given index.
func (t *Tensor) At(indices ...int) float32 {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("tensor of shape %v indexed by %v", t.shape, indices))
	}
	offset := 0
	for i, idx := range indices {
		offset = offset*t.shape[i] + idx
	}
	return t.data[offset]
}

// Value returns the value of a scalar tensor.
func (t *Tensor) Value() float32 {
	if len(t.data) != 1 {
		panic(fmt.Sprintf("tensor of shape %v is not a scalar", t.shape))
	}
	return t.data[0]
}

func (t *Tensor) String() string {
	// Print scalar value
	if len(t.shape) == 0 {
		return fmt.Sprint(t.data[0])
	}

	builder := strings.Builder{}
	builder.WriteString("[")
	if len(t.data) <= 10 {
		for i := 0; i < len(t.data); i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			if i != len(t.data)-1 {
				builder.WriteString(", ")
			}
		}
	} else {
		for i := 0; i < 5; i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			builder.WriteString(", ")
		}
		builder.WriteString("..., ")
		for i := len(t.data) - 5; i < len(t.data); i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			if i != len(t.data)-1 {
				builder.WriteString(", ")
			}
		}
	}
	builder.WriteString("]")
	return builder.String()
}

// Backward computes gradients of t with respect to every tensor it depends on.
// Gradients are accumulated, so tensors used more than once receive the sum.
func (t *Tensor) Backward() {
	t.grad = Ones(t.shape...)
	if t.op == nil {
		return
	}

	// order ops so that an op runs after every op consuming its output
	var order []op
	visited := make(map[op]bool)
	var visit func(o op)
	visit = func(o op) {
		if visited[o] {
			return
		}
		visited[o] = true
		inputs, _ := o.inputsAndOutput()
		for _, x := range inputs {
			if x.op != nil {
				visit(x.op)
			}
		}
		order = append(order, o)
	}
	visit(t.op)

	for i := len(order) - 1; i >= 0; i-- {
		o := order[i]
		inputs, output := o.inputsAndOutput()
		if output.grad == nil {
			continue
		}
		grads := o.backward(output.grad)
		for j := range grads {
			if inputs[j].grad == nil {
				inputs[j].grad = grads[j]
			} else {
				inputs[j].grad.add(grads[j])
			}
		}
	}
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

func (t *Tensor) clone() *Tensor {
	newData := make([]float32, len(t.data))
	copy(newData, t.data)
	return &Tensor{
		data:  newData,
		shape: t.shape,
	}
}

func (t *Tensor) add(other *Tensor) *Tensor {
	wSize := numel(other.shape)
	for i := range t.data {
		t.data[i] += other.data[i%wSize]
	}
	return t
}

func (t *Tensor) sub(other *Tensor) *Tensor {
	wSize := numel(other.shape)
	for i := range t.data {
		t.data[i] -= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) mul(other *Tensor) *Tensor {
	wSize := numel(other.shape)
	for i := range t.data {
		t.data[i] *= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) div(other *Tensor) *Tensor {
	wSize := numel(other.shape)
	for i := range t.data {
		t.data[i] /= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) square() *Tensor {
	for i := range t.data {
		t.data[i] = t.data[i] * t.data[i]
	}
	return t
}

func (t *Tensor) exp() *Tensor {
	for i := range t.data {
		t.data[i] = math32.Exp(t.data[i])
	}
	return t
}

func (t *Tensor) log() *Tensor {
	for i := range t.data {
		t.data[i] = math32.Log(t.data[i])
	}
	return t
}

func (t *Tensor) neg() *Tensor {
	for i := range t.data {
		t.data[i] = -t.data[i]
	}
	return t
}

func (t *Tensor) maximum(other *Tensor) *Tensor {
	wSize := numel(other.shape)
	for i := range t.data {
		t.data[i] = math32.Max(t.data[i], other.data[i%wSize])
	}
	return t
}

// matMul multiplies two 2-D tensors, optionally transposing either operand.
func (t *Tensor) matMul(other *Tensor, transpose1, transpose2 bool) *Tensor {
	if len(t.shape) != 2 || len(other.shape) != 2 {
		panic(fmt.Sprintf("matMul requires 2-D tensors, but got %v and %v", t.shape, other.shape))
	}
	m, k := t.shape[0], t.shape[1]
	if transpose1 {
		m, k = k, m
	}
	k2, n := other.shape[0], other.shape[1]
	if transpose2 {
		k2, n = n, k2
	}
	if k != k2 {
		panic(fmt.Sprintf("matMul dimension mismatch: %v x %v (transpose %v, %v)", t.shape, other.shape, transpose1, transpose2))
	}
	a := func(i, p int) float32 {
		if transpose1 {
			return t.data[p*t.shape[1]+i]
		}
		return t.data[i*t.shape[1]+p]
	}
	b := func(p, j int) float32 {
		if transpose2 {
			return other.data[j*other.shape[1]+p]
		}
		return other.data[p*other.shape[1]+j]
	}
	y := Zeros(m, n)
	for i := 0; i < m; i++ {
		for p := 0; p < k; p++ {
			aip := a(i, p)
			for j := 0; j < n; j++ {
				y.data[i*n+j] += aip * b(p, j)
			}
		}
	}
	return y
}

func (t *Tensor) transpose() *Tensor {
	if len(t.shape) != 2 {
		panic(fmt.Sprintf("transpose requires a 2-D tensor, but got %v", t.shape))
	}
	rows, cols := t.shape[0], t.shape[1]
	y := Zeros(cols, rows)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			y.data[j*rows+i] = t.data[i*cols+j]
		}
	}
	return y
}

// ArgMax returns the index of the largest element of each row of a 2-D tensor.
// Ties resolve to the lowest index.
func (t *Tensor) ArgMax() []int {
	if len(t.shape) != 2 {
		panic(fmt.Sprintf("ArgMax requires a 2-D tensor, but got %v", t.shape))
	}
	rows, cols := t.shape[0], t.shape[1]
	indices := make([]int, rows)
	for i := 0; i < rows; i++ {
		best := t.data[i*cols]
		for j := 1; j < cols; j++ {
			if v := t.data[i*cols+j]; v > best {
				best = v
				indices[i] = j
			}
		}
	}
	return indices
}
