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
	"slices"

	"github.com/chewxy/math32"
)

type op interface {
	String() string
	forward(inputs ...*Tensor) *Tensor
	backward(dy *Tensor) []*Tensor
	inputsAndOutput() ([]*Tensor, *Tensor)
	setInputs(inputs ...*Tensor)
	setOutput(y *Tensor)
}

type base struct {
	inputs []*Tensor
	output *Tensor
}

func (b *base) inputsAndOutput() ([]*Tensor, *Tensor) {
	return b.inputs, b.output
}

func (b *base) setInputs(inputs ...*Tensor) {
	b.inputs = inputs
}

func (b *base) setOutput(y *Tensor) {
	b.output = y
}

func apply[T op](f T, inputs ...*Tensor) *Tensor {
	y := f.forward(inputs...)
	f.setInputs(inputs...)
	f.setOutput(y)
	y.op = f
	return y
}

// reduceSuffix sums dy into a tensor of the given suffix shape.
func reduceSuffix(dy *Tensor, shape []int, scale func(i int) float32) *Tensor {
	gx := Zeros(shape...)
	wSize := numel(shape)
	for i := range dy.data {
		gx.data[i%wSize] += dy.data[i] * scale(i)
	}
	return gx
}

type add struct {
	base
}

func (a *add) String() string {
	return "Add"
}

func (a *add) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.add(inputs[1])
	return y
}

func (a *add) backward(dy *Tensor) []*Tensor {
	gx0 := dy.clone()
	gx1 := reduceSuffix(dy, a.inputs[1].shape, func(int) float32 { return 1 })
	return []*Tensor{gx0, gx1}
}

type sub struct {
	base
}

func (s *sub) String() string {
	return "Sub"
}

func (s *sub) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.sub(inputs[1])
	return y
}

func (s *sub) backward(dy *Tensor) []*Tensor {
	gx0 := dy.clone()
	gx1 := reduceSuffix(dy, s.inputs[1].shape, func(int) float32 { return -1 })
	return []*Tensor{gx0, gx1}
}

type mul struct {
	base
}

func (m *mul) String() string {
	return "Mul"
}

func (m *mul) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.mul(inputs[1])
	return y
}

func (m *mul) backward(dy *Tensor) []*Tensor {
	gx0 := dy.clone()
	gx0.mul(m.inputs[1])
	gx1 := reduceSuffix(dy, m.inputs[1].shape, func(i int) float32 { return m.inputs[0].data[i] })
	return []*Tensor{gx0, gx1}
}

type div struct {
	base
}

func (d *div) String() string {
	return "Div"
}

func (d *div) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.div(inputs[1])
	return y
}

func (d *div) backward(dy *Tensor) []*Tensor {
	wSize := numel(d.inputs[1].shape)
	gx0 := Zeros(d.inputs[0].shape...)
	for i := range dy.data {
		gx0.data[i] = dy.data[i] / d.inputs[1].data[i%wSize]
	}
	gx1 := reduceSuffix(dy, d.inputs[1].shape, func(i int) float32 {
		x1 := d.inputs[1].data[i%wSize]
		return -d.inputs[0].data[i] / x1 / x1
	})
	return []*Tensor{gx0, gx1}
}

type neg struct {
	base
}

func (n *neg) String() string {
	return "Neg"
}

func (n *neg) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.neg()
	return y
}

func (n *neg) backward(dy *Tensor) []*Tensor {
	dx := dy.clone()
	dx.neg()
	return []*Tensor{dx}
}

type square struct {
	base
}

func (s *square) String() string {
	return "Square"
}

func (s *square) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.square()
	return y
}

func (s *square) backward(dy *Tensor) []*Tensor {
	dx := s.inputs[0].clone()
	dx.mul(dy)
	for i := range dx.data {
		dx.data[i] *= 2
	}
	return []*Tensor{dx}
}

type exp struct {
	base
}

func (e *exp) String() string {
	return "Exp"
}

func (e *exp) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.exp()
	return y
}

func (e *exp) backward(dy *Tensor) []*Tensor {
	dx := e.output.clone()
	dx.mul(dy)
	return []*Tensor{dx}
}

type log struct {
	base
}

func (l *log) String() string {
	return "Log"
}

func (l *log) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.log()
	return y
}

func (l *log) backward(dy *Tensor) []*Tensor {
	dx := dy.clone()
	dx.div(l.inputs[0])
	return []*Tensor{dx}
}

type sum struct {
	base
}

func (s *sum) String() string {
	return "Sum"
}

func (s *sum) forward(inputs ...*Tensor) *Tensor {
	y := NewScalar(0)
	for _, v := range inputs[0].data {
		y.data[0] += v
	}
	return y
}

func (s *sum) backward(dy *Tensor) []*Tensor {
	dx := Zeros(s.inputs[0].shape...)
	for i := range dx.data {
		dx.data[i] = dy.data[0]
	}
	return []*Tensor{dx}
}

type mean struct {
	base
}

func (m *mean) String() string {
	return "Mean"
}

func (m *mean) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	y := NewScalar(0)
	for _, v := range x.data {
		y.data[0] += v
	}
	y.data[0] /= float32(len(x.data))
	return y
}

func (m *mean) backward(dy *Tensor) []*Tensor {
	dx := Zeros(m.inputs[0].shape...)
	for i := range dx.data {
		dx.data[i] = dy.data[0] / float32(len(dx.data))
	}
	return []*Tensor{dx}
}

type rowSum struct {
	base
}

func (r *rowSum) String() string {
	return "RowSum"
}

func (r *rowSum) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	rows, cols := x.shape[0], x.shape[1]
	y := Zeros(rows)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			y.data[i] += x.data[i*cols+j]
		}
	}
	return y
}

func (r *rowSum) backward(dy *Tensor) []*Tensor {
	rows, cols := r.inputs[0].shape[0], r.inputs[0].shape[1]
	dx := Zeros(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dx.data[i*cols+j] = dy.data[i]
		}
	}
	return []*Tensor{dx}
}

type diag struct {
	base
}

func (d *diag) String() string {
	return "Diag"
}

func (d *diag) forward(inputs ...*Tensor) *Tensor {
	n := len(inputs[0].data)
	y := Zeros(n, n)
	for i, v := range inputs[0].data {
		y.data[i*n+i] = v
	}
	return y
}

func (d *diag) backward(dy *Tensor) []*Tensor {
	n := len(d.inputs[0].data)
	dx := Zeros(n)
	for i := 0; i < n; i++ {
		dx.data[i] = dy.data[i*n+i]
	}
	return []*Tensor{dx}
}

type trace struct {
	base
}

func (t *trace) String() string {
	return "Trace"
}

func (t *trace) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	n := x.shape[0]
	y := NewScalar(0)
	for i := 0; i < n; i++ {
		y.data[0] += x.data[i*n+i]
	}
	return y
}

func (t *trace) backward(dy *Tensor) []*Tensor {
	n := t.inputs[0].shape[0]
	dx := Zeros(n, n)
	for i := 0; i < n; i++ {
		dx.data[i*n+i] = dy.data[0]
	}
	return []*Tensor{dx}
}

type matMul struct {
	base
}

func (m *matMul) String() string {
	return "MatMul"
}

func (m *matMul) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].matMul(inputs[1], false, false)
}

func (m *matMul) backward(dy *Tensor) []*Tensor {
	dx0 := dy.matMul(m.inputs[1], false, true)
	dx1 := m.inputs[0].matMul(dy, true, false)
	return []*Tensor{dx0, dx1}
}

type transpose struct {
	base
}

func (t *transpose) String() string {
	return "Transpose"
}

func (t *transpose) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].transpose()
}

func (t *transpose) backward(dy *Tensor) []*Tensor {
	return []*Tensor{dy.transpose()}
}

type concat struct {
	base
}

func (c *concat) String() string {
	return "Concat"
}

func (c *concat) forward(inputs ...*Tensor) *Tensor {
	rows, cols := 0, inputs[0].shape[1]
	data := make([]float32, 0)
	for _, x := range inputs {
		rows += x.shape[0]
		data = append(data, x.data...)
	}
	return NewTensor(data, rows, cols)
}

func (c *concat) backward(dy *Tensor) []*Tensor {
	grads := make([]*Tensor, len(c.inputs))
	offset := 0
	for i, x := range c.inputs {
		g := Zeros(x.shape...)
		copy(g.data, dy.data[offset:offset+len(x.data)])
		offset += len(x.data)
		grads[i] = g
	}
	return grads
}

type selectOp struct {
	base
	index int
}

func (s *selectOp) String() string {
	return "Select"
}

func (s *selectOp) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	b, k, e := x.shape[0], x.shape[1], x.shape[2]
	y := Zeros(b, e)
	for i := 0; i < b; i++ {
		copy(y.data[i*e:(i+1)*e], x.data[(i*k+s.index)*e:(i*k+s.index+1)*e])
	}
	return y
}

func (s *selectOp) backward(dy *Tensor) []*Tensor {
	x := s.inputs[0]
	b, k, e := x.shape[0], x.shape[1], x.shape[2]
	dx := Zeros(x.shape...)
	for i := 0; i < b; i++ {
		copy(dx.data[(i*k+s.index)*e:(i*k+s.index+1)*e], dy.data[i*e:(i+1)*e])
	}
	return []*Tensor{dx}
}

type where struct {
	base
	mask []bool
}

func (w *where) String() string {
	return "Where"
}

func (w *where) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	y := Zeros(x.shape...)
	for i, keep := range w.mask {
		if keep {
			y.data[i] = x.data[i]
		}
	}
	return y
}

func (w *where) backward(dy *Tensor) []*Tensor {
	dx := Zeros(dy.shape...)
	for i, keep := range w.mask {
		if keep {
			dx.data[i] = dy.data[i]
		}
	}
	return []*Tensor{dx}
}

type pairwiseDistance struct {
	base
}

func (p *pairwiseDistance) String() string {
	return "PairwiseDistance"
}

func (p *pairwiseDistance) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	n, e := x.shape[0], x.shape[1]
	y := Zeros(n, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var d float32
			for k := 0; k < e; k++ {
				diff := x.data[i*e+k] - x.data[j*e+k]
				d += diff * diff
			}
			y.data[i*n+j] = d
			y.data[j*n+i] = d
		}
	}
	return y
}

func (p *pairwiseDistance) backward(dy *Tensor) []*Tensor {
	x := p.inputs[0]
	n, e := x.shape[0], x.shape[1]
	dx := Zeros(n, e)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			g := 2 * (dy.data[i*n+j] + dy.data[j*n+i])
			if g == 0 {
				continue
			}
			for k := 0; k < e; k++ {
				dx.data[i*e+k] += g * (x.data[i*e+k] - x.data[j*e+k])
			}
		}
	}
	return []*Tensor{dx}
}

type relu struct {
	base
}

func (r *relu) String() string {
	return "ReLU"
}

func (r *relu) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.maximum(NewScalar(0))
	return y
}

func (r *relu) backward(dy *Tensor) []*Tensor {
	dx := dy.clone()
	for i := range dx.data {
		if r.inputs[0].data[i] <= 0 {
			dx.data[i] = 0
		}
	}
	return []*Tensor{dx}
}

type softmaxCrossEntropy struct {
	base
	probs *Tensor
}

func (s *softmaxCrossEntropy) String() string {
	return "SoftmaxCrossEntropy"
}

func (s *softmaxCrossEntropy) forward(inputs ...*Tensor) *Tensor {
	logits, target := inputs[0], inputs[1]
	b, c := logits.shape[0], logits.shape[1]
	s.probs = Zeros(b, c)
	y := NewScalar(0)
	for i := 0; i < b; i++ {
		row := logits.data[i*c : (i+1)*c]
		maxLogit := row[0]
		for _, v := range row {
			maxLogit = math32.Max(maxLogit, v)
		}
		var z float32
		for j, v := range row {
			s.probs.data[i*c+j] = math32.Exp(v - maxLogit)
			z += s.probs.data[i*c+j]
		}
		logZ := math32.Log(z) + maxLogit
		for j, v := range row {
			s.probs.data[i*c+j] /= z
			y.data[0] -= target.data[i*c+j] * (v - logZ)
		}
	}
	y.data[0] /= float32(b)
	return y
}

func (s *softmaxCrossEntropy) backward(dy *Tensor) []*Tensor {
	logits, target := s.inputs[0], s.inputs[1]
	b, c := logits.shape[0], logits.shape[1]
	dx := Zeros(b, c)
	for i := 0; i < b; i++ {
		var total float32
		for j := 0; j < c; j++ {
			total += target.data[i*c+j]
		}
		for j := 0; j < c; j++ {
			dx.data[i*c+j] = dy.data[0] * (total*s.probs.data[i*c+j] - target.data[i*c+j]) / float32(b)
		}
	}
	// targets are labels, not parameters
	return []*Tensor{dx, Zeros(target.shape...)}
}

func checkSuffix(x0, x1 *Tensor) (*Tensor, *Tensor) {
	if len(x0.shape) < len(x1.shape) {
		x0, x1 = x1, x0
	}
	for i := 0; i < len(x1.shape); i++ {
		if x0.shape[len(x0.shape)-len(x1.shape)+i] != x1.shape[i] {
			panic("the shape of the second tensor must be a suffix sequence of the shape of the first tensor")
		}
	}
	return x0, x1
}

func check2D(name string, xs ...*Tensor) {
	for _, x := range xs {
		if len(x.shape) != 2 {
			panic(fmt.Sprintf("%s requires 2-D tensors, but got %v", name, x.shape))
		}
	}
}

// Add returns the element-wise sum of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Add(x0, x1 *Tensor) *Tensor {
	x0, x1 = checkSuffix(x0, x1)
	return apply(&add{}, x0, x1)
}

// Sub returns the element-wise difference of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Sub(x0, x1 *Tensor) *Tensor {
	if len(x0.shape) < len(x1.shape) {
		// a - b = -(b - a) keeps the broadcast operand second
		return Neg(Sub(x1, x0))
	}
	x0, x1 = checkSuffix(x0, x1)
	return apply(&sub{}, x0, x1)
}

// Mul returns the element-wise product of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Mul(x0, x1 *Tensor) *Tensor {
	x0, x1 = checkSuffix(x0, x1)
	return apply(&mul{}, x0, x1)
}

// Div returns the element-wise division of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Div(x0, x1 *Tensor) *Tensor {
	if len(x0.shape) < len(x1.shape) {
		panic("the shape of the divisor must be a suffix sequence of the shape of the dividend")
	}
	x0, x1 = checkSuffix(x0, x1)
	return apply(&div{}, x0, x1)
}

// Neg returns the element-wise negation of a tensor.
func Neg(x *Tensor) *Tensor {
	return apply(&neg{}, x)
}

// Square returns the element-wise square of a tensor.
func Square(x *Tensor) *Tensor {
	return apply(&square{}, x)
}

// Exp returns the element-wise exponential of a tensor.
func Exp(x *Tensor) *Tensor {
	return apply(&exp{}, x)
}

// Log returns the element-wise natural logarithm of a tensor.
func Log(x *Tensor) *Tensor {
	return apply(&log{}, x)
}

// Sum returns the sum of all elements in a tensor.
func Sum(x *Tensor) *Tensor {
	return apply(&sum{}, x)
}

// Mean returns the mean of all elements in a tensor.
func Mean(x *Tensor) *Tensor {
	return apply(&mean{}, x)
}

// RowSum sums each row of a 2-D tensor.
func RowSum(x *Tensor) *Tensor {
	check2D("RowSum", x)
	return apply(&rowSum{}, x)
}

// Diag builds a square matrix with x on its diagonal.
func Diag(x *Tensor) *Tensor {
	if len(x.shape) != 1 {
		panic(fmt.Sprintf("Diag requires a 1-D tensor, but got %v", x.shape))
	}
	return apply(&diag{}, x)
}

// Trace returns the sum of the diagonal of a square matrix.
func Trace(x *Tensor) *Tensor {
	check2D("Trace", x)
	if x.shape[0] != x.shape[1] {
		panic(fmt.Sprintf("Trace requires a square matrix, but got %v", x.shape))
	}
	return apply(&trace{}, x)
}

func MatMul(x, y *Tensor) *Tensor {
	check2D("MatMul", x, y)
	if x.shape[1] != y.shape[0] {
		panic(fmt.Sprintf("MatMul dimension mismatch: %v x %v", x.shape, y.shape))
	}
	return apply(&matMul{}, x, y)
}

func Transpose(x *Tensor) *Tensor {
	check2D("Transpose", x)
	return apply(&transpose{}, x)
}

// Concat stacks 2-D tensors with the same number of columns along rows.
func Concat(xs ...*Tensor) *Tensor {
	check2D("Concat", xs...)
	for _, x := range xs[1:] {
		if x.shape[1] != xs[0].shape[1] {
			panic(fmt.Sprintf("Concat requires equal columns, but got %v and %v", xs[0].shape, x.shape))
		}
	}
	return apply(&concat{}, xs...)
}

// Select returns x[:, index, :] of a 3-D tensor.
func Select(x *Tensor, index int) *Tensor {
	if len(x.shape) != 3 {
		panic(fmt.Sprintf("Select requires a 3-D tensor, but got %v", x.shape))
	}
	if index < 0 || index >= x.shape[1] {
		panic(fmt.Sprintf("Select index %d out of range for %v", index, x.shape))
	}
	return apply(&selectOp{index: index}, x)
}

// Where keeps the entries of x where mask is nonzero and sets the rest to
// exactly 0, even if they are infinite or NaN. No gradient flows into mask.
func Where(mask, x *Tensor) *Tensor {
	if !slices.Equal(mask.shape, x.shape) {
		panic(fmt.Sprintf("Where mask shape %v does not match %v", mask.shape, x.shape))
	}
	keep := make([]bool, len(mask.data))
	for i, v := range mask.data {
		keep[i] = v != 0
	}
	return apply(&where{mask: keep}, x)
}

// PairwiseDistance returns the matrix of squared Euclidean distances between the rows of x.
func PairwiseDistance(x *Tensor) *Tensor {
	check2D("PairwiseDistance", x)
	return apply(&pairwiseDistance{}, x)
}

func ReLu(x *Tensor) *Tensor {
	return apply(&relu{}, x)
}

// SoftmaxCrossEntropy returns the mean cross entropy between softmax(logits) and
// target distributions. No gradient flows into target.
func SoftmaxCrossEntropy(logits, target *Tensor) *Tensor {
	check2D("SoftmaxCrossEntropy", logits, target)
	if logits.shape[0] != target.shape[0] || logits.shape[1] != target.shape[1] {
		panic(fmt.Sprintf("SoftmaxCrossEntropy shape mismatch: %v and %v", logits.shape, target.shape))
	}
	return apply(&softmaxCrossEntropy{}, logits, target)
}
