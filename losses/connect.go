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

package losses

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/dage-io/dage/common/nn"
	"github.com/juju/errors"
)

// ErrDimensionMismatch is the type of errors raised when inputs of a loss
// disagree in shape.
const ErrDimensionMismatch = errors.ConstError("dimension mismatch")

func dimensionMismatch(format string, args ...any) error {
	return errors.WithType(errors.Errorf(format, args...), ErrDimensionMismatch)
}

// Mask is a square boolean matrix over the combined batch. Rows and columns
// [0, B) index source samples and [B, 2B) index target samples.
type Mask struct {
	n    int
	bits *bitset.BitSet
}

func NewMask(n int) *Mask {
	return &Mask{n: n, bits: bitset.New(uint(n * n))}
}

// Size returns the number of rows.
func (m *Mask) Size() int {
	return m.n
}

func (m *Mask) Get(i, j int) bool {
	return m.bits.Test(uint(i*m.n + j))
}

func (m *Mask) Set(i, j int) {
	m.bits.Set(uint(i*m.n + j))
}

// Count returns the number of true entries.
func (m *Mask) Count() int {
	return int(m.bits.Count())
}

// Intersects reports whether both masks are true at some position.
func (m *Mask) Intersects(other *Mask) bool {
	return m.bits.IntersectionCardinality(other.bits) > 0
}

// Tensor returns the mask as a constant n×n tensor of zeros and ones.
func (m *Mask) Tensor() *nn.Tensor {
	data := make([]float32, m.n*m.n)
	for i, e := m.bits.NextSet(0); e; i, e = m.bits.NextSet(i + 1) {
		data[i] = 1
	}
	return nn.NewTensor(data, m.n, m.n)
}

// Connect builds the connection mask W of same-class pairs and the penalty
// mask Wp of different-class pairs for a batch with source labels ys and
// target labels yt. The masks never share a true entry.
func Connect(kind ConnectionType, ys, yt []int) (w, wp *Mask, err error) {
	if len(ys) != len(yt) {
		return nil, nil, dimensionMismatch("%d source labels but %d target labels", len(ys), len(yt))
	}
	switch kind {
	case ConnectionAll:
		w, wp = connectAll(ys, yt)
	case ConnectionSourceTarget:
		w, wp = connectSourceTarget(ys, yt)
	case ConnectionSourceTargetPair:
		w, wp = connectSourceTargetPair(ys, yt)
	default:
		return nil, nil, errors.NotValidf("connection type %v", kind)
	}
	return w, wp, nil
}

// connectAll connects every pair including each sample with itself.
func connectAll(ys, yt []int) (w, wp *Mask) {
	labels := make([]int, 0, len(ys)+len(yt))
	labels = append(labels, ys...)
	labels = append(labels, yt...)
	n := len(labels)
	w, wp = NewMask(n), NewMask(n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if labels[i] == labels[j] {
				w.Set(i, j)
			} else {
				wp.Set(i, j)
			}
		}
	}
	return
}

func connectSourceTarget(ys, yt []int) (w, wp *Mask) {
	b := len(ys)
	w, wp = NewMask(2*b), NewMask(2*b)
	for i := 0; i < b; i++ {
		for j := 0; j < b; j++ {
			m := wp
			if ys[i] == yt[j] {
				m = w
			}
			m.Set(i, b+j)
			m.Set(b+j, i)
		}
	}
	return
}

func connectSourceTargetPair(ys, yt []int) (w, wp *Mask) {
	b := len(ys)
	w, wp = NewMask(2*b), NewMask(2*b)
	for i := 0; i < b; i++ {
		m := wp
		if ys[i] == yt[i] {
			m = w
		}
		m.Set(i, b+i)
		m.Set(b+i, i)
	}
	return
}
