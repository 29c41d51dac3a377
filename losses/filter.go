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
	"slices"

	"github.com/chewxy/math32"
	"github.com/dage-io/dage/common/nn"
	"github.com/dage-io/dage/common/util"
	"modernc.org/mathutil"
)

// MaskedDistances returns the squared Euclidean distances between rows of
// concat(xs, xt) restricted to w and to wp. Entries outside a mask are 0.
func MaskedDistances(w, wp *Mask, xs, xt *nn.Tensor) (*nn.Tensor, *nn.Tensor, error) {
	x, err := combine(xs, xt)
	if err != nil {
		return nil, nil, err
	}
	if x.Shape()[0] != w.Size() || x.Shape()[0] != wp.Size() {
		return nil, nil, dimensionMismatch("%d embeddings but masks of size %d and %d", x.Shape()[0], w.Size(), wp.Size())
	}
	dist := nn.PairwiseDistance(x)
	return nn.Where(w.Tensor(), dist), nn.Where(wp.Tensor(), dist), nil
}

// combine stacks source embeddings on top of target embeddings.
func combine(xs, xt *nn.Tensor) (*nn.Tensor, error) {
	if len(xs.Shape()) != 2 || len(xt.Shape()) != 2 {
		return nil, dimensionMismatch("embeddings must be 2-D, but got %v and %v", xs.Shape(), xt.Shape())
	}
	if !slices.Equal(xs.Shape(), xt.Shape()) {
		return nil, dimensionMismatch("source embeddings %v but target embeddings %v", xs.Shape(), xt.Shape())
	}
	return nn.Concat(xs, xt), nil
}

// Apply filters each row of a masked distance matrix. Unselected entries become
// 0 and selected entries keep their value and gradient. FilterAll returns d
// itself.
func (f FilterType) Apply(d *nn.Tensor, param float64) *nn.Tensor {
	switch f {
	case FilterKNN:
		return nn.Where(knnMask(d, int(param)), d)
	case FilterKFN:
		return nn.Where(kfnMask(d, int(param)), d)
	case FilterEpsilon:
		return nn.Where(epsilonMask(d, float32(param)), d)
	default:
		return d
	}
}

// knnMask selects the k largest entries of each row that are positive.
func knnMask(d *nn.Tensor, k int) *nn.Tensor {
	return rankMask(d, k, func(v float32) float32 { return -v })
}

// kfnMask selects the k smallest positive entries of each row. Zeros rank last.
func kfnMask(d *nn.Tensor, k int) *nn.Tensor {
	return rankMask(d, k, func(v float32) float32 {
		if v == 0 {
			return math32.MaxFloat32
		}
		return v
	})
}

// rankMask keeps the k entries of each row with the smallest key, ties going to
// the lower column, then drops entries that are not positive.
func rankMask(d *nn.Tensor, k int, key func(float32) float32) *nn.Tensor {
	rows, cols := d.Shape()[0], d.Shape()[1]
	k = mathutil.Max(0, mathutil.Min(k, cols))
	data := d.Data()
	mask := make([]float32, len(data))
	for i := 0; i < rows; i++ {
		row := data[i*cols : (i+1)*cols]
		order := util.RangeInt(cols)
		slices.SortStableFunc(order, func(a, b int) int {
			ka, kb := key(row[a]), key(row[b])
			switch {
			case ka < kb:
				return -1
			case ka > kb:
				return 1
			default:
				return 0
			}
		})
		for _, j := range order[:k] {
			if row[j] > 0 {
				mask[i*cols+j] = 1
			}
		}
	}
	return nn.NewTensor(mask, rows, cols)
}

// epsilonMask selects entries below eps.
func epsilonMask(d *nn.Tensor, eps float32) *nn.Tensor {
	data := d.Data()
	mask := make([]float32, len(data))
	for i, v := range data {
		if v < eps {
			mask[i] = 1
		}
	}
	return nn.NewTensor(mask, d.Shape()...)
}
