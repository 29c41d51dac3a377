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
	"math"
	"testing"

	"github.com/chewxy/math32"
	"github.com/dage-io/dage/common/nn"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

var (
	testYs = []int{0, 1, 0, 2}
	testYt = []int{1, 0, 0, 2}
)

func testEmbeddings() (xs, xt *nn.Tensor) {
	xs = nn.NewTensor([]float32{
		0.1, 0.2, 0.3,
		0.9, -0.4, 0.0,
		0.2, 0.1, 0.5,
		-0.6, 0.8, 0.3,
	}, 4, 3)
	xt = nn.NewTensor([]float32{
		0.6, 0.0, 0.3,
		0.0, 0.4, 0.4,
		0.3, 0.0, 0.2,
		-0.5, 0.7, 0.6,
	}, 4, 3)
	return
}

// referenceLoss computes the loss in float64 with gonum from explicit weights.
func referenceLoss(xs, xt *nn.Tensor, w, wp func(i, j int, d float64) float64) float64 {
	b, e := xs.Shape()[0], xs.Shape()[1]
	n := 2 * b
	x := mat.NewDense(n, e, nil)
	for i := 0; i < b; i++ {
		for j := 0; j < e; j++ {
			x.Set(i, j, float64(xs.At(i, j)))
			x.Set(b+i, j, float64(xt.At(i, j)))
		}
	}
	laplacian := func(weight func(i, j int, d float64) float64) *mat.Dense {
		l := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			var degree float64
			for j := 0; j < n; j++ {
				diff := mat.NewVecDense(e, nil)
				diff.SubVec(x.RowView(i), x.RowView(j))
				v := weight(i, j, mat.Dot(diff, diff))
				degree += v
				l.Set(i, j, -v)
			}
			l.Set(i, i, l.At(i, i)+degree)
		}
		return l
	}
	quadratic := func(l *mat.Dense) float64 {
		var tmp, out mat.Dense
		tmp.Mul(x.T(), l)
		out.Mul(&tmp, x)
		return mat.Trace(&out)
	}
	return quadratic(laplacian(w)) / quadratic(laplacian(wp))
}

func TestPairLossReference(t *testing.T) {
	xs, xt := testEmbeddings()
	labels := append(append([]int{}, testYs...), testYt...)
	across := func(i, j int) bool { return (i < 4) != (j < 4) }

	loss, err := NewDAGELoss(Config{Connection: ConnectionSourceTarget, Weight: WeightGaussian})
	assert.NoError(t, err)
	value, err := loss.PairLoss(testYs, testYt, xs, xt)
	assert.NoError(t, err)
	expected := referenceLoss(xs, xt,
		func(i, j int, d float64) float64 {
			if across(i, j) && labels[i] == labels[j] {
				return math.Exp(-d)
			}
			return 0
		},
		func(i, j int, d float64) float64 {
			if across(i, j) && labels[i] != labels[j] {
				return math.Exp(-d)
			}
			return 0
		})
	assert.InEpsilon(t, expected, value.Value(), 1e-4)

	loss, err = NewDAGELoss(Presets["dage_full"])
	assert.NoError(t, err)
	value, err = loss.PairLoss(testYs, testYt, xs, xt)
	assert.NoError(t, err)
	expected = referenceLoss(xs, xt,
		func(i, j int, d float64) float64 {
			if labels[i] == labels[j] {
				return 1
			}
			return 0
		},
		func(i, j int, d float64) float64 {
			if labels[i] != labels[j] {
				return 1
			}
			return 0
		})
	assert.InEpsilon(t, expected, value.Value(), 1e-4)
}

func TestFastPath(t *testing.T) {
	xs, xt := testEmbeddings()

	// distinct embeddings across domains give identical weights
	loss, err := NewDAGELoss(Presets["dage_full_across"])
	assert.NoError(t, err)
	_, w, wp, err := loss.weights(testYs, testYt, xs, xt, true)
	assert.NoError(t, err)
	_, w2, wp2, err := loss.weights(testYs, testYt, xs, xt, false)
	assert.NoError(t, err)
	assert.Equal(t, w.Data(), w2.Data())
	assert.Equal(t, wp.Data(), wp2.Data())

	// self-pairs of ALL differ only on the diagonal, which cancels in D - W
	loss, err = NewDAGELoss(Presets["dage_full"])
	assert.NoError(t, err)
	_, w, wp, err = loss.weights(testYs, testYt, xs, xt, true)
	assert.NoError(t, err)
	_, w2, wp2, err = loss.weights(testYs, testYt, xs, xt, false)
	assert.NoError(t, err)
	assert.Equal(t, float32(1), w.At(0, 0))
	assert.Equal(t, float32(0), w2.At(0, 0))
	assert.Equal(t, laplacian(w).Data(), laplacian(w2).Data())
	assert.Equal(t, laplacian(wp).Data(), laplacian(wp2).Data())
	x := nn.Concat(xs, xt)
	assert.InEpsilon(t, traceRatio(x, w, wp).Value(), traceRatio(x, w2, wp2).Value(), 1e-6)
}

func TestLoss(t *testing.T) {
	xs, xt := testEmbeddings()
	oneHot := func(ys, yt []int, classes int) *nn.Tensor {
		data := make([]float32, len(ys)*2*classes)
		for i := range ys {
			data[i*2*classes+ys[i]] = 1
			data[i*2*classes+classes+yt[i]] = 1
		}
		return nn.NewTensor(data, len(ys), 2, classes)
	}
	embeddings := make([]float32, 0, 24)
	for i := 0; i < 4; i++ {
		embeddings = append(embeddings, xs.Data()[i*3:(i+1)*3]...)
		embeddings = append(embeddings, xt.Data()[i*3:(i+1)*3]...)
	}
	yPred := nn.NewTensor(embeddings, 4, 2, 3)

	for name, config := range Presets {
		loss, err := NewDAGELoss(config)
		assert.NoError(t, err)
		expected, err := loss.PairLoss(testYs, testYt, xs, xt)
		assert.NoError(t, err)
		actual, err := loss.Loss(oneHot(testYs, testYt, 3), yPred)
		assert.NoError(t, err, name)
		assert.Equal(t, expected.Value(), actual.Value(), name)
	}

	loss, err := NewDAGELoss(Presets["dage_full"])
	assert.NoError(t, err)
	_, err = loss.Loss(nn.Zeros(4, 3), yPred)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	_, err = loss.Loss(oneHot([]int{0, 1}, []int{0, 1}, 3), yPred)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	_, err = loss.PairLoss([]int{0, 1}, []int{0, 1}, xs, xt)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestPairLossGradient(t *testing.T) {
	xs, xt := testEmbeddings()
	loss, err := NewDAGELoss(Config{Connection: ConnectionSourceTarget, Weight: WeightGaussian})
	assert.NoError(t, err)
	value, err := loss.PairLoss(testYs, testYt, xs, xt)
	assert.NoError(t, err)
	value.Backward()

	const h = 1e-3
	for _, x := range []*nn.Tensor{xs, xt} {
		assert.NotNil(t, x.Grad())
		for i := range x.Data() {
			origin := x.Data()[i]
			x.Data()[i] = origin + h
			plus, _ := loss.PairLoss(testYs, testYt, xs, xt)
			x.Data()[i] = origin - h
			minus, _ := loss.PairLoss(testYs, testYt, xs, xt)
			x.Data()[i] = origin
			numerical := (plus.Value() - minus.Value()) / (2 * h)
			analytical := x.Grad().Data()[i]
			assert.InDelta(t, numerical, analytical, 1e-2+1e-2*math.Abs(float64(analytical)))
		}
	}
}

func TestSourceTargetPairScenario(t *testing.T) {
	xs := nn.NewTensor([]float32{0, 0, 1, 0}, 2, 2)
	xt := nn.NewTensor([]float32{0, 1, 1, 1}, 2, 2)
	loss, err := NewDAGELoss(Presets["dage_pair_across"])
	assert.NoError(t, err)
	w, wp, err := loss.Weights([]int{0, 1}, []int{1, 0}, xs, xt)
	assert.NoError(t, err)
	assert.Equal(t, make([]float32, 16), w.Data())
	assert.Equal(t, []float32{
		0, 0, 1, 0,
		0, 0, 0, 1,
		1, 0, 0, 0,
		0, 1, 0, 0,
	}, wp.Data())
	// nothing is pulled together
	value, err := loss.PairLoss([]int{0, 1}, []int{1, 0}, xs, xt)
	assert.NoError(t, err)
	assert.Zero(t, value.Value())
}

func TestDegenerateBatch(t *testing.T) {
	xs, xt := testEmbeddings()
	loss, err := NewDAGELoss(Presets["dage_full"])
	assert.NoError(t, err)
	// a single class leaves the penalty graph empty
	value, err := loss.PairLoss([]int{1, 1, 1, 1}, []int{1, 1, 1, 1}, xs, xt)
	assert.NoError(t, err)
	v := value.Value()
	assert.True(t, math32.IsInf(v, 0) || math32.IsNaN(v))
}

func TestAttentionLoss(t *testing.T) {
	xs, xt := testEmbeddings()
	loss, err := NewDAGELoss(Presets["dage_full_across"])
	assert.NoError(t, err)
	w, wp, err := loss.Weights(testYs, testYt, xs, xt)
	assert.NoError(t, err)
	expected, err := loss.PairLoss(testYs, testYt, xs, xt)
	assert.NoError(t, err)

	attention := NewDAGEAttentionLoss()
	// labels are ignored
	actual, err := attention(nil, nn.Zeros(1), xs, xt, w, wp)
	assert.NoError(t, err)
	assert.Equal(t, expected.Value(), actual.Value())

	// weights receive gradients
	a := nn.Rand(8, 8)
	ap := nn.Rand(8, 8)
	value, err := attention(nil, nil, xs, xt, a, ap)
	assert.NoError(t, err)
	value.Backward()
	assert.NotNil(t, a.Grad())
	assert.NotNil(t, ap.Grad())

	_, err = attention(nil, nil, xs, xt, nn.Rand(4, 4), ap)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestMakeDAGELoss(t *testing.T) {
	xs, xt := testEmbeddings()
	yTrue := nn.NewTensor([]float32{1, 0, 0, 1, 0, 1, 1, 0}, 2, 2, 2)
	yPred := nn.Concat(xs, xt)
	yPred = nn.NewTensor(yPred.Data()[:12], 2, 2, 3)

	byName, err := MakeDAGELoss("source_target", "Gaussian", "knn", "EPSILON", 1, 5)
	assert.NoError(t, err)
	byEnum, err := MakeDAGELoss(ConnectionSourceTarget, WeightGaussian, FilterKNN, FilterEpsilon, 1, 5)
	assert.NoError(t, err)
	v1, err := byName(yTrue, yPred)
	assert.NoError(t, err)
	v2, err := byEnum(yTrue, yPred)
	assert.NoError(t, err)
	assert.Equal(t, v1.Value(), v2.Value())

	_, err = MakeDAGELoss("everything", "INDICATOR", "ALL", "ALL", 0, 0)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = MakeDAGELoss("ALL", "BOX", "ALL", "ALL", 0, 0)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = MakeDAGELoss("ALL", "INDICATOR", "KNN", "ALL", 0, 0)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = MakeDAGELoss("ALL", "INDICATOR", "ALL", "KFN", 0, 1.5)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = MakeDAGELoss(1, "INDICATOR", "ALL", "ALL", 0, 0)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = MakeDAGELoss("ALL", WeightIndicator, FilterKNN, "ALL", 2, 0)
	assert.NoError(t, err)
}
