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
	"github.com/dage-io/dage/common/nn"
	"github.com/juju/errors"
)

// LossFunc computes a loss from one-hot labels of shape (B, 2, C) and
// embeddings of shape (B, 2, E). Index 0 of axis 1 is the source stream and
// index 1 is the target stream.
type LossFunc func(yTrue, yPred *nn.Tensor) (*nn.Tensor, error)

// AttentionLossFunc computes a loss from embeddings and externally supplied
// weight matrices. Labels are accepted for signature compatibility and ignored.
type AttentionLossFunc func(lblSrc, lblTgt, xs, xt, a, ap *nn.Tensor) (*nn.Tensor, error)

// DAGELoss is the graph embedding loss
//
//	trace(X^T L X) / trace(X^T Lp X)
//
// where X stacks source and target embeddings, L is the Laplacian of the
// weighted same-class graph and Lp the Laplacian of the weighted penalty graph.
type DAGELoss struct {
	config Config
}

// NewDAGELoss validates the configuration and creates a loss.
func NewDAGELoss(config Config) (*DAGELoss, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &DAGELoss{config: config}, nil
}

// MakeDAGELoss creates a loss function from enum values or their names.
func MakeDAGELoss(connection, weight, filter, penaltyFilter any, filterParam, penaltyFilterParam float64) (LossFunc, error) {
	var (
		config Config
		err    error
	)
	if config.Connection, err = toEnum(connection, ParseConnectionType); err != nil {
		return nil, err
	}
	if config.Weight, err = toEnum(weight, ParseWeightType); err != nil {
		return nil, err
	}
	if config.Filter, err = toEnum(filter, ParseFilterType); err != nil {
		return nil, err
	}
	if config.PenaltyFilter, err = toEnum(penaltyFilter, ParseFilterType); err != nil {
		return nil, err
	}
	config.FilterParam = filterParam
	config.PenaltyFilterParam = penaltyFilterParam
	loss, err := NewDAGELoss(config)
	if err != nil {
		return nil, err
	}
	return loss.Loss, nil
}

func toEnum[T ConnectionType | WeightType | FilterType](v any, parse func(string) (T, error)) (T, error) {
	switch v := v.(type) {
	case T:
		return v, nil
	case string:
		return parse(v)
	default:
		var zero T
		return zero, errors.NotValidf("%v of type %T (expected string or %T)", v, v, zero)
	}
}

func (l *DAGELoss) Config() Config {
	return l.config
}

// Loss decodes labels by arg-max and computes the loss of the batch.
func (l *DAGELoss) Loss(yTrue, yPred *nn.Tensor) (*nn.Tensor, error) {
	ts, tp := yTrue.Shape(), yPred.Shape()
	if len(ts) != 3 || len(tp) != 3 || ts[1] != 2 || tp[1] != 2 {
		return nil, dimensionMismatch("labels %v and embeddings %v must have shape (B, 2, ·)", ts, tp)
	}
	if ts[0] != tp[0] {
		return nil, dimensionMismatch("%d labels but %d embeddings", ts[0], tp[0])
	}
	ys := nn.Select(yTrue, 0).ArgMax()
	yt := nn.Select(yTrue, 1).ArgMax()
	return l.PairLoss(ys, yt, nn.Select(yPred, 0), nn.Select(yPred, 1))
}

// PairLoss computes the loss of source embeddings xs labelled ys and target
// embeddings xt labelled yt. A batch without any penalty weight has a zero
// denominator and yields a non-finite loss.
func (l *DAGELoss) PairLoss(ys, yt []int, xs, xt *nn.Tensor) (*nn.Tensor, error) {
	x, w, wp, err := l.weights(ys, yt, xs, xt, l.config.fastPath())
	if err != nil {
		return nil, err
	}
	return traceRatio(x, w, wp), nil
}

// Weights returns the weight matrices W and Wp of a batch.
func (l *DAGELoss) Weights(ys, yt []int, xs, xt *nn.Tensor) (w, wp *nn.Tensor, err error) {
	_, w, wp, err = l.weights(ys, yt, xs, xt, l.config.fastPath())
	return
}

func (l *DAGELoss) weights(ys, yt []int, xs, xt *nn.Tensor, fastPath bool) (x, w, wp *nn.Tensor, err error) {
	if xs.Shape()[0] != len(ys) {
		return nil, nil, nil, dimensionMismatch("%d source labels but %d source embeddings", len(ys), xs.Shape()[0])
	}
	if x, err = combine(xs, xt); err != nil {
		return nil, nil, nil, err
	}
	connection, penalty, err := Connect(l.config.Connection, ys, yt)
	if err != nil {
		return nil, nil, nil, err
	}
	if fastPath {
		return x, connection.Tensor(), penalty.Tensor(), nil
	}
	dist, distPenalty, err := MaskedDistances(connection, penalty, xs, xt)
	if err != nil {
		return nil, nil, nil, err
	}
	w = l.config.Weight.Apply(l.config.Filter.Apply(dist, l.config.FilterParam))
	wp = l.config.Weight.Apply(l.config.PenaltyFilter.Apply(distPenalty, l.config.PenaltyFilterParam))
	return x, w, wp, nil
}

// NewDAGEAttentionLoss creates a loss that uses a and ap as the weight
// matrices of the same-class graph and the penalty graph.
func NewDAGEAttentionLoss() AttentionLossFunc {
	return func(_, _, xs, xt, a, ap *nn.Tensor) (*nn.Tensor, error) {
		x, err := combine(xs, xt)
		if err != nil {
			return nil, err
		}
		n := x.Shape()[0]
		for _, m := range []*nn.Tensor{a, ap} {
			if s := m.Shape(); len(s) != 2 || s[0] != n || s[1] != n {
				return nil, dimensionMismatch("attention weights %v for %d embeddings", s, n)
			}
		}
		return traceRatio(x, a, ap), nil
	}
}

// laplacian returns D - W where D is the diagonal matrix of row sums.
func laplacian(w *nn.Tensor) *nn.Tensor {
	return nn.Sub(nn.Diag(nn.RowSum(w)), w)
}

func traceRatio(x, w, wp *nn.Tensor) *nn.Tensor {
	theta := nn.Transpose(x)
	numerator := nn.Trace(nn.MatMul(nn.MatMul(theta, laplacian(w)), x))
	denominator := nn.Trace(nn.MatMul(nn.MatMul(theta, laplacian(wp)), x))
	return nn.Div(numerator, denominator)
}
