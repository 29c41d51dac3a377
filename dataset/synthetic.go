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

package dataset

import (
	"math/rand"
	"strconv"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"
)

type SyntheticOptions struct {
	Classes         int
	Dim             int
	SamplesPerClass int
	// Spread is the standard deviation of samples around their class center.
	Spread float64
	// Shift is the distance between the two domains.
	Shift float64
	Seed  int64
}

// Synthetic generates a source domain and a target domain of Gaussian class
// blobs. The target domain is the source domain moved by a random vector of
// length Shift.
func Synthetic(opts SyntheticOptions) (source, target *Domain, err error) {
	if opts.Classes < 2 || opts.Dim < 1 || opts.SamplesPerClass < 1 {
		return nil, nil, errors.NotValidf("synthetic options %+v", opts)
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	normal := func(n int, std float64) []float64 {
		v := make([]float64, n)
		for i := range v {
			v[i] = rng.NormFloat64() * std
		}
		return v
	}

	centers := make([][]float64, opts.Classes)
	for c := range centers {
		centers[c] = normal(opts.Dim, 3)
	}
	shift := normal(opts.Dim, 1)
	if norm := floats.Norm(shift, 2); norm > 0 {
		floats.Scale(opts.Shift/norm, shift)
	}

	classNames := lo.Map(lo.Range(opts.Classes), func(c int, _ int) string { return strconv.Itoa(c) })
	source = NewDomain("source", opts.Dim, classNames)
	target = NewDomain("target", opts.Dim, classNames)
	for c, center := range centers {
		for i := 0; i < opts.SamplesPerClass; i++ {
			x := normal(opts.Dim, opts.Spread)
			floats.Add(x, center)
			if err = source.Add(toFloat32(x), c); err != nil {
				return nil, nil, errors.Trace(err)
			}
			x = normal(opts.Dim, opts.Spread)
			floats.Add(x, center)
			floats.Add(x, shift)
			if err = target.Add(toFloat32(x), c); err != nil {
				return nil, nil, errors.Trace(err)
			}
		}
	}
	return source, target, nil
}

func toFloat32(x []float64) []float32 {
	return lo.Map(x, func(v float64, _ int) float32 { return float32(v) })
}
