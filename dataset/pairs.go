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
	"math"
	"math/rand"

	"github.com/dage-io/dage/base/log"
	"github.com/dage-io/dage/common/nn"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"modernc.org/mathutil"
)

// Pair indexes a source sample and a target sample.
type Pair struct {
	Source int
	Target int
}

// Pairs of samples from a source domain and a target domain.
type Pairs struct {
	Source *Domain
	Target *Domain
	Pairs  []Pair
}

// MakePairs builds every pair of samples that share a class, plus ratio times
// as many pairs of different classes drawn at random. Pairs are shuffled.
func MakePairs(source, target *Domain, ratio float64, seed int64) (*Pairs, error) {
	if source.Dim() != target.Dim() {
		return nil, errors.NotValidf("source dimension %d and target dimension %d", source.Dim(), target.Dim())
	}
	if source.NumClasses() != target.NumClasses() {
		return nil, errors.NotValidf("%d source classes and %d target classes", source.NumClasses(), target.NumClasses())
	}
	if ratio < 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return nil, errors.NotValidf("negative pair ratio %v", ratio)
	}
	if missing := source.Classes().Difference(target.Classes()); missing.Cardinality() > 0 {
		log.Logger().Warn("source classes without target samples", zap.Ints("classes", missing.ToSlice()))
	}

	rng := rand.New(rand.NewSource(seed))
	var positives []Pair
	targetsOf := make(map[int][]int)
	for j, label := range target.Labels() {
		targetsOf[label] = append(targetsOf[label], j)
	}
	for i, label := range source.Labels() {
		for _, j := range targetsOf[label] {
			positives = append(positives, Pair{Source: i, Target: j})
		}
	}

	numNegatives := source.Count()*target.Count() - len(positives)
	n := mathutil.Min(int(math.Round(ratio*float64(len(positives)))), numNegatives)
	var negatives []Pair
	if 2*n > numNegatives {
		// dense: enumerate and shuffle
		for i := 0; i < source.Count(); i++ {
			for j := 0; j < target.Count(); j++ {
				if source.Label(i) != target.Label(j) {
					negatives = append(negatives, Pair{Source: i, Target: j})
				}
			}
		}
		rng.Shuffle(len(negatives), func(a, b int) { negatives[a], negatives[b] = negatives[b], negatives[a] })
		negatives = negatives[:n]
	} else {
		// sparse: rejection sampling
		seen := mapset.NewThreadUnsafeSet[Pair]()
		for seen.Cardinality() < n {
			p := Pair{Source: rng.Intn(source.Count()), Target: rng.Intn(target.Count())}
			if source.Label(p.Source) != target.Label(p.Target) && seen.Add(p) {
				negatives = append(negatives, p)
			}
		}
	}

	pairs := &Pairs{Source: source, Target: target, Pairs: append(positives, negatives...)}
	pairs.Shuffle(rng)
	log.Logger().Info("make pairs",
		zap.Int("n_positive", len(positives)),
		zap.Int("n_negative", len(negatives)))
	return pairs, nil
}

func (p *Pairs) Len() int {
	return len(p.Pairs)
}

func (p *Pairs) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(p.Pairs), func(a, b int) { p.Pairs[a], p.Pairs[b] = p.Pairs[b], p.Pairs[a] })
}

// Batch holds aligned source and target samples. Row i of XS is paired with
// row i of XT.
type Batch struct {
	XS *nn.Tensor
	XT *nn.Tensor
	YS []int
	YT []int
}

func (b *Batch) Size() int {
	return len(b.YS)
}

// Flip swaps the source stream and the target stream.
func (b *Batch) Flip() *Batch {
	return &Batch{XS: b.XT, XT: b.XS, YS: b.YT, YT: b.YS}
}

// Batches splits pairs into batches of exactly batchSize pairs. Remaining pairs
// that do not fill a batch are dropped.
func (p *Pairs) Batches(batchSize int) []*Batch {
	if batchSize <= 0 {
		return nil
	}
	dim := p.Source.Dim()
	batches := make([]*Batch, 0, p.Len()/batchSize)
	for begin := 0; begin+batchSize <= p.Len(); begin += batchSize {
		xs := make([]float32, 0, batchSize*dim)
		xt := make([]float32, 0, batchSize*dim)
		ys := make([]int, 0, batchSize)
		yt := make([]int, 0, batchSize)
		for _, pair := range p.Pairs[begin : begin+batchSize] {
			xs = append(xs, p.Source.Features(pair.Source)...)
			xt = append(xt, p.Target.Features(pair.Target)...)
			ys = append(ys, p.Source.Label(pair.Source))
			yt = append(yt, p.Target.Label(pair.Target))
		}
		batches = append(batches, &Batch{
			XS: nn.NewTensor(xs, batchSize, dim),
			XT: nn.NewTensor(xt, batchSize, dim),
			YS: ys,
			YT: yt,
		})
	}
	return batches
}
