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
	"slices"
	"strconv"

	"github.com/dage-io/dage/common/nn"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"modernc.org/mathutil"
)

// Domain is a set of labelled feature vectors drawn from one distribution.
type Domain struct {
	Name       string
	dim        int
	features   []float32
	labels     []int
	classNames []string
}

func NewDomain(name string, dim int, classNames []string) *Domain {
	return &Domain{
		Name:       name,
		dim:        dim,
		classNames: classNames,
	}
}

// Add appends a sample. The label is an index into the class names.
func (d *Domain) Add(features []float32, label int) error {
	if len(features) != d.dim {
		return errors.NotValidf("sample with %d features in domain %q of dimension %d", len(features), d.Name, d.dim)
	}
	if label < 0 || label >= len(d.classNames) {
		return errors.NotValidf("label %d in domain %q with %d classes", label, d.Name, len(d.classNames))
	}
	d.features = append(d.features, features...)
	d.labels = append(d.labels, label)
	return nil
}

func (d *Domain) Count() int {
	return len(d.labels)
}

func (d *Domain) Dim() int {
	return d.dim
}

func (d *Domain) NumClasses() int {
	return len(d.classNames)
}

func (d *Domain) ClassNames() []string {
	return d.classNames
}

func (d *Domain) Label(i int) int {
	return d.labels[i]
}

func (d *Domain) Labels() []int {
	return d.labels
}

func (d *Domain) Features(i int) []float32 {
	return d.features[i*d.dim : (i+1)*d.dim]
}

// Classes returns the classes that have at least one sample.
func (d *Domain) Classes() mapset.Set[int] {
	return mapset.NewSet(d.labels...)
}

// Subset returns the samples at the given indices.
func (d *Domain) Subset(indices []int) *Domain {
	subset := NewDomain(d.Name, d.dim, d.classNames)
	subset.features = make([]float32, 0, len(indices)*d.dim)
	subset.labels = make([]int, 0, len(indices))
	for _, i := range indices {
		subset.features = append(subset.features, d.Features(i)...)
		subset.labels = append(subset.labels, d.labels[i])
	}
	return subset
}

// Split shuffles samples and holds out a fraction of them.
func (d *Domain) Split(testRatio float64, seed int64) (train, test *Domain) {
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(d.Count())
	numTest := int(testRatio * float64(d.Count()))
	return d.Subset(perm[numTest:]), d.Subset(perm[:numTest])
}

// Samples is a batch of a single domain.
type Samples struct {
	X *nn.Tensor
	Y []int
}

func (s *Samples) Size() int {
	return len(s.Y)
}

// Batches splits the domain into consecutive batches. The last batch may be
// smaller.
func (d *Domain) Batches(batchSize int) []*Samples {
	if batchSize <= 0 {
		return nil
	}
	var batches []*Samples
	for begin := 0; begin < d.Count(); begin += batchSize {
		end := mathutil.Min(begin+batchSize, d.Count())
		x := make([]float32, (end-begin)*d.dim)
		copy(x, d.features[begin*d.dim:end*d.dim])
		batches = append(batches, &Samples{
			X: nn.NewTensor(x, end-begin, d.dim),
			Y: slices.Clone(d.labels[begin:end]),
		})
	}
	return batches
}

// Unify relabels domains onto the union of their class names so that equal
// names share a label across domains.
func Unify(domains ...*Domain) {
	names := mapset.NewSet[string]()
	for _, d := range domains {
		names.Append(d.classNames...)
	}
	classNames := sortClassNames(names.ToSlice())
	index := make(map[string]int, len(classNames))
	for i, name := range classNames {
		index[name] = i
	}
	for _, d := range domains {
		for i, label := range d.labels {
			d.labels[i] = index[d.classNames[label]]
		}
		d.classNames = classNames
	}
}

// sortClassNames orders numeric names by value and other names
// lexicographically.
func sortClassNames(names []string) []string {
	values := make(map[string]int, len(names))
	numeric := lo.EveryBy(names, func(name string) bool {
		v, err := strconv.Atoi(name)
		values[name] = v
		return err == nil
	})
	if numeric {
		slices.SortFunc(names, func(a, b string) int { return values[a] - values[b] })
	} else {
		slices.Sort(names)
	}
	return names
}
