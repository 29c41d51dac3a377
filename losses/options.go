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
	"fmt"
	"math"
	"strings"

	"github.com/juju/errors"
	"github.com/samber/lo"
)

// ConnectionType selects which pairs of the combined batch are connected.
type ConnectionType int

const (
	// ConnectionAll connects every pair of the combined batch.
	ConnectionAll ConnectionType = iota
	// ConnectionSourceTarget connects source samples with target samples only.
	ConnectionSourceTarget
	// ConnectionSourceTargetPair connects the i-th source sample with the i-th
	// target sample only.
	ConnectionSourceTargetPair
)

var connectionNames = []string{"ALL", "SOURCE_TARGET", "SOURCE_TARGET_PAIR"}

// WeightType converts distances into edge weights.
type WeightType int

const (
	WeightIndicator WeightType = iota
	WeightGaussian
)

var weightNames = []string{"INDICATOR", "GAUSSIAN"}

// FilterType selects which connected pairs survive in each row.
type FilterType int

const (
	FilterAll FilterType = iota
	// FilterKNN keeps the K largest positive entries of a row.
	FilterKNN
	// FilterKFN keeps the K smallest positive entries of a row.
	FilterKFN
	// FilterEpsilon keeps entries below a threshold.
	FilterEpsilon
)

var filterNames = []string{"ALL", "KNN", "KFN", "EPSILON"}

func enumString(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return fmt.Sprintf("UNKNOWN(%d)", i)
	}
	return names[i]
}

func parseEnum(kind string, names []string, s string) (int, error) {
	i := lo.IndexOf(names, strings.ToUpper(strings.TrimSpace(s)))
	if i < 0 {
		return 0, errors.NotValidf("%s %q (expected one of %s)", kind, s, strings.Join(names, ", "))
	}
	return i, nil
}

func (c ConnectionType) String() string { return enumString(connectionNames, int(c)) }

func (w WeightType) String() string { return enumString(weightNames, int(w)) }

func (f FilterType) String() string { return enumString(filterNames, int(f)) }

// ParseConnectionType parses a connection type name, ignoring case.
func ParseConnectionType(s string) (ConnectionType, error) {
	i, err := parseEnum("connection type", connectionNames, s)
	return ConnectionType(i), err
}

// ParseWeightType parses a weight type name, ignoring case.
func ParseWeightType(s string) (WeightType, error) {
	i, err := parseEnum("weight type", weightNames, s)
	return WeightType(i), err
}

// ParseFilterType parses a filter type name, ignoring case.
func ParseFilterType(s string) (FilterType, error) {
	i, err := parseEnum("filter type", filterNames, s)
	return FilterType(i), err
}

func (c ConnectionType) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *ConnectionType) UnmarshalText(text []byte) (err error) {
	*c, err = ParseConnectionType(string(text))
	return
}

func (w WeightType) MarshalText() ([]byte, error) { return []byte(w.String()), nil }

func (w *WeightType) UnmarshalText(text []byte) (err error) {
	*w, err = ParseWeightType(string(text))
	return
}

func (f FilterType) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *FilterType) UnmarshalText(text []byte) (err error) {
	*f, err = ParseFilterType(string(text))
	return
}

func (c ConnectionType) valid() bool { return c >= 0 && int(c) < len(connectionNames) }

func (w WeightType) valid() bool { return w >= 0 && int(w) < len(weightNames) }

func (f FilterType) valid() bool { return f >= 0 && int(f) < len(filterNames) }

// Config describes a DAGE loss.
type Config struct {
	Connection ConnectionType
	Weight     WeightType
	// Filter and FilterParam select pairs of the same class.
	Filter      FilterType
	FilterParam float64
	// PenaltyFilter and PenaltyFilterParam select pairs of different classes.
	PenaltyFilter      FilterType
	PenaltyFilterParam float64
}

// Validate checks enum ranges and filter parameters. K of KNN and KFN must be a
// positive integer and ε of EPSILON must be finite.
func (c Config) Validate() error {
	if !c.Connection.valid() {
		return errors.NotValidf("connection type %v", c.Connection)
	}
	if !c.Weight.valid() {
		return errors.NotValidf("weight type %v", c.Weight)
	}
	if err := validateFilter("filter", c.Filter, c.FilterParam); err != nil {
		return err
	}
	return validateFilter("penalty filter", c.PenaltyFilter, c.PenaltyFilterParam)
}

func validateFilter(name string, f FilterType, param float64) error {
	switch f {
	case FilterAll:
		return nil
	case FilterKNN, FilterKFN:
		if param < 1 || param != math.Trunc(param) || math.IsInf(param, 0) {
			return errors.NotValidf("%s parameter %v of %v (expected a positive integer)", name, param, f)
		}
		return nil
	case FilterEpsilon:
		if math.IsNaN(param) || math.IsInf(param, 0) {
			return errors.NotValidf("%s parameter %v of %v (expected a finite number)", name, param, f)
		}
		return nil
	default:
		return errors.NotValidf("%s type %v", name, f)
	}
}

// fastPath reports whether weights equal the connection masks.
func (c Config) fastPath() bool {
	return c.Weight == WeightIndicator && c.Filter == FilterAll && c.PenaltyFilter == FilterAll
}
