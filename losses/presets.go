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
	"strings"

	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Presets are named configurations. dage_ccsa_like and dage_dsne_like mimic
// the pair losses of CCSA and d-SNE.
var Presets = map[string]Config{
	"dage_full": {
		Connection:    ConnectionAll,
		Weight:        WeightIndicator,
		Filter:        FilterAll,
		PenaltyFilter: FilterAll,
	},
	"dage_full_across": {
		Connection:    ConnectionSourceTarget,
		Weight:        WeightIndicator,
		Filter:        FilterAll,
		PenaltyFilter: FilterAll,
	},
	"dage_pair_across": {
		Connection:    ConnectionSourceTargetPair,
		Weight:        WeightIndicator,
		Filter:        FilterAll,
		PenaltyFilter: FilterAll,
	},
	"dage_ccsa_like": {
		Connection:         ConnectionSourceTargetPair,
		Weight:             WeightIndicator,
		Filter:             FilterAll,
		PenaltyFilter:      FilterEpsilon,
		PenaltyFilterParam: 1,
	},
	"dage_dsne_like": {
		Connection:         ConnectionSourceTarget,
		Weight:             WeightIndicator,
		Filter:             FilterKFN,
		FilterParam:        1,
		PenaltyFilter:      FilterKNN,
		PenaltyFilterParam: 1,
	},
}

// Preset returns the named configuration.
func Preset(name string) (Config, error) {
	config, ok := Presets[strings.ToLower(name)]
	if !ok {
		names := lo.Keys(Presets)
		slices.Sort(names)
		return Config{}, errors.NotFoundf("preset %q (available: %s)", name, strings.Join(names, ", "))
	}
	return config, nil
}
