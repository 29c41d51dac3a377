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

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	c, err := ParseConnectionType("source_target_pair")
	assert.NoError(t, err)
	assert.Equal(t, ConnectionSourceTargetPair, c)
	w, err := ParseWeightType(" Gaussian ")
	assert.NoError(t, err)
	assert.Equal(t, WeightGaussian, w)
	f, err := ParseFilterType("kfn")
	assert.NoError(t, err)
	assert.Equal(t, FilterKFN, f)

	_, err = ParseConnectionType("SOURCE")
	assert.True(t, errors.Is(err, errors.NotValid))
	assert.Contains(t, err.Error(), "SOURCE_TARGET_PAIR")
	_, err = ParseWeightType("")
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = ParseFilterType("KNNN")
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestString(t *testing.T) {
	assert.Equal(t, "SOURCE_TARGET", ConnectionSourceTarget.String())
	assert.Equal(t, "INDICATOR", WeightIndicator.String())
	assert.Equal(t, "EPSILON", FilterEpsilon.String())
	assert.Equal(t, "UNKNOWN(9)", FilterType(9).String())
}

func TestText(t *testing.T) {
	var f FilterType
	assert.NoError(t, f.UnmarshalText([]byte("epsilon")))
	assert.Equal(t, FilterEpsilon, f)
	text, err := f.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "EPSILON", string(text))
	assert.Error(t, f.UnmarshalText([]byte("nearest")))

	var c ConnectionType
	assert.NoError(t, c.UnmarshalText([]byte("all")))
	assert.Equal(t, ConnectionAll, c)
	var w WeightType
	assert.NoError(t, w.UnmarshalText([]byte("GAUSSIAN")))
	assert.Equal(t, WeightGaussian, w)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{Filter: FilterKNN, FilterParam: 3}.Validate())
	assert.NoError(t, Config{PenaltyFilter: FilterEpsilon, PenaltyFilterParam: 0.25}.Validate())

	for _, config := range []Config{
		{Connection: ConnectionType(3)},
		{Weight: WeightType(-1)},
		{Filter: FilterType(4)},
		{Filter: FilterKNN, FilterParam: 0},
		{Filter: FilterKFN, FilterParam: 2.5},
		{PenaltyFilter: FilterKNN, PenaltyFilterParam: -1},
		{PenaltyFilter: FilterKNN, PenaltyFilterParam: math.Inf(1)},
		{PenaltyFilter: FilterEpsilon, PenaltyFilterParam: math.NaN()},
	} {
		assert.True(t, errors.Is(config.Validate(), errors.NotValid), "%+v", config)
	}
}

func TestPresets(t *testing.T) {
	for name, config := range Presets {
		assert.NoError(t, config.Validate(), name)
	}
	assert.True(t, Presets["dage_full"].fastPath())
	assert.False(t, Presets["dage_ccsa_like"].fastPath())

	config, err := Preset("DAGE_DSNE_LIKE")
	assert.NoError(t, err)
	assert.Equal(t, Config{
		Connection:         ConnectionSourceTarget,
		Weight:             WeightIndicator,
		Filter:             FilterKFN,
		FilterParam:        1,
		PenaltyFilter:      FilterKNN,
		PenaltyFilterParam: 1,
	}, config)

	_, err = Preset("dage_half")
	assert.True(t, errors.Is(err, errors.NotFound))
	assert.Contains(t, err.Error(), "dage_ccsa_like")
}
