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

package model

import (
	"encoding/json"
	"reflect"

	"github.com/dage-io/dage/base/log"
	"go.uber.org/zap"
)

// ParamName is the type of hyper-parameter names.
type ParamName string

const (
	BaseLayers  ParamName = "BaseLayers"  // sizes of hidden layers in the base network
	DenseSize   ParamName = "DenseSize"   // size of the hidden layer in the mid network
	EmbedSize   ParamName = "EmbedSize"   // size of embeddings fed to the auxiliary loss
	Alpha       ParamName = "Alpha"       // weight of the auxiliary loss
	EvenWeights ParamName = "EvenWeights" // split cross entropy weight evenly between streams
	NumUnfrozen ParamName = "NumUnfrozen" // number of trainable base layers, negative for all
	RandomState ParamName = "RandomState" // random state (seed)
)

// Params stores hyper-parameters for a model. For example, a two-stream model
// with small embeddings is given by:
//
//	model.Params{
//		model.EmbedSize: 16,
//		model.Alpha:     0.5,
//	}
type Params map[ParamName]any

// Copy hyper-parameters.
func (parameters Params) Copy() Params {
	newParams := make(Params)
	for k, v := range parameters {
		newParams[k] = v
	}
	return newParams
}

func mismatch(name ParamName, expect string, val any) {
	log.Logger().Error("parameter type mismatch",
		zap.String("name", string(name)),
		zap.String("expect", expect),
		zap.String("actual", reflect.TypeOf(val).String()))
}

// GetInt gets a integer parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetInt(name ParamName, _default int) int {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int:
			return val
		default:
			mismatch(name, "int", val)
		}
	}
	return _default
}

// GetInt64 gets a int64 parameter by name. Returns _default if not exists or type doesn't match. The
// type will be converted if given int.
func (parameters Params) GetInt64(name ParamName, _default int64) int64 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int64:
			return val
		case int:
			return int64(val)
		default:
			mismatch(name, "int64", val)
		}
	}
	return _default
}

// GetBool gets a bool parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetBool(name ParamName, _default bool) bool {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case bool:
			return val
		default:
			mismatch(name, "bool", val)
		}
	}
	return _default
}

func (parameters Params) GetFloat32(name ParamName, _default float32) float32 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case float32:
			return val
		case float64:
			return float32(val)
		case int:
			return float32(val)
		default:
			mismatch(name, "float32", val)
		}
	}
	return _default
}

func (parameters Params) GetIntSlice(name ParamName, _default []int) []int {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case []int:
			return val
		default:
			mismatch(name, "[]int", val)
		}
	}
	return _default
}

func (parameters Params) Overwrite(params Params) Params {
	merged := make(Params)
	for k, v := range parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

func (parameters Params) ToString() string {
	b, err := json.Marshal(parameters)
	if err != nil {
		log.Logger().Fatal("failed to marshal parameters", zap.Error(err))
	}
	return string(b)
}
