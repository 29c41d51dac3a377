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
	"fmt"
	"io"
	"reflect"

	"github.com/dage-io/dage/base/encoding"
	"github.com/juju/errors"
)

const (
	headerTwoStream    = "two_stream"
	headerSingleStream = "single_stream"
)

type modelMeta struct {
	InputDim   int
	NumClasses int
	Params     Params
}

func GetModelName(m Model) string {
	switch m.(type) {
	case *TwoStream:
		return headerTwoStream
	case *SingleStream:
		return headerSingleStream
	default:
		return reflect.TypeOf(m).String()
	}
}

// MarshalModel writes the model type, its hyper-parameters and all weights.
// The auxiliary loss is not saved.
func MarshalModel(w io.Writer, m Model) error {
	var meta modelMeta
	switch m := m.(type) {
	case *TwoStream:
		meta = modelMeta{InputDim: m.inputDim, NumClasses: m.numClasses, Params: m.Params}
	case *SingleStream:
		meta = modelMeta{InputDim: m.inputDim, NumClasses: m.numClasses, Params: m.Params}
	default:
		return fmt.Errorf("unknown model: %v", reflect.TypeOf(m))
	}
	if err := encoding.WriteString(w, GetModelName(m)); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteGob(w, meta); err != nil {
		return errors.Trace(err)
	}
	for _, weight := range m.Weights() {
		if err := encoding.WriteFloat32s(w, weight.Data()); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// UnmarshalModel reads a model written by MarshalModel. A two-stream model
// is trained further with aux. With a nil aux it only predicts and Losses
// fails.
func UnmarshalModel(r io.Reader, aux AuxLoss) (Model, error) {
	name, err := encoding.ReadString(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var meta modelMeta
	if err = encoding.ReadGob(r, &meta); err != nil {
		return nil, errors.Trace(err)
	}
	var m Model
	switch name {
	case headerTwoStream:
		m = NewTwoStream(meta.InputDim, meta.NumClasses, aux, meta.Params)
	case headerSingleStream:
		m = NewSingleStream(meta.InputDim, meta.NumClasses, meta.Params)
	default:
		return nil, fmt.Errorf("unknown model %v", name)
	}
	for _, weight := range m.Weights() {
		if err = encoding.ReadFloat32s(r, weight.Data()); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return m, nil
}
