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

import "github.com/dage-io/dage/common/nn"

// Apply converts filtered distances into edge weights. A zero distance marks a
// pair that is not connected, so it always maps to weight 0. This also holds
// for GAUSSIAN, where a connected pair at distance 0 would deserve exp(0) = 1.
func (w WeightType) Apply(d *nn.Tensor) *nn.Tensor {
	connected := positiveMask(d)
	if w == WeightGaussian {
		return nn.Where(connected, nn.Exp(nn.Neg(d)))
	}
	return connected
}

func positiveMask(d *nn.Tensor) *nn.Tensor {
	data := d.Data()
	mask := make([]float32, len(data))
	for i, v := range data {
		if v > 0 {
			mask[i] = 1
		}
	}
	return nn.NewTensor(mask, d.Shape()...)
}
