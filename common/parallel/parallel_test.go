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

package parallel

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/dage-io/dage/common/util"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
)

func TestParallel(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		a := util.RangeInt(10000)
		b := make([]int, len(a))
		workerIds := make([]int, len(a))
		// multiple threads
		err := Parallel(context.Background(), len(a), 4, func(workerId, jobId int) error {
			b[jobId] = a[jobId]
			workerIds[jobId] = workerId
			time.Sleep(time.Microsecond)
			return nil
		})
		assert.NoError(t, err)
		workersSet := mapset.NewSet(workerIds...)
		assert.Equal(t, a, b)
		assert.GreaterOrEqual(t, 4, workersSet.Cardinality())
		assert.Less(t, 1, workersSet.Cardinality())
		// single thread
		err = Parallel(context.Background(), len(a), 1, func(workerId, jobId int) error {
			b[jobId] = a[jobId]
			workerIds[jobId] = workerId
			return nil
		})
		assert.NoError(t, err)
		workersSet = mapset.NewSet(workerIds...)
		assert.Equal(t, a, b)
		assert.Equal(t, 1, workersSet.Cardinality())
	})
}

func TestParallelFail(t *testing.T) {
	// multiple threads
	err := Parallel(context.Background(), 100, 4, func(workerId, jobId int) error {
		if jobId%2 == 1 {
			return fmt.Errorf("error from %d", jobId)
		}
		return nil
	})
	assert.Error(t, err)
	// single thread
	err = Parallel(context.Background(), 100, 1, func(workerId, jobId int) error {
		if jobId%2 == 1 {
			return fmt.Errorf("error from %d", jobId)
		}
		return nil
	})
	assert.EqualError(t, err, "error from 1")
}

func TestParallelCancel(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		var count atomic.Int32

		err := Parallel(ctx, 100, 4, func(_, jobId int) error {
			if jobId == 0 {
				cancel()
			}
			count.Add(1)
			time.Sleep(100 * time.Millisecond)
			return nil
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, int(count.Load()), 100)
	})
}

func TestParallelRecover(t *testing.T) {
	for _, nWorkers := range []int{1, 2} {
		t.Run(fmt.Sprintf("workers=%d", nWorkers), func(t *testing.T) {
			var err error
			assert.NotPanics(t, func() {
				err = Parallel(context.Background(), 4, nWorkers, func(_, jobId int) error {
					if jobId == 1 {
						panic("boom")
					}
					return nil
				})
			})
			assert.ErrorContains(t, err, "panic in job 1: boom")
		})
	}
}

func TestSplit(t *testing.T) {
	a := []int{1, 2, 3, 4, 5, 6}
	b := Split(a, 3)
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5, 6}}, b)

	a = []int{1, 2, 3, 4, 5, 6, 7}
	b = Split(a, 3)
	assert.Equal(t, [][]int{{1, 2, 3}, {4, 5}, {6, 7}}, b)

	assert.Equal(t, [][]int{{1}, {2}}, Split([]int{1, 2}, 4))
	assert.Nil(t, Split([]int{}, 2))
}
