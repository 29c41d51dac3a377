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
	"sync"

	"github.com/dage-io/dage/base/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const chanSize = 1024

// Parallel runs nJobs jobs on nWorkers goroutines. worker receives the id of the
// goroutine running it and the id of the job. The first error by job order is
// returned; canceling ctx stops handing out jobs. A panicking job fails with an
// error instead of crashing the process.
func Parallel(ctx context.Context, nJobs, nWorkers int, worker func(workerId, jobId int) error) error {
	if nWorkers <= 1 {
		for i := 0; i < nJobs; i++ {
			if err := ctx.Err(); err != nil {
				return errors.Trace(err)
			}
			if err := runJob(worker, 0, i); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	}

	c := make(chan int, chanSize)
	// producer
	go func() {
		defer close(c)
		for i := 0; i < nJobs; i++ {
			select {
			case <-ctx.Done():
				return
			case c <- i:
			}
		}
	}()
	// consumer
	var wg sync.WaitGroup
	errs := make([]error, nJobs)
	for j := 0; j < nWorkers; j++ {
		workerId := j
		wg.Go(func() {
			for jobId := range c {
				if err := ctx.Err(); err != nil {
					errs[jobId] = err
					return
				}
				if err := runJob(worker, workerId, jobId); err != nil {
					errs[jobId] = err
					return
				}
			}
		})
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(ctx.Err())
}

func runJob(worker func(workerId, jobId int) error, workerId, jobId int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Logger().Error("panic recovered", zap.Int("job_id", jobId), zap.Any("panic", r))
			err = errors.Errorf("panic in job %d: %v", jobId, r)
		}
	}()
	return worker(workerId, jobId)
}

// Split a slice into n slices and keep the order of elements.
func Split[T any](a []T, n int) [][]T {
	if len(a) == 0 {
		return nil
	}
	if n > len(a) {
		n = len(a)
	}
	minChunkSize := len(a) / n
	maxChunkNum := len(a) % n
	chunks := make([][]T, n)
	for i, j := 0, 0; i < n; i++ {
		chunkSize := minChunkSize
		if i < maxChunkNum {
			chunkSize++
		}
		chunks[i] = a[j : j+chunkSize]
		j += chunkSize
	}
	return chunks
}
