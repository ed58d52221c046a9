// Copyright 2018-2019 The logrange Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lsort

import (
	"context"
	"sync"

	"github.com/jrivets/log4g"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

type (
	// Pool bounds the number of sort jobs which run at the same time. A job
	// takes one slot, even it runs copying and sorting concurrently.
	Pool struct {
		sem    *semaphore.Weighted
		size   int
		logger log4g.Logger
	}
)

var (
	poolsLock sync.Mutex
	pools     = make(map[int]*Pool)
)

// NewPool returns the pool which runs up to size jobs at the same time
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	p := new(Pool)
	p.sem = semaphore.NewWeighted(int64(size))
	p.size = size
	p.logger = log4g.GetLogger("lsort.pool")
	return p
}

// DefaultPool returns the shared pool sized by the default configuration
func DefaultPool() *Pool {
	return SharedPool(NewDefaultConfig().Workers)
}

// SharedPool returns the process-wide pool for the workers number. Background
// jobs without their own pool are run by the shared pool of their
// Config.Workers, so jobs with the same configuration share the limit.
func SharedPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	poolsLock.Lock()
	defer poolsLock.Unlock()
	p, ok := pools[workers]
	if !ok {
		p = NewPool(workers)
		pools[workers] = p
	}
	return p
}

// Size returns the maximum number of concurrently running jobs
func (p *Pool) Size() int {
	return p.size
}

// Execute runs the job in a separate goroutine as soon as the pool has a
// free slot. The returned task is cancelled when ctx is closed.
func (p *Pool) Execute(ctx context.Context, job *Job) *Task {
	t, ctx := newTask(ctx, job.id)
	go func() {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.logger.Debug("Job ", job.id, " is cancelled before start: ", err)
			t.finish(errors.Wrapf(ErrCancelled, "job %d was waiting for a slot: %v", job.id, err))
			return
		}
		t.setState(StateRunning)
		err := job.Run(ctx)
		p.sem.Release(1)
		t.finish(err)
	}()
	return t
}
