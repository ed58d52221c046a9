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
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
)

type (
	// State is the sort task state
	State int32

	// Task is the handle of a sort job which runs in background. The task
	// can be cancelled and joined from any goroutine.
	Task struct {
		id     int64
		state  int32
		done   chan struct{}
		err    error
		cancel context.CancelFunc
	}
)

const (
	StateCreated State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateRunning:
		return "Running"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	case StateCancelled:
		return "Cancelled"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

func newTask(ctx context.Context, id int64) (*Task, context.Context) {
	t := new(Task)
	t.id = id
	t.done = make(chan struct{})
	ctx, t.cancel = context.WithCancel(ctx)
	return t, ctx
}

// Join waits until the task is over and returns its error. The error of
// a cancelled task is caused by ErrCancelled.
func (t *Task) Join() error {
	<-t.done
	return t.err
}

// Done returns the channel which is closed when the task is over
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel asks the task to stop. The job notices it between lines or
// chunks, so the task is not over when Cancel returns.
func (t *Task) Cancel() {
	t.cancel()
}

// State returns the current task state
func (t *Task) State() State {
	return State(atomic.LoadInt32(&t.state))
}

func (t *Task) String() string {
	return fmt.Sprintf("{id=%d, state=%s}", t.id, t.State())
}

func (t *Task) setState(s State) {
	atomic.StoreInt32(&t.state, int32(s))
}

func (t *Task) finish(err error) {
	switch {
	case err == nil:
		t.setState(StateCompleted)
	case errors.Is(err, ErrCancelled):
		t.setState(StateCancelled)
	default:
		t.setState(StateFailed)
	}
	t.err = err
	t.cancel()
	close(t.done)
}
