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

package main

import (
	"os"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// OutputLock protects an output file from being written by two lsort
// processes at the same time. The lock is the file with ".lock" suffix next
// to the output.
type OutputLock struct {
	fn string
	fl *flock.Flock
}

// NewOutputLock creates new OutputLock for the output file name
func NewOutputLock(out string) *OutputLock {
	return &OutputLock{fn: out + ".lock"}
}

// Lock tries to acquire the lock, it returns an error if the lock is held
// by another process
func (ol *OutputLock) Lock() error {
	if ol.fl != nil {
		panic("Lock() must not be called twice")
	}

	fl := flock.New(ol.fn)
	l, err := fl.TryLock()
	if err != nil {
		return errors.Wrapf(err, "could not get lock for %s", ol.fn)
	}
	if !l {
		return errors.Errorf("the output is locked by another process, the lock file is %s", ol.fn)
	}
	ol.fl = fl
	return nil
}

// Unlock releases the lock and removes the lock file
func (ol *OutputLock) Unlock() error {
	if ol.fl == nil {
		return nil
	}
	err := ol.fl.Unlock()
	ol.fl = nil
	if rerr := os.Remove(ol.fn); rerr != nil && !os.IsNotExist(rerr) && err == nil {
		err = rerr
	}
	return err
}
