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
	"github.com/pkg/errors"
)

var (
	// ErrConfig is the cause of all configuration errors returned by the
	// package
	ErrConfig = errors.New("wrong sort configuration")

	// ErrCancelled is returned by Task.Join() for cancelled tasks
	ErrCancelled = errors.New("the sort task is cancelled")
)

// IsConfigError returns whether err is caused by a wrong configuration
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfig)
}
