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

package sorted

import (
	"github.com/logrange/lsort/pkg/lsort"
	"github.com/logrange/lsort/pkg/util"
	"github.com/mohae/deepcopy"
	"github.com/pkg/errors"
)

type (
	// Config defines the iterator settings
	Config struct {
		// BufSize is the read buffer size of the sorted file. The bigger
		// buffer makes more Reset() calls served from memory.
		BufSize int `json:"bufSize"`

		// Sort is used when the data has to be sorted or copied first
		Sort *lsort.Config `json:"sort"`
	}
)

// NewDefaultConfig returns the default iterator configuration
func NewDefaultConfig() *Config {
	return &Config{
		BufSize: 64 * 1024,
		Sort:    lsort.NewDefaultConfig(),
	}
}

// Apply overrides c's properties by non-default values from other
func (c *Config) Apply(other *Config) {
	if other == nil {
		return
	}
	if other.BufSize != 0 {
		c.BufSize = other.BufSize
	}
	if other.Sort != nil {
		if c.Sort == nil {
			c.Sort = deepcopy.Copy(other.Sort).(*lsort.Config)
		} else {
			c.Sort.Apply(other.Sort)
		}
	}
}

// Check returns an error if the configuration is invalid
func (c *Config) Check() error {
	if c.BufSize < 0 {
		return errors.Wrapf(lsort.ErrConfig, "invalid BufSize=%d, must be >= 0", c.BufSize)
	}
	if c.Sort == nil {
		return errors.Wrapf(lsort.ErrConfig, "Sort config must be provided")
	}
	return c.Sort.Check()
}

func (c *Config) String() string {
	return util.ToJsonStr(c)
}
