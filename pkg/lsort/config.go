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
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/logrange/lsort/pkg/util"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

type (
	// Config defines the sort pipeline settings
	Config struct {
		// TempDir is the scratch directory for spilled chunks and sorted
		// files. It must be set when unsorted data is sorted.
		TempDir string `json:"tempDir"`

		// ChunkSize is the maximum size of lines (like "64MiB"), which are
		// sorted in memory at once. Bigger inputs are spilled to TempDir
		// and merged.
		ChunkSize string `json:"chunkSize"`

		// ChunkLines limits number of lines in one in-memory chunk
		ChunkLines int `json:"chunkLines"`

		// PipeChunks defines how many 32KiB chunks can be in flight
		// between the copying and the sorting tasks
		PipeChunks int `json:"pipeChunks"`

		// Workers is the number of background sort jobs with the same
		// Workers value which run at the same time (see SharedPool)
		Workers int `json:"workers"`

		// KeyCacheSize is the number of parsed lines cached by a sort
		// job. Negative value turns the cache off.
		KeyCacheSize int `json:"keyCacheSize"`
	}
)

// NewDefaultConfig returns the default configuration
func NewDefaultConfig() *Config {
	return &Config{
		TempDir:      os.TempDir(),
		ChunkSize:    "64MiB",
		ChunkLines:   1000000,
		PipeChunks:   16,
		Workers:      4,
		KeyCacheSize: 4096,
	}
}

// ConfigFromParams decodes the params map (like one read from a json file)
// into the default configuration and checks the result
func ConfigFromParams(params map[string]interface{}) (*Config, error) {
	var pc Config
	if err := mapstructure.Decode(params, &pc); err != nil {
		return nil, errors.Wrapf(ErrConfig, "unable to decode params=%v: %v", params, err)
	}
	cfg := NewDefaultConfig()
	cfg.Apply(&pc)
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply overrides c's properties by non-default values from other
func (c *Config) Apply(other *Config) {
	if other == nil {
		return
	}
	if len(other.TempDir) > 0 {
		c.TempDir = other.TempDir
	}
	if len(other.ChunkSize) > 0 {
		c.ChunkSize = other.ChunkSize
	}
	if other.ChunkLines != 0 {
		c.ChunkLines = other.ChunkLines
	}
	if other.PipeChunks != 0 {
		c.PipeChunks = other.PipeChunks
	}
	if other.Workers != 0 {
		c.Workers = other.Workers
	}
	if other.KeyCacheSize != 0 {
		c.KeyCacheSize = other.KeyCacheSize
	}
}

// Check returns an error wrapping ErrConfig if the configuration is invalid.
// Empty TempDir is allowed, it is checked when a temporary file is needed.
func (c *Config) Check() error {
	sz, err := humanize.ParseBytes(c.ChunkSize)
	if err != nil {
		return errors.Wrapf(ErrConfig, "invalid ChunkSize=%q: %v", c.ChunkSize, err)
	}
	if sz == 0 {
		return errors.Wrapf(ErrConfig, "invalid ChunkSize=%q, must be > 0", c.ChunkSize)
	}
	if c.ChunkLines <= 0 {
		return errors.Wrapf(ErrConfig, "invalid ChunkLines=%d, must be > 0", c.ChunkLines)
	}
	if c.PipeChunks <= 0 {
		return errors.Wrapf(ErrConfig, "invalid PipeChunks=%d, must be > 0", c.PipeChunks)
	}
	if c.Workers <= 0 {
		return errors.Wrapf(ErrConfig, "invalid Workers=%d, must be > 0", c.Workers)
	}
	return nil
}

// CheckTempDir returns an error if TempDir is not set or is not a directory
func (c *Config) CheckTempDir() error {
	if c.TempDir == "" {
		return errors.Wrapf(ErrConfig, "TempDir must be set for sorting unsorted data")
	}
	fi, err := os.Stat(c.TempDir)
	if err != nil {
		return errors.Wrapf(ErrConfig, "TempDir=%s is not accessible: %v", c.TempDir, err)
	}
	if !fi.IsDir() {
		return errors.Wrapf(ErrConfig, "TempDir=%s is not a directory", c.TempDir)
	}
	return nil
}

func (c *Config) String() string {
	return util.ToJsonStr(c)
}

func (c *Config) chunkBytes() int64 {
	sz, err := humanize.ParseBytes(c.ChunkSize)
	if err != nil {
		panic(fmt.Sprintf("the config must be checked before use: %v", err))
	}
	return int64(sz)
}
