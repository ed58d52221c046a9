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
	"encoding/json"
	"io/ioutil"

	"github.com/logrange/lsort/pkg/lsort"
	"github.com/logrange/lsort/pkg/sorted"
	"github.com/pkg/errors"
)

type (
	// fileConfig is the json configuration file layout. The sort section is
	// decoded by lsort.ConfigFromParams, so it accepts the same parameters
	// as the library does.
	fileConfig struct {
		BufSize int                    `json:"bufSize"`
		Sort    map[string]interface{} `json:"sort"`
	}
)

// ReadConfigFromFile reads the json configuration file, the values which are
// not specified in the file are taken from the default configuration.
func ReadConfigFromFile(filename string) (*sorted.Config, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read data from config file %s", filename)
	}

	var fc fileConfig
	if err = json.Unmarshal(data, &fc); err != nil {
		return nil, errors.Wrapf(err, "could not unmarshal json data from config file %s", filename)
	}

	cfg := &sorted.Config{BufSize: fc.BufSize}
	if fc.Sort != nil {
		if cfg.Sort, err = lsort.ConfigFromParams(fc.Sort); err != nil {
			return nil, errors.Wrapf(err, "invalid sort section in %s", filename)
		}
	}
	logger.Info("Configuration read from ", filename, ": ", cfg)
	return cfg, nil
}
