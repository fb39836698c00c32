// Copyright 2025 Shan
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

package config

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Load reads a configuration file or directory. Directories are merged
// from every *.yaml / *.yml file they contain (non-recursive), with
// duplicate API names across files rejected.
func Load(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidDefinition, Name: path, Reason: "cannot read configuration", Cause: err}
	}

	var file *File
	if info.IsDir() {
		file, err = loadDir(path)
	} else {
		file, err = parseFile(path)
	}
	if err != nil {
		return nil, err
	}

	if err := file.validate(); err != nil {
		return nil, err
	}
	return file, nil
}

// loadDir merges all YAML files in a directory into one File.
func loadDir(dir string) (*File, error) {
	matches, err := doublestar.FilepathGlob(filepath.Join(dir, "*.{yaml,yml}"))
	if err != nil {
		return nil, &Error{Kind: ErrInvalidDefinition, Name: dir, Reason: "bad config glob", Cause: err}
	}
	if len(matches) == 0 {
		return nil, newInvalid(dir, "no .yaml or .yml files found")
	}

	merged := &File{APIs: make(map[string]*API)}
	var defaultsFrom, securityFrom string

	for _, path := range matches {
		file, err := parseFile(path)
		if err != nil {
			return nil, err
		}

		for name, api := range file.APIs {
			if _, exists := merged.APIs[name]; exists {
				return nil, newInvalid(name, "duplicate API defined in %s", filepath.Base(path))
			}
			merged.APIs[name] = api
		}

		// Defaults and security may each appear in at most one file so
		// the merge result does not depend on glob order.
		if file.hasDefaults() {
			if defaultsFrom != "" {
				return nil, newInvalid(filepath.Base(path), "defaults already declared in %s", defaultsFrom)
			}
			merged.Defaults = file.Defaults
			defaultsFrom = filepath.Base(path)
		}
		if file.hasSecurity() {
			if securityFrom != "" {
				return nil, newInvalid(filepath.Base(path), "security already declared in %s", securityFrom)
			}
			merged.Security = file.Security
			securityFrom = filepath.Base(path)
		}
	}

	return merged, nil
}

// hasDefaults reports whether the defaults section was declared.
func (f *File) hasDefaults() bool {
	d := &f.Defaults
	return d.TimeoutSeconds != 0 || d.MaxResponseBytes != 0 || d.UserAgent != "" ||
		d.Retry.MaxAttempts != 0 || d.Retry.InitialBackoff != 0 ||
		d.Retry.RetryableStatus != nil
}

// hasSecurity reports whether the security section was declared.
func (f *File) hasSecurity() bool {
	return len(f.Security.AllowedHosts) > 0 || len(f.Security.AllowPrivateHosts) > 0
}

// parseFile decodes one YAML document.
func parseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidDefinition, Name: path, Reason: "cannot read file", Cause: err}
	}
	return Parse(data, path)
}

// Parse decodes a YAML configuration document. Unknown fields are
// rejected so typos fail loudly instead of being silently dropped.
func Parse(data []byte, source string) (*File, error) {
	var file File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, &Error{Kind: ErrInvalidDefinition, Name: source, Reason: "YAML parse failed", Cause: err}
	}

	if file.APIs == nil {
		file.APIs = make(map[string]*API)
	}

	// Fill names from map keys.
	for name, api := range file.APIs {
		if api == nil {
			return nil, newInvalid(name, "empty API definition")
		}
		api.Name = name
		for epName, ep := range api.Endpoints {
			if ep == nil {
				return nil, newInvalid(name, "empty endpoint definition %q", epName)
			}
			ep.Name = epName
		}
	}

	return &file, nil
}
