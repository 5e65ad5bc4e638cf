// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package configfile loads wasm plugin entries from configuration files,
// one entry per file in HCL or JSON form, and keeps a state store in sync
// with a directory of them.
package configfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl"

	"github.com/hashicorp/wasmchain/structs"
)

const (
	FormatHCL  = "hcl"
	FormatJSON = "json"
)

// FormatFrom returns the configuration format implied by the file name, or
// an empty string for files that are not plugin entry files.
func FormatFrom(name string) string {
	switch {
	case strings.HasSuffix(name, ".json"):
		return FormatJSON
	case strings.HasSuffix(name, ".hcl"):
		return FormatHCL
	default:
		return ""
	}
}

// ParseEntry parses a single wasm plugin entry from data, then normalizes
// and validates it. Entries that fail validation are rejected here, so
// everything downstream of this boundary can rely on well-formed entries.
func ParseEntry(format, data string) (*structs.WasmPluginEntry, error) {
	var raw map[string]interface{}
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal([]byte(data), &raw)
	case FormatHCL:
		err = hcl.Decode(&raw, data)
	default:
		err = fmt.Errorf("invalid format: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}

	entry, err := structs.DecodeWasmPlugin(raw)
	if err != nil {
		return nil, err
	}
	if err := entry.Normalize(); err != nil {
		return nil, err
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	return entry, nil
}

// ParseFile reads one wasm plugin entry from the file at path. The format
// is chosen by extension, .hcl or .json.
func ParseFile(path string) (*structs.WasmPluginEntry, error) {
	format := FormatFrom(path)
	if format == "" {
		return nil, fmt.Errorf("file %s has an unsupported extension, want .hcl or .json", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	entry, err := ParseEntry(format, string(data))
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", path, err)
	}
	return entry, nil
}

// LoadDir parses every wasm plugin entry file directly under dir in lexical
// filename order. Dotfiles, subdirectories and files with other extensions
// are skipped. Defining the same (namespace, name) twice is an error, and
// any bad file fails the whole load so a partial directory is never applied.
func LoadDir(dir string) ([]*structs.WasmPluginEntry, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var (
		entries []*structs.WasmPluginEntry
		merr    *multierror.Error
		seen    = make(map[structs.PluginID]string)
	)
	for _, dirent := range dirents {
		if dirent.IsDir() || strings.HasPrefix(dirent.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, dirent.Name())
		if FormatFrom(path) == "" {
			continue
		}

		entry, err := ParseFile(path)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}

		id := entry.PluginID()
		if prev, ok := seen[id]; ok {
			merr = multierror.Append(merr, fmt.Errorf("file %s: wasm plugin %s is already defined in %s", path, id, prev))
			continue
		}
		seen[id] = path
		entries = append(entries, entry)
	}

	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return entries, nil
}
