// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package helpers

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"

	"github.com/hashicorp/wasmchain/configfile"
	"github.com/hashicorp/wasmchain/structs"
)

// LoadEntries loads wasm plugin entries from each of the given paths, which
// may name entry files or directories of them. Entries are returned in the
// order the paths produce them; defining the same (namespace, name) through
// more than one path is an error.
func LoadEntries(paths []string) ([]*structs.WasmPluginEntry, error) {
	var (
		entries []*structs.WasmPluginEntry
		merr    *multierror.Error
		seen    = make(map[structs.PluginID]struct{})
	)

	add := func(loaded ...*structs.WasmPluginEntry) {
		for _, entry := range loaded {
			id := entry.PluginID()
			if _, ok := seen[id]; ok {
				merr = multierror.Append(merr, fmt.Errorf("wasm plugin %s is defined more than once", id))
				continue
			}
			seen[id] = struct{}{}
			entries = append(entries, entry)
		}
	}

	for _, path := range paths {
		fi, err := os.Stat(path)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}

		if fi.IsDir() {
			loaded, err := configfile.LoadDir(path)
			if err != nil {
				merr = multierror.Append(merr, err)
				continue
			}
			add(loaded...)
			continue
		}

		entry, err := configfile.ParseFile(path)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		add(entry)
	}

	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return entries, nil
}
