// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package plugincfg maintains the resolved wasm plugin chain for every
// registered workload. The Manager provides an API with which workloads can
// be registered, watches the plugin entries in the state store, filters them
// through the workload's selector matcher and keeps the placement order
// current. Consumers such as a listener configuration server subscribe to
// receive a ChainSnapshot whenever the chain for their workload changes.
package plugincfg

import (
	"github.com/mitchellh/copystructure"

	"github.com/hashicorp/wasmchain/structs"
)

// Workload identifies a single workload instance (a proxy and the labels of
// the pod or service instance behind it) whose plugin chain is maintained.
type Workload struct {
	ID     string
	Labels map[string]string
}

// WorkloadMatcher decides whether a plugin entry's workload selector matches
// a workload. Label matching is owned by the control plane embedding the
// manager, so only the contract lives here.
type WorkloadMatcher interface {
	Matches(w Workload, entry *structs.WasmPluginEntry) bool
}

// MatcherFunc is a function adapter for WorkloadMatcher.
type MatcherFunc func(Workload, *structs.WasmPluginEntry) bool

func (f MatcherFunc) Matches(w Workload, entry *structs.WasmPluginEntry) bool {
	return f(w, entry)
}

// ChainSnapshot captures the resolved plugin chain for one workload. It is
// meant to be point-in-time coherent and is used to deliver the current
// chain to observers who need it to be pushed in (e.g. a listener
// configuration server). Entries are shared with the state store and must be
// treated as read-only.
type ChainSnapshot struct {
	Workload  Workload
	Index     uint64
	ChainHash uint64
	Chain     []*structs.WasmPluginEntry
}

// Clone makes a deep copy of the snapshot we can hand to code that wants to
// mutate entries without worrying about other observers seeing the change.
func (s *ChainSnapshot) Clone() (*ChainSnapshot, error) {
	snapCopy, err := copystructure.Copy(s)
	if err != nil {
		return nil, err
	}
	return snapCopy.(*ChainSnapshot), nil
}
