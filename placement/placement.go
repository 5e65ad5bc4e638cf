// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package placement decides the order in which WASM plugin filters are
// attached to a proxy's processing pipeline.
//
// The pipeline has a fixed stage order: authn, authz, stats, and then the
// unspecified stage directly before the terminal router filter. Entries are
// grouped into those stages by phase, ordered within a stage by priority
// (highest first), and ties are broken by namespace and name so that the
// resulting chain is identical on every host that resolves the same set of
// entries.
package placement

import (
	"sort"

	"github.com/hashicorp/wasmchain/structs"
)

// phaseRanks maps each phase to its position in the pipeline. Any phase
// value not present here, including future ones this build does not know,
// ranks with the unspecified stage at the end.
var phaseRanks = map[structs.Phase]int{
	structs.PhaseAuthN:       0,
	structs.PhaseAuthZ:       1,
	structs.PhaseStats:       2,
	structs.PhaseUnspecified: 3,
}

// PhaseRank returns the pipeline position for phase. Lower ranks attach
// earlier in the chain.
func PhaseRank(phase structs.Phase) int {
	if rank, ok := phaseRanks[phase]; ok {
		return rank
	}
	return phaseRanks[structs.PhaseUnspecified]
}

// Resolve returns the entries in attachment order: by phase rank, then by
// priority descending within a phase, then by namespace and name. An unset
// priority ranks the same as an explicit 0.
//
// Resolve is a pure function of its input. The input slice is never
// reordered or otherwise modified, the returned slice is freshly allocated,
// and equal input sets produce identical output regardless of input order.
// Malformed entries are placed, never dropped, so a single bad record cannot
// block the rest of the chain.
func Resolve(entries []*structs.WasmPluginEntry) []*structs.WasmPluginEntry {
	resolved := make([]*structs.WasmPluginEntry, len(entries))
	copy(resolved, entries)

	sort.SliceStable(resolved, func(i, j int) bool {
		return less(resolved[i], resolved[j])
	})
	return resolved
}

func less(a, b *structs.WasmPluginEntry) bool {
	aRank, bRank := PhaseRank(a.Phase), PhaseRank(b.Phase)
	if aRank != bRank {
		return aRank < bRank
	}
	if ap, bp := a.PriorityOrDefault(), b.PriorityOrDefault(); ap != bp {
		return ap > bp
	}
	return a.PluginID().Less(b.PluginID())
}
