// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package plugincfg

import (
	"sort"
	"time"

	metrics "github.com/armon/go-metrics"
	lru "github.com/hashicorp/golang-lru"
	"github.com/mitchellh/hashstructure/v2"

	"github.com/hashicorp/wasmchain/placement"
	"github.com/hashicorp/wasmchain/structs"
)

// chainMemo caches resolved chains keyed by the content hashes of the
// matched entries. Workloads that match the same set of entries share one
// resolved chain, so a fleet behind a mesh-wide plugin resolves once.
type chainMemo struct {
	cache *lru.TwoQueueCache
}

func newChainMemo(size int) (*chainMemo, error) {
	cache, err := lru.New2Q(size)
	if err != nil {
		return nil, err
	}
	return &chainMemo{cache: cache}, nil
}

// resolve returns the placement order for the given entries, consulting the
// cache first. The returned slice is shared between callers and must not be
// modified.
func (m *chainMemo) resolve(entries []*structs.WasmPluginEntry) ([]*structs.WasmPluginEntry, uint64, error) {
	defer metrics.MeasureSince([]string{"plugincfg", "resolve"}, time.Now())

	key, err := chainKey(entries)
	if err != nil {
		return nil, 0, err
	}

	if cached, ok := m.cache.Get(key); ok {
		metrics.IncrCounter([]string{"plugincfg", "resolve", "cache_hit"}, 1)
		return cached.([]*structs.WasmPluginEntry), key, nil
	}

	chain := placement.Resolve(entries)
	m.cache.Add(key, chain)
	return chain, key, nil
}

// chainKey hashes the set of entry content hashes, insensitive to input
// order. Resolution is deterministic, so the set fully determines the chain.
func chainKey(entries []*structs.WasmPluginEntry) (uint64, error) {
	hashes := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		hashes = append(hashes, entry.GetHash())
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })

	return hashstructure.Hash(hashes, hashstructure.FormatV2, nil)
}
