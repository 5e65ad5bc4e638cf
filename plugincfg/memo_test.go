// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package plugincfg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashicorp/wasmchain/structs"
)

func TestChainMemo_ResolveShared(t *testing.T) {
	memo, err := newChainMemo(16)
	require.NoError(t, err)

	a := testPlugin(t, "a-plugin", structs.PhaseStats, nil, nil)
	b := testPlugin(t, "b-plugin", structs.PhaseStats, nil, nil)

	chain1, hash1, err := memo.resolve([]*structs.WasmPluginEntry{a, b})
	require.NoError(t, err)
	chain2, hash2, err := memo.resolve([]*structs.WasmPluginEntry{b, a})
	require.NoError(t, err)

	// The same set keys the same cache slot regardless of input order, so
	// the second resolve hands back the first chain.
	require.Equal(t, hash1, hash2)
	require.Equal(t, chain1, chain2)
	require.True(t, &chain1[0] == &chain2[0])

	require.Equal(t, "a-plugin", chain1[0].Name)
	require.Equal(t, "b-plugin", chain1[1].Name)
}

func TestChainMemo_DistinctSets(t *testing.T) {
	memo, err := newChainMemo(16)
	require.NoError(t, err)

	a := testPlugin(t, "a-plugin", structs.PhaseAuthN, nil, nil)
	b := testPlugin(t, "b-plugin", structs.PhaseAuthZ, nil, nil)

	chain1, hash1, err := memo.resolve([]*structs.WasmPluginEntry{a})
	require.NoError(t, err)
	chain2, hash2, err := memo.resolve([]*structs.WasmPluginEntry{a, b})
	require.NoError(t, err)

	require.NotEqual(t, hash1, hash2)
	require.Len(t, chain1, 1)
	require.Len(t, chain2, 2)
}

func TestChainKey_Empty(t *testing.T) {
	key1, err := chainKey(nil)
	require.NoError(t, err)

	key2, err := chainKey([]*structs.WasmPluginEntry{})
	require.NoError(t, err)

	require.Equal(t, key1, key2)
}
