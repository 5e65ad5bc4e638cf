// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package state

import (
	"testing"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/wasmchain/structs"
)

func TestStore_WasmPlugin(t *testing.T) {
	require := require.New(t)
	s := testStateStore(t)

	expected := testWasmPlugin(t, "default", "openid-connect")

	// Create
	require.NoError(s.EnsureWasmPlugin(1, expected))

	idx, entry, err := s.WasmPlugin(nil, "default", "openid-connect")
	require.NoError(err)
	require.Equal(uint64(1), idx)
	require.Equal(expected, entry)
	require.Equal(uint64(1), entry.CreateIndex)
	require.Equal(uint64(1), entry.ModifyIndex)

	// Update keeps the original create index.
	updated := testWasmPlugin(t, "default", "openid-connect")
	updated.Priority = int64Ptr(100)
	require.NoError(updated.Normalize())
	require.NoError(s.EnsureWasmPlugin(2, updated))

	idx, entry, err = s.WasmPlugin(nil, "default", "openid-connect")
	require.NoError(err)
	require.Equal(uint64(2), idx)
	require.Equal(updated, entry)
	require.Equal(uint64(1), entry.CreateIndex)
	require.Equal(uint64(2), entry.ModifyIndex)

	// Delete
	require.NoError(s.DeleteWasmPlugin(3, "default", "openid-connect"))

	idx, entry, err = s.WasmPlugin(nil, "default", "openid-connect")
	require.NoError(err)
	require.Equal(uint64(3), idx)
	require.Nil(entry)

	// Deleting a missing entry is a no-op and leaves the index alone.
	require.NoError(s.DeleteWasmPlugin(4, "default", "openid-connect"))
	require.Equal(uint64(3), s.LastIndex())

	// Set up a watch.
	watched := testWasmPlugin(t, "default", "check-header")
	require.NoError(s.EnsureWasmPlugin(5, watched))

	ws := memdb.NewWatchSet()
	_, _, err = s.WasmPlugin(ws, "default", "check-header")
	require.NoError(err)

	// Make an unrelated modification and make sure the watch doesn't fire.
	require.NoError(s.EnsureWasmPlugin(6, testWasmPlugin(t, "default", "acl-check")))
	require.False(watchFired(ws))

	// Update the watched entry and make sure it fires.
	rewritten := testWasmPlugin(t, "default", "check-header")
	rewritten.FailOpen = true
	require.NoError(rewritten.Normalize())
	require.NoError(s.EnsureWasmPlugin(7, rewritten))
	require.True(watchFired(ws))

	// A delete fires the watch as well.
	ws = memdb.NewWatchSet()
	_, _, err = s.WasmPlugin(ws, "default", "check-header")
	require.NoError(err)
	require.NoError(s.DeleteWasmPlugin(8, "default", "check-header"))
	require.True(watchFired(ws))
}

func TestStore_WasmPlugin_Defaults(t *testing.T) {
	require := require.New(t)
	s := testStateStore(t)

	require.NoError(s.EnsureWasmPlugin(1, testWasmPlugin(t, "", "openid-connect")))

	// An empty namespace resolves to the default namespace on lookup.
	_, entry, err := s.WasmPlugin(nil, "", "openid-connect")
	require.NoError(err)
	require.NotNil(entry)
	require.Equal(structs.DefaultNamespace, entry.Namespace)

	// The id index is case insensitive.
	_, entry, err = s.WasmPlugin(nil, "Default", "OpenID-Connect")
	require.NoError(err)
	require.NotNil(entry)

	require.NoError(s.DeleteWasmPlugin(2, "", "openid-connect"))
	_, entry, err = s.WasmPlugin(nil, "default", "openid-connect")
	require.NoError(err)
	require.Nil(entry)
}

func TestStore_EnsureWasmPlugin_Validation(t *testing.T) {
	require := require.New(t)
	s := testStateStore(t)

	err := s.EnsureWasmPlugin(1, nil)
	require.Error(err)
	require.Contains(err.Error(), "nil wasm plugin")

	// Entries that skipped Normalize carry no hash and are refused.
	raw := &structs.WasmPluginEntry{
		Kind:      structs.WasmPlugin,
		Name:      "openid-connect",
		Namespace: "default",
		URL:       "file:///etc/wasm/openid-connect.wasm",
	}
	err = s.EnsureWasmPlugin(1, raw)
	require.Error(err)
	require.Contains(err.Error(), "not normalized")
}

func TestStore_WasmPlugins(t *testing.T) {
	require := require.New(t)
	s := testStateStore(t)

	// Listing an empty store returns no entries at index 0.
	idx, entries, err := s.WasmPlugins(nil)
	require.NoError(err)
	require.Equal(uint64(0), idx)
	require.Empty(entries)

	// Insert out of order to prove iteration order comes from the index.
	require.NoError(s.EnsureWasmPlugin(1, testWasmPlugin(t, "default", "zebra")))
	require.NoError(s.EnsureWasmPlugin(2, testWasmPlugin(t, "admin", "alpha")))
	require.NoError(s.EnsureWasmPlugin(3, testWasmPlugin(t, "default", "alpha")))

	idx, entries, err = s.WasmPlugins(nil)
	require.NoError(err)
	require.Equal(uint64(3), idx)
	require.Len(entries, 3)

	var ids []string
	for _, entry := range entries {
		ids = append(ids, entry.PluginID().String())
	}
	require.Equal([]string{"admin/alpha", "default/alpha", "default/zebra"}, ids)

	// A list watch fires on any change to the table.
	ws := memdb.NewWatchSet()
	_, _, err = s.WasmPlugins(ws)
	require.NoError(err)
	require.NoError(s.EnsureWasmPlugin(4, testWasmPlugin(t, "default", "beta")))
	require.True(watchFired(ws))

	ws = memdb.NewWatchSet()
	_, _, err = s.WasmPlugins(ws)
	require.NoError(err)
	require.NoError(s.DeleteWasmPlugin(5, "default", "beta"))
	require.True(watchFired(ws))
}

func TestStore_WasmPluginsInNamespace(t *testing.T) {
	require := require.New(t)
	s := testStateStore(t)

	require.NoError(s.EnsureWasmPlugin(1, testWasmPlugin(t, "default", "zebra")))
	require.NoError(s.EnsureWasmPlugin(2, testWasmPlugin(t, "admin", "alpha")))
	require.NoError(s.EnsureWasmPlugin(3, testWasmPlugin(t, "default", "alpha")))

	idx, entries, err := s.WasmPluginsInNamespace(nil, "default")
	require.NoError(err)
	require.Equal(uint64(3), idx)
	require.Len(entries, 2)
	require.Equal("alpha", entries[0].Name)
	require.Equal("zebra", entries[1].Name)

	// Unknown namespaces list nothing but still report the table index.
	idx, entries, err = s.WasmPluginsInNamespace(nil, "nonexistent")
	require.NoError(err)
	require.Equal(uint64(3), idx)
	require.Empty(entries)

	// The empty namespace lists everything.
	_, entries, err = s.WasmPluginsInNamespace(nil, "")
	require.NoError(err)
	require.Len(entries, 3)
}

func int64Ptr(v int64) *int64 {
	return &v
}
