// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package state

import (
	"fmt"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/hashicorp/wasmchain/structs"
)

// EnsureWasmPlugin is called to do an upsert of a given wasm plugin entry.
// The entry must have been normalized first. Once inserted the entry is
// owned by the store and must not be modified, so callers that want to keep
// mutating their copy should insert a clone.
func (s *Store) EnsureWasmPlugin(idx uint64, entry *structs.WasmPluginEntry) error {
	tx := s.db.Txn(true)
	defer tx.Abort()

	if err := ensureWasmPluginTxn(tx, idx, entry); err != nil {
		return err
	}

	tx.Commit()
	return nil
}

// ensureWasmPluginTxn upserts a wasm plugin entry inside of a transaction.
func ensureWasmPluginTxn(tx WriteTxn, idx uint64, entry *structs.WasmPluginEntry) error {
	if entry == nil {
		return fmt.Errorf("cannot insert nil wasm plugin entry")
	}
	if entry.Hash == 0 {
		return fmt.Errorf("wasm plugin entry %q was not normalized before insert", entry.PluginID())
	}

	// Check for existing configuration.
	existing, err := tx.First(tableWasmPlugins, indexID, entry.Namespace, entry.Name)
	if err != nil {
		return fmt.Errorf("failed wasm plugin lookup: %s", err)
	}

	entryIndex := entry.GetEntryIndex()
	if existing != nil {
		entryIndex.CreateIndex = existing.(*structs.WasmPluginEntry).GetEntryIndex().CreateIndex
	} else {
		entryIndex.CreateIndex = idx
	}
	entryIndex.ModifyIndex = idx

	// Insert the entry and update the index.
	if err := tx.Insert(tableWasmPlugins, entry); err != nil {
		return fmt.Errorf("failed inserting wasm plugin entry: %s", err)
	}
	if err := indexUpdateMaxTxn(tx, idx, tableWasmPlugins); err != nil {
		return fmt.Errorf("failed updating index: %v", err)
	}
	return nil
}

// DeleteWasmPlugin is called to delete a single wasm plugin entry. Deleting
// an entry that does not exist is a no-op.
func (s *Store) DeleteWasmPlugin(idx uint64, namespace, name string) error {
	tx := s.db.Txn(true)
	defer tx.Abort()

	if err := deleteWasmPluginTxn(tx, idx, namespace, name); err != nil {
		return err
	}

	tx.Commit()
	return nil
}

func deleteWasmPluginTxn(tx WriteTxn, idx uint64, namespace, name string) error {
	existing, err := tx.First(tableWasmPlugins, indexID, structs.NamespaceOrDefault(namespace), name)
	if err != nil {
		return fmt.Errorf("failed wasm plugin lookup: %s", err)
	}
	if existing == nil {
		return nil
	}

	// Delete the entry from the DB and update the index.
	if err := tx.Delete(tableWasmPlugins, existing); err != nil {
		return fmt.Errorf("failed removing wasm plugin entry: %s", err)
	}
	if err := tx.Insert(tableIndex, &IndexEntry{tableWasmPlugins, idx}); err != nil {
		return fmt.Errorf("failed updating index: %s", err)
	}
	return nil
}

// WasmPlugin is called to get the wasm plugin entry with the given namespace
// and name. An empty namespace is looked up in the default namespace.
func (s *Store) WasmPlugin(ws memdb.WatchSet, namespace, name string) (uint64, *structs.WasmPluginEntry, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()
	return wasmPluginTxn(tx, ws, namespace, name)
}

func wasmPluginTxn(tx ReadTxn, ws memdb.WatchSet, namespace, name string) (uint64, *structs.WasmPluginEntry, error) {
	// Get the index
	idx := maxIndexTxn(tx, tableWasmPlugins)

	// Get the existing entry.
	watchCh, existing, err := tx.FirstWatch(tableWasmPlugins, indexID, structs.NamespaceOrDefault(namespace), name)
	if err != nil {
		return 0, nil, fmt.Errorf("failed wasm plugin lookup: %s", err)
	}
	ws.Add(watchCh)
	if existing == nil {
		return idx, nil, nil
	}

	return idx, existing.(*structs.WasmPluginEntry), nil
}

// WasmPlugins is called to get all wasm plugin entries, ordered by namespace
// then name.
func (s *Store) WasmPlugins(ws memdb.WatchSet) (uint64, []*structs.WasmPluginEntry, error) {
	return s.WasmPluginsInNamespace(ws, "")
}

// WasmPluginsInNamespace is called to get all wasm plugin entries registered
// in the given namespace, ordered by name. If namespace is empty, entries
// from every namespace are returned.
func (s *Store) WasmPluginsInNamespace(ws memdb.WatchSet, namespace string) (uint64, []*structs.WasmPluginEntry, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()
	return wasmPluginsTxn(tx, ws, namespace)
}

func wasmPluginsTxn(tx ReadTxn, ws memdb.WatchSet, namespace string) (uint64, []*structs.WasmPluginEntry, error) {
	// Get the index and watch for updates
	idx := maxIndexWatchTxn(tx, ws, tableWasmPlugins)

	// Lookup by namespace, or all if namespace is empty
	var iter memdb.ResultIterator
	var err error
	if namespace != "" {
		iter, err = tx.Get(tableWasmPlugins, indexNamespace, namespace)
	} else {
		iter, err = tx.Get(tableWasmPlugins, indexID)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed wasm plugin lookup: %s", err)
	}
	ws.Add(iter.WatchCh())

	var results []*structs.WasmPluginEntry
	for v := iter.Next(); v != nil; v = iter.Next() {
		results = append(results, v.(*structs.WasmPluginEntry))
	}
	return idx, results, nil
}
