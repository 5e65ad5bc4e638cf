// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package state holds the in-memory database of registered wasm plugin
// entries. It is built on go-memdb, so readers see point-in-time snapshots
// and can subscribe to modifications through a memdb.WatchSet, while an
// index table records the last index that modified each table.
package state

import (
	"fmt"

	memdb "github.com/hashicorp/go-memdb"
)

// ReadTxn is implemented by memdb.Txn to perform read operations.
type ReadTxn interface {
	Get(table, index string, args ...interface{}) (memdb.ResultIterator, error)
	First(table, index string, args ...interface{}) (interface{}, error)
	FirstWatch(table, index string, args ...interface{}) (<-chan struct{}, interface{}, error)
	Abort()
}

// WriteTxn is implemented by memdb.Txn to perform write operations.
type WriteTxn interface {
	ReadTxn
	Insert(table string, obj interface{}) error
	Delete(table string, obj interface{}) error
}

// IndexEntry keeps a record of the last index per-table.
type IndexEntry struct {
	Key   string
	Value uint64
}

// Store is where we keep all of the wasm plugin state. The DB is entirely
// in-memory and is rebuilt from the configuration sources on startup, so
// there is no durability concern here.
type Store struct {
	schema *memdb.DBSchema
	db     *memdb.MemDB

	// abandonCh is used to signal watchers that this state store has been
	// abandoned (usually when it is replaced wholesale). This is only ever
	// closed.
	abandonCh chan struct{}
}

// NewStateStore creates a new in-memory state storage layer.
func NewStateStore() *Store {
	// Create the in-memory DB.
	schema := newDBSchema()
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		// the only way for NewMemDB to error is if the schema is invalid. The
		// schema is static and tested to be correct, so any failure here would
		// be a programming error, which should panic.
		panic(fmt.Sprintf("failed to create state store: %v", err))
	}
	return &Store{
		schema:    schema,
		db:        db,
		abandonCh: make(chan struct{}),
	}
}

// AbandonCh returns a channel you can wait on to know if the state store was
// abandoned.
func (s *Store) AbandonCh() <-chan struct{} {
	return s.abandonCh
}

// Abandon is used to signal that the given state store has been abandoned.
// Calling this more than one time will panic.
func (s *Store) Abandon() {
	close(s.abandonCh)
}

// LastIndex returns the last index that modified the wasm plugins table.
func (s *Store) LastIndex() uint64 {
	return s.maxIndex(tableWasmPlugins)
}

// maxIndex is a helper used to retrieve the highest known index
// amongst a set of index keys (e.g. table names) in the db.
func (s *Store) maxIndex(keys ...string) uint64 {
	tx := s.db.Txn(false)
	defer tx.Abort()
	return maxIndexTxn(tx, keys...)
}

// maxIndexTxn is a helper used to retrieve the highest known index
// amongst a set of index keys (e.g. table names) in the db.
func maxIndexTxn(tx ReadTxn, keys ...string) uint64 {
	return maxIndexWatchTxn(tx, nil, keys...)
}

func maxIndexWatchTxn(tx ReadTxn, ws memdb.WatchSet, keys ...string) uint64 {
	var lindex uint64
	for _, key := range keys {
		ch, ti, err := tx.FirstWatch(tableIndex, indexID, key)
		if err != nil {
			panic(fmt.Sprintf("unknown index: %s err: %s", key, err))
		}
		if idx, ok := ti.(*IndexEntry); ok && idx.Value > lindex {
			lindex = idx.Value
		}
		ws.Add(ch)
	}
	return lindex
}

// indexUpdateMaxTxn sets the table's index to the given idx only if it's
// greater than the current index.
func indexUpdateMaxTxn(tx WriteTxn, idx uint64, key string) error {
	ti, err := tx.First(tableIndex, indexID, key)
	if err != nil {
		return fmt.Errorf("failed to retrieve existing index: %s", err)
	}

	// if this is an update check the idx
	if ti != nil {
		cur, ok := ti.(*IndexEntry)
		if !ok {
			return fmt.Errorf("failed updating index %T need to be `*IndexEntry`", ti)
		}
		// Stored index is newer, don't insert the index
		if idx <= cur.Value {
			return nil
		}
	}

	if err := tx.Insert(tableIndex, &IndexEntry{key, idx}); err != nil {
		return fmt.Errorf("failed updating index %s", err)
	}
	return nil
}
