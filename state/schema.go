// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package state

import (
	"fmt"

	memdb "github.com/hashicorp/go-memdb"
)

const (
	tableIndex       = "index"
	tableWasmPlugins = "wasm-plugins"

	indexID        = "id"
	indexNamespace = "namespace"
)

// newDBSchema creates the database schema. Adding a table with a name that
// is already registered is a programming error and panics.
func newDBSchema() *memdb.DBSchema {
	db := &memdb.DBSchema{Tables: make(map[string]*memdb.TableSchema)}

	addTableSchemas(db,
		indexTableSchema,
		wasmPluginsTableSchema,
	)
	return db
}

func addTableSchemas(db *memdb.DBSchema, schemas ...func() *memdb.TableSchema) {
	for _, fn := range schemas {
		schema := fn()
		if _, ok := db.Tables[schema.Name]; ok {
			panic(fmt.Sprintf("duplicate table name: %s", schema.Name))
		}
		db.Tables[schema.Name] = schema
	}
}

// indexTableSchema returns a new table schema used for tracking the most
// recent index that modified each table.
func indexTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: tableIndex,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.StringFieldIndex{
					Field:     "Key",
					Lowercase: true,
				},
			},
		},
	}
}

// wasmPluginsTableSchema returns a new table schema used for storing wasm
// plugin entries. The id index is the lowercased namespace and name, so
// lookups are case insensitive and full iteration yields entries ordered by
// namespace then name.
func wasmPluginsTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: tableWasmPlugins,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{
							Field:     "Namespace",
							Lowercase: true,
						},
						&memdb.StringFieldIndex{
							Field:     "Name",
							Lowercase: true,
						},
					},
				},
			},
			indexNamespace: {
				Name:         indexNamespace,
				AllowMissing: false,
				Unique:       false,
				Indexer: &memdb.StringFieldIndex{
					Field:     "Namespace",
					Lowercase: true,
				},
			},
		},
	}
}
