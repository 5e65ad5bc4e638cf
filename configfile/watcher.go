// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package configfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/wasmchain/state"
	"github.com/hashicorp/wasmchain/structs"
)

const reconcileTimeout = 200 * time.Millisecond

// Watcher keeps a state store in sync with a directory of wasm plugin entry
// files. Filesystem events trigger a resync of the whole directory, and a
// reconcile ticker catches anything the platform's notifications miss (bind
// mounts and some network filesystems do not emit events reliably).
//
// Unlike LoadDir, a file that fails to parse or validate only loses its own
// entry: the rest of the directory is still applied, so one bad edit cannot
// take down every other plugin.
type Watcher struct {
	dir     string
	store   *state.Store
	watcher *fsnotify.Watcher
	logger  hclog.Logger

	reconcileTimeout time.Duration

	// nextIndex is the store index assigned to the next write. Seeded past
	// the store's high water mark, then owned by the watch loop.
	nextIndex uint64

	// known tracks the content hash of every entry this watcher has ensured
	// in the store, keyed by identity, so a resync can skip unchanged files
	// and delete entries whose files are gone.
	known map[structs.PluginID]uint64
}

// NewWatcher returns a Watcher syncing dir into store. The directory must
// exist. Run must be called for any syncing to happen.
func NewWatcher(dir string, store *state.Store, logger hclog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = hclog.New(nil)
	}

	fi, err := os.Lstat(dir)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symbolic links are not supported %s", dir)
	}

	ws, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := ws.Add(dir); err != nil {
		ws.Close()
		return nil, fmt.Errorf("error adding directory %q: %w", dir, err)
	}

	return &Watcher{
		dir:              filepath.Clean(dir),
		store:            store,
		watcher:          ws,
		logger:           logger.Named("file-watcher"),
		reconcileTimeout: reconcileTimeout,
		known:            make(map[structs.PluginID]uint64),
	}, nil
}

// Run performs an initial sync and then blocks, resyncing the directory on
// every filesystem event and on the reconcile interval, until ctx is
// cancelled. The underlying filesystem watch is released before returning.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	// Seed the write index from the store so we never move its high water
	// mark backwards, then pick up whatever is already in the directory.
	idx, entries, err := w.store.WasmPlugins(nil)
	if err != nil {
		return fmt.Errorf("failed initial store lookup: %w", err)
	}
	w.nextIndex = idx + 1
	for _, entry := range entries {
		w.known[entry.PluginID()] = entry.Hash
	}
	if err := w.sync(); err != nil {
		return err
	}

	ticker := time.NewTicker(w.reconcileTimeout)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher event channel is closed")
			}
			w.logger.Trace("received watcher event", "event", event)
			if !isEntryFileEvent(event) {
				continue
			}
			if err := w.sync(); err != nil {
				w.logger.Error("error syncing plugin entry files", "error", err, "event", event)
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel is closed")
			}
		case <-ticker.C:
			if err := w.sync(); err != nil {
				w.logger.Error("error syncing plugin entry files", "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// isEntryFileEvent reports whether the event concerns a file the watcher
// would load, so edits to unrelated files in the directory don't trigger a
// resync ahead of the reconcile tick.
func isEntryFileEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(event.Name)
	return !strings.HasPrefix(name, ".") && FormatFrom(name) != ""
}

// sync reloads the directory and applies the difference to the store:
// entries whose content hash changed are ensured, entries whose files are
// gone are deleted. Files that fail to load are skipped and their previous
// store state, if any, is left alone until the file is fixed or removed.
func (w *Watcher) sync() error {
	dirents, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}

	desired := make(map[structs.PluginID]*structs.WasmPluginEntry)
	for _, dirent := range dirents {
		if dirent.IsDir() || strings.HasPrefix(dirent.Name(), ".") {
			continue
		}
		path := filepath.Join(w.dir, dirent.Name())
		if FormatFrom(path) == "" {
			continue
		}

		entry, err := ParseFile(path)
		if err != nil {
			w.logger.Error("skipping plugin entry file", "file", path, "error", err)
			continue
		}

		id := entry.PluginID()
		if _, ok := desired[id]; ok {
			w.logger.Error("skipping duplicate plugin entry", "file", path, "id", id.String())
			continue
		}
		desired[id] = entry
	}

	for id, entry := range desired {
		if hash, ok := w.known[id]; ok && hash == entry.Hash {
			continue
		}
		if err := w.store.EnsureWasmPlugin(w.nextIndex, entry); err != nil {
			w.logger.Error("failed to store plugin entry", "id", id.String(), "error", err)
			continue
		}
		w.logger.Debug("updated plugin entry", "id", id.String())
		w.known[id] = entry.Hash
		w.nextIndex++
	}

	for id := range w.known {
		if _, ok := desired[id]; ok {
			continue
		}
		if err := w.store.DeleteWasmPlugin(w.nextIndex, id.Namespace, id.Name); err != nil {
			w.logger.Error("failed to delete plugin entry", "id", id.String(), "error", err)
			continue
		}
		w.logger.Debug("deleted plugin entry", "id", id.String())
		delete(w.known, id)
		w.nextIndex++
	}

	return nil
}
