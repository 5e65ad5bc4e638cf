// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package plugincfg

import (
	"context"
	"errors"
	"sync"

	metrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/wasmchain/state"
)

const defaultChainCacheSize = 128

// ManagerConfig holds the external dependencies of a Manager.
type ManagerConfig struct {
	// Store is the state store to watch for plugin entry changes.
	Store *state.Store

	// Matcher decides which plugin entries apply to a workload.
	Matcher WorkloadMatcher

	// Logger is the logger for messages about the chain lifecycle. A nil
	// logger is replaced with a default one.
	Logger hclog.Logger

	// ChainCacheSize bounds the shared resolved-chain cache. Zero or
	// negative means the default size.
	ChainCacheSize int
}

// Manager tracks registered workloads and maintains the resolved plugin
// chain for each of them. Consumers subscribe to chain changes with Watch.
type Manager struct {
	ManagerConfig

	mu         sync.Mutex
	workloads  map[string]*workloadState
	watchers   map[string]map[uint64]chan *ChainSnapshot
	maxWatchID uint64
	memo       *chainMemo
}

// NewManager constructs a Manager from its config.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil || cfg.Matcher == nil {
		return nil, errors.New("a Store and a Matcher are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.New(&hclog.LoggerOptions{Name: "plugincfg"})
	}
	if cfg.ChainCacheSize <= 0 {
		cfg.ChainCacheSize = defaultChainCacheSize
	}

	memo, err := newChainMemo(cfg.ChainCacheSize)
	if err != nil {
		return nil, err
	}

	return &Manager{
		ManagerConfig: cfg,
		workloads:     make(map[string]*workloadState),
		watchers:      make(map[string]map[uint64]chan *ChainSnapshot),
		memo:          memo,
	}, nil
}

// Register tells the Manager to track the given workload and maintain its
// plugin chain. Registering an unchanged workload again is a no-op; if the
// labels changed, the old state is discarded and rebuilt so the chain is
// re-matched from scratch.
func (m *Manager) Register(w Workload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w.ID == "" {
		return errors.New("workload ID is required")
	}

	if existing, ok := m.workloads[w.ID]; ok {
		if !existing.Changed(w) {
			return nil
		}
		existing.Close()
		delete(m.workloads, w.ID)
	}

	st := newWorkloadState(w, m.Store, m.Matcher, m.memo, m.Logger)
	m.workloads[w.ID] = st

	ch := st.Watch()
	go func() {
		for snap := range ch {
			m.notify(snap)
		}
	}()

	return nil
}

// Deregister tells the Manager to stop tracking the given workload.
func (m *Manager) Deregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.workloads[id]
	if !ok {
		return
	}

	// Closing the state lets the goroutine started in Register finish since
	// the snapshot chan is closed by the state's run loop.
	st.Close()
	delete(m.workloads, id)

	// Watchers are intentionally left open. There is no new chain for them
	// and closing their chans would be indistinguishable from an error; with
	// no state behind them they simply stop receiving updates.
}

func (m *Manager) notify(snap *ChainSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	watchers, ok := m.watchers[snap.Workload.ID]
	if !ok {
		return
	}
	for _, ch := range watchers {
		m.deliverLatest(snap, ch)
	}
}

// deliverLatest delivers the snapshot to a watch chan. If the delivery
// blocks, it drains the chan and then re-attempts the delivery so that a
// slow consumer gets the latest chain rather than backing up the manager.
// This must be called with m.mu held, which makes us the only sender on ch.
func (m *Manager) deliverLatest(snap *ChainSnapshot, ch chan *ChainSnapshot) {
	// Send if chan is empty
	select {
	case ch <- snap:
		metrics.IncrCounter([]string{"plugincfg", "snapshot", "delivered"}, 1)
		return
	default:
	}

	// Not empty, drain the chan
OUTER:
	for {
		select {
		case <-ch:
			continue
		default:
			break OUTER
		}
	}

	// Now send again
	select {
	case ch <- snap:
		metrics.IncrCounter([]string{"plugincfg", "snapshot", "delivered"}, 1)
	default:
		// Can't happen: we are the only sender while holding the lock and
		// the chan was just drained.
		panic("failed to deliver ChainSnapshot to plugincfg watchers")
	}
}

// Watch subscribes to the plugin chain for the given workload ID. The
// returned chan delivers the current snapshot as soon as one is available
// and then a new one on every chain change. The chan buffers one snapshot,
// so slow consumers only ever observe the latest. The returned cancel func
// must be called when the watch is no longer needed.
func (m *Manager) Watch(id string) (<-chan *ChainSnapshot, context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// This buffering is crucial, otherwise we'd block immediately trying to
	// deliver the current snapshot below if one is already ready.
	ch := make(chan *ChainSnapshot, 1)
	watchID := m.maxWatchID
	m.maxWatchID++

	if _, ok := m.watchers[id]; !ok {
		m.watchers[id] = make(map[uint64]chan *ChainSnapshot)
	}
	m.watchers[id][watchID] = ch

	// Deliver the current snapshot immediately if there is one ready. The
	// chan is buffered and has never been handed out, so this cannot block.
	if st, ok := m.workloads[id]; ok {
		if snap := st.CurrentSnapshot(); snap != nil {
			ch <- snap
		}
	}

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.closeWatchLocked(id, watchID)
	}
}

// closeWatchLocked cleans up state related to a single watcher. It assumes
// the lock is held.
func (m *Manager) closeWatchLocked(id string, watchID uint64) {
	if watchers, ok := m.watchers[id]; ok {
		if ch, ok := watchers[watchID]; ok {
			delete(watchers, watchID)
			close(ch)
			if len(watchers) == 0 {
				delete(m.watchers, id)
			}
		}
	}
}

// Close removes all state and stops all running watches.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Close all current watchers first
	for id, watchers := range m.watchers {
		for watchID := range watchers {
			m.closeWatchLocked(id, watchID)
		}
	}

	for id, st := range m.workloads {
		st.Close()
		delete(m.workloads, id)
	}
	return nil
}
