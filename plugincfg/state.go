// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package plugincfg

import (
	"context"
	"reflect"
	"time"

	"github.com/hashicorp/go-hclog"
	memdb "github.com/hashicorp/go-memdb"

	"github.com/hashicorp/wasmchain/state"
	"github.com/hashicorp/wasmchain/structs"
)

const retryFailedLookup = 1 * time.Second

// workloadState holds everything needed to maintain the plugin chain for a
// single registered workload. When the workload registration changes, the
// entire state is discarded and a new one created.
type workloadState struct {
	workload Workload

	store   *state.Store
	matcher WorkloadMatcher
	memo    *chainMemo
	logger  hclog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	snapCh chan *ChainSnapshot
	reqCh  chan chan *ChainSnapshot

	// current is only written by the run goroutine.
	current *ChainSnapshot
}

func newWorkloadState(w Workload, store *state.Store, matcher WorkloadMatcher, memo *chainMemo, logger hclog.Logger) *workloadState {
	ctx, cancel := context.WithCancel(context.Background())
	s := &workloadState{
		workload: w,
		store:    store,
		matcher:  matcher,
		memo:     memo,
		logger:   logger.With("workload", w.ID),
		ctx:      ctx,
		cancel:   cancel,
		snapCh:   make(chan *ChainSnapshot, 10),
		reqCh:    make(chan chan *ChainSnapshot, 1),
	}
	go s.run()
	return s
}

// Watch returns a chan of chain snapshots.
func (s *workloadState) Watch() <-chan *ChainSnapshot {
	return s.snapCh
}

func (s *workloadState) run() {
	defer close(s.snapCh)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.store.AbandonCh():
			s.cancel()
			return
		default:
		}

		ws := memdb.NewWatchSet()
		ws.Add(s.store.AbandonCh())

		idx, entries, err := s.store.WasmPlugins(ws)
		if err != nil {
			s.logger.Error("wasm plugin lookup failed", "error", err)

			select {
			case <-s.ctx.Done():
				return
			case <-time.After(retryFailedLookup):
			}
			continue
		}

		matched := make([]*structs.WasmPluginEntry, 0, len(entries))
		for _, entry := range entries {
			if s.matcher.Matches(s.workload, entry) {
				matched = append(matched, entry)
			}
		}

		chain, hash, err := s.memo.resolve(matched)
		if err != nil {
			s.logger.Error("failed to resolve plugin chain", "error", err)
		} else if s.current == nil || s.current.ChainHash != hash {
			snap := &ChainSnapshot{
				Workload:  s.workload,
				Index:     idx,
				ChainHash: hash,
				Chain:     chain,
			}
			s.current = snap

			select {
			case s.snapCh <- snap:
			case <-s.ctx.Done():
				return
			}
		}

		// Block until the store changes or we are asked for the current
		// snapshot.
		watchCh := ws.WatchCh(s.ctx)
	WAIT:
		for {
			select {
			case <-s.ctx.Done():
				return
			case err := <-watchCh:
				if err != nil {
					// Context was cancelled while blocking.
					return
				}
				break WAIT
			case replyCh := <-s.reqCh:
				replyCh <- s.currentClone()
			}
		}
	}
}

func (s *workloadState) currentClone() *ChainSnapshot {
	if s.current == nil {
		return nil
	}
	snap, err := s.current.Clone()
	if err != nil {
		s.logger.Error("failed to copy chain snapshot", "error", err)
		return nil
	}
	return snap
}

// CurrentSnapshot synchronously returns the current ChainSnapshot if there
// is one ready. If the first resolution has not completed yet, nil is
// returned.
func (s *workloadState) CurrentSnapshot() *ChainSnapshot {
	// Make a chan for the response to be sent on
	ch := make(chan *ChainSnapshot, 1)

	select {
	case s.reqCh <- ch:
	case <-s.ctx.Done():
		return nil
	}

	// Wait for the response
	select {
	case snap := <-ch:
		return snap
	case <-s.ctx.Done():
		return nil
	}
}

// Close discards the state and stops the watch goroutine.
func (s *workloadState) Close() {
	s.cancel()
}

// Changed returns whether the passed workload differs in any way that could
// affect which plugin entries match it.
func (s *workloadState) Changed(w Workload) bool {
	return s.workload.ID != w.ID ||
		!reflect.DeepEqual(s.workload.Labels, w.Labels)
}
