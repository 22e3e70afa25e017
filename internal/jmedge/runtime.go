package jmedge

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Runtime hosts workers. It owns the store, runs lifecycle steps one at a
// time and routes requests to the active worker.
type Runtime struct {
	store Store

	mu     sync.Mutex
	active atomic.Pointer[Worker]

	tasks  sync.WaitGroup
	errLog *rateLimitedLogger
}

func NewRuntime(store Store) *Runtime {
	return &Runtime{
		store:  store,
		errLog: newRateLimitedLogger(time.Minute),
	}
}

// Active returns the worker currently serving requests, or nil before the
// first successful install.
func (rt *Runtime) Active() *Worker {
	return rt.active.Load()
}

// Register installs w and, on success, activates it straight away and makes
// it the active worker. When install fails the previous worker keeps
// serving and the error wraps ErrInstallFailed.
func (rt *Runtime) Register(ctx context.Context, w *Worker) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if cur := rt.active.Load(); cur != nil && cur.Version == w.Version {
		return nil
	}

	start := time.Now()
	if err := w.Install(ctx); err != nil {
		return err
	}
	log.Printf("worker %s: installed %d shell assets in %s", w, len(w.shellAssets), time.Since(start).Round(time.Millisecond))

	deleted, err := w.Activate(ctx)
	if err != nil {
		return fmt.Errorf("activate %s: %w", w.Version, err)
	}
	prev := rt.active.Swap(w)
	if prev != nil {
		log.Printf("worker %s: activated, replaced %s, deleted partitions %v", w, prev, deleted)
	} else {
		log.Printf("worker %s: activated, deleted partitions %v", w, deleted)
	}
	return nil
}

// Wait blocks until every background task started by workers has finished.
func (rt *Runtime) Wait() {
	rt.tasks.Wait()
}
