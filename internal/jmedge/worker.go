package jmedge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrInstallFailed wraps every failed install attempt.
var ErrInstallFailed = errors.New("install failed")

const partitionPrefix = "jm-"

func partitionName(kind, version string) string {
	return partitionPrefix + kind + "-" + version
}

func isShellPartition(name string) bool {
	return strings.HasPrefix(name, partitionPrefix+"shell-")
}

// Worker is one deployed cache version. It only ever reads and writes the
// two partitions named after its own version.
type Worker struct {
	ID      string
	Version string

	store       Store
	origin      *originClient
	shellAssets []string

	tasks  *sync.WaitGroup
	errLog *rateLimitedLogger
}

func (w *Worker) ShellName() string  { return partitionName("shell", w.Version) }
func (w *Worker) StaticName() string { return partitionName("static", w.Version) }

func (w *Worker) String() string {
	return fmt.Sprintf("%s (%s)", w.Version, w.ID[:8])
}

func newWorker(rt *Runtime, version string, origin *originClient, shellAssets []string) *Worker {
	return &Worker{
		ID:          uuid.NewString(),
		Version:     version,
		store:       rt.store,
		origin:      origin,
		shellAssets: shellAssets,
		tasks:       &rt.tasks,
		errLog:      rt.errLog,
	}
}

// Install fetches the whole shell asset set and stores it in one batch.
// A single failed fetch or non-2xx status fails the install and nothing is
// written.
func (w *Worker) Install(ctx context.Context) error {
	results := make([]CacheEntry, len(w.shellAssets))
	g, gctx := errgroup.WithContext(ctx)
	for i, uri := range w.shellAssets {
		i, uri := i, uri
		g.Go(func() error {
			ent, err := w.origin.fetch(gctx, uri, nil)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", uri, err)
			}
			if !ent.OK() {
				return fmt.Errorf("fetch %s: status %d", uri, ent.Status)
			}
			results[i] = ent
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInstallFailed, w.Version, err)
	}

	shell, err := w.store.Open(w.ShellName())
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInstallFailed, w.Version, err)
	}
	batch := make(map[string]CacheEntry, len(results))
	for i, uri := range w.shellAssets {
		batch[uri] = storedEntry(results[i])
	}
	if err := shell.PutAll(batch); err != nil {
		return fmt.Errorf("%w: %s: store shell: %w", ErrInstallFailed, w.Version, err)
	}
	return nil
}

// Activate deletes every partition that is not one of this worker's own and
// returns the deleted names.
func (w *Worker) Activate(ctx context.Context) ([]string, error) {
	names, err := w.store.Names()
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	var deleted []string
	for _, name := range names {
		if name == w.ShellName() || name == w.StaticName() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		ok, err := w.store.Delete(name)
		if err != nil {
			return deleted, fmt.Errorf("delete partition %s: %w", name, err)
		}
		if ok {
			deleted = append(deleted, name)
		}
	}
	return deleted, nil
}

func (w *Worker) match(partition, key string) (CacheEntry, bool) {
	p, ok, err := w.store.Lookup(partition)
	if err != nil {
		w.errLog.Printf("open %s: %v", partition, err)
		return CacheEntry{}, false
	}
	if !ok {
		return CacheEntry{}, false
	}
	ent, ok, err := p.Match(key)
	if err != nil {
		w.errLog.Printf("match %s %s: %v", partition, key, err)
		return CacheEntry{}, false
	}
	return ent, ok
}

func (w *Worker) put(partition, key string, ent CacheEntry) {
	p, err := w.store.Open(partition)
	if err != nil {
		w.errLog.Printf("open %s: %v", partition, err)
		return
	}
	if err := p.Put(key, storedEntry(ent)); err != nil {
		w.errLog.Printf("put %s %s: %v", partition, key, err)
	}
}
