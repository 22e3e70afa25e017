package jmedge

import (
	"context"
	"net/http"
	"reflect"
	"time"
)

const backgroundFetchTimeout = 30 * time.Second

// cacheKey is the request URI; every intercepted request is same-origin so
// the origin part adds nothing.
func cacheKey(r *http.Request) string {
	return r.URL.RequestURI()
}

// networkFirst serves a navigation from the live origin and falls back to
// the shell partition: first the exact page, then the root document. Only
// success responses are stored.
func (w *Worker) networkFirst(ctx context.Context, r *http.Request) (CacheEntry, string) {
	key := cacheKey(r)
	ent, err := w.origin.fetch(ctx, key, r.Header)
	if err == nil {
		if w.origin.storable(ent) {
			w.put(w.ShellName(), key, ent)
		}
		return ent, outcomeNetwork
	}

	if cached, ok := w.match(w.ShellName(), key); ok {
		return cached, outcomeCache
	}
	if root, ok := w.match(w.ShellName(), "/"); ok {
		return root, outcomeFallbackRoot
	}
	return CacheEntry{}, outcomeNetworkError
}

// staleWhileRevalidate answers from the static partition when it can and
// always refreshes it in the background. A cached copy is returned without
// waiting for the refresh.
func (w *Worker) staleWhileRevalidate(ctx context.Context, r *http.Request) (CacheEntry, string) {
	key := cacheKey(r)
	cached, hit := w.match(w.StaticName(), key)

	hdr := cloneHeader(r.Header)
	done := make(chan *CacheEntry, 1)
	w.tasks.Add(1)
	go func() {
		defer w.tasks.Done()
		bctx, cancel := context.WithTimeout(context.Background(), backgroundFetchTimeout)
		defer cancel()
		var prev *CacheEntry
		if hit {
			prev = &cached
		}
		done <- w.refresh(bctx, key, hdr, prev)
	}()

	if hit {
		return cached, outcomeStale
	}
	select {
	case ent := <-done:
		if ent == nil {
			return CacheEntry{}, outcomeNetworkError
		}
		return *ent, outcomeMiss
	case <-ctx.Done():
		return CacheEntry{}, outcomeNetworkError
	}
}

// refresh fetches key and stores a success response in the static
// partition. Failures are logged and reported as nil.
func (w *Worker) refresh(ctx context.Context, key string, hdr http.Header, prev *CacheEntry) *CacheEntry {
	ent, err := w.origin.fetch(ctx, key, hdr)
	if err != nil {
		w.errLog.Printf("refresh %s: %v", key, err)
		return nil
	}
	if !w.origin.storable(ent) {
		return &ent
	}
	if prev != nil && sameEntry(*prev, storedEntry(ent)) {
		return &ent
	}
	w.put(w.StaticName(), key, ent)
	return &ent
}

// sameEntry reports whether writing b over a would change what clients get
// back. Date and Age differ on every response and are ignored.
func sameEntry(a, b CacheEntry) bool {
	if a.Status != b.Status || a.Hash32 != b.Hash32 || len(a.Body) != len(b.Body) {
		return false
	}
	ah, bh := cloneHeader(a.Header), cloneHeader(b.Header)
	for _, k := range []string{"Date", "Age"} {
		ah.Del(k)
		bh.Del(k)
	}
	return reflect.DeepEqual(ah, bh)
}
