package jmedge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeOrigin serves every default shell asset plus whatever routes a test
// registers. Unknown paths answer 404.
type fakeOrigin struct {
	*httptest.Server

	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	hits   map[string]int
	last   *http.Request
}

func newFakeOrigin(t *testing.T) *fakeOrigin {
	t.Helper()
	o := &fakeOrigin{routes: map[string]http.HandlerFunc{}, hits: map[string]int{}}
	for _, p := range defaultShellAssets {
		o.routes[p] = textHandler(http.StatusOK, "asset:"+p)
	}
	o.Server = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.Close)
	return o
}

func (o *fakeOrigin) serve(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	h, ok := o.routes[r.URL.Path]
	o.hits[r.URL.Path]++
	o.last = r.Clone(context.Background())
	o.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (o *fakeOrigin) handle(path string, h http.HandlerFunc) {
	o.mu.Lock()
	o.routes[path] = h
	o.mu.Unlock()
}

func (o *fakeOrigin) hitCount(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func (o *fakeOrigin) lastRequest() *http.Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

func textHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}
}

// dropConn closes the connection without a response, the way an offline
// network looks to the client.
func dropConn(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	_ = conn.Close()
}

func testConfig(t *testing.T, origin string, opts ...func(*Config)) Config {
	t.Helper()
	doc := fmt.Sprintf(`
server:
  origin: %s
cache:
  version: v1
install:
  retryEvery: 1h
`, origin)
	cfg, err := ParseConfig([]byte(doc))
	require.NoError(t, err)
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// newTestService starts a service against origin and waits until the
// configured version is active.
func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	s, err := NewService(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.Eventually(t, func() bool { return s.rt.Active() != nil }, 5*time.Second, 10*time.Millisecond)
	return s
}

func navigate(path string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.Header.Set("Sec-Fetch-Mode", "navigate")
	r.Header.Set("Sec-Fetch-Dest", "document")
	return r
}

func subresource(path, dest string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.Header.Set("Sec-Fetch-Mode", "no-cors")
	if dest != "" {
		r.Header.Set("Sec-Fetch-Dest", dest)
	}
	return r
}

func serve(s *Service, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, r)
	return rec
}

func partitionEntry(t *testing.T, st Store, name, key string) (CacheEntry, bool) {
	t.Helper()
	p, ok, err := st.Lookup(name)
	require.NoError(t, err)
	if !ok {
		return CacheEntry{}, false
	}
	ent, ok, err := p.Match(key)
	require.NoError(t, err)
	return ent, ok
}

func okEntry(body string) CacheEntry {
	return CacheEntry{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte(body),
	}
}
