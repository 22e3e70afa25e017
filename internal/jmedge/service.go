package jmedge

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

type Service struct {
	cfg Config

	store      Store
	rt         *Runtime
	origin     *originClient
	classifier *Classifier
	proxy      *httputil.ReverseProxy
	gate       *maintenanceGate

	stopCh chan struct{}
	wg     sync.WaitGroup

	updMu     sync.Mutex
	updCancel context.CancelFunc

	stats *statsCollector
}

// NewService opens the cache store and starts installing cfg.Cache.Version
// in the background. Until the install succeeds every request passes
// through to the origin.
func NewService(cfg Config) (*Service, error) {
	target, err := url.Parse(cfg.Server.Origin)
	if err != nil {
		return nil, fmt.Errorf("server.origin: %w", err)
	}
	store, err := OpenStore(cfg.Cache.Dir, cfg.Cache.ramMaxBytes)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:        cfg,
		store:      store,
		rt:         NewRuntime(store),
		origin:     newOriginClient(cfg.Server.Origin, cfg.Cache.maxEntryBytes),
		classifier: NewClassifier(cfg),
		stopCh:     make(chan struct{}),
	}
	s.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.errLogf("proxy %s %s: %v", r.Method, r.URL.Path, err)
			writeNetworkError(w)
		},
	}
	if cfg.Maintenance.Enabled {
		s.gate = newMaintenanceGate(cfg.Maintenance)
	}

	if cfg.Logging.logStatsEveryDur > 0 {
		s.stats = newStatsCollector()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(cfg.Logging.logStatsEveryDur)
		}()
	}

	s.Update(cfg.Cache.Version)
	return s, nil
}

func (s *Service) Close() {
	close(s.stopCh)
	s.updMu.Lock()
	if s.updCancel != nil {
		s.updCancel()
	}
	s.updMu.Unlock()
	s.wg.Wait()
	s.rt.Wait()
	if err := s.store.Close(); err != nil {
		log.Printf("close store: %v", err)
	}
}

func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

// Install makes one attempt to install and activate version.
func (s *Service) Install(ctx context.Context, version string) error {
	w := newWorker(s.rt, version, s.origin, s.cfg.Shell.Assets)
	return s.rt.Register(ctx, w)
}

// Update starts installing version, retrying every install.retryEvery until
// it succeeds. A later Update supersedes a pending one.
func (s *Service) Update(version string) {
	s.updMu.Lock()
	if s.updCancel != nil {
		s.updCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.updCancel = cancel
	s.updMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.installLoop(ctx, version)
	}()
}

func (s *Service) installLoop(ctx context.Context, version string) {
	t := time.NewTicker(s.cfg.Install.retryEveryDur)
	defer t.Stop()
	for {
		err := s.Install(ctx, version)
		if err == nil || ctx.Err() != nil {
			return
		}
		log.Printf("install %s: %v (retry in %s)", version, err, s.cfg.Install.retryEveryDur)
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	route := s.classifier.Classify(r)

	if s.gate != nil && route != RouteStaticAsset && !strings.HasPrefix(r.URL.Path, "/api/") {
		if s.gate.intercept(w, r) {
			s.observe(outcomeMaintenance, 0)
			return
		}
	}

	wk := s.rt.Active()
	if wk == nil {
		s.proxyPass(w, r, outcomeNoWorker)
		return
	}

	var (
		ent     CacheEntry
		outcome string
	)
	switch route {
	case RouteNavigate:
		ent, outcome = wk.networkFirst(r.Context(), r)
	case RouteStaticAsset:
		ent, outcome = wk.staleWhileRevalidate(r.Context(), r)
	default:
		s.proxyPass(w, r, outcomeBypass)
		return
	}

	if outcome == outcomeNetworkError {
		writeNetworkError(w)
		s.observe(outcome, 0)
		return
	}
	writeEntry(w, ent, outcome)
	s.observe(outcome, len(ent.Body))
}

func (s *Service) proxyPass(w http.ResponseWriter, r *http.Request, outcome string) {
	setJmedgeHeaders(w.Header(), outcome)
	s.proxy.ServeHTTP(w, r)
	s.observe(outcome, 0)
}

// writeNetworkError is the equivalent of a failed fetch: no body, no
// cached headers.
func writeNetworkError(w http.ResponseWriter) {
	setJmedgeHeaders(w.Header(), outcomeNetworkError)
	w.WriteHeader(http.StatusBadGateway)
}

func writeEntry(w http.ResponseWriter, ent CacheEntry, outcome string) {
	for k, vs := range ent.Header {
		if strings.EqualFold(k, "x-jmedge") {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setJmedgeHeaders(w.Header(), outcome)
	w.WriteHeader(ent.Status)
	_, _ = w.Write(ent.Body)
}

func setJmedgeHeaders(h http.Header, outcome string) {
	if outcome != "" {
		h.Set("X-Jmedge", outcome)
	}
	// If this is used from a browser in a CORS context, custom headers are not
	// readable by JS unless explicitly exposed.
	ensureExposedHeader(h, "X-Jmedge")
}

func ensureExposedHeader(h http.Header, name string) {
	if name == "" {
		return
	}

	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}

	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}

	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}

func (s *Service) errLogf(format string, args ...any) {
	s.rt.errLog.Printf(format, args...)
}

func (s *Service) observe(outcome string, respBytes int) {
	if s.stats != nil {
		s.stats.Observe(outcome, respBytes)
	}
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			ss := s.stats.Snapshot()
			line := fmt.Sprintf(
				"Worker: %s, Partitions: %s, Outcomes: %s, Resp Min/avg/max %s/%s/%s",
				s.activeLabel(),
				s.partitionSummary(),
				formatOutcomes(ss.Outcomes),
				formatBytes(ss.MinRespBytes),
				formatBytes(ss.AvgRespBytes),
				formatBytes(ss.MaxRespBytes),
			)
			if rss, ok := processRSSBytes(); ok {
				line += ", RSS: " + formatBytes(rss)
			}
			log.Print(line)
		}
	}
}

func (s *Service) activeLabel() string {
	if wk := s.rt.Active(); wk != nil {
		return wk.String()
	}
	return "none"
}

// partitionSummary renders "name=entries" for every partition in the store.
func (s *Service) partitionSummary() string {
	names, err := s.store.Names()
	if err != nil {
		return "error: " + err.Error()
	}
	parts := make([]string, 0, len(names))
	for _, name := range names {
		p, ok, err := s.store.Lookup(name)
		if err != nil || !ok {
			continue
		}
		keys, err := p.Keys()
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%d", name, len(keys)))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}
