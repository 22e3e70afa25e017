package jmedge

import (
	"net/http"
	"strings"
)

// Classifier decides whether a request is intercepted and by which strategy.
type Classifier struct {
	// Origin is the application's own origin ("https://host[:port]"). An
	// empty origin treats every request as same-origin.
	Origin string

	Prefixes     []string
	Files        []string
	Destinations []string
}

func NewClassifier(cfg Config) *Classifier {
	return &Classifier{
		Origin:       cfg.Server.PublicOrigin,
		Prefixes:     cfg.Static.Prefixes,
		Files:        cfg.Static.Files,
		Destinations: cfg.Static.Destinations,
	}
}

// Classify checks, in this order: method, origin, /api/ prefix, navigation
// mode, static asset rules. The order decides which requests get cached.
func (c *Classifier) Classify(r *http.Request) Route {
	if r.Method != http.MethodGet {
		return RouteIgnore
	}
	if c.Origin != "" && requestOrigin(r) != c.Origin {
		return RouteIgnore
	}
	path := r.URL.Path
	if strings.HasPrefix(path, "/api/") {
		return RouteIgnore
	}
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return RouteNavigate
	}
	if c.isStaticAsset(path, r.Header.Get("Sec-Fetch-Dest")) {
		return RouteStaticAsset
	}
	return RouteIgnore
}

func (c *Classifier) isStaticAsset(path, dest string) bool {
	for _, p := range c.Prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	for _, f := range c.Files {
		if path == f {
			return true
		}
	}
	for _, d := range c.Destinations {
		if dest != "" && dest == d {
			return true
		}
	}
	return false
}

// requestOrigin reconstructs the origin the client addressed, honouring
// absolute-form request targets and the usual forwarding headers.
func requestOrigin(r *http.Request) string {
	if r.URL.IsAbs() {
		return normalizeOrigin(r.URL.Scheme, r.URL.Host)
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	host := r.Host
	if h := r.Header.Get("X-Forwarded-Host"); h != "" {
		host = strings.TrimSpace(strings.Split(h, ",")[0])
	}
	return normalizeOrigin(scheme, host)
}

func normalizeOrigin(scheme, host string) string {
	scheme = strings.ToLower(scheme)
	host = strings.ToLower(host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	return scheme + "://" + host
}
