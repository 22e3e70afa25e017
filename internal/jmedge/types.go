package jmedge

import "net/http"

type CacheEntry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64 // unix seconds
	Hash32   uint32
}

// OK reports whether the stored response has a success status. Only OK
// entries are ever written to a partition.
func (e CacheEntry) OK() bool {
	return e.Status >= 200 && e.Status < 300
}

// Route is the classifier verdict for an intercepted request.
type Route int

const (
	// RouteIgnore lets the request pass through to the origin untouched.
	RouteIgnore Route = iota
	RouteNavigate
	RouteStaticAsset
)

func (r Route) String() string {
	switch r {
	case RouteNavigate:
		return "navigate"
	case RouteStaticAsset:
		return "static"
	default:
		return "ignore"
	}
}

// Outcomes reported in the X-Jmedge response header.
const (
	outcomeNetwork      = "network"
	outcomeCache        = "cache"
	outcomeFallbackRoot = "fallback-root"
	outcomeNetworkError = "network-error"
	outcomeStale        = "stale"
	outcomeMiss         = "miss"
	outcomeBypass       = "bypass"
	outcomeNoWorker     = "no-worker"
	outcomeMaintenance  = "maintenance"
)
