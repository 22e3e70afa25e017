package jmedge

import (
	"context"
	"hash/crc32"
	"io"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// originClient performs live fetches against the upstream front end.
type originClient struct {
	base     string
	hc       *http.Client
	maxEntry int64
}

func newOriginClient(base string, maxEntry int64) *originClient {
	return &originClient{
		base: strings.TrimRight(base, "/"),
		hc: &http.Client{
			Timeout: 30 * time.Second,
			// Redirects go back to the client as-is and are never stored
			// under the requested key.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxEntry: maxEntry,
	}
}

// fetch GETs uri from the origin. The error is non-nil only when no
// response was obtained; error statuses come back as entries.
func (o *originClient) fetch(ctx context.Context, uri string, hdr http.Header) (CacheEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.base+uri, nil)
	if err != nil {
		return CacheEntry{}, err
	}
	copyHeaders(req.Header, hdr)
	removeHopHeaders(req.Header)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := o.hc.Do(req)
	if err != nil {
		return CacheEntry{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return CacheEntry{}, err
	}

	ent := CacheEntry{
		Status:   resp.StatusCode,
		Header:   cloneHeader(resp.Header),
		Body:     body,
		StoredAt: time.Now().Unix(),
		Hash32:   crc32.ChecksumIEEE(body),
	}
	ent.Header.Del("Content-Length")
	removeHopHeaders(ent.Header)
	return ent, nil
}

// storable reports whether ent may be written to a partition. Partial
// content is never stored.
func (o *originClient) storable(ent CacheEntry) bool {
	if !ent.OK() || ent.Status == http.StatusPartialContent {
		return false
	}
	return o.maxEntry <= 0 || int64(len(ent.Body)) <= o.maxEntry
}

// Every fetch may end up in a partition, so the origin must answer with the
// full representation.
var droppedRequestHeaders = map[string]bool{
	"Host":                true,
	"Range":               true,
	"If-Range":            true,
	"If-Match":            true,
	"If-None-Match":       true,
	"If-Modified-Since":   true,
	"If-Unmodified-Since": true,
}

// Hop-by-hop headers, RFC 9110 section 7.6.1.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, f := range h["Connection"] {
		for _, sf := range strings.Split(f, ",") {
			if sf = textproto.TrimString(sf); sf != "" {
				h.Del(sf)
			}
		}
	}
	for _, k := range hopHeaders {
		h.Del(k)
	}
}

// storedEntry is ent as it is written to a shared partition: per-user
// cookies stay on the live response only.
func storedEntry(ent CacheEntry) CacheEntry {
	ent.Header = cloneHeader(ent.Header)
	ent.Header.Del("Set-Cookie")
	ent.Header.Del("Set-Cookie2")
	return ent
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if droppedRequestHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}
