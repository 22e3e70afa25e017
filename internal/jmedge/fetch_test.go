package jmedge

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCopyHeaders_DropsRangeAndConditionals(t *testing.T) {
	src := http.Header{
		"Cookie":            []string{"session=abc"},
		"Range":             []string{"bytes=0-1"},
		"If-Range":          []string{`"v1"`},
		"If-None-Match":     []string{`"v1"`},
		"If-Modified-Since": []string{"Mon, 02 Jan 2006 15:04:05 GMT"},
		"Host":              []string{"evil.test"},
	}
	dst := http.Header{}
	copyHeaders(dst, src)
	assert.Equal(t, http.Header{"Cookie": []string{"session=abc"}}, dst)
}

func TestRemoveHopHeaders(t *testing.T) {
	h := http.Header{
		"Connection":        []string{"keep-alive, X-Debug"},
		"Keep-Alive":        []string{"timeout=5"},
		"Transfer-Encoding": []string{"chunked"},
		"X-Debug":           []string{"1"},
		"Content-Type":      []string{"text/html"},
	}
	removeHopHeaders(h)
	assert.Equal(t, http.Header{"Content-Type": []string{"text/html"}}, h)
}

func TestStoredEntry_DropsCookies(t *testing.T) {
	ent := okEntry("page")
	ent.Header.Add("Set-Cookie", "session=alice-secret")

	stored := storedEntry(ent)
	assert.Empty(t, stored.Header.Values("Set-Cookie"))
	assert.Equal(t, "text/plain", stored.Header.Get("Content-Type"))
	assert.Equal(t, "session=alice-secret", ent.Header.Get("Set-Cookie"), "live copy keeps the cookie")
}

func TestStorable(t *testing.T) {
	o := newOriginClient("http://origin.test", 4)
	assert.True(t, o.storable(CacheEntry{Status: http.StatusOK, Body: []byte("abcd")}))
	assert.False(t, o.storable(CacheEntry{Status: http.StatusOK, Body: []byte("abcde")}))
	assert.False(t, o.storable(CacheEntry{Status: http.StatusPartialContent, Body: []byte("ab")}))
	assert.False(t, o.storable(CacheEntry{Status: http.StatusFound}))
	assert.False(t, o.storable(CacheEntry{Status: http.StatusNotFound}))
}
