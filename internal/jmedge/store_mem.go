package jmedge

import (
	"fmt"
	"sort"
	"sync"
)

// MemStore keeps partitions in process memory. Each static partition is an
// LRU list bounded by maxBytes; zero means unbounded. Shell partitions are
// never evicted from: their entries back the offline fallback and only go
// away when the whole partition is deleted.
type MemStore struct {
	maxBytes int64

	mu    sync.Mutex
	parts map[string]*memPartition
}

func NewMemStore(maxBytes int64) *MemStore {
	return &MemStore{maxBytes: maxBytes, parts: map[string]*memPartition{}}
}

func (s *MemStore) Open(name string) (Partition, error) {
	if !validPartitionName(name) {
		return nil, fmt.Errorf("invalid partition name %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[name]
	if !ok {
		p = &memPartition{name: name, maxBytes: s.maxBytes, items: map[string]*memItem{}}
		if isShellPartition(name) {
			p.maxBytes = 0
		}
		s.parts[name] = p
	}
	return p, nil
}

func (s *MemStore) Lookup(name string) (Partition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[name]
	if !ok {
		return nil, false, nil
	}
	return p, true, nil
}

func (s *MemStore) Names() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.parts))
	for k := range s.parts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemStore) Delete(name string) (bool, error) {
	s.mu.Lock()
	p, ok := s.parts[name]
	delete(s.parts, name)
	s.mu.Unlock()
	if ok {
		p.drop()
	}
	return ok, nil
}

func (s *MemStore) Close() error { return nil }

type memItem struct {
	key  string
	ent  CacheEntry
	size int64
	prev *memItem
	next *memItem
}

type memPartition struct {
	name     string
	maxBytes int64

	mu      sync.Mutex
	deleted bool
	items   map[string]*memItem
	head    *memItem
	tail    *memItem
	total   int64
}

func (p *memPartition) Name() string { return p.name }

func (p *memPartition) drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = true
	p.items = map[string]*memItem{}
	p.head, p.tail, p.total = nil, nil, 0
}

func (p *memPartition) Match(key string) (CacheEntry, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	it, ok := p.items[key]
	if !ok {
		return CacheEntry{}, false, nil
	}
	p.moveToFront(it)
	return it.ent, true, nil
}

func (p *memPartition) Put(key string, ent CacheEntry) error {
	return p.PutAll(map[string]CacheEntry{key: ent})
}

func (p *memPartition) PutAll(entries map[string]CacheEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted {
		return fmt.Errorf("%s: %w", p.name, ErrNoPartition)
	}
	for key, ent := range entries {
		p.putLocked(key, ent, entrySize(key, ent))
	}
	return nil
}

// entrySize approximates the memory held by one entry.
func entrySize(key string, ent CacheEntry) int64 {
	n := len(key) + len(ent.Body)
	for k, vs := range ent.Header {
		n += len(k)
		for _, v := range vs {
			n += len(v)
		}
	}
	return int64(n)
}

func (p *memPartition) putLocked(key string, ent CacheEntry, sz int64) {
	if it, ok := p.items[key]; ok {
		p.total -= it.size
		it.ent = ent
		it.size = sz
		p.total += sz
		p.moveToFront(it)
	} else {
		it := &memItem{key: key, ent: ent, size: sz}
		p.items[key] = it
		p.addToFront(it)
		p.total += sz
	}
	// The newest entry is never evicted by its own insert.
	for p.maxBytes > 0 && p.total > p.maxBytes && p.tail != nil && p.tail != p.head {
		p.evictLocked(p.tail)
	}
}

func (p *memPartition) evictLocked(it *memItem) {
	p.remove(it)
	delete(p.items, it.key)
	p.total -= it.size
}

func (p *memPartition) Keys() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.items))
	for k := range p.items {
		out = append(out, k)
	}
	return out, nil
}

func (p *memPartition) addToFront(it *memItem) {
	it.prev = nil
	it.next = p.head
	if p.head != nil {
		p.head.prev = it
	}
	p.head = it
	if p.tail == nil {
		p.tail = it
	}
}

func (p *memPartition) remove(it *memItem) {
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		p.head = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	} else {
		p.tail = it.prev
	}
	it.prev, it.next = nil, nil
}

func (p *memPartition) moveToFront(it *memItem) {
	if p.head == it {
		return
	}
	p.remove(it)
	p.addToFront(it)
}
