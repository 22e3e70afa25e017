package jmedge

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNoPartition is returned when writing to a partition that has been
// deleted since the handle was opened.
var ErrNoPartition = errors.New("partition does not exist")

// Store is a set of named response partitions. Handles are cheap and are
// reopened by name whenever they are needed.
type Store interface {
	// Open returns the named partition, creating it if absent.
	Open(name string) (Partition, error)
	// Lookup returns the named partition only if it already exists.
	Lookup(name string) (Partition, bool, error)
	Names() ([]string, error)
	// Delete drops the partition and every entry in it. It reports whether
	// the partition existed.
	Delete(name string) (bool, error)
	Close() error
}

type Partition interface {
	Name() string
	Match(key string) (CacheEntry, bool, error)
	Put(key string, ent CacheEntry) error
	// PutAll stores every entry or none of them.
	PutAll(entries map[string]CacheEntry) error
	Keys() ([]string, error)
}

// OpenStore picks the LevelDB backend when dir is set and the in-memory one
// otherwise.
func OpenStore(dir string, ramMax int64) (Store, error) {
	if dir == "" {
		return NewMemStore(ramMax), nil
	}
	return OpenLevelStore(dir)
}

// ---- leveldb ----

type partMeta struct {
	CreatedAt int64
}

// LevelStore keeps partitions in a single LevelDB database. Partition
// markers live under "p:<name>", entries under "e:<name>\x00<key>".
type LevelStore struct {
	db *leveldb.DB

	// Writers hold the read lock so Delete can drop a partition without
	// racing a concurrent Put into it.
	mu sync.RWMutex
}

func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}

func markerKey(name string) []byte { return []byte("p:" + name) }

func entryPrefix(name string) []byte { return []byte("e:" + name + "\x00") }

func entryKey(name, key string) []byte { return append(entryPrefix(name), key...) }

func (s *LevelStore) Open(name string) (Partition, error) {
	if !validPartitionName(name) {
		return nil, fmt.Errorf("invalid partition name %q", name)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ok, err := s.db.Has(markerKey(name), nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		b, err := encodeGob(partMeta{CreatedAt: time.Now().Unix()})
		if err != nil {
			return nil, err
		}
		if err := s.db.Put(markerKey(name), b, nil); err != nil {
			return nil, fmt.Errorf("create partition %s: %w", name, err)
		}
	}
	return &levelPartition{s: s, name: name}, nil
}

func (s *LevelStore) Lookup(name string) (Partition, bool, error) {
	ok, err := s.db.Has(markerKey(name), nil)
	if err != nil || !ok {
		return nil, false, err
	}
	return &levelPartition{s: s, name: name}, true, nil
}

func (s *LevelStore) Names() ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte("p:")), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), []byte("p:"))))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (s *LevelStore) Delete(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.db.Has(markerKey(name), nil)
	if err != nil || !ok {
		return false, err
	}

	batch := new(leveldb.Batch)
	it := s.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	batch.Delete(markerKey(name))
	if err := s.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("delete partition %s: %w", name, err)
	}
	return true, nil
}

type levelPartition struct {
	s    *LevelStore
	name string
}

func (p *levelPartition) Name() string { return p.name }

func (p *levelPartition) Match(key string) (CacheEntry, bool, error) {
	b, err := p.s.db.Get(entryKey(p.name, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	var ent CacheEntry
	if err := decodeGob(b, &ent); err != nil {
		return CacheEntry{}, false, fmt.Errorf("decode %s %s: %w", p.name, key, err)
	}
	return ent, true, nil
}

func (p *levelPartition) Put(key string, ent CacheEntry) error {
	return p.PutAll(map[string]CacheEntry{key: ent})
}

func (p *levelPartition) PutAll(entries map[string]CacheEntry) error {
	batch := new(leveldb.Batch)
	for key, ent := range entries {
		b, err := encodeGob(ent)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", p.name, key, err)
		}
		batch.Put(entryKey(p.name, key), b)
	}

	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	ok, err := p.s.db.Has(markerKey(p.name), nil)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", p.name, ErrNoPartition)
	}
	return p.s.db.Write(batch, nil)
}

func (p *levelPartition) Keys() ([]string, error) {
	prefix := entryPrefix(p.name)
	it := p.s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, string(it.Key()[len(prefix):]))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// ---- encoding ----

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}

func validPartitionName(name string) bool {
	return name != "" && !strings.ContainsRune(name, 0)
}

func init() {
	gob.Register(http.Header{})
}
