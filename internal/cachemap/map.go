// Package cachemap implements the concurrent map from pattern key to a
// cache entry holding a shared pattern handle plus a last-access
// instant, with per-key compile deduplication.
//
// The map is sharded so that a miss never holds a lock across a compile
// for unrelated keys — a single global lock cannot satisfy that for the
// miss path.
package cachemap

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/patterncache/patterncache/internal/handle"
	"github.com/patterncache/patterncache/internal/key"
)

const numShards = 16

// Entry pairs a shared pattern handle with an atomically-updated
// last-access instant.
type Entry struct {
	Key        key.Key
	Handle     *handle.Handle
	lastAccess atomic.Int64
}

// LastAccessNanos returns the last time this entry was touched by a hit.
func (e *Entry) LastAccessNanos() int64 {
	return e.lastAccess.Load()
}

func (e *Entry) touch(nowNanos int64) {
	e.lastAccess.Store(nowNanos)
}

type shard struct {
	mu      sync.RWMutex
	entries map[key.Key]*Entry
	sf      singleflight.Group
}

// Map is the sharded Cache Map.
type Map struct {
	shards [numShards]*shard
}

// New constructs an empty Map.
func New() *Map {
	m := &Map{}
	for i := range m.shards {
		m.shards[i] = &shard{entries: make(map[key.Key]*Entry)}
	}
	return m
}

func (m *Map) shardFor(k key.Key) *shard {
	return m.shards[k.Hash()%uint64(numShards)]
}

// Get returns the entry for k without triggering a compile, updating
// last_access on hit.
func (m *Map) Get(k key.Key, nowNanos int64) (*Entry, bool) {
	s := m.shardFor(k)
	s.mu.RLock()
	e, ok := s.entries[k]
	s.mu.RUnlock()
	if ok {
		e.touch(nowNanos)
	}
	return e, ok
}

// GetOrInsert looks up k; on miss it invokes compile at most once per
// (key, simultaneous-requesters) class via singleflight: concurrent
// misses on the same key block on the same compilation and all observe
// the same *Entry. A compile failure propagates to every blocked caller
// and leaves no entry behind.
func (m *Map) GetOrInsert(k key.Key, nowNanos int64, compile func() (*handle.Handle, error)) (entry *Entry, hit bool, err error) {
	s := m.shardFor(k)

	s.mu.RLock()
	if e, ok := s.entries[k]; ok {
		s.mu.RUnlock()
		e.touch(nowNanos)
		return e, true, nil
	}
	s.mu.RUnlock()

	sfKey := sfKeyFor(k)
	v, err, _ := s.sf.Do(sfKey, func() (any, error) {
		// Re-check under lock: another goroutine may have inserted
		// between our unlocked peek above and this singleflight call
		// winning. That resolution is a genuine hit and is reported as
		// one, so the caller's hit/miss accounting stays truthful.
		s.mu.RLock()
		if e, ok := s.entries[k]; ok {
			s.mu.RUnlock()
			e.touch(nowNanos)
			return sfResult{entry: e, hit: true}, nil
		}
		s.mu.RUnlock()

		h, cerr := compile()
		if cerr != nil {
			return sfResult{}, cerr
		}
		newEntry := &Entry{Key: k, Handle: h}
		newEntry.touch(nowNanos)

		// singleflight serializes compiles per key and every insert flows
		// through this callback, so no other goroutine can have inserted k
		// since the re-check above; assign unconditionally.
		s.mu.Lock()
		s.entries[k] = newEntry
		s.mu.Unlock()
		return sfResult{entry: newEntry}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(sfResult)
	return res.entry, res.hit, nil
}

// sfResult is what a singleflight winner publishes to every caller that
// joined its flight: the resolved entry, plus whether it was resolved
// from an entry that already existed.
type sfResult struct {
	entry *Entry
	hit   bool
}

func sfKeyFor(k key.Key) string {
	tag := byte('0')
	if k.CaseSensitive() {
		tag = '1'
	}
	return string(tag) + k.String()
}

// Remove deletes k from the map, but only if e is still the current
// entry (compare-and-delete), so a concurrent replace is never
// clobbered. Removal does not retire or destroy the handle — that
// remains the caller's responsibility.
func (m *Map) Remove(k key.Key, e *Entry) bool {
	s := m.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[k]; ok && cur == e {
		delete(s.entries, k)
		return true
	}
	return false
}

// Len returns the total entry count across all shards.
func (m *Map) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	return total
}

// ForEach calls fn once per entry, over a per-shard snapshot taken under
// that shard's lock only — never a map-wide lock — so a slow fn never
// blocks readers of other shards.
func (m *Map) ForEach(fn func(k key.Key, e *Entry)) {
	for _, s := range m.shards {
		keys, entries := s.snapshot()
		for i, e := range entries {
			fn(keys[i], e)
		}
	}
}

// ClearAll removes every entry from every shard, invoking fn once per
// removed entry outside the shard lock.
func (m *Map) ClearAll(fn func(k key.Key, e *Entry)) {
	for _, s := range m.shards {
		s.mu.Lock()
		keys := make([]key.Key, 0, len(s.entries))
		entries := make([]*Entry, 0, len(s.entries))
		for k, e := range s.entries {
			keys = append(keys, k)
			entries = append(entries, e)
		}
		s.entries = make(map[key.Key]*Entry)
		s.mu.Unlock()
		for i, e := range entries {
			fn(keys[i], e)
		}
	}
}

func (s *shard) snapshot() ([]key.Key, []*Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]key.Key, 0, len(s.entries))
	entries := make([]*Entry, 0, len(s.entries))
	for k, e := range s.entries {
		keys = append(keys, k)
		entries = append(entries, e)
	}
	return keys, entries
}
