package orchestrator

import (
	"hash/fnv"
	"sync"
)

// sessionTable is a sharded session lookup table. Sharding keeps insert
// and lookup cheap under concurrency without a single global lock, and
// a session's internal processing never blocks the table.
type sessionTable struct {
	shards []*tableShard
	mask   uint32
}

type tableShard struct {
	mu    sync.RWMutex
	items map[string]*Session
}

// newSessionTable creates a table with shardCount shards; shardCount
// must be a power of two, defaulting to 16 otherwise.
func newSessionTable(shardCount int) *sessionTable {
	if shardCount <= 0 || (shardCount&(shardCount-1)) != 0 {
		shardCount = 16
	}
	t := &sessionTable{
		shards: make([]*tableShard, shardCount),
		mask:   uint32(shardCount - 1),
	}
	for i := range t.shards {
		t.shards[i] = &tableShard{items: make(map[string]*Session)}
	}
	return t
}

func (t *sessionTable) shard(key string) *tableShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return t.shards[h.Sum32()&t.mask]
}

func (t *sessionTable) get(key string) (*Session, bool) {
	shard := t.shard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	s, ok := shard.items[key]
	return s, ok
}

// putIfAbsent stores the session unless the key is already taken.
func (t *sessionTable) putIfAbsent(key string, s *Session) bool {
	shard := t.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if _, exists := shard.items[key]; exists {
		return false
	}
	shard.items[key] = s
	return true
}

func (t *sessionTable) remove(key string) {
	shard := t.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.items, key)
}

// rangeSessions calls f for every live session; iteration stops when f
// returns false.
func (t *sessionTable) rangeSessions(f func(*Session) bool) {
	for _, shard := range t.shards {
		shard.mu.RLock()
		for _, s := range shard.items {
			if !f(s) {
				shard.mu.RUnlock()
				return
			}
		}
		shard.mu.RUnlock()
	}
}

func (t *sessionTable) count() int {
	n := 0
	for _, shard := range t.shards {
		shard.mu.RLock()
		n += len(shard.items)
		shard.mu.RUnlock()
	}
	return n
}
