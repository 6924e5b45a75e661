package core

import (
	"container/list"
	"fmt"
)

// DedupTier says where a duplicate was found.
type DedupTier string

const (
	DedupNone     DedupTier = ""
	DedupLRU      DedupTier = "lru"
	DedupPostgres DedupTier = "postgres"
)

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU in
// front of the persisted event log.
type IdempotencyChecker struct {
	lru         *IdempotencyLRU
	dbChecker   DBIdempotencyChecker
	tier2Errors int64
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup. scope is
// the command's partition, so two callers may reuse a request id.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType, scope, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
	}
}

func compositeKey(eventType, scope, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s:%s", eventType, scope, idempotencyKey)
}

// Check reports where, if anywhere, the key was already processed. A failing
// Postgres lookup counts as not-duplicate so an outage cannot stall the core;
// the event_log unique constraint still rejects the row at persist time.
func (ic *IdempotencyChecker) Check(eventType, scope, idempotencyKey string) DedupTier {
	key := compositeKey(eventType, scope, idempotencyKey)

	if ic.lru.Contains(key) {
		return DedupLRU
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(eventType, scope, idempotencyKey)
		if err != nil {
			ic.tier2Errors++
			return DedupNone
		}
		if isDup {
			ic.lru.Add(key)
			return DedupPostgres
		}
	}

	return DedupNone
}

// IsDuplicate is Check reduced to a bool.
func (ic *IdempotencyChecker) IsDuplicate(eventType, scope, idempotencyKey string) bool {
	return ic.Check(eventType, scope, idempotencyKey) != DedupNone
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(eventType, scope, idempotencyKey string) {
	ic.lru.Add(compositeKey(eventType, scope, idempotencyKey))
}

// Tier2Errors returns the number of failed Postgres lookups
func (ic *IdempotencyChecker) Tier2Errors() int64 {
	return ic.tier2Errors
}

// LRU exposes the first tier for warming and snapshots
func (ic *IdempotencyChecker) LRU() *IdempotencyLRU {
	return ic.lru
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for idempotency keys.
// Not thread-safe; only accessed from the deterministic core.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}
	lru.cache[key] = lru.lruList.PushFront(key)
	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(string))
		lru.evictions++
	}
}

// WarmFromKeys loads composite keys, oldest first, so the newest stay hottest.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// Keys returns every cached key from oldest to newest for snapshots.
func (lru *IdempotencyLRU) Keys() []string {
	out := make([]string, 0, lru.lruList.Len())
	for e := lru.lruList.Back(); e != nil; e = e.Prev() {
		out = append(out, e.Value.(string))
	}
	return out
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
