package services

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// IdempotencyStore remembers Idempotency-Key values seen on create
// requests. A replay within the retention window is rejected rather
// than replayed, so retried creates cannot mint duplicate records.
type IdempotencyStore struct {
	cache *gocache.Cache
}

// NewIdempotencyStore creates a store with a 24h retention window.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{
		cache: gocache.New(24*time.Hour, 1*time.Hour),
	}
}

// Reserve claims a key for the given agent. The claim is atomic, so of
// two concurrent requests carrying the same key exactly one wins. It
// returns false when the key was already claimed, along with the
// breadcrumb ID recorded for the first request (empty while that
// request is still in flight).
func (s *IdempotencyStore) Reserve(agentID, key string) (bool, string) {
	cacheKey := agentID + ":" + key
	if err := s.cache.Add(cacheKey, "", gocache.DefaultExpiration); err != nil {
		prior, _ := s.cache.Get(cacheKey)
		id, _ := prior.(string)
		return false, id
	}
	return true, ""
}

// Record binds a reserved key to the breadcrumb it created.
func (s *IdempotencyStore) Record(agentID, key, breadcrumbID string) {
	s.cache.Set(agentID+":"+key, breadcrumbID, gocache.DefaultExpiration)
}

// Release drops a reservation whose create failed, so the caller may
// retry with the same key.
func (s *IdempotencyStore) Release(agentID, key string) {
	s.cache.Delete(agentID + ":" + key)
}
