package quota

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore keeps counters in process memory behind one mutex, which
// makes the check-then-increment of a whole reservation set atomic. Only
// suitable when a single process owns the quota.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		counters: make(map[string]*counter),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) ReserveAll(ctx context.Context, reservations []Reservation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	for i, r := range reservations {
		c := s.live(r.Key, now)
		if c != nil && c.count >= r.Limit {
			return i, nil
		}
	}

	for _, r := range reservations {
		c := s.live(r.Key, now)
		if c == nil {
			c = &counter{expiresAt: now.Add(r.Window)}
			s.counters[r.Key] = c
		}
		c.count++
	}

	return -1, nil
}

// live returns the counter for key, dropping it first if its window has
// passed. Caller holds the mutex.
func (s *MemoryStore) live(key string, now time.Time) *counter {
	c, ok := s.counters[key]
	if !ok {
		return nil
	}
	if now.After(c.expiresAt) {
		delete(s.counters, key)
		return nil
	}
	return c
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for key, c := range s.counters {
				if now.After(c.expiresAt) {
					delete(s.counters, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}
