package store

import (
	"context"
	"sync"
	"time"
)

const backendMemory = "memory"

type window struct {
	count   int64
	expires time.Time
}

// MemoryStore implements Counter in process memory with fixed windows.
// Counts are not shared between instances, so it is only suitable for a
// single-instance deployment or local development.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	metrics *Metrics

	cleanup *time.Ticker
	done    chan struct{}
	closed  bool
}

// NewMemoryStore creates an in-memory counter store that evicts expired
// windows every minute.
func NewMemoryStore(metrics *Metrics) *MemoryStore {
	return NewMemoryStoreWithCleanupInterval(time.Minute, metrics)
}

// NewMemoryStoreWithCleanupInterval creates an in-memory store with a
// custom eviction interval.
func NewMemoryStoreWithCleanupInterval(interval time.Duration, metrics *Metrics) *MemoryStore {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	s := &MemoryStore{
		windows: make(map[string]*window),
		now:     time.Now,
		metrics: metrics,
		cleanup: time.NewTicker(interval),
		done:    make(chan struct{}),
	}

	go s.startCleanup()

	return s
}

// IncrementAndCheck implements Counter.
func (s *MemoryStore) IncrementAndCheck(
	ctx context.Context,
	key string,
	limit int64,
	length time.Duration,
) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.metrics.operationsTotal.WithLabelValues(backendMemory, "error").Inc()
		return nil, ErrClosed
	}

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.expires) {
		w = &window{expires: now.Add(length)}
		s.windows[key] = w
	}
	w.count++

	s.metrics.operationsTotal.WithLabelValues(backendMemory, "success").Inc()
	return newResult(w.count, limit, w.expires.Sub(now)), nil
}

func (s *MemoryStore) startCleanup() {
	for {
		select {
		case <-s.done:
			return
		case <-s.cleanup.C:
			s.evictExpired()
		}
	}
}

func (s *MemoryStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, w := range s.windows {
		if !now.Before(w.expires) {
			delete(s.windows, key)
		}
	}
}

// Len returns the number of live windows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Close stops the eviction loop. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cleanup.Stop()
	close(s.done)
	return nil
}
