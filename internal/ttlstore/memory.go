package ttlstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/quivermind/mnemo/internal/fault"
)

type entry struct {
	value    []byte
	deadline time.Time
}

// Memory is an in-process Store. Every read checks the deadline against the
// clock, so correctness never depends on the optional sweep.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Tests use it to move through TTL
// windows without sleeping.
func (s *Memory) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.entries[key] = entry{value: v, deadline: s.now().Add(ttl)}
	return nil
}

// live returns the entry for key if it has not expired, dropping it
// otherwise. Caller must hold mu.
func (s *Memory) live(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if !s.now().Before(e.deadline) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

func (s *Memory) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return nil, fault.ErrNotFound
	}
	return e.value, nil
}

func (s *Memory) GetSlide(_ context.Context, key string, ttl time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return nil, fault.ErrNotFound
	}
	e.deadline = s.now().Add(ttl)
	s.entries[key] = e
	return e.value, nil
}

func (s *Memory) GetDelete(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return nil, fault.ErrNotFound
	}
	delete(s.entries, key)
	return e.value, nil
}

func (s *Memory) Touch(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return fault.ErrNotFound
	}
	e.deadline = s.now().Add(ttl)
	s.entries[key] = e
	return nil
}

func (s *Memory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *Memory) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
	return nil
}

func (s *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.entries {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, ok := s.live(k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Sweep drops expired entries. Storage reclamation only; reads are already
// correct without it.
func (s *Memory) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.deadline) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}
