package notify

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jdziat/accelrt/pkg/core"
)

// MemoryStore is an in-process core.SignalStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*core.SignalEntry
	holders map[string]map[int]int64
	watch   map[string]chan struct{}
}

var (
	_ core.SignalStore = (*MemoryStore)(nil)
	_ Watcher          = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*core.SignalEntry),
		holders: make(map[string]map[int]int64),
		watch:   make(map[string]chan struct{}),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Create(_ context.Context, e *core.SignalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.Name]; ok {
		return core.ErrAlreadyExists
	}
	cp := *e
	now := time.Now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.entries[e.Name] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, name string) (*core.SignalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) Export(_ context.Context, name string, allowed []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return core.ErrNotFound
	}
	e.Exported = true
	e.SetAllowed(allowed)
	e.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Acquire(_ context.Context, name string, pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; !ok {
		return core.ErrNotFound
	}
	h := s.holders[name]
	if h == nil {
		h = make(map[int]int64)
		s.holders[name] = h
	}
	h[pid]++
	return nil
}

func (s *MemoryStore) Release(_ context.Context, name string, pid int) (int64, error) {
	return s.drop(name, pid, false)
}

func (s *MemoryStore) Evict(_ context.Context, name string, pid int) (int64, error) {
	return s.drop(name, pid, true)
}

func (s *MemoryStore) drop(name string, pid int, all bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; !ok {
		return 0, core.ErrNotFound
	}
	h := s.holders[name]
	if h[pid] > 0 {
		if all {
			h[pid] = 0
		} else {
			h[pid]--
		}
		if h[pid] == 0 {
			delete(h, pid)
		}
	}
	var left int64
	for _, n := range h {
		left += n
	}
	if left == 0 {
		delete(s.entries, name)
		delete(s.holders, name)
		s.notify(name)
	}
	return left, nil
}

func (s *MemoryStore) Holders(_ context.Context, name string) ([]core.SignalHolder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; !ok {
		return nil, core.ErrNotFound
	}
	out := make([]core.SignalHolder, 0, len(s.holders[name]))
	for pid, n := range s.holders[name] {
		out = append(out, core.SignalHolder{Name: name, PID: pid, Refs: n})
	}
	slices.SortFunc(out, func(a, b core.SignalHolder) int { return a.PID - b.PID })
	return out, nil
}

func (s *MemoryStore) Names(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

func (s *MemoryStore) Record(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return core.ErrNotFound
	}
	e.Pending = true
	s.notify(name)
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false, core.ErrNotFound
	}
	had := e.Pending
	e.Pending = false
	return had, nil
}

// Watch returns a channel closed on the next change to name.
func (s *MemoryStore) Watch(name string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.watch[name]
	if !ok {
		ch = make(chan struct{})
		s.watch[name] = ch
	}
	return ch
}

func (s *MemoryStore) notify(name string) {
	if ch, ok := s.watch[name]; ok {
		close(ch)
		delete(s.watch, name)
	}
}
