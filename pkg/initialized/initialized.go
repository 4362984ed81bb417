package initialized

import (
	"context"
	"sort"
	"sync"
)

// Set is a collection of named one-shot latches. It is ready once every
// registered latch has signalled; an empty Set is ready immediately.
// Register all latches before serving readiness, signalling is one-shot and
// readiness does not regress.
type Set struct {
	mu      sync.Mutex
	pending map[string]int
	waiters []chan struct{}
}

// NewSet returns an empty, ready Set.
func NewSet() *Set {
	return &Set{pending: make(map[string]int)}
}

// Latch registers a new latch under the given name. Names may repeat; each
// registration must signal separately.
func (s *Set) Latch(name string) *Latch {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[name]++
	return &Latch{set: s, name: name}
}

// Ready reports whether every registered latch has signalled.
func (s *Set) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) == 0
}

// Pending returns the sorted names of latches that have not signalled yet.
func (s *Set) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.pending))
	for name := range s.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wait blocks until the Set is ready or ctx ends.
func (s *Set) Wait(ctx context.Context) error {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Latch is a single one-shot readiness condition.
type Latch struct {
	set  *Set
	name string
	once sync.Once
}

// Name returns the latch name as registered.
func (l *Latch) Name() string {
	return l.name
}

// Signal marks the condition met. Further calls are no-ops.
func (l *Latch) Signal() {
	l.once.Do(func() {
		s := l.set
		s.mu.Lock()
		s.pending[l.name]--
		if s.pending[l.name] <= 0 {
			delete(s.pending, l.name)
		}
		var ready []chan struct{}
		if len(s.pending) == 0 {
			ready = s.waiters
			s.waiters = nil
		}
		s.mu.Unlock()
		for _, ch := range ready {
			close(ch)
		}
	})
}
