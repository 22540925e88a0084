package stream

import (
	"context"
	"sync"

	"lidar.app/internal/auth"
)

// Stream fans audit records out to live subscribers (SSE clients). Each
// subscriber only receives records its scope allows.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

type subscriber struct {
	scope auth.Scope
	ch    chan auth.AuditRecord
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for records visible in scope. The channel
// is closed when ctx ends. The empty scope receives nothing.
func (s *Stream) Subscribe(ctx context.Context, scope auth.Scope) <-chan auth.AuditRecord {
	ch := make(chan auth.AuditRecord, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{scope: scope, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish delivers rec to every subscriber whose scope allows its tenant.
func (s *Stream) Publish(rec auth.AuditRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if !sub.scope.Allows(rec.TenantID) {
			continue
		}
		select {
		case sub.ch <- rec:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers reports the number of active subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
