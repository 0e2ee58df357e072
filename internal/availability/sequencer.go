package availability

import (
	"context"
	"sync"
)

// Ticket identifies one fetch issued through a Sequencer.
type Ticket uint64

// Sequencer lets only the most recent fetch apply its result. Beginning a new
// fetch cancels the one still in flight.
type Sequencer struct {
	mu     sync.Mutex
	latest Ticket
	cancel context.CancelFunc
	closed bool
}

// Resume continues numbering after a previously issued ticket, for sequencers
// rebuilt from persisted state.
func (s *Sequencer) Resume(last Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last > s.latest {
		s.latest = last
	}
}

// Begin issues the next ticket and a context bound to it. The returned cancel
// must be called when the fetch finishes.
func (s *Sequencer) Begin(parent context.Context) (Ticket, context.Context, context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.latest++
	ctx, cancel := context.WithCancel(parent)
	if s.closed {
		cancel()
		return s.latest, ctx, cancel
	}
	s.cancel = cancel
	return s.latest, ctx, cancel
}

// Commit runs apply only when t is still the latest ticket and the sequencer
// is open. It reports whether apply ran.
func (s *Sequencer) Commit(t Ticket, apply func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || t != s.latest {
		return false
	}
	if apply != nil {
		apply()
	}
	return true
}

// Latest returns the most recently issued ticket.
func (s *Sequencer) Latest() Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Close cancels the in-flight fetch and makes every ticket stale.
func (s *Sequencer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
