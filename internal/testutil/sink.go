package testutil

import (
	"context"
	"sync"

	"github.com/HerbHall/hubnet/internal/status"
)

var _ status.Sink = (*RecordingSink)(nil)

// RecordingSink records every emitted status value.
type RecordingSink struct {
	mu     sync.Mutex
	values []status.Value
}

// Emit records v.
func (s *RecordingSink) Emit(_ context.Context, v status.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, v)
	return nil
}

// Values returns a copy of the recorded values.
func (s *RecordingSink) Values() []status.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]status.Value(nil), s.values...)
}

// Last returns the most recent value, or "".
func (s *RecordingSink) Last() status.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return ""
	}
	return s.values[len(s.values)-1]
}

// Contains reports whether v was emitted at least once.
func (s *RecordingSink) Contains(v status.Value) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.values {
		if got == v {
			return true
		}
	}
	return false
}
