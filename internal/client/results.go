package client

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/taskrelay/internal/batch"
)

var (
	// ErrDuplicateResult is returned when the service reports the same index twice.
	ErrDuplicateResult = errors.New("duplicate result index")

	// ErrIndexOutOfRange is returned for a result whose index is not below
	// the announced batch size.
	ErrIndexOutOfRange = errors.New("result index out of range")
)

// ResultSet collects results keyed by task index. It is safe for concurrent
// use.
type ResultSet struct {
	mu     sync.RWMutex
	limit  int
	values map[uint64]uint32
}

// NewResultSet creates a set that accepts indices in [0, limit).
func NewResultSet(limit int) *ResultSet {
	return &ResultSet{
		limit:  limit,
		values: make(map[uint64]uint32, limit),
	}
}

// Add records r. Each index may be added once.
func (s *ResultSet) Add(r batch.Result) error {
	if r.Index >= uint64(s.limit) {
		return fmt.Errorf("%w: %d (batch size %d)", ErrIndexOutOfRange, r.Index, s.limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.values[r.Index]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateResult, r.Index)
	}
	s.values[r.Index] = r.Value
	return nil
}

// Get returns the value recorded for index.
func (s *ResultSet) Get(index uint64) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[index]
	return v, ok
}

// Len returns the number of recorded results.
func (s *ResultSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Missing lists the indices below the limit that have no result, ascending.
func (s *ResultSet) Missing() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var missing []uint64
	for i := uint64(0); i < uint64(s.limit); i++ {
		if _, ok := s.values[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// Sorted returns a copy of the results ordered by index.
func (s *ResultSet) Sorted() []batch.Result {
	s.mu.RLock()
	out := make([]batch.Result, 0, len(s.values))
	for idx, v := range s.values {
		out = append(out, batch.Result{Index: idx, Value: v})
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b batch.Result) int {
		switch {
		case a.Index < b.Index:
			return -1
		case a.Index > b.Index:
			return 1
		}
		return 0
	})
	return out
}
