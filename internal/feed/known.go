package feed

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type txState uint8

const (
	statePending txState = iota
	stateInflight
	stateDone
)

// knownSet tracks every event identifier that has been seen, with a bounded
// insertion-order window for eviction and rescan. All transitions are atomic
// check-and-set operations; the raw map is never exposed.
type knownSet struct {
	mu     sync.Mutex
	states map[common.Hash]txState
	order  []common.Hash
	limit  int
}

func newKnownSet(limit int) *knownSet {
	return &knownSet{
		states: make(map[common.Hash]txState, limit),
		limit:  limit,
	}
}

// claim inserts a previously unseen hash in the inflight state. It returns
// false when the hash is already known, whatever its state.
func (s *knownSet) claim(h common.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[h]; ok {
		return false
	}
	s.states[h] = stateInflight
	s.order = append(s.order, h)
	s.evictLocked()
	return true
}

// release returns an inflight hash to pending so the rescan loop retries it.
func (s *knownSet) release(h common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[h]; ok && st == stateInflight {
		s.states[h] = statePending
	}
}

// markDone records that classification for the hash completed.
func (s *knownSet) markDone(h common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[h]; ok {
		s.states[h] = stateDone
	}
}

// claimPending atomically flips up to n of the most recent pending hashes to
// inflight and returns them, newest last.
func (s *knownSet) claimPending(n int) []common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []common.Hash
	for i := len(s.order) - 1; i >= 0 && len(out) < n; i-- {
		h := s.order[i]
		if s.states[h] == statePending {
			s.states[h] = stateInflight
			out = append(out, h)
		}
	}
	// restore insertion order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (s *knownSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// evictLocked drops the oldest identifiers once the window limit is
// exceeded. Deduplication is only guaranteed within the window.
func (s *knownSet) evictLocked() {
	for len(s.order) > s.limit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.states, oldest)
	}
}
