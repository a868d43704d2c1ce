package feed

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func hashN(n int64) common.Hash {
	return common.BigToHash(big.NewInt(n))
}

func TestKnownSetClaimOnce(t *testing.T) {
	s := newKnownSet(10)

	h := common.HexToHash("0x01")
	if !s.claim(h) {
		t.Fatal("first claim should succeed")
	}
	if s.claim(h) {
		t.Fatal("second claim of the same hash must fail")
	}
	if s.len() != 1 {
		t.Fatalf("expected 1 tracked hash, got %d", s.len())
	}
}

func TestKnownSetReleaseMakesPending(t *testing.T) {
	s := newKnownSet(10)

	h := common.HexToHash("0x01")
	s.claim(h)

	if got := s.claimPending(10); len(got) != 0 {
		t.Fatalf("inflight hash must not be claimable, got %v", got)
	}

	s.release(h)
	got := s.claimPending(10)
	if len(got) != 1 || got[0] != h {
		t.Fatalf("released hash should be claimable, got %v", got)
	}

	// claimPending flips it back to inflight.
	if got := s.claimPending(10); len(got) != 0 {
		t.Fatalf("hash claimed by rescan must not be claimable again, got %v", got)
	}
}

func TestKnownSetDoneNeverReclaimed(t *testing.T) {
	s := newKnownSet(10)

	h := common.HexToHash("0x01")
	s.claim(h)
	s.markDone(h)

	s.release(h)
	if got := s.claimPending(10); len(got) != 0 {
		t.Fatalf("done hash must never return to pending, got %v", got)
	}
	if s.claim(h) {
		t.Fatal("done hash must stay deduplicated")
	}
}

func TestKnownSetEviction(t *testing.T) {
	s := newKnownSet(3)

	first := common.HexToHash("0x01")
	s.claim(first)
	for i := int64(2); i <= 4; i++ {
		s.claim(hashN(i))
	}

	if s.len() != 3 {
		t.Fatalf("expected window of 3, got %d", s.len())
	}
	if !s.claim(first) {
		t.Fatal("evicted hash should be claimable again")
	}
}

func TestKnownSetClaimPendingBounded(t *testing.T) {
	s := newKnownSet(10)

	for i := int64(1); i <= 5; i++ {
		h := hashN(i)
		s.claim(h)
		s.release(h)
	}

	got := s.claimPending(2)
	if len(got) != 2 {
		t.Fatalf("expected 2 claimed, got %d", len(got))
	}
	// Newest pending hashes win, returned in insertion order.
	if got[0] != hashN(4) || got[1] != hashN(5) {
		t.Fatalf("unexpected claim order: %v", got)
	}
}
