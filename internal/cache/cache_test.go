package cache

import (
	"errors"
	"testing"

	"github.com/tilecast/server/internal/chunkmap"
	"go.uber.org/zap"
)

func cmeta(id string) *chunkmap.ChunkMetadata {
	return &chunkmap.ChunkMetadata{ID: id, Filename: id + ".png"}
}

func newStore(strategy Strategy, maxChunks int, maxBytes int64, grace int64) *Store {
	return New(Config{
		MaxSizeBytes: maxBytes,
		MaxChunks:    maxChunks,
		Strategy:     strategy,
		GraceTicks:   grace,
	}, zap.NewNop(), nil)
}

func protect(ids ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func TestInsertEnforcesChunkBudget(t *testing.T) {
	s := newStore(StrategyLRU, 2, 1<<20, 0)
	for _, id := range []string{"a", "b", "c"} {
		s.AdvanceTick()
		if err := s.Insert(cmeta(id), make([]byte, 10)); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if s.ResidentCount() != 2 {
		t.Fatalf("resident = %d, want 2", s.ResidentCount())
	}
	if s.Has("a") {
		t.Fatal("oldest entry should have been evicted")
	}
	if s.MemoryUsage() != 20 {
		t.Fatalf("memory = %d, want 20", s.MemoryUsage())
	}
}

func TestInsertEnforcesByteBudget(t *testing.T) {
	s := newStore(StrategyLRU, 100, 100, 0)
	if err := s.Insert(cmeta("a"), make([]byte, 60)); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	s.AdvanceTick()
	if err := s.Insert(cmeta("b"), make([]byte, 60)); err != nil {
		t.Fatalf("insert b: %v", err)
	}
	if s.Has("a") {
		t.Fatal("a should have been evicted for the byte budget")
	}
	if s.MemoryUsage() > 100 {
		t.Fatalf("memory = %d exceeds budget", s.MemoryUsage())
	}
}

func TestInsertRefusesWhenAllProtected(t *testing.T) {
	s := newStore(StrategyLRU, 2, 1<<20, 0)
	s.Insert(cmeta("a"), make([]byte, 10))
	s.Insert(cmeta("b"), make([]byte, 10))
	s.SetProtected(protect("a", "b"))

	err := s.Insert(cmeta("c"), make([]byte, 10))
	if !errors.Is(err, ErrCacheFull) {
		t.Fatalf("expected ErrCacheFull, got %v", err)
	}
	if s.Has("c") || s.ResidentCount() != 2 {
		t.Fatal("refused insertion must not alter residents")
	}
}

func TestInsertRefusesOversizedChunk(t *testing.T) {
	s := newStore(StrategyLRU, 10, 50, 0)
	if err := s.Insert(cmeta("big"), make([]byte, 51)); !errors.Is(err, ErrCacheFull) {
		t.Fatalf("expected ErrCacheFull, got %v", err)
	}
}

func TestLRUVictim(t *testing.T) {
	s := newStore(StrategyLRU, 3, 1<<20, 0)
	for _, id := range []string{"a", "b", "c"} {
		s.Insert(cmeta(id), make([]byte, 1))
		s.AdvanceTick()
	}
	s.Touch("a") // refresh a; b is now the oldest touch
	s.Insert(cmeta("d"), make([]byte, 1))

	if s.Has("b") {
		t.Fatal("LRU should evict b")
	}
	for _, id := range []string{"a", "c", "d"} {
		if !s.Has(id) {
			t.Fatalf("%s should be resident", id)
		}
	}
}

func TestLFUVictimWithTieBreak(t *testing.T) {
	s := newStore(StrategyLFU, 3, 1<<20, 0)
	s.Insert(cmeta("a"), make([]byte, 1))
	s.AdvanceTick()
	s.Insert(cmeta("b"), make([]byte, 1))
	s.AdvanceTick()
	s.Insert(cmeta("c"), make([]byte, 1))

	s.Touch("a")
	s.Touch("a")
	s.Touch("c")
	s.AdvanceTick()
	s.Touch("b") // b and c both have 1 hit; c's touch is older

	s.Insert(cmeta("d"), make([]byte, 1))
	if s.Has("c") {
		t.Fatal("LFU tie should evict the least recently touched of the least used")
	}
	if !s.Has("a") || !s.Has("b") || !s.Has("d") {
		t.Fatal("wrong LFU victim")
	}
}

func TestFIFOVictimIgnoresTouches(t *testing.T) {
	s := newStore(StrategyFIFO, 3, 1<<20, 0)
	for _, id := range []string{"a", "b", "c"} {
		s.Insert(cmeta(id), make([]byte, 1))
		s.AdvanceTick()
	}
	s.Touch("a")
	s.Touch("a") // FIFO does not care

	s.Insert(cmeta("d"), make([]byte, 1))
	if s.Has("a") {
		t.Fatal("FIFO should evict the first inserted regardless of touches")
	}
}

func TestPressureEvictsStaleBeforeFresh(t *testing.T) {
	s := newStore(StrategyLRU, 3, 1<<20, 10)
	s.Insert(cmeta("old"), make([]byte, 1)) // oldest touch, but stays in-set
	s.AdvanceTick()
	s.Insert(cmeta("stale"), make([]byte, 1))
	s.AdvanceTick()
	s.Insert(cmeta("fresh"), make([]byte, 1))

	// "stale" left every visibility set; grace period has not expired.
	s.UpdateStaleness(func(id string) bool { return id != "stale" })

	s.Insert(cmeta("new"), make([]byte, 1))
	if s.Has("stale") {
		t.Fatal("capacity pressure should take the stale entry first, grace or not")
	}
	if !s.Has("old") || !s.Has("fresh") || !s.Has("new") {
		t.Fatal("non-stale entries should survive")
	}
}

func TestSweepHonorsGraceAndProtection(t *testing.T) {
	s := newStore(StrategyLRU, 10, 1<<20, 2)
	s.Insert(cmeta("a"), make([]byte, 1))
	s.Insert(cmeta("b"), make([]byte, 1))
	s.UpdateStaleness(func(string) bool { return false }) // both leave the sets at tick 0

	s.AdvanceTick()
	s.AdvanceTick()
	if got := s.Sweep(); len(got) != 0 {
		t.Fatalf("sweep inside grace evicted %v", got)
	}

	s.AdvanceTick() // tick 3 > staleSince 0 + grace 2
	s.SetProtected(protect("b"))
	got := s.Sweep()
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("sweep = %v, want [a]", got)
	}
	if !s.Has("b") {
		t.Fatal("protected entry must survive the sweep")
	}
}

func TestStalenessResetWhenBackInView(t *testing.T) {
	s := newStore(StrategyLRU, 10, 1<<20, 1)
	s.Insert(cmeta("a"), make([]byte, 1))
	s.UpdateStaleness(func(string) bool { return false })
	s.AdvanceTick()
	s.UpdateStaleness(func(string) bool { return true }) // camera jittered back
	s.AdvanceTick()
	s.AdvanceTick()
	if got := s.Sweep(); len(got) != 0 {
		t.Fatalf("entry back in view was swept: %v", got)
	}
}

func TestRemoveIsIdempotentAndNotifies(t *testing.T) {
	var evicted []string
	s := New(Config{MaxSizeBytes: 1 << 20, MaxChunks: 10, Strategy: StrategyLRU},
		zap.NewNop(), func(id string) { evicted = append(evicted, id) })

	s.Insert(cmeta("a"), make([]byte, 5))
	if !s.Remove("a") {
		t.Fatal("first remove should report true")
	}
	if s.Remove("a") {
		t.Fatal("second remove should be a no-op")
	}
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("evict notifications = %v, want [a]", evicted)
	}
	if s.MemoryUsage() != 0 {
		t.Fatalf("memory = %d after remove", s.MemoryUsage())
	}
}

func TestReinsertReplacesBytes(t *testing.T) {
	s := newStore(StrategyLRU, 10, 100, 0)
	s.Insert(cmeta("a"), make([]byte, 10))
	s.Insert(cmeta("a"), make([]byte, 30))
	if s.ResidentCount() != 1 || s.MemoryUsage() != 30 {
		t.Fatalf("resident=%d memory=%d, want 1/30", s.ResidentCount(), s.MemoryUsage())
	}
}
