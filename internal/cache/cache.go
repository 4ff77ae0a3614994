// Package cache holds resident chunk data, enforces the capacity budgets,
// and selects eviction victims. Mutated only from the engine tick — no
// locks, same single-owner discipline as the rest of the reconciliation
// pass.
package cache

import (
	"errors"
	"fmt"

	"github.com/tilecast/server/internal/chunkmap"
	"go.uber.org/zap"
)

// ErrCacheFull means the budget is exceeded but every resident chunk is
// protected. The insertion is refused — visible content is sacrosanct.
var ErrCacheFull = errors.New("cache full: no evictable chunk")

// Config is the runtime cache policy, supplied once at construction.
type Config struct {
	MaxSizeBytes int64
	MaxChunks    int
	Strategy     Strategy
	// GraceTicks is the debounce window: a chunk that left every visibility
	// set stays resident this many ticks before becoming eviction-eligible,
	// unless capacity pressure forces the issue.
	GraceTicks int64
}

type entry struct {
	meta       *chunkmap.ChunkMetadata
	data       []byte
	size       int64
	insertedAt int64
	lastTouch  int64
	hits       uint64
	staleSince int64 // -1 while the chunk is in any visibility set
}

// Store is the bounded resident chunk store.
type Store struct {
	cfg        Config
	log        *zap.Logger
	onEvict    func(id string)
	entries    map[string]*entry
	protected  map[string]struct{}
	tick       int64
	totalBytes int64
}

// New builds a store. onEvict (may be nil) is invoked for every entry that
// leaves the cache, whether by policy, staleness sweep, or explicit Remove —
// the render/transition layer animates removal off it.
func New(cfg Config, log *zap.Logger, onEvict func(id string)) *Store {
	return &Store{
		cfg:       cfg,
		log:       log,
		onEvict:   onEvict,
		entries:   make(map[string]*entry),
		protected: make(map[string]struct{}),
	}
}

// AdvanceTick moves the monotonic tick counter used for recency and
// debounce bookkeeping. Deterministic under test, unlike wall clocks.
func (s *Store) AdvanceTick() { s.tick++ }

// SetProtected replaces the protected id set. Protected chunks (visible,
// adjacent, queued, loading) are never eviction victims.
func (s *Store) SetProtected(ids map[string]struct{}) { s.protected = ids }

// Insert stores a loaded chunk, evicting victims first if either budget
// would be exceeded. Returns ErrCacheFull when no victim can be found.
func (s *Store) Insert(meta *chunkmap.ChunkMetadata, data []byte) error {
	size := int64(len(data))
	if size > s.cfg.MaxSizeBytes {
		return fmt.Errorf("%w: chunk %s (%d bytes) exceeds the whole budget", ErrCacheFull, meta.ID, size)
	}

	if old, ok := s.entries[meta.ID]; ok {
		// Re-insert of a resident id replaces the bytes in place.
		s.totalBytes += size - old.size
		old.data = data
		old.size = size
		old.lastTouch = s.tick
		return nil
	}

	for len(s.entries)+1 > s.cfg.MaxChunks || s.totalBytes+size > s.cfg.MaxSizeBytes {
		victim := s.selectVictim()
		if victim == "" {
			return fmt.Errorf("%w: inserting %s", ErrCacheFull, meta.ID)
		}
		s.evict(victim, "budget")
	}

	s.entries[meta.ID] = &entry{
		meta:       meta,
		data:       data,
		size:       size,
		insertedAt: s.tick,
		lastTouch:  s.tick,
		staleSince: -1,
	}
	s.totalBytes += size
	return nil
}

// Touch records an access for recency/frequency bookkeeping and reports
// whether the id was resident.
func (s *Store) Touch(id string) bool {
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.lastTouch = s.tick
	e.hits++
	return true
}

// Get returns the resident bytes and metadata without touching.
func (s *Store) Get(id string) ([]byte, *chunkmap.ChunkMetadata, bool) {
	e, ok := s.entries[id]
	if !ok {
		return nil, nil, false
	}
	return e.data, e.meta, true
}

// Has reports residency.
func (s *Store) Has(id string) bool {
	_, ok := s.entries[id]
	return ok
}

// UpdateStaleness refreshes per-entry debounce state: entries back inside a
// visibility set are unmarked, entries newly outside every set start their
// grace period at the current tick.
func (s *Store) UpdateStaleness(inSets func(id string) bool) {
	for id, e := range s.entries {
		if inSets(id) {
			e.staleSince = -1
		} else if e.staleSince < 0 {
			e.staleSince = s.tick
		}
	}
}

// Sweep evicts unprotected entries whose grace period has expired and
// returns their ids.
func (s *Store) Sweep() []string {
	var evicted []string
	for id, e := range s.entries {
		if e.staleSince < 0 || s.tick-e.staleSince <= s.cfg.GraceTicks {
			continue
		}
		if _, prot := s.protected[id]; prot {
			continue
		}
		evicted = append(evicted, id)
	}
	for _, id := range evicted {
		s.evict(id, "stale")
	}
	return evicted
}

// Remove releases an entry and notifies the render layer. Idempotent.
func (s *Store) Remove(id string) bool {
	if _, ok := s.entries[id]; !ok {
		return false
	}
	s.evict(id, "removed")
	return true
}

// ResidentCount returns the number of resident chunks.
func (s *Store) ResidentCount() int { return len(s.entries) }

// MemoryUsage returns the sum of resident chunk sizes in bytes.
func (s *Store) MemoryUsage() int64 { return s.totalBytes }

// ResidentIDs returns the resident id set. The slice is freshly allocated;
// order is unspecified.
func (s *Store) ResidentIDs() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// selectVictim picks the next eviction victim, or "" when every resident
// chunk is protected. Under capacity pressure stale entries go first — the
// grace period does not shield them — and only if no stale entry exists does
// the policy rank the remaining unprotected residents.
func (s *Store) selectVictim() string {
	rank := victimTable[s.cfg.Strategy]
	if rank == nil {
		rank = victimTable[StrategyLRU]
	}

	var bestStale, bestFresh *entry
	for id, e := range s.entries {
		if _, prot := s.protected[id]; prot {
			continue
		}
		if e.staleSince >= 0 {
			if bestStale == nil || rank(bestStale, e) {
				bestStale = e
			}
		} else {
			if bestFresh == nil || rank(bestFresh, e) {
				bestFresh = e
			}
		}
	}
	if bestStale != nil {
		return bestStale.meta.ID
	}
	if bestFresh != nil {
		return bestFresh.meta.ID
	}
	return ""
}

func (s *Store) evict(id, reason string) {
	e := s.entries[id]
	delete(s.entries, id)
	s.totalBytes -= e.size
	if s.log != nil {
		s.log.Debug("chunk evicted",
			zap.String("chunk", id),
			zap.String("reason", reason),
			zap.Int64("resident_bytes", s.totalBytes))
	}
	if s.onEvict != nil {
		s.onEvict(id)
	}
}
