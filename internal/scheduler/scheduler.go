// Package scheduler turns visibility sets into actual load operations:
// priority ordering, deduplication, and bounded concurrency. All state
// transitions happen on the owner's tick; fetches run asynchronously and
// report back through a channel drained by Collect.
package scheduler

import (
	"container/heap"
	"context"
	"time"

	"github.com/tilecast/server/internal/chunkmap"
	"github.com/tilecast/server/internal/view"
	"go.uber.org/zap"
)

// State is the per-chunk lifecycle. FAILED is transient: a failed chunk
// drops straight back to UNLOADED and is retried opportunistically by the
// next visibility pass.
type State int

const (
	StateUnloaded State = iota
	StateQueued
	StateLoading
	StateLoaded
)

// Fetcher loads the bytes for one chunk. Implementations live in
// internal/fetch; the scheduler only orders and gates the calls.
type Fetcher interface {
	Fetch(ctx context.Context, meta *chunkmap.ChunkMetadata) ([]byte, error)
}

// Result is the outcome of one load attempt. Transient — consumed by the
// metrics aggregator and the cache insert path, never stored.
type Result struct {
	ID       string
	Chunk    *chunkmap.ChunkMetadata
	Data     []byte
	Err      error
	LoadTime time.Duration
}

func (r Result) Success() bool { return r.Err == nil }

// Config bounds the scheduler's I/O.
type Config struct {
	MaxConcurrentLoads int
	// FetchTimeout bounds each fetch so a stalled one cannot permanently
	// occupy a concurrency slot. Zero disables the deadline.
	FetchTimeout time.Duration
}

type request struct {
	meta     *chunkmap.ChunkMetadata
	priority view.Priority
	seq      uint64 // enqueue order; FIFO within a priority band
	pos      int    // heap index
}

// Scheduler owns the load queue. Reconcile and Collect must be called from
// the single owning goroutine; fetch goroutines only write to the results
// channel.
type Scheduler struct {
	cfg     Config
	fetcher Fetcher
	index   *chunkmap.Index
	log     *zap.Logger

	states   map[string]State
	queued   map[string]*request
	loading  map[string]view.Priority // in-flight priority tags
	queue    requestHeap
	inFlight int
	seq      uint64
	results  chan Result
}

func New(cfg Config, index *chunkmap.Index, fetcher Fetcher, log *zap.Logger) *Scheduler {
	if cfg.MaxConcurrentLoads < 1 {
		cfg.MaxConcurrentLoads = 1
	}
	return &Scheduler{
		cfg:     cfg,
		fetcher: fetcher,
		index:   index,
		log:     log,
		states:  make(map[string]State),
		queued:  make(map[string]*request),
		loading: make(map[string]view.Priority),
		results: make(chan Result, cfg.MaxConcurrentLoads),
	}
}

// Reconcile diffs the frame's visibility sets against the resident set:
// drops queued ids that left every set, enqueues or upgrades needed ids,
// starts fetches up to the concurrency bound, and returns the ids that are
// resident but outside every set — the frame's eviction candidates.
func (s *Scheduler) Reconcile(vis *view.Visibility, resident []string) []string {
	// Queued-only cancellation: no I/O was issued yet, so dropping is free.
	// In-flight loads are left to complete.
	for id, req := range s.queued {
		if !vis.Contains(id) {
			heap.Remove(&s.queue, req.pos)
			delete(s.queued, id)
			delete(s.states, id)
		}
	}

	residentSet := make(map[string]struct{}, len(resident))
	for _, id := range resident {
		residentSet[id] = struct{}{}
	}

	s.want(vis.Visible, view.PriorityCritical, residentSet)
	s.want(vis.Adjacent, view.PriorityHigh, residentSet)
	s.want(vis.Preload, view.PriorityMedium, residentSet)

	var candidates []string
	for _, id := range resident {
		if !vis.Contains(id) {
			candidates = append(candidates, id)
		}
	}

	s.drain()
	return candidates
}

// want enqueues ids missing from the cache, or upgrades the priority of ones
// already queued or loading. An id already LOADING is never re-issued —
// at most one in-flight fetch per id exists at any time.
func (s *Scheduler) want(ids []string, p view.Priority, resident map[string]struct{}) {
	for _, id := range ids {
		if req, ok := s.queued[id]; ok {
			if p < req.priority {
				req.priority = p
				heap.Fix(&s.queue, req.pos)
			}
			continue
		}
		if s.states[id] == StateLoading {
			if p < s.loading[id] {
				s.loading[id] = p
			}
			continue
		}
		if _, ok := resident[id]; ok {
			continue
		}
		meta := s.index.ByID(id)
		if meta == nil {
			continue
		}
		s.seq++
		req := &request{meta: meta, priority: p, seq: s.seq}
		heap.Push(&s.queue, req)
		s.queued[id] = req
		s.states[id] = StateQueued
	}
}

// drain starts queued fetches in priority order until the concurrency bound
// is reached.
func (s *Scheduler) drain() {
	for s.inFlight < s.cfg.MaxConcurrentLoads && s.queue.Len() > 0 {
		req := heap.Pop(&s.queue).(*request)
		delete(s.queued, req.meta.ID)
		s.states[req.meta.ID] = StateLoading
		s.loading[req.meta.ID] = req.priority
		s.inFlight++
		go s.fetch(req.meta)
	}
}

func (s *Scheduler) fetch(meta *chunkmap.ChunkMetadata) {
	ctx := context.Background()
	if s.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()
	}
	start := time.Now()
	data, err := s.fetcher.Fetch(ctx, meta)
	s.results <- Result{
		ID:       meta.ID,
		Chunk:    meta,
		Data:     data,
		Err:      err,
		LoadTime: time.Since(start),
	}
}

// Collect drains completed loads without blocking, invoking fn for each,
// then refills the freed concurrency slots from the queue. Failed chunks
// return to UNLOADED.
func (s *Scheduler) Collect(fn func(Result)) {
	for {
		select {
		case res := <-s.results:
			s.inFlight--
			delete(s.loading, res.ID)
			if res.Err != nil {
				delete(s.states, res.ID)
				if s.log != nil {
					s.log.Warn("chunk load failed",
						zap.String("chunk", res.ID),
						zap.Error(res.Err))
				}
			} else {
				s.states[res.ID] = StateLoaded
			}
			if fn != nil {
				fn(res)
			}
		default:
			s.drain()
			return
		}
	}
}

// MarkEvicted resets a chunk to UNLOADED after the cache released it, so the
// next visibility pass can re-request it.
func (s *Scheduler) MarkEvicted(id string) {
	if s.states[id] == StateLoaded {
		delete(s.states, id)
	}
}

// State returns the chunk's lifecycle state.
func (s *Scheduler) State(id string) State { return s.states[id] }

// Pending returns the ids currently QUEUED or LOADING. These are protected
// from eviction alongside the visible set.
func (s *Scheduler) Pending() map[string]struct{} {
	out := make(map[string]struct{}, len(s.queued)+len(s.loading))
	for id := range s.queued {
		out[id] = struct{}{}
	}
	for id := range s.loading {
		out[id] = struct{}{}
	}
	return out
}

// InFlight returns the number of loads currently issued.
func (s *Scheduler) InFlight() int { return s.inFlight }

// QueueLen returns the number of requests waiting for a slot.
func (s *Scheduler) QueueLen() int { return s.queue.Len() }

// requestHeap orders by priority, then enqueue sequence.
type requestHeap []*request

func (h requestHeap) Len() int { return len(h) }
func (h requestHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}
func (h *requestHeap) Push(x any) {
	req := x.(*request)
	req.pos = len(*h)
	*h = append(*h, req)
}
func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return req
}
