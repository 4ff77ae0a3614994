// Package engine wires the chunk index, visibility calculator, load
// scheduler, cache, and metrics into one streaming manager. One Manager per
// open map; no package-level mutable state, so independent maps and
// deterministic tests come for free.
package engine

import (
	"errors"
	"sort"

	"github.com/tilecast/server/internal/cache"
	"github.com/tilecast/server/internal/chunkmap"
	"github.com/tilecast/server/internal/metrics"
	"github.com/tilecast/server/internal/scheduler"
	"github.com/tilecast/server/internal/view"
	"go.uber.org/zap"
)

// Config gathers the per-map runtime policy.
type Config struct {
	PreloadRadius int
	Cache         cache.Config
	Loader        scheduler.Config
}

// Events are the engine's outbound signals to the render/transition layer.
// Either callback may be nil.
type Events struct {
	// ChunkReady fires when a chunk's bytes became resident.
	ChunkReady func(meta *chunkmap.ChunkMetadata, data []byte)
	// ChunkEvicted fires when a chunk left the cache, so the render layer
	// can animate removal.
	ChunkEvicted func(id string)
}

// Manager drives the whole streaming pipeline. Tick must be called from a
// single owning goroutine (the render/update loop); loads complete
// asynchronously and are folded in on the next Tick.
type Manager struct {
	log     *zap.Logger
	index   *chunkmap.Index
	calc    *view.Calculator
	sched   *scheduler.Scheduler
	store   *cache.Store
	agg     *metrics.Aggregator
	events  Events
	preload int

	lastVis view.Visibility
}

func New(index *chunkmap.Index, fetcher scheduler.Fetcher, cfg Config, events Events, log *zap.Logger) *Manager {
	m := &Manager{
		log:    log,
		index:  index,
		calc:   view.NewCalculator(index),
		agg:    metrics.NewAggregator(),
		events: events,
	}
	m.sched = scheduler.New(cfg.Loader, index, fetcher, log)
	m.store = cache.New(cfg.Cache, log, func(id string) {
		m.sched.MarkEvicted(id)
		if m.events.ChunkEvicted != nil {
			m.events.ChunkEvicted(id)
		}
	})
	m.preload = cfg.PreloadRadius
	return m
}

// Tick runs one reconciliation pass for the given camera. Safe to call every
// frame or on camera-moved events only.
func (m *Manager) Tick(cam view.Camera) {
	m.store.AdvanceTick()

	// Fold in loads that completed since the last pass.
	m.sched.Collect(func(res scheduler.Result) {
		m.agg.RecordLoad(res)
		if !res.Success() {
			return
		}
		if err := m.store.Insert(res.Chunk, res.Data); err != nil {
			if errors.Is(err, cache.ErrCacheFull) {
				// Visible content is sacrosanct: refuse rather than evict a
				// protected chunk. The gap self-heals once pressure relieves
				// and the visibility pass re-requests the id.
				m.log.Warn("cache full, chunk not retained", zap.String("chunk", res.ID))
			} else {
				m.log.Error("cache insert failed", zap.String("chunk", res.ID), zap.Error(err))
			}
			return
		}
		if m.events.ChunkReady != nil {
			m.events.ChunkReady(res.Chunk, res.Data)
		}
	})

	vis := m.calc.Compute(cam, m.preload)
	m.lastVis = vis

	// Visible, adjacent, queued, and loading chunks are never eviction
	// victims.
	protected := m.sched.Pending()
	for _, id := range vis.Visible {
		protected[id] = struct{}{}
	}
	for _, id := range vis.Adjacent {
		protected[id] = struct{}{}
	}
	m.store.SetProtected(protected)

	// Count the frame's demand against the cache: a visible chunk that is
	// resident is a hit, one that still needs a load is a miss.
	for _, id := range vis.Visible {
		m.agg.RecordAccess(m.store.Touch(id))
	}

	candidates := m.sched.Reconcile(&vis, m.store.ResidentIDs())
	if len(candidates) > 0 {
		m.log.Debug("eviction candidates", zap.Int("count", len(candidates)))
	}

	m.store.UpdateStaleness(vis.Contains)
	m.store.Sweep()
}

// IsChunkLoaded reports whether the chunk's bytes are resident.
func (m *Manager) IsChunkLoaded(id string) bool { return m.store.Has(id) }

// LoadedChunks returns the resident chunk ids, sorted for stable output.
func (m *Manager) LoadedChunks() []string {
	ids := m.store.ResidentIDs()
	sort.Strings(ids)
	return ids
}

// VisibleChunks returns the visible set from the most recent Tick.
func (m *Manager) VisibleChunks() []string { return m.lastVis.Visible }

// ChunkData returns resident chunk bytes, recording the access for the
// cache-hit diagnostics.
func (m *Manager) ChunkData(id string) ([]byte, *chunkmap.ChunkMetadata, bool) {
	hit := m.store.Touch(id)
	m.agg.RecordAccess(hit)
	if !hit {
		return nil, nil, false
	}
	return m.store.Get(id)
}

// ClampCamera exposes camera-bounds clamping for the input layer.
func (m *Manager) ClampCamera(cam view.Camera) view.Camera { return m.calc.ClampCamera(cam) }

// Metrics derives the current performance snapshot.
func (m *Manager) Metrics() metrics.Snapshot {
	return m.agg.Snapshot(m.store.MemoryUsage(), m.store.ResidentCount())
}
