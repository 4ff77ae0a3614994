// Package metrics keeps the engine's rolling diagnostic counters. Derived,
// read-only snapshots — no independent lifecycle.
package metrics

import (
	"time"

	"github.com/tilecast/server/internal/scheduler"
)

// Snapshot is the read-only rollup exposed to diagnostics/UI.
type Snapshot struct {
	ChunksLoaded    int           `json:"chunksLoaded"`
	FailedLoads     int           `json:"failedLoads"`
	CacheHitRate    float64       `json:"cacheHitRate"`
	MemoryUsage     int64         `json:"memoryUsage"`
	ResidentChunks  int           `json:"residentChunks"`
	TotalLoadTime   time.Duration `json:"totalLoadTime"`
	AverageLoadTime time.Duration `json:"averageLoadTime"`
}

// Aggregator accumulates counters from the load and access paths. Owned by
// the engine tick; not safe for concurrent writers.
type Aggregator struct {
	chunksLoaded  int
	failedLoads   int
	hits          int
	misses        int
	totalLoadTime time.Duration
}

func NewAggregator() *Aggregator { return &Aggregator{} }

// RecordLoad folds one load outcome in. Failed loads are excluded from the
// timing aggregates but counted for error-rate diagnostics.
func (a *Aggregator) RecordLoad(res scheduler.Result) {
	if !res.Success() {
		a.failedLoads++
		return
	}
	a.chunksLoaded++
	a.totalLoadTime += res.LoadTime
}

// RecordAccess folds one cache access attempt in.
func (a *Aggregator) RecordAccess(hit bool) {
	if hit {
		a.hits++
	} else {
		a.misses++
	}
}

// Snapshot derives the current rollup. Memory figures come from the cache,
// which owns them.
func (a *Aggregator) Snapshot(memoryUsage int64, residentChunks int) Snapshot {
	snap := Snapshot{
		ChunksLoaded:   a.chunksLoaded,
		FailedLoads:    a.failedLoads,
		MemoryUsage:    memoryUsage,
		ResidentChunks: residentChunks,
		TotalLoadTime:  a.totalLoadTime,
	}
	if total := a.hits + a.misses; total > 0 {
		snap.CacheHitRate = float64(a.hits) / float64(total)
	}
	if a.chunksLoaded > 0 {
		snap.AverageLoadTime = a.totalLoadTime / time.Duration(a.chunksLoaded)
	}
	return snap
}
