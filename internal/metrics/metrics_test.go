package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/tilecast/server/internal/scheduler"
)

func TestSnapshotAggregates(t *testing.T) {
	a := NewAggregator()

	a.RecordLoad(scheduler.Result{ID: "0_0", LoadTime: 30 * time.Millisecond})
	a.RecordLoad(scheduler.Result{ID: "1_0", LoadTime: 10 * time.Millisecond})
	a.RecordLoad(scheduler.Result{ID: "2_0", Err: errors.New("fetch failed"), LoadTime: 5 * time.Second})

	a.RecordAccess(true)
	a.RecordAccess(true)
	a.RecordAccess(true)
	a.RecordAccess(false)

	snap := a.Snapshot(4096, 2)

	if snap.ChunksLoaded != 2 {
		t.Errorf("chunksLoaded = %d, want 2", snap.ChunksLoaded)
	}
	if snap.FailedLoads != 1 {
		t.Errorf("failedLoads = %d, want 1", snap.FailedLoads)
	}
	// Failed load timing must not pollute the aggregates.
	if snap.TotalLoadTime != 40*time.Millisecond {
		t.Errorf("totalLoadTime = %v, want 40ms", snap.TotalLoadTime)
	}
	if snap.AverageLoadTime != 20*time.Millisecond {
		t.Errorf("averageLoadTime = %v, want 20ms", snap.AverageLoadTime)
	}
	if snap.CacheHitRate != 0.75 {
		t.Errorf("cacheHitRate = %v, want 0.75", snap.CacheHitRate)
	}
	if snap.MemoryUsage != 4096 || snap.ResidentChunks != 2 {
		t.Errorf("memory figures = %d/%d, want 4096/2", snap.MemoryUsage, snap.ResidentChunks)
	}
}

func TestEmptySnapshotHasNoRates(t *testing.T) {
	snap := NewAggregator().Snapshot(0, 0)
	if snap.CacheHitRate != 0 || snap.AverageLoadTime != 0 {
		t.Fatalf("empty aggregator produced rates: %+v", snap)
	}
}
