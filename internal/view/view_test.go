package view

import (
	"fmt"
	"math"
	"testing"

	"github.com/tilecast/server/internal/chunkmap"
)

func testIndex(t *testing.T, cx, cy, cw, ch int) *chunkmap.Index {
	t.Helper()
	meta := &chunkmap.ChunkedMapMetadata{
		Version:     1,
		TotalWidth:  cx * cw,
		TotalHeight: cy * ch,
		ChunkWidth:  cw,
		ChunkHeight: ch,
		ChunksX:     cx,
		ChunksY:     cy,
	}
	for y := 0; y < cy; y++ {
		for x := 0; x < cx; x++ {
			id := fmt.Sprintf("%d_%d", x, y)
			meta.Chunks = append(meta.Chunks, chunkmap.ChunkMetadata{
				ID: id, X: x, Y: y,
				PixelX: x * cw, PixelY: y * ch,
				Width: cw, Height: ch,
				Filename: id + ".png",
			})
		}
	}
	idx, err := chunkmap.NewIndex(meta)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return idx
}

func camera(sx, sy, w, h, zoom float64) Camera {
	return Camera{
		ScrollX: sx, ScrollY: sy,
		ViewportWidth: w, ViewportHeight: h,
		Zoom: zoom, MinZoom: 0.25, MaxZoom: 4,
	}
}

// The reference scenario: a 100x100 grid, camera covering exactly chunk
// (50,50), preload radius 2.
func TestComputeSingleChunkViewport(t *testing.T) {
	calc := NewCalculator(testIndex(t, 100, 100, 64, 64))
	cam := camera(50*64, 50*64, 64, 64, 1)

	vis := calc.Compute(cam, 2)

	if len(vis.Visible) != 1 || vis.Visible[0] != "50_50" {
		t.Fatalf("visible = %v, want [50_50]", vis.Visible)
	}
	if len(vis.Adjacent) != 8 {
		t.Fatalf("adjacent = %d chunks, want 8: %v", len(vis.Adjacent), vis.Adjacent)
	}
	if len(vis.Preload) != 16 {
		t.Fatalf("preload = %d chunks, want the distance-2 ring of 16: %v", len(vis.Preload), vis.Preload)
	}

	if got := vis.Priority("50_50"); got != PriorityCritical {
		t.Errorf("priority(50_50) = %v, want critical", got)
	}
	if got := vis.Priority("51_51"); got != PriorityHigh {
		t.Errorf("priority(51_51) = %v, want high", got)
	}
	if got := vis.Priority("52_50"); got != PriorityMedium {
		t.Errorf("priority(52_50) = %v, want medium", got)
	}
	if got := vis.Priority("60_60"); got != PriorityLow {
		t.Errorf("priority(60_60) = %v, want low", got)
	}
}

func TestComputeSetsAreDisjoint(t *testing.T) {
	calc := NewCalculator(testIndex(t, 10, 10, 32, 32))
	vis := calc.Compute(camera(40, 40, 100, 80, 1), 3)

	seen := make(map[string]int)
	for _, id := range vis.Visible {
		seen[id]++
	}
	for _, id := range vis.Adjacent {
		seen[id]++
	}
	for _, id := range vis.Preload {
		seen[id]++
	}
	for id, n := range seen {
		if n > 1 {
			t.Fatalf("chunk %s appears in %d sets", id, n)
		}
	}
}

func TestComputeDegenerateInputDoesNotThrow(t *testing.T) {
	calc := NewCalculator(testIndex(t, 10, 10, 32, 32))

	cases := []Camera{
		{ScrollX: 0, ScrollY: 0, ViewportWidth: math.NaN(), ViewportHeight: -100, Zoom: 1, MinZoom: 0.5, MaxZoom: 2},
		{ScrollX: math.NaN(), ScrollY: 10, ViewportWidth: 100, ViewportHeight: 100, Zoom: 1, MinZoom: 0.5, MaxZoom: 2},
		{ScrollX: 0, ScrollY: 0, ViewportWidth: 100, ViewportHeight: 100, Zoom: math.NaN(), MinZoom: math.NaN(), MaxZoom: math.NaN()},
		{ScrollX: 0, ScrollY: 0, ViewportWidth: 100, ViewportHeight: 100, Zoom: -3, MinZoom: 0, MaxZoom: 0},
		{ScrollX: math.Inf(1), ScrollY: 0, ViewportWidth: 100, ViewportHeight: 100, Zoom: 1, MinZoom: 0.5, MaxZoom: 2},
	}
	for i, cam := range cases {
		vis := calc.Compute(cam, 2)
		if len(vis.Visible) != 0 || len(vis.Adjacent) != 0 || len(vis.Preload) != 0 {
			t.Errorf("case %d: degenerate camera produced non-empty sets", i)
		}
	}
}

func TestComputeClampsZoom(t *testing.T) {
	calc := NewCalculator(testIndex(t, 10, 10, 32, 32))

	// Zoom far below MinZoom would cover the whole map; clamped to MinZoom
	// (0.25) a 32x32 viewport covers 128x128 world px = a 4x4 chunk block.
	vis := calc.Compute(camera(0, 0, 32, 32, 0.0001), 0)
	if len(vis.Visible) != 16 {
		t.Fatalf("visible = %d chunks, want 16 after zoom clamp", len(vis.Visible))
	}
}

func TestComputeOffMapViewport(t *testing.T) {
	calc := NewCalculator(testIndex(t, 4, 4, 50, 50))
	vis := calc.Compute(camera(5000, 5000, 100, 100, 1), 2)
	if len(vis.Visible) != 0 {
		t.Fatalf("off-map viewport produced visible chunks: %v", vis.Visible)
	}
}

func TestClampCamera(t *testing.T) {
	calc := NewCalculator(testIndex(t, 4, 4, 50, 50)) // 200x200 world

	got := calc.ClampCamera(camera(-40, 500, 100, 100, 1))
	if got.ScrollX != 0 || got.ScrollY != 100 {
		t.Fatalf("clamped scroll = (%v,%v), want (0,100)", got.ScrollX, got.ScrollY)
	}

	// Viewport larger than the map pins to the origin.
	got = calc.ClampCamera(camera(50, 50, 400, 400, 1))
	if got.ScrollX != 0 || got.ScrollY != 0 {
		t.Fatalf("oversized viewport scroll = (%v,%v), want (0,0)", got.ScrollX, got.ScrollY)
	}
}
