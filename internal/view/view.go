// Package view translates the camera rectangle into prioritized chunk id
// sets. Recomputation is pure and side-effect-free — safe to call every
// frame.
package view

import (
	"math"

	"github.com/tilecast/server/internal/chunkmap"
)

// Priority ranks how urgently a chunk is needed. Lower value = more urgent.
// A chunk's priority is only ever derived from its current membership in the
// visibility sets, never cached.
type Priority int

const (
	PriorityCritical Priority = iota // intersects the viewport now
	PriorityHigh                     // orthogonally/diagonally adjacent to the viewport
	PriorityMedium                   // within the preload radius
	PriorityLow                      // resident but outside every set; first eviction pool
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Camera is the per-frame input from the camera/input layer. Width and
// height are screen-space; dividing by zoom yields the world-space rect.
type Camera struct {
	ScrollX        float64
	ScrollY        float64
	ViewportWidth  float64
	ViewportHeight float64
	Zoom           float64
	MinZoom        float64
	MaxZoom        float64
}

// Visibility holds the three disjoint chunk id sets for one frame, in
// deterministic row-major order.
type Visibility struct {
	Visible  []string
	Adjacent []string
	Preload  []string

	byID map[string]Priority
}

// NewVisibility assembles a Visibility from explicit sets. The calculator
// produces these normally; this exists for callers that replay or fabricate
// frames.
func NewVisibility(visible, adjacent, preload []string) Visibility {
	v := Visibility{
		Visible:  visible,
		Adjacent: adjacent,
		Preload:  preload,
		byID:     make(map[string]Priority, len(visible)+len(adjacent)+len(preload)),
	}
	for _, id := range visible {
		v.byID[id] = PriorityCritical
	}
	for _, id := range adjacent {
		if _, ok := v.byID[id]; !ok {
			v.byID[id] = PriorityHigh
		}
	}
	for _, id := range preload {
		if _, ok := v.byID[id]; !ok {
			v.byID[id] = PriorityMedium
		}
	}
	return v
}

// Priority reports the priority implied by set membership. Ids outside all
// three sets are background (PriorityLow).
func (v *Visibility) Priority(id string) Priority {
	if p, ok := v.byID[id]; ok {
		return p
	}
	return PriorityLow
}

// Contains reports whether the id is in any of the three sets.
func (v *Visibility) Contains(id string) bool {
	_, ok := v.byID[id]
	return ok
}

// Calculator computes visibility sets against one map index.
type Calculator struct {
	index *chunkmap.Index
}

func NewCalculator(index *chunkmap.Index) *Calculator {
	return &Calculator{index: index}
}

// clampZoom pins zoom into [MinZoom, MaxZoom]. Returns 0 when no valid zoom
// can be recovered.
func clampZoom(cam Camera) float64 {
	z := cam.Zoom
	if math.IsNaN(z) {
		z = cam.MinZoom
	}
	if cam.MinZoom > 0 && z < cam.MinZoom {
		z = cam.MinZoom
	}
	if cam.MaxZoom > 0 && z > cam.MaxZoom {
		z = cam.MaxZoom
	}
	if math.IsNaN(z) || z <= 0 {
		return 0
	}
	return z
}

// worldRect derives the camera's world-space rect. ok=false means the input
// was degenerate; callers fall back to an empty visibility instead of
// crashing the scheduler.
func worldRect(cam Camera) (x, y, w, h float64, ok bool) {
	z := clampZoom(cam)
	if z == 0 {
		return 0, 0, 0, 0, false
	}
	w = cam.ViewportWidth / z
	h = cam.ViewportHeight / z
	bad := func(f float64) bool { return math.IsNaN(f) || math.IsInf(f, 0) }
	if bad(cam.ScrollX) || bad(cam.ScrollY) || bad(w) || bad(h) || w <= 0 || h <= 0 {
		return 0, 0, 0, 0, false
	}
	return cam.ScrollX, cam.ScrollY, w, h, true
}

// Compute partitions the map's chunks into visible/adjacent/preload sets for
// the given camera. preloadRadius is in chunk units (Chebyshev distance on
// the grid), measured from the chunk under the camera center.
func (c *Calculator) Compute(cam Camera, preloadRadius int) Visibility {
	vis := Visibility{byID: make(map[string]Priority)}
	meta := c.index.Meta()

	rx, ry, rw, rh, ok := worldRect(cam)
	if !ok {
		return vis
	}

	// Grid range of chunks whose world rect intersects [rx,rx+rw)×[ry,ry+rh).
	gx0 := int(math.Floor(rx / float64(meta.ChunkWidth)))
	gy0 := int(math.Floor(ry / float64(meta.ChunkHeight)))
	gx1 := int(math.Ceil((rx+rw)/float64(meta.ChunkWidth))) - 1
	gy1 := int(math.Ceil((ry+rh)/float64(meta.ChunkHeight))) - 1

	gx0 = max(gx0, 0)
	gy0 = max(gy0, 0)
	gx1 = min(gx1, meta.ChunksX-1)
	gy1 = min(gy1, meta.ChunksY-1)
	if gx0 > gx1 || gy0 > gy1 {
		return vis // viewport entirely off-map
	}

	for gy := gy0; gy <= gy1; gy++ {
		for gx := gx0; gx <= gx1; gx++ {
			if ch := c.index.ByGrid(gx, gy); ch != nil {
				vis.Visible = append(vis.Visible, ch.ID)
				vis.byID[ch.ID] = PriorityCritical
			}
		}
	}

	// Adjacent ring: the visible region is rectangular, so its Chebyshev-1
	// neighbourhood is the one-chunk border around it.
	for gy := gy0 - 1; gy <= gy1+1; gy++ {
		for gx := gx0 - 1; gx <= gx1+1; gx++ {
			if gx >= gx0 && gx <= gx1 && gy >= gy0 && gy <= gy1 {
				continue
			}
			if ch := c.index.ByGrid(gx, gy); ch != nil {
				vis.Adjacent = append(vis.Adjacent, ch.ID)
				vis.byID[ch.ID] = PriorityHigh
			}
		}
	}

	// Preload: chunks within preloadRadius of the camera-center chunk that
	// are not already claimed by a higher band.
	if preloadRadius > 0 {
		cgx := int((rx + rw/2) / float64(meta.ChunkWidth))
		cgy := int((ry + rh/2) / float64(meta.ChunkHeight))
		cgx = min(max(cgx, 0), meta.ChunksX-1)
		cgy = min(max(cgy, 0), meta.ChunksY-1)
		for gy := cgy - preloadRadius; gy <= cgy+preloadRadius; gy++ {
			for gx := cgx - preloadRadius; gx <= cgx+preloadRadius; gx++ {
				ch := c.index.ByGrid(gx, gy)
				if ch == nil {
					continue
				}
				if _, claimed := vis.byID[ch.ID]; claimed {
					continue
				}
				vis.Preload = append(vis.Preload, ch.ID)
				vis.byID[ch.ID] = PriorityMedium
			}
		}
	}

	return vis
}

// ClampCamera pins the camera scroll so the world-space viewport stays
// within the map bounds. Consumed by the input layer for drag-to-pan
// clamping; a viewport larger than the map pins to the origin.
func (c *Calculator) ClampCamera(cam Camera) Camera {
	meta := c.index.Meta()
	rx, ry, rw, rh, ok := worldRect(cam)
	if !ok {
		return cam
	}
	maxX := float64(meta.TotalWidth) - rw
	maxY := float64(meta.TotalHeight) - rh
	cam.ScrollX = min(max(rx, 0), max(maxX, 0))
	cam.ScrollY = min(max(ry, 0), max(maxY, 0))
	return cam
}
