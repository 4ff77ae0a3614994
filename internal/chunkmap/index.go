package chunkmap

import "fmt"

type gridKey struct {
	x int
	y int
}

// Index provides O(1) chunk lookup by id and by grid coordinate, plus the
// world-pixel → chunk translation. Built once per map, never mutated —
// safe for concurrent readers by virtue of immutability.
type Index struct {
	meta   *ChunkedMapMetadata
	byID   map[string]*ChunkMetadata
	byGrid map[gridKey]*ChunkMetadata
}

// NewIndex builds the lookup maps from a descriptor. Fails with
// ErrInvalidMetadata if the chunk list does not cover the grid exactly or
// any chunk lies outside [0,chunksX)×[0,chunksY).
func NewIndex(meta *ChunkedMapMetadata) (*Index, error) {
	if meta == nil {
		return nil, fmt.Errorf("%w: nil descriptor", ErrInvalidMetadata)
	}
	if want := meta.ChunksX * meta.ChunksY; len(meta.Chunks) != want {
		return nil, fmt.Errorf("%w: %d chunks for a %dx%d grid (want %d)",
			ErrInvalidMetadata, len(meta.Chunks), meta.ChunksX, meta.ChunksY, want)
	}

	idx := &Index{
		meta:   meta,
		byID:   make(map[string]*ChunkMetadata, len(meta.Chunks)),
		byGrid: make(map[gridKey]*ChunkMetadata, len(meta.Chunks)),
	}
	for i := range meta.Chunks {
		c := &meta.Chunks[i]
		if c.X < 0 || c.X >= meta.ChunksX || c.Y < 0 || c.Y >= meta.ChunksY {
			return nil, fmt.Errorf("%w: chunk %s grid coord (%d,%d) out of bounds",
				ErrInvalidMetadata, c.ID, c.X, c.Y)
		}
		if _, dup := idx.byID[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate chunk id %s", ErrInvalidMetadata, c.ID)
		}
		k := gridKey{c.X, c.Y}
		if _, dup := idx.byGrid[k]; dup {
			return nil, fmt.Errorf("%w: duplicate grid coord (%d,%d)", ErrInvalidMetadata, c.X, c.Y)
		}
		idx.byID[c.ID] = c
		idx.byGrid[k] = c
	}
	return idx, nil
}

// Meta returns the descriptor the index was built from.
func (x *Index) Meta() *ChunkedMapMetadata { return x.meta }

// ByID returns the chunk with the given id, or nil.
func (x *Index) ByID(id string) *ChunkMetadata { return x.byID[id] }

// ByGrid returns the chunk at the given grid coordinate, or nil.
func (x *Index) ByGrid(gx, gy int) *ChunkMetadata { return x.byGrid[gridKey{gx, gy}] }

// ChunkAt returns the chunk containing the given world pixel position, or
// nil when the position is outside [0,totalWidth)×[0,totalHeight).
func (x *Index) ChunkAt(worldX, worldY float64) *ChunkMetadata {
	if worldX < 0 || worldY < 0 ||
		worldX >= float64(x.meta.TotalWidth) || worldY >= float64(x.meta.TotalHeight) {
		return nil
	}
	gx := int(worldX) / x.meta.ChunkWidth
	gy := int(worldY) / x.meta.ChunkHeight
	return x.byGrid[gridKey{gx, gy}]
}

// NeighborsOf returns all chunks within Chebyshev distance radius of the
// given chunk's grid coordinate (the chunk itself included), clipped to the
// grid bounds. Returns nil for an unknown id.
func (x *Index) NeighborsOf(id string, radius int) []*ChunkMetadata {
	center := x.byID[id]
	if center == nil || radius < 0 {
		return nil
	}

	x0 := max(center.X-radius, 0)
	x1 := min(center.X+radius, x.meta.ChunksX-1)
	y0 := max(center.Y-radius, 0)
	y1 := min(center.Y+radius, x.meta.ChunksY-1)

	out := make([]*ChunkMetadata, 0, (x1-x0+1)*(y1-y0+1))
	for gy := y0; gy <= y1; gy++ {
		for gx := x0; gx <= x1; gx++ {
			if c := x.byGrid[gridKey{gx, gy}]; c != nil {
				out = append(out, c)
			}
		}
	}
	return out
}
