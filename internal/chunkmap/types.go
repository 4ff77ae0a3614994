package chunkmap

import "errors"

// ErrInvalidMetadata means the map descriptor is malformed. Fatal at load
// time — the engine cannot start on a corrupt descriptor.
var ErrInvalidMetadata = errors.New("invalid map metadata")

// ChunkMetadata describes identity and geometry of one tile of the world
// image. Immutable once the descriptor is loaded.
type ChunkMetadata struct {
	ID       string `json:"id"` // stable key, "{gridX}_{gridY}"
	X        int    `json:"x"`  // grid column
	Y        int    `json:"y"`  // grid row
	PixelX   int    `json:"pixelX"`
	PixelY   int    `json:"pixelY"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Filename string `json:"filename"`
	Checksum string `json:"checksum,omitempty"` // blake2b-256 hex of the stored tile bytes
}

// ChunkedMapMetadata is the whole-map descriptor, loaded once at map-open
// time and never mutated afterwards.
type ChunkedMapMetadata struct {
	Version         int             `json:"version"`
	TotalWidth      int             `json:"totalWidth"`
	TotalHeight     int             `json:"totalHeight"`
	ChunkWidth      int             `json:"chunkWidth"`
	ChunkHeight     int             `json:"chunkHeight"`
	ChunksX         int             `json:"chunksX"`
	ChunksY         int             `json:"chunksY"`
	Chunks          []ChunkMetadata `json:"chunks"`
	CompressionType string          `json:"compressionType,omitempty"` // "" or "zstd"
}

// ChunkConfig is the tiling policy used when a map is produced. Consumed at
// build/import time only (cmd/mapchunk), not during runtime streaming.
type ChunkConfig struct {
	ChunkWidth  int    `yaml:"chunk_width"`
	ChunkHeight int    `yaml:"chunk_height"`
	Format      string `yaml:"format"`  // "png" or "jpeg"
	Quality     int    `yaml:"quality"` // jpeg only, 1-100
	Compress    bool   `yaml:"compress"`
}
