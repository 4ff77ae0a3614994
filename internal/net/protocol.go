package net

import (
	"github.com/tilecast/server/internal/metrics"
)

// Client message types.
const (
	MsgViewport       = "viewport"
	MsgMetricsRequest = "metrics"
)

// Server message types.
const (
	MsgHello        = "hello"
	MsgChunkReady   = "chunk_ready"
	MsgChunkEvicted = "chunk_evicted"
	MsgMetrics      = "metrics"
	MsgError        = "error"
)

// ClientMessage is one inbound websocket frame.
type ClientMessage struct {
	Type     string         `json:"type"`
	Viewport *ViewportState `json:"viewport,omitempty"`
}

// ViewportState is the client's camera, reported on every scroll/zoom change.
type ViewportState struct {
	ScrollX float64 `json:"scrollX"`
	ScrollY float64 `json:"scrollY"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Zoom    float64 `json:"zoom"`
}

// ServerMessage is one outbound websocket frame. Exactly one payload field is
// set, matching Type.
type ServerMessage struct {
	Type    string            `json:"type"`
	Map     *MapInfo          `json:"map,omitempty"`
	Chunk   *ChunkPayload     `json:"chunk,omitempty"`
	ChunkID string            `json:"chunkId,omitempty"`
	Metrics *metrics.Snapshot `json:"metrics,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// MapInfo is the hello payload: enough geometry for the client to size its
// world before any chunk arrives.
type MapInfo struct {
	Version     int `json:"version"`
	TotalWidth  int `json:"totalWidth"`
	TotalHeight int `json:"totalHeight"`
	ChunkWidth  int `json:"chunkWidth"`
	ChunkHeight int `json:"chunkHeight"`
	ChunksX     int `json:"chunksX"`
	ChunksY     int `json:"chunksY"`
}

// ChunkPayload carries one chunk's placement and decoded bytes. Data rides
// as base64 in the JSON frame.
type ChunkPayload struct {
	ID     string `json:"id"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	PixelX int    `json:"pixelX"`
	PixelY int    `json:"pixelY"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []byte `json:"data"`
}
