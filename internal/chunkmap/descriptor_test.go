package chunkmap

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseDescriptorRoundTrip(t *testing.T) {
	raw, err := json.Marshal(gridMeta(2, 3, 128, 128))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	meta, err := ParseDescriptor(raw)
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	if meta.ChunksX != 2 || meta.ChunksY != 3 || len(meta.Chunks) != 6 {
		t.Fatalf("unexpected descriptor: %+v", meta)
	}
	if meta.Chunks[5].ID != "1_2" {
		t.Fatalf("chunk order not preserved: %s", meta.Chunks[5].ID)
	}
}

func TestParseDescriptorRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{"version": `},
		{"missing fields", `{"version": 1}`},
		{"negative dims", `{"version":1,"totalWidth":-5,"totalHeight":10,"chunkWidth":5,"chunkHeight":5,"chunksX":1,"chunksY":2,"chunks":[]}`},
		{"bad compression", `{"version":1,"totalWidth":10,"totalHeight":10,"chunkWidth":5,"chunkHeight":5,"chunksX":2,"chunksY":2,"compressionType":"lz77","chunks":[]}`},
		{"chunk missing filename", `{"version":1,"totalWidth":5,"totalHeight":5,"chunkWidth":5,"chunkHeight":5,"chunksX":1,"chunksY":1,"chunks":[{"id":"0_0","x":0,"y":0,"pixelX":0,"pixelY":0,"width":5,"height":5}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseDescriptor([]byte(tc.raw)); !errors.Is(err, ErrInvalidMetadata) {
				t.Fatalf("expected ErrInvalidMetadata, got %v", err)
			}
		})
	}
}

func TestLoadDescriptorMissingFile(t *testing.T) {
	if _, err := LoadDescriptor(t.TempDir() + "/absent.json"); err == nil {
		t.Fatal("expected error for missing descriptor file")
	}
}
