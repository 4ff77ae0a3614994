package chunkmap

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadChunkConfigFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiling.yaml")
	if err := os.WriteFile(path, []byte("chunk_width: 256\ncompress: true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadChunkConfig(path)
	if err != nil {
		t.Fatalf("LoadChunkConfig: %v", err)
	}
	if cfg.ChunkWidth != 256 || cfg.ChunkHeight != 512 {
		t.Errorf("dimensions = %dx%d, want 256x512", cfg.ChunkWidth, cfg.ChunkHeight)
	}
	if cfg.Format != "png" || !cfg.Compress {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestChunkConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  ChunkConfig
		ok   bool
	}{
		{"defaults", DefaultChunkConfig(), true},
		{"jpeg with quality", ChunkConfig{ChunkWidth: 64, ChunkHeight: 64, Format: "jpeg", Quality: 90}, true},
		{"zero width", ChunkConfig{ChunkWidth: 0, ChunkHeight: 64, Format: "png"}, false},
		{"bad format", ChunkConfig{ChunkWidth: 64, ChunkHeight: 64, Format: "webp"}, false},
		{"jpeg quality out of range", ChunkConfig{ChunkWidth: 64, ChunkHeight: 64, Format: "jpeg", Quality: 0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}
