package chunkmap

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultChunkConfig is the tiling policy used when no config file is given.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		ChunkWidth:  512,
		ChunkHeight: 512,
		Format:      "png",
		Quality:     85,
		Compress:    false,
	}
}

// LoadChunkConfig reads a tiling policy from a YAML file, filling unset
// fields from the defaults.
func LoadChunkConfig(path string) (ChunkConfig, error) {
	cfg := DefaultChunkConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read chunk config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse chunk config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("chunk config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects geometry and format values the tiler cannot honor.
func (c ChunkConfig) Validate() error {
	if c.ChunkWidth <= 0 || c.ChunkHeight <= 0 {
		return fmt.Errorf("chunk dimensions %dx%d must be positive", c.ChunkWidth, c.ChunkHeight)
	}
	switch c.Format {
	case "png", "jpeg":
	default:
		return fmt.Errorf("unknown tile format %q", c.Format)
	}
	if c.Format == "jpeg" && (c.Quality < 1 || c.Quality > 100) {
		return fmt.Errorf("jpeg quality %d out of range 1-100", c.Quality)
	}
	return nil
}
