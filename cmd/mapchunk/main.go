// mapchunk slices a large map image into fixed-size tiles and writes the
// map descriptor the streaming server serves from.
//
// Produces:
//   - <outdir>/{x}_{y}.<ext>       — tile files (optionally zstd-compressed)
//   - <outdir>/<mapname>.json      — chunked map descriptor
//
// With -dsn the tiles are also uploaded into the chunks table, so the
// server can run with the postgres store.
//
// Usage:
//
//	mapchunk [-config tiling.yaml] [-dsn postgres://...] <source image> <output dir>
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/tilecast/server/internal/chunkmap"
	"github.com/tilecast/server/internal/config"
	"github.com/tilecast/server/internal/fetch"
	"github.com/tilecast/server/internal/persist"
)

func main() {
	cfgPath := flag.String("config", "", "tiling config YAML (defaults to 512x512 png)")
	dsn := flag.String("dsn", "", "also upload tiles into this postgres database")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Usage: mapchunk [-config tiling.yaml] [-dsn postgres://...] <source image> <output dir>")
		os.Exit(1)
	}

	if err := run(*cfgPath, *dsn, flag.Arg(0), flag.Arg(1)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath, dsn, srcPath, outDir string) error {
	cfg := chunkmap.DefaultChunkConfig()
	if cfgPath != "" {
		var err error
		cfg, err = chunkmap.LoadChunkConfig(cfgPath)
		if err != nil {
			return err
		}
	}

	src, err := loadImage(srcPath)
	if err != nil {
		return err
	}
	bounds := src.Bounds()
	totalW, totalH := bounds.Dx(), bounds.Dy()
	chunksX := ceilDiv(totalW, cfg.ChunkWidth)
	chunksY := ceilDiv(totalH, cfg.ChunkHeight)

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var enc *zstd.Encoder
	if cfg.Compress {
		enc, err = zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("init zstd encoder: %w", err)
		}
		defer enc.Close()
	}

	meta := &chunkmap.ChunkedMapMetadata{
		Version:     1,
		TotalWidth:  totalW,
		TotalHeight: totalH,
		ChunkWidth:  cfg.ChunkWidth,
		ChunkHeight: cfg.ChunkHeight,
		ChunksX:     chunksX,
		ChunksY:     chunksY,
	}
	if cfg.Compress {
		meta.CompressionType = "zstd"
	}

	for gy := 0; gy < chunksY; gy++ {
		for gx := 0; gx < chunksX; gx++ {
			px := bounds.Min.X + gx*cfg.ChunkWidth
			py := bounds.Min.Y + gy*cfg.ChunkHeight
			w := min(cfg.ChunkWidth, bounds.Max.X-px)
			h := min(cfg.ChunkHeight, bounds.Max.Y-py)

			tile := image.NewRGBA(image.Rect(0, 0, w, h))
			draw.Draw(tile, tile.Bounds(), src, image.Pt(px, py), draw.Src)

			encoded, err := encodeTile(tile, cfg)
			if err != nil {
				return fmt.Errorf("encode tile %d_%d: %w", gx, gy, err)
			}
			if enc != nil {
				encoded = enc.EncodeAll(encoded, nil)
			}

			name := tileFilename(gx, gy, cfg)
			if err := os.WriteFile(filepath.Join(outDir, name), encoded, 0644); err != nil {
				return fmt.Errorf("write tile %s: %w", name, err)
			}

			meta.Chunks = append(meta.Chunks, chunkmap.ChunkMetadata{
				ID:       fmt.Sprintf("%d_%d", gx, gy),
				X:        gx,
				Y:        gy,
				PixelX:   gx * cfg.ChunkWidth,
				PixelY:   gy * cfg.ChunkHeight,
				Width:    w,
				Height:   h,
				Filename: name,
				Checksum: fetch.Sum(encoded),
			})
		}
	}

	// Reject our own output if it would not index cleanly.
	if _, err := chunkmap.NewIndex(meta); err != nil {
		return fmt.Errorf("descriptor self-check: %w", err)
	}

	mapName := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))
	descPath := filepath.Join(outDir, mapName+".json")
	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	if err := os.WriteFile(descPath, out, 0644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}

	fmt.Printf("tiled %dx%d image into %d chunks (%dx%d grid)\n",
		totalW, totalH, len(meta.Chunks), chunksX, chunksY)
	fmt.Printf("descriptor: %s\n", descPath)

	if dsn != "" {
		if err := upload(dsn, mapName, outDir, meta); err != nil {
			return err
		}
		fmt.Printf("uploaded %d chunks to postgres\n", len(meta.Chunks))
	}
	return nil
}

// upload copies the generated tiles into the chunks table.
func upload(dsn, mapName, outDir string, meta *chunkmap.ChunkedMapMetadata) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := persist.NewDB(ctx, config.DatabaseConfig{
		DSN: dsn, MaxOpenConns: 4, MaxIdleConns: 1, ConnMaxLifetime: 5 * time.Minute,
	}, zap.NewNop())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	if err := persist.RunMigrations(ctx, db.Pool); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	repo := persist.NewChunkRepo(db, mapName)
	for _, c := range meta.Chunks {
		data, err := os.ReadFile(filepath.Join(outDir, c.Filename))
		if err != nil {
			return fmt.Errorf("read tile %s: %w", c.Filename, err)
		}
		if err := repo.SaveChunk(ctx, c.ID, data, c.Checksum); err != nil {
			return fmt.Errorf("upload chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode source image %s: %w", path, err)
	}
	return img, nil
}

func encodeTile(tile image.Image, cfg chunkmap.ChunkConfig) ([]byte, error) {
	var buf bytes.Buffer
	switch cfg.Format {
	case "jpeg":
		if err := jpeg.Encode(&buf, tile, &jpeg.Options{Quality: cfg.Quality}); err != nil {
			return nil, err
		}
	default:
		if err := png.Encode(&buf, tile); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func tileFilename(gx, gy int, cfg chunkmap.ChunkConfig) string {
	ext := cfg.Format
	if ext == "jpeg" {
		ext = "jpg"
	}
	name := fmt.Sprintf("%d_%d.%s", gx, gy, ext)
	if cfg.Compress {
		name += ".zst"
	}
	return name
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
