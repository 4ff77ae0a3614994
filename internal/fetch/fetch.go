// Package fetch supplies the chunk byte sources behind the load scheduler:
// a filesystem store for tiles produced by mapchunk and a postgres store for
// deployments that keep map data in the database.
package fetch

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"

	"github.com/tilecast/server/internal/chunkmap"
)

// Sum returns the hex checksum recorded in chunk metadata for the given
// stored bytes.
func Sum(data []byte) string {
	h := blake2b.Sum256(data)
	return hex.EncodeToString(h[:])
}

// verify checks stored bytes against the metadata checksum. An empty
// recorded checksum means the map was tiled without integrity data.
func verify(meta *chunkmap.ChunkMetadata, data []byte) error {
	if meta.Checksum == "" {
		return nil
	}
	if got := Sum(data); got != meta.Checksum {
		return fmt.Errorf("chunk %s checksum mismatch: got %s want %s", meta.ID, got, meta.Checksum)
	}
	return nil
}

// FileFetcher reads chunk tiles from a directory. Safe for concurrent use;
// the zstd decoder is stateless in DecodeAll mode.
type FileFetcher struct {
	dir     string
	decoder *zstd.Decoder
}

// NewFileFetcher builds a fetcher over dir. compression mirrors the map
// descriptor's compressionType ("" or "zstd").
func NewFileFetcher(dir, compression string) (*FileFetcher, error) {
	f := &FileFetcher{dir: dir}
	switch compression {
	case "":
	case "zstd":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("init zstd decoder: %w", err)
		}
		f.decoder = dec
	default:
		return nil, fmt.Errorf("unsupported compression type %q", compression)
	}
	return f, nil
}

func (f *FileFetcher) Fetch(ctx context.Context, meta *chunkmap.ChunkMetadata) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(f.dir, meta.Filename))
	if err != nil {
		return nil, fmt.Errorf("read chunk %s: %w", meta.ID, err)
	}
	// Checksums cover the stored bytes, so corruption is caught before the
	// decoder sees the payload.
	if err := verify(meta, data); err != nil {
		return nil, err
	}
	if f.decoder != nil {
		out, err := f.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress chunk %s: %w", meta.ID, err)
		}
		return out, nil
	}
	return data, nil
}

// ChunkReader is the slice of the persistence layer the postgres fetcher
// needs.
type ChunkReader interface {
	GetChunk(ctx context.Context, chunkID string) ([]byte, error)
}

// PostgresFetcher serves chunk bytes from the chunks table.
type PostgresFetcher struct {
	repo    ChunkReader
	decoder *zstd.Decoder
}

func NewPostgresFetcher(repo ChunkReader, compression string) (*PostgresFetcher, error) {
	p := &PostgresFetcher{repo: repo}
	switch compression {
	case "":
	case "zstd":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("init zstd decoder: %w", err)
		}
		p.decoder = dec
	default:
		return nil, fmt.Errorf("unsupported compression type %q", compression)
	}
	return p, nil
}

func (p *PostgresFetcher) Fetch(ctx context.Context, meta *chunkmap.ChunkMetadata) ([]byte, error) {
	data, err := p.repo.GetChunk(ctx, meta.ID)
	if err != nil {
		return nil, fmt.Errorf("load chunk %s: %w", meta.ID, err)
	}
	if err := verify(meta, data); err != nil {
		return nil, err
	}
	if p.decoder != nil {
		out, err := p.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress chunk %s: %w", meta.ID, err)
		}
		return out, nil
	}
	return data, nil
}
