package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrChunkNotFound is returned when no stored chunk matches the id.
var ErrChunkNotFound = errors.New("chunk not found")

// ChunkRow is one stored map tile.
type ChunkRow struct {
	MapID    string
	ChunkID  string
	Data     []byte
	Checksum string
}

// ChunkRepo reads and writes chunk tiles for one map.
type ChunkRepo struct {
	db    *DB
	mapID string
}

func NewChunkRepo(db *DB, mapID string) *ChunkRepo {
	return &ChunkRepo{db: db, mapID: mapID}
}

// GetChunk returns the stored bytes for one chunk id.
func (r *ChunkRepo) GetChunk(ctx context.Context, chunkID string) ([]byte, error) {
	var data []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT data FROM chunks WHERE map_id = $1 AND chunk_id = $2`,
		r.mapID, chunkID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrChunkNotFound, r.mapID, chunkID)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// SaveChunk upserts one chunk's stored bytes and checksum.
func (r *ChunkRepo) SaveChunk(ctx context.Context, chunkID string, data []byte, checksum string) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO chunks (map_id, chunk_id, data, checksum)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (map_id, chunk_id)
		 DO UPDATE SET data = EXCLUDED.data, checksum = EXCLUDED.checksum`,
		r.mapID, chunkID, data, checksum,
	)
	return err
}

// CountChunks returns the number of stored chunks for the map.
func (r *ChunkRepo) CountChunks(ctx context.Context) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE map_id = $1`, r.mapID,
	).Scan(&n)
	return n, err
}
