package chunkmap

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// descriptorSchema guards the wire shape of the descriptor before any field
// is trusted. Structural invariants (chunk count, grid coords) are checked
// by NewIndex afterwards.
const descriptorSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "totalWidth", "totalHeight", "chunkWidth", "chunkHeight", "chunksX", "chunksY", "chunks"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "totalWidth": {"type": "integer", "minimum": 1},
    "totalHeight": {"type": "integer", "minimum": 1},
    "chunkWidth": {"type": "integer", "minimum": 1},
    "chunkHeight": {"type": "integer", "minimum": 1},
    "chunksX": {"type": "integer", "minimum": 1},
    "chunksY": {"type": "integer", "minimum": 1},
    "compressionType": {"type": "string", "enum": ["", "zstd"]},
    "chunks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "x", "y", "pixelX", "pixelY", "width", "height", "filename"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "x": {"type": "integer", "minimum": 0},
          "y": {"type": "integer", "minimum": 0},
          "pixelX": {"type": "integer", "minimum": 0},
          "pixelY": {"type": "integer", "minimum": 0},
          "width": {"type": "integer", "minimum": 1},
          "height": {"type": "integer", "minimum": 1},
          "filename": {"type": "string", "minLength": 1},
          "checksum": {"type": "string"}
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("map_descriptor.json", descriptorSchema)
	})
	return schema, schemaErr
}

// ParseDescriptor validates and decodes a raw map descriptor document.
func ParseDescriptor(raw []byte) (*ChunkedMapMetadata, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile descriptor schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse descriptor: %v", ErrInvalidMetadata, err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	var meta ChunkedMapMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: decode descriptor: %v", ErrInvalidMetadata, err)
	}
	return &meta, nil
}

// LoadDescriptor reads and parses a map descriptor from disk.
func LoadDescriptor(path string) (*ChunkedMapMetadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor %s: %w", path, err)
	}
	return ParseDescriptor(raw)
}
