package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Collection is one ingested document
type Collection struct {
	ID         uuid.UUID
	Name       string
	Dimension  int
	ChunkCount int
	CreatedAt  time.Time
}

// Chunk represents a text chunk with embedding
type Chunk struct {
	ID           uuid.UUID
	CollectionID uuid.UUID
	ChunkIndex   int
	Page         int
	PageLabel    string
	Content      string
	Embedding    pgvector.Vector
}
