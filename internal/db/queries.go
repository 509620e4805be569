package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/ink-chat/inkchat/internal/rag"
)

// Store is a pgvector-backed rag.VectorIndex
type Store struct {
	db *DB
}

// NewStore creates a store on db
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// CreateCollection inserts the collection row and all of its chunks in one
// transaction, so a failure leaves nothing behind.
func (s *Store) CreateCollection(ctx context.Context, name string, entries []rag.Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("collection %q has no chunks", name)
	}
	dim := len(entries[0].Vector)
	for i, e := range entries {
		if len(e.Vector) != dim {
			return fmt.Errorf("chunk %d has dimension %d, expected %d", i, len(e.Vector), dim)
		}
	}

	tx, err := s.db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	collectionID := uuid.New()
	tag, err := tx.Exec(ctx,
		`INSERT INTO collections (id, name, dimension, chunk_count)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO NOTHING`,
		collectionID, name, dim, len(entries),
	)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%q: %w", name, rag.ErrCollectionExists)
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO chunks (id, collection_id, chunk_index, page, page_label, content, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), collectionID, e.Metadata.ChunkIndex, e.Metadata.Page,
			e.Metadata.PageLabel, e.Text, pgvector.NewVector(e.Vector),
		)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range entries {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to finish chunk batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit collection: %w", err)
	}
	return nil
}

// GetCollection returns the named collection
func (s *Store) GetCollection(ctx context.Context, name string) (*Collection, error) {
	var c Collection
	err := s.db.pool.QueryRow(ctx,
		`SELECT id, name, dimension, chunk_count, created_at FROM collections WHERE name = $1`,
		name,
	).Scan(&c.ID, &c.Name, &c.Dimension, &c.ChunkCount, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", name, rag.ErrCollectionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return &c, nil
}

// Search returns the k chunks nearest to vector by cosine similarity
func (s *Store) Search(ctx context.Context, name string, vector []float32, k int) ([]rag.Match, error) {
	c, err := s.GetCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(vector) != c.Dimension {
		return nil, fmt.Errorf("query dimension %d does not match collection dimension %d", len(vector), c.Dimension)
	}

	rows, err := s.db.pool.Query(ctx,
		`SELECT page, page_label, chunk_index, content, 1 - (embedding <=> $2) AS score
		 FROM chunks
		 WHERE collection_id = $1
		 ORDER BY embedding <=> $2
		 LIMIT $3`,
		c.ID, pgvector.NewVector(vector), k,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var matches []rag.Match
	for rows.Next() {
		var m rag.Match
		var score float64
		if err := rows.Scan(
			&m.Metadata.Page, &m.Metadata.PageLabel, &m.Metadata.ChunkIndex,
			&m.Text, &score,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		m.Score = float32(score)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// DeleteCollection deletes a collection; its chunks go with it
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	tag, err := s.db.pool.Exec(ctx, `DELETE FROM collections WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%q: %w", name, rag.ErrCollectionNotFound)
	}
	return nil
}

// ListCollections returns collection names, newest first
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.pool.Query(ctx, `SELECT name FROM collections ORDER BY created_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan collections: %w", err)
	}
	return names, nil
}

var (
	_ rag.VectorIndex      = (*Store)(nil)
	_ rag.CollectionLister = (*Store)(nil)
)
