// Package milvus is a rag.VectorIndex backed by Milvus.
//
// Milvus only accepts [A-Za-z0-9_] in collection names, so document names
// are hex encoded behind a fixed prefix and decoded again when listing.
package milvus

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"google.golang.org/grpc"

	"github.com/ink-chat/inkchat/internal/rag"
)

const (
	namePrefix   = "ink_"
	maxNameLen   = 255
	textMaxLen   = 65535
	labelMaxLen  = 64
	vectorField  = "embedding"
	textField    = "text"
	pageField    = "page"
	labelField   = "page_label"
	indexField   = "chunk_index"
	insertBatch  = 512
	searchNprobe = "16"
)

var outputFields = []string{textField, pageField, labelField, indexField}

var _ client = (*milvusclient.Client)(nil)

// Config configures the connection
type Config struct {
	Address  string
	Database string
	Username string
	Password string
	Timeout  time.Duration
}

// client is the subset of *milvusclient.Client the store calls
type client interface {
	HasCollection(ctx context.Context, option milvusclient.HasCollectionOption, callOptions ...grpc.CallOption) (bool, error)
	CreateCollection(ctx context.Context, option milvusclient.CreateCollectionOption, callOptions ...grpc.CallOption) error
	DropCollection(ctx context.Context, option milvusclient.DropCollectionOption, callOptions ...grpc.CallOption) error
	ListCollections(ctx context.Context, option milvusclient.ListCollectionOption, callOptions ...grpc.CallOption) ([]string, error)
	CreateIndex(ctx context.Context, option milvusclient.CreateIndexOption, callOptions ...grpc.CallOption) (*milvusclient.CreateIndexTask, error)
	Insert(ctx context.Context, option milvusclient.InsertOption, callOptions ...grpc.CallOption) (milvusclient.InsertResult, error)
	Flush(ctx context.Context, option milvusclient.FlushOption, callOptions ...grpc.CallOption) (*milvusclient.FlushTask, error)
	LoadCollection(ctx context.Context, option milvusclient.LoadCollectionOption, callOptions ...grpc.CallOption) (milvusclient.LoadTask, error)
	Search(ctx context.Context, option milvusclient.SearchOption, callOptions ...grpc.CallOption) ([]milvusclient.ResultSet, error)
	Close(ctx context.Context) error
}

// Store wraps the Milvus SDK client
type Store struct {
	client client
}

// New connects to Milvus
func New(ctx context.Context, cfg Config) (*Store, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}
	return &Store{client: c}, nil
}

// Close closes the client connection
func (s *Store) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// CreateCollection creates an indexed, loaded collection holding entries.
// Any failure once creation has been requested drops the collection again.
func (s *Store) CreateCollection(ctx context.Context, name string, entries []rag.Entry) (err error) {
	if len(entries) == 0 {
		return fmt.Errorf("collection %q has no chunks", name)
	}
	dim := len(entries[0].Vector)
	for i, e := range entries {
		if len(e.Vector) != dim {
			return fmt.Errorf("chunk %d has dimension %d, expected %d", i, len(e.Vector), dim)
		}
	}

	coll := collectionName(name)
	if len(coll) > maxNameLen {
		return fmt.Errorf("collection name %q is too long for milvus (max %d bytes)", name, (maxNameLen-len(namePrefix))/2)
	}
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(coll))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return fmt.Errorf("%q: %w", name, rag.ErrCollectionExists)
	}

	// a create that reported an error may still have taken effect
	defer func() {
		if err != nil {
			dropCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if dropErr := s.dropIfExists(dropCtx, coll); dropErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback failed: %w", dropErr))
			}
		}
	}()

	if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(coll, schema(coll, dim))); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idxTask, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(coll, vectorField, index.NewIvfFlatIndex(entity.COSINE, 128)))
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := idxTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for index creation: %w", err)
	}

	for lo := 0; lo < len(entries); lo += insertBatch {
		hi := min(lo+insertBatch, len(entries))
		if _, err := s.client.Insert(ctx, milvusclient.NewColumnBasedInsertOption(coll, columns(entries[lo:hi])...)); err != nil {
			return fmt.Errorf("failed to insert chunks %d-%d: %w", lo, hi, err)
		}
	}

	flushTask, err := s.client.Flush(ctx, milvusclient.NewFlushOption(coll))
	if err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for flush: %w", err)
	}

	loadTask, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(coll))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}
	return nil
}

// Search returns the k chunks nearest to vector
func (s *Store) Search(ctx context.Context, name string, vector []float32, k int) ([]rag.Match, error) {
	coll := collectionName(name)
	if err := s.mustExist(ctx, name, coll); err != nil {
		return nil, err
	}

	results, err := s.client.Search(ctx, milvusclient.NewSearchOption(
		coll,
		k,
		[]entity.Vector{entity.FloatVector(vector)},
	).WithANNSField(vectorField).
		WithSearchParam("nprobe", searchNprobe).
		WithOutputFields(outputFields...))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(results) == 0 {
		return []rag.Match{}, nil
	}
	return toMatches(results[0]), nil
}

// DeleteCollection drops the collection
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	coll := collectionName(name)
	if err := s.mustExist(ctx, name, coll); err != nil {
		return err
	}
	if err := s.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(coll)); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// ListCollections returns the document names stored in the database
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	colls, err := s.client.ListCollections(ctx, milvusclient.NewListCollectionOption())
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	names := make([]string, 0, len(colls))
	for _, c := range colls {
		if name, ok := documentName(c); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

func (s *Store) dropIfExists(ctx context.Context, coll string) error {
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(coll))
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return s.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(coll))
}

func (s *Store) mustExist(ctx context.Context, name, coll string) error {
	if len(coll) > maxNameLen {
		return fmt.Errorf("%q: %w", name, rag.ErrCollectionNotFound)
	}
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(coll))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("%q: %w", name, rag.ErrCollectionNotFound)
	}
	return nil
}

func collectionName(name string) string {
	return namePrefix + hex.EncodeToString([]byte(name))
}

func documentName(coll string) (string, bool) {
	enc, ok := strings.CutPrefix(coll, namePrefix)
	if !ok {
		return "", false
	}
	b, err := hex.DecodeString(enc)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func schema(coll string, dim int) *entity.Schema {
	return entity.NewSchema().
		WithName(coll).
		WithAutoID(true).
		WithField(entity.NewField().
			WithName("id").
			WithDataType(entity.FieldTypeInt64).
			WithIsPrimaryKey(true).
			WithIsAutoID(true)).
		WithField(entity.NewField().
			WithName(vectorField).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(dim))).
		WithField(entity.NewField().
			WithName(textField).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(textMaxLen)).
		WithField(entity.NewField().
			WithName(pageField).
			WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().
			WithName(labelField).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(labelMaxLen)).
		WithField(entity.NewField().
			WithName(indexField).
			WithDataType(entity.FieldTypeInt64))
}

func columns(entries []rag.Entry) []column.Column {
	vectors := make([][]float32, len(entries))
	texts := make([]string, len(entries))
	pages := make([]int64, len(entries))
	labels := make([]string, len(entries))
	indexes := make([]int64, len(entries))
	for i, e := range entries {
		vectors[i] = e.Vector
		texts[i] = truncate(e.Text, textMaxLen)
		pages[i] = int64(e.Metadata.Page)
		labels[i] = truncate(e.Metadata.PageLabel, labelMaxLen)
		indexes[i] = int64(e.Metadata.ChunkIndex)
	}
	return []column.Column{
		column.NewColumnFloatVector(vectorField, len(vectors[0]), vectors),
		column.NewColumnVarChar(textField, texts),
		column.NewColumnInt64(pageField, pages),
		column.NewColumnVarChar(labelField, labels),
		column.NewColumnInt64(indexField, indexes),
	}
}

func toMatches(rs milvusclient.ResultSet) []rag.Match {
	matches := make([]rag.Match, rs.ResultCount)
	for i := range matches {
		matches[i].Score = rs.Scores[i]
	}
	for _, field := range rs.Fields {
		switch col := field.(type) {
		case *column.ColumnVarChar:
			data := col.Data()
			for i := range matches {
				switch col.Name() {
				case textField:
					matches[i].Text = data[i]
				case labelField:
					matches[i].Metadata.PageLabel = data[i]
				}
			}
		case *column.ColumnInt64:
			data := col.Data()
			for i := range matches {
				switch col.Name() {
				case pageField:
					matches[i].Metadata.Page = int(data[i])
				case indexField:
					matches[i].Metadata.ChunkIndex = int(data[i])
				}
			}
		}
	}
	return matches
}

// truncate caps s at n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

var (
	_ rag.VectorIndex      = (*Store)(nil)
	_ rag.CollectionLister = (*Store)(nil)
)
