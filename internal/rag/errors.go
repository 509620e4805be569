package rag

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrDocumentParse      = errors.New("document parse error")
	ErrEmbeddingService   = errors.New("embedding service error")
	ErrVectorIndex        = errors.New("vector index error")
	ErrSynthesisService   = errors.New("synthesis service error")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionExists   = errors.New("collection already exists")
)

// Error is a pipeline failure tagged with its kind and the stage that produced it
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
