// Package remote reaches the authoritative hosted store. Rows travel as JSON
// objects with a string "id"; the engine decodes them into typed entities.
package remote

import (
	"context"
	"encoding/json"
	"errors"
)

// Permanent failure classes. Anything else returned by a Backend is transient.
var (
	ErrConflict = errors.New("remote: conflict")
	ErrRejected = errors.New("remote: rejected")
	ErrNotFound = errors.New("remote: not found")
)

// Filter is an equality condition on a top-level field.
type Filter struct {
	Field string
	Value string
}

// Query selects rows of one collection.
type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int // 0 = no limit
}

// Eq returns a Query with a single equality filter.
func Eq(field, value string) Query {
	return Query{Filters: []Filter{{Field: field, Value: value}}}
}

// Backend is the network client for the remote store.
type Backend interface {
	Select(ctx context.Context, collection string, q Query) ([]json.RawMessage, error)
	// Insert creates row (without an id) and returns the stored row with its canonical id.
	Insert(ctx context.Context, collection string, row json.RawMessage) (json.RawMessage, error)
	// Update replaces the fields of row id and returns the stored row.
	Update(ctx context.Context, collection, id string, row json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, collection, id string) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// IsPermanent reports whether retrying err can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrRejected) || errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a uniqueness or constraint conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
