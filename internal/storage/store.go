package storage

import (
	"context"
	"encoding/json"
)

// Filter matches documents whose flattened field equals Value. With Wildcard
// set, Value may contain "*" which matches any run of characters, used for
// vendor qualified product lookups ("*/name").
type Filter struct {
	Field    string
	Value    string
	Wildcard bool
}

// Query is the narrow query surface the core depends on: field equality,
// OR groups and negation. Anything fancier belongs to the storage engine,
// not to us.
type Query struct {
	Must    []Filter
	Should  []Filter
	MustNot []Filter
}

// Store is the document store collaborator. It behaves like an eventually
// consistent document store keyed by opaque identifiers; collections can be
// reached through aliases so a freshly built index can be swapped in
// atomically.
type Store interface {
	IndexMany(ctx context.Context, collection string, docs []any) error
	// Replace swaps a collection's documents for the given set in a single
	// operation, so readers never observe the collection half written.
	Replace(ctx context.Context, collection string, docs []any) error
	Search(ctx context.Context, collection string, query Query, size, from int) ([]json.RawMessage, error)
	Uniques(ctx context.Context, collection string, fields ...string) ([]map[string]string, error)
	DeleteByFilter(ctx context.Context, collection string, must ...Filter) (int64, error)
	PointAlias(ctx context.Context, alias, collection string, dropOld bool) error
	Close() error
}

// SearchAll pages through every hit for the query.
func SearchAll(ctx context.Context, store Store, collection string, query Query, pageSize int) ([]json.RawMessage, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}

	var all []json.RawMessage
	for from := 0; ; from += pageSize {
		page, err := store.Search(ctx, collection, query, pageSize, from)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}
