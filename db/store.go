package db

import (
	"context"
	"errors"
	"fmt"
)

// DocRef addresses one document in one collection.
type DocRef struct {
	Collection string
	ID         string
}

func Ref(collection, id string) DocRef {
	return DocRef{Collection: collection, ID: id}
}

func (r DocRef) String() string {
	return fmt.Sprintf("%s/%s", r.Collection, r.ID)
}

type OpKind int

const (
	// OpAddToSet adds a value to an array field unless already present.
	OpAddToSet OpKind = iota
	// OpPull removes all occurrences of a value from an array field.
	OpPull
	// OpPush appends a value to an array field unconditionally.
	OpPush
	// OpInc increments a numeric field, creating it when absent.
	OpInc
	// OpSet overwrites a field.
	OpSet
	// OpUnset removes a field.
	OpUnset
)

// Op is one atomic field mutation. Field is a dotted path and may traverse
// embedded documents, map keys and array indexes ("collections.2.postIds").
type Op struct {
	Kind  OpKind
	Field string
	Value interface{}
}

func AddToSet(field string, value interface{}) Op {
	return Op{Kind: OpAddToSet, Field: field, Value: value}
}

func Pull(field string, value interface{}) Op {
	return Op{Kind: OpPull, Field: field, Value: value}
}

func Push(field string, value interface{}) Op {
	return Op{Kind: OpPush, Field: field, Value: value}
}

func Inc(field string, delta int64) Op {
	return Op{Kind: OpInc, Field: field, Value: delta}
}

func Set(field string, value interface{}) Op {
	return Op{Kind: OpSet, Field: field, Value: value}
}

func Unset(field string) Op {
	return Op{Kind: OpUnset, Field: field}
}

// DocUpdate is one document's worth of ops inside a multi-document batch.
type DocUpdate struct {
	Ref DocRef
	Ops []Op
}

// Store is the document-store port. A single Update call is atomic with
// respect to its document; UpdateAll is atomic across its documents and is
// the only cross-document guarantee the store offers. Nothing here retries.
type Store interface {
	// Get loads one document into out. Returns ErrNotFound when absent.
	Get(ctx context.Context, ref DocRef, out interface{}) error

	// Insert creates a new document with the given id.
	Insert(ctx context.Context, collection, id string, doc interface{}) error

	// Update applies ops to one document atomically.
	Update(ctx context.Context, ref DocRef, ops ...Op) error

	// UpdateAll applies every update or none of them.
	UpdateAll(ctx context.Context, updates ...DocUpdate) error

	// Delete removes a document. Deleting an absent document is success.
	Delete(ctx context.Context, ref DocRef) error

	// FindByIDs loads the documents whose ids appear in ids, in no
	// particular order, into out (a pointer to a slice). IDs with no
	// backing document are silently dropped. Callers are responsible for
	// keeping len(ids) within the provider batch limit; use the chunked
	// fetcher for unbounded lists.
	FindByIDs(ctx context.Context, collection string, ids []string, out interface{}) error

	// Find loads documents matching the equality filter, unordered.
	// Ordering is always applied in memory by the caller.
	Find(ctx context.Context, collection string, filter map[string]interface{}, out interface{}) error
}

var (
	// ErrNotFound: the referenced document vanished between read and write.
	ErrNotFound = errors.New("document not found")
	// ErrPermissionDenied: the store rejected the write. Never retried.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTransient wraps network and availability failures. The caller may
	// retry; the core never does.
	ErrTransient = errors.New("transient store error")
)

func Transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
