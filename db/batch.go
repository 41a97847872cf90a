package db

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchLimit is the assumed provider limit on ID-list queries.
const DefaultBatchLimit = 30

// Chunk partitions ids into consecutive slices of at most limit entries.
func Chunk(ids []string, limit int) [][]string {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += limit {
		end := start + limit
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// FetchByIDs loads an unbounded ID list by dispatching one FindByIDs query
// per chunk, in parallel. Chunks have no ordering dependency on each other;
// results arrive unordered and ids that no longer exist are dropped rather
// than reported. No deduplication happens across chunks — the input chunks
// are disjoint by construction.
func FetchByIDs[T any](ctx context.Context, store Store, collection string, ids []string, limit int) ([]T, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var (
		mu     sync.Mutex
		merged []T
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, chunk := range Chunk(ids, limit) {
		chunk := chunk
		g.Go(func() error {
			var batch []T
			if err := store.FindByIDs(gctx, collection, chunk, &batch); err != nil {
				return err
			}
			mu.Lock()
			merged = append(merged, batch...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merged, nil
}

// Merger accumulates batch results across repeated deliveries, keyed by
// document id so a redelivered document overwrites instead of duplicating.
// Sorted re-applies the caller's descending ordering key over the whole
// merged set after every absorb.
type Merger[T any] struct {
	byID map[string]T
	id   func(T) string
	key  func(T) int64
}

func NewMerger[T any](id func(T) string, key func(T) int64) *Merger[T] {
	return &Merger[T]{
		byID: make(map[string]T),
		id:   id,
		key:  key,
	}
}

func (m *Merger[T]) Absorb(batch []T) {
	for _, item := range batch {
		m.byID[m.id(item)] = item
	}
}

// Sorted returns the merged set ordered by the sort key, descending.
func (m *Merger[T]) Sorted() []T {
	out := make([]T, 0, len(m.byID))
	for _, item := range m.byID {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return m.key(out[i]) > m.key(out[j])
	})
	return out
}
