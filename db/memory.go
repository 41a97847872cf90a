package db

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// memStore is an in-memory Store with the same semantics as the Mongo
// implementation. It backs the test suite and DEV_MODE.
type memStore struct {
	mu   sync.RWMutex
	data map[string]map[string]bson.M
}

func NewMemStore() Store {
	return &memStore{data: make(map[string]map[string]bson.M)}
}

func (s *memStore) coll(name string) map[string]bson.M {
	c, ok := s.data[name]
	if !ok {
		c = make(map[string]bson.M)
		s.data[name] = c
	}
	return c
}

// collRead never allocates, so it is safe under the read lock.
func (s *memStore) collRead(name string) map[string]bson.M {
	return s.data[name]
}

func (s *memStore) Get(ctx context.Context, ref DocRef, out interface{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.collRead(ref.Collection)[ref.ID]
	if !ok {
		return ErrNotFound
	}
	return decodeDoc(doc, out)
}

func (s *memStore) Insert(ctx context.Context, collection, id string, doc interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := toDoc(doc)
	if err != nil {
		return err
	}
	if _, ok := m["_id"]; !ok {
		m["_id"] = id
	}
	s.coll(collection)[id] = m
	return nil
}

func (s *memStore) Update(ctx context.Context, ref DocRef, ops ...Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ref, ops)
}

func (s *memStore) UpdateAll(ctx context.Context, updates ...DocUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stage against copies so a failing update leaves nothing applied.
	staged := make([]bson.M, len(updates))
	for i, u := range updates {
		doc, ok := s.coll(u.Ref.Collection)[u.Ref.ID]
		if !ok {
			return ErrNotFound
		}
		copied, err := copyDoc(doc)
		if err != nil {
			return err
		}
		for _, op := range u.Ops {
			if err := applyOp(copied, op); err != nil {
				return err
			}
		}
		staged[i] = copied
	}
	for i, u := range updates {
		s.coll(u.Ref.Collection)[u.Ref.ID] = staged[i]
	}
	return nil
}

func (s *memStore) applyLocked(ref DocRef, ops []Op) error {
	doc, ok := s.coll(ref.Collection)[ref.ID]
	if !ok {
		return ErrNotFound
	}
	for _, op := range ops {
		if err := applyOp(doc, op); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) Delete(ctx context.Context, ref DocRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.coll(ref.Collection), ref.ID)
	return nil
}

func (s *memStore) FindByIDs(ctx context.Context, collection string, ids []string, out interface{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.collRead(collection)
	for _, id := range ids {
		doc, ok := c[id]
		if !ok {
			continue // deleted between listing and fetch; not an error
		}
		if err := appendDecoded(doc, out); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) Find(ctx context.Context, collection string, filter map[string]interface{}, out interface{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.collRead(collection) {
		if matches(doc, filter) {
			if err := appendDecoded(doc, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func matches(doc bson.M, filter map[string]interface{}) bool {
	for k, want := range filter {
		w := normalize(want)
		// Mongo equality on an array field means containment.
		if arr, ok := doc[k].(primitive.A); ok {
			found := false
			for _, v := range arr {
				if reflect.DeepEqual(v, w) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(doc[k], w) {
			return false
		}
	}
	return true
}

// applyOp mutates doc in place with Mongo update-operator semantics.
// Intermediate documents are created for map segments; numeric segments index
// into arrays and must already exist.
func applyOp(doc bson.M, op Op) error {
	segs := strings.Split(op.Field, ".")
	parent, err := walk(doc, segs[:len(segs)-1])
	if err != nil {
		return err
	}
	key := segs[len(segs)-1]

	m, ok := parent.(bson.M)
	if !ok {
		arr, isArr := parent.(primitive.A)
		if isArr && op.Kind == OpSet {
			i, err := arrayIndex(arr, key)
			if err != nil {
				return err
			}
			arr[i] = normalize(op.Value)
			return nil
		}
		return fmt.Errorf("field path %q does not resolve to a document", op.Field)
	}

	switch op.Kind {
	case OpSet:
		m[key] = normalize(op.Value)
	case OpUnset:
		delete(m, key)
	case OpInc:
		m[key] = asInt64(m[key]) + asInt64(op.Value)
	case OpPush:
		arr, _ := m[key].(primitive.A)
		m[key] = append(arr, normalize(op.Value))
	case OpAddToSet:
		arr, _ := m[key].(primitive.A)
		v := normalize(op.Value)
		for _, existing := range arr {
			if reflect.DeepEqual(existing, v) {
				return nil
			}
		}
		m[key] = append(arr, v)
	case OpPull:
		arr, _ := m[key].(primitive.A)
		v := normalize(op.Value)
		kept := arr[:0]
		for _, existing := range arr {
			if !reflect.DeepEqual(existing, v) {
				kept = append(kept, existing)
			}
		}
		m[key] = kept
	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
	return nil
}

func walk(doc bson.M, segs []string) (interface{}, error) {
	var cur interface{} = doc
	for _, seg := range segs {
		switch node := cur.(type) {
		case bson.M:
			next, ok := node[seg]
			if !ok {
				created := bson.M{}
				node[seg] = created
				cur = created
				continue
			}
			cur = next
		case primitive.A:
			i, err := arrayIndex(node, seg)
			if err != nil {
				return nil, err
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("cannot traverse segment %q", seg)
		}
	}
	return cur, nil
}

func arrayIndex(arr primitive.A, seg string) (int, error) {
	i, err := strconv.Atoi(seg)
	if err != nil || i < 0 || i >= len(arr) {
		return 0, fmt.Errorf("bad array index %q", seg)
	}
	return i, nil
}

// normalize round-trips a Go value through bson so stored documents hold the
// same shapes the Mongo driver would return (bson.M, primitive.A, DateTime).
func normalize(v interface{}) interface{} {
	raw, err := bson.Marshal(bson.M{"v": v})
	if err != nil {
		return v
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return v
	}
	return m["v"]
}

func toDoc(doc interface{}) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return m, nil
}

func copyDoc(doc bson.M) (bson.M, error) {
	return toDoc(doc)
}

func decodeDoc(doc bson.M, out interface{}) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, out)
}

func appendDecoded(doc bson.M, out interface{}) error {
	slice := reflect.ValueOf(out).Elem()
	elem := reflect.New(slice.Type().Elem())
	if err := decodeDoc(doc, elem.Interface()); err != nil {
		return err
	}
	slice.Set(reflect.Append(slice, elem.Elem()))
	return nil
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
