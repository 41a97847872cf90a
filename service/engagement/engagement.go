package engagement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zispr/zispr-server/cmd/models"
	"github.com/zispr/zispr-server/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrAlreadyVoted: the user already appears in the poll's voter map.
	// First writer wins; a second vote is rejected, never overwritten.
	ErrAlreadyVoted = errors.New("already voted")
	// ErrPollClosed: the poll's voting window has ended.
	ErrPollClosed = errors.New("poll closed")
	// ErrNoPoll: the post has no poll attached.
	ErrNoPoll = errors.New("post has no poll")
	// ErrDuplicateName: collection name collision (case-insensitive).
	ErrDuplicateName = errors.New("duplicate collection name")
	// ErrPairedUpdateFailed: one half of a symmetric paired update could
	// not apply. The batch boundary guarantees nothing partial is visible,
	// but the caller should offer a retry affordance rather than assume
	// the relationship flipped.
	ErrPairedUpdateFailed = errors.New("paired update failed")
)

// Manager computes idempotent toggle transitions for the membership sets
// embedded in post and user documents. It is stateless: every operation is a
// read of the current snapshot plus the smallest possible atomic update, so
// concurrent sessions of the same user (double clicks, multiple tabs) are
// commutative. The manager never retries; a lost acknowledgement must not be
// answered with a blind replay of a toggle that may already have applied.
type Manager struct {
	store db.Store
}

func NewManager(store db.Store) *Manager {
	return &Manager{store: store}
}

// ToggleMembership flips the presence of userID in the named set field.
// Returns whether the user is a member after the call. The write is the
// store's atomic add/remove primitive, not read-modify-write, so a
// concurrent duplicate of the same intent lands as a no-op.
func (m *Manager) ToggleMembership(ctx context.Context, ref db.DocRef, field, userID string) (bool, error) {
	member, err := m.isMember(ctx, ref, field, userID)
	if err != nil {
		return false, err
	}

	if member {
		if err := m.store.Update(ctx, ref, db.Pull(field, userID)); err != nil {
			return false, err
		}
		return false, nil
	}
	if err := m.store.Update(ctx, ref, db.AddToSet(field, userID)); err != nil {
		return false, err
	}
	return true, nil
}

// TogglePaired flips a mirrored relationship held on two documents:
// aValue's presence in aRef's aField, and bValue's presence in bRef's
// bField. Both sides go through one multi-document batch — the store's only
// cross-document atomicity — so there is never a visible half-relationship.
// Membership is decided by the a-side set.
func (m *Manager) TogglePaired(ctx context.Context, aRef db.DocRef, aField, aValue string, bRef db.DocRef, bField, bValue string) (bool, error) {
	member, err := m.isMember(ctx, aRef, aField, aValue)
	if err != nil {
		return false, err
	}

	var updates []db.DocUpdate
	if member {
		updates = []db.DocUpdate{
			{Ref: aRef, Ops: []db.Op{db.Pull(aField, aValue)}},
			{Ref: bRef, Ops: []db.Op{db.Pull(bField, bValue)}},
		}
	} else {
		updates = []db.DocUpdate{
			{Ref: aRef, Ops: []db.Op{db.AddToSet(aField, aValue)}},
			{Ref: bRef, Ops: []db.Op{db.AddToSet(bField, bValue)}},
		}
	}
	if err := m.store.UpdateAll(ctx, updates...); err != nil {
		return member, fmt.Errorf("%w: %v", ErrPairedUpdateFailed, err)
	}
	return !member, nil
}

// VotePoll records userID's vote for optionIndex. The voter map is the
// source of truth for "has voted"; the per-option counter is incremented on
// this single path only, which is what keeps counts equal to the derived sum
// of the map.
func (m *Manager) VotePoll(ctx context.Context, postID string, optionIndex int, userID string) error {
	var post models.Post
	if err := m.store.Get(ctx, db.Ref(db.CollPosts, postID), &post); err != nil {
		return err
	}
	if post.Poll == nil {
		return ErrNoPoll
	}
	if optionIndex < 0 || optionIndex >= len(post.Poll.Options) {
		return fmt.Errorf("option index %d out of range", optionIndex)
	}
	if post.Poll.Closed(time.Now()) {
		return ErrPollClosed
	}
	if _, voted := post.Poll.Voters[userID]; voted {
		return ErrAlreadyVoted
	}

	// One atomic document write carries both effects.
	return m.store.Update(ctx, db.Ref(db.CollPosts, postID),
		db.Inc(fmt.Sprintf("poll.options.%d.votes", optionIndex), 1),
		db.Set("poll.voters."+userID, optionIndex),
	)
}

// SaveToCollection adds postID to the named collection. The store has no set
// semantics for arrays nested inside the collections list, so uniqueness is
// check-then-add here; a repeat save is a no-op.
func (m *Manager) SaveToCollection(ctx context.Context, userID, postID, collectionID string) error {
	var user models.User
	if err := m.store.Get(ctx, db.Ref(db.CollUsers, userID), &user); err != nil {
		return err
	}
	idx := user.CollectionIndex(collectionID)
	if idx < 0 {
		return db.ErrNotFound
	}
	for _, existing := range user.Collections[idx].PostIDs {
		if existing == postID {
			return nil
		}
	}
	return m.store.Update(ctx, db.Ref(db.CollUsers, userID),
		db.Push(fmt.Sprintf("collections.%d.postIds", idx), postID))
}

// RemoveFromCollection removes postID from the named collection. A missing
// collection or post id is silent success: the desired end state holds.
func (m *Manager) RemoveFromCollection(ctx context.Context, userID, postID, collectionID string) error {
	var user models.User
	if err := m.store.Get(ctx, db.Ref(db.CollUsers, userID), &user); err != nil {
		return err
	}
	idx := user.CollectionIndex(collectionID)
	if idx < 0 {
		return nil
	}
	return m.store.Update(ctx, db.Ref(db.CollUsers, userID),
		db.Pull(fmt.Sprintf("collections.%d.postIds", idx), postID))
}

// CreateCollection adds an empty collection. Names are unique per user,
// case-insensitively.
func (m *Manager) CreateCollection(ctx context.Context, userID, name string) (models.Collection, error) {
	var user models.User
	if err := m.store.Get(ctx, db.Ref(db.CollUsers, userID), &user); err != nil {
		return models.Collection{}, err
	}
	if user.HasCollectionNamed(name) {
		return models.Collection{}, ErrDuplicateName
	}
	c := models.Collection{ID: uuid.New().String(), Name: name, PostIDs: []string{}}
	if err := m.store.Update(ctx, db.Ref(db.CollUsers, userID), db.Push("collections", c)); err != nil {
		return models.Collection{}, err
	}
	return c, nil
}

func (m *Manager) RenameCollection(ctx context.Context, userID, collectionID, name string) error {
	var user models.User
	if err := m.store.Get(ctx, db.Ref(db.CollUsers, userID), &user); err != nil {
		return err
	}
	idx := user.CollectionIndex(collectionID)
	if idx < 0 {
		return db.ErrNotFound
	}
	for i, c := range user.Collections {
		if i != idx && strings.EqualFold(c.Name, name) {
			return ErrDuplicateName
		}
	}
	return m.store.Update(ctx, db.Ref(db.CollUsers, userID),
		db.Set(fmt.Sprintf("collections.%d.name", idx), name))
}

// DeleteCollection drops the whole collection entry. Rewrites the list as a
// single set; acceptable because only the owner ever mutates it.
func (m *Manager) DeleteCollection(ctx context.Context, userID, collectionID string) error {
	var user models.User
	if err := m.store.Get(ctx, db.Ref(db.CollUsers, userID), &user); err != nil {
		return err
	}
	idx := user.CollectionIndex(collectionID)
	if idx < 0 {
		return nil
	}
	remaining := append(append([]models.Collection{}, user.Collections[:idx]...), user.Collections[idx+1:]...)
	return m.store.Update(ctx, db.Ref(db.CollUsers, userID), db.Set("collections", remaining))
}

// isMember reads the current membership snapshot for a toggle decision.
func (m *Manager) isMember(ctx context.Context, ref db.DocRef, field, value string) (bool, error) {
	var doc bson.M
	if err := m.store.Get(ctx, ref, &doc); err != nil {
		return false, err
	}
	arr, _ := doc[field].(primitive.A)
	for _, v := range arr {
		if s, ok := v.(string); ok && s == value {
			return true, nil
		}
	}
	return false, nil
}
