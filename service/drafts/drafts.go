package drafts

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zispr/zispr-server/cmd/models"
	"github.com/zispr/zispr-server/db"
)

// Manager owns the draft lifecycle: NONE -> DRAFTING -> {PUBLISHED, DELETED},
// with DRAFTING re-entrant from the list view. A draft is a post document
// with status "draft", owned and mutated by exactly one author.
type Manager struct {
	store db.Store
}

func NewManager(store db.Store) *Manager {
	return &Manager{store: store}
}

// Composition is everything an autosave captures. Saves overwrite the whole
// draft document; there is no field-level diffing, so a replayed save is
// harmless and the last writer wins.
type Composition struct {
	Content     string `json:"content"`
	ImageURL    string `json:"image_url,omitempty"`
	ReplyPolicy string `json:"reply_policy,omitempty"`
}

// Save autosaves the composition. An empty draftID starts a new draft;
// otherwise the existing document is overwritten in full and lastSavedAt
// moves forward.
func (m *Manager) Save(ctx context.Context, authorID, draftID string, c Composition) (models.Post, error) {
	now := time.Now().UTC()

	if draftID == "" {
		draft := models.Post{
			ID:          uuid.New().String(),
			AuthorID:    authorID,
			Content:     c.Content,
			ImageURL:    c.ImageURL,
			ReplyPolicy: c.ReplyPolicy,
			Status:      models.PostStatusDraft,
			CreatedAt:   now,
			LastSavedAt: now,
			LikedBy:     []string{},
			RepostedBy:  []string{},
		}
		if err := m.store.Insert(ctx, db.CollPosts, draft.ID, draft); err != nil {
			return models.Post{}, err
		}
		return draft, nil
	}

	draft, err := m.getOwned(ctx, authorID, draftID)
	if err != nil {
		return models.Post{}, err
	}
	draft.Content = c.Content
	draft.ImageURL = c.ImageURL
	draft.ReplyPolicy = c.ReplyPolicy
	draft.LastSavedAt = now
	if err := m.store.Update(ctx, db.Ref(db.CollPosts, draft.ID),
		db.Set("content", draft.Content),
		db.Set("imageUrl", draft.ImageURL),
		db.Set("replyPolicy", draft.ReplyPolicy),
		db.Set("lastSavedAt", draft.LastSavedAt),
	); err != nil {
		return models.Post{}, err
	}
	return draft, nil
}

// List returns the author's drafts, most recently saved first. The sort is
// deliberately in memory: the store is never asked to order by lastSavedAt,
// so no composite index is required.
func (m *Manager) List(ctx context.Context, authorID string) ([]models.Post, error) {
	var items []models.Post
	filter := map[string]interface{}{"authorId": authorID, "status": models.PostStatusDraft}
	if err := m.store.Find(ctx, db.CollPosts, filter, &items); err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].LastSavedAt.After(items[j].LastSavedAt)
	})
	return items, nil
}

// Resume returns the stored composition verbatim for re-entry into DRAFTING.
func (m *Manager) Resume(ctx context.Context, authorID, draftID string) (models.Post, error) {
	return m.getOwned(ctx, authorID, draftID)
}

// Delete hard-deletes a draft; no tombstone. A draft that is already gone is
// success.
func (m *Manager) Delete(ctx context.Context, authorID, draftID string) error {
	_, err := m.getOwned(ctx, authorID, draftID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return m.store.Delete(ctx, db.Ref(db.CollPosts, draftID))
}

// Publish flips the draft into a published post. The draft ceases to exist
// as a draft in the same atomic write that makes the post visible.
func (m *Manager) Publish(ctx context.Context, authorID, draftID string) (models.Post, error) {
	draft, err := m.getOwned(ctx, authorID, draftID)
	if err != nil {
		return models.Post{}, err
	}

	now := time.Now().UTC()
	if err := m.store.Update(ctx, db.Ref(db.CollPosts, draftID),
		db.Set("status", models.PostStatusPublished),
		db.Set("createdAt", now),
		db.Unset("lastSavedAt"),
	); err != nil {
		return models.Post{}, err
	}
	draft.Status = models.PostStatusPublished
	draft.CreatedAt = now
	draft.LastSavedAt = time.Time{}
	return draft, nil
}

func (m *Manager) getOwned(ctx context.Context, authorID, draftID string) (models.Post, error) {
	var draft models.Post
	if err := m.store.Get(ctx, db.Ref(db.CollPosts, draftID), &draft); err != nil {
		return models.Post{}, err
	}
	if draft.Status != models.PostStatusDraft {
		return models.Post{}, db.ErrNotFound
	}
	if draft.AuthorID != authorID {
		return models.Post{}, db.ErrPermissionDenied
	}
	return draft, nil
}
