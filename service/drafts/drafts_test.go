package drafts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zispr/zispr-server/cmd/models"
	"github.com/zispr/zispr-server/db"
)

func TestSaveCreatesAndOverwrites(t *testing.T) {
	m := NewManager(db.NewMemStore())
	ctx := context.Background()

	draft, err := m.Save(ctx, "alice", "", Composition{Content: "first pass"})
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusDraft, draft.Status)
	assert.NotEmpty(t, draft.ID)
	firstSave := draft.LastSavedAt

	time.Sleep(2 * time.Millisecond)

	// Autosave replaces the whole composition; clearing a field sticks.
	draft, err = m.Save(ctx, "alice", draft.ID, Composition{Content: "second pass", ReplyPolicy: "followers"})
	require.NoError(t, err)
	assert.Equal(t, "second pass", draft.Content)
	assert.Empty(t, draft.ImageURL)
	assert.True(t, draft.LastSavedAt.After(firstSave))

	resumed, err := m.Resume(ctx, "alice", draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "second pass", resumed.Content)
	assert.Equal(t, "followers", resumed.ReplyPolicy)
}

func TestSaveRejectsForeignDraft(t *testing.T) {
	m := NewManager(db.NewMemStore())
	ctx := context.Background()

	draft, err := m.Save(ctx, "alice", "", Composition{Content: "mine"})
	require.NoError(t, err)

	_, err = m.Save(ctx, "bob", draft.ID, Composition{Content: "stolen"})
	assert.ErrorIs(t, err, db.ErrPermissionDenied)
	_, err = m.Resume(ctx, "bob", draft.ID)
	assert.ErrorIs(t, err, db.ErrPermissionDenied)
}

func TestListMostRecentlySavedFirst(t *testing.T) {
	m := NewManager(db.NewMemStore())
	ctx := context.Background()

	older, err := m.Save(ctx, "alice", "", Composition{Content: "older"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	newer, err := m.Save(ctx, "alice", "", Composition{Content: "newer"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	// Touching the older draft moves it to the front.
	_, err = m.Save(ctx, "alice", older.ID, Composition{Content: "older, edited"})
	require.NoError(t, err)

	items, err := m.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, older.ID, items[0].ID)
	assert.Equal(t, newer.ID, items[1].ID)

	// Other authors see nothing.
	items, err = m.List(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPublishFlipsDraftIntoPost(t *testing.T) {
	store := db.NewMemStore()
	m := NewManager(store)
	ctx := context.Background()

	draft, err := m.Save(ctx, "alice", "", Composition{Content: "ship it"})
	require.NoError(t, err)

	published, err := m.Publish(ctx, "alice", draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusPublished, published.Status)
	assert.Equal(t, draft.ID, published.ID)

	// The draft is gone as a draft in the same moment.
	items, err := m.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, items)
	_, err = m.Resume(ctx, "alice", draft.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)

	var post models.Post
	require.NoError(t, store.Get(ctx, db.Ref(db.CollPosts, draft.ID), &post))
	assert.Equal(t, models.PostStatusPublished, post.Status)
	assert.True(t, post.LastSavedAt.IsZero())

	// Publishing twice does not work: the document is no longer a draft.
	_, err = m.Publish(ctx, "alice", draft.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestDeleteDraft(t *testing.T) {
	store := db.NewMemStore()
	m := NewManager(store)
	ctx := context.Background()

	draft, err := m.Save(ctx, "alice", "", Composition{Content: "scrap"})
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, "alice", draft.ID))
	var gone models.Post
	assert.ErrorIs(t, store.Get(ctx, db.Ref(db.CollPosts, draft.ID), &gone), db.ErrNotFound)

	// Deleting a draft that is already gone is success.
	require.NoError(t, m.Delete(ctx, "alice", draft.ID))

	// But deleting someone else's draft is not.
	other, err := m.Save(ctx, "bob", "", Composition{Content: "bob's"})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Delete(ctx, "alice", other.ID), db.ErrPermissionDenied)
}
