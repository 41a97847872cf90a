package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zispr/zispr-server/cmd/models"
)

func TestMemStoreDottedPaths(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	post := models.Post{
		ID:       "p1",
		AuthorID: "alice",
		Status:   models.PostStatusPublished,
		Poll: &models.Poll{
			Options: []models.PollOption{{Text: "yes"}, {Text: "no"}},
			Voters:  map[string]int{},
		},
		LikedBy:    []string{},
		RepostedBy: []string{},
	}
	require.NoError(t, store.Insert(ctx, CollPosts, "p1", post))

	// Numeric segments index into arrays; map segments are created on demand.
	require.NoError(t, store.Update(ctx, Ref(CollPosts, "p1"),
		Inc("poll.options.1.votes", 1),
		Set("poll.voters.bob", 1),
	))

	var got models.Post
	require.NoError(t, store.Get(ctx, Ref(CollPosts, "p1"), &got))
	assert.Equal(t, int64(0), got.Poll.Options[0].Votes)
	assert.Equal(t, int64(1), got.Poll.Options[1].Votes)
	assert.Equal(t, map[string]int{"bob": 1}, got.Poll.Voters)

	assert.Error(t, store.Update(ctx, Ref(CollPosts, "p1"), Inc("poll.options.9.votes", 1)))
}

func TestMemStoreSetSemantics(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	post := models.Post{ID: "p1", AuthorID: "alice", Status: models.PostStatusPublished, LikedBy: []string{}, RepostedBy: []string{}}
	require.NoError(t, store.Insert(ctx, CollPosts, "p1", post))

	require.NoError(t, store.Update(ctx, Ref(CollPosts, "p1"), AddToSet("likedBy", "bob")))
	require.NoError(t, store.Update(ctx, Ref(CollPosts, "p1"), AddToSet("likedBy", "bob")))
	require.NoError(t, store.Update(ctx, Ref(CollPosts, "p1"), AddToSet("likedBy", "carol")))

	var got models.Post
	require.NoError(t, store.Get(ctx, Ref(CollPosts, "p1"), &got))
	assert.Equal(t, []string{"bob", "carol"}, got.LikedBy)

	require.NoError(t, store.Update(ctx, Ref(CollPosts, "p1"), Pull("likedBy", "bob")))
	require.NoError(t, store.Update(ctx, Ref(CollPosts, "p1"), Pull("likedBy", "absent")))
	require.NoError(t, store.Get(ctx, Ref(CollPosts, "p1"), &got))
	assert.Equal(t, []string{"carol"}, got.LikedBy)
}

func TestMemStoreUpdateAllIsAtomic(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	a := models.User{UID: "alice", Handle: "@alice", Following: []string{}, Followers: []string{}}
	b := models.User{UID: "bob", Handle: "@bob", Following: []string{}, Followers: []string{}}
	require.NoError(t, store.Insert(ctx, CollUsers, "alice", a))
	require.NoError(t, store.Insert(ctx, CollUsers, "bob", b))

	// Second target does not exist: the first update must not apply either.
	err := store.UpdateAll(ctx,
		DocUpdate{Ref: Ref(CollUsers, "alice"), Ops: []Op{AddToSet("following", "bob")}},
		DocUpdate{Ref: Ref(CollUsers, "ghost"), Ops: []Op{AddToSet("followers", "alice")}},
	)
	require.ErrorIs(t, err, ErrNotFound)

	var got models.User
	require.NoError(t, store.Get(ctx, Ref(CollUsers, "alice"), &got))
	assert.Empty(t, got.Following)

	// A failing op in the second update rolls back the staged first one too.
	err = store.UpdateAll(ctx,
		DocUpdate{Ref: Ref(CollUsers, "alice"), Ops: []Op{AddToSet("following", "bob")}},
		DocUpdate{Ref: Ref(CollUsers, "bob"), Ops: []Op{Inc("collections.3.bad", 1)}},
	)
	require.Error(t, err)
	require.NoError(t, store.Get(ctx, Ref(CollUsers, "alice"), &got))
	assert.Empty(t, got.Following)

	// Both valid: both land.
	err = store.UpdateAll(ctx,
		DocUpdate{Ref: Ref(CollUsers, "alice"), Ops: []Op{AddToSet("following", "bob")}},
		DocUpdate{Ref: Ref(CollUsers, "bob"), Ops: []Op{AddToSet("followers", "alice")}},
	)
	require.NoError(t, err)
	require.NoError(t, store.Get(ctx, Ref(CollUsers, "alice"), &got))
	assert.Equal(t, []string{"bob"}, got.Following)
	require.NoError(t, store.Get(ctx, Ref(CollUsers, "bob"), &got))
	assert.Equal(t, []string{"alice"}, got.Followers)
}

func TestMemStoreFindArrayContainment(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	conv := models.Conversation{
		ID:                "alice_bob",
		Participants:      []string{"alice", "bob"},
		LastMessageReadBy: []string{},
		UnreadCounts:      map[string]int64{},
	}
	require.NoError(t, store.Insert(ctx, CollConversations, conv.ID, conv))

	var found []models.Conversation
	require.NoError(t, store.Find(ctx, CollConversations, map[string]interface{}{"participants": "alice"}, &found))
	require.Len(t, found, 1)

	found = nil
	require.NoError(t, store.Find(ctx, CollConversations, map[string]interface{}{"participants": "carol"}, &found))
	assert.Empty(t, found)
}

func TestMemStoreDeleteIdempotent(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	post := models.Post{ID: "p1", AuthorID: "alice", Status: models.PostStatusPublished, LikedBy: []string{}, RepostedBy: []string{}}
	require.NoError(t, store.Insert(ctx, CollPosts, "p1", post))

	require.NoError(t, store.Delete(ctx, Ref(CollPosts, "p1")))
	// Deleting a document that is already gone succeeds.
	require.NoError(t, store.Delete(ctx, Ref(CollPosts, "p1")))

	var got models.Post
	assert.ErrorIs(t, store.Get(ctx, Ref(CollPosts, "p1"), &got), ErrNotFound)
}
