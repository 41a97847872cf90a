package engagement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zispr/zispr-server/cmd/models"
	"github.com/zispr/zispr-server/db"
)

func seedPost(t *testing.T, store db.Store, post models.Post) {
	t.Helper()
	require.NoError(t, store.Insert(context.Background(), db.CollPosts, post.ID, post))
}

func seedUser(t *testing.T, store db.Store, user models.User) {
	t.Helper()
	require.NoError(t, store.Insert(context.Background(), db.CollUsers, user.UID, user))
}

func getPost(t *testing.T, store db.Store, id string) models.Post {
	t.Helper()
	var post models.Post
	require.NoError(t, store.Get(context.Background(), db.Ref(db.CollPosts, id), &post))
	return post
}

func getUser(t *testing.T, store db.Store, uid string) models.User {
	t.Helper()
	var user models.User
	require.NoError(t, store.Get(context.Background(), db.Ref(db.CollUsers, uid), &user))
	return user
}

func TestToggleMembershipFlips(t *testing.T) {
	store := db.NewMemStore()
	m := NewManager(store)
	ctx := context.Background()

	seedPost(t, store, models.Post{ID: "p1", AuthorID: "alice", Status: models.PostStatusPublished, LikedBy: []string{}, RepostedBy: []string{}})

	nowMember, err := m.ToggleMembership(ctx, db.Ref(db.CollPosts, "p1"), "likedBy", "bob")
	require.NoError(t, err)
	assert.True(t, nowMember)
	assert.Equal(t, []string{"bob"}, getPost(t, store, "p1").LikedBy)

	nowMember, err = m.ToggleMembership(ctx, db.Ref(db.CollPosts, "p1"), "likedBy", "bob")
	require.NoError(t, err)
	assert.False(t, nowMember)
	assert.Empty(t, getPost(t, store, "p1").LikedBy)
}

func TestToggleMembershipNeverDuplicates(t *testing.T) {
	store := db.NewMemStore()
	m := NewManager(store)
	ctx := context.Background()

	seedPost(t, store, models.Post{ID: "p1", AuthorID: "alice", Status: models.PostStatusPublished, LikedBy: []string{"bob"}, RepostedBy: []string{}})

	// The same add intent applied on top of existing membership must land
	// as a no-op, not a second entry.
	require.NoError(t, store.Update(ctx, db.Ref(db.CollPosts, "p1"), db.AddToSet("likedBy", "bob")))
	assert.Equal(t, []string{"bob"}, getPost(t, store, "p1").LikedBy)

	// And the toggle from this state removes, leaving the set empty.
	nowMember, err := m.ToggleMembership(ctx, db.Ref(db.CollPosts, "p1"), "likedBy", "bob")
	require.NoError(t, err)
	assert.False(t, nowMember)
	assert.Empty(t, getPost(t, store, "p1").LikedBy)
}

func TestToggleMembershipMissingPost(t *testing.T) {
	store := db.NewMemStore()
	m := NewManager(store)

	_, err := m.ToggleMembership(context.Background(), db.Ref(db.CollPosts, "gone"), "likedBy", "bob")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestTogglePairedFollow(t *testing.T) {
	store := db.NewMemStore()
	m := NewManager(store)
	ctx := context.Background()

	seedUser(t, store, models.User{UID: "alice", Handle: "@alice", Followers: []string{}, Following: []string{}})
	seedUser(t, store, models.User{UID: "bob", Handle: "@bob", Followers: []string{}, Following: []string{}})

	following, err := m.TogglePaired(ctx,
		db.Ref(db.CollUsers, "alice"), "following", "bob",
		db.Ref(db.CollUsers, "bob"), "followers", "alice")
	require.NoError(t, err)
	assert.True(t, following)
	assert.Equal(t, []string{"bob"}, getUser(t, store, "alice").Following)
	assert.Equal(t, []string{"alice"}, getUser(t, store, "bob").Followers)

	following, err = m.TogglePaired(ctx,
		db.Ref(db.CollUsers, "alice"), "following", "bob",
		db.Ref(db.CollUsers, "bob"), "followers", "alice")
	require.NoError(t, err)
	assert.False(t, following)
	assert.Empty(t, getUser(t, store, "alice").Following)
	assert.Empty(t, getUser(t, store, "bob").Followers)
}

// failingBatchStore refuses multi-document batches so the symmetric update
// path can be exercised under failure.
type failingBatchStore struct {
	db.Store
}

func (s *failingBatchStore) UpdateAll(ctx context.Context, updates ...db.DocUpdate) error {
	return errors.New("batch rejected")
}

func TestTogglePairedFailureLeavesBothSidesUntouched(t *testing.T) {
	inner := db.NewMemStore()
	m := NewManager(&failingBatchStore{Store: inner})
	ctx := context.Background()

	seedUser(t, inner, models.User{UID: "alice", Handle: "@alice", Followers: []string{}, Following: []string{}})
	seedUser(t, inner, models.User{UID: "bob", Handle: "@bob", Followers: []string{}, Following: []string{}})

	_, err := m.TogglePaired(ctx,
		db.Ref(db.CollUsers, "alice"), "following", "bob",
		db.Ref(db.CollUsers, "bob"), "followers", "alice")
	require.ErrorIs(t, err, ErrPairedUpdateFailed)

	assert.Empty(t, getUser(t, inner, "alice").Following)
	assert.Empty(t, getUser(t, inner, "bob").Followers)
}

func pollPost(id string, endsAt time.Time) models.Post {
	return models.Post{
		ID:       id,
		AuthorID: "alice",
		Status:   models.PostStatusPublished,
		Poll: &models.Poll{
			Options: []models.PollOption{{Text: "yes"}, {Text: "no"}},
			Voters:  map[string]int{},
			EndsAt:  endsAt,
		},
		LikedBy:    []string{},
		RepostedBy: []string{},
	}
}

func TestVotePollFirstWriterWins(t *testing.T) {
	store := db.NewMemStore()
	m := NewManager(store)
	ctx := context.Background()

	seedPost(t, store, pollPost("p1", time.Now().Add(time.Hour)))

	require.NoError(t, m.VotePoll(ctx, "p1", 0, "bob"))

	// A second vote from the same user is rejected, even for another option.
	assert.ErrorIs(t, m.VotePoll(ctx, "p1", 1, "bob"), ErrAlreadyVoted)

	post := getPost(t, store, "p1")
	assert.Equal(t, int64(1), post.Poll.Options[0].Votes)
	assert.Equal(t, int64(0), post.Poll.Options[1].Votes)
	assert.Equal(t, map[string]int{"bob": 0}, post.Poll.Voters)
}

func TestVotePollCountsMatchVoterMap(t *testing.T) {
	store := db.NewMemStore()
	m := NewManager(store)
	ctx := context.Background()

	seedPost(t, store, pollPost("p1", time.Time{}))

	require.NoError(t, m.VotePoll(ctx, "p1", 0, "bob"))
	require.NoError(t, m.VotePoll(ctx, "p1", 1, "carol"))
	require.NoError(t, m.VotePoll(ctx, "p1", 0, "dave"))

	post := getPost(t, store, "p1")
	derived := make([]int64, len(post.Poll.Options))
	for _, idx := range post.Poll.Voters {
		derived[idx]++
	}
	for i, opt := range post.Poll.Options {
		assert.Equal(t, derived[i], opt.Votes, "option %d", i)
	}
}

func TestVotePollErrors(t *testing.T) {
	store := db.NewMemStore()
	m := NewManager(store)
	ctx := context.Background()

	seedPost(t, store, pollPost("closed", time.Now().Add(-time.Hour)))
	seedPost(t, store, models.Post{ID: "plain", AuthorID: "alice", Status: models.PostStatusPublished, LikedBy: []string{}, RepostedBy: []string{}})
	seedPost(t, store, pollPost("open", time.Now().Add(time.Hour)))

	assert.ErrorIs(t, m.VotePoll(ctx, "closed", 0, "bob"), ErrPollClosed)
	assert.ErrorIs(t, m.VotePoll(ctx, "plain", 0, "bob"), ErrNoPoll)
	assert.Error(t, m.VotePoll(ctx, "open", 5, "bob"))
	assert.ErrorIs(t, m.VotePoll(ctx, "gone", 0, "bob"), db.ErrNotFound)
}

func TestCollections(t *testing.T) {
	store := db.NewMemStore()
	m := NewManager(store)
	ctx := context.Background()

	seedUser(t, store, models.User{UID: "alice", Handle: "@alice", Collections: []models.Collection{}})

	c, err := m.CreateCollection(ctx, "alice", "Recipes")
	require.NoError(t, err)

	_, err = m.CreateCollection(ctx, "alice", "recipes")
	assert.ErrorIs(t, err, ErrDuplicateName)

	require.NoError(t, m.SaveToCollection(ctx, "alice", "p1", c.ID))
	// Repeat save is a no-op, not a duplicate.
	require.NoError(t, m.SaveToCollection(ctx, "alice", "p1", c.ID))
	assert.Equal(t, []string{"p1"}, getUser(t, store, "alice").Collections[0].PostIDs)

	// Removing an id that is not there succeeds silently.
	require.NoError(t, m.RemoveFromCollection(ctx, "alice", "p2", c.ID))
	require.NoError(t, m.RemoveFromCollection(ctx, "alice", "p1", c.ID))
	assert.Empty(t, getUser(t, store, "alice").Collections[0].PostIDs)

	assert.ErrorIs(t, m.SaveToCollection(ctx, "alice", "p1", "missing"), db.ErrNotFound)
	require.NoError(t, m.RemoveFromCollection(ctx, "alice", "p1", "missing"))
}

func TestRenameAndDeleteCollection(t *testing.T) {
	store := db.NewMemStore()
	m := NewManager(store)
	ctx := context.Background()

	seedUser(t, store, models.User{UID: "alice", Handle: "@alice", Collections: []models.Collection{}})

	a, err := m.CreateCollection(ctx, "alice", "Reading")
	require.NoError(t, err)
	b, err := m.CreateCollection(ctx, "alice", "Travel")
	require.NoError(t, err)

	assert.ErrorIs(t, m.RenameCollection(ctx, "alice", b.ID, "READING"), ErrDuplicateName)
	require.NoError(t, m.RenameCollection(ctx, "alice", b.ID, "Trips"))
	assert.Equal(t, "Trips", getUser(t, store, "alice").Collections[1].Name)

	require.NoError(t, m.DeleteCollection(ctx, "alice", a.ID))
	user := getUser(t, store, "alice")
	require.Len(t, user.Collections, 1)
	assert.Equal(t, b.ID, user.Collections[0].ID)

	// Deleting a collection that is already gone is success.
	require.NoError(t, m.DeleteCollection(ctx, "alice", a.ID))
}
