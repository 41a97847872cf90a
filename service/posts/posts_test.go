package posts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zispr/zispr-server/cmd/models"
	"github.com/zispr/zispr-server/db"
	"github.com/zispr/zispr-server/service/notifications"
	"github.com/zispr/zispr-server/service/ws"
)

func TestMentions(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"none", "no mentions here", nil},
		{"single", "hey @bob what's up", []string{"@bob"}},
		{"multiple", "@alice meet @bob", []string{"@alice", "@bob"}},
		{"deduped", "@bob and @bob and @BOB again", []string{"@bob"}},
		{"punctuation boundary", "thanks @carol!", []string{"@carol"}},
		{"underscores and digits", "cc @user_42", []string{"@user_42"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Mentions(tt.content))
		})
	}
}

func TestHashtags(t *testing.T) {
	assert.Nil(t, Hashtags("nothing tagged"))
	assert.Equal(t, []string{"#golang", "#testing"}, Hashtags("shipping #golang with #Testing"))
	assert.Equal(t, []string{"#go"}, Hashtags("#go #GO #Go"))
}

func TestNewPostInitializesVoterMap(t *testing.T) {
	poll := &models.Poll{Options: []models.PollOption{{Text: "yes"}, {Text: "no"}}}
	post := NewPost("alice", "vote!", "", "", "", poll)
	require.NotNil(t, post.Poll)
	assert.NotNil(t, post.Poll.Voters)
	assert.Equal(t, models.PostStatusPublished, post.Status)
	assert.NotNil(t, post.LikedBy)
	assert.NotNil(t, post.RepostedBy)
}

func TestCommentCounterFollowsRows(t *testing.T) {
	store := db.NewMemStore()
	ctx := context.Background()

	post := NewPost("alice", "discuss", "", "", "", nil)
	require.NoError(t, store.Insert(ctx, db.CollPosts, post.ID, post))

	c1, err := addComment(ctx, store, post.ID, "bob", "first")
	require.NoError(t, err)
	_, err = addComment(ctx, store, post.ID, "carol", "second")
	require.NoError(t, err)

	var got models.Post
	require.NoError(t, store.Get(ctx, db.Ref(db.CollPosts, post.ID), &got))
	assert.Equal(t, int64(2), got.CommentCount)

	require.NoError(t, removeComment(ctx, store, c1))
	require.NoError(t, store.Get(ctx, db.Ref(db.CollPosts, post.ID), &got))
	assert.Equal(t, int64(1), got.CommentCount)

	var rows []models.Comment
	require.NoError(t, store.Find(ctx, db.CollComments, map[string]interface{}{"postId": post.ID}, &rows))
	assert.Len(t, rows, 1)
}

func TestFanOutMatchesMixedCaseMentions(t *testing.T) {
	store := db.NewMemStore()
	h := NewHandler(store, notifications.NewCreator(store, ws.NewHub()))
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, db.CollUsers, "alice",
		models.User{UID: "alice", Handle: "@alice", Followers: []string{}}))
	require.NoError(t, store.Insert(ctx, db.CollUsers, "bob",
		models.User{UID: "bob", Handle: "@bob"}))

	// Handles are stored lowercased; the mention keeps the author's casing.
	post := NewPost("alice", "hey @Bob check this out", "", "", "", nil)
	require.NoError(t, store.Insert(ctx, db.CollPosts, post.ID, post))

	h.fanOut(httptest.NewRequest(http.MethodPost, "/api/v1/posts", nil), &post)

	var items []models.Notification
	require.NoError(t, store.Find(ctx, db.CollNotifications, map[string]interface{}{"toUserId": "bob"}, &items))
	require.Len(t, items, 1)
	assert.Equal(t, models.NotificationMention, items[0].Type)
	assert.Equal(t, post.ID, items[0].PostID)
}

func TestRecordView(t *testing.T) {
	store := db.NewMemStore()
	ctx := context.Background()

	post := NewPost("alice", "seen", "", "", "", nil)
	require.NoError(t, store.Insert(ctx, db.CollPosts, post.ID, post))

	require.NoError(t, recordView(ctx, store, post.ID))
	require.NoError(t, recordView(ctx, store, post.ID))

	var got models.Post
	require.NoError(t, store.Get(ctx, db.Ref(db.CollPosts, post.ID), &got))
	assert.Equal(t, int64(2), got.ViewCount)
}
