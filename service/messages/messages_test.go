package messages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zispr/zispr-server/cmd/models"
	"github.com/zispr/zispr-server/db"
	"github.com/zispr/zispr-server/service/ws"
)

func newTestTracker(t *testing.T) (*Tracker, db.Store) {
	t.Helper()
	store := db.NewMemStore()
	tracker := NewTracker(store, db.NewMemIdem(), ws.NewHub())

	ctx := context.Background()
	for _, uid := range []string{"alice", "bob", "carol"} {
		user := models.User{UID: uid, Handle: "@" + uid, Blocked: []string{}, BlockedBy: []string{}}
		require.NoError(t, store.Insert(ctx, db.CollUsers, uid, user))
	}
	return tracker, store
}

func getConv(t *testing.T, store db.Store, id string) models.Conversation {
	t.Helper()
	var conv models.Conversation
	require.NoError(t, store.Get(context.Background(), db.Ref(db.CollConversations, id), &conv))
	return conv
}

func TestConversationIDOrderIndependent(t *testing.T) {
	assert.Equal(t, models.ConversationID("alice", "bob"), models.ConversationID("bob", "alice"))
	assert.Equal(t, "alice_bob", models.ConversationID("bob", "alice"))
}

func TestSendMessageUpdatesConversationState(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	msg, err := tracker.SendMessage(ctx, "alice", "bob", "hey", "")
	require.NoError(t, err)
	assert.Equal(t, "alice_bob", msg.ConversationID)

	conv := getConv(t, store, "alice_bob")
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "hey", conv.LastMessage.Text)
	assert.Equal(t, "alice", conv.LastMessage.SenderID)
	// The sender has implicitly read their own message; nobody else has.
	assert.Equal(t, []string{"alice"}, conv.LastMessageReadBy)
	assert.Equal(t, int64(1), conv.UnreadCounts["bob"])
	assert.Equal(t, int64(0), conv.UnreadCounts["alice"])

	// Each send moves the recipient counter by exactly one.
	_, err = tracker.SendMessage(ctx, "alice", "bob", "you there?", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), getConv(t, store, "alice_bob").UnreadCounts["bob"])
}

// flakyInsertStore fails the first message insert, then recovers.
type flakyInsertStore struct {
	db.Store
	failures int
}

func (s *flakyInsertStore) Insert(ctx context.Context, coll, id string, doc interface{}) error {
	if coll == db.CollMessages && s.failures > 0 {
		s.failures--
		return db.ErrTransient
	}
	return s.Store.Insert(ctx, coll, id, doc)
}

func TestSendMessageRetryAfterTransientFailure(t *testing.T) {
	_, base := newTestTracker(t)
	flaky := &flakyInsertStore{Store: base, failures: 1}
	tracker := NewTracker(flaky, db.NewMemIdem(), ws.NewHub())
	ctx := context.Background()

	_, err := tracker.SendMessage(ctx, "alice", "bob", "hey", "client-1")
	require.ErrorIs(t, err, db.ErrTransient)

	// The failed attempt must not burn the client id: the retry is a fresh
	// send, not a duplicate of a message that never landed.
	msg, err := tracker.SendMessage(ctx, "alice", "bob", "hey", "client-1")
	require.NoError(t, err)

	msgs, err := tracker.ListMessages(ctx, msg.ConversationID, "alice")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Equal(t, int64(1), getConv(t, base, "alice_bob").UnreadCounts["bob"])

	// With the message landed, the same client id now dedupes.
	_, err = tracker.SendMessage(ctx, "alice", "bob", "hey", "client-1")
	assert.ErrorIs(t, err, ErrDuplicateSend)
}

func TestSendMessageDuplicateClientID(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.SendMessage(ctx, "alice", "bob", "hey", "client-1")
	require.NoError(t, err)

	// The retry carries the same client id and must not double anything.
	_, err = tracker.SendMessage(ctx, "alice", "bob", "hey", "client-1")
	assert.ErrorIs(t, err, ErrDuplicateSend)

	conv := getConv(t, store, "alice_bob")
	assert.Equal(t, int64(1), conv.UnreadCounts["bob"])

	msgs, err := tracker.ListMessages(ctx, "alice_bob", "alice")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSendMessageBlocked(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, db.Ref(db.CollUsers, "alice"), db.AddToSet("blocked", "bob")))
	_, err := tracker.SendMessage(ctx, "alice", "bob", "hey", "")
	assert.ErrorIs(t, err, ErrBlocked)

	// Blocking cuts both directions.
	require.NoError(t, store.Update(ctx, db.Ref(db.CollUsers, "carol"), db.AddToSet("blockedBy", "alice")))
	_, err = tracker.SendMessage(ctx, "carol", "alice", "hey", "")
	assert.ErrorIs(t, err, ErrBlocked)
}

func TestOpenConversationMarksRead(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.SendMessage(ctx, "alice", "bob", "hey", "")
	require.NoError(t, err)

	conv, err := tracker.OpenConversation(ctx, "alice_bob", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(0), conv.UnreadCounts["bob"])
	assert.ElementsMatch(t, []string{"alice", "bob"}, conv.LastMessageReadBy)

	// Opening again is idempotent.
	conv, err = tracker.OpenConversation(ctx, "alice_bob", "bob")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, conv.LastMessageReadBy)
	assert.Equal(t, int64(0), conv.UnreadCounts["bob"])
}

func TestOpenConversationSenderNotAddedTwice(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.SendMessage(ctx, "alice", "bob", "hey", "")
	require.NoError(t, err)

	// The sender opening their own conversation stays a single entry.
	conv, err := tracker.OpenConversation(ctx, "alice_bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, conv.LastMessageReadBy)
}

func TestOpenConversationNotParticipant(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.SendMessage(ctx, "alice", "bob", "hey", "")
	require.NoError(t, err)

	_, err = tracker.OpenConversation(ctx, "alice_bob", "carol")
	assert.ErrorIs(t, err, ErrNotParticipant)
	_, err = tracker.ListMessages(ctx, "alice_bob", "carol")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestListMessagesAscending(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := tracker.SendMessage(ctx, "alice", "bob", text, "")
		require.NoError(t, err)
	}

	msgs, err := tracker.ListMessages(ctx, "alice_bob", "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Text)
	assert.Equal(t, "three", msgs[2].Text)
}

func TestListConversationsMostRecentFirst(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.SendMessage(ctx, "alice", "bob", "first thread", "")
	require.NoError(t, err)
	_, err = tracker.SendMessage(ctx, "alice", "carol", "second thread", "")
	require.NoError(t, err)

	convs, err := tracker.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, models.ConversationID("alice", "carol"), convs[0].ID)
	assert.Equal(t, models.ConversationID("alice", "bob"), convs[1].ID)

	// Bob only sees his own thread.
	convs, err = tracker.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, convs, 1)
}
