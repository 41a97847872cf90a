package notifications

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zispr/zispr-server/cmd/models"
	"github.com/zispr/zispr-server/db"
	"github.com/zispr/zispr-server/service/ws"
)

func listFor(t *testing.T, store db.Store, uid string) []models.Notification {
	t.Helper()
	var items []models.Notification
	require.NoError(t, store.Find(context.Background(), db.CollNotifications, map[string]interface{}{"toUserId": uid}, &items))
	return items
}

func TestNotifySnapshotsActor(t *testing.T) {
	store := db.NewMemStore()
	c := NewCreator(store, ws.NewHub())
	ctx := context.Background()

	actor := models.User{UID: "alice", Handle: "@alice", DisplayName: "Alice"}
	require.NoError(t, store.Insert(ctx, db.CollUsers, "alice", actor))
	require.NoError(t, store.Insert(ctx, db.CollUsers, "bob", models.User{UID: "bob", Handle: "@bob"}))

	require.NoError(t, c.Notify(ctx, models.NotificationLike, "alice", "bob", "p1", "hello"))

	// The actor renames; the notification keeps the old snapshot.
	require.NoError(t, store.Update(ctx, db.Ref(db.CollUsers, "alice"), db.Set("displayName", "Alicia")))

	items := listFor(t, store, "bob")
	require.Len(t, items, 1)
	assert.Equal(t, "Alice", items[0].FromUser.DisplayName)
	assert.Equal(t, models.NotificationLike, items[0].Type)
	assert.False(t, items[0].Read)
}

func TestNotifySkipsSelf(t *testing.T) {
	store := db.NewMemStore()
	c := NewCreator(store, ws.NewHub())
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, db.CollUsers, "alice", models.User{UID: "alice", Handle: "@alice"}))

	require.NoError(t, c.Notify(ctx, models.NotificationLike, "alice", "alice", "p1", "own post"))
	assert.Empty(t, listFor(t, store, "alice"))
}

func TestNotifyHonorsPreferences(t *testing.T) {
	store := db.NewMemStore()
	c := NewCreator(store, ws.NewHub())
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, db.CollUsers, "alice", models.User{UID: "alice", Handle: "@alice"}))
	recipient := models.User{
		UID:    "bob",
		Handle: "@bob",
		// Likes muted; everything else absent from the map.
		NotificationPrefs: map[string]bool{models.NotificationLike: false},
	}
	require.NoError(t, store.Insert(ctx, db.CollUsers, "bob", recipient))

	require.NoError(t, c.Notify(ctx, models.NotificationLike, "alice", "bob", "p1", "x"))
	assert.Empty(t, listFor(t, store, "bob"))

	// A kind missing from the map means enabled.
	require.NoError(t, c.Notify(ctx, models.NotificationFollow, "alice", "bob", "", ""))
	items := listFor(t, store, "bob")
	require.Len(t, items, 1)
	assert.Equal(t, models.NotificationFollow, items[0].Type)
}
