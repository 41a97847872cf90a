package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"github.com/zispr/zispr-server/cmd/models"
	"github.com/zispr/zispr-server/cmd/utils"
	"github.com/zispr/zispr-server/db"
	"github.com/zispr/zispr-server/service/ws"
)

// Creator is the single construction path for notifications. Every
// engagement flow funnels through Notify so preference checks, the stale
// from-user snapshot and push delivery live in exactly one place.
type Creator struct {
	store      db.Store
	hub        *ws.Hub
	expoClient *expo.PushClient
}

func NewCreator(store db.Store, hub *ws.Hub) *Creator {
	return &Creator{
		store:      store,
		hub:        hub,
		expoClient: expo.NewPushClient(nil),
	}
}

// Notify records a notification for toUserID. The from-user fields are
// snapshotted at creation time and never updated afterwards. Returns nil
// without effect when the recipient opted out of the kind or is the actor.
func (c *Creator) Notify(ctx context.Context, kind, fromUserID, toUserID, postID, postContent string) error {
	if fromUserID == toUserID {
		return nil
	}

	var recipient models.User
	if err := c.store.Get(ctx, db.Ref(db.CollUsers, toUserID), &recipient); err != nil {
		return err
	}
	if !recipient.NotifyEnabled(kind) {
		return nil
	}

	var actor models.User
	if err := c.store.Get(ctx, db.Ref(db.CollUsers, fromUserID), &actor); err != nil {
		return err
	}

	n := models.Notification{
		ID:         uuid.New().String(),
		ToUserID:   toUserID,
		Type:       kind,
		FromUserID: fromUserID,
		FromUser: models.UserSnapshot{
			DisplayName:  actor.DisplayName,
			Handle:       actor.Handle,
			AvatarURL:    actor.AvatarURL,
			VerifiedTier: actor.VerifiedTier,
		},
		PostID:      postID,
		PostContent: postContent,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.store.Insert(ctx, db.CollNotifications, n.ID, n); err != nil {
		return err
	}

	c.hub.Push(toUserID, ws.Event{Type: ws.EventNotification, Payload: n})
	c.pushToDevices(ctx, &n)
	return nil
}

// pushToDevices sends the Expo push. Delivery is best effort and never
// fails the originating action.
func (c *Creator) pushToDevices(ctx context.Context, n *models.Notification) {
	var devices []models.Device
	if err := c.store.Find(ctx, db.CollDevices, map[string]interface{}{"userId": n.ToUserID}, &devices); err != nil {
		utils.Logger.Warnw("list devices for push", "user", n.ToUserID, "error", err)
		return
	}

	for _, device := range devices {
		token, err := expo.NewExponentPushToken(device.Token)
		if err != nil {
			continue
		}
		response, err := c.expoClient.Publish(&expo.PushMessage{
			To:       []expo.ExponentPushToken{token},
			Title:    pushTitle(n),
			Body:     n.PostContent,
			Data:     map[string]string{"type": n.Type, "postId": n.PostID},
			Sound:    "default",
			Priority: expo.DefaultPriority,
		})
		if err != nil {
			utils.Logger.Warnw("expo publish", "user", n.ToUserID, "error", err)
			continue
		}
		if err := response.ValidateResponse(); err != nil {
			utils.Logger.Warnw("expo delivery rejected", "user", n.ToUserID, "error", err)
		}
	}
}

func pushTitle(n *models.Notification) string {
	name := n.FromUser.DisplayName
	switch n.Type {
	case models.NotificationLike:
		return name + " liked your post"
	case models.NotificationRetweet:
		return name + " reposted your post"
	case models.NotificationFollow:
		return name + " followed you"
	case models.NotificationUnfollow:
		return name + " unfollowed you"
	case models.NotificationMention:
		return name + " mentioned you"
	case models.NotificationPost:
		return name + " published a new post"
	}
	return "New activity"
}
