package models

import "time"

const (
	NotificationLike     = "like"
	NotificationFollow   = "follow"
	NotificationUnfollow = "unfollow"
	NotificationRetweet  = "retweet"
	NotificationMention  = "mention"
	NotificationPost     = "post"
)

type Notification struct {
	ID       string `bson:"_id" json:"id"`
	ToUserID string `bson:"toUserId" json:"to_user_id"`
	Type     string `bson:"type" json:"type"`

	// Snapshot of the acting user at creation time. Intentionally stale:
	// never refreshed when the user later changes name or avatar.
	FromUserID string       `bson:"fromUserId" json:"from_user_id"`
	FromUser   UserSnapshot `bson:"fromUser" json:"from_user"`

	PostID      string    `bson:"postId,omitempty" json:"post_id,omitempty"`
	PostContent string    `bson:"postContent,omitempty" json:"post_content,omitempty"`
	Read        bool      `bson:"read" json:"read"`
	CreatedAt   time.Time `bson:"createdAt" json:"created_at"`
}

type UserSnapshot struct {
	DisplayName  string `bson:"displayName" json:"display_name"`
	Handle       string `bson:"handle" json:"handle"`
	AvatarURL    string `bson:"avatarUrl,omitempty" json:"avatar_url,omitempty"`
	VerifiedTier string `bson:"verifiedTier,omitempty" json:"verified_tier,omitempty"`
}

// Device is a registered Expo push target.
type Device struct {
	ID         string    `bson:"_id" json:"id"`
	UserID     string    `bson:"userId" json:"user_id"`
	Token      string    `bson:"token" json:"token"`
	DeviceType string    `bson:"deviceType,omitempty" json:"device_type,omitempty"`
	DeviceName string    `bson:"deviceName,omitempty" json:"device_name,omitempty"`
	CreatedAt  time.Time `bson:"createdAt" json:"created_at"`
}
