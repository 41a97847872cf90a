package models

import (
	"strings"
	"time"
)

type User struct {
	UID          string    `bson:"_id" json:"uid"`
	Email        string    `bson:"email" json:"email"`
	PasswordHash string    `bson:"passwordHash" json:"-"`
	DisplayName  string    `bson:"displayName" json:"display_name"`
	Handle       string    `bson:"handle" json:"handle"`
	Bio          string    `bson:"bio,omitempty" json:"bio,omitempty"`
	AvatarURL    string    `bson:"avatarUrl,omitempty" json:"avatar_url,omitempty"`
	BannerURL    string    `bson:"bannerUrl,omitempty" json:"banner_url,omitempty"`
	Location     string    `bson:"location,omitempty" json:"location,omitempty"`
	Website      string    `bson:"website,omitempty" json:"website,omitempty"`
	CreatedAt    time.Time `bson:"createdAt" json:"created_at"`
	Deactivated  bool      `bson:"deactivated" json:"deactivated"`

	EmailVerified    bool      `bson:"emailVerified" json:"email_verified"`
	VerificationCode string    `bson:"verificationCode,omitempty" json:"-"`
	RefreshToken     string    `bson:"refreshToken,omitempty" json:"-"`
	RefreshExpiresAt time.Time `bson:"refreshExpiresAt,omitempty" json:"-"`

	// Written by the payments webhook only; read-only everywhere else.
	VerifiedTier string `bson:"verifiedTier,omitempty" json:"verified_tier,omitempty"`

	Followers []string `bson:"followers" json:"followers"`
	Following []string `bson:"following" json:"following"`
	Blocked   []string `bson:"blocked" json:"blocked"`
	BlockedBy []string `bson:"blockedBy" json:"blocked_by"`

	PinnedPostID string       `bson:"pinnedPostId,omitempty" json:"pinned_post_id,omitempty"`
	SavedPosts   []string     `bson:"savedPosts" json:"saved_posts"`
	Collections  []Collection `bson:"collections" json:"collections"`

	// Missing kinds default to enabled; see NotifyEnabled.
	NotificationPrefs map[string]bool `bson:"notificationPrefs,omitempty" json:"notification_prefs,omitempty"`
}

type Collection struct {
	ID      string   `bson:"id" json:"id"`
	Name    string   `bson:"name" json:"name"`
	PostIDs []string `bson:"postIds" json:"post_ids"`
}

// CollectionIndex returns the position of the collection with the given id,
// or -1 when absent.
func (u *User) CollectionIndex(collectionID string) int {
	for i, c := range u.Collections {
		if c.ID == collectionID {
			return i
		}
	}
	return -1
}

// HasCollectionNamed reports whether the user already owns a collection with
// this name. Names are unique per user, case-insensitively.
func (u *User) HasCollectionNamed(name string) bool {
	for _, c := range u.Collections {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// NotifyEnabled reports whether the user accepts notifications of the given
// kind. A kind missing from the map means enabled.
func (u *User) NotifyEnabled(kind string) bool {
	if u.NotificationPrefs == nil {
		return true
	}
	enabled, ok := u.NotificationPrefs[kind]
	if !ok {
		return true
	}
	return enabled
}

func (u *User) IsFollowing(uid string) bool {
	return contains(u.Following, uid)
}

func (u *User) HasBlocked(uid string) bool {
	return contains(u.Blocked, uid)
}

type PasswordResetToken struct {
	ID        string    `bson:"_id" json:"id"`
	UserID    string    `bson:"userId" json:"user_id"`
	Token     string    `bson:"token" json:"token"`
	ExpiresAt time.Time `bson:"expiresAt" json:"expires_at"`
}
