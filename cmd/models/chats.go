package models

import (
	"sort"
	"strings"
	"time"
)

// ConversationID derives the canonical id for a two-party conversation.
// The combination is order-independent so both participants always address
// the same document.
func ConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "_")
}

type Conversation struct {
	ID           string   `bson:"_id" json:"id"`
	Participants []string `bson:"participants" json:"participants"`

	LastMessage       *LastMessage     `bson:"lastMessage,omitempty" json:"last_message,omitempty"`
	LastMessageReadBy []string         `bson:"lastMessageReadBy" json:"last_message_read_by"`
	UnreadCounts      map[string]int64 `bson:"unreadCounts" json:"unread_counts"`
}

type LastMessage struct {
	SenderID  string    `bson:"senderId" json:"sender_id"`
	Text      string    `bson:"text" json:"text"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// Other returns the participant that is not uid. Falls back to empty when uid
// is not a participant at all.
func (c *Conversation) Other(uid string) string {
	for _, p := range c.Participants {
		if p != uid {
			return p
		}
	}
	return ""
}

func (c *Conversation) ReadByMe(uid string) bool {
	return contains(c.LastMessageReadBy, uid)
}

type ChatMessage struct {
	ID             string    `bson:"_id" json:"id"`
	ConversationID string    `bson:"conversationId" json:"conversation_id"`
	SenderID       string    `bson:"senderId" json:"sender_id"`
	Text           string    `bson:"text" json:"text"`
	CreatedAt      time.Time `bson:"createdAt" json:"created_at"`
}
