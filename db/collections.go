package db

// Collection names shared across services.
const (
	CollUsers         = "users"
	CollPosts         = "posts"
	CollComments      = "comments"
	CollConversations = "conversations"
	CollMessages      = "messages"
	CollNotifications = "notifications"
	CollDevices       = "devices"
	CollResetTokens   = "reset_tokens"
)
