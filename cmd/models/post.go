package models

import "time"

const (
	PostStatusPublished = "published"
	PostStatusDraft     = "draft"
)

type Post struct {
	ID           string    `bson:"_id" json:"id"`
	AuthorID     string    `bson:"authorId" json:"author_id"`
	Content      string    `bson:"content" json:"content"`
	ImageURL     string    `bson:"imageUrl,omitempty" json:"image_url,omitempty"`
	Poll         *Poll     `bson:"poll,omitempty" json:"poll,omitempty"`
	QuotedPostID string    `bson:"quotedPostId,omitempty" json:"quoted_post_id,omitempty"`
	ReplyPolicy  string    `bson:"replyPolicy,omitempty" json:"reply_policy,omitempty"`
	Hashtags     []string  `bson:"hashtags,omitempty" json:"hashtags,omitempty"`
	Status       string    `bson:"status" json:"status"`
	Pinned       bool      `bson:"pinned" json:"pinned"`
	CreatedAt    time.Time `bson:"createdAt" json:"created_at"`
	EditedAt     time.Time `bson:"editedAt,omitempty" json:"edited_at,omitempty"`
	LastSavedAt  time.Time `bson:"lastSavedAt,omitempty" json:"last_saved_at,omitempty"`

	// Membership sets. "is liked by viewer" is set containment, nothing else.
	LikedBy    []string `bson:"likedBy" json:"liked_by"`
	RepostedBy []string `bson:"repostedBy" json:"reposted_by"`

	// Denormalized counters, maintained by exactly one mutation path each.
	CommentCount int64 `bson:"commentCount" json:"comment_count"`
	ViewCount    int64 `bson:"viewCount" json:"view_count"`
}

func (p *Post) IsLikedBy(userID string) bool {
	return contains(p.LikedBy, userID)
}

func (p *Post) IsRepostedBy(userID string) bool {
	return contains(p.RepostedBy, userID)
}

type Poll struct {
	Options []PollOption   `bson:"options" json:"options"`
	Voters  map[string]int `bson:"voters" json:"voters"`
	EndsAt  time.Time      `bson:"endsAt,omitempty" json:"ends_at,omitempty"`
}

type PollOption struct {
	Text  string `bson:"text" json:"text"`
	Votes int64  `bson:"votes" json:"votes"`
}

func (p *Poll) Closed(now time.Time) bool {
	return !p.EndsAt.IsZero() && now.After(p.EndsAt)
}

type Comment struct {
	ID        string    `bson:"_id" json:"id"`
	PostID    string    `bson:"postId" json:"post_id"`
	AuthorID  string    `bson:"authorId" json:"author_id"`
	Content   string    `bson:"content" json:"content"`
	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
