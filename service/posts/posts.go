package posts

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zispr/zispr-server/cmd/models"
	"github.com/zispr/zispr-server/db"
)

var (
	mentionPattern = regexp.MustCompile(`@[A-Za-z0-9_]+`)
	hashtagPattern = regexp.MustCompile(`#[A-Za-z0-9_]+`)
)

// Mentions returns the unique @handles embedded in content.
func Mentions(content string) []string {
	return uniqueMatches(mentionPattern, content)
}

// Hashtags returns the unique #tags embedded in content, lowercased so a
// tag filter matches regardless of how the author typed it.
func Hashtags(content string) []string {
	var tags []string
	for _, t := range uniqueMatches(hashtagPattern, content) {
		tags = append(tags, strings.ToLower(t))
	}
	return tags
}

func uniqueMatches(pattern *regexp.Regexp, content string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range pattern.FindAllString(content, -1) {
		key := strings.ToLower(m)
		if !seen[key] {
			seen[key] = true
			out = append(out, m)
		}
	}
	return out
}

// NewPost builds a published post document with every membership set and
// counter initialized. Counters after this point only move through the
// dedicated mutation paths below.
func NewPost(authorID, content, imageURL, quotedPostID, replyPolicy string, poll *models.Poll) models.Post {
	if poll != nil && poll.Voters == nil {
		poll.Voters = map[string]int{}
	}
	return models.Post{
		ID:           uuid.New().String(),
		AuthorID:     authorID,
		Content:      content,
		ImageURL:     imageURL,
		QuotedPostID: quotedPostID,
		ReplyPolicy:  replyPolicy,
		Poll:         poll,
		Hashtags:     Hashtags(content),
		Status:       models.PostStatusPublished,
		CreatedAt:    time.Now().UTC(),
		LikedBy:      []string{},
		RepostedBy:   []string{},
	}
}

// addComment inserts the comment and bumps the post's denormalized comment
// counter. This function is the counter's only increment site; keeping it
// that way is what keeps the counter equal to the number of comment rows.
func addComment(ctx context.Context, store db.Store, postID, authorID, content string) (models.Comment, error) {
	comment := models.Comment{
		ID:        uuid.New().String(),
		PostID:    postID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Insert(ctx, db.CollComments, comment.ID, comment); err != nil {
		return models.Comment{}, err
	}
	if err := store.Update(ctx, db.Ref(db.CollPosts, postID), db.Inc("commentCount", 1)); err != nil {
		return models.Comment{}, err
	}
	return comment, nil
}

// removeComment deletes the comment and decrements the counter; the only
// decrement site.
func removeComment(ctx context.Context, store db.Store, comment models.Comment) error {
	if err := store.Delete(ctx, db.Ref(db.CollComments, comment.ID)); err != nil {
		return err
	}
	return store.Update(ctx, db.Ref(db.CollPosts, comment.PostID), db.Inc("commentCount", -1))
}

// recordView bumps the denormalized view counter; the only increment site.
func recordView(ctx context.Context, store db.Store, postID string) error {
	return store.Update(ctx, db.Ref(db.CollPosts, postID), db.Inc("viewCount", 1))
}
