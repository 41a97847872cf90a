package posts

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/zispr/zispr-server/cmd/models"
	"github.com/zispr/zispr-server/cmd/utils"
	"github.com/zispr/zispr-server/db"
	"github.com/zispr/zispr-server/service/notifications"
)

type Handler struct {
	store    db.Store
	notifier *notifications.Creator
}

func NewHandler(store db.Store, notifier *notifications.Creator) *Handler {
	return &Handler{store: store, notifier: notifier}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/posts", utils.AuthMiddleware(h.CreatePost)).Methods("POST")
	router.HandleFunc("/posts/{id}", h.GetPost).Methods("GET")
	router.HandleFunc("/posts/{id}", utils.AuthMiddleware(h.DeletePost)).Methods("DELETE")
	router.HandleFunc("/posts/{id}/view", h.RecordView).Methods("POST")
	router.HandleFunc("/posts/{id}/pin", utils.AuthMiddleware(h.PinPost)).Methods("POST")
	router.HandleFunc("/posts/{id}/unpin", utils.AuthMiddleware(h.UnpinPost)).Methods("POST")
	router.HandleFunc("/posts/{id}/comments", utils.AuthMiddleware(h.AddComment)).Methods("POST")
	router.HandleFunc("/posts/{id}/comments", h.GetComments).Methods("GET")
	router.HandleFunc("/posts/{id}/comments/{commentId}", utils.AuthMiddleware(h.DeleteComment)).Methods("DELETE")
	router.HandleFunc("/users/{id}/posts", h.GetUserPosts).Methods("GET")
	router.HandleFunc("/tags/{tag}/posts", h.GetTagPosts).Methods("GET")
	router.HandleFunc("/feed", utils.AuthMiddleware(h.GetFeed)).Methods("GET")
}

type createPostRequest struct {
	Content      string       `json:"content"`
	ImageURL     string       `json:"image_url,omitempty"`
	QuotedPostID string       `json:"quoted_post_id,omitempty"`
	ReplyPolicy  string       `json:"reply_policy,omitempty"`
	PollOptions  []string     `json:"poll_options,omitempty"`
	PollDuration int          `json:"poll_duration_hours,omitempty"`
}

func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" && req.ImageURL == "" {
		http.Error(w, "Content is required", http.StatusBadRequest)
		return
	}

	var poll *models.Poll
	if len(req.PollOptions) > 0 {
		if len(req.PollOptions) < 2 {
			http.Error(w, "A poll needs at least two options", http.StatusBadRequest)
			return
		}
		poll = &models.Poll{Voters: map[string]int{}}
		for _, text := range req.PollOptions {
			poll.Options = append(poll.Options, models.PollOption{Text: text})
		}
		if req.PollDuration > 0 {
			poll.EndsAt = time.Now().UTC().Add(time.Duration(req.PollDuration) * time.Hour)
		}
	}

	if req.QuotedPostID != "" {
		var quoted models.Post
		if err := h.store.Get(r.Context(), db.Ref(db.CollPosts, req.QuotedPostID), &quoted); err != nil {
			http.Error(w, "Quoted post not found", http.StatusBadRequest)
			return
		}
	}

	post := NewPost(userID, req.Content, req.ImageURL, req.QuotedPostID, req.ReplyPolicy, poll)
	if err := h.store.Insert(r.Context(), db.CollPosts, post.ID, post); err != nil {
		utils.WriteStoreError(w, err)
		return
	}

	h.fanOut(r, &post)
	utils.WriteJSON(w, http.StatusCreated, post)
}

// fanOut emits mention and new-post notifications. Failures here never fail
// the publish; they are logged and dropped.
func (h *Handler) fanOut(r *http.Request, post *models.Post) {
	ctx := r.Context()

	mentioned := make(map[string]bool)
	for _, handle := range Mentions(post.Content) {
		// Handles are stored lowercased; match them regardless of how the
		// author typed the mention.
		var users []models.User
		if err := h.store.Find(ctx, db.CollUsers, map[string]interface{}{"handle": strings.ToLower(handle)}, &users); err != nil || len(users) == 0 {
			continue
		}
		mentioned[users[0].UID] = true
		if err := h.notifier.Notify(ctx, models.NotificationMention, post.AuthorID, users[0].UID, post.ID, post.Content); err != nil {
			utils.Logger.Warnw("notify mention", "error", err)
		}
	}

	var author models.User
	if err := h.store.Get(ctx, db.Ref(db.CollUsers, post.AuthorID), &author); err != nil {
		utils.Logger.Warnw("load author for fan-out", "error", err)
		return
	}
	for _, follower := range author.Followers {
		if mentioned[follower] {
			continue
		}
		if err := h.notifier.Notify(ctx, models.NotificationPost, post.AuthorID, follower, post.ID, post.Content); err != nil {
			utils.Logger.Warnw("notify follower", "error", err)
		}
	}
}

func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	var post models.Post
	if err := h.store.Get(r.Context(), db.Ref(db.CollPosts, mux.Vars(r)["id"]), &post); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	if post.Status != models.PostStatusPublished {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	utils.WriteJSON(w, http.StatusOK, post)
}

func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	postID := mux.Vars(r)["id"]

	var post models.Post
	if err := h.store.Get(r.Context(), db.Ref(db.CollPosts, postID), &post); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			// Delete of a vanished post is success, not failure.
			utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Post deleted"})
			return
		}
		utils.WriteStoreError(w, err)
		return
	}
	if post.AuthorID != userID {
		http.Error(w, "Permission denied", http.StatusForbidden)
		return
	}
	if err := h.store.Delete(r.Context(), db.Ref(db.CollPosts, postID)); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Post deleted"})
}

func (h *Handler) RecordView(w http.ResponseWriter, r *http.Request) {
	if err := recordView(r.Context(), h.store, mux.Vars(r)["id"]); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "View recorded"})
}

func (h *Handler) PinPost(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	postID := mux.Vars(r)["id"]

	var post models.Post
	if err := h.store.Get(r.Context(), db.Ref(db.CollPosts, postID), &post); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	if post.AuthorID != userID {
		http.Error(w, "Can only pin your own posts", http.StatusForbidden)
		return
	}

	// One pinned post per profile; pinning replaces any previous pin.
	err = h.store.UpdateAll(r.Context(),
		db.DocUpdate{Ref: db.Ref(db.CollUsers, userID), Ops: []db.Op{db.Set("pinnedPostId", postID)}},
		db.DocUpdate{Ref: db.Ref(db.CollPosts, postID), Ops: []db.Op{db.Set("pinned", true)}},
	)
	if err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Post pinned"})
}

func (h *Handler) UnpinPost(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	postID := mux.Vars(r)["id"]

	err = h.store.UpdateAll(r.Context(),
		db.DocUpdate{Ref: db.Ref(db.CollUsers, userID), Ops: []db.Op{db.Unset("pinnedPostId")}},
		db.DocUpdate{Ref: db.Ref(db.CollPosts, postID), Ops: []db.Op{db.Set("pinned", false)}},
	)
	if err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Post unpinned"})
}

func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	postID := mux.Vars(r)["id"]

	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Content) == "" {
		http.Error(w, "Content is required", http.StatusBadRequest)
		return
	}

	var post models.Post
	if err := h.store.Get(r.Context(), db.Ref(db.CollPosts, postID), &post); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	if post.Status != models.PostStatusPublished {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	comment, err := addComment(r.Context(), h.store, postID, userID, body.Content)
	if err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, comment)
}

func (h *Handler) GetComments(w http.ResponseWriter, r *http.Request) {
	var comments []models.Comment
	if err := h.store.Find(r.Context(), db.CollComments, map[string]interface{}{"postId": mux.Vars(r)["id"]}, &comments); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	sort.Slice(comments, func(i, j int) bool {
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})
	utils.WriteJSON(w, http.StatusOK, comments)
}

func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	vars := mux.Vars(r)

	var comment models.Comment
	if err := h.store.Get(r.Context(), db.Ref(db.CollComments, vars["commentId"]), &comment); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Comment deleted"})
			return
		}
		utils.WriteStoreError(w, err)
		return
	}

	var post models.Post
	if err := h.store.Get(r.Context(), db.Ref(db.CollPosts, comment.PostID), &post); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	if comment.AuthorID != userID && post.AuthorID != userID {
		http.Error(w, "Permission denied", http.StatusForbidden)
		return
	}

	if err := removeComment(r.Context(), h.store, comment); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Comment deleted"})
}

// GetUserPosts lists a profile's published posts newest first, pinned post
// on top. Ordering is applied in memory, never delegated to the store.
func (h *Handler) GetUserPosts(w http.ResponseWriter, r *http.Request) {
	authorID := mux.Vars(r)["id"]

	var items []models.Post
	filter := map[string]interface{}{"authorId": authorID, "status": models.PostStatusPublished}
	if err := h.store.Find(r.Context(), db.CollPosts, filter, &items); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Pinned != items[j].Pinned {
			return items[i].Pinned
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	utils.WriteJSON(w, http.StatusOK, items)
}

// GetTagPosts lists published posts carrying a hashtag, newest first.
func (h *Handler) GetTagPosts(w http.ResponseWriter, r *http.Request) {
	tag := strings.ToLower(mux.Vars(r)["tag"])
	if !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}

	var items []models.Post
	filter := map[string]interface{}{"hashtags": tag, "status": models.PostStatusPublished}
	if err := h.store.Find(r.Context(), db.CollPosts, filter, &items); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	utils.WriteJSON(w, http.StatusOK, items)
}

// GetFeed returns the home timeline: the caller's posts plus everyone they
// follow, fetched per author and merged by id before the in-memory sort.
func (h *Handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var user models.User
	if err := h.store.Get(r.Context(), db.Ref(db.CollUsers, userID), &user); err != nil {
		utils.WriteStoreError(w, err)
		return
	}

	merger := db.NewMerger(
		func(p models.Post) string { return p.ID },
		func(p models.Post) int64 { return p.CreatedAt.UnixNano() },
	)
	authors := append([]string{userID}, user.Following...)
	for _, author := range authors {
		var items []models.Post
		filter := map[string]interface{}{"authorId": author, "status": models.PostStatusPublished}
		if err := h.store.Find(r.Context(), db.CollPosts, filter, &items); err != nil {
			utils.WriteStoreError(w, err)
			return
		}
		merger.Absorb(items)
	}
	utils.WriteJSON(w, http.StatusOK, merger.Sorted())
}
