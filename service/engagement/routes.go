package engagement

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/zispr/zispr-server/cmd/models"
	"github.com/zispr/zispr-server/cmd/utils"
	"github.com/zispr/zispr-server/db"
	"github.com/zispr/zispr-server/service/notifications"
)

type Handler struct {
	store      db.Store
	manager    *Manager
	notifier   *notifications.Creator
	batchLimit int
}

func NewHandler(store db.Store, notifier *notifications.Creator, batchLimit int) *Handler {
	return &Handler{
		store:      store,
		manager:    NewManager(store),
		notifier:   notifier,
		batchLimit: batchLimit,
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/posts/{id}/like", utils.AuthMiddleware(h.ToggleLike)).Methods("POST")
	router.HandleFunc("/posts/{id}/repost", utils.AuthMiddleware(h.ToggleRepost)).Methods("POST")
	router.HandleFunc("/posts/{id}/bookmark", utils.AuthMiddleware(h.ToggleBookmark)).Methods("POST")
	router.HandleFunc("/posts/{id}/vote", utils.AuthMiddleware(h.Vote)).Methods("POST")
	router.HandleFunc("/users/{id}/follow", utils.AuthMiddleware(h.ToggleFollow)).Methods("POST")
	router.HandleFunc("/users/{id}/block", utils.AuthMiddleware(h.ToggleBlock)).Methods("POST")

	router.HandleFunc("/bookmarks", utils.AuthMiddleware(h.GetBookmarks)).Methods("GET")

	router.HandleFunc("/collections", utils.AuthMiddleware(h.CreateCollection)).Methods("POST")
	router.HandleFunc("/collections", utils.AuthMiddleware(h.ListCollections)).Methods("GET")
	router.HandleFunc("/collections/{id}", utils.AuthMiddleware(h.RenameCollection)).Methods("PUT")
	router.HandleFunc("/collections/{id}", utils.AuthMiddleware(h.DeleteCollection)).Methods("DELETE")
	router.HandleFunc("/collections/{id}/posts", utils.AuthMiddleware(h.GetCollectionPosts)).Methods("GET")
	router.HandleFunc("/collections/{id}/posts/{postId}", utils.AuthMiddleware(h.SaveToCollection)).Methods("POST")
	router.HandleFunc("/collections/{id}/posts/{postId}", utils.AuthMiddleware(h.RemoveFromCollection)).Methods("DELETE")
}

func (h *Handler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	h.togglePostSet(w, r, "likedBy", models.NotificationLike)
}

func (h *Handler) ToggleRepost(w http.ResponseWriter, r *http.Request) {
	h.togglePostSet(w, r, "repostedBy", models.NotificationRetweet)
}

func (h *Handler) togglePostSet(w http.ResponseWriter, r *http.Request, field, notifyKind string) {
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
	if post.Status != models.PostStatusPublished {
		http.Error(w, "Post not found", http.StatusNotFound)
		return
	}

	nowMember, err := h.manager.ToggleMembership(r.Context(), db.Ref(db.CollPosts, postID), field, userID)
	if err != nil {
		utils.WriteStoreError(w, err)
		return
	}

	if nowMember {
		if err := h.notifier.Notify(r.Context(), notifyKind, userID, post.AuthorID, post.ID, post.Content); err != nil {
			utils.Logger.Warnw("notify engagement", "kind", notifyKind, "error", err)
		}
	}
	utils.WriteJSON(w, http.StatusOK, map[string]bool{"now_member": nowMember})
}

// ToggleBookmark flips the post's membership in the caller's savedPosts set.
// The set lives on the user document, so here the toggled member is the post.
func (h *Handler) ToggleBookmark(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	postID := mux.Vars(r)["id"]

	nowMember, err := h.manager.ToggleMembership(r.Context(), db.Ref(db.CollUsers, userID), "savedPosts", postID)
	if err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]bool{"saved": nowMember})
}

func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	postID := mux.Vars(r)["id"]

	var body struct {
		OptionIndex int `json:"option_index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	switch err := h.manager.VotePoll(r.Context(), postID, body.OptionIndex, userID); {
	case err == nil:
		utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Vote recorded"})
	case errors.Is(err, ErrAlreadyVoted):
		http.Error(w, "Already voted", http.StatusConflict)
	case errors.Is(err, ErrPollClosed):
		http.Error(w, "Poll closed", http.StatusConflict)
	case errors.Is(err, ErrNoPoll):
		http.Error(w, "Post has no poll", http.StatusBadRequest)
	default:
		utils.WriteStoreError(w, err)
	}
}

func (h *Handler) ToggleFollow(w http.ResponseWriter, r *http.Request) {
	viewerID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	targetID := mux.Vars(r)["id"]
	if targetID == viewerID {
		http.Error(w, "Cannot follow yourself", http.StatusBadRequest)
		return
	}

	nowFollowing, err := h.manager.TogglePaired(r.Context(),
		db.Ref(db.CollUsers, viewerID), "following", targetID,
		db.Ref(db.CollUsers, targetID), "followers", viewerID,
	)
	if err != nil {
		if errors.Is(err, ErrPairedUpdateFailed) {
			http.Error(w, "Follow state may be inconsistent, please retry", http.StatusConflict)
			return
		}
		utils.WriteStoreError(w, err)
		return
	}

	kind := models.NotificationUnfollow
	if nowFollowing {
		kind = models.NotificationFollow
	}
	if err := h.notifier.Notify(r.Context(), kind, viewerID, targetID, "", ""); err != nil {
		utils.Logger.Warnw("notify follow toggle", "error", err)
	}
	utils.WriteJSON(w, http.StatusOK, map[string]bool{"following": nowFollowing})
}

func (h *Handler) ToggleBlock(w http.ResponseWriter, r *http.Request) {
	viewerID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	targetID := mux.Vars(r)["id"]
	if targetID == viewerID {
		http.Error(w, "Cannot block yourself", http.StatusBadRequest)
		return
	}

	nowBlocked, err := h.manager.TogglePaired(r.Context(),
		db.Ref(db.CollUsers, viewerID), "blocked", targetID,
		db.Ref(db.CollUsers, targetID), "blockedBy", viewerID,
	)
	if err != nil {
		if errors.Is(err, ErrPairedUpdateFailed) {
			http.Error(w, "Block state may be inconsistent, please retry", http.StatusConflict)
			return
		}
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]bool{"blocked": nowBlocked})
}

// GetBookmarks pages through the caller's saved posts with the chunked
// fetcher and orders them newest first in memory.
func (h *Handler) GetBookmarks(w http.ResponseWriter, r *http.Request) {
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
	posts, err := h.fetchPostsSorted(r, user.SavedPosts)
	if err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, posts)
}

func (h *Handler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}

	c, err := h.manager.CreateCollection(r.Context(), userID, body.Name)
	if err != nil {
		if errors.Is(err, ErrDuplicateName) {
			http.Error(w, "A collection with that name already exists", http.StatusConflict)
			return
		}
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
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
	if user.Collections == nil {
		user.Collections = []models.Collection{}
	}
	utils.WriteJSON(w, http.StatusOK, user.Collections)
}

func (h *Handler) RenameCollection(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}

	err = h.manager.RenameCollection(r.Context(), userID, mux.Vars(r)["id"], body.Name)
	if err != nil {
		if errors.Is(err, ErrDuplicateName) {
			http.Error(w, "A collection with that name already exists", http.StatusConflict)
			return
		}
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Collection renamed"})
}

func (h *Handler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.manager.DeleteCollection(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Collection deleted"})
}

func (h *Handler) GetCollectionPosts(w http.ResponseWriter, r *http.Request) {
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
	idx := user.CollectionIndex(mux.Vars(r)["id"])
	if idx < 0 {
		http.Error(w, "Collection not found", http.StatusNotFound)
		return
	}

	posts, err := h.fetchPostsSorted(r, user.Collections[idx].PostIDs)
	if err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, posts)
}

func (h *Handler) SaveToCollection(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	vars := mux.Vars(r)
	if err := h.manager.SaveToCollection(r.Context(), userID, vars["postId"], vars["id"]); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Post saved to collection"})
}

func (h *Handler) RemoveFromCollection(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	vars := mux.Vars(r)
	if err := h.manager.RemoveFromCollection(r.Context(), userID, vars["postId"], vars["id"]); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Post removed from collection"})
}

// fetchPostsSorted resolves an unbounded saved-post id list: chunked
// parallel fetch, merge keyed by id, then the descending creation-time sort
// applied after the merge. Deleted posts drop out silently.
func (h *Handler) fetchPostsSorted(r *http.Request, ids []string) ([]models.Post, error) {
	posts, err := db.FetchByIDs[models.Post](r.Context(), h.store, db.CollPosts, ids, h.batchLimit)
	if err != nil {
		return nil, err
	}
	merger := db.NewMerger(
		func(p models.Post) string { return p.ID },
		func(p models.Post) int64 { return p.CreatedAt.UnixNano() },
	)
	merger.Absorb(posts)
	return merger.Sorted(), nil
}
