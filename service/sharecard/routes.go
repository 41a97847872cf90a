package sharecard

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/zispr/zispr-server/cmd/models"
	"github.com/zispr/zispr-server/cmd/utils"
	"github.com/zispr/zispr-server/db"
)

type Handler struct {
	store    db.Store
	renderer *Renderer
}

func NewHandler(store db.Store, renderer *Renderer) *Handler {
	return &Handler{store: store, renderer: renderer}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/posts/{id}/card", h.GetCard).Methods("GET")
}

func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	if h.renderer == nil {
		http.Error(w, "Share cards are not configured", http.StatusServiceUnavailable)
		return
	}

	var post models.Post
	if err := h.store.Get(r.Context(), db.Ref(db.CollPosts, mux.Vars(r)["id"]), &post); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	if post.Status != models.PostStatusPublished {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	var author models.User
	if err := h.store.Get(r.Context(), db.Ref(db.CollUsers, post.AuthorID), &author); err != nil {
		utils.WriteStoreError(w, err)
		return
	}

	card, err := h.renderer.Render(r.Context(), &post, &author)
	if err != nil {
		utils.Logger.Warnw("render share card", "post", post.ID, "error", err)
		http.Error(w, "Card rendering failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(card)
}
