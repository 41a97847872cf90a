package drafts

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/zispr/zispr-server/cmd/utils"
	"github.com/zispr/zispr-server/db"
)

type Handler struct {
	manager *Manager
}

func NewHandler(store db.Store) *Handler {
	return &Handler{manager: NewManager(store)}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/drafts", utils.AuthMiddleware(h.Save)).Methods("POST")
	router.HandleFunc("/drafts", utils.AuthMiddleware(h.List)).Methods("GET")
	router.HandleFunc("/drafts/{id}", utils.AuthMiddleware(h.Resume)).Methods("GET")
	router.HandleFunc("/drafts/{id}", utils.AuthMiddleware(h.Save)).Methods("PUT")
	router.HandleFunc("/drafts/{id}", utils.AuthMiddleware(h.Delete)).Methods("DELETE")
	router.HandleFunc("/drafts/{id}/publish", utils.AuthMiddleware(h.Publish)).Methods("POST")
}

// Save handles both the first autosave (POST /drafts) and every later one
// (PUT /drafts/{id}).
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var c Composition
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	draft, err := h.manager.Save(r.Context(), userID, mux.Vars(r)["id"], c)
	if err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, draft)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	items, err := h.manager.List(r.Context(), userID)
	if err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	draft, err := h.manager.Resume(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, draft)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.manager.Delete(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Draft deleted"})
}

func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	post, err := h.manager.Publish(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, post)
}
