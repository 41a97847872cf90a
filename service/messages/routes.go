package messages

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/zispr/zispr-server/cmd/utils"
	"github.com/zispr/zispr-server/db"
	"github.com/zispr/zispr-server/service/ws"
)

type Handler struct {
	tracker *Tracker
}

func NewHandler(store db.Store, idem db.IdemStore, hub *ws.Hub) *Handler {
	return &Handler{tracker: NewTracker(store, idem, hub)}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/conversations", utils.AuthMiddleware(h.ListConversations)).Methods("GET")
	router.HandleFunc("/conversations/{id}/open", utils.AuthMiddleware(h.OpenConversation)).Methods("POST")
	router.HandleFunc("/conversations/{id}/messages", utils.AuthMiddleware(h.ListMessages)).Methods("GET")
	router.HandleFunc("/messages", utils.AuthMiddleware(h.SendMessage)).Methods("POST")
}

type sendMessageRequest struct {
	RecipientID     string `json:"recipient_id"`
	Text            string `json:"text"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	senderID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.RecipientID == "" || strings.TrimSpace(req.Text) == "" {
		http.Error(w, "Recipient and text are required", http.StatusBadRequest)
		return
	}
	if req.RecipientID == senderID {
		http.Error(w, "Cannot message yourself", http.StatusBadRequest)
		return
	}

	msg, err := h.tracker.SendMessage(r.Context(), senderID, req.RecipientID, req.Text, req.ClientMessageID)
	switch {
	case err == nil:
		utils.WriteJSON(w, http.StatusCreated, msg)
	case errors.Is(err, ErrDuplicateSend):
		// The first attempt already landed; a retry is success.
		utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Message already sent"})
	case errors.Is(err, ErrBlocked):
		http.Error(w, "Cannot message this user", http.StatusForbidden)
	default:
		utils.WriteStoreError(w, err)
	}
}

func (h *Handler) OpenConversation(w http.ResponseWriter, r *http.Request) {
	viewerID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conv, err := h.tracker.OpenConversation(r.Context(), mux.Vars(r)["id"], viewerID)
	if err != nil {
		if errors.Is(err, ErrNotParticipant) {
			http.Error(w, "Permission denied", http.StatusForbidden)
			return
		}
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, conv)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	viewerID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	items, err := h.tracker.ListMessages(r.Context(), mux.Vars(r)["id"], viewerID)
	if err != nil {
		if errors.Is(err, ErrNotParticipant) {
			http.Error(w, "Permission denied", http.StatusForbidden)
			return
		}
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	viewerID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	items, err := h.tracker.ListConversations(r.Context(), viewerID)
	if err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, items)
}
