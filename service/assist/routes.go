package assist

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/zispr/zispr-server/cmd/utils"
)

type Handler struct {
	composer *Composer
}

// NewHandler accepts a nil composer; assist endpoints then return 503.
func NewHandler(composer *Composer) *Handler {
	return &Handler{composer: composer}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/assist/compose", utils.AuthMiddleware(h.Compose)).Methods("POST")
	router.HandleFunc("/assist/reply", utils.AuthMiddleware(h.Reply)).Methods("POST")
}

func (h *Handler) Compose(w http.ResponseWriter, r *http.Request) {
	if h.composer == nil {
		http.Error(w, "Writing assistant is not configured", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Topic string `json:"topic"`
		Tone  string `json:"tone,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Topic == "" {
		http.Error(w, "Topic is required", http.StatusBadRequest)
		return
	}

	suggestion, err := h.composer.SuggestPost(r.Context(), req.Topic, req.Tone)
	if err != nil {
		utils.Logger.Warnw("compose suggestion", "error", err)
		http.Error(w, "Error generating suggestion", http.StatusBadGateway)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"suggestion": suggestion})
}

func (h *Handler) Reply(w http.ResponseWriter, r *http.Request) {
	if h.composer == nil {
		http.Error(w, "Writing assistant is not configured", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		PostContent string `json:"post_content"`
		Instruction string `json:"instruction,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PostContent == "" {
		http.Error(w, "Post content is required", http.StatusBadRequest)
		return
	}

	suggestion, err := h.composer.SuggestReply(r.Context(), req.PostContent, req.Instruction)
	if err != nil {
		utils.Logger.Warnw("reply suggestion", "error", err)
		http.Error(w, "Error generating suggestion", http.StatusBadGateway)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"suggestion": suggestion})
}
