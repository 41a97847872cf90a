package subscription

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/zispr/zispr-server/cmd/models"
	"github.com/zispr/zispr-server/cmd/utils"
	"github.com/zispr/zispr-server/db"
)

// Verified tiers granted by the payments provider.
const (
	TierBlue = "blue"
	TierGold = "gold"
)

// Handler receives webhooks from the payments provider. It is the only
// writer of a user's verified tier; the rest of the API treats that field
// as read-only.
type Handler struct {
	store db.Store
}

func NewHandler(store db.Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/payments", h.HandleWebhook).Methods("POST")
	router.HandleFunc("/subscription", utils.AuthMiddleware(h.GetSubscription)).Methods("GET")
}

type webhookEvent struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	Tier      string    `json:"tier,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Error reading body", http.StatusBadRequest)
		return
	}
	if !validSignature(body, r.Header.Get("X-Webhook-Signature")) {
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}
	if event.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case "subscription.activated":
		if event.Tier != TierBlue && event.Tier != TierGold {
			http.Error(w, "Unknown tier", http.StatusBadRequest)
			return
		}
		err = h.store.Update(r.Context(), db.Ref(db.CollUsers, event.UserID),
			db.Set("verifiedTier", event.Tier))
	case "subscription.canceled", "subscription.expired":
		err = h.store.Update(r.Context(), db.Ref(db.CollUsers, event.UserID),
			db.Unset("verifiedTier"))
	default:
		// Acknowledge event types we do not handle so the provider
		// stops retrying them.
		utils.Logger.Infow("ignoring payments event", "type", event.Type)
		utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if err != nil {
		// A missing user is not the provider's problem to retry.
		if errors.Is(err, db.ErrNotFound) {
			utils.Logger.Warnw("payments event for unknown user", "userId", event.UserID)
			utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		utils.WriteStoreError(w, err)
		return
	}

	utils.Logger.Infow("payments event applied",
		"type", event.Type, "userId", event.UserID, "tier", event.Tier)
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
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
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"verified_tier": user.VerifiedTier,
		"active":        user.VerifiedTier != "",
	})
}

func validSignature(body []byte, signature string) bool {
	secret := os.Getenv("PAYMENTS_WEBHOOK_SECRET")
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
