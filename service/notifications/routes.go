package notifications

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"github.com/zispr/zispr-server/cmd/models"
	"github.com/zispr/zispr-server/cmd/utils"
	"github.com/zispr/zispr-server/db"
)

type Handler struct {
	store   db.Store
	creator *Creator
}

func NewHandler(store db.Store, creator *Creator) *Handler {
	return &Handler{store: store, creator: creator}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/notifications", utils.AuthMiddleware(h.List)).Methods("GET")
	router.HandleFunc("/notifications/read-all", utils.AuthMiddleware(h.MarkAllRead)).Methods("POST")
	router.HandleFunc("/notifications/prefs", utils.AuthMiddleware(h.UpdatePrefs)).Methods("PUT")
	router.HandleFunc("/notifications/{id}/read", utils.AuthMiddleware(h.MarkRead)).Methods("POST")
	router.HandleFunc("/devices", utils.AuthMiddleware(h.RegisterDevice)).Methods("POST")
	router.HandleFunc("/devices/{id}", utils.AuthMiddleware(h.DeleteDevice)).Methods("DELETE")
}

// List returns the caller's notifications, newest first. Ordering happens
// here, not in the query.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var items []models.Notification
	if err := h.store.Find(r.Context(), db.CollNotifications, map[string]interface{}{"toUserId": userID}, &items); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	sortNotificationsDesc(items)
	utils.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]

	var n models.Notification
	if err := h.store.Get(r.Context(), db.Ref(db.CollNotifications, id), &n); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	if n.ToUserID != userID {
		http.Error(w, "Permission denied", http.StatusForbidden)
		return
	}

	// The read flag is the only mutation a notification ever sees.
	if err := h.store.Update(r.Context(), db.Ref(db.CollNotifications, id), db.Set("read", true)); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Notification marked read"})
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var items []models.Notification
	if err := h.store.Find(r.Context(), db.CollNotifications, map[string]interface{}{"toUserId": userID, "read": false}, &items); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	for _, n := range items {
		if err := h.store.Update(r.Context(), db.Ref(db.CollNotifications, n.ID), db.Set("read", true)); err != nil {
			utils.WriteStoreError(w, err)
			return
		}
	}
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{"message": "All notifications marked read", "count": len(items)})
}

// UpdatePrefs overwrites individual per-kind switches. Kinds never written
// stay absent and therefore default to enabled.
func (h *Handler) UpdatePrefs(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var prefs map[string]bool
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	known := map[string]bool{
		models.NotificationLike:     true,
		models.NotificationFollow:   true,
		models.NotificationUnfollow: true,
		models.NotificationRetweet:  true,
		models.NotificationMention:  true,
		models.NotificationPost:     true,
	}
	var ops []db.Op
	for kind, enabled := range prefs {
		if !known[kind] {
			http.Error(w, "Unknown notification kind: "+kind, http.StatusBadRequest)
			return
		}
		ops = append(ops, db.Set("notificationPrefs."+kind, enabled))
	}
	if len(ops) == 0 {
		utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "No changes"})
		return
	}

	if err := h.store.Update(r.Context(), db.Ref(db.CollUsers, userID), ops...); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Preferences updated"})
}

func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var device models.Device
	if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if device.Token == "" {
		http.Error(w, "Token is required", http.StatusBadRequest)
		return
	}
	if _, err := expo.NewExponentPushToken(device.Token); err != nil {
		http.Error(w, "Invalid Expo push token format", http.StatusBadRequest)
		return
	}

	device.ID = uuid.New().String()
	device.UserID = userID
	device.CreatedAt = time.Now().UTC()
	if err := h.store.Insert(r.Context(), db.CollDevices, device.ID, device); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{"message": "Device registered successfully", "device": device})
}

func (h *Handler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]

	var device models.Device
	if err := h.store.Get(r.Context(), db.Ref(db.CollDevices, id), &device); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			// Already gone: the desired end state.
			utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Device removed"})
			return
		}
		utils.WriteStoreError(w, err)
		return
	}
	if device.UserID != userID {
		http.Error(w, "Permission denied", http.StatusForbidden)
		return
	}
	if err := h.store.Delete(r.Context(), db.Ref(db.CollDevices, id)); err != nil {
		utils.WriteStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Device removed"})
}

func sortNotificationsDesc(items []models.Notification) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
