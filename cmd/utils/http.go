package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zispr/zispr-server/db"
)

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// WriteStoreError maps the store error taxonomy to HTTP codes. Anything a
// service wants reported differently is handled before reaching here.
func WriteStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, db.ErrPermissionDenied):
		http.Error(w, "Permission denied", http.StatusForbidden)
	case errors.Is(err, db.ErrTransient):
		http.Error(w, "Store unavailable, try again", http.StatusServiceUnavailable)
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
