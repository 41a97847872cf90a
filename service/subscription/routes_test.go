package subscription

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zispr/zispr-server/cmd/models"
	"github.com/zispr/zispr-server/db"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(h *Handler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Webhook-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)
	return rec
}

func TestWebhookSetsAndClearsTier(t *testing.T) {
	t.Setenv("PAYMENTS_WEBHOOK_SECRET", "test-secret")
	store := db.NewMemStore()
	h := NewHandler(store)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, db.CollUsers, "alice", models.User{UID: "alice", Handle: "@alice"}))

	body := []byte(`{"type":"subscription.activated","user_id":"alice","tier":"gold"}`)
	rec := postWebhook(h, body, sign("test-secret", body))
	require.Equal(t, http.StatusOK, rec.Code)

	var user models.User
	require.NoError(t, store.Get(ctx, db.Ref(db.CollUsers, "alice"), &user))
	assert.Equal(t, TierGold, user.VerifiedTier)

	body = []byte(`{"type":"subscription.canceled","user_id":"alice"}`)
	rec = postWebhook(h, body, sign("test-secret", body))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, store.Get(ctx, db.Ref(db.CollUsers, "alice"), &user))
	assert.Empty(t, user.VerifiedTier)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	t.Setenv("PAYMENTS_WEBHOOK_SECRET", "test-secret")
	store := db.NewMemStore()
	h := NewHandler(store)

	body := []byte(`{"type":"subscription.activated","user_id":"alice","tier":"gold"}`)
	assert.Equal(t, http.StatusUnauthorized, postWebhook(h, body, "deadbeef").Code)
	assert.Equal(t, http.StatusUnauthorized, postWebhook(h, body, "").Code)
}

func TestWebhookIgnoresUnknownEventAndUser(t *testing.T) {
	t.Setenv("PAYMENTS_WEBHOOK_SECRET", "test-secret")
	store := db.NewMemStore()
	h := NewHandler(store)

	body := []byte(`{"type":"invoice.paid","user_id":"alice"}`)
	assert.Equal(t, http.StatusOK, postWebhook(h, body, sign("test-secret", body)).Code)

	// A user we have never seen is acknowledged so the provider stops
	// retrying.
	body = []byte(`{"type":"subscription.activated","user_id":"ghost","tier":"blue"}`)
	assert.Equal(t, http.StatusOK, postWebhook(h, body, sign("test-secret", body)).Code)
}
