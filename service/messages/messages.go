package messages

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zispr/zispr-server/cmd/models"
	"github.com/zispr/zispr-server/cmd/utils"
	"github.com/zispr/zispr-server/db"
	"github.com/zispr/zispr-server/service/ws"
)

var (
	// ErrNotParticipant: the caller is not part of the conversation.
	ErrNotParticipant = errors.New("not a conversation participant")
	// ErrBlocked: one side has blocked the other.
	ErrBlocked = errors.New("messaging blocked between these users")
	// ErrDuplicateSend: this client message id was already accepted.
	ErrDuplicateSend = errors.New("duplicate send")
)

// Tracker owns conversation state: the per-recipient unread counter and the
// last-message read receipt. Conversations are created lazily on first
// message between two users.
type Tracker struct {
	store db.Store
	idem  db.IdemStore
	hub   *ws.Hub
}

func NewTracker(store db.Store, idem db.IdemStore, hub *ws.Hub) *Tracker {
	return &Tracker{store: store, idem: idem, hub: hub}
}

// SendMessage appends the message, then applies the conversation metadata as
// one atomic multi-field update: lastMessage, lastMessageReadBy reset to the
// sender alone, and the other participant's unread counter incremented by
// exactly 1. The append runs first so a failure between the two steps
// under-counts unread rather than over-counting. clientMessageID, when
// present, dedupes retried sends.
func (t *Tracker) SendMessage(ctx context.Context, senderID, recipientID, text, clientMessageID string) (models.ChatMessage, error) {
	var claimed string
	if clientMessageID != "" && t.idem != nil {
		key := "msg:" + senderID + ":" + clientMessageID
		fresh, err := t.idem.PutNX(ctx, key, 24*time.Hour)
		if err != nil {
			utils.Logger.Warnw("idempotency check unavailable", "error", err)
		} else if !fresh {
			return models.ChatMessage{}, ErrDuplicateSend
		} else {
			claimed = key
		}
	}
	// A claim is only kept once the message row exists. Failing before that
	// releases it, so the client's retry is a fresh send, not a duplicate.
	fail := func(err error) (models.ChatMessage, error) {
		if claimed != "" {
			if rerr := t.idem.Release(ctx, claimed); rerr != nil {
				utils.Logger.Warnw("release idempotency key", "key", claimed, "error", rerr)
			}
		}
		return models.ChatMessage{}, err
	}

	if err := t.checkBlocked(ctx, senderID, recipientID); err != nil {
		return fail(err)
	}

	convID := models.ConversationID(senderID, recipientID)
	if err := t.ensureConversation(ctx, convID, senderID, recipientID); err != nil {
		return fail(err)
	}

	msg := models.ChatMessage{
		ID:             uuid.New().String(),
		ConversationID: convID,
		SenderID:       senderID,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}
	if err := t.store.Insert(ctx, db.CollMessages, msg.ID, msg); err != nil {
		return fail(err)
	}

	err := t.store.Update(ctx, db.Ref(db.CollConversations, convID),
		db.Set("lastMessage", models.LastMessage{
			SenderID:  senderID,
			Text:      text,
			Timestamp: msg.CreatedAt,
		}),
		db.Set("lastMessageReadBy", []string{senderID}),
		db.Inc("unreadCounts."+recipientID, 1),
	)
	if err != nil {
		// The message row exists but the metadata write failed; unread is
		// now under-counted. Accepted degraded state, surfaced to caller.
		return msg, err
	}

	t.hub.Push(recipientID, ws.Event{Type: ws.EventMessage, Payload: msg})
	return msg, nil
}

// OpenConversation marks the conversation read for the viewer. Idempotent:
// safe to call on every view-open. The viewer joins lastMessageReadBy only
// when the last message is someone else's; their unread counter resets
// unconditionally.
func (t *Tracker) OpenConversation(ctx context.Context, convID, viewerID string) (models.Conversation, error) {
	var conv models.Conversation
	if err := t.store.Get(ctx, db.Ref(db.CollConversations, convID), &conv); err != nil {
		return models.Conversation{}, err
	}
	if !isParticipant(conv.Participants, viewerID) {
		return models.Conversation{}, ErrNotParticipant
	}

	ops := []db.Op{db.Set("unreadCounts."+viewerID, 0)}
	if conv.LastMessage != nil && conv.LastMessage.SenderID != viewerID && !conv.ReadByMe(viewerID) {
		ops = append(ops, db.AddToSet("lastMessageReadBy", viewerID))
	}
	if err := t.store.Update(ctx, db.Ref(db.CollConversations, convID), ops...); err != nil {
		return models.Conversation{}, err
	}

	if err := t.store.Get(ctx, db.Ref(db.CollConversations, convID), &conv); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// ListMessages returns the conversation's messages oldest first.
func (t *Tracker) ListMessages(ctx context.Context, convID, viewerID string) ([]models.ChatMessage, error) {
	var conv models.Conversation
	if err := t.store.Get(ctx, db.Ref(db.CollConversations, convID), &conv); err != nil {
		return nil, err
	}
	if !isParticipant(conv.Participants, viewerID) {
		return nil, ErrNotParticipant
	}

	var items []models.ChatMessage
	if err := t.store.Find(ctx, db.CollMessages, map[string]interface{}{"conversationId": convID}, &items); err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

// ListConversations returns the viewer's conversations, most recent message
// first; the sort happens here, not in the store.
func (t *Tracker) ListConversations(ctx context.Context, viewerID string) ([]models.Conversation, error) {
	var items []models.Conversation
	if err := t.store.Find(ctx, db.CollConversations, map[string]interface{}{"participants": viewerID}, &items); err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		var ti, tj time.Time
		if items[i].LastMessage != nil {
			ti = items[i].LastMessage.Timestamp
		}
		if items[j].LastMessage != nil {
			tj = items[j].LastMessage.Timestamp
		}
		return ti.After(tj)
	})
	return items, nil
}

func (t *Tracker) ensureConversation(ctx context.Context, convID, a, b string) error {
	var conv models.Conversation
	err := t.store.Get(ctx, db.Ref(db.CollConversations, convID), &conv)
	if err == nil {
		return nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return err
	}
	conv = models.Conversation{
		ID:                convID,
		Participants:      []string{a, b},
		LastMessageReadBy: []string{},
		UnreadCounts:      map[string]int64{a: 0, b: 0},
	}
	return t.store.Insert(ctx, db.CollConversations, convID, conv)
}

func (t *Tracker) checkBlocked(ctx context.Context, senderID, recipientID string) error {
	var sender models.User
	if err := t.store.Get(ctx, db.Ref(db.CollUsers, senderID), &sender); err != nil {
		return err
	}
	if sender.HasBlocked(recipientID) || contains(sender.BlockedBy, recipientID) {
		return ErrBlocked
	}
	return nil
}

func isParticipant(participants []string, uid string) bool {
	return contains(participants, uid)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
