// Package channel stores and delivers chat messages. Feed is the
// subscription-backed variant, Local keeps one ordered list per room and has
// no fan-out.
package channel

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/portal-chat/anon-chat/identity"
)

type Kind string

const (
	KindUser   Kind = "message"
	KindSystem Kind = "system"
)

// Message is an immutable chat event. Author is nil for system messages.
type Message struct {
	ID        uuid.UUID          `json:"id"`
	Kind      Kind               `json:"type"`
	RoomID    string             `json:"roomId"`
	Author    *identity.Identity `json:"user,omitempty"`
	Body      string             `json:"content"`
	CreatedAt time.Time          `json:"createdAt"`
}

func NewUserMessage(roomID string, author identity.Identity, body string, at time.Time) Message {
	return Message{
		ID:        uuid.New(),
		Kind:      KindUser,
		RoomID:    roomID,
		Author:    &author,
		Body:      body,
		CreatedAt: at.UTC(),
	}
}

func NewSystemMessage(roomID, body string, at time.Time) Message {
	return Message{
		ID:        uuid.New(),
		Kind:      KindSystem,
		RoomID:    roomID,
		Body:      body,
		CreatedAt: at.UTC(),
	}
}

// Channel is the contract both variants share. Send is fire-and-forget from
// the caller's point of view; the error is only for logging.
type Channel interface {
	FetchHistory(ctx context.Context, roomID string) ([]Message, error)
	Send(ctx context.Context, msg Message) error
	Purge(ctx context.Context, roomID string) (int, error)
}

// Subscriber is implemented by variants that push creation events.
type Subscriber interface {
	Subscribe(roomID string, fn func(Message)) (cancel func())
}
