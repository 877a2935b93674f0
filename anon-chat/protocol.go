package main

import (
	"github.com/gosuda/portal-chat/anon-chat/channel"
	"github.com/gosuda/portal-chat/anon-chat/identity"
)

// ClientMessage is the envelope received from websocket clients.
type ClientMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ServerEvent is pushed to clients for any room update.
type ServerEvent struct {
	Type     string             `json:"type"`
	Room     string             `json:"room,omitempty"`
	Message  *channel.Message   `json:"message,omitempty"`
	Identity *identity.Identity `json:"identity,omitempty"`
	Status   string             `json:"status,omitempty"`
	Body     string             `json:"body,omitempty"`
}

const (
	eventMessage  = "message"
	eventSystem   = "system"
	eventIdentity = "identity"
	eventStatus   = "status"
	eventError    = "error"
)

func messageEvent(m channel.Message) ServerEvent {
	typ := eventMessage
	if m.Kind == channel.KindSystem {
		typ = eventSystem
	}
	return ServerEvent{Type: typ, Room: m.RoomID, Message: &m}
}
