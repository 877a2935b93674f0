package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/portal-chat/anon-chat/channel"
	"github.com/gosuda/portal-chat/anon-chat/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 64
	maxFrameSize   = 16 << 10
)

// Client is one websocket connection bound to one chat session. It is the
// session's sink, so every delivery goes through the buffered send channel.
type Client struct {
	conn    *websocket.Conn
	session *session.Session

	mu     sync.Mutex
	send   chan ServerEvent
	closed bool
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan ServerEvent, sendBufferSize),
	}
}

func (c *Client) Deliver(m channel.Message) {
	c.push(messageEvent(m))
}

// Closed reports the room cleanup and ends the connection once the notice
// has been flushed.
func (c *Client) Closed(st session.Status) {
	c.push(ServerEvent{Type: eventStatus, Status: string(st)})
	c.close()
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.close()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("owner", c.session.Owner()).Msg("[chat] read message")
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.pushError("malformed message")
			continue
		}
		switch msg.Type {
		case "send":
			if err := c.session.Send(ctx, msg.Text); err != nil {
				if errors.Is(err, session.ErrTerminated) {
					return
				}
				log.Warn().Err(err).Str("room", c.session.RoomID()).Str("seq", c.session.Identity().SequenceNumber).Msg("[chat] send failed")
				c.pushError("message could not be sent")
			}
		default:
			c.pushError("unknown message type")
		}
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("[chat] write json")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// push never blocks: when the buffer is full the oldest event is dropped.
func (c *Client) push(ev ServerEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- ev:
	default:
		select {
		case <-c.send:
		default:
		}
		c.send <- ev
	}
}

func (c *Client) pushError(body string) {
	c.push(ServerEvent{Type: eventError, Body: body})
}

// close stops accepting events; the write loop drains what is left and sends
// the close frame.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// shutdown is used when the server stops.
func (c *Client) shutdown() {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), time.Now().Add(writeWait))
}
