package chat

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is one live connection. It carries the identity proven by the
// access token; a join event promotes it to an active room member. The
// user/joined fields are owned by the hub goroutine.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	identity UserRef
	user     *UserRef
	joined   bool
	closed   bool
}

func NewClient(hub *Hub, conn *websocket.Conn, identity UserRef) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		identity: identity,
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			break
		}

		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			log.Printf("failed to unmarshal event: %v", err)
			continue
		}

		c.handleEvent(&evt)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(data)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleEvent(evt *Event) {
	switch evt.Type {
	case EventJoin:
		var payload JoinPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			c.sendError("invalid join payload")
			return
		}
		if payload.UserID != "" && payload.UserID != c.identity.UserID {
			c.sendError("join identity does not match the authenticated user")
			return
		}
		name := payload.Name
		if name == "" {
			name = c.identity.Name
		}
		c.hub.Join(c, c.identity.UserID, name)

	case EventSendMessage:
		var payload SendMessagePayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			c.sendError("invalid sendMessage payload")
			return
		}
		user := payload.User
		if user.UserID == "" {
			user = c.identity
		} else if user.UserID != c.identity.UserID {
			c.sendError("cannot send a message as another user")
			return
		}
		c.hub.SendMessage(c, payload.Content, user)

	case EventGetMessages:
		var payload GetMessagesPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			c.sendError("invalid getMessages payload")
			return
		}
		filter, err := payload.Filter()
		if err != nil {
			c.sendError("dates must be YYYY-MM-DD")
			return
		}
		c.hub.GetMessages(c, filter)
	}
}

// Close releases the outbound queue. Only the hub goroutine calls this.
func (c *Client) Close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// trySend enqueues data without blocking. A client whose buffer is full is
// considered too slow for this event; delivery to everyone else proceeds.
// The hub can close the queue while a history reply is still in flight;
// losing that race counts as a drop, not a crash.
func (c *Client) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) sendError(message string) {
	evt, _ := NewEvent(EventError, ErrorPayload{Message: message})
	data, _ := json.Marshal(evt)
	if !c.trySend(data) {
		log.Printf("dropping error event for slow client")
	}
}
