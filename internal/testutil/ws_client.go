package testutil

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	gorillaWS "github.com/gorilla/websocket"
	"github.com/lwang/campus-chat/internal/chat"
)

// WSClient is a test websocket client speaking the chat event protocol.
type WSClient struct {
	t      *testing.T
	conn   *gorillaWS.Conn
	events chan *chat.Event
	errors chan error
	done   chan struct{}
	mu     sync.Mutex
}

func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()

	dialer := gorillaWS.DefaultDialer
	dialer.HandshakeTimeout = 5 * time.Second

	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect to websocket: %v", err)
	}

	client := &WSClient{
		t:      t,
		conn:   conn,
		events: make(chan *chat.Event, 100),
		errors: make(chan error, 10),
		done:   make(chan struct{}),
	}

	go client.readPump()

	t.Cleanup(func() {
		client.Close()
	})

	return client
}

// readPump reads events from the WebSocket connection
func (c *WSClient) readPump() {
	defer close(c.events)
	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				select {
				case <-c.done:
					return
				case c.errors <- err:
				}
				return
			}

			var evt chat.Event
			if err := json.Unmarshal(data, &evt); err != nil {
				c.errors <- err
				continue
			}

			select {
			case c.events <- &evt:
			case <-c.done:
				return
			}
		}
	}
}

// Close closes the WebSocket connection gracefully
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
		close(c.done)
		c.conn.WriteMessage(gorillaWS.CloseMessage, gorillaWS.FormatCloseMessage(gorillaWS.CloseNormalClosure, ""))
		c.conn.Close()
	}
}

func (c *WSClient) sendEvent(eventType chat.EventType, payload interface{}) {
	c.t.Helper()

	evt, err := chat.NewEvent(eventType, payload)
	if err != nil {
		c.t.Fatalf("failed to build %s event: %v", eventType, err)
	}

	data, err := json.Marshal(evt)
	if err != nil {
		c.t.Fatalf("failed to marshal event: %v", err)
	}

	c.mu.Lock()
	err = c.conn.WriteMessage(gorillaWS.TextMessage, data)
	c.mu.Unlock()

	if err != nil {
		c.t.Fatalf("failed to send %s event: %v", eventType, err)
	}
}

// Join sends a join event
func (c *WSClient) Join(userID, name string) {
	c.sendEvent(chat.EventJoin, chat.JoinPayload{UserID: userID, Name: name})
}

// SendChat sends a sendMessage event
func (c *WSClient) SendChat(content string, user chat.UserRef) {
	c.sendEvent(chat.EventSendMessage, chat.SendMessagePayload{Content: content, User: user})
}

// GetMessages sends a getMessages event
func (c *WSClient) GetMessages(payload chat.GetMessagesPayload) {
	c.sendEvent(chat.EventGetMessages, payload)
}

// Expect waits for the next event of the given type, skipping others.
func (c *WSClient) Expect(eventType chat.EventType, timeout time.Duration) *chat.Event {
	c.t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-c.events:
			if !ok {
				c.t.Fatalf("connection closed while waiting for %s", eventType)
			}
			if evt.Type == eventType {
				return evt
			}
		case err := <-c.errors:
			c.t.Fatalf("websocket error while waiting for %s: %v", eventType, err)
		case <-deadline:
			c.t.Fatalf("timed out waiting for %s event", eventType)
		}
	}
}

// ExpectNewMessage waits for a newMessage event and decodes its payload
func (c *WSClient) ExpectNewMessage(timeout time.Duration) chat.MessagePayload {
	c.t.Helper()

	evt := c.Expect(chat.EventNewMessage, timeout)
	var payload chat.MessagePayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		c.t.Fatalf("failed to decode newMessage payload: %v", err)
	}
	return payload
}

// ExpectUserList waits for a userListUpdate event and decodes its payload
func (c *WSClient) ExpectUserList(timeout time.Duration) []chat.OnlineUser {
	c.t.Helper()

	evt := c.Expect(chat.EventUserListUpdate, timeout)
	var payload []chat.OnlineUser
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		c.t.Fatalf("failed to decode userListUpdate payload: %v", err)
	}
	return payload
}

// ExpectHistory waits for a messageHistory event and decodes its payload
func (c *WSClient) ExpectHistory(timeout time.Duration) []chat.MessagePayload {
	c.t.Helper()

	evt := c.Expect(chat.EventMessageHistory, timeout)
	var payload []chat.MessagePayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		c.t.Fatalf("failed to decode messageHistory payload: %v", err)
	}
	return payload
}

// ExpectError waits for an error event and returns its message
func (c *WSClient) ExpectError(timeout time.Duration) string {
	c.t.Helper()

	evt := c.Expect(chat.EventError, timeout)
	var payload chat.ErrorPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		c.t.Fatalf("failed to decode error payload: %v", err)
	}
	return payload.Message
}

// ExpectPresence waits for a userJoined or userLeft event and returns the user
func (c *WSClient) ExpectPresence(eventType chat.EventType, timeout time.Duration) chat.UserRef {
	c.t.Helper()

	evt := c.Expect(eventType, timeout)
	var payload chat.PresencePayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		c.t.Fatalf("failed to decode %s payload: %v", eventType, err)
	}
	return payload.User
}

// Drain discards buffered events until the channel is quiet
func (c *WSClient) Drain() {
	for {
		select {
		case <-c.events:
		case <-time.After(100 * time.Millisecond):
			return
		}
	}
}
