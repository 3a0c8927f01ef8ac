package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lwang/campus-chat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory MessageRepository for hub tests.
type fakeStore struct {
	mu         sync.Mutex
	rows       []*domain.Message
	nextID     int64
	failAppend bool
	failQuery  bool
	queryDelay time.Duration
}

func (s *fakeStore) Append(ctx context.Context, message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAppend {
		return errors.New("connection refused")
	}
	s.nextID++
	message.ID = s.nextID
	stored := *message
	s.rows = append(s.rows, &stored)
	return nil
}

func (s *fakeStore) Query(ctx context.Context, filter domain.MessageFilter) ([]*domain.Message, error) {
	if s.queryDelay > 0 {
		time.Sleep(s.queryDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failQuery {
		return nil, errors.New("connection refused")
	}
	out := make([]*domain.Message, len(s.rows))
	copy(out, s.rows)
	return out, nil
}

func newTestHub(t *testing.T, store *fakeStore) *Hub {
	t.Helper()

	h := NewHub(store, time.Second, "Welcome to the chat room")
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func newTestClient(t *testing.T, h *Hub) *Client {
	t.Helper()

	c := &Client{hub: h, send: make(chan []byte, 256)}
	h.Register(c)
	return c
}

func nextEvent(t *testing.T, c *Client, timeout time.Duration) *Event {
	t.Helper()

	select {
	case data := <-c.send:
		var evt Event
		require.NoError(t, json.Unmarshal(data, &evt))
		return &evt
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for event")
		return nil
	}
}

// expectEvent waits for the next event of the given type, skipping others.
func expectEvent(t *testing.T, c *Client, eventType EventType, timeout time.Duration) *Event {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("timed out waiting for %s event", eventType)
		}
		evt := nextEvent(t, c, remaining)
		if evt.Type == eventType {
			return evt
		}
	}
}

func expectNoEvent(t *testing.T, c *Client, wait time.Duration) {
	t.Helper()

	select {
	case data := <-c.send:
		t.Fatalf("expected no event, got: %s", data)
	case <-time.After(wait):
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func TestHub_JoinSendsWelcomeAndList(t *testing.T) {
	h := newTestHub(t, &fakeStore{})
	c := newTestClient(t, h)

	h.Join(c, "2021001", "张三")

	list := expectEvent(t, c, EventUserListUpdate, time.Second)
	var users []OnlineUser
	require.NoError(t, json.Unmarshal(list.Payload, &users))
	require.Len(t, users, 1)
	assert.Equal(t, "2021001", users[0].UserID)
	assert.True(t, users[0].Online)

	welcome := expectEvent(t, c, EventSystemMessage, time.Second)
	var sys SystemMessagePayload
	require.NoError(t, json.Unmarshal(welcome.Payload, &sys))
	assert.Equal(t, "welcome", sys.Type)
	assert.Contains(t, sys.Message, "张三")
}

func TestHub_JoinNotifiesOthersButNotJoiner(t *testing.T) {
	h := newTestHub(t, &fakeStore{})
	c1 := newTestClient(t, h)
	h.Join(c1, "2021001", "张三")
	drain(c1)

	c2 := newTestClient(t, h)
	h.Join(c2, "2021002", "李四")

	joined := expectEvent(t, c1, EventUserJoined, time.Second)
	var presence PresencePayload
	require.NoError(t, json.Unmarshal(joined.Payload, &presence))
	assert.Equal(t, "2021002", presence.User.UserID)

	// The joiner gets the list update and welcome, but no userJoined for
	// itself.
	expectEvent(t, c2, EventUserListUpdate, time.Second)
	expectEvent(t, c2, EventSystemMessage, time.Second)
	expectNoEvent(t, c2, 100*time.Millisecond)
}

func TestHub_JoinValidatesIdentity(t *testing.T) {
	h := newTestHub(t, &fakeStore{})
	c := newTestClient(t, h)

	h.Join(c, "", "")

	evt := expectEvent(t, c, EventError, time.Second)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Contains(t, payload.Message, "required")
}

func TestHub_BroadcastConsistency(t *testing.T) {
	h := newTestHub(t, &fakeStore{})
	c1 := newTestClient(t, h)
	c2 := newTestClient(t, h)
	h.Join(c1, "2021001", "张三")
	h.Join(c2, "2021002", "李四")
	drain(c1)
	drain(c2)

	u1 := UserRef{UserID: "2021001", Name: "张三"}
	u2 := UserRef{UserID: "2021002", Name: "李四"}
	h.SendMessage(c1, "first", u1)
	h.SendMessage(c2, "second", u2)
	h.SendMessage(c1, "third", u1)

	var got1, got2 []MessagePayload
	for i := 0; i < 3; i++ {
		evt := expectEvent(t, c1, EventNewMessage, time.Second)
		var m MessagePayload
		require.NoError(t, json.Unmarshal(evt.Payload, &m))
		got1 = append(got1, m)

		evt = expectEvent(t, c2, EventNewMessage, time.Second)
		require.NoError(t, json.Unmarshal(evt.Payload, &m))
		got2 = append(got2, m)
	}

	// Both connections observe the same messages in the same order, sender
	// included, with store-assigned ids increasing in append order.
	assert.Equal(t, got1, got2)
	assert.Equal(t, []string{"first", "second", "third"}, []string{got1[0].Content, got1[1].Content, got1[2].Content})
	assert.Less(t, got1[0].ID, got1[1].ID)
	assert.Less(t, got1[1].ID, got1[2].ID)
}

func TestHub_SendMessageScenario(t *testing.T) {
	h := newTestHub(t, &fakeStore{})
	c1 := newTestClient(t, h)
	c2 := newTestClient(t, h)
	h.Join(c1, "2021001", "张三")
	h.Join(c2, "2021002", "李四")
	drain(c1)
	drain(c2)

	h.SendMessage(c1, "hi", UserRef{UserID: "2021001", Name: "张三"})

	for _, c := range []*Client{c1, c2} {
		evt := expectEvent(t, c, EventNewMessage, time.Second)
		var m MessagePayload
		require.NoError(t, json.Unmarshal(evt.Payload, &m))
		assert.Equal(t, "hi", m.Content)
		assert.Equal(t, "2021001", m.User.UserID)
		assert.Positive(t, m.ID)
	}
}

func TestHub_SendMessageValidation(t *testing.T) {
	h := newTestHub(t, &fakeStore{})
	c1 := newTestClient(t, h)
	c2 := newTestClient(t, h)
	h.Join(c1, "2021001", "张三")
	h.Join(c2, "2021002", "李四")
	drain(c1)
	drain(c2)

	// Empty content: error to sender only, no broadcast.
	h.SendMessage(c1, "", UserRef{UserID: "2021001", Name: "张三"})
	expectEvent(t, c1, EventError, time.Second)
	expectNoEvent(t, c2, 100*time.Millisecond)

	// Missing author: same.
	h.SendMessage(c1, "hello", UserRef{})
	expectEvent(t, c1, EventError, time.Second)
	expectNoEvent(t, c2, 100*time.Millisecond)
}

func TestHub_SendBeforeJoinRejected(t *testing.T) {
	h := newTestHub(t, &fakeStore{})
	c := newTestClient(t, h)

	h.SendMessage(c, "hi", UserRef{UserID: "2021001", Name: "张三"})

	evt := expectEvent(t, c, EventError, time.Second)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Contains(t, payload.Message, "join")
}

func TestHub_StoreFailureSuppressesBroadcast(t *testing.T) {
	store := &fakeStore{failAppend: true}
	h := newTestHub(t, store)
	c1 := newTestClient(t, h)
	c2 := newTestClient(t, h)
	h.Join(c1, "2021001", "张三")
	h.Join(c2, "2021002", "李四")
	drain(c1)
	drain(c2)

	h.SendMessage(c1, "hi", UserRef{UserID: "2021001", Name: "张三"})

	evt := expectEvent(t, c1, EventError, time.Second)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Contains(t, payload.Message, "unavailable")

	// Nobody observes a message that was never durably stored.
	expectNoEvent(t, c2, 100*time.Millisecond)
}

func TestHub_HistoryGoesToRequesterOnly(t *testing.T) {
	store := &fakeStore{}
	h := newTestHub(t, store)
	c1 := newTestClient(t, h)
	c2 := newTestClient(t, h)
	h.Join(c1, "2021001", "张三")
	h.Join(c2, "2021002", "李四")
	drain(c1)
	drain(c2)

	h.SendMessage(c1, "hello", UserRef{UserID: "2021001", Name: "张三"})
	drain(c1)
	drain(c2)

	h.GetMessages(c1, domain.MessageFilter{})

	evt := expectEvent(t, c1, EventMessageHistory, time.Second)
	var history []MessagePayload
	require.NoError(t, json.Unmarshal(evt.Payload, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Content)

	expectNoEvent(t, c2, 100*time.Millisecond)
}

func TestHub_DisconnectDuringHistoryQuery(t *testing.T) {
	store := &fakeStore{queryDelay: 150 * time.Millisecond}
	h := newTestHub(t, store)
	c := newTestClient(t, h)
	h.Join(c, "2021001", "张三")
	drain(c)

	// Disconnect while the query is still running: the reply races the
	// closed outbound queue and must be dropped, not crash the hub.
	h.GetMessages(c, domain.MessageFilter{})
	h.Unregister(c)

	time.Sleep(300 * time.Millisecond)

	c2 := newTestClient(t, h)
	h.Join(c2, "2021002", "李四")
	expectEvent(t, c2, EventUserListUpdate, time.Second)
}

func TestHub_SecondJoinOnSameConnectionRejected(t *testing.T) {
	h := newTestHub(t, &fakeStore{})
	c := newTestClient(t, h)
	h.Join(c, "2021001", "张三")
	drain(c)

	h.Join(c, "2021002", "李四")

	evt := expectEvent(t, c, EventError, time.Second)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Contains(t, payload.Message, "already")

	online := h.Online()
	require.Len(t, online, 1)
	assert.Equal(t, "2021001", online[0].UserID)

	// Disconnecting the only connection must leave no ghost entry behind.
	h.Unregister(c)
	assert.Eventually(t, func() bool {
		return len(h.Online()) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_HistoryFailureReportsToRequester(t *testing.T) {
	store := &fakeStore{failQuery: true}
	h := newTestHub(t, store)
	c := newTestClient(t, h)
	h.Join(c, "2021001", "张三")
	drain(c)

	h.GetMessages(c, domain.MessageFilter{LastNDays: 7})

	evt := expectEvent(t, c, EventError, time.Second)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Contains(t, payload.Message, "unavailable")
}

func TestHub_DisconnectBroadcastsUserLeft(t *testing.T) {
	h := newTestHub(t, &fakeStore{})
	c1 := newTestClient(t, h)
	c2 := newTestClient(t, h)
	h.Join(c1, "2021001", "张三")
	h.Join(c2, "2021002", "李四")
	drain(c1)
	drain(c2)

	h.Unregister(c2)

	left := expectEvent(t, c1, EventUserLeft, time.Second)
	var presence PresencePayload
	require.NoError(t, json.Unmarshal(left.Payload, &presence))
	assert.Equal(t, "2021002", presence.User.UserID)

	list := expectEvent(t, c1, EventUserListUpdate, time.Second)
	var users []OnlineUser
	require.NoError(t, json.Unmarshal(list.Payload, &users))
	require.Len(t, users, 1)
	assert.Equal(t, "2021001", users[0].UserID)
}

func TestHub_DisconnectBeforeJoinIsSilent(t *testing.T) {
	h := newTestHub(t, &fakeStore{})
	c1 := newTestClient(t, h)
	h.Join(c1, "2021001", "张三")
	drain(c1)

	ghost := newTestClient(t, h)
	h.Unregister(ghost)

	expectNoEvent(t, c1, 100*time.Millisecond)
	assert.Equal(t, 1, len(h.Online()))
}

func TestHub_SupersededConnectionLeavesSilently(t *testing.T) {
	h := newTestHub(t, &fakeStore{})
	observer := newTestClient(t, h)
	h.Join(observer, "2021009", "观察者")
	drain(observer)

	first := newTestClient(t, h)
	second := newTestClient(t, h)
	h.Join(first, "2021001", "张三")
	h.Join(second, "2021001", "张三")
	drain(observer)
	drain(first)
	drain(second)

	// The first connection's presence entry was replaced by the second
	// join, so its disconnect must not announce the user as gone.
	h.Unregister(first)
	expectNoEvent(t, observer, 100*time.Millisecond)

	online := h.Online()
	require.Len(t, online, 2)
	assert.Equal(t, "2021001", online[1].UserID)
}

func TestHub_OnlineSnapshot(t *testing.T) {
	h := newTestHub(t, &fakeStore{})
	c1 := newTestClient(t, h)
	c2 := newTestClient(t, h)
	h.Join(c1, "2021001", "张三")
	h.Join(c2, "2021002", "李四")
	drain(c1)
	drain(c2)

	online := h.Online()
	require.Len(t, online, 2)
	assert.Equal(t, "2021001", online[0].UserID)
	assert.Equal(t, "2021002", online[1].UserID)
}
