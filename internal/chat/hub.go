package chat

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/lwang/campus-chat/internal/domain"
	"github.com/lwang/campus-chat/internal/repository"
)

// Hub owns the set of live connections for the single shared room. All
// presence mutations and message appends are serialized through Run; history
// queries are answered concurrently since they touch neither the registry
// nor the append path.
type Hub struct {
	registry *Registry
	store    repository.MessageRepository

	clients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	join        chan *joinRequest
	sendMessage chan *sendRequest
	getMessages chan *historyRequest
	stop        chan struct{}
	done        chan struct{} // closed when Run() exits
	stopped     bool

	storeTimeout time.Duration
	welcome      string

	mu sync.RWMutex
}

type joinRequest struct {
	client *Client
	userID string
	name   string
}

type sendRequest struct {
	client  *Client
	content string
	user    UserRef
}

type historyRequest struct {
	client *Client
	filter domain.MessageFilter
}

func NewHub(store repository.MessageRepository, storeTimeout time.Duration, welcome string) *Hub {
	return &Hub{
		registry:     NewRegistry(),
		store:        store,
		clients:      make(map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		join:         make(chan *joinRequest),
		sendMessage:  make(chan *sendRequest),
		getMessages:  make(chan *historyRequest),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		storeTimeout: storeTimeout,
		welcome:      welcome,
	}
}

func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			h.stopped = true
			for client := range h.clients {
				client.Close()
			}
			h.clients = make(map[*Client]bool)
			h.registry = NewRegistry()
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if !h.stopped {
				h.clients[client] = true
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.handleDisconnect(client)

		case req := <-h.join:
			h.handleJoin(req)

		case req := <-h.sendMessage:
			h.handleSendMessage(req)

		case req := <-h.getMessages:
			h.handleGetMessages(req)
		}
	}
}

// Stop gracefully shuts down the hub, closing every client's outbound
// queue. It blocks until Run has exited.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	close(h.stop)
	<-h.done
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister safely unregisters a client, handling the case where the hub
// may already be stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) Join(client *Client, userID, name string) {
	select {
	case h.join <- &joinRequest{client: client, userID: userID, name: name}:
	case <-h.done:
	}
}

func (h *Hub) SendMessage(client *Client, content string, user UserRef) {
	select {
	case h.sendMessage <- &sendRequest{client: client, content: content, user: user}:
	case <-h.done:
	}
}

func (h *Hub) GetMessages(client *Client, filter domain.MessageFilter) {
	select {
	case h.getMessages <- &historyRequest{client: client, filter: filter}:
	case <-h.done:
	}
}

// Online reports the current presence list in join order. Safe to call from
// any goroutine.
func (h *Hub) Online() []OnlineUser {
	return h.registry.List()
}

func (h *Hub) handleJoin(req *joinRequest) {
	h.mu.RLock()
	registered := h.clients[req.client]
	h.mu.RUnlock()
	if !registered {
		return
	}

	// A connection holds at most one presence entry; a second join would let
	// Leave strand the other entry as a ghost.
	if req.client.joined {
		req.client.sendError("already joined")
		return
	}

	if req.userID == "" || req.name == "" {
		req.client.sendError("userId and name are required to join")
		return
	}

	req.client.user = &UserRef{UserID: req.userID, Name: req.name}
	req.client.joined = true
	h.registry.Join(req.client, req.userID, req.name)

	joined, _ := NewEvent(EventUserJoined, PresencePayload{User: *req.client.user})
	h.broadcast(joined, req.client)

	list, _ := NewEvent(EventUserListUpdate, h.registry.List())
	h.broadcast(list, nil)

	welcome, _ := NewEvent(EventSystemMessage, SystemMessagePayload{
		Type:    "welcome",
		Message: h.welcome + ", " + req.name,
	})
	h.sendTo(req.client, welcome)

	log.Printf("user %s (%s) joined the room", req.userID, req.name)
}

func (h *Hub) handleSendMessage(req *sendRequest) {
	if !req.client.joined {
		req.client.sendError("join the room before sending messages")
		return
	}
	if req.user.UserID == "" || req.user.Name == "" {
		req.client.sendError(domain.ErrMissingUser.Error())
		return
	}
	if req.content == "" {
		req.client.sendError(domain.ErrEmptyContent.Error())
		return
	}

	msg := &domain.Message{
		AuthorID:   req.user.UserID,
		AuthorName: req.user.Name,
		Content:    req.content,
		Timestamp:  time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
	defer cancel()

	if err := h.store.Append(ctx, msg); err != nil {
		log.Printf("failed to append message from %s: %v", req.user.UserID, err)
		req.client.sendError(domain.ErrStoreUnavailable.Error())
		// The message never made it to the log, so nobody gets to see it.
		return
	}

	evt, _ := NewEvent(EventNewMessage, messagePayload(msg))
	h.broadcast(evt, nil)
}

func (h *Hub) handleGetMessages(req *historyRequest) {
	if !req.client.joined {
		req.client.sendError("join the room before requesting history")
		return
	}

	// Answered off the hub goroutine: queries only read the log and reply
	// to the requester, so they can overlap with appends.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
		defer cancel()

		messages, err := h.store.Query(ctx, req.filter)
		if err != nil {
			log.Printf("history query failed: %v", err)
			req.client.sendError(domain.ErrStoreUnavailable.Error())
			return
		}

		payload := make([]MessagePayload, 0, len(messages))
		for _, m := range messages {
			payload = append(payload, messagePayload(m))
		}

		evt, _ := NewEvent(EventMessageHistory, payload)
		h.sendTo(req.client, evt)
	}()
}

func (h *Hub) handleDisconnect(client *Client) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	client.Close()
	h.mu.Unlock()

	// A connection that never joined leaves no presence trace.
	if !client.joined {
		return
	}

	// Leave is a no-op when a newer join for the same user already replaced
	// this connection's entry; in that case the user is still online and no
	// presence events fire.
	if !h.registry.Leave(client) {
		return
	}

	left, _ := NewEvent(EventUserLeft, PresencePayload{User: *client.user})
	h.broadcast(left, nil)

	list, _ := NewEvent(EventUserListUpdate, h.registry.List())
	h.broadcast(list, nil)

	log.Printf("user %s left the room", client.user.UserID)
}

// sendTo delivers an event to a single client.
func (h *Hub) sendTo(client *Client, evt *Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("failed to marshal %s event: %v", evt.Type, err)
		return
	}
	if !client.trySend(data) {
		log.Printf("dropping %s event for slow client", evt.Type)
	}
}

// broadcast delivers an event to every registered client, optionally
// excluding one. Delivery is per-client fire-and-forget: a slow connection
// loses the event instead of stalling the rest of the room.
func (h *Hub) broadcast(evt *Event, except *Client) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("failed to marshal %s event: %v", evt.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client == except || !client.joined {
			continue
		}
		if !client.trySend(data) {
			log.Printf("dropping %s event for slow client", evt.Type)
		}
	}
}
