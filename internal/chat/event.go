package chat

import (
	"encoding/json"
	"time"

	"github.com/lwang/campus-chat/internal/domain"
)

type EventType string

const (
	// Client to Server
	EventJoin        EventType = "join"
	EventSendMessage EventType = "sendMessage"
	EventGetMessages EventType = "getMessages"

	// Server to Client
	EventSystemMessage  EventType = "systemMessage"
	EventUserJoined     EventType = "userJoined"
	EventUserLeft       EventType = "userLeft"
	EventUserListUpdate EventType = "userListUpdate"
	EventNewMessage     EventType = "newMessage"
	EventMessageHistory EventType = "messageHistory"
	EventError          EventType = "error"
)

type Event struct {
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

func NewEvent(eventType EventType, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		Payload:   payloadBytes,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// UserRef identifies a chat participant on the wire.
type UserRef struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// Client to Server payloads

type JoinPayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type SendMessagePayload struct {
	Content string  `json:"content"`
	User    UserRef `json:"user"`
}

type GetMessagesPayload struct {
	LastNDays int    `json:"lastNDays,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

// Filter converts the wire payload into a store filter. Dates are
// YYYY-MM-DD, interpreted as UTC calendar dates.
func (p GetMessagesPayload) Filter() (domain.MessageFilter, error) {
	filter := domain.MessageFilter{LastNDays: p.LastNDays}

	if p.StartDate != "" {
		start, err := time.ParseInLocation("2006-01-02", p.StartDate, time.UTC)
		if err != nil {
			return domain.MessageFilter{}, err
		}
		filter.StartDate = start
	}
	if p.EndDate != "" {
		end, err := time.ParseInLocation("2006-01-02", p.EndDate, time.UTC)
		if err != nil {
			return domain.MessageFilter{}, err
		}
		filter.EndDate = end
	}
	return filter, nil
}

// Server to Client payloads

type SystemMessagePayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type PresencePayload struct {
	User UserRef `json:"user"`
}

type OnlineUser struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

type MessagePayload struct {
	ID        int64   `json:"id"`
	Content   string  `json:"content"`
	Timestamp string  `json:"timestamp"`
	User      UserRef `json:"user"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func messagePayload(m *domain.Message) MessagePayload {
	return MessagePayload{
		ID:        m.ID,
		Content:   m.Content,
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
		User: UserRef{
			UserID: m.AuthorID,
			Name:   m.AuthorName,
		},
	}
}
