package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/lwang/campus-chat/internal/domain"
	"github.com/lwang/campus-chat/internal/repository"
)

// MessagesHandler serves the synchronous history query: same filter
// semantics and cap as the websocket getMessages event, but over plain HTTP.
type MessagesHandler struct {
	messageRepo repository.MessageRepository
}

func NewMessagesHandler(messageRepo repository.MessageRepository) *MessagesHandler {
	return &MessagesHandler{messageRepo: messageRepo}
}

func (h *MessagesHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	messages, err := h.messageRepo.Query(r.Context(), filter)
	if err != nil {
		http.Error(w, "Failed to query messages", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"messages": messages,
		"count":    len(messages),
	})
}

func parseFilter(r *http.Request) (domain.MessageFilter, error) {
	var filter domain.MessageFilter

	if v := r.URL.Query().Get("lastNDays"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 0 {
			return filter, errors.New("lastNDays must be a non-negative integer")
		}
		filter.LastNDays = days
	}

	if v := r.URL.Query().Get("startDate"); v != "" {
		start, err := time.ParseInLocation("2006-01-02", v, time.UTC)
		if err != nil {
			return filter, errors.New("startDate must be YYYY-MM-DD")
		}
		filter.StartDate = start
	}

	if v := r.URL.Query().Get("endDate"); v != "" {
		end, err := time.ParseInLocation("2006-01-02", v, time.UTC)
		if err != nil {
			return filter, errors.New("endDate must be YYYY-MM-DD")
		}
		filter.EndDate = end
	}

	return filter, nil
}
