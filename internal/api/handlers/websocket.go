package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	ws "github.com/gorilla/websocket"
	"github.com/lwang/campus-chat/internal/chat"
	"github.com/lwang/campus-chat/internal/service"
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

type WebSocketHandler struct {
	hub         *chat.Hub
	authService *service.AuthService
}

func NewWebSocketHandler(hub *chat.Hub, authService *service.AuthService) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         hub,
		authService: authService,
	}
}

func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	// Get token from query parameter
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Token required", http.StatusUnauthorized)
		return
	}

	claims, err := h.authService.ValidateToken(token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	userID, ok := (*claims)["sub"].(string)
	if !ok || userID == "" {
		http.Error(w, "Invalid token claims", http.StatusUnauthorized)
		return
	}
	name, _ := (*claims)["name"].(string)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := chat.NewClient(h.hub, conn, chat.UserRef{UserID: userID, Name: name})
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// OnlineHandler exposes the live presence list.
type OnlineHandler struct {
	hub *chat.Hub
}

func NewOnlineHandler(hub *chat.Hub) *OnlineHandler {
	return &OnlineHandler{hub: hub}
}

func (h *OnlineHandler) List(w http.ResponseWriter, r *http.Request) {
	users := h.hub.Online()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}
