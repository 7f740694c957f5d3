package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yourorg/smartlib/internal/security/middleware"
	"github.com/yourorg/smartlib/internal/service"
)

// ChatRequest represents a question to the library assistant
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse represents the assistant's answer
type ChatResponse struct {
	Response  string `json:"response"`
	MessageID int64  `json:"message_id"`
}

// ChatHandler handles one-shot assistant questions.
type ChatHandler struct {
	chat   *service.ChatService
	logger *slog.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chat *service.ChatService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, logger: logger}
}

// ServeHTTP handles POST /chat requests
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	msg, err := h.chat.Ask(r.Context(), userID, req.Message)
	if err != nil {
		h.logger.Error("chat failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "assistant unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{Response: msg.Response, MessageID: msg.ID})
}

// ChatHistoryHandler returns the user's recent exchanges.
type ChatHistoryHandler struct {
	chat   *service.ChatService
	logger *slog.Logger
}

// NewChatHistoryHandler creates a new chat history handler
func NewChatHistoryHandler(chat *service.ChatService, logger *slog.Logger) *ChatHistoryHandler {
	return &ChatHistoryHandler{chat: chat, logger: logger}
}

type chatMessageDTO struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

// ServeHTTP handles GET /chat/history requests
func (h *ChatHistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	history, err := h.chat.History(r.Context(), userID, intQuery(r, "limit", 50))
	if err != nil {
		h.logger.Error("chat history failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}

	out := make([]chatMessageDTO, len(history))
	for i, m := range history {
		out[i] = chatMessageDTO{ID: m.ID, Message: m.Message, Response: m.Response, CreatedAt: m.CreatedAt}
	}
	writeJSON(w, http.StatusOK, out)
}

// ChatSocketHandler serves an interactive assistant session over a
// websocket: one JSON question in, one JSON answer out, repeated until the
// client hangs up.
type ChatSocketHandler struct {
	chat           *service.ChatService
	logger         *slog.Logger
	allowedOrigins []string
}

// NewChatSocketHandler creates a new websocket chat handler
func NewChatSocketHandler(chat *service.ChatService, allowedOrigins []string, logger *slog.Logger) *ChatSocketHandler {
	return &ChatSocketHandler{
		chat:           chat,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
}

func (h *ChatSocketHandler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range h.allowedOrigins {
				if allowed == "*" || origin == allowed {
					return true
				}
			}
			h.logger.Warn("websocket origin rejected", slog.String("origin", origin))
			return false
		},
	}
}

// ServeHTTP handles GET /ws/chat requests
func (h *ChatSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := h.getUpgrader()
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	h.logger.Debug("chat session opened", slog.Int64("user_id", userID))

	for {
		var req ChatRequest
		if err := ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("chat session closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}
		if req.Message == "" {
			continue
		}

		msg, err := h.chat.Ask(r.Context(), userID, req.Message)
		if err != nil {
			ws.WriteJSON(errorResponse{Error: "assistant unavailable"})
			continue
		}

		ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := ws.WriteJSON(ChatResponse{Response: msg.Response, MessageID: msg.ID}); err != nil {
			return
		}
	}
}
