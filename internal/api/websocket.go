package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"CertVerify-Chain/internal/agent"
)

// sourceDone 与 sourceError 是 websocket 流中的控制帧。
const (
	sourceDone  = "done"
	sourceError = "error"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// socketMessage 兼容纯文本帧与 {"message": "..."} 形式的 JSON 帧。
type socketMessage struct {
	Message string `json:"message"`
	Thread  string `json:"thread,omitempty"`
}

// handleChatSocket 把每个文本帧当作一条对话消息，逐个推送片段，最后发送 done 帧。
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "Chat agent is not configured")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	defaultThread := r.URL.Query().Get("thread")
	ctx := r.Context()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket closed", slog.Any("error", err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg := parseSocketMessage(data)
		if msg.Thread == "" {
			msg.Thread = defaultThread
		}
		if strings.TrimSpace(msg.Message) == "" {
			if err := conn.WriteJSON(agent.Fragment{Source: sourceError, Text: "Message is required"}); err != nil {
				return
			}
			continue
		}

		for fragment, err := range s.deps.Chat.Stream(ctx, msg.Thread, msg.Message) {
			if err != nil {
				fragment = agent.Fragment{Source: sourceError, Text: errorMessage(err)}
			}
			if err := conn.WriteJSON(fragment); err != nil {
				return
			}
		}
		if err := conn.WriteJSON(agent.Fragment{Source: sourceDone}); err != nil {
			return
		}
	}
}

func parseSocketMessage(data []byte) socketMessage {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var msg socketMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			return msg
		}
	}
	return socketMessage{Message: trimmed}
}
