package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/liftcoach/internal/types"
)

const (
	wsMaxPayloadBytes = 64 << 10
	wsWriteWait       = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// wsReply is the frame sent back for every chat frame received.
type wsReply struct {
	Type     string `json:"type"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleWS upgrades to a websocket and answers chat frames in order, one
// reply frame per request frame. Frames use the POST /api/chat body.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxPayloadBytes)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read ended", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := s.writeFrame(conn, s.answerFrame(r, data)); err != nil {
			slog.Debug("websocket write failed", "error", err)
			return
		}
	}
}

func (s *Server) answerFrame(r *http.Request, data []byte) wsReply {
	var req chatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return wsReply{Type: "error", Error: "invalid JSON"}
	}
	event, _, msg := chatEvent(r, req)
	if event == nil {
		return wsReply{Type: "error", Error: msg}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.Timeout)
	defer cancel()
	reply, err := s.opts.Asker.Ask(ctx, event)
	if err != nil {
		slog.Error("request failed", "source", "ws", "conversation_key", event.ConversationKey, "error", err)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return wsReply{Type: "error", Error: "timed out"}
		case errors.Is(err, types.ErrForeignConversation):
			return wsReply{Type: "error", Error: errForeignMessage}
		}
		return wsReply{Type: "error", Error: "internal server error"}
	}
	return wsReply{Type: "reply", Response: reply}
}

func (s *Server) writeFrame(conn *websocket.Conn, frame wsReply) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
