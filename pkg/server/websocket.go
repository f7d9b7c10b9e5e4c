package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nstogner/expertchat/pkg/domain"
	"github.com/nstogner/expertchat/pkg/model"
)

// requestTimeout bounds the wait for the client's request message.
const requestTimeout = 30 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsSink sends each frame as one text message.
type wsSink struct {
	conn *websocket.Conn
}

func (s wsSink) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush is a no-op: every message is written out whole.
func (wsSink) Flush() error { return nil }

// handleChatWebSocket is handleChat over a WebSocket. The client sends the
// request as its first message; the relay answers with one frame per text
// message and closes with 1000 on completion or 1011 on failure.
func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	personaID := r.PathValue("personaID")

	// Persona errors are answered before the upgrade, as plain HTTP.
	bridge := s.bridgeFor(w, personaID)
	if bridge == nil {
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	ws.SetReadLimit(maxRequestBody)
	ws.SetReadDeadline(time.Now().Add(requestTimeout))
	var req domain.ChatRequest
	if err := ws.ReadJSON(&req); err != nil {
		slog.Warn("WebSocket request read failed", "persona", personaID, "error", err)
		closeWS(ws, websocket.CloseUnsupportedData, "invalid request")
		return
	}
	ws.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader goroutine: a client close or read error cancels the upstream.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	body, err := bridge.Generate(ctx, model.Translate(req.History))
	if err != nil {
		slog.Error("Error connecting to backend", "persona", personaID, "backend", bridge.Name(), "error", err)
		closeWS(ws, websocket.CloseInternalServerErr, msgBackendError)
		return
	}
	defer body.Close()

	stats, err := s.relay.Pump(ctx, wsSink{conn: ws}, body)
	switch {
	case err == nil:
		slog.Debug("Relay stream complete", "persona", personaID, "frames", stats.Frames)
		closeWS(ws, websocket.CloseNormalClosure, "")
	case errors.Is(err, context.Canceled):
		slog.Info("Client went away", "persona", personaID, "frames", stats.Frames)
	default:
		slog.Warn("Relay stream failed", "persona", personaID, "frames", stats.Frames, "error", err)
		closeWS(ws, websocket.CloseInternalServerErr, "upstream stream error")
	}
}

func closeWS(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		slog.Debug("WebSocket close failed", "error", err)
	}
}
