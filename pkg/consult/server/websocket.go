package server

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/randalmurphal/medconsult/pkg/consult"
	"github.com/randalmurphal/medconsult/pkg/consult/stream"
	"github.com/randalmurphal/medconsult/pkg/flowgraph"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 20
)

// WebSocket message types.
const (
	TypeMessage  = "message"
	TypeResume   = "resume"
	TypeFragment = "fragment"
	TypeDone     = "done"
	TypeError    = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// WSRequest is a client frame. Type message carries Text and SkipToAdvice;
// type resume carries Summary.
type WSRequest struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	SkipToAdvice bool   `json:"skip_to_advice,omitempty"`
	Summary      string `json:"summary,omitempty"`
}

// WSResponse is a server frame. Every turn ends with exactly one done or
// error frame.
type WSResponse struct {
	Type          string           `json:"type"`
	Fragment      *stream.Fragment `json:"fragment,omitempty"`
	QuestionCount int              `json:"question_count,omitempty"`
	Error         *ErrorDetail     `json:"error,omitempty"`
}

// handleWebSocket runs turns for one session over a WebSocket. Turns are
// handled one at a time in arrival order.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		s.logger.Warn().Err(err).Str("session_id", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go pingLoop(conn, done)

	ctx := r.Context()
	for {
		// Pongs are only read between turns, so a long turn must not count
		// against the peer.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Str("session_id", id).Msg("websocket read error")
			}
			return
		}

		var req WSRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if !s.writeFrame(conn, errorFrame(ErrCodeInvalidRequest, "invalid message")) {
				return
			}
			continue
		}

		switch req.Type {
		case TypeMessage:
			ok = s.wsTurn(ctx, conn, id, s.engine.Run(ctx, id, req.Text, req.SkipToAdvice))
		case TypeResume:
			ok = s.wsTurn(ctx, conn, id, s.engine.ResumeStream(ctx, id, req.Summary))
		default:
			ok = s.writeFrame(conn, errorFrame(ErrCodeInvalidRequest, "unknown message type"))
		}
		if !ok {
			return
		}
	}
}

// wsTurn relays one turn's fragments and closes it with a done or error
// frame. It reports false once the connection is unusable.
func (s *Server) wsTurn(ctx context.Context, conn *websocket.Conn, id string, events iter.Seq2[flowgraph.Event[consult.Update], error]) bool {
	next, stop := iter.Pull2(events)
	defer stop()

	first, err, ok := next()
	if ok && err != nil {
		status, code, message := classifyTurnError(err)
		if status == 0 {
			return false
		}
		if status == http.StatusInternalServerError {
			s.logger.Error().Err(err).Str("session_id", id).Msg("consultation turn failed")
		}
		return s.writeFrame(conn, errorFrame(code, message))
	}

	fragments := stream.Adapt(resumePull(first, ok, next),
		stream.WithLogger(s.slog),
		stream.WithSessionID(id))
	for f := range fragments {
		if !s.writeFrame(conn, WSResponse{Type: TypeFragment, Fragment: &f}) {
			return false
		}
	}
	return s.writeFrame(conn, WSResponse{
		Type:          TypeDone,
		QuestionCount: s.engine.GetQuestionCount(ctx, id),
	})
}

func (s *Server) writeFrame(conn *websocket.Conn, frame WSResponse) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		s.logger.Debug().Err(err).Msg("websocket write failed")
		return false
	}
	return true
}

func errorFrame(code, message string) WSResponse {
	return WSResponse{Type: TypeError, Error: &ErrorDetail{Code: code, Message: message}}
}

// pingLoop keeps the connection alive until done is closed. WriteControl
// may run concurrently with the reader's writes.
func pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
