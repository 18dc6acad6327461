package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/randalmurphal/medconsult/pkg/consult"
	"github.com/randalmurphal/medconsult/pkg/consult/stream"
	"github.com/randalmurphal/medconsult/pkg/flowgraph"
)

const (
	maxJSONBytes    = 1 << 20
	maxSessionIDLen = 128
)

// CreateSessionResponse is returned by POST /sessions.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Welcome   string `json:"welcome"`
}

// MessageRequest is the body of POST /sessions/{id}/messages.
type MessageRequest struct {
	Text         string `json:"text"`
	SkipToAdvice bool   `json:"skip_to_advice"`
}

// ResumeRequest is the body of POST /sessions/{id}/resume. A blank
// summary keeps the generated one.
type ResumeRequest struct {
	Summary string `json:"summary"`
}

// QuestionCountResponse is returned by GET /sessions/{id}/question-count.
type QuestionCountResponse struct {
	SessionID     string `json:"session_id"`
	QuestionCount int    `json:"question_count"`
}

// ReviewResponse is returned by GET /sessions/{id}/review.
type ReviewResponse struct {
	Pending bool                   `json:"pending"`
	Review  *consult.ReviewRequest `json:"review,omitempty"`
}

// TranscribeResponse is returned by POST /transcribe.
type TranscribeResponse struct {
	Text string `json:"text"`
}

// SynthesizeRequest is the body of POST /synthesize.
type SynthesizeRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusCreated, CreateSessionResponse{
		SessionID: consult.NewSessionID(),
		Welcome:   s.engine.Welcome(),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := s.engine.DeleteSession(r.Context(), id); err != nil {
		s.internalError(w, id, "delete session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req MessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.streamTurn(w, r, id, s.engine.Run(r.Context(), id, req.Text, req.SkipToAdvice))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req ResumeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.streamTurn(w, r, id, s.engine.ResumeStream(r.Context(), id, req.Summary))
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	review, pending, err := s.engine.PendingReview(r.Context(), id)
	if err != nil {
		s.internalError(w, id, "read pending review", err)
		return
	}
	resp := ReviewResponse{Pending: pending}
	if pending {
		resp.Review = &review
	}
	sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQuestionCount(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, QuestionCountResponse{
		SessionID:     id,
		QuestionCount: s.engine.GetQuestionCount(r.Context(), id),
	})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.transcriber == nil {
		sendError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "speech is not configured")
		return
	}
	audio, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxAudioBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(w, http.StatusRequestEntityTooLarge, ErrCodeInvalidRequest, "audio too large")
			return
		}
		sendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "read audio")
		return
	}
	sendJSON(w, http.StatusOK, TranscribeResponse{Text: s.transcriber.Transcribe(r.Context(), audio)})
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if s.synthesizer == nil {
		sendError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "speech is not configured")
		return
	}
	var req SynthesizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	audio := s.synthesizer.Synthesize(r.Context(), req.Text)
	if audio == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", audioContentType(s.audioFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

// streamTurn writes a turn as newline-delimited JSON fragments. A failure
// before the first event is answered with a status code instead, so
// clients can tell a rejected request from a failed turn.
func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, id string, events iter.Seq2[flowgraph.Event[consult.Update], error]) {
	next, stop := iter.Pull2(events)
	defer stop()

	first, err, ok := next()
	if ok && err != nil {
		s.turnError(w, id, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	fragments := stream.Adapt(resumePull(first, ok, next),
		stream.WithLogger(s.slog),
		stream.WithSessionID(id))
	for f := range fragments {
		if err := enc.Encode(f); err != nil {
			return
		}
		_ = rc.Flush()
	}
}

// resumePull re-joins the event already pulled with the rest.
func resumePull(first flowgraph.Event[consult.Update], ok bool, next func() (flowgraph.Event[consult.Update], error, bool)) iter.Seq2[flowgraph.Event[consult.Update], error] {
	return func(yield func(flowgraph.Event[consult.Update], error) bool) {
		if !ok || !yield(first, nil) {
			return
		}
		for {
			ev, err, ok := next()
			if !ok || !yield(ev, err) {
				return
			}
		}
	}
}

func (s *Server) turnError(w http.ResponseWriter, id string, err error) {
	status, code, message := classifyTurnError(err)
	if status == http.StatusInternalServerError {
		s.internalError(w, id, "consultation turn failed", err)
		return
	}
	if status == 0 {
		// Client went away.
		return
	}
	sendError(w, status, code, message)
}

// classifyTurnError maps a turn rejected before its first event to an HTTP
// status. Status 0 means the request context ended.
func classifyTurnError(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, flowgraph.ErrNoPendingInterrupt):
		return http.StatusConflict, ErrCodeNoPendingReview, "session has no summary awaiting review"
	case errors.Is(err, flowgraph.ErrInterruptPending):
		return http.StatusConflict, ErrCodeReviewPending, "session is waiting for the summary review"
	case errors.Is(err, consult.ErrEmptyMessage):
		return http.StatusBadRequest, ErrCodeEmptyMessage, "message is empty"
	case errors.Is(err, context.Canceled):
		return 0, "", ""
	default:
		return http.StatusInternalServerError, ErrCodeInternalError, internalErrorMessage
	}
}

func (s *Server) internalError(w http.ResponseWriter, id, msg string, err error) {
	s.logger.Error().Err(err).Str("session_id", id).Msg(msg)
	sendError(w, http.StatusInternalServerError, ErrCodeInternalError, internalErrorMessage)
}

func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	if id == "" || len(id) > maxSessionIDLen {
		sendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid session id")
		return "", false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes)).Decode(v); err != nil {
		sendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return false
	}
	return true
}

func audioContentType(format string) string {
	switch strings.ToLower(format) {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}
