package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jllopis/ecomentor/pkg/core"
	"github.com/jllopis/ecomentor/pkg/errors"
	"github.com/jllopis/ecomentor/pkg/history"
	"github.com/jllopis/ecomentor/pkg/orchestrator"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// POST /ask
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAsk(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	resp, err := s.engine.Ask(ctx, req, nil)
	if err != nil {
		s.writeAskError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /ask/stream
// Writes one JSON event per line. Invalid input is rejected before the
// stream starts; later failures become an error event.
func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAsk(w, r)
	if !ok {
		return
	}
	if _, err := core.NewQuery(req.Question); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: err.Error()})
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sink := newStreamSink(w)
	if _, err := s.engine.Ask(ctx, req, sink); err != nil {
		if ctx.Err() != nil && r.Context().Err() != nil {
			s.logger.InfoContext(ctx, "stream client disconnected")
			return
		}
		s.logger.WarnContext(ctx, "stream ask failed", "error", err)
		sink.Emit(ctx, core.Event{Type: core.EventError, Data: core.ErrorData{
			Code:    string(errorCode(err)),
			Message: "ask_failed",
		}})
	}
}

// POST /route
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAsk(w, r)
	if !ok {
		return
	}
	d, err := s.engine.Route(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	results, overall := s.health.CheckAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    overall,
		"services":  results,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GET /history?limit=N&role=R
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := s.opts.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "limit must be a positive integer"})
			return
		}
		limit = min(n, s.opts.HistoryLimit)
	}
	filter := history.Filter{Limit: limit}
	if v := r.URL.Query().Get("role"); v != "" {
		role, ok := core.ParseRole(v)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "unknown role"})
			return
		}
		filter.Role = string(role)
	}

	entries, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "history list failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "history_failed"})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (s *Server) decodeAsk(w http.ResponseWriter, r *http.Request) (orchestrator.AskRequest, bool) {
	var req orchestrator.AskRequest
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "invalid JSON body"})
		return req, false
	}
	return req, true
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.opts.RequestTimeout > 0 {
		return context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	}
	return context.WithCancel(r.Context())
}

func (s *Server) writeAskError(w http.ResponseWriter, r *http.Request, err error) {
	switch errorCode(err) {
	case errors.CodeInvalidInput:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: errors.As(err).Message})
	case errors.CodeContextLost:
		if r.Context().Err() != nil {
			return
		}
		fallthrough
	default:
		s.logger.ErrorContext(r.Context(), "ask failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "ask_failed"})
	}
}

func errorCode(err error) errors.ErrorCode {
	if code := errors.CodeOf(err); code != "" {
		return code
	}
	return errors.CodeInternal
}

// streamSink writes events as NDJSON lines and flushes after each one.
type streamSink struct {
	mu  sync.Mutex
	enc *json.Encoder
	rc  *http.ResponseController
}

func newStreamSink(w http.ResponseWriter) *streamSink {
	return &streamSink{enc: json.NewEncoder(w), rc: http.NewResponseController(w)}
}

// Emit implements core.EventSink. Write errors mean the client is gone;
// the request context reports that to the engine.
func (s *streamSink) Emit(_ context.Context, e core.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(e); err != nil {
		return
	}
	_ = s.rc.Flush()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
