// Package webhook serves the HTTP surface: chat over JSON or a websocket,
// named task triggers, conversation and tool views, health and metrics.
package webhook

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/liftcoach/internal/observability"
	"github.com/user/liftcoach/internal/runtime"
	"github.com/user/liftcoach/internal/state"
	"github.com/user/liftcoach/internal/types"
)

// Asker runs an inbound event to completion and returns the final reply.
type Asker interface {
	Ask(ctx context.Context, event *types.InboundEvent) (string, error)
}

// Options wires the server's collaborators. Only Asker is required.
type Options struct {
	Asker         Asker
	Tasks         *state.TaskStore
	Conversations types.ConversationStore
	Registry      *runtime.Registry
	Metrics       *observability.Metrics
	// MetricsHandler serves /metrics; nil uses the default Prometheus gatherer.
	MetricsHandler http.Handler
	// Token, when set, is required as a bearer token on /api and /webhook routes.
	Token string
	// Signer, when set, also admits bearer JWTs. A verified token's subject
	// becomes the chat principal, overriding any user_id in the body.
	Signer *Signer
	// Timeout bounds a single chat or task request. Zero means two minutes.
	Timeout time.Duration
	Now     func() time.Time
}

// Server is the HTTP handler for the API.
type Server struct {
	opts Options
	mux  *http.ServeMux
}

// NewServer creates a Server and registers its routes.
func NewServer(opts Options) *Server {
	if opts.MetricsHandler == nil {
		opts.MetricsHandler = promhttp.Handler()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{opts: opts, mux: http.NewServeMux()}

	s.handle("GET /health", s.handleHealth, false)
	s.mux.Handle("GET /metrics", opts.MetricsHandler)
	s.handle("POST /api/chat", s.handleChat, true)
	s.handle("GET /api/ws", s.handleWS, true)
	s.handle("GET /api/tools", s.handleTools, true)
	s.handle("GET /api/conversations", s.handleConversations, true)
	s.handle("GET /api/conversations/{id}", s.handleConversation, true)
	s.handle("DELETE /api/conversations/{id}", s.handleDeleteConversation, true)
	s.handle("POST /webhook/{task}", s.handleTask, true)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// handle registers fn under pattern, recording metrics by pattern and
// checking the bearer token when protected.
func (s *Server) handle(pattern string, fn http.HandlerFunc, protected bool) {
	label := pattern
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		label = pattern[i+1:]
	}
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if !protected {
			fn(rec, r)
		} else if principal, ok := s.authenticate(r); !ok {
			writeError(rec, http.StatusUnauthorized, "unauthorized")
		} else {
			if principal != nil {
				r = r.WithContext(context.WithValue(r.Context(), principalKey{}, principal))
			}
			fn(rec, r)
		}
		s.opts.Metrics.ObserveHTTP(r.Method, label, rec.status)
	})
}

type principalKey struct{}

func principalFrom(r *http.Request) *types.Principal {
	p, _ := r.Context().Value(principalKey{}).(*types.Principal)
	return p
}

// authenticate admits the request when no credentials are configured, when
// the bearer matches the static token, or when it is a valid signed JWT.
// Only the JWT path yields a principal.
func (s *Server) authenticate(r *http.Request) (*types.Principal, bool) {
	if s.opts.Token == "" && s.opts.Signer == nil {
		return nil, true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || got == "" {
		return nil, false
	}
	if s.opts.Token != "" && subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.Token)) == 1 {
		return nil, true
	}
	if s.opts.Signer != nil {
		p, err := s.opts.Signer.Verify(got)
		if err != nil {
			slog.Debug("jwt rejected", "error", err)
			return nil, false
		}
		return p, true
	}
	return nil, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	ConversationKey string `json:"conversation_key"`
	UserID          string `json:"user_id"`
	UserName        string `json:"user_name"`
	Text            string `json:"text"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	event, status, msg := chatEvent(r, req)
	if event == nil {
		writeError(w, status, msg)
		return
	}
	s.ask(w, r, event)
}

// chatEvent builds the inbound event for a chat request, or returns the
// status and message describing why the request is unusable. Token holders
// are confined to keys under their own http:<sub> namespace.
func chatEvent(r *http.Request, req chatRequest) (*types.InboundEvent, int, string) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, http.StatusBadRequest, "text is required"
	}
	event := &types.InboundEvent{Source: "http", Text: req.Text}
	signed := principalFrom(r)
	if signed != nil {
		event.Principal = signed
		req.UserID = strings.TrimPrefix(signed.ID, "http:")
	} else if req.UserID != "" {
		event.Principal = &types.Principal{ID: "http:" + req.UserID, Name: req.UserName}
	}
	switch {
	case req.ConversationKey != "":
		event.ConversationKey = types.ConversationKey(req.ConversationKey)
	case req.UserID != "":
		event.ConversationKey = types.NewConversationKey("http", req.UserID)
	default:
		return nil, http.StatusBadRequest, "conversation_key or user_id is required"
	}
	if signed != nil && !ownsKey(signed, event.ConversationKey) {
		return nil, http.StatusForbidden, errForeignMessage
	}
	return event, http.StatusOK, ""
}

const errForeignMessage = "conversation belongs to another user"

func ownsKey(p *types.Principal, key types.ConversationKey) bool {
	k := string(key)
	return k == p.ID || strings.HasPrefix(k, p.ID+":")
}

// taskRequest is the optional JSON body for POST /webhook/{task}.
type taskRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	if s.opts.Tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "tasks not configured")
		return
	}
	name := r.PathValue("task")
	task, err := s.opts.Tasks.Get(name)
	if err != nil {
		if errors.Is(err, state.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		slog.Error("load task failed", "task", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !task.Enabled {
		writeError(w, http.StatusForbidden, "task is disabled")
		return
	}

	prompt := task.Prompt
	// Allow body to override the prompt
	var body taskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Prompt != "" {
		prompt = body.Prompt
	}

	event := &types.InboundEvent{
		Source:          "webhook",
		ConversationKey: types.ConversationKey(task.ConversationKey),
		Text:            prompt,
	}
	if s.ask(w, r, event) {
		if err := s.opts.Tasks.MarkRun(name, s.opts.Now()); err != nil {
			slog.Warn("mark task run failed", "task", name, "error", err)
		}
	}
}

// ask runs the event and writes the reply. It reports whether the run
// succeeded.
func (s *Server) ask(w http.ResponseWriter, r *http.Request, event *types.InboundEvent) bool {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.Timeout)
	defer cancel()

	reply, err := s.opts.Asker.Ask(ctx, event)
	if err != nil {
		slog.Error("request failed", "source", event.Source, "conversation_key", event.ConversationKey, "error", err)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, "timed out")
		case errors.Is(err, types.ErrForeignConversation):
			writeError(w, http.StatusForbidden, errForeignMessage)
		default:
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return false
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": reply})
	return true
}

type toolResponse struct {
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Owner             string          `json:"owner"`
	RequiresPrincipal bool            `json:"requires_principal"`
	Schema            json.RawMessage `json:"schema"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.opts.Registry == nil {
		writeError(w, http.StatusServiceUnavailable, "tools not configured")
		return
	}
	all := s.opts.Registry.All()
	out := make([]toolResponse, 0, len(all))
	for _, d := range all {
		out = append(out, toolResponse{
			Name:              d.Name,
			Description:       d.Description,
			Owner:             d.Owner,
			RequiresPrincipal: d.RequiresPrincipal,
			Schema:            d.Schema,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if s.opts.Conversations == nil {
		writeError(w, http.StatusServiceUnavailable, "conversations not configured")
		return
	}
	list, err := s.opts.Conversations.List(r.Context())
	if err != nil {
		slog.Error("list conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if list == nil {
		list = []*types.Conversation{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	if s.opts.Conversations == nil {
		writeError(w, http.StatusServiceUnavailable, "conversations not configured")
		return
	}
	id := types.ConversationID(r.PathValue("id"))
	conv, err := s.opts.Conversations.Get(r.Context(), id)
	if err != nil {
		s.conversationError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if s.opts.Conversations == nil {
		writeError(w, http.StatusServiceUnavailable, "conversations not configured")
		return
	}
	id := types.ConversationID(r.PathValue("id"))
	if err := s.opts.Conversations.Delete(r.Context(), id); err != nil {
		s.conversationError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) conversationError(w http.ResponseWriter, id types.ConversationID, err error) {
	if errors.Is(err, state.ErrConversationNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	slog.Error("conversation lookup failed", "conversation_id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
