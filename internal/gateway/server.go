package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentforge/platform/internal/agent"
	"github.com/agentforge/platform/internal/apperr"
	"github.com/agentforge/platform/internal/auth"
	"github.com/agentforge/platform/internal/lifecycle"
	"github.com/agentforge/platform/internal/observability"
	"github.com/agentforge/platform/internal/sessions"
	"github.com/agentforge/platform/pkg/models"
)

var _ agent.Publisher = (*Broadcaster)(nil)

// Server wires the Agent Lifecycle Manager, the Chat Session Store, and the
// Streaming Broadcaster into the HTTP, duplex-socket, and webhook surfaces.
type Server struct {
	lifecycle   *lifecycle.Manager
	sessions    sessions.Store
	broadcaster *Broadcaster
	auth        *auth.Service
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewServer constructs a Server. A nil logger defaults to slog.Default();
// metrics may be nil to skip instrumentation.
func NewServer(mgr *lifecycle.Manager, store sessions.Store, authService *auth.Service, logger *slog.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")
	return &Server{
		lifecycle:   mgr,
		sessions:    store,
		broadcaster: NewBroadcaster(logger, metrics),
		auth:        authService,
		logger:      logger,
		metrics:     metrics,
	}
}

// Broadcaster exposes the Streaming Broadcaster so it can be handed to
// Agent Runtimes as their agent.Publisher.
func (s *Server) Broadcaster() *Broadcaster { return s.broadcaster }

// Mux builds the full ServeMux for this Server: agent management, chat
// sessions, the internal loopback broadcast entry, the duplex chat socket,
// and the platform webhooks, using a hand-routed http.ServeMux with
// prefix matching rather than a router dependency.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	authed := auth.Middleware(s.auth, s.logger)

	mux.Handle("/agents/create", authed(http.HandlerFunc(s.handleAgentsCreate)))
	mux.Handle("/agents/list", authed(http.HandlerFunc(s.handleAgentsList)))
	mux.Handle("/agents/", authed(http.HandlerFunc(s.handleAgentsByID)))

	mux.Handle("/chat/sessions", authed(http.HandlerFunc(s.handleChatSessionsCollection)))
	mux.Handle("/chat/sessions/", authed(http.HandlerFunc(s.handleChatSessionsByID)))

	mux.HandleFunc("/internal/broadcast", s.handleInternalBroadcast)

	mux.HandleFunc("/ws/chat/", s.HandleChatWS)

	mux.HandleFunc("/telegram/webhook", s.handleTelegramWebhook)
	mux.HandleFunc("/discord/receive_message", s.handleDiscordReceiveMessage)

	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// --- agent management ---

func (s *Server) handleAgentsCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeAppError(w, apperr.New(apperr.AuthFailure, "authentication required"))
		return
	}

	var cfg models.AgentConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeAppError(w, apperr.Wrap(apperr.Validation, "invalid request body", err))
		return
	}
	cfg.UserID = user.ID

	running, err := s.lifecycle.Create(r.Context(), &cfg)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, running.Config)
}

func (s *Server) handleAgentsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeAppError(w, apperr.New(apperr.AuthFailure, "authentication required"))
		return
	}

	var configs []models.AgentConfig
	for _, running := range s.lifecycle.List(r.Context()) {
		if running.Config.UserID == user.ID {
			configs = append(configs, running.Config)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": configs})
}

// handleAgentsByID dispatches GET/DELETE /agents/{id} and POST
// /agents/{id}/chat.
func (s *Server) handleAgentsByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/agents/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	if id, ok := strings.CutSuffix(rest, "/chat"); ok {
		s.handleAgentChat(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		running, err := s.lifecycle.Get(r.Context(), rest)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, running.Config)
	case http.MethodDelete:
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			writeAppError(w, apperr.New(apperr.AuthFailure, "authentication required"))
			return
		}
		if err := s.lifecycle.Delete(r.Context(), rest, user.ID); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAgentChat(w http.ResponseWriter, r *http.Request, agentID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeAppError(w, apperr.New(apperr.AuthFailure, "authentication required"))
		return
	}

	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Message) == "" {
		writeAppError(w, apperr.New(apperr.Validation, "message is required"))
		return
	}

	running, err := s.lifecycle.Get(r.Context(), agentID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	session, err := findOrCreateSession(r.Context(), s.sessions, user.ID, agentID)
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.StoreError, "resolve chat session", err))
		return
	}

	rt, err := s.buildRuntime(running)
	if err != nil {
		writeAppError(w, err)
		return
	}
	text, err := rt.Process(r.Context(), session, body.Message, nil)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"response": text})
}

// --- chat sessions ---

func (s *Server) handleChatSessionsCollection(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeAppError(w, apperr.New(apperr.AuthFailure, "authentication required"))
		return
	}

	switch r.Method {
	case http.MethodPost:
		var body struct {
			AgentID string `json:"agent_id"`
			Title   string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.AgentID) == "" {
			writeAppError(w, apperr.New(apperr.Validation, "agent_id is required"))
			return
		}
		session, err := s.sessions.CreateSession(r.Context(), user.ID, body.AgentID, body.Title)
		if err != nil {
			writeAppError(w, apperr.Wrap(apperr.StoreError, "create session", err))
			return
		}
		s.broadcaster.Broadcast(ChannelForSession(session.ID), Event{Type: EventSessionCreated, Data: session})
		writeJSON(w, http.StatusOK, session)

	case http.MethodGet:
		opts := sessions.ListOptions{AgentID: r.URL.Query().Get("agent_id")}
		if r.URL.Query().Get("active_only") == "true" {
			opts.ActiveOnly = true
		}
		list, err := s.sessions.ListSessions(r.Context(), user.ID, opts)
		if err != nil {
			writeAppError(w, apperr.Wrap(apperr.StoreError, "list sessions", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": list})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleChatSessionsByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/chat/sessions/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	if id, ok := strings.CutSuffix(rest, "/messages"); ok {
		s.handleSessionMessages(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		session, err := s.sessions.GetSession(r.Context(), rest)
		if err != nil {
			writeAppError(w, apperr.Wrap(apperr.NotFound, "session not found", err))
			return
		}
		writeJSON(w, http.StatusOK, session)

	case http.MethodPut:
		var body struct {
			Title    *string `json:"title"`
			IsActive *bool   `json:"is_active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeAppError(w, apperr.Wrap(apperr.Validation, "invalid request body", err))
			return
		}
		session, err := s.sessions.UpdateSession(r.Context(), rest, body.Title, body.IsActive)
		if err != nil {
			writeAppError(w, apperr.Wrap(apperr.StoreError, "update session", err))
			return
		}
		s.broadcaster.Broadcast(ChannelForSession(session.ID), Event{Type: EventSessionUpdated, Data: session})
		writeJSON(w, http.StatusOK, session)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request, sessionID string) {
	switch r.Method {
	case http.MethodGet:
		msgs, err := s.sessions.GetMessages(r.Context(), sessionID)
		if err != nil {
			writeAppError(w, apperr.Wrap(apperr.NotFound, "session not found", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})

	case http.MethodPost:
		var body struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Content) == "" {
			writeAppError(w, apperr.New(apperr.Validation, "content is required"))
			return
		}
		session, err := s.sessions.GetSession(r.Context(), sessionID)
		if err != nil {
			writeAppError(w, apperr.Wrap(apperr.NotFound, "session not found", err))
			return
		}
		running, err := s.lifecycle.Get(r.Context(), session.AgentID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		rt, err := s.buildRuntime(running)
		if err != nil {
			writeAppError(w, err)
			return
		}
		text, err := rt.Process(r.Context(), session, body.Content, nil)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"response": text})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- internal loopback ---

func (s *Server) handleInternalBroadcast(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAppError(w, apperr.Wrap(apperr.Validation, "invalid request body", err))
		return
	}
	if body.Payload == nil || body.Payload["session_id"] == nil {
		writeAppError(w, apperr.New(apperr.Validation, "payload.session_id is required"))
		return
	}
	if err := s.broadcaster.PublishInternal(r.Context(), EventType(body.Type), body.Payload); err != nil {
		writeAppError(w, apperr.Wrap(apperr.Validation, "publish internal event", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "published"})
}

func isLoopback(r *http.Request) bool {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}

// --- shared helpers ---

// buildRuntime assembles an agent.Runtime from a materialised RunningAgent.
// ModelClient/ToolSet are stored as `any` on models.RunningAgent so
// pkg/models never imports internal/agent or internal/toolfed; the
// assertions here are the one place that link the two back up.
func (s *Server) buildRuntime(running *models.RunningAgent) (*agent.Runtime, error) {
	provider, ok := running.ModelClient.(agent.LLMProvider)
	if !ok {
		return nil, apperr.New(apperr.ModelError, "running agent has no usable model client")
	}
	toolSet, ok := running.ToolSet.(agent.ToolSet)
	if !ok {
		return nil, apperr.New(apperr.ModelError, "running agent has no usable tool set")
	}
	return &agent.Runtime{
		AgentID:      running.AgentID,
		Provider:     provider,
		Model:        running.Config.ModelName,
		SystemPrompt: running.Config.EffectiveSystemPrompt(),
		MaxTokens:    running.Config.MaxTokens,
		Tools:        toolSet,
		Store:        s.sessions,
		Publisher:    s.broadcaster,
		Logger:       s.logger,
		Metrics:      s.metrics,
	}, nil
}

// findOrCreateSession returns the most recently updated active session for
// (userID, agentID), or creates one if none exists. Webhook adapters and the
// single-shot /agents/{id}/chat surface both need a session to drive a
// Runtime turn but have no session id of their own to work from.
func findOrCreateSession(ctx context.Context, store sessions.Store, userID, agentID string) (*models.ChatSession, error) {
	existing, err := store.ListSessions(ctx, userID, sessions.ListOptions{AgentID: agentID, ActiveOnly: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}
	return store.CreateSession(ctx, userID, agentID, "")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeAppError maps err to its HTTP status via apperr's error-kind
// classification and writes a small JSON error body.
func writeAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	writeJSON(w, status, map[string]any{"error": err.Error(), "kind": kind})
}
