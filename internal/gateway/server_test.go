package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentforge/platform/internal/auth"
	"github.com/agentforge/platform/internal/lifecycle"
	"github.com/agentforge/platform/internal/sessions"
	"github.com/agentforge/platform/pkg/models"
)

// newTestServer wires a Server against fresh in-memory stores for the HTTP
// surface tests. Auth is disabled (empty Config), so handlers that still
// require a user in context get one injected directly via requestAs.
func newTestServer(t *testing.T) (*Server, *lifecycle.Manager) {
	t.Helper()
	agentStore := lifecycle.NewMemoryAgentStore()
	mgr := lifecycle.NewManager(agentStore, lifecycle.NewMemoryToolCatalog(), lifecycle.Config{
		DefaultSeed: func() (*models.AgentConfig, error) { return nil, nil },
	})
	// usage is nil: these tests create sessions for agent ids that were
	// never persisted through agentStore, and RecordSessionStart would
	// reject an unknown agent id.
	sessionStore := sessions.NewMemoryStore(nil)
	authService := auth.NewService(auth.Config{})
	return NewServer(mgr, sessionStore, authService, nil, nil), mgr
}

func requestAs(r *http.Request, user *models.User) *http.Request {
	return r.WithContext(auth.WithUser(context.Background(), user))
}

func TestHandleAgentsCreateAndGet(t *testing.T) {
	srv, _ := newTestServer(t)
	user := &models.User{ID: "user-1"}

	body, _ := json.Marshal(map[string]any{
		"name": "assistant", "model_provider": "anthropic",
		"secrets": map[string]string{"anthropic_api_key": "test-key"},
	})
	req := requestAs(httptest.NewRequest(http.MethodPost, "/agents/create", bytes.NewReader(body)), user)
	rec := httptest.NewRecorder()
	srv.handleAgentsCreate(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created models.AgentConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created agent: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a generated agent id")
	}

	getReq := httptest.NewRequest(http.MethodGet, "/agents/"+created.ID, nil)
	getRec := httptest.NewRecorder()
	srv.handleAgentsByID(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d, body = %s", getRec.Code, getRec.Body.String())
	}
}

func TestHandleAgentsGetUnknownReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/agents/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.handleAgentsByID(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleAgentsCreateRejectsNameCollision(t *testing.T) {
	srv, _ := newTestServer(t)
	user := &models.User{ID: "user-1"}
	body, _ := json.Marshal(map[string]any{"name": "dup", "model_provider": "anthropic"})

	for i := 0; i < 2; i++ {
		req := requestAs(httptest.NewRequest(http.MethodPost, "/agents/create", bytes.NewReader(body)), user)
		rec := httptest.NewRecorder()
		srv.handleAgentsCreate(rec, req)
		if i == 1 && rec.Code != http.StatusConflict {
			t.Fatalf("second create status = %d, want 409, body = %s", rec.Code, rec.Body.String())
		}
	}
}

func TestHandleAgentsDeleteRequiresOwningUser(t *testing.T) {
	srv, _ := newTestServer(t)
	owner := &models.User{ID: "owner"}
	body, _ := json.Marshal(map[string]any{
		"name": "assistant", "model_provider": "anthropic",
		"secrets": map[string]string{"anthropic_api_key": "test-key"},
	})
	createReq := requestAs(httptest.NewRequest(http.MethodPost, "/agents/create", bytes.NewReader(body)), owner)
	createRec := httptest.NewRecorder()
	srv.handleAgentsCreate(createRec, createReq)
	var created models.AgentConfig
	json.Unmarshal(createRec.Body.Bytes(), &created)

	intruder := &models.User{ID: "someone-else"}
	delReq := requestAs(httptest.NewRequest(http.MethodDelete, "/agents/"+created.ID, nil), intruder)
	delRec := httptest.NewRecorder()
	srv.handleAgentsByID(delRec, delReq)
	if delRec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", delRec.Code)
	}

	ownReq := requestAs(httptest.NewRequest(http.MethodDelete, "/agents/"+created.ID, nil), owner)
	ownRec := httptest.NewRecorder()
	srv.handleAgentsByID(ownRec, ownReq)
	if ownRec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204, body = %s", ownRec.Code, ownRec.Body.String())
	}
}

func TestHandleChatSessionsCreateAndGetMessages(t *testing.T) {
	srv, _ := newTestServer(t)
	user := &models.User{ID: "user-1"}

	body, _ := json.Marshal(map[string]any{"agent_id": "agent-1"})
	req := requestAs(httptest.NewRequest(http.MethodPost, "/chat/sessions", bytes.NewReader(body)), user)
	rec := httptest.NewRecorder()
	srv.handleChatSessionsCollection(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("create session status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var session models.ChatSession
	json.Unmarshal(rec.Body.Bytes(), &session)

	msgsReq := httptest.NewRequest(http.MethodGet, "/chat/sessions/"+session.ID+"/messages", nil)
	msgsRec := httptest.NewRecorder()
	srv.handleChatSessionsByID(msgsRec, msgsReq)
	if msgsRec.Code != http.StatusOK {
		t.Fatalf("get messages status = %d, body = %s", msgsRec.Code, msgsRec.Body.String())
	}
}

func TestHandleInternalBroadcastRejectsNonLoopback(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"type": "error", "payload": map[string]any{"session_id": "s1"}})
	req := httptest.NewRequest(http.MethodPost, "/internal/broadcast", bytes.NewReader(body))
	req.RemoteAddr = "203.0.113.5:4321"
	rec := httptest.NewRecorder()
	srv.handleInternalBroadcast(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestHandleInternalBroadcastRequiresSessionID(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"type": "error", "payload": map[string]any{}})
	req := httptest.NewRequest(http.MethodPost, "/internal/broadcast", bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:4321"
	rec := httptest.NewRecorder()
	srv.handleInternalBroadcast(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleInternalBroadcastAcceptsLoopback(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"type": "error", "payload": map[string]any{"session_id": "s1"}})
	req := httptest.NewRequest(http.MethodPost, "/internal/broadcast", bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:4321"
	rec := httptest.NewRecorder()
	srv.handleInternalBroadcast(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
}
