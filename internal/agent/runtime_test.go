package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/agentforge/platform/internal/apperr"
	"github.com/agentforge/platform/internal/sessions"
	"github.com/agentforge/platform/pkg/models"
)

// scriptedProvider replays one CompletionChunk slice per call to Complete,
// advancing through calls in order; the last script is reused once calls
// run past the end of the slice.
type scriptedProvider struct {
	calls   int
	scripts [][]*CompletionChunk
}

func (p *scriptedProvider) Name() string          { return "scripted" }
func (p *scriptedProvider) Models() []Model        { return nil }
func (p *scriptedProvider) SupportsTools() bool    { return true }
func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	idx := p.calls
	if idx >= len(p.scripts) {
		idx = len(p.scripts) - 1
	}
	p.calls++
	out := make(chan *CompletionChunk, len(p.scripts[idx]))
	for _, c := range p.scripts[idx] {
		out <- c
	}
	close(out)
	return out, nil
}

type erroringProvider struct{}

func (erroringProvider) Name() string       { return "erroring" }
func (erroringProvider) Models() []Model    { return nil }
func (erroringProvider) SupportsTools() bool { return true }
func (erroringProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	return nil, errors.New("connection refused")
}

type stubToolSet struct {
	invoke func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error)
}

func (s *stubToolSet) Tools() []Tool { return nil }
func (s *stubToolSet) Invoke(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
	return s.invoke(ctx, call)
}

type capturingPublisher struct {
	streamChunks   []string
	createdMessages []*models.ChatMessage
}

func (p *capturingPublisher) PublishStreamChunk(ctx context.Context, sessionID, text string) {
	p.streamChunks = append(p.streamChunks, text)
}

func (p *capturingPublisher) PublishMessageCreated(ctx context.Context, sessionID string, msg *models.ChatMessage) {
	p.createdMessages = append(p.createdMessages, msg)
}

func newTestSession(t *testing.T, store sessions.Store) *models.ChatSession {
	t.Helper()
	session, err := store.CreateSession(context.Background(), "user-1", "agent-1", "")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	return session
}

func TestRuntimeProcessTextCompletion(t *testing.T) {
	store := sessions.NewMemoryStore(nil)
	session := newTestSession(t, store)
	publisher := &capturingPublisher{}

	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		{{Text: "Hello"}, {Text: " there"}, {Done: true}},
	}}

	rt := &Runtime{AgentID: "agent-1", Provider: provider, Model: "test-model", Store: store, Publisher: publisher}

	reply, err := rt.Process(context.Background(), session, "hi", nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if reply != "Hello there" {
		t.Fatalf("reply = %q", reply)
	}
	if len(publisher.createdMessages) != 1 || publisher.createdMessages[0].Content.Text != "Hello there" {
		t.Fatalf("unexpected published messages: %+v", publisher.createdMessages)
	}
	if len(publisher.streamChunks) != 2 {
		t.Fatalf("expected 2 stream chunks, got %d", len(publisher.streamChunks))
	}
}

func TestRuntimeProcessToolRoundTrip(t *testing.T) {
	store := sessions.NewMemoryStore(nil)
	session := newTestSession(t, store)
	publisher := &capturingPublisher{}

	call := models.ToolCall{ID: "tc-1", Name: "get_weather", Args: json.RawMessage(`{"city":"SF"}`)}
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		{{ToolCall: &call}, {Done: true}},
		{{Text: "It is sunny."}, {Done: true}},
	}}
	toolSet := &stubToolSet{invoke: func(ctx context.Context, c models.ToolCall) (*models.ToolResult, error) {
		return &models.ToolResult{ToolCallID: c.ID, Content: "sunny, 70F"}, nil
	}}

	rt := &Runtime{AgentID: "agent-1", Provider: provider, Model: "test-model", Store: store, Publisher: publisher, Tools: toolSet}

	reply, err := rt.Process(context.Background(), session, "weather in SF?", nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if reply != "It is sunny." {
		t.Fatalf("reply = %q", reply)
	}

	messages, err := store.GetMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	var sawToolResult bool
	for _, m := range messages {
		if m.Role == models.RoleTool && m.Content.Kind == models.ContentToolResult {
			sawToolResult = true
			if m.Content.Results[0].Content != "sunny, 70F" {
				t.Fatalf("unexpected tool result content: %q", m.Content.Results[0].Content)
			}
		}
	}
	if !sawToolResult {
		t.Fatal("expected a persisted tool-result message")
	}
}

func TestRuntimeProcessToolNotFoundAbsorbed(t *testing.T) {
	store := sessions.NewMemoryStore(nil)
	session := newTestSession(t, store)
	publisher := &capturingPublisher{}

	call := models.ToolCall{ID: "tc-1", Name: "unknown_tool"}
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		{{ToolCall: &call}, {Done: true}},
		{{Text: "Sorry, I could not find that tool."}, {Done: true}},
	}}
	toolSet := &stubToolSet{invoke: func(ctx context.Context, c models.ToolCall) (*models.ToolResult, error) {
		return nil, apperr.New(apperr.ToolNotFound, "no such tool")
	}}

	rt := &Runtime{AgentID: "agent-1", Provider: provider, Model: "test-model", Store: store, Publisher: publisher, Tools: toolSet}

	reply, err := rt.Process(context.Background(), session, "do something", nil)
	if err != nil {
		t.Fatalf("Process() returned error for an absorbed tool failure: %v", err)
	}
	if reply != "Sorry, I could not find that tool." {
		t.Fatalf("reply = %q", reply)
	}
}

func TestRuntimeProcessToolTransientRetriesThenDegrades(t *testing.T) {
	store := sessions.NewMemoryStore(nil)
	session := newTestSession(t, store)
	publisher := &capturingPublisher{}

	call := models.ToolCall{ID: "tc-1", Name: "flaky_tool"}
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		{{ToolCall: &call}, {Done: true}},
		{{Text: "done"}, {Done: true}},
	}}
	attempts := 0
	toolSet := &stubToolSet{invoke: func(ctx context.Context, c models.ToolCall) (*models.ToolResult, error) {
		attempts++
		return nil, apperr.New(apperr.ToolTransientError, "timeout")
	}}

	rt := &Runtime{AgentID: "agent-1", Provider: provider, Model: "test-model", Store: store, Publisher: publisher, Tools: toolSet}

	if _, err := rt.Process(context.Background(), session, "flake out", nil); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if attempts != 1+toolRetryAttempts {
		t.Fatalf("expected %d attempts, got %d", 1+toolRetryAttempts, attempts)
	}
}

func TestRuntimeProcessMaxRoundTripsExceeded(t *testing.T) {
	store := sessions.NewMemoryStore(nil)
	session := newTestSession(t, store)
	publisher := &capturingPublisher{}

	call := models.ToolCall{ID: "tc-1", Name: "loop_tool"}
	script := []*CompletionChunk{{ToolCall: &call}, {Done: true}}
	scripts := make([][]*CompletionChunk, 0, MaxToolRoundTrips+2)
	for i := 0; i < MaxToolRoundTrips+2; i++ {
		scripts = append(scripts, script)
	}
	provider := &scriptedProvider{scripts: scripts}
	toolSet := &stubToolSet{invoke: func(ctx context.Context, c models.ToolCall) (*models.ToolResult, error) {
		return &models.ToolResult{ToolCallID: c.ID, Content: "ok"}, nil
	}}

	rt := &Runtime{AgentID: "agent-1", Provider: provider, Model: "test-model", Store: store, Publisher: publisher, Tools: toolSet}

	reply, err := rt.Process(context.Background(), session, "loop forever", nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if reply != "I was unable to complete this task within the allotted number of tool calls." {
		t.Fatalf("reply = %q", reply)
	}
}

func TestRuntimeProcessModelErrorAbortsTurn(t *testing.T) {
	store := sessions.NewMemoryStore(nil)
	session := newTestSession(t, store)
	publisher := &capturingPublisher{}

	rt := &Runtime{AgentID: "agent-1", Provider: erroringProvider{}, Model: "test-model", Store: store, Publisher: publisher}

	_, err := rt.Process(context.Background(), session, "hello", nil)
	if err == nil {
		t.Fatal("expected an error from a failed model transport")
	}
	if !apperr.Is(err, apperr.ModelError) {
		t.Fatalf("expected ModelError kind, got %v", apperr.KindOf(err))
	}
	if len(publisher.createdMessages) != 1 {
		t.Fatalf("expected one persisted error message, got %d", len(publisher.createdMessages))
	}
	if publisher.createdMessages[0].Content.Text != "An error occurred while generating the response." {
		t.Fatalf("unexpected abort message: %q", publisher.createdMessages[0].Content.Text)
	}
}

// cancelingProvider sends one chunk, signals the test via started, then
// waits for proceed before sending a second chunk. This lets a test cancel
// the context in the window between the two sends so the runtime observes
// the cancellation before processing the second chunk.
type cancelingProvider struct {
	started chan struct{}
	proceed chan struct{}
}

func (p *cancelingProvider) Name() string        { return "canceling" }
func (p *cancelingProvider) Models() []Model     { return nil }
func (p *cancelingProvider) SupportsTools() bool { return true }
func (p *cancelingProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	out := make(chan *CompletionChunk)
	go func() {
		out <- &CompletionChunk{Text: "partial"}
		close(p.started)
		<-p.proceed
		out <- &CompletionChunk{Text: "more"}
		close(out)
	}()
	return out, nil
}

func TestRuntimeProcessCancelledMidStreamWritesNoFinalMessage(t *testing.T) {
	store := sessions.NewMemoryStore(nil)
	session := newTestSession(t, store)
	publisher := &capturingPublisher{}

	provider := &cancelingProvider{started: make(chan struct{}), proceed: make(chan struct{})}
	rt := &Runtime{AgentID: "agent-1", Provider: provider, Model: "test-model", Store: store, Publisher: publisher}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-provider.started
		cancel()
		close(provider.proceed)
	}()

	_, err := rt.Process(ctx, session, "hi", nil)
	if !apperr.Is(err, apperr.Cancelled) {
		t.Fatalf("expected Cancelled kind, got %v", apperr.KindOf(err))
	}
	if len(publisher.createdMessages) != 0 {
		t.Fatalf("expected no final message published on cancel, got %+v", publisher.createdMessages)
	}
	msgs, err := store.GetMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	for _, m := range msgs {
		if m.Role == models.RoleAgent && !m.IsPartial {
			t.Fatalf("expected no non-partial agent message persisted on cancel, found %+v", m)
		}
	}
}

func TestWindowHistoryDropsPartialsBeforeWindowing(t *testing.T) {
	history := make([]*models.ChatMessage, 0, 20)
	for i := 0; i < 8; i++ {
		history = append(history, &models.ChatMessage{
			ID: "real-" + string(rune('a'+i)), Role: models.RoleUser,
			Content: models.TextContent("turn"), IsPartial: false,
		})
	}
	for i := 0; i < 15; i++ {
		history = append(history, &models.ChatMessage{
			ID: "partial", Role: models.RoleAgent,
			Content: models.TextContent("chunk"), IsPartial: true,
		})
	}

	windowed := windowHistory(history)
	for _, m := range windowed {
		if m.IsPartial {
			t.Fatalf("windowHistory must not return partial messages, got %+v", m)
		}
	}
	if len(windowed) != 8 {
		t.Fatalf("expected all 8 non-partial messages to survive windowing, got %d", len(windowed))
	}
}

func TestStripToolUse(t *testing.T) {
	in := "before <tool-use>{\"name\":\"x\"}</tool-use>  after"
	got := stripToolUse(in)
	if got != "before after" {
		t.Fatalf("got %q", got)
	}
}
