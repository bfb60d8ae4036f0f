package toolfed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/agentforge/platform/internal/agent"
	"github.com/agentforge/platform/internal/apperr"
	"github.com/agentforge/platform/pkg/models"
)

// Federation implements agent.ToolSet over N remote tool servers, merging
// their catalogues into one callable name space. It is built fresh per
// RunningAgent at materialisation time by the Lifecycle Manager.
type Federation struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients []*client
	byName  map[string]*boundTool
}

// boundTool pairs a remote tool definition with the client that serves it
// and the credential wrapper (if any) applied to its invocations.
type boundTool struct {
	def     ToolDef
	client  *client
	wrapper credentialWrapper
}

// New builds a Federation and discovers every endpoint concurrently. A
// discovery failure on one server never prevents the others from loading;
// the agent proceeds with whatever subset came up live.
// wrappers maps a tool name to the credential-injection wrapper applied to
// its arguments before dispatch (see credentials.go); tools absent from the
// map are invoked unwrapped.
func New(ctx context.Context, endpoints []ToolServerEndpoint, wrappers map[string]credentialWrapper, logger *slog.Logger) *Federation {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Federation{
		logger: logger.With("component", "toolfed"),
		byName: make(map[string]*boundTool),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, ep := range endpoints {
		ep := ep
		c := newClient(ep, f.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.discover(ctx); err != nil {
				f.logger.Error("tool server discovery failed, skipping", "server", ep.ID, "error", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			f.clients = append(f.clients, c)
			for _, def := range c.Tools() {
				f.byName[def.Name] = &boundTool{def: def, client: c, wrapper: wrappers[def.Name]}
			}
		}()
	}
	wg.Wait()
	return f
}

// Tools lists the merged catalogue for advertisement to the model, with
// each credential-injection wrapper's parameters stripped from the
// advertised schema, preserving the tool's declared name, description,
// and argument schema minus the injected parameters.
func (f *Federation) Tools() []agent.Tool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]agent.Tool, 0, len(f.byName))
	for _, bt := range f.byName {
		out = append(out, &remoteTool{bound: bt})
	}
	return out
}

// Invoke resolves call.Name against the merged catalogue and dispatches it,
// applying the bound credential wrapper (if any) to the arguments first.
// Errors are always *apperr.Error so the Runtime's classifyToolInvokeErr
// sees a concrete Kind without needing to know about this package.
func (f *Federation) Invoke(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
	f.mu.RLock()
	bt, ok := f.byName[call.Name]
	f.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.ToolNotFound, "tool \""+call.Name+"\" not found")
	}

	args := call.Args
	if bt.wrapper != nil {
		injected, err := bt.wrapper.inject(args)
		if err != nil {
			return nil, apperr.Wrap(apperr.ToolFatalError, "credential injection failed", err)
		}
		args = injected
	}

	content, err := bt.client.invoke(ctx, call.Name, args)
	if err != nil {
		var tfErr *Error
		if errors.As(err, &tfErr) {
			return nil, apperr.Wrap(tfErr.Kind, tfErr.Message, tfErr)
		}
		return nil, apperr.Wrap(apperr.ToolFatalError, "tool invocation failed", err)
	}

	return &models.ToolResult{ToolCallID: call.ID, Content: content}, nil
}

// ApplyWrappers binds credential wrappers to already-discovered tools by
// name, overwriting any wrapper bound at construction time. The Lifecycle
// Manager uses this once it has resolved a Discord bot id (which itself
// requires a live Federation to call register_discord_bot on) so wrapping
// never requires a second discovery round.
func (f *Federation) ApplyWrappers(wrappers map[string]credentialWrapper) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, w := range wrappers {
		if bt, ok := f.byName[name]; ok {
			bt.wrapper = w
		}
	}
}

// Close disconnects every live server connection.
func (f *Federation) Close() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, c := range f.clients {
		if err := c.close(); err != nil {
			f.logger.Warn("tool server close failed", "error", err)
		}
	}
}

// remoteTool adapts a boundTool to agent.Tool so it can be advertised to
// an LLMProvider directly; its Execute is never called by the Runtime
// (which goes through Federation.Invoke instead) but satisfies the
// interface for callers that use a single Tool outside the Runtime loop.
type remoteTool struct {
	bound *boundTool
}

func (t *remoteTool) Name() string        { return t.bound.def.Name }
func (t *remoteTool) Description() string { return t.bound.def.Description }

func (t *remoteTool) Schema() json.RawMessage {
	if t.bound.wrapper == nil {
		return t.bound.def.ArgSchema
	}
	return t.bound.wrapper.strippedSchema(t.bound.def.ArgSchema)
}

func (t *remoteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	args := params
	if t.bound.wrapper != nil {
		injected, err := t.bound.wrapper.inject(params)
		if err != nil {
			return nil, err
		}
		args = injected
	}
	content, err := t.bound.client.invoke(ctx, t.bound.def.Name, args)
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{Content: content}, nil
}
