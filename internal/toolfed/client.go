package toolfed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// client owns one server connection: discovery, caching, and invocation.
type client struct {
	endpoint ToolServerEndpoint
	logger   *slog.Logger
	tr       transport

	mu    sync.RWMutex
	tools []ToolDef
}

func newClient(ep ToolServerEndpoint, logger *slog.Logger) *client {
	if logger == nil {
		logger = slog.Default()
	}
	return &client{
		endpoint: ep,
		logger:   logger.With("tool_server", ep.ID),
		tr:       newTransport(ep),
	}
}

// discover connects and retrieves the server's catalogue, retrying with
// DiscoveryMaxAttempts attempts and exponential backoff from a 2s base. A
// discovery failure is returned to the caller, which must not let it
// block materialisation of the other servers.
func (c *client) discover(ctx context.Context) error {
	return retryExponential(ctx, DiscoveryMaxAttempts, DiscoveryBaseDelay, func(attempt int) error {
		if err := c.tr.Connect(ctx); err != nil {
			c.logger.Warn("tool server connect failed", "attempt", attempt, "error", err)
			return err
		}
		result, err := c.tr.Call(ctx, "list_tools", nil)
		if err != nil {
			c.logger.Warn("tool server list_tools failed", "attempt", attempt, "error", err)
			return err
		}
		var parsed listToolsResult
		if err := json.Unmarshal(result, &parsed); err != nil {
			return fmt.Errorf("parse list_tools result: %w", err)
		}
		c.mu.Lock()
		c.tools = parsed.Tools
		c.mu.Unlock()
		c.logger.Info("discovered tool server catalogue", "tools", len(parsed.Tools))
		return nil
	})
}

func (c *client) Tools() []ToolDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ToolDef, len(c.tools))
	copy(out, c.tools)
	return out
}

func (c *client) hasTool(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// invoke dispatches name(args) to this server, classifying the outcome:
// unknown names -> ToolNotFound, a JSON-RPC error with an invalid-request,
// method-not-found or invalid-params code -> ToolFatalError (an
// argument/schema problem the server rejected), and every other failure,
// including other JSON-RPC errors -> ToolTransientError.
func (c *client) invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	if !c.hasTool(name) {
		return "", notFoundErr(c.endpoint.ID, name)
	}

	result, err := c.tr.Call(ctx, "invoke", invokeParams{Name: name, Args: args})
	if err != nil {
		var asRPCErr *rpcErr
		if errors.As(err, &asRPCErr) && isArgumentError(asRPCErr.Code) {
			return "", fatalErr(c.endpoint.ID, name, asRPCErr.Message, err)
		}
		return "", transientErr(c.endpoint.ID, name, "tool invocation transport failure", err)
	}

	var value any
	if err := json.Unmarshal(result, &value); err != nil {
		// The server may return a bare string/number rather than a JSON
		// document; fall back to the raw bytes as the tool's text value.
		return string(result), nil
	}
	if s, ok := value.(string); ok {
		return s, nil
	}
	return string(result), nil
}

func (c *client) close() error {
	return c.tr.Close()
}

func isArgumentError(code int) bool {
	switch code {
	case rpcCodeMethodNotFound, rpcCodeInvalidParams, rpcCodeInvalidRequest:
		return true
	default:
		return false
	}
}
