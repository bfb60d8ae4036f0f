package toolfed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// httpTransport is the HTTP+SSE transport: requests are plain POSTs that
// get a synchronous JSON-RPC response, and an independent SSE connection
// carries any unsolicited tool-catalogue-changed notifications the server
// chooses to push.
type httpTransport struct {
	endpoint ToolServerEndpoint
	client   *http.Client

	notifications chan rpcNotification
	connected     atomic.Bool
	stop          chan struct{}
	wg            sync.WaitGroup
}

func newHTTPTransport(ep ToolServerEndpoint) *httpTransport {
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpTransport{
		endpoint:      ep,
		client:        &http.Client{Timeout: timeout},
		notifications: make(chan rpcNotification, 32),
		stop:          make(chan struct{}),
	}
}

func (t *httpTransport) Connect(ctx context.Context) error {
	if t.endpoint.URL == "" {
		return fmt.Errorf("endpoint %q: URL is required", t.endpoint.ID)
	}
	t.connected.Store(true)
	t.wg.Add(1)
	go t.sseLoop(ctx)
	return nil
}

func (t *httpTransport) Close() error {
	if !t.connected.CompareAndSwap(true, false) {
		return nil
	}
	close(t.stop)
	t.wg.Wait()
	return nil
}

func (t *httpTransport) Connected() bool { return t.connected.Load() }

func (t *httpTransport) Notifications() <-chan rpcNotification { return t.notifications }

func (t *httpTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("endpoint %q: not connected", t.endpoint.ID)
	}

	req := rpcRequest{JSONRPC: "2.0", ID: uuid.New().String(), Method: method}
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = encoded
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.endpoint.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, &rpcErr{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}
	return rpcResp.Result, nil
}

// sseLoop maintains a best-effort SSE connection for catalogue-change
// notifications; failures are silently retried since this channel is not
// required for list_tools()/invoke() to function.
func (t *httpTransport) sseLoop(ctx context.Context) {
	defer t.wg.Done()
	sseURL := strings.TrimSuffix(t.endpoint.URL, "/") + "/events"

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		default:
		}

		t.connectSSE(ctx, sseURL)

		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (t *httpTransport) connectSSE(ctx context.Context, sseURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sseURL, nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range t.endpoint.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		default:
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var notif rpcNotification
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &notif); err != nil {
			continue
		}
		if notif.Method == "" {
			continue
		}
		select {
		case t.notifications <- notif:
		default:
		}
	}
}
