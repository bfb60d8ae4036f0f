package toolfed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// websocketTransport is the duplex transport for tool servers that push
// tool-definition change notifications: a single persistent connection
// multiplexes request/response calls (correlated by JSON-RPC id) with
// unsolicited notification frames.
type websocketTransport struct {
	endpoint ToolServerEndpoint
	conn     *websocket.Conn

	notifications chan rpcNotification
	connected     atomic.Bool

	pendingMu sync.Mutex
	pending   map[string]chan rpcResponse

	writeMu sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
}

func newWebsocketTransport(ep ToolServerEndpoint) *websocketTransport {
	return &websocketTransport{
		endpoint:      ep,
		notifications: make(chan rpcNotification, 32),
		pending:       make(map[string]chan rpcResponse),
		done:          make(chan struct{}),
	}
}

func (t *websocketTransport) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(map[string][]string, len(t.endpoint.Headers))
	for k, v := range t.endpoint.Headers {
		header[k] = []string{v}
	}
	conn, _, err := dialer.DialContext(ctx, t.endpoint.URL, header)
	if err != nil {
		return fmt.Errorf("dial %q: %w", t.endpoint.ID, err)
	}
	t.conn = conn
	t.connected.Store(true)

	t.wg.Add(2)
	go t.readLoop()
	go t.pingLoop()
	return nil
}

func (t *websocketTransport) Close() error {
	if !t.connected.CompareAndSwap(true, false) {
		return nil
	}
	close(t.done)
	err := t.conn.Close()
	t.wg.Wait()
	return err
}

func (t *websocketTransport) Connected() bool { return t.connected.Load() }

func (t *websocketTransport) Notifications() <-chan rpcNotification { return t.notifications }

func (t *websocketTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
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

	replyCh := make(chan rpcResponse, 1)
	t.pendingMu.Lock()
	t.pending[req.ID] = replyCh
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, req.ID)
		t.pendingMu.Unlock()
	}()

	if err := t.writeJSON(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, fmt.Errorf("endpoint %q: connection closed", t.endpoint.ID)
	case resp := <-replyCh:
		if resp.Error != nil {
			return nil, &rpcErr{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil
	}
}

func (t *websocketTransport) writeJSON(v any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return t.conn.WriteJSON(v)
}

func (t *websocketTransport) readLoop() {
	defer t.wg.Done()
	t.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var raw json.RawMessage
		if err := t.conn.ReadJSON(&raw); err != nil {
			t.connected.Store(false)
			return
		}

		var withID struct {
			ID *string `json:"id"`
		}
		_ = json.Unmarshal(raw, &withID)

		if withID.ID != nil {
			var resp rpcResponse
			if err := json.Unmarshal(raw, &resp); err == nil {
				t.pendingMu.Lock()
				ch, ok := t.pending[*withID.ID]
				t.pendingMu.Unlock()
				if ok {
					select {
					case ch <- resp:
					default:
					}
				}
			}
			continue
		}

		var notif rpcNotification
		if err := json.Unmarshal(raw, &notif); err == nil && notif.Method != "" {
			select {
			case t.notifications <- notif:
			default:
			}
		}
	}
}

func (t *websocketTransport) pingLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := t.conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
