package toolfed

import (
	"context"
	"encoding/json"
)

// transport is the streamed RPC connection to one tool server. Only the
// two methods the core contract needs are exposed: list_tools() and
// invoke(). Notifications()
// surfaces unsolicited tool-catalogue-changed pushes: the websocket
// transport reads them from its connection, the HTTP+SSE transport from
// its best-effort SSE stream.
type transport interface {
	Connect(ctx context.Context) error
	Close() error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notifications() <-chan rpcNotification
	Connected() bool
}

func newTransport(ep ToolServerEndpoint) transport {
	switch ep.Transport {
	case TransportWebsocket:
		return newWebsocketTransport(ep)
	default:
		return newHTTPTransport(ep)
	}
}
