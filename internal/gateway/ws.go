package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second // per-frame send deadline
	wsPongWait     = 45 * time.Second
	wsPingPeriod   = (wsPongWait * 8) / 10
	wsSendBuffered = 32
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsSubscriber is the duplex-socket Subscriber backing `GET
// /ws/chat/{session_id}?token=...`. It never reads application frames from
// the client: the socket is a server-push event stream, and the client
// drives the conversation over the HTTP chat-session surface instead. The
// read loop exists only to observe pings/closes so a dead connection is
// detected and unsubscribed promptly.
type wsSubscriber struct {
	conn *websocket.Conn
	send chan []byte

	closedMu sync.Mutex
	closed   bool
}

func newWSSubscriber(conn *websocket.Conn) *wsSubscriber {
	return &wsSubscriber{conn: conn, send: make(chan []byte, wsSendBuffered)}
}

func (s *wsSubscriber) Send(frame []byte) error {
	s.closedMu.Lock()
	if s.closed {
		s.closedMu.Unlock()
		return errors.New("subscriber closed")
	}
	s.closedMu.Unlock()

	select {
	case s.send <- frame:
		return nil
	default:
		return errors.New("subscriber send buffer full")
	}
}

func (s *wsSubscriber) Closed() bool {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	return s.closed
}

func (s *wsSubscriber) markClosed() {
	s.closedMu.Lock()
	if s.closed {
		s.closedMu.Unlock()
		return
	}
	s.closed = true
	s.closedMu.Unlock()
	close(s.send)
}

// writePump owns all writes to conn: outgoing event frames and periodic
// pings. Exiting closes the underlying connection with closeCode.
func (s *wsSubscriber) writePump(ctx context.Context, closeCode int, closeText string) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeCode, closeText),
			time.Now().Add(wsWriteWait))
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only exists to surface pong/close frames to gorilla's internal
// handlers and detect when the peer has gone away.
func (s *wsSubscriber) readPump(onClose func()) {
	defer onClose()
	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// HandleChatWS upgrades `GET /ws/chat/{session_id}?token=...` to a duplex
// socket subscribed to chat-session-{session_id}. The token is a
// short-lived bearer token validated the same way the HTTP surfaces are;
// failure closes with code 1008, an internal error with 1011, a normal
// disconnect with 1000.
func (s *Server) HandleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/chat/")
	sessionID = strings.Trim(sessionID, "/")
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	if s.auth != nil && s.auth.Enabled() {
		token := r.URL.Query().Get("token")
		if _, err := s.auth.ValidateJWT(token); err != nil {
			if _, err := s.auth.ValidateAPIKey(token); err != nil {
				conn, upErr := wsUpgrader.Upgrade(w, r, nil)
				if upErr != nil {
					return
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(1008, "authentication failed"),
					time.Now().Add(wsWriteWait))
				_ = conn.Close()
				return
			}
		}
	}

	if _, err := s.sessions.GetSession(r.Context(), sessionID); err != nil {
		conn, upErr := wsUpgrader.Upgrade(w, r, nil)
		if upErr != nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(1011, "unknown session"),
			time.Now().Add(wsWriteWait))
		_ = conn.Close()
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sub := newWSSubscriber(conn)
	channel := ChannelForSession(sessionID)
	s.broadcaster.Subscribe(sub, channel)

	ctx, cancel := context.WithCancel(context.Background())
	go sub.readPump(func() {
		cancel()
		sub.markClosed()
		s.broadcaster.Unsubscribe(sub)
	})
	sub.writePump(ctx, 1000, "normal closure")
}
