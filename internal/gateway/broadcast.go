// Package gateway implements the platform's external interfaces: the
// HTTP surface for agent and chat-session management, the duplex-socket
// Streaming Broadcaster, and the Telegram/Discord webhook receivers.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/agentforge/platform/internal/observability"
	"github.com/agentforge/platform/pkg/models"
)

// EventType enumerates the Streaming Broadcaster's event vocabulary.
type EventType string

const (
	EventSessionCreated EventType = "session_created"
	EventSessionUpdated EventType = "session_updated"
	EventMessageCreated EventType = "message_created"
	EventLLMStreamChunk EventType = "llm_stream_chunk"
	EventError          EventType = "error"
)

// Event is the frame broadcast to every subscriber of a channel.
type Event struct {
	Type    EventType `json:"type"`
	Channel string    `json:"channel"`
	Data    any       `json:"data"`
}

// ChannelForSession builds the channel name a chat session's subscribers are
// grouped under.
func ChannelForSession(sessionID string) string {
	return "chat-session-" + sessionID
}

// Subscriber is a duplex socket tagged with the user/session it was
// authenticated for. Broadcaster never reaches into socket internals; it
// only calls Send and Close, so any duplex transport can implement this.
type Subscriber interface {
	// Send delivers one already-serialised event frame. Implementations
	// must apply their own per-frame deadline and return an error the
	// Broadcaster can classify as closed-socket vs. other.
	Send(frame []byte) error

	// Closed reports whether the underlying socket is known to be closed
	// already, letting the Broadcaster skip a doomed Send.
	Closed() bool
}

// Broadcaster maintains channel -> subscriber-set. Writes to the
// subscriber map take mu only across the map/slice swap,
// never across subscriber I/O.
type Broadcaster struct {
	mu           sync.RWMutex
	bySubscriber map[Subscriber]map[string]struct{}
	byChannel    map[string]map[Subscriber]struct{}

	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewBroadcaster constructs an empty Broadcaster. A nil logger defaults to
// slog.Default(); metrics may be nil to skip instrumentation.
func NewBroadcaster(logger *slog.Logger, metrics *observability.Metrics) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		bySubscriber: make(map[Subscriber]map[string]struct{}),
		byChannel:    make(map[string]map[Subscriber]struct{}),
		logger:       logger.With("component", "broadcaster"),
		metrics:      metrics,
	}
}

// Subscribe adds sub to channel's subscriber set. Authentication happens
// before Subscribe is called (the caller already validated the short-lived
// bearer token); Subscribe itself never fails.
func (b *Broadcaster) Subscribe(sub Subscriber, channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.byChannel[channel] == nil {
		b.byChannel[channel] = make(map[Subscriber]struct{})
	}
	b.byChannel[channel][sub] = struct{}{}

	if b.bySubscriber[sub] == nil {
		b.bySubscriber[sub] = make(map[string]struct{})
	}
	b.bySubscriber[sub][channel] = struct{}{}

	b.recordChannelSizeLocked(channel)
}

// Unsubscribe removes sub from every channel it appears in.
func (b *Broadcaster) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	channels := b.bySubscriber[sub]
	delete(b.bySubscriber, sub)
	for channel := range channels {
		delete(b.byChannel[channel], sub)
		if len(b.byChannel[channel]) == 0 {
			delete(b.byChannel, channel)
		}
		b.recordChannelSizeLocked(channel)
	}
}

// Broadcast serialises event and sends it to every subscriber of channel, in
// the order Broadcast is called (per-channel ordering). A send that
// fails because the socket is gone removes that subscriber silently; any
// other send error also removes the subscriber, but is logged.
func (b *Broadcaster) Broadcast(channel string, event Event) {
	event.Channel = channel
	frame, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to marshal broadcast event", "channel", channel, "error", err)
		return
	}

	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.byChannel[channel]))
	for sub := range b.byChannel[channel] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var gone []Subscriber
	for _, sub := range subs {
		if sub.Closed() {
			gone = append(gone, sub)
			continue
		}
		if err := sub.Send(frame); err != nil {
			gone = append(gone, sub)
			if !sub.Closed() {
				b.logger.Warn("subscriber send failed", "channel", channel, "error", err)
			}
		}
	}
	for _, sub := range gone {
		b.Unsubscribe(sub)
	}
}

// PublishInternal is the loopback HTTP entry (`POST /internal/broadcast`)
// letting the Agent Runtime emit events without holding a reference to
// the Broadcaster. event must carry a non-empty session_id inside data; the
// channel is derived from it.
func (b *Broadcaster) PublishInternal(ctx context.Context, eventType EventType, data map[string]any) error {
	sessionID, _ := data["session_id"].(string)
	if sessionID == "" {
		return errSessionIDRequired
	}
	b.Broadcast(ChannelForSession(sessionID), Event{Type: eventType, Data: data})
	return nil
}

// PublishStreamChunk implements agent.Publisher: it broadcasts an
// llm_stream_chunk event carrying the partial text delta.
func (b *Broadcaster) PublishStreamChunk(ctx context.Context, sessionID, text string) {
	b.Broadcast(ChannelForSession(sessionID), Event{
		Type: EventLLMStreamChunk,
		Data: map[string]any{"session_id": sessionID, "text": text},
	})
}

// PublishMessageCreated implements agent.Publisher: it broadcasts a
// message_created event carrying the full persisted message body.
func (b *Broadcaster) PublishMessageCreated(ctx context.Context, sessionID string, msg *models.ChatMessage) {
	b.Broadcast(ChannelForSession(sessionID), Event{
		Type: EventMessageCreated,
		Data: map[string]any{"session_id": sessionID, "message": msg},
	})
}

func (b *Broadcaster) recordChannelSizeLocked(channel string) {
	if b.metrics == nil {
		return
	}
	b.metrics.SetSubscriberCount(channel, len(b.byChannel[channel]))
}

type errString string

func (e errString) Error() string { return string(e) }

const errSessionIDRequired = errString("broadcast event requires data.session_id")
