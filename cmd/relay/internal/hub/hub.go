package hub

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/Jrooker06/ORB-Scanner-Sockets-live/cmd/relay/internal/protocol"
)

// Subscriber is a downstream connection the hub can broadcast to.
type Subscriber interface {
	ID() string
	Send(b []byte) error
	Close()
}

// UpstreamLink is the slice of the connection manager the hub uses. Send
// reports whether the message was actually forwarded (false while the
// upstream is not streaming).
type UpstreamLink interface {
	EnsureConnected()
	Send(raw []byte) bool
}

// Mirror receives a copy of every upstream frame (e.g. a Kafka firehose).
type Mirror interface {
	Publish(raw []byte)
}

// Hub is a pure relay: it registers downstream subscribers, forwards their
// control messages upstream, and broadcasts every upstream frame to all of
// them. It applies no per-subscriber transformation.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool

	link       UpstreamLink
	credential string
	mirror     Mirror // may be nil
	logger     *zap.Logger
}

func NewHub(link UpstreamLink, credential string, mirror Mirror, logger *zap.Logger) *Hub {
	return &Hub{
		subscribers: make(map[Subscriber]bool),
		link:        link,
		credential:  credential,
		mirror:      mirror,
		logger:      logger,
	}
}

// Run consumes upstream frames until the context ends or the channel closes.
// A single dispatcher goroutine keeps broadcast ordering identical to arrival
// ordering.
func (h *Hub) Run(ctx context.Context, frames <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			h.Broadcast(frame)
		}
	}
}

// Attach registers a subscriber and makes sure the upstream connection is
// being established.
func (h *Hub) Attach(sub Subscriber) {
	h.mu.Lock()
	h.subscribers[sub] = true
	count := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Info("Subscriber attached", zap.String("id", sub.ID()), zap.Int("total", count))
	h.link.EnsureConnected()
}

// Detach removes a subscriber and closes it. Safe to call twice.
func (h *Hub) Detach(sub Subscriber) {
	h.mu.Lock()
	_, present := h.subscribers[sub]
	delete(h.subscribers, sub)
	count := len(h.subscribers)
	h.mu.Unlock()

	if present {
		h.logger.Info("Subscriber detached", zap.String("id", sub.ID()), zap.Int("total", count))
		sub.Close()
	}
}

// Broadcast delivers raw to every registered subscriber. One subscriber
// failing never blocks the others; failed subscribers are detached.
func (h *Hub) Broadcast(raw []byte) {
	if h.mirror != nil {
		h.mirror.Publish(raw)
	}

	h.mu.RLock()
	var failed []Subscriber
	for sub := range h.subscribers {
		if err := sub.Send(raw); err != nil {
			failed = append(failed, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range failed {
		h.logger.Warn("Delivery failed, detaching subscriber", zap.String("id", sub.ID()))
		h.Detach(sub)
	}
}

// OnSubscriberMessage relays a downstream control message upstream. Auth
// messages are rewritten to carry the relay's own credential; the client's is
// never trusted or forwarded. Messages are dropped while the upstream is not
// streaming, and unparseable payloads are dropped outright.
func (h *Hub) OnSubscriberMessage(sub Subscriber, raw []byte) {
	msg, ok := protocol.ParseControl(raw)
	if !ok {
		h.logger.Debug("Dropping non-control message from subscriber", zap.String("id", sub.ID()))
		return
	}

	if msg.Action == protocol.ActionAuth {
		rewritten, err := json.Marshal(protocol.AuthMessage(h.credential))
		if err != nil {
			return
		}
		raw = rewritten
	}

	if !h.link.Send(raw) {
		h.logger.Debug("Upstream not streaming, dropping subscriber message",
			zap.String("id", sub.ID()), zap.String("action", msg.Action))
	}
}

// SubscriberCount reports the number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
