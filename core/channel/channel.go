// Package channel abstracts the publish/subscribe transport carrying fleet
// telemetry. Implementations live in infra/mqtt and infra/nats.
package channel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrClosed is returned when using a source or publisher after Close.
var ErrClosed = errors.New("channel closed")

// Message is one payload received on the channel.
type Message struct {
	// Subject is the MQTT topic or NATS subject the payload arrived on.
	Subject  string
	Payload  []byte
	Received time.Time
}

// Handler consumes messages. It is invoked from the transport's delivery
// goroutine and must not block for long.
type Handler func(Message)

// Source delivers fleet messages to a single handler.
type Source interface {
	// Subscribe registers h and starts delivery. It returns once the
	// subscription request has been issued.
	Subscribe(ctx context.Context, h Handler) error
	Connected() bool
	// Close unsubscribes and disconnects.
	Close() error
}

// Publisher sends payloads to the channel.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Close() error
}

// LastToken returns the last element of a '/' or '.' separated subject.
func LastToken(subject string) string {
	subject = strings.TrimRight(subject, "/.")
	if i := strings.LastIndexAny(subject, "/."); i >= 0 {
		return subject[i+1:]
	}
	return subject
}

// SubjectToken makes s safe to embed as a single subject/topic level.
func SubjectToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '/', '*', '>', '+', '#', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}

// Health tracks connectivity and message freshness of a Source.
type Health struct {
	mu          sync.RWMutex
	connected   bool
	lastMessage time.Time
	staleAfter  time.Duration
	now         func() time.Time
}

// HealthStatus is a point-in-time view of Health.
type HealthStatus struct {
	Connected   bool      `json:"connected"`
	LastMessage time.Time `json:"last_message,omitempty"`
	// Stale is true when disconnected or when no message arrived within the threshold.
	Stale bool `json:"stale"`
}

// NewHealth returns a tracker flagging data as stale after staleAfter
// without messages. A zero staleAfter only tracks connectivity.
func NewHealth(staleAfter time.Duration) *Health {
	return &Health{staleAfter: staleAfter, now: time.Now}
}

func (h *Health) SetConnected(ok bool) {
	h.mu.Lock()
	h.connected = ok
	h.mu.Unlock()
}

func (h *Health) Touch(t time.Time) {
	h.mu.Lock()
	if t.After(h.lastMessage) {
		h.lastMessage = t
	}
	h.mu.Unlock()
}

func (h *Health) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := HealthStatus{Connected: h.connected, LastMessage: h.lastMessage}
	st.Stale = !h.connected
	if h.staleAfter > 0 && !h.lastMessage.IsZero() && h.now().Sub(h.lastMessage) > h.staleAfter {
		st.Stale = true
	}
	return st
}
