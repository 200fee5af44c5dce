package audit

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// Flow names group event types in sinks and dashboards.
const (
	FlowSignIn        = "signin"
	FlowPasswordReset = "password_reset"
	FlowSession       = "session"
	FlowOther         = "other"
)

// Event is one security-relevant transition of a credential exchange.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Flow      string    `json:"flow"`
	UserID    string    `json:"user_id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Success   bool      `json:"success"`
	// Reason is the rejection kind or flow-specific reason of a failed
	// transition. It never carries secrets.
	Reason   string            `json:"reason,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// FlowOf derives the flow an event type belongs to.
func FlowOf(eventType string) string {
	switch {
	case strings.HasPrefix(eventType, "reset_"):
		return FlowPasswordReset
	case strings.HasPrefix(eventType, "session_"), strings.HasPrefix(eventType, "signout"):
		return FlowSession
	case strings.HasPrefix(eventType, "signin_"), strings.HasPrefix(eventType, "otp_"),
		strings.HasPrefix(eventType, "captcha_"), eventType == "password_rotated":
		return FlowSignIn
	}
	return FlowOther
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands events to a reader over a buffered channel. Emit blocks
// while the buffer is full unless ctx is done.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan Event, max(buffer, 1))}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line. Write errors are ignored;
// the audit stream never fails a request.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	_ = s.enc.Encode(event)
	s.mu.Unlock()
}
