package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type gateSink struct {
	gate  chan struct{}
	count atomic.Int64
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
	s.count.Add(1)
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
	d.Close()
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "signin_failure"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events with a blocked sink")
	}

	close(sink.gate)
	d.Close()
	if sink.count.Load() == 0 {
		t.Fatal("expected buffered events to drain on close")
	}
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	defer d.Close()

	d.Emit(context.Background(), Event{EventType: "a"})
	d.Emit(context.Background(), Event{EventType: "b"})

	for _, want := range []string{"a", "b"} {
		select {
		case ev := <-sink.Events():
			if ev.EventType != want {
				t.Fatalf("expected %q, got %q", want, ev.EventType)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestJSONWriterSinkWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{EventType: "otp_issued", Success: true, UserID: "7"})
	sink.Emit(context.Background(), Event{EventType: "otp_failed", UserID: "7"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.EventType != "otp_failed" || ev.UserID != "7" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), Event{EventType: "signin_success", Success: true, TenantID: "acme"})
	sink.Emit(context.Background(), Event{EventType: "signin_failure", Flow: FlowSignIn, Reason: "IncorrectUsernameOrPassword", Metadata: map[string]string{"identifier_kind": "username"}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d", len(lines))
	}

	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatal(err)
	}
	if first["level"] != "INFO" || first["msg"] != "signin_success" || first["tenant_id"] != "acme" {
		t.Fatalf("unexpected first record %v", first)
	}
	if second["level"] != "WARN" || second["reason"] != "IncorrectUsernameOrPassword" || second["identifier_kind"] != "username" || second["component"] != "audit" {
		t.Fatalf("unexpected second record %v", second)
	}
}

func TestDispatcherStampsAndReportsDrops(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	var hook atomic.Int64
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
		OnDrop:     func(Event) { hook.Add(1) },
	}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "reset_requested"})
	}
	if got := uint64(hook.Load()); got != d.Dropped() || got == 0 {
		t.Fatalf("hook saw %d drops, dispatcher counted %d", got, d.Dropped())
	}

	close(sink.gate)
	d.Close()
	d.Close()
	d.Emit(context.Background(), Event{EventType: "after_close"})

	ch := NewChannelSink(1)
	d2 := NewDispatcher(Config{Enabled: true, BufferSize: 1}, ch)
	d2.Emit(context.Background(), Event{EventType: "signin_success"})
	d2.Close()
	ev := <-ch.Events()
	if ev.Timestamp.IsZero() {
		t.Fatal("expected the dispatcher to stamp the event")
	}
}

func TestFlowOf(t *testing.T) {
	cases := map[string]string{
		"signin_failure":       FlowSignIn,
		"otp_bypass":           FlowSignIn,
		"captcha_failed":       FlowSignIn,
		"password_rotated":     FlowSignIn,
		"reset_token_verified": FlowPasswordReset,
		"session_refreshed":    FlowSession,
		"signout_all":          FlowSession,
		"something_else":       FlowOther,
	}
	for eventType, want := range cases {
		if got := FlowOf(eventType); got != want {
			t.Errorf("FlowOf(%q) = %q, want %q", eventType, got, want)
		}
	}
}
