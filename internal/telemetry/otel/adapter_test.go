package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"carelink/backend/internal/telemetry/domain"
)

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if em == nil {
		t.Fatal("NewEventEmitter(nil) returned nil")
	}
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("noop Emit(ctx, nil): %v", err)
	}
	if err := em.Emit(context.Background(), &domain.SecurityEvent{UserID: "u1"}); err != nil {
		t.Errorf("noop Emit(ctx, event): %v", err)
	}
}

func TestEmit_NilEvent_ReturnsNil(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewEventEmitter(provider)
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(ctx, nil): %v", err)
	}
}

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec otellog.Record
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
}

func TestEmit_AttributeAndBodyMapping(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	event := &domain.SecurityEvent{
		UserID:            "u1",
		DeviceSessionID:   "ds1",
		DeviceFingerprint: "fp1",
		EventType:         domain.EventSessionRevoked,
		Source:            "session",
		Detail:            "user_logout",
		CreatedAt:         time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := em.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	rec := cap.rec

	if rec.Body().Empty() {
		t.Error("body should be set when detail is non-empty")
	}
	if got := rec.Body().AsString(); got != "user_logout" {
		t.Errorf("body = %q, want %q", got, event.Detail)
	}
	if !rec.Timestamp().Equal(event.CreatedAt) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), event.CreatedAt)
	}

	attrs := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	want := map[string]string{
		"user_id": "u1", "device_session_id": "ds1", "device_fingerprint": "fp1",
		"event_type": domain.EventSessionRevoked, "source": "session",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %q = %q, want %q", k, attrs[k], v)
		}
	}
}

func TestEmit_EmptyDetail_NoBodySet(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	event := &domain.SecurityEvent{
		UserID:    "u1",
		EventType: domain.EventSessionRefreshed,
		Source:    "session",
	}
	if err := em.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !cap.rec.Body().Empty() {
		t.Error("body should be empty when detail is empty")
	}
}

func TestEmit_ZeroTimestamp_SetsCurrentTime(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	before := time.Now().UTC()
	if err := em.Emit(context.Background(), &domain.SecurityEvent{
		UserID:    "u1",
		EventType: domain.EventActivationRequested,
		Source:    "activation",
	}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	after := time.Now().UTC()
	ts := cap.rec.Timestamp()
	if ts.Before(before) || ts.After(after) {
		t.Errorf("timestamp %v not in [%v, %v]", ts, before, after)
	}
}

func TestEmitAsync_NilEmitterDoesNotPanic(t *testing.T) {
	EmitAsync(nil, context.Background(), &domain.SecurityEvent{UserID: "u1"})
}
