package telemetry

import (
	"context"

	"carelink/backend/internal/telemetry/domain"
)

// EventEmitter emits security events (e.g. to OTel Logs). Best-effort;
// callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.SecurityEvent) error
}
