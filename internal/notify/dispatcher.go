// Package notify hands booking and queue transitions to the external
// notification pipeline (SMS/email/push). Dispatch is fire-and-forget: a
// failed hand-off is logged and never rolls back the transition that caused
// it.
package notify

import (
	"context"
	"log"
)

// Dispatcher delivers a named event with its payload to the notification
// pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, event string, payload map[string]any)
}

// LogDispatcher writes events to the process log. Used in dev and as the
// fallback when no broker is configured.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, event string, payload map[string]any) {
	log.Printf("notify event=%s payload=%v", event, payload)
}
