package domain

import "context"

// ExecutionJournal persists the audit trail of fills and finished unwinds.
// Implemented by the postgres store; a no-op implementation is wired when
// persistence is not configured.
type ExecutionJournal interface {
	RecordSlice(ctx context.Context, rec SliceRecord) error
	RecordUnwind(ctx context.Context, report UnwindReport) error
}

// EventBus publishes operator-facing events (slice executions, tender
// decisions, session status) to interested subscribers. Implemented by the
// Redis pub/sub bus and bridged to WebSocket clients by the server hub.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
