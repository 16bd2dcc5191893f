package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists position lifecycle state. Writes are keyed by
// position ID, so concurrent writers to different positions never conflict;
// writers racing on the same symbol rely on the signal-id re-validation
// guard in the execution engine rather than transactional locking.
type PositionStore interface {
	Save(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	GetBySignalID(ctx context.Context, signalID string) (Position, error)
	GetOpenPositions(ctx context.Context) ([]Position, error)
	GetOpenPositionBySymbol(ctx context.Context, symbol string) (Position, error)
	// GetLatestBySymbol returns the newest position record for symbol in
	// any status. Reconciliation uses it to tell an orphan (no record at
	// all) from a reverse orphan (closed record, broker still holding).
	GetLatestBySymbol(ctx context.Context, symbol string) (Position, error)
	CountOpenByClass(ctx context.Context, class AssetClass) (int, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)

	// ListClosedBefore returns closed, not-yet-archived positions whose
	// close time is strictly before the cutoff. MarkArchived stamps rows
	// after the archive upload has been verified.
	ListClosedBefore(ctx context.Context, before time.Time) ([]Position, error)
	MarkArchived(ctx context.Context, ids []string, at time.Time) error
}

// MetricsSink records observability events. It feeds nothing back into
// control flow; implementations swallow and log their own failures.
type MetricsSink interface {
	// RecordRiskBlock logs one risk-gate rejection together with the
	// capital that would have been at risk.
	RecordRiskBlock(ctx context.Context, gate RiskGate, symbol string, capitalAtRisk float64)
	// RecordFailure logs one failed operation and how long it ran.
	RecordFailure(ctx context.Context, operation string, duration time.Duration)
}

// NotificationSink delivers operator-facing messages. Fire-and-forget:
// failures are logged by the caller but never block reconciliation or
// execution.
type NotificationSink interface {
	Notify(ctx context.Context, event, title, message string) error
}

// LockManager provides distributed locks so scheduled passes (reconcile,
// execute) do not overlap across processes.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL, returning an
	// unlock function. Returns ErrLockHeld if another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SignalBus transports trade signals between the external generators and
// the execution engine.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel of raw payloads, closed when ctx ends.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
