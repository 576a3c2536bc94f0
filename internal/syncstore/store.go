package syncstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an operation ID has no matching record.
var ErrNotFound = errors.New("syncstore: operation not found")

// ErrRejectedCoalesce is returned when Enqueue is called against an
// event whose sole PENDING operation is a DELETE — spec §4.6's "any ->
// reject (logical error)" row.
var ErrRejectedCoalesce = errors.New("syncstore: cannot enqueue against a pending delete")

// Store is the pending-operation persistence boundary (spec §4.5). All
// methods must be safe for concurrent use; implementations are expected
// to serialize writes per EventUID so the reconciler's per-UID FIFO
// ordering invariant holds.
type Store interface {
	// Enqueue adds a new operation, coalescing it with any existing
	// PENDING operation for the same (CalendarURL, EventUID) per the
	// coalescing table in spec §4.6. Returns the resulting operation,
	// which may be the merged record rather than a new one.
	Enqueue(ctx context.Context, op PendingOperation) (PendingOperation, error)

	// GetReady returns operations where (Status=PENDING and
	// NextRetryAt<=now) or (Status=FAILED and ShouldRetry and
	// NextRetryAt<=now), sorted ascending by CreatedAt, collapsed to at
	// most one per EventUID (the oldest) so callers get a
	// per-UID-serialized batch to dispatch.
	GetReady(ctx context.Context, now time.Time) ([]PendingOperation, error)

	// GetForCalendar returns every operation queued against calendarURL,
	// regardless of status, ordered by CreatedAt.
	GetForCalendar(ctx context.Context, calendarURL string) ([]PendingOperation, error)

	// GetByEventUID returns every operation queued for eventUID across
	// all calendars, ordered by CreatedAt.
	GetByEventUID(ctx context.Context, eventUID string) ([]PendingOperation, error)

	// Update overwrites an existing operation record in place.
	Update(ctx context.Context, op PendingOperation) error

	// Delete removes an operation record outright — the success path
	// (spec §4.6 step c) has no terminal status, the record is just
	// gone.
	Delete(ctx context.Context, id string) error

	// MarkInProgress transitions an operation to IN_PROGRESS, stamping
	// InProgressSince with leaseStart.
	MarkInProgress(ctx context.Context, id string, leaseStart time.Time) error

	// MarkFailed sets Status=FAILED, ErrorMessage=errMsg, and
	// ShouldRetry. When shouldRetry is true it also atomically
	// increments RetryCount and advances NextRetryAt by
	// policy.ComputeBackoff(new RetryCount) from now (spec §4.5's
	// mark_failed). When shouldRetry is false the operation becomes
	// terminal and GetReady will never return it again.
	MarkFailed(ctx context.Context, id string, errMsg string, shouldRetry bool, policy BackoffPolicy, now time.Time) error

	// Count returns the number of operations in the given status, or
	// every operation if status is -1.
	Count(ctx context.Context, status Status) (int, error)

	// StuckSince returns operations that have been IN_PROGRESS since
	// before the given threshold — a lease presumed abandoned by a
	// crashed worker.
	StuckSince(ctx context.Context, threshold time.Time) ([]PendingOperation, error)
}

// CoalesceAction is the outcome of applying the spec §4.6 coalescing
// table to an incoming mutation against an existing PENDING operation
// for the same event.
type CoalesceAction int

const (
	// ActionNone means existing is not a coalescing candidate (it is
	// IN_PROGRESS/terminal, or there is no existing op); incoming
	// should be enqueued as a brand-new record.
	ActionNone CoalesceAction = iota
	// ActionReplace means existing should be overwritten with the
	// returned record.
	ActionReplace
	// ActionRemove means existing should be deleted outright (the
	// CREATE+DELETE no-op case) with nothing sent to the remote.
	ActionRemove
	// ActionReject means incoming is a logical error (anything queued
	// against an existing DELETE) and must not be enqueued.
	ActionReject
)

// Coalesce applies the spec §4.6 merge table. existing must be the sole
// PENDING operation for the event (the invariant enforced at enqueue
// time); callers should treat an IN_PROGRESS or terminal existing
// record as "no existing op" and pass a zero PendingOperation with
// found=false semantics by checking ActionNone.
func Coalesce(existing, incoming PendingOperation) (PendingOperation, CoalesceAction) {
	nonTerminal := existing.Status == StatusPending ||
		existing.Status == StatusInProgress ||
		(existing.Status == StatusFailed && existing.ShouldRetry)
	if !nonTerminal || existing.Status == StatusInProgress {
		return PendingOperation{}, ActionNone
	}
	switch existing.Kind {
	case KindCreate:
		switch incoming.Kind {
		case KindUpdate:
			existing.Payload = incoming.Payload
			existing.CreatedAt = incoming.CreatedAt
			return existing, ActionReplace
		case KindDelete:
			return existing, ActionRemove
		default:
			existing.Payload = incoming.Payload
			return existing, ActionReplace
		}
	case KindUpdate:
		switch incoming.Kind {
		case KindUpdate:
			existing.Payload = incoming.Payload
			existing.CreatedAt = incoming.CreatedAt
			return existing, ActionReplace
		case KindDelete:
			existing.Kind = KindDelete
			existing.Payload = nil
			existing.CreatedAt = incoming.CreatedAt
			return existing, ActionReplace
		default:
			existing.Payload = incoming.Payload
			return existing, ActionReplace
		}
	default: // KindDelete
		return PendingOperation{}, ActionReject
	}
}
