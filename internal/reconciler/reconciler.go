// Package reconciler drives the pending-operation store against a
// remote CalDAV adapter (spec component C8): single-flight tick,
// per-event-UID critical section, coalescing-aware ordering, and
// retriable-vs-permanent error classification.
package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/caldavkit/calsync/internal/clock"
	"github.com/caldavkit/calsync/internal/syncstore"
)

// DefaultLeaseTimeout is how long an operation may sit IN_PROGRESS
// before a tick assumes the worker that claimed it crashed mid-apply
// and reclaims it. It should comfortably exceed the slowest expected
// adapter round-trip.
const DefaultLeaseTimeout = 5 * time.Minute

// Reconciler is the long-lived driver described in spec §4.6. It holds
// no goroutine of its own; a caller-supplied ticker invokes Tick.
type Reconciler struct {
	store        syncstore.Store
	adapter      RemoteAdapter
	clock        clock.Clock
	backoff      syncstore.BackoffPolicy
	logger       zerolog.Logger
	leaseTimeout time.Duration

	running  atomic.Bool
	locksMu  sync.Mutex
	uidLocks map[string]*sync.Mutex
}

func New(store syncstore.Store, adapter RemoteAdapter, c clock.Clock, backoff syncstore.BackoffPolicy, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:        store,
		adapter:      adapter,
		clock:        c,
		backoff:      backoff,
		logger:       logger,
		leaseTimeout: DefaultLeaseTimeout,
		uidLocks:     make(map[string]*sync.Mutex),
	}
}

// WithLeaseTimeout overrides the stuck-lease threshold used by
// recoverStuckLeases (default DefaultLeaseTimeout). Tests use a short
// timeout paired with a fake clock to exercise recovery deterministically.
func (r *Reconciler) WithLeaseTimeout(d time.Duration) *Reconciler {
	r.leaseTimeout = d
	return r
}

func (r *Reconciler) lockFor(eventUID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.uidLocks[eventUID]
	if !ok {
		l = &sync.Mutex{}
		r.uidLocks[eventUID] = l
	}
	return l
}

// releaseLock drops the map entry for eventUID once its critical
// section is done, so a long-running process doesn't accumulate one
// mutex per distinct EventUID it has ever seen. Only removes the entry
// if it still points at lock, in case lockFor raced in a fresh mutex
// for the same UID in between.
func (r *Reconciler) releaseLock(eventUID string, lock *sync.Mutex) {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	if r.uidLocks[eventUID] == lock {
		delete(r.uidLocks, eventUID)
	}
}

// Tick runs one reconciliation pass. Overlapping ticks short-circuit:
// if a tick is already running, this call returns immediately without
// error (spec §5's single-flight guarantee).
func (r *Reconciler) Tick(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return nil
	}
	defer r.running.Store(false)

	if err := r.recoverStuckLeases(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("stuck-lease recovery scan failed")
	}

	ops, err := r.store.GetReady(ctx, r.clock.Now())
	if err != nil {
		return &ErrStoreUnavailable{Err: err}
	}

	for _, op := range ops {
		if ctx.Err() != nil {
			r.logger.Info().Msg("tick cancelled between operations")
			break
		}
		if err := r.reconcileOne(ctx, op); err != nil {
			r.logger.Warn().
				Str("op_id", op.ID).
				Str("event_uid", op.EventUID).
				Str("kind", op.Kind.String()).
				Err(err).
				Msg("operation did not complete")
		}
	}
	return nil
}

// recoverStuckLeases resets any operation that has sat IN_PROGRESS
// past leaseTimeout back to PENDING so GetReady surfaces it again
// (spec §4.6/§9: a crash between MarkInProgress and Delete/MarkFailed
// must not orphan the record forever). Resetting clears
// InProgressSince; the op then dispatches exactly like any other
// pending operation, including going through coalescing against
// whatever else is queued for that event.
func (r *Reconciler) recoverStuckLeases(ctx context.Context) error {
	threshold := r.clock.Now().Add(-r.leaseTimeout)
	stuck, err := r.store.StuckSince(ctx, threshold)
	if err != nil {
		return err
	}
	for _, op := range stuck {
		leasedSince := op.InProgressSince
		op.Status = syncstore.StatusPending
		op.InProgressSince = time.Time{}
		if err := r.store.Update(ctx, op); err != nil {
			return err
		}
		r.logger.Warn().
			Str("op_id", op.ID).
			Str("event_uid", op.EventUID).
			Time("in_progress_since", leasedSince).
			Msg("reclaimed an abandoned in-progress lease")
	}
	return nil
}

// reconcileOne applies one operation under its event's critical
// section (spec §4.6 step 2): mark in-progress, invoke the adapter,
// then transition based on the result. An in-flight adapter call is
// always allowed to finish even if ctx is cancelled mid-call, so the
// remote side never sees a half-applied mutation.
func (r *Reconciler) reconcileOne(ctx context.Context, op syncstore.PendingOperation) error {
	ctx = context.WithoutCancel(ctx)
	lock := r.lockFor(op.EventUID)
	lock.Lock()
	defer func() {
		lock.Unlock()
		r.releaseLock(op.EventUID, lock)
	}()

	now := r.clock.Now()
	if err := r.store.MarkInProgress(ctx, op.ID, now); err != nil {
		return err
	}

	err := r.apply(ctx, op)
	if err == nil {
		return r.store.Delete(ctx, op.ID)
	}

	var aerr *AdapterError
	if errors.As(err, &aerr) && aerr.Kind == Conflict {
		err = r.retryAfterConflict(ctx, op)
		if err == nil {
			return r.store.Delete(ctx, op.ID)
		}
		aerr = nil
		errors.As(err, &aerr)
	}

	now = r.clock.Now()
	if aerr != nil && aerr.Kind.Retriable() {
		return r.store.MarkFailed(ctx, op.ID, err.Error(), true, r.backoff, now)
	}
	// ServerRejection, AuthFailure, a second Conflict, or an
	// unclassified (e.g. local serialization) error are all permanent.
	return r.store.MarkFailed(ctx, op.ID, err.Error(), false, r.backoff, now)
}

// retryAfterConflict implements spec §7's "Conflict triggers a
// refresh-then-retry once, then surfaces": pull the remote state once
// to let a future tick re-derive the right mutation, then retry the
// same operation exactly once before giving up.
func (r *Reconciler) retryAfterConflict(ctx context.Context, op syncstore.PendingOperation) error {
	if _, err := r.adapter.Get(ctx, op.CalendarURL); err != nil {
		return err
	}
	return r.apply(ctx, op)
}

func (r *Reconciler) apply(ctx context.Context, op syncstore.PendingOperation) error {
	switch op.Kind {
	case syncstore.KindCreate, syncstore.KindUpdate:
		_, err := r.adapter.Put(ctx, op.CalendarURL, op.EventUID, op.Payload)
		return err
	default: // KindDelete
		return r.adapter.Delete(ctx, op.CalendarURL, op.EventUID, "")
	}
}
