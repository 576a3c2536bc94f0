package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/caldavkit/calsync/internal/syncstore"
)

func TestEnqueueAssignsIDAndDefaultsShouldRetry(t *testing.T) {
	s := New()
	op, err := s.Enqueue(context.Background(), syncstore.PendingOperation{
		CalendarURL: "cal1", EventUID: "uid1", Kind: syncstore.KindCreate,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if op.ID == "" {
		t.Fatal("expected an assigned ID")
	}
	if !op.ShouldRetry {
		t.Fatal("expected ShouldRetry=true on a freshly enqueued op")
	}
}

func TestEnqueueCoalescesWithExistingPending(t *testing.T) {
	s := New()
	ctx := context.Background()
	first, err := s.Enqueue(ctx, syncstore.PendingOperation{
		CalendarURL: "cal1", EventUID: "uid1", Kind: syncstore.KindCreate, Payload: []byte("v1"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := s.Enqueue(ctx, syncstore.PendingOperation{
		CalendarURL: "cal1", EventUID: "uid1", Kind: syncstore.KindUpdate, Payload: []byte("v2"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected coalescing to reuse the existing record ID")
	}
	if string(second.Payload) != "v2" {
		t.Fatalf("expected coalesced payload v2, got %q", second.Payload)
	}

	n, _ := s.Count(ctx, -1)
	if n != 1 {
		t.Fatalf("expected exactly one record after coalescing, got %d", n)
	}
}

func TestEnqueueCoalescesWithPendingEvenWhileAnotherIsInProgress(t *testing.T) {
	s := New()
	ctx := context.Background()

	inFlight, err := s.Enqueue(ctx, syncstore.PendingOperation{
		CalendarURL: "cal1", EventUID: "uid1", Kind: syncstore.KindCreate, Payload: []byte("v1"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.MarkInProgress(ctx, inFlight.ID, time.Now()); err != nil {
		t.Fatalf("MarkInProgress failed: %v", err)
	}

	// Enqueued while inFlight is IN_PROGRESS: must not coalesce against
	// it (Coalesce returns ActionNone for an IN_PROGRESS existing record), so
	// this becomes a second, brand-new pending record.
	pending, err := s.Enqueue(ctx, syncstore.PendingOperation{
		CalendarURL: "cal1", EventUID: "uid1", Kind: syncstore.KindUpdate, Payload: []byte("v2"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending.ID == inFlight.ID {
		t.Fatalf("expected a new record distinct from the in-progress one")
	}

	// A third enqueue must coalesce onto the PENDING record (not the
	// IN_PROGRESS one), regardless of which one the internal map
	// iteration would visit first.
	third, err := s.Enqueue(ctx, syncstore.PendingOperation{
		CalendarURL: "cal1", EventUID: "uid1", Kind: syncstore.KindUpdate, Payload: []byte("v3"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.ID != pending.ID {
		t.Fatalf("expected coalescing onto the PENDING record %q, got %q", pending.ID, third.ID)
	}
	n, _ := s.Count(ctx, -1)
	if n != 2 {
		t.Fatalf("expected exactly 2 records (in-progress original + coalesced pending), got %d", n)
	}
}

func TestEnqueueRejectsAgainstExistingDelete(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Enqueue(ctx, syncstore.PendingOperation{
		CalendarURL: "cal1", EventUID: "uid1", Kind: syncstore.KindDelete,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = s.Enqueue(ctx, syncstore.PendingOperation{
		CalendarURL: "cal1", EventUID: "uid1", Kind: syncstore.KindUpdate,
	})
	if err != syncstore.ErrRejectedCoalesce {
		t.Fatalf("expected ErrRejectedCoalesce, got %v", err)
	}
}

func TestGetReadyCollapsesToOnePerEventUIDAndOrdersByCreatedAt(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	s.data["a"] = syncstore.PendingOperation{ID: "a", EventUID: "uid1", CalendarURL: "cal1", Status: syncstore.StatusPending, CreatedAt: now.Add(2 * time.Second)}
	s.data["b"] = syncstore.PendingOperation{ID: "b", EventUID: "uid1", CalendarURL: "cal1", Status: syncstore.StatusPending, CreatedAt: now.Add(1 * time.Second)}
	s.data["c"] = syncstore.PendingOperation{ID: "c", EventUID: "uid2", CalendarURL: "cal1", Status: syncstore.StatusPending, CreatedAt: now.Add(3 * time.Second)}

	ready, err := s.GetReady(ctx, now.Add(10*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("expected 2 (one per EventUID), got %d: %+v", len(ready), ready)
	}
	if ready[0].ID != "b" {
		t.Fatalf("expected the older uid1 record (b) to win and sort first, got %+v", ready)
	}
}

func TestGetReadyIncludesRetriableFailedPastNextRetryAt(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	s.data["x"] = syncstore.PendingOperation{
		ID: "x", EventUID: "uid1", CalendarURL: "cal1",
		Status: syncstore.StatusFailed, ShouldRetry: true,
		NextRetryAt: now.Add(-time.Second), CreatedAt: now,
	}
	ready, err := s.GetReady(ctx, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ready) != 1 {
		t.Fatalf("expected the retriable failed op to be ready, got %+v", ready)
	}
}

func TestGetReadyExcludesFailedNotYetDue(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	s.data["x"] = syncstore.PendingOperation{
		ID: "x", EventUID: "uid1", CalendarURL: "cal1",
		Status: syncstore.StatusFailed, ShouldRetry: true,
		NextRetryAt: now.Add(time.Hour), CreatedAt: now,
	}
	ready, _ := s.GetReady(ctx, now)
	if len(ready) != 0 {
		t.Fatalf("expected no ready ops before NextRetryAt, got %+v", ready)
	}
}

func TestGetReadyExcludesPermanentlyFailed(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	s.data["x"] = syncstore.PendingOperation{
		ID: "x", EventUID: "uid1", CalendarURL: "cal1",
		Status: syncstore.StatusFailed, ShouldRetry: false, CreatedAt: now,
	}
	ready, _ := s.GetReady(ctx, now)
	if len(ready) != 0 {
		t.Fatalf("expected permanently failed ops to never be ready, got %+v", ready)
	}
}

func TestMarkInProgressThenDeleteOnSuccess(t *testing.T) {
	s := New()
	ctx := context.Background()
	op, err := s.Enqueue(ctx, syncstore.PendingOperation{CalendarURL: "cal1", EventUID: "uid1", Kind: syncstore.KindCreate})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.MarkInProgress(ctx, op.ID, time.Now()); err != nil {
		t.Fatalf("MarkInProgress failed: %v", err)
	}

	if err := s.Delete(ctx, op.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.GetByEventUID(ctx, "uid1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, _ := s.Count(ctx, -1)
	if n != 0 {
		t.Fatalf("expected the store to be empty after a successful delete, got %d records", n)
	}
}

func TestMarkFailedRetriableAdvancesBackoffAndStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	op, err := s.Enqueue(ctx, syncstore.PendingOperation{CalendarURL: "cal1", EventUID: "uid1", Kind: syncstore.KindCreate})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now := time.Now()
	policy := syncstore.DefaultBackoffPolicy()
	if err := s.MarkFailed(ctx, op.ID, "transient network error", true, policy, now); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	got, err := s.GetByEventUID(ctx, "uid1")
	if err != nil || len(got) != 1 {
		t.Fatalf("expected one record, got %+v err=%v", got, err)
	}
	rec := got[0]
	if rec.Status != syncstore.StatusFailed || !rec.ShouldRetry {
		t.Fatalf("expected Status=FAILED, ShouldRetry=true, got %+v", rec)
	}
	if rec.RetryCount != 1 {
		t.Fatalf("expected RetryCount=1, got %d", rec.RetryCount)
	}
	if !rec.NextRetryAt.After(now) {
		t.Fatalf("expected NextRetryAt to be advanced into the future, got %v", rec.NextRetryAt)
	}
}

func TestMarkFailedPermanentDoesNotAdvanceRetryCount(t *testing.T) {
	s := New()
	ctx := context.Background()
	op, err := s.Enqueue(ctx, syncstore.PendingOperation{CalendarURL: "cal1", EventUID: "uid1", Kind: syncstore.KindCreate})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	policy := syncstore.DefaultBackoffPolicy()
	if err := s.MarkFailed(ctx, op.ID, "permanent rejection", false, policy, time.Now()); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	got, _ := s.GetByEventUID(ctx, "uid1")
	if len(got) != 1 {
		t.Fatalf("expected one record, got %+v", got)
	}
	if got[0].ShouldRetry {
		t.Fatalf("expected ShouldRetry=false to stick")
	}
	if got[0].RetryCount != 0 {
		t.Fatalf("expected RetryCount untouched on a permanent failure, got %d", got[0].RetryCount)
	}
}

func TestStuckSinceFindsAbandonedLeases(t *testing.T) {
	s := New()
	ctx := context.Background()
	threshold := time.Now()
	s.data["a"] = syncstore.PendingOperation{ID: "a", Status: syncstore.StatusInProgress, InProgressSince: threshold.Add(-time.Hour)}
	s.data["b"] = syncstore.PendingOperation{ID: "b", Status: syncstore.StatusInProgress, InProgressSince: threshold.Add(time.Hour)}

	stuck, err := s.StuckSince(ctx, threshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != "a" {
		t.Fatalf("expected only the stale lease to be returned, got %+v", stuck)
	}
}

func TestOperationNotFoundErrors(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Delete(ctx, "missing"); err != syncstore.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.MarkInProgress(ctx, "missing", time.Now()); err != syncstore.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Update(ctx, syncstore.PendingOperation{ID: "missing"}); err != syncstore.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
