// Package memstore is the in-memory reference Store implementation
// (spec §4.5), grounded on the corpus's generic mutex-guarded cache.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caldavkit/calsync/internal/syncstore"
)

type Store struct {
	mu   sync.Mutex
	data map[string]syncstore.PendingOperation
}

func New() *Store {
	return &Store{data: make(map[string]syncstore.PendingOperation)}
}

func (s *Store) Enqueue(ctx context.Context, op syncstore.PendingOperation) (syncstore.PendingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existingID string
	var existing syncstore.PendingOperation
	var found bool
	// IN_PROGRESS rows are deliberately excluded from the candidate
	// search: Coalesce always returns ActionNone against an IN_PROGRESS
	// existing record, so picking one here would only race against a
	// genuinely coalescable PENDING/FAILED row for the same event —
	// map iteration order is randomized, so which one "wins" would be
	// unspecified.
	for id, rec := range s.data {
		if rec.CalendarURL != op.CalendarURL || rec.EventUID != op.EventUID {
			continue
		}
		coalescable := rec.Status == syncstore.StatusPending ||
			(rec.Status == syncstore.StatusFailed && rec.ShouldRetry)
		if coalescable {
			existingID, existing, found = id, rec, true
			break
		}
	}

	if found {
		merged, action := syncstore.Coalesce(existing, op)
		switch action {
		case syncstore.ActionReplace:
			s.data[existingID] = merged
			return merged, nil
		case syncstore.ActionRemove:
			delete(s.data, existingID)
			return syncstore.PendingOperation{}, nil
		case syncstore.ActionReject:
			return syncstore.PendingOperation{}, syncstore.ErrRejectedCoalesce
		}
	}

	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	op.ShouldRetry = true
	s.data[op.ID] = op
	return op, nil
}

func (s *Store) GetReady(ctx context.Context, now time.Time) ([]syncstore.PendingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUID := make(map[string]syncstore.PendingOperation)
	for _, op := range s.data {
		ready := op.Status == syncstore.StatusPending || (op.Status == syncstore.StatusFailed && op.ShouldRetry)
		if !ready || op.NextRetryAt.After(now) {
			continue
		}
		cur, ok := byUID[op.EventUID]
		if !ok || op.CreatedAt.Before(cur.CreatedAt) {
			byUID[op.EventUID] = op
		}
	}

	out := make([]syncstore.PendingOperation, 0, len(byUID))
	for _, op := range byUID {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetForCalendar(ctx context.Context, calendarURL string) ([]syncstore.PendingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []syncstore.PendingOperation
	for _, op := range s.data {
		if op.CalendarURL == calendarURL {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetByEventUID(ctx context.Context, eventUID string) ([]syncstore.PendingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []syncstore.PendingOperation
	for _, op := range s.data {
		if op.EventUID == eventUID {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) Update(ctx context.Context, op syncstore.PendingOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[op.ID]; !ok {
		return syncstore.ErrNotFound
	}
	s.data[op.ID] = op
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return syncstore.ErrNotFound
	}
	delete(s.data, id)
	return nil
}

func (s *Store) MarkInProgress(ctx context.Context, id string, leaseStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.data[id]
	if !ok {
		return syncstore.ErrNotFound
	}
	op.Status = syncstore.StatusInProgress
	op.InProgressSince = leaseStart
	s.data[id] = op
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, errMsg string, shouldRetry bool, policy syncstore.BackoffPolicy, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.data[id]
	if !ok {
		return syncstore.ErrNotFound
	}
	op.ErrorMessage = errMsg
	op.InProgressSince = time.Time{}
	op.Status = syncstore.StatusFailed
	op.ShouldRetry = shouldRetry
	if shouldRetry {
		op.RetryCount++
		op.NextRetryAt = now.Add(policy.ComputeBackoff(op.RetryCount))
	}
	s.data[id] = op
	return nil
}

func (s *Store) Count(ctx context.Context, status syncstore.Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == -1 {
		return len(s.data), nil
	}
	n := 0
	for _, op := range s.data {
		if op.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *Store) StuckSince(ctx context.Context, threshold time.Time) ([]syncstore.PendingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []syncstore.PendingOperation
	for _, op := range s.data {
		if op.Status == syncstore.StatusInProgress && !op.InProgressSince.IsZero() && op.InProgressSince.Before(threshold) {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InProgressSince.Before(out[j].InProgressSince) })
	return out, nil
}
