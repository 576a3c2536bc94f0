// Package adaptertest is a tiny in-memory RemoteAdapter fake for
// reconciler tests, grounded on the corpus's mutex-guarded
// generic map shape.
package adaptertest

import (
	"context"
	"sync"

	"github.com/caldavkit/calsync/internal/reconciler"
)

type storedEvent struct {
	etag    string
	icsBody []byte
}

// Adapter is a deterministic fake RemoteAdapter. FailNext lets tests
// script a specific failure before calling an operation.
type Adapter struct {
	mu     sync.Mutex
	events map[string]map[string]storedEvent // calendarURL -> eventUID -> event
	nextEtag int

	pendingErr *reconciler.AdapterError
}

func New() *Adapter {
	return &Adapter{events: make(map[string]map[string]storedEvent)}
}

// FailNext arranges for the next Put/Delete/Get call to return err
// instead of succeeding.
func (a *Adapter) FailNext(err *reconciler.AdapterError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pendingErr = err
}

func (a *Adapter) takeErr() *reconciler.AdapterError {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.pendingErr
	a.pendingErr = nil
	return err
}

func (a *Adapter) Put(ctx context.Context, calendarURL, eventUID string, icsBody []byte) (reconciler.EventVersion, error) {
	if err := a.takeErr(); err != nil {
		return reconciler.EventVersion{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	cal, ok := a.events[calendarURL]
	if !ok {
		cal = make(map[string]storedEvent)
		a.events[calendarURL] = cal
	}
	a.nextEtag++
	etag := etagFor(a.nextEtag)
	cal[eventUID] = storedEvent{etag: etag, icsBody: icsBody}
	return reconciler.EventVersion{ETag: etag}, nil
}

func (a *Adapter) Delete(ctx context.Context, calendarURL, eventUID, etag string) error {
	if err := a.takeErr(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if cal, ok := a.events[calendarURL]; ok {
		delete(cal, eventUID)
	}
	return nil
}

func (a *Adapter) Get(ctx context.Context, calendarURL string) ([]reconciler.RemoteEvent, error) {
	if err := a.takeErr(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	cal := a.events[calendarURL]
	out := make([]reconciler.RemoteEvent, 0, len(cal))
	for uid, ev := range cal {
		out = append(out, reconciler.RemoteEvent{EventUID: uid, ETag: ev.etag, ICSBody: ev.icsBody})
	}
	return out, nil
}

// Snapshot returns the current body stored for (calendarURL, eventUID),
// and whether it exists — a test assertion helper.
func (a *Adapter) Snapshot(calendarURL, eventUID string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cal, ok := a.events[calendarURL]
	if !ok {
		return nil, false
	}
	ev, ok := cal[eventUID]
	return ev.icsBody, ok
}

func etagFor(n int) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 8)
	for i := range b {
		b[i] = hex[(n>>(4*i))&0xf]
	}
	return string(b)
}
