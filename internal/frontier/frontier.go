// Package frontier implements the per-automation URL frontier. It is a thin
// wrapper over the store's list operations: the frontier itself performs no
// deduplication or scope filtering, both of which are decided at navigation
// time by the tab driver.
package frontier

import (
	"context"
	"time"

	"github.com/webrecorder/autocontroller/internal/store"
)

// Frontier is the FIFO URL queue for one automation.
type Frontier struct {
	db     store.Store
	autoID string
}

// New returns a Frontier bound to the given automation ID.
func New(db store.Store, autoID string) *Frontier {
	return &Frontier{db: db, autoID: autoID}
}

// Enqueue adds a discovered URL to the back of the queue with the given
// remaining hop count.
func (f *Frontier) Enqueue(ctx context.Context, url string, hops int) error {
	return f.db.Enqueue(ctx, f.autoID, url, hops)
}

// RequeueFront pushes a URL back onto the front of the queue, used when a
// tab fails to send a navigation request and the URL must be retried.
func (f *Frontier) RequeueFront(ctx context.Context, url string, hops int) error {
	return f.db.RequeueFront(ctx, f.autoID, url, hops)
}

// PopBlocking pops the next URL, blocking up to timeout for one to become
// available. ok is false on timeout with no URL popped.
func (f *Frontier) PopBlocking(ctx context.Context, timeout time.Duration) (url string, hops int, ok bool, err error) {
	return f.db.PopBlocking(ctx, f.autoID, timeout)
}

// Snapshot returns the current queue contents without removing them, used
// when serializing an automation.
func (f *Frontier) Snapshot(ctx context.Context) ([]store.QueueEntry, error) {
	return f.db.SnapshotQueue(ctx, f.autoID)
}
