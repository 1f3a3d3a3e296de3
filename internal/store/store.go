// Package store implements the key-value and pub/sub layer every component
// addresses by key. Multi-step mutations are intentionally non-transactional
// across keys; the manager's next tick tolerates observing an intermediate
// state, so only single-key operations need be atomic.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an automation info hash does not exist.
var ErrNotFound = errors.New("store: automation not found")

// BrowserTabs is the tab_id -> current_url mapping for one reqid.
type BrowserTabs map[string]string

// Store is the persistence and coordination interface. A Redis-backed
// implementation and an in-memory implementation (for tests, see
// memstore.go) both satisfy it.
type Store interface {
	// Automation info hash: a:<aid>:info
	SetInfo(ctx context.Context, autoID string, fields map[string]string) error
	GetInfo(ctx context.Context, autoID string) (map[string]string, error)
	SetInfoField(ctx context.Context, autoID, field, value string) error
	DeleteAutomation(ctx context.Context, autoID string) error
	ScanAutomationIDs(ctx context.Context) ([]string, error)

	// Scope set: a:<aid>:scope
	SetScopes(ctx context.Context, autoID string, scopes []string) error
	GetScopes(ctx context.Context, autoID string) ([]string, error)

	// Frontier: a:<aid>:q
	Enqueue(ctx context.Context, autoID string, url string, hops int) error
	RequeueFront(ctx context.Context, autoID string, url string, hops int) error
	PopBlocking(ctx context.Context, autoID string, timeout time.Duration) (url string, hops int, ok bool, err error)
	SnapshotQueue(ctx context.Context, autoID string) ([]QueueEntry, error)

	// Active browsers: a:<aid>:br
	AddBrowser(ctx context.Context, autoID, reqid string) error
	RemoveBrowser(ctx context.Context, autoID, reqid string) error
	ListBrowsers(ctx context.Context, autoID string) ([]string, error)

	// Active tabs: a:<aid>:t:<reqid>
	SetTabURL(ctx context.Context, autoID, reqid, tabID, url string) error
	ClearTabURL(ctx context.Context, autoID, reqid, tabID string) error
	GetTabs(ctx context.Context, autoID, reqid string) (BrowserTabs, error)
	DeleteTabs(ctx context.Context, autoID, reqid string) error
	SnapshotAllTabs(ctx context.Context, autoID string) (map[string]BrowserTabs, error)

	// Notification queues: q:auto:add, q:auto:del
	PushNewAuto(ctx context.Context, autoID string) error
	PushDelAuto(ctx context.Context, autoID string) error
	DrainNewAuto(ctx context.Context) ([]string, error)
	DrainDelAuto(ctx context.Context) ([]string, error)

	// ID allocator: n:autos:count
	NextAutomationID(ctx context.Context) (string, error)

	// Pub/sub: to_cbr_ps:<reqid> / from_cbr_ps:<reqid>
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// QueueEntry is a frontier entry as observed in a queue snapshot.
type QueueEntry struct {
	URL  string
	Hops int
}

// Subscription is a single pub/sub subscription; Messages yields payloads
// until Close is called or the underlying connection dies.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Key helpers, centralizing the layout so every component builds keys
// identically.
func infoKey(autoID string) string   { return "a:" + autoID + ":info" }
func brKey(autoID string) string     { return "a:" + autoID + ":br" }
func tabKey(autoID, r string) string { return "a:" + autoID + ":t:" + r }
func queueKey(autoID string) string  { return "a:" + autoID + ":q" }
func scopeKey(autoID string) string  { return "a:" + autoID + ":scope" }

const (
	newAutoKey   = "q:auto:add"
	delAutoKey   = "q:auto:del"
	idCounterKey = "n:autos:count"
)

func fromBrowserChannel(reqid string) string { return "from_cbr_ps:" + reqid }
func toBrowserChannel(reqid string) string   { return "to_cbr_ps:" + reqid }

// FromBrowserChannel returns the inbound pub/sub channel name for a reqid.
func FromBrowserChannel(reqid string) string { return fromBrowserChannel(reqid) }

// ToBrowserChannel returns the outbound pub/sub channel name for a reqid.
func ToBrowserChannel(reqid string) string { return toBrowserChannel(reqid) }
