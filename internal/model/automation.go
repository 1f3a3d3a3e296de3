// Package model defines the persistent Automation record and the
// API-facing operations on it (create, queue_list, start, serialize, delete).
package model

import "fmt"

// Status is the lifecycle state of an Automation.
//
// Transitions form the DAG INACTIVE -> READY -> RUNNING -> DONE, with DELETE
// reachable from any state. PAUSED exists in the data model but no operation
// here transitions an automation into or out of it; it is reserved for a
// future pause/resume API.
type Status string

const (
	StatusInactive Status = "INACTIVE"
	StatusReady    Status = "READY"
	StatusRunning  Status = "RUNNING"
	StatusPaused   Status = "PAUSED"
	StatusDone     Status = "DONE"
)

// Type is always "record" at this layer; a "patch" automation type exists in
// the original source but is out of scope for the crawl-record path modeled
// here.
const TypeRecord = "record"

// Default property values applied by Create when the caller omits them.
const (
	DefaultHops        = 0
	DefaultNumTabs     = 1
	DefaultMaxBrowsers = 2
)

// Automation is the persistent record for one configured crawl job.
type Automation struct {
	AutoID            string
	Status            Status
	OwnerCollectionID string
	UserName          string
	CollectionName    string
	RecordingID       string
	BrowserTag        string
	MaxBrowsers       int
	NumTabs           int
	Hops              int
	Type              string
	RequestTS         string // optional Memento-style replay time pin
	Autoscroll        bool
	Scopes            []string
}

// URLRequest is an entry in the per-automation frontier.
type URLRequest struct {
	URL  string
	Hops int
}

// CreateProps are the recognized options accepted by Create. Unknown keys
// are ignored by callers building this struct from raw JSON.
type CreateProps struct {
	Hops        *int
	NumTabs     *int
	MaxBrowsers *int
	Scopes      []string
	BrowserTag  string
	RequestTS   string
}

// Validate checks CreateProps for configuration errors, surfaced
// synchronously to the API caller.
func (p CreateProps) Validate() error {
	if p.Hops != nil && *p.Hops < 0 {
		return fmt.Errorf("hops must be >= 0")
	}
	if p.NumTabs != nil && *p.NumTabs < 1 {
		return fmt.Errorf("num_tabs must be >= 1")
	}
	if p.MaxBrowsers != nil && *p.MaxBrowsers < 1 {
		return fmt.Errorf("max_browsers must be >= 1")
	}
	return nil
}

// NewFromProps builds a fresh, unpersisted INACTIVE Automation from create
// props, applying defaults for anything unset.
func NewFromProps(autoID, ownerCollectionID, userName, collectionName string, p CreateProps) *Automation {
	a := &Automation{
		AutoID:            autoID,
		Status:            StatusInactive,
		OwnerCollectionID: ownerCollectionID,
		UserName:          userName,
		CollectionName:    collectionName,
		MaxBrowsers:       DefaultMaxBrowsers,
		NumTabs:           DefaultNumTabs,
		Hops:              DefaultHops,
		Type:              TypeRecord,
		BrowserTag:        p.BrowserTag,
		RequestTS:         p.RequestTS,
		Scopes:            append([]string(nil), p.Scopes...),
	}
	if p.Hops != nil {
		a.Hops = *p.Hops
	}
	if p.NumTabs != nil {
		a.NumTabs = *p.NumTabs
	}
	if p.MaxBrowsers != nil {
		a.MaxBrowsers = *p.MaxBrowsers
	}
	return a
}

// InScope reports whether a URL is in scope: true if Scopes is empty or any
// pattern in it matches.
func (a *Automation) InScope(matches func(pattern, url string) bool, url string) bool {
	if len(a.Scopes) == 0 {
		return true
	}
	for _, pattern := range a.Scopes {
		if matches(pattern, url) {
			return true
		}
	}
	return false
}

// Serialized is the wire shape returned for an automation by the GET API.
type Serialized struct {
	AutoID            string                       `json:"auto_id"`
	Status            Status                       `json:"status"`
	OwnerCollectionID string                       `json:"owner_collection_id"`
	UserName          string                       `json:"user_name"`
	CollectionName    string                       `json:"collection_name"`
	RecordingID       string                       `json:"recording_id"`
	BrowserTag        string                       `json:"browser_tag"`
	MaxBrowsers       int                          `json:"max_browsers"`
	NumTabs           int                          `json:"num_tabs"`
	Hops              int                          `json:"hops"`
	Type              string                       `json:"type"`
	RequestTS         string                       `json:"request_ts,omitempty"`
	Autoscroll        bool                         `json:"autoscroll"`
	ActiveBrowsers    map[string]map[string]string `json:"active_browsers"`
	Queue             []URLRequest                 `json:"queue"`
	Scopes            []string                     `json:"scopes"`
}

// Serialize builds the Serialized view given the active browser/tab and
// queue snapshots, which live in the store rather than on the struct.
func (a *Automation) Serialize(activeBrowsers map[string]map[string]string, queue []URLRequest) Serialized {
	if activeBrowsers == nil {
		activeBrowsers = map[string]map[string]string{}
	}
	if queue == nil {
		queue = []URLRequest{}
	}
	scopes := a.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return Serialized{
		AutoID:            a.AutoID,
		Status:            a.Status,
		OwnerCollectionID: a.OwnerCollectionID,
		UserName:          a.UserName,
		CollectionName:    a.CollectionName,
		RecordingID:       a.RecordingID,
		BrowserTag:        a.BrowserTag,
		MaxBrowsers:       a.MaxBrowsers,
		NumTabs:           a.NumTabs,
		Hops:              a.Hops,
		Type:              a.Type,
		RequestTS:         a.RequestTS,
		Autoscroll:        a.Autoscroll,
		ActiveBrowsers:    activeBrowsers,
		Queue:             queue,
		Scopes:            scopes,
	}
}
