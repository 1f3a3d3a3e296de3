package model

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/webrecorder/autocontroller/internal/replay"
	"github.com/webrecorder/autocontroller/internal/store"
)

// ErrUnauthorized is returned by Delete when a non-admin caller attempts to
// remove an automation it does not own.
var ErrUnauthorized = errors.New("model: unauthorized")

// field keys in the a:<aid>:info hash.
const (
	fieldStatus            = "status"
	fieldOwnerCollectionID = "owner_collection_id"
	fieldUserName          = "user_name"
	fieldCollectionName    = "collection_name"
	fieldRecordingID       = "recording_id"
	fieldBrowserTag        = "browser_tag"
	fieldMaxBrowsers       = "max_browsers"
	fieldNumTabs           = "num_tabs"
	fieldHops              = "hops"
	fieldType              = "type"
	fieldRequestTS         = "request_ts"
	fieldAutoscroll        = "autoscroll"
)

// ToFields flattens an Automation into the string-keyed hash stored at
// a:<aid>:info. Scopes are stored separately in the a:<aid>:scope set.
func (a *Automation) ToFields() map[string]string {
	return map[string]string{
		fieldStatus:            string(a.Status),
		fieldOwnerCollectionID: a.OwnerCollectionID,
		fieldUserName:          a.UserName,
		fieldCollectionName:    a.CollectionName,
		fieldRecordingID:       a.RecordingID,
		fieldBrowserTag:        a.BrowserTag,
		fieldMaxBrowsers:       strconv.Itoa(a.MaxBrowsers),
		fieldNumTabs:           strconv.Itoa(a.NumTabs),
		fieldHops:              strconv.Itoa(a.Hops),
		fieldType:              a.Type,
		fieldRequestTS:         a.RequestTS,
		fieldAutoscroll:        strconv.FormatBool(a.Autoscroll),
	}
}

// FromFields reconstructs an Automation from its info hash. Scopes must be
// set separately by the caller (they live in a different key).
func FromFields(autoID string, fields map[string]string) (*Automation, error) {
	maxBrowsers, err := strconv.Atoi(fields[fieldMaxBrowsers])
	if err != nil {
		return nil, fmt.Errorf("model: parse max_browsers: %w", err)
	}
	numTabs, err := strconv.Atoi(fields[fieldNumTabs])
	if err != nil {
		return nil, fmt.Errorf("model: parse num_tabs: %w", err)
	}
	hops, err := strconv.Atoi(fields[fieldHops])
	if err != nil {
		return nil, fmt.Errorf("model: parse hops: %w", err)
	}
	autoscroll, _ := strconv.ParseBool(fields[fieldAutoscroll])

	return &Automation{
		AutoID:            autoID,
		Status:            Status(fields[fieldStatus]),
		OwnerCollectionID: fields[fieldOwnerCollectionID],
		UserName:          fields[fieldUserName],
		CollectionName:    fields[fieldCollectionName],
		RecordingID:       fields[fieldRecordingID],
		BrowserTag:        fields[fieldBrowserTag],
		MaxBrowsers:       maxBrowsers,
		NumTabs:           numTabs,
		Hops:              hops,
		Type:              fields[fieldType],
		RequestTS:         fields[fieldRequestTS],
		Autoscroll:        autoscroll,
	}, nil
}

// Create persists a new INACTIVE automation and notifies the manager via
// the new-auto queue.
func Create(ctx context.Context, db store.Store, ownerCollectionID, userName, collectionName string, p CreateProps) (*Automation, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	autoID, err := db.NextAutomationID(ctx)
	if err != nil {
		return nil, fmt.Errorf("model: allocate automation id: %w", err)
	}

	a := NewFromProps(autoID, ownerCollectionID, userName, collectionName, p)

	if err := db.SetInfo(ctx, autoID, a.ToFields()); err != nil {
		return nil, fmt.Errorf("model: persist automation info: %w", err)
	}
	if len(a.Scopes) > 0 {
		if err := db.SetScopes(ctx, autoID, a.Scopes); err != nil {
			return nil, fmt.Errorf("model: persist scopes: %w", err)
		}
	}
	if err := db.PushNewAuto(ctx, autoID); err != nil {
		return nil, fmt.Errorf("model: notify manager of new automation: %w", err)
	}

	return a, nil
}

// Load reconstructs an Automation from the store, including its scopes.
func Load(ctx context.Context, db store.Store, autoID string) (*Automation, error) {
	fields, err := db.GetInfo(ctx, autoID)
	if err != nil {
		return nil, err
	}
	a, err := FromFields(autoID, fields)
	if err != nil {
		return nil, err
	}
	scopes, err := db.GetScopes(ctx, autoID)
	if err != nil {
		return nil, fmt.Errorf("model: load scopes: %w", err)
	}
	a.Scopes = scopes
	return a, nil
}

// QueueList enqueues a list of bookmark URLs onto the automation's frontier,
// each carrying the automation's configured hop budget if it is nonzero.
// Only valid while the automation is INACTIVE (no recording yet) or RUNNING
// with its recording still open; an automation with an attached recording
// must have that recording open before bookmarks may be appended.
func QueueList(ctx context.Context, db store.Store, warc *replay.Client, autoID string, urls []string) error {
	a, err := Load(ctx, db, autoID)
	if err != nil {
		return err
	}
	if a.Status != StatusInactive && a.Status != StatusRunning {
		return fmt.Errorf("model: cannot queue urls onto automation %s in status %s", autoID, a.Status)
	}
	if a.RecordingID != "" {
		open, err := warc.NewRecording(a.UserName, a.CollectionName, a.RecordingID).IsOpen()
		if err != nil {
			return fmt.Errorf("model: check recording status: %w", err)
		}
		if !open {
			return fmt.Errorf("model: recording %s for automation %s is not open", a.RecordingID, autoID)
		}
	}

	hops := 0
	if a.Hops > 0 {
		hops = a.Hops
	}

	for _, u := range urls {
		if err := db.Enqueue(ctx, autoID, u, hops); err != nil {
			return fmt.Errorf("model: enqueue bookmark %s: %w", u, err)
		}
	}
	return nil
}

// Start transitions an automation INACTIVE -> READY once its recording has
// been created externally, and attaches the recording id.
func Start(ctx context.Context, db store.Store, autoID, recordingID string) error {
	a, err := Load(ctx, db, autoID)
	if err != nil {
		return err
	}
	if a.Status != StatusInactive {
		return fmt.Errorf("model: cannot start automation %s in status %s", autoID, a.Status)
	}

	if err := db.SetInfoField(ctx, autoID, fieldRecordingID, recordingID); err != nil {
		return fmt.Errorf("model: set recording id: %w", err)
	}
	if err := db.SetInfoField(ctx, autoID, fieldStatus, string(StatusReady)); err != nil {
		return fmt.Errorf("model: set status ready: %w", err)
	}
	return nil
}

// Delete removes every key belonging to an automation and notifies the
// manager to discard its runner. Only an admin caller may delete an
// automation belonging to another owner; callerCollectionID identifies the
// caller and isAdmin reflects its privilege.
func Delete(ctx context.Context, db store.Store, autoID, callerCollectionID string, isAdmin bool) error {
	a, err := Load(ctx, db, autoID)
	if err != nil {
		return err
	}
	if !isAdmin && a.OwnerCollectionID != callerCollectionID {
		return ErrUnauthorized
	}

	if err := db.DeleteAutomation(ctx, autoID); err != nil {
		return fmt.Errorf("model: delete automation keys: %w", err)
	}
	if err := db.PushDelAuto(ctx, autoID); err != nil {
		return fmt.Errorf("model: notify manager of deletion: %w", err)
	}
	return nil
}
