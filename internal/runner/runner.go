// Package runner drives one automation's browser fleet: the manager
// constructs one Runner per automation that is not DONE, and its Process
// method is invoked once per manager tick to bring up, reconcile, and
// eventually retire the automation's browsers. Process acts only on READY
// and RUNNING automations.
package runner

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sync"

	"github.com/webrecorder/autocontroller/internal/browsersup"
	"github.com/webrecorder/autocontroller/internal/eventlog"
	"github.com/webrecorder/autocontroller/internal/events"
	"github.com/webrecorder/autocontroller/internal/model"
	"github.com/webrecorder/autocontroller/internal/replay"
	"github.com/webrecorder/autocontroller/internal/shepherd"
	"github.com/webrecorder/autocontroller/internal/store"
	"github.com/webrecorder/autocontroller/internal/tabdriver"
)

// Runner drives one automation's browser population toward max_browsers and
// retires it once its recording closes.
type Runner struct {
	db   store.Store
	shep *shepherd.Client
	warc *replay.Client
	elog *eventlog.Manager

	autoID string

	mu        sync.Mutex
	sups      map[string]*browsersup.Supervisor
	recording *replay.Recording
}

// New constructs a Runner for an automation that is not DONE. The caller is
// the manager, which discovers automations at startup or off the new-auto
// queue; Process leaves an automation in any status other than READY or
// RUNNING untouched.
func New(db store.Store, shep *shepherd.Client, warc *replay.Client, elog *eventlog.Manager, autoID string) *Runner {
	return &Runner{
		db:     db,
		shep:   shep,
		warc:   warc,
		elog:   elog,
		autoID: autoID,
		sups:   make(map[string]*browsersup.Supervisor),
	}
}

// AutoID returns the automation id this runner drives.
func (r *Runner) AutoID() string { return r.autoID }

// Process executes one manager tick against this runner's automation.
func (r *Runner) Process(ctx context.Context) error {
	a, err := model.Load(ctx, r.db, r.autoID)
	if err != nil {
		return fmt.Errorf("runner: load automation %s: %w", r.autoID, err)
	}

	switch a.Status {
	case model.StatusReady:
		return r.initBrowsers(ctx, a)
	case model.StatusRunning:
		// fall through to reconciliation below
	default:
		return nil
	}

	if r.recording == nil {
		r.recording = r.warc.NewRecording(a.UserName, a.CollectionName, a.RecordingID)
	}

	open, err := r.recording.IsOpen()
	if err != nil {
		log.Printf("runner: recording liveness check failed for %s: %v", r.autoID, err)
	} else if !open {
		return r.finish(ctx)
	}

	r.reconcile(ctx, a)
	return nil
}

// initBrowsers adopts any browsers already recorded against the automation
// up to max_browsers, provisions the remainder, and transitions to RUNNING.
func (r *Runner) initBrowsers(ctx context.Context, a *model.Automation) error {
	r.recording = r.warc.NewRecording(a.UserName, a.CollectionName, a.RecordingID)
	cfg := buildConfig(a)

	existing, err := r.db.ListBrowsers(ctx, r.autoID)
	if err != nil {
		return fmt.Errorf("runner: list existing browsers: %w", err)
	}

	r.mu.Lock()
	for _, reqid := range existing {
		if len(r.sups) >= a.MaxBrowsers {
			break
		}
		sup, ok, err := browsersup.Reconnect(ctx, r.db, r.shep, reqid, cfg, a.NumTabs, r.recording, r.elog)
		if err != nil {
			log.Printf("runner: reconnect to %s failed: %v", reqid, err)
			continue
		}
		if !ok {
			_ = r.db.RemoveBrowser(ctx, r.autoID, reqid)
			continue
		}
		r.sups[reqid] = sup
	}
	r.mu.Unlock()

	r.fillToCapacity(ctx, a, cfg)

	if err := r.db.SetInfoField(ctx, r.autoID, "status", string(model.StatusRunning)); err != nil {
		return fmt.Errorf("runner: set status running: %w", err)
	}
	if r.elog != nil {
		r.elog.WriteEvent(events.NewAutomationStartedEvent(r.autoID, a.RecordingID))
	}
	return nil
}

// fillToCapacity provisions fresh browsers until max_browsers is reached.
func (r *Runner) fillToCapacity(ctx context.Context, a *model.Automation, cfg tabdriver.Config) {
	req := shepherd.ProvisionRequest{
		UserName:       a.UserName,
		CollectionName: a.CollectionName,
		RecordingID:    a.RecordingID,
		Tag:            a.BrowserTag,
		Type:           a.Type,
		RequestTS:      a.RequestTS,
	}

	for {
		r.mu.Lock()
		n := len(r.sups)
		r.mu.Unlock()
		if n >= a.MaxBrowsers {
			return
		}

		sup, err := browsersup.Provision(ctx, r.db, r.shep, req, cfg, a.NumTabs, r.recording, r.elog)
		if err != nil {
			log.Printf("runner: provision browser for %s failed: %v", r.autoID, err)
			if r.elog != nil {
				r.elog.WriteEvent(events.NewErrorEvent(r.autoID, "", events.EventErrorProvision, err.Error()))
			}
			return
		}
		r.mu.Lock()
		r.sups[sup.ReqID()] = sup
		r.mu.Unlock()
	}
}

// reconcile closes surplus supervisors, reinits any that have gone dead,
// and fills back up to max_browsers.
func (r *Runner) reconcile(ctx context.Context, a *model.Automation) {
	cfg := buildConfig(a)

	r.mu.Lock()
	surplus := len(r.sups) - a.MaxBrowsers
	var toClose []*browsersup.Supervisor
	if surplus > 0 {
		for reqid, sup := range r.sups {
			if surplus == 0 {
				break
			}
			toClose = append(toClose, sup)
			delete(r.sups, reqid)
			surplus--
		}
	}

	var dead []string
	for reqid, sup := range r.sups {
		if !sup.Alive() {
			dead = append(dead, reqid)
		}
	}
	r.mu.Unlock()

	for _, sup := range toClose {
		sup.Close(ctx)
	}

	for _, reqid := range dead {
		r.reinit(ctx, a, cfg, reqid)
	}

	r.fillToCapacity(ctx, a, cfg)
}

// reinit re-adopts a supervisor whose browser has gone dead; if it cannot
// be re-adopted, the reqid is dropped entirely and fillToCapacity provisions
// a replacement.
func (r *Runner) reinit(ctx context.Context, a *model.Automation, cfg tabdriver.Config, reqid string) {
	r.mu.Lock()
	if sup, ok := r.sups[reqid]; ok {
		sup.Close(ctx)
		delete(r.sups, reqid)
	}
	r.mu.Unlock()

	sup, ok, err := browsersup.Reconnect(ctx, r.db, r.shep, reqid, cfg, a.NumTabs, r.recording, r.elog)
	if err == nil && ok {
		r.mu.Lock()
		r.sups[reqid] = sup
		r.mu.Unlock()
		if r.elog != nil {
			r.elog.WriteEvent(events.NewBrowserReinitEvent(r.autoID, reqid, true))
		}
		return
	}

	_ = r.db.RemoveBrowser(ctx, r.autoID, reqid)
	if r.elog != nil {
		r.elog.WriteEvent(events.NewBrowserCrashedEvent(r.autoID, reqid))
	}
}

// finish implements the "recording not-open" terminal transition.
func (r *Runner) finish(ctx context.Context) error {
	if err := r.db.SetInfoField(ctx, r.autoID, "status", string(model.StatusDone)); err != nil {
		return fmt.Errorf("runner: set status done: %w", err)
	}
	if err := r.db.PushDelAuto(ctx, r.autoID); err != nil {
		return fmt.Errorf("runner: push del-auto: %w", err)
	}
	if r.elog != nil {
		r.elog.WriteEvent(events.NewAutomationDoneEvent(r.autoID))
	}
	return nil
}

// Close tears down every supervisor this runner owns, used by the manager
// when discarding a runner off the del-auto queue.
func (r *Runner) Close(ctx context.Context) {
	r.mu.Lock()
	sups := make([]*browsersup.Supervisor, 0, len(r.sups))
	for _, sup := range r.sups {
		sups = append(sups, sup)
	}
	r.sups = make(map[string]*browsersup.Supervisor)
	r.mu.Unlock()

	for _, sup := range sups {
		sup.Close(ctx)
	}
}

func buildConfig(a *model.Automation) tabdriver.Config {
	scopes := make([]*regexp.Regexp, 0, len(a.Scopes))
	for _, pattern := range a.Scopes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			log.Printf("runner: invalid scope pattern %q for %s: %v", pattern, a.AutoID, err)
			continue
		}
		scopes = append(scopes, re)
	}
	return tabdriver.Config{
		AutoID:     a.AutoID,
		BrowserTag: a.BrowserTag,
		Autoscroll: a.Autoscroll,
		Scopes:     scopes,
	}
}
