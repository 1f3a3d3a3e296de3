// Package browsersup supervises one provisioned browser: the provisioning
// protocol that brings it up, the pub/sub channel shared by all of its
// tabs, and the reconnect path used after a controller restart.
package browsersup

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/webrecorder/autocontroller/internal/eventlog"
	"github.com/webrecorder/autocontroller/internal/events"
	"github.com/webrecorder/autocontroller/internal/replay"
	"github.com/webrecorder/autocontroller/internal/shepherd"
	"github.com/webrecorder/autocontroller/internal/store"
	"github.com/webrecorder/autocontroller/internal/tabdriver"
)

// autoscrollTimeout bounds how long a tab driver waits for the browser side
// of an autoscroll round-trip before giving up.
const autoscrollTimeout = 30 * time.Second

// wsMessage is the pub/sub payload shape for both directions of the
// to_cbr_ps/from_cbr_ps channels.
type wsMessage struct {
	WSType string `json:"ws_type"`
	TabID  string `json:"tab_id,omitempty"`
	URL    string `json:"url,omitempty"`
}

// Supervisor owns one provisioned browser: its reqid, its tab drivers, and
// the pub/sub subscription they share for autoscroll round-trips.
type Supervisor struct {
	autoID string
	reqid  string
	ip     string

	db   store.Store
	shep *shepherd.Client
	sub  store.Subscription

	elog *eventlog.Manager

	mu      sync.Mutex
	waiters map[string]chan struct{}
	tabs    []*tabdriver.Driver

	ctx    context.Context
	cancel context.CancelFunc
}

// Provision requests a new browser, waits for it to come up, opens numTabs
// CDP tabs, registers the reqid against the automation, subscribes to its
// pub/sub channel, and starts one tab driver per tab.
func Provision(ctx context.Context, db store.Store, shep *shepherd.Client, req shepherd.ProvisionRequest, cfg tabdriver.Config, numTabs int, recording *replay.Recording, elog *eventlog.Manager) (*Supervisor, error) {
	reqid, err := shep.RequestNewBrowser(req)
	if err != nil {
		return nil, fmt.Errorf("browsersup: request_new_browser: %w", err)
	}

	ip, err := shep.WaitForBrowser(reqid)
	if err != nil {
		return nil, fmt.Errorf("browsersup: wait for browser: %w", err)
	}

	return attach(ctx, db, shep, reqid, ip, cfg, numTabs, recording, elog, false)
}

// Reconnect re-attaches to a browser already recorded against the
// automation, used after a controller restart. ok is false if the browser
// is no longer alive and the caller should drop the reqid and re-provision.
func Reconnect(ctx context.Context, db store.Store, shep *shepherd.Client, reqid string, cfg tabdriver.Config, numTabs int, recording *replay.Recording, elog *eventlog.Manager) (sup *Supervisor, ok bool, err error) {
	ip, err := shep.WaitForBrowser(reqid)
	if err != nil {
		return nil, false, nil
	}

	if !shep.Probe(ip) {
		return nil, false, nil
	}

	sup, err = attach(ctx, db, shep, reqid, ip, cfg, numTabs, recording, elog, true)
	if err != nil {
		return nil, false, err
	}
	return sup, true, nil
}

func attach(ctx context.Context, db store.Store, shep *shepherd.Client, reqid, ip string, cfg tabdriver.Config, numTabs int, recording *replay.Recording, elog *eventlog.Manager, adopted bool) (*Supervisor, error) {
	cfg.ReqID = reqid

	pages, err := shep.WaitForPageTabs(ip)
	if err != nil {
		return nil, fmt.Errorf("browsersup: wait for page tabs: %w", err)
	}

	tabs := pages
	if len(tabs) > numTabs {
		tabs = tabs[:numTabs]
	}
	for len(tabs) < numTabs {
		t, err := shep.OpenTab(ip)
		if err != nil {
			return nil, fmt.Errorf("browsersup: open tab: %w", err)
		}
		tabs = append(tabs, t)
	}

	if err := db.AddBrowser(ctx, cfg.AutoID, reqid); err != nil {
		return nil, fmt.Errorf("browsersup: register browser: %w", err)
	}

	sub, err := db.Subscribe(ctx, fromChannel(reqid))
	if err != nil {
		_ = db.RemoveBrowser(ctx, cfg.AutoID, reqid)
		return nil, fmt.Errorf("browsersup: subscribe: %w", err)
	}

	supCtx, cancel := context.WithCancel(ctx)
	sup := &Supervisor{
		autoID:  cfg.AutoID,
		reqid:   reqid,
		ip:      ip,
		db:      db,
		shep:    shep,
		sub:     sub,
		elog:    elog,
		waiters: make(map[string]chan struct{}),
		ctx:     supCtx,
		cancel:  cancel,
	}

	go sup.pump()

	for _, t := range tabs {
		d, err := tabdriver.New(supCtx, cfg, t.ID, t.WebSocketDebuggerURL, db, recording, sup, elog)
		if err != nil {
			log.Printf("browsersup: tab driver setup failed for %s/%s tab %s: %v", cfg.AutoID, reqid, t.ID, err)
			continue
		}
		sup.tabs = append(sup.tabs, d)
		go sup.runTab(d)
	}

	if elog != nil {
		if adopted {
			elog.WriteEvent(events.NewBrowserAdoptedEvent(cfg.AutoID, reqid, ip))
		} else {
			elog.WriteEvent(events.NewBrowserProvisionedEvent(cfg.AutoID, reqid, ip, len(tabs)))
		}
	}

	return sup, nil
}

func (s *Supervisor) runTab(d *tabdriver.Driver) {
	if err := d.Run(s.ctx); err != nil {
		log.Printf("browsersup: tab driver for %s/%s exited: %v", s.autoID, s.reqid, err)
	}
}

// ReqID returns the provisioned browser's request id.
func (s *Supervisor) ReqID() string { return s.reqid }

// Alive reports whether the underlying browser still has live page tabs.
func (s *Supervisor) Alive() bool { return s.shep.Probe(s.ip) }

// Close tears down every tab driver, unsubscribes from the pub/sub channel,
// asks the provisioning service to delete the underlying browser, and
// removes the reqid from the automation's active set.
func (s *Supervisor) Close(ctx context.Context) {
	s.cancel()
	for _, d := range s.tabs {
		d.Close()
	}
	if s.sub != nil {
		_ = s.sub.Close()
	}
	if err := s.shep.DeleteBrowser(s.reqid); err != nil {
		log.Printf("browsersup: delete_browser %s/%s: %v", s.autoID, s.reqid, err)
	}
	if err := s.db.RemoveBrowser(ctx, s.autoID, s.reqid); err != nil {
		log.Printf("browsersup: remove browser %s/%s from active set: %v", s.autoID, s.reqid, err)
	}
	if s.elog != nil {
		s.elog.WriteEvent(events.NewBrowserClosedEvent(s.autoID, s.reqid))
	}
}

// RequestAutoscroll implements tabdriver.AutoscrollRequester: it publishes
// the autoscroll request on to_cbr_ps:<reqid> and blocks until a matching
// autoscroll_resp arrives on from_cbr_ps:<reqid>, or autoscrollTimeout
// elapses.
func (s *Supervisor) RequestAutoscroll(ctx context.Context, tabID, url string) error {
	ch := s.waiterFor(url)
	defer s.forgetWaiter(url)

	payload, err := json.Marshal(wsMessage{WSType: "autoscroll", TabID: tabID, URL: url})
	if err != nil {
		return fmt.Errorf("browsersup: encode autoscroll request: %w", err)
	}
	if err := s.db.Publish(ctx, toChannel(s.reqid), payload); err != nil {
		return fmt.Errorf("browsersup: publish autoscroll request: %w", err)
	}

	timer := time.NewTimer(autoscrollTimeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
		return fmt.Errorf("browsersup: autoscroll response timed out for %s", url)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pump drains the browser's from_cbr_ps subscription and dispatches each
// message: remote_url is a no-op here, autoscroll_resp wakes the tab
// waiting on its url.
func (s *Supervisor) pump() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case payload, ok := <-s.sub.Messages():
			if !ok {
				return
			}
			s.handleMessage(payload)
		}
	}
}

func (s *Supervisor) handleMessage(payload []byte) {
	var msg wsMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("browsersup: malformed pub/sub message on %s: %v", s.reqid, err)
		return
	}

	switch msg.WSType {
	case "autoscroll_resp":
		s.deliver(msg.URL)
	case "remote_url":
		// Informational only; the controller does not act on it.
	default:
	}
}

func (s *Supervisor) waiterFor(url string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.waiters[url]
	if !ok {
		ch = make(chan struct{}, 1)
		s.waiters[url] = ch
	}
	return ch
}

func (s *Supervisor) forgetWaiter(url string) {
	s.mu.Lock()
	delete(s.waiters, url)
	s.mu.Unlock()
}

func (s *Supervisor) deliver(url string) {
	s.mu.Lock()
	ch, ok := s.waiters[url]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func toChannel(reqid string) string   { return "to_cbr_ps:" + reqid }
func fromChannel(reqid string) string { return "from_cbr_ps:" + reqid }
