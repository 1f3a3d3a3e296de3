// Package tabdriver implements the per-tab navigation loop. One Driver owns
// one CDP connection to one browser tab: it pops URLs off the automation's
// frontier, decides whether the URL is worth visiting, navigates, waits for
// the page lifecycle events, optionally autoscrolls, extracts links, and
// re-enqueues them with a decremented hop budget.
package tabdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/webrecorder/autocontroller/internal/eventlog"
	"github.com/webrecorder/autocontroller/internal/events"
	"github.com/webrecorder/autocontroller/internal/frontier"
	"github.com/webrecorder/autocontroller/internal/replay"
	"github.com/webrecorder/autocontroller/internal/store"
)

// ErrSendFailed is returned when a navigation command could not be delivered;
// the in-flight URL is pushed back onto the frontier and the tab is torn
// down, leaving the supervisor to replace it.
var ErrSendFailed = errors.New("tabdriver: navigation send failed")

// popTimeout bounds each frontier poll so the loop can observe context
// cancellation between pops. It is not a navigation timeout; navigations
// have none.
const popTimeout = 2 * time.Second

// extractLinksExpr invokes the in-page link-extraction hook, yielding a JSON
// array of strings (empty when the page does not define the hook).
const extractLinksExpr = `JSON.stringify(window.extractLinks ? window.extractLinks() : [])`

// AutoscrollRequester sends the autoscroll round-trip for a URL and blocks
// until the matching autoscroll_resp arrives, or ctx is done. Implemented by
// the browser supervisor, which owns the pub/sub subscription shared by
// every tab of a browser; injected here as a capability so the driver holds
// no reference to its owner.
type AutoscrollRequester interface {
	RequestAutoscroll(ctx context.Context, tabID, url string) error
}

// Config bundles the per-automation, largely-immutable context every tab of
// a run shares.
type Config struct {
	AutoID     string
	ReqID      string
	BrowserTag string
	Autoscroll bool
	Scopes     []*regexp.Regexp
}

// Driver drives one CDP tab's navigation loop.
type Driver struct {
	cfg       Config
	tabID     string
	db        store.Store
	frontier  *frontier.Frontier
	recording *replay.Recording
	autoscrl  AutoscrollRequester
	eventlog  *eventlog.Manager

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	// Frame lifecycle events arrive here from the CDP listener. A single
	// buffered channel, live for the whole tab, so events raced ahead of a
	// Page.navigate response are not lost; each navigation drains leftovers
	// before it starts and then filters by its own frame id.
	events chan frameEvent
}

type frameEvent struct {
	frameID cdp.FrameID
	mime    string
	stopped bool
}

// New connects to the tab at wsURL and returns a Driver ready to Run.
func New(ctx context.Context, cfg Config, tabID, wsURL string, db store.Store, recording *replay.Recording, autoscrl AutoscrollRequester, elog *eventlog.Manager) (*Driver, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, wsURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	d := &Driver{
		cfg:         cfg,
		tabID:       tabID,
		db:          db,
		frontier:    frontier.New(db, cfg.AutoID),
		recording:   recording,
		autoscrl:    autoscrl,
		eventlog:    elog,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		events:      make(chan frameEvent, 64),
	}

	if err := chromedp.Run(tabCtx, page.Enable(), runtime.Enable()); err != nil {
		d.Close()
		return nil, fmt.Errorf("tabdriver: enable page/runtime domains: %w", err)
	}

	chromedp.ListenTarget(tabCtx, d.handleEvent)

	return d, nil
}

// handleEvent forwards frame lifecycle events to the navigation in progress.
// A panicking handler is logged and swallowed; handler bugs must not tear
// the tab down.
func (d *Driver) handleEvent(ev interface{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("tabdriver: recovered handler panic for tab %s: %v", d.tabID, r)
			if d.eventlog != nil {
				d.eventlog.WriteEvent(events.NewErrorEvent(d.cfg.AutoID, d.cfg.ReqID, events.EventErrorHandler, fmt.Sprint(r)))
			}
		}
	}()

	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		d.push(frameEvent{frameID: e.Frame.ID, mime: e.Frame.MimeType})
	case *page.EventFrameStoppedLoading:
		d.push(frameEvent{frameID: e.FrameID, stopped: true})
	}
}

func (d *Driver) push(ev frameEvent) {
	select {
	case d.events <- ev:
	default:
	}
}

// drainEvents discards events left over from a previous navigation.
func (d *Driver) drainEvents() {
	for {
		select {
		case <-d.events:
		default:
			return
		}
	}
}

// awaitNavigated blocks until Page.frameNavigated arrives for frameID and
// returns the navigation's mime type. ok is false if ctx ended first.
func (d *Driver) awaitNavigated(ctx context.Context, frameID cdp.FrameID) (mime string, ok bool) {
	for {
		select {
		case ev := <-d.events:
			if ev.frameID == frameID && !ev.stopped {
				return ev.mime, true
			}
		case <-ctx.Done():
			return "", false
		}
	}
}

// awaitStopped blocks until Page.frameStoppedLoading arrives for frameID.
func (d *Driver) awaitStopped(ctx context.Context, frameID cdp.FrameID) bool {
	for {
		select {
		case ev := <-d.events:
			if ev.frameID == frameID && ev.stopped {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
}

// Close tears down the tab's CDP connection.
func (d *Driver) Close() {
	if d.tabCancel != nil {
		d.tabCancel()
	}
	if d.allocCancel != nil {
		d.allocCancel()
	}
}

// Run executes the navigation loop until ctx is canceled or a terminal error
// occurs. A navigation-send failure requeues the in-flight URL at the front
// of the frontier and returns ErrSendFailed so the supervisor can replace
// the tab.
func (d *Driver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		rawURL, hops, ok, err := d.frontier.PopBlocking(ctx, popTimeout)
		if err != nil {
			return fmt.Errorf("tabdriver: pop frontier: %w", err)
		}
		if !ok {
			continue
		}

		visit, reason := d.shouldVisit(rawURL)
		if !visit {
			if d.eventlog != nil {
				d.eventlog.WriteEvent(events.NewPageSkippedEvent(d.cfg.AutoID, d.cfg.ReqID, rawURL, reason))
			}
			continue
		}

		if err := d.visit(ctx, rawURL, hops); err != nil {
			if errors.Is(err, ErrSendFailed) {
				if d.eventlog != nil {
					d.eventlog.WriteEvent(events.NewErrorEvent(d.cfg.AutoID, d.cfg.ReqID, events.EventErrorNavigation, err.Error()))
				}
				if rqErr := d.frontier.RequeueFront(ctx, rawURL, hops); rqErr != nil {
					return fmt.Errorf("tabdriver: requeue after send failure: %w", rqErr)
				}
			}
			return err
		}
	}
}

// shouldVisit strips the URL fragment, then skips anything the recording's
// replay index already holds or that falls outside a non-empty scope set.
// An index lookup failure falls back to visiting; a dropped URL would never
// be retried, a duplicate visit is merely wasted work.
func (d *Driver) shouldVisit(rawURL string) (bool, string) {
	stripped := stripFragment(rawURL)

	if d.recording != nil {
		recorded, err := d.recording.AlreadyRecorded(stripped)
		if err != nil {
			log.Printf("tabdriver: replay index check failed for %s: %v", stripped, err)
		} else if recorded {
			return false, "already_recorded"
		}
	}

	if len(d.cfg.Scopes) > 0 && !inScope(d.cfg.Scopes, stripped) {
		return false, "out_of_scope"
	}

	return true, ""
}

func stripFragment(rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

func inScope(scopes []*regexp.Regexp, rawURL string) bool {
	for _, re := range scopes {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// navigate issues Page.navigate and returns the top frame id for the new
// navigation.
func (d *Driver) navigate(rawURL string) (cdp.FrameID, error) {
	var frameID cdp.FrameID
	err := chromedp.Run(d.tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		id, _, errText, _, err := page.Navigate(rawURL).Do(ctx)
		if err != nil {
			return err
		}
		if errText != "" {
			return errors.New(errText)
		}
		frameID = id
		return nil
	}))
	return frameID, err
}

// visit navigates one URL through the full lifecycle: mark the tab busy,
// navigate, wait for frameNavigated and frameStoppedLoading on the top
// frame, autoscroll if configured, then extract and enqueue links while hop
// budget remains.
func (d *Driver) visit(ctx context.Context, rawURL string, hops int) error {
	cleanURL := stripFragment(rawURL)

	if err := d.db.SetTabURL(ctx, d.cfg.AutoID, d.cfg.ReqID, d.tabID, cleanURL); err != nil {
		return fmt.Errorf("tabdriver: set tab url: %w", err)
	}
	defer d.db.ClearTabURL(ctx, d.cfg.AutoID, d.cfg.ReqID, d.tabID)

	d.drainEvents()
	frameID, err := d.navigate(cleanURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	mimeType, ok := d.awaitNavigated(ctx, frameID)
	if !ok {
		return nil
	}

	// HTML pages are added to the recording upstream by the proxy on first
	// byte; anything else must be registered explicitly or it would never
	// appear as a page.
	nonHTML := mimeType != "" && mimeType != "text/html"
	if nonHTML {
		if d.recording != nil {
			if err := d.recording.AddPage(cleanURL, cleanURL, "", d.cfg.BrowserTag); err != nil {
				log.Printf("tabdriver: add_page for non-html response failed: %v", err)
			}
		}
		if d.eventlog != nil {
			d.eventlog.WriteEvent(events.NewLogEvent(d.cfg.AutoID, d.cfg.ReqID, events.EventPageNonHTML, map[string]interface{}{
				"url": cleanURL, "mime_type": mimeType,
			}))
		}
	}

	if !d.awaitStopped(ctx, frameID) {
		return nil
	}

	if d.eventlog != nil {
		d.eventlog.WriteEvent(events.NewPageVisitedEvent(d.cfg.AutoID, d.cfg.ReqID, d.tabID, cleanURL, hops))
	}

	if nonHTML {
		return nil
	}

	if d.cfg.Autoscroll && d.autoscrl != nil {
		if err := d.autoscrl.RequestAutoscroll(ctx, d.tabID, cleanURL); err != nil {
			log.Printf("tabdriver: autoscroll round-trip failed for %s: %v", cleanURL, err)
		}
	}

	if hops == 0 {
		return nil
	}

	return d.extractLinks(ctx, cleanURL, hops)
}

// extractLinks evaluates the in-page hook and enqueues every link it yields
// with one less hop. Extraction failures are logged and skipped rather than
// killing the tab; the page itself was still recorded.
func (d *Driver) extractLinks(ctx context.Context, fromURL string, hops int) error {
	var raw string
	if err := chromedp.Run(d.tabCtx, chromedp.Evaluate(extractLinksExpr, &raw)); err != nil {
		log.Printf("tabdriver: link extraction failed for %s: %v", fromURL, err)
		return nil
	}

	var links []string
	if err := json.Unmarshal([]byte(raw), &links); err != nil {
		log.Printf("tabdriver: link extraction result parse failed for %s: %v", fromURL, err)
		return nil
	}

	for _, link := range links {
		if _, err := url.Parse(link); err != nil {
			continue
		}
		nextHops := hops - 1
		if err := d.frontier.Enqueue(ctx, link, nextHops); err != nil {
			log.Printf("tabdriver: enqueue discovered link %s failed: %v", link, err)
			continue
		}
		if d.eventlog != nil {
			d.eventlog.WriteEvent(events.NewLinkDiscoveredEvent(d.cfg.AutoID, d.cfg.ReqID, fromURL, link, nextHops))
		}
	}

	return nil
}
