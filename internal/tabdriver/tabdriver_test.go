package tabdriver

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"

	"github.com/webrecorder/autocontroller/internal/replay"
)

func TestStripFragment(t *testing.T) {
	cases := map[string]string{
		"https://example.com/a#frag": "https://example.com/a",
		"https://example.com/a":      "https://example.com/a",
		"https://example.com/a#":     "https://example.com/a",
		"https://example.com/#x#y":   "https://example.com/",
	}
	for in, want := range cases {
		if got := stripFragment(in); got != want {
			t.Errorf("stripFragment(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInScope(t *testing.T) {
	scopes := []*regexp.Regexp{
		regexp.MustCompile(`^https://example\.com/`),
	}
	if !inScope(scopes, "https://example.com/foo") {
		t.Error("expected in-scope match")
	}
	if inScope(scopes, "https://other.com/foo") {
		t.Error("expected out-of-scope url to not match")
	}
}

func TestShouldVisitOutOfScope(t *testing.T) {
	d := &Driver{
		cfg: Config{
			Scopes: []*regexp.Regexp{regexp.MustCompile(`^https://allowed\.example/`)},
		},
	}
	visit, reason := d.shouldVisit("https://denied.example/page")
	if visit {
		t.Fatal("expected out-of-scope url to be skipped")
	}
	if reason != "out_of_scope" {
		t.Errorf("expected reason out_of_scope, got %q", reason)
	}
}

func TestShouldVisitEmptyScopeAllowsAny(t *testing.T) {
	d := &Driver{cfg: Config{}}
	visit, _ := d.shouldVisit("https://anything.example/page")
	if !visit {
		t.Fatal("expected empty scope set to allow any url")
	}
}

func TestShouldVisitIndexLookupFailureStillVisits(t *testing.T) {
	recording := replay.New("http://127.0.0.1:1", 0).NewRecording("user", "coll", "rec")
	d := &Driver{
		cfg:       Config{},
		recording: recording,
	}
	// With an unreachable replay server, AlreadyRecorded errors and the
	// driver falls back to visiting rather than silently dropping URLs.
	visit, _ := d.shouldVisit("https://example.com/")
	if !visit {
		t.Fatal("expected replay-index lookup failure to not block visiting")
	}
}

func TestShouldVisitStripsFragmentBeforeScopeCheck(t *testing.T) {
	d := &Driver{
		cfg: Config{
			Scopes: []*regexp.Regexp{regexp.MustCompile(`^https://example\.com/a$`)},
		},
	}
	visit, _ := d.shouldVisit("https://example.com/a#section-2")
	if !visit {
		t.Fatal("expected fragment to be stripped before scope matching")
	}
}

func TestAwaitNavigatedFiltersByFrame(t *testing.T) {
	d := &Driver{events: make(chan frameEvent, 8)}
	d.push(frameEvent{frameID: "iframe-7", mime: "text/html"})
	d.push(frameEvent{frameID: "main", mime: "application/pdf"})

	mime, ok := d.awaitNavigated(context.Background(), "main")
	if !ok {
		t.Fatal("expected awaitNavigated to find the matching event")
	}
	if mime != "application/pdf" {
		t.Errorf("expected the main frame's mime type, got %q", mime)
	}
}

func TestAwaitStoppedIgnoresNavigatedEvents(t *testing.T) {
	d := &Driver{events: make(chan frameEvent, 8)}
	d.push(frameEvent{frameID: "main", mime: "text/html"})
	d.push(frameEvent{frameID: "main", stopped: true})

	if !d.awaitStopped(context.Background(), "main") {
		t.Fatal("expected awaitStopped to find the stopped event")
	}
}

func TestAwaitNavigatedReturnsOnContextCancel(t *testing.T) {
	d := &Driver{events: make(chan frameEvent, 8)}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, ok := d.awaitNavigated(ctx, "main"); ok {
		t.Fatal("expected awaitNavigated to give up once ctx ended")
	}
}

func TestDrainEventsDiscardsLeftovers(t *testing.T) {
	d := &Driver{events: make(chan frameEvent, 8)}
	d.push(frameEvent{frameID: "main", stopped: true})
	d.push(frameEvent{frameID: "main", mime: "text/html"})
	d.drainEvents()

	select {
	case ev := <-d.events:
		t.Fatalf("expected empty channel after drain, got %+v", ev)
	default:
	}
}

func TestHandleEventForwardsFrameLifecycle(t *testing.T) {
	d := &Driver{events: make(chan frameEvent, 8)}

	d.handleEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "f1", MimeType: "text/html"}})
	d.handleEvent(&page.EventFrameStoppedLoading{FrameID: "f1"})

	first := <-d.events
	if first.frameID != "f1" || first.stopped || first.mime != "text/html" {
		t.Fatalf("unexpected first event: %+v", first)
	}
	second := <-d.events
	if second.frameID != "f1" || !second.stopped {
		t.Fatalf("unexpected second event: %+v", second)
	}
}
