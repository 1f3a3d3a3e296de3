package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewLogEvent(t *testing.T) {
	before := time.Now().UTC()
	event := NewLogEvent("a1", "req-1", "test.event", map[string]interface{}{
		"key": "value",
	})
	after := time.Now().UTC()

	if event.AutoID != "a1" {
		t.Errorf("expected AutoID 'a1', got %s", event.AutoID)
	}
	if event.ReqID != "req-1" {
		t.Errorf("expected ReqID 'req-1', got %s", event.ReqID)
	}
	if event.EventType != "test.event" {
		t.Errorf("expected EventType 'test.event', got %s", event.EventType)
	}
	if event.Data["key"] != "value" {
		t.Errorf("expected Data['key'] 'value', got %v", event.Data["key"])
	}

	ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
	if err != nil {
		t.Errorf("failed to parse timestamp: %v", err)
	}
	if ts.Before(before) || ts.After(after) {
		t.Errorf("timestamp %v not in expected range [%v, %v]", ts, before, after)
	}
}

func TestLogEventJSON(t *testing.T) {
	event := NewLogEvent("a1", "req-1", EventPageVisited, map[string]interface{}{
		"url": "https://example.com",
	})

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	jsonStr := string(data)
	if !strings.Contains(jsonStr, `"auto_id":"a1"`) {
		t.Error("JSON missing auto_id field")
	}
	if !strings.Contains(jsonStr, `"reqid":"req-1"`) {
		t.Error("JSON missing reqid field")
	}
	if !strings.Contains(jsonStr, `"event_type":"page.visited"`) {
		t.Error("JSON missing event_type field")
	}
	if !strings.Contains(jsonStr, `"timestamp"`) {
		t.Error("JSON missing timestamp field")
	}

	var decoded LogEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	if decoded.AutoID != event.AutoID {
		t.Errorf("decoded AutoID mismatch: got %s, want %s", decoded.AutoID, event.AutoID)
	}
}

func TestLogEventOmitsEmptyReqID(t *testing.T) {
	event := NewLogEvent("a1", "", EventMetaAutomationCreated, map[string]interface{}{})

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	if strings.Contains(string(data), `"reqid"`) {
		t.Error("expected reqid to be omitted when empty")
	}
}

func TestNewAutomationCreatedEvent(t *testing.T) {
	event := NewAutomationCreatedEvent("a1", 2, 1, 3)

	if event.EventType != EventMetaAutomationCreated {
		t.Errorf("expected EventType %s, got %s", EventMetaAutomationCreated, event.EventType)
	}
	if event.AutoID != "a1" {
		t.Errorf("expected AutoID 'a1', got %s", event.AutoID)
	}
	if event.Data["max_browsers"] != 2 {
		t.Errorf("expected max_browsers 2, got %v", event.Data["max_browsers"])
	}
	if event.Data["hops"] != 3 {
		t.Errorf("expected hops 3, got %v", event.Data["hops"])
	}
}

func TestNewAutomationStartedEvent(t *testing.T) {
	event := NewAutomationStartedEvent("a1", "rec-1")

	if event.EventType != EventMetaAutomationStarted {
		t.Errorf("expected EventType %s, got %s", EventMetaAutomationStarted, event.EventType)
	}
	if event.Data["recording_id"] != "rec-1" {
		t.Errorf("expected recording_id 'rec-1', got %v", event.Data["recording_id"])
	}
}

func TestNewBrowserProvisionedEvent(t *testing.T) {
	event := NewBrowserProvisionedEvent("a1", "req-1", "10.0.0.5", 2)

	if event.EventType != EventBrowserProvisioned {
		t.Errorf("expected EventType %s, got %s", EventBrowserProvisioned, event.EventType)
	}
	if event.ReqID != "req-1" {
		t.Errorf("expected ReqID 'req-1', got %s", event.ReqID)
	}
	if event.Data["ip"] != "10.0.0.5" {
		t.Errorf("expected ip '10.0.0.5', got %v", event.Data["ip"])
	}
	if event.Data["num_tabs"] != 2 {
		t.Errorf("expected num_tabs 2, got %v", event.Data["num_tabs"])
	}
}

func TestNewBrowserAdoptedEvent(t *testing.T) {
	event := NewBrowserAdoptedEvent("a1", "req-1", "10.0.0.5")

	if event.EventType != EventBrowserAdopted {
		t.Errorf("expected EventType %s, got %s", EventBrowserAdopted, event.EventType)
	}
	if event.Data["ip"] != "10.0.0.5" {
		t.Errorf("expected ip '10.0.0.5', got %v", event.Data["ip"])
	}
}

func TestNewBrowserClosedEvent(t *testing.T) {
	event := NewBrowserClosedEvent("a1", "req-1")
	if event.EventType != EventBrowserClosed {
		t.Errorf("expected EventType %s, got %s", EventBrowserClosed, event.EventType)
	}
	if event.ReqID != "req-1" {
		t.Errorf("expected ReqID 'req-1', got %s", event.ReqID)
	}
}

func TestNewErrorEvent(t *testing.T) {
	event := NewErrorEvent("a1", "req-1", EventErrorProvision, "request_new_browser: connection refused")

	if event.EventType != EventErrorProvision {
		t.Errorf("expected EventType %s, got %s", EventErrorProvision, event.EventType)
	}
	if event.Data["message"] != "request_new_browser: connection refused" {
		t.Errorf("unexpected message: %v", event.Data["message"])
	}
}

func TestNewBrowserCrashedEvent(t *testing.T) {
	event := NewBrowserCrashedEvent("a1", "req-1")
	if event.EventType != EventBrowserCrashed {
		t.Errorf("expected EventType %s, got %s", EventBrowserCrashed, event.EventType)
	}
}

func TestNewPageVisitedEvent(t *testing.T) {
	event := NewPageVisitedEvent("a1", "req-1", "tab-1", "https://example.com", 2)

	if event.EventType != EventPageVisited {
		t.Errorf("expected EventType %s, got %s", EventPageVisited, event.EventType)
	}
	if event.Data["url"] != "https://example.com" {
		t.Errorf("expected url 'https://example.com', got %v", event.Data["url"])
	}
	if event.Data["hops"] != 2 {
		t.Errorf("expected hops 2, got %v", event.Data["hops"])
	}
}

func TestNewPageSkippedEvent(t *testing.T) {
	event := NewPageSkippedEvent("a1", "req-1", "https://other.test/", "out_of_scope")

	if event.EventType != EventPageSkipped {
		t.Errorf("expected EventType %s, got %s", EventPageSkipped, event.EventType)
	}
	if event.Data["reason"] != "out_of_scope" {
		t.Errorf("expected reason 'out_of_scope', got %v", event.Data["reason"])
	}
}

func TestNewLinkDiscoveredEvent(t *testing.T) {
	event := NewLinkDiscoveredEvent("a1", "req-1", "https://example.com/a", "https://example.com/b", 1)

	if event.EventType != EventLinkDiscovered {
		t.Errorf("expected EventType %s, got %s", EventLinkDiscovered, event.EventType)
	}
	if event.Data["from_url"] != "https://example.com/a" {
		t.Errorf("expected from_url, got %v", event.Data["from_url"])
	}
	if event.Data["to_url"] != "https://example.com/b" {
		t.Errorf("expected to_url, got %v", event.Data["to_url"])
	}
}

func TestEventTypeConstants(t *testing.T) {
	tests := []struct {
		name     string
		constant string
		prefix   string
	}{
		{"automation created", EventMetaAutomationCreated, "meta."},
		{"automation done", EventMetaAutomationDone, "meta."},
		{"browser provisioned", EventBrowserProvisioned, "browser."},
		{"browser crashed", EventBrowserCrashed, "browser."},
		{"page visited", EventPageVisited, "page."},
		{"page skipped", EventPageSkipped, "page."},
		{"link discovered", EventLinkDiscovered, "link."},
		{"error navigation", EventErrorNavigation, "error."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.HasPrefix(tt.constant, tt.prefix) {
				t.Errorf("constant %s should have prefix %s", tt.constant, tt.prefix)
			}
		})
	}
}
