package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/webrecorder/autocontroller/internal/events"
)

func TestNewManager(t *testing.T) {
	m := NewManager("/test/dir")

	if m.baseDir != "/test/dir" {
		t.Errorf("baseDir = %q, want %q", m.baseDir, "/test/dir")
	}
	if m.flushInterval != DefaultFlushInterval {
		t.Errorf("flushInterval = %v, want %v", m.flushInterval, DefaultFlushInterval)
	}
	if m.bufferSize != DefaultBufferSize {
		t.Errorf("bufferSize = %d, want %d", m.bufferSize, DefaultBufferSize)
	}
	if m.files == nil {
		t.Error("files map is nil")
	}
}

func TestManagerSetFlushInterval(t *testing.T) {
	m := NewManager("/test")
	m.SetFlushInterval(200 * time.Millisecond)

	if m.flushInterval != 200*time.Millisecond {
		t.Errorf("flushInterval = %v, want %v", m.flushInterval, 200*time.Millisecond)
	}
}

func TestManagerWriteAndClose(t *testing.T) {
	tmpDir := t.TempDir()
	m := NewManager(tmpDir)

	event := events.NewAutomationCreatedEvent("a1", 2, 1, 0)
	if err := m.WriteEvent(event); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}

	if err := m.CloseAutomation("a1"); err != nil {
		t.Fatalf("CloseAutomation: %v", err)
	}

	f, err := os.Open(LogPath(tmpDir, "a1"))
	if err != nil {
		t.Fatalf("failed to open log file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("expected at least one line in the log file")
	}

	var decoded events.LogEvent
	if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	if decoded.AutoID != "a1" {
		t.Errorf("expected auto_id a1, got %s", decoded.AutoID)
	}
	if decoded.EventType != events.EventMetaAutomationCreated {
		t.Errorf("expected event type %s, got %s", events.EventMetaAutomationCreated, decoded.EventType)
	}
}

func TestManagerMetaEventsFlushImmediately(t *testing.T) {
	tmpDir := t.TempDir()
	m := NewManager(tmpDir)
	// Long flush interval so only the meta-event immediate-sync path could
	// possibly make the bytes visible before Close.
	m.SetFlushInterval(time.Hour)

	event := events.NewAutomationDoneEvent("a1")
	if err := m.WriteEvent(event); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}

	data, err := os.ReadFile(LogPath(tmpDir, "a1"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected meta event to be flushed to disk immediately")
	}

	m.Close()
}

func TestManagerFlushesAfterEventBatch(t *testing.T) {
	tmpDir := t.TempDir()
	m := NewManager(tmpDir)
	// Long flush interval so only the batch threshold could possibly make
	// the bytes visible before Close.
	m.SetFlushInterval(time.Hour)

	for i := 0; i < flushBatchEvents; i++ {
		ev := events.NewLinkDiscoveredEvent("a1", "req-1", "https://example.com/", "https://example.com/next", 0)
		if err := m.WriteEvent(ev); err != nil {
			t.Fatalf("WriteEvent %d: %v", i, err)
		}
	}

	data, err := os.ReadFile(LogPath(tmpDir, "a1"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected a full batch of events to be flushed without waiting for the timer")
	}

	m.Close()
}

func TestManagerSeparatesAutomations(t *testing.T) {
	tmpDir := t.TempDir()
	m := NewManager(tmpDir)

	m.WriteEvent(events.NewAutomationCreatedEvent("a1", 2, 1, 0))
	m.WriteEvent(events.NewAutomationCreatedEvent("a2", 2, 1, 0))

	if m.GetOpenFiles() != 2 {
		t.Errorf("expected 2 open files, got %d", m.GetOpenFiles())
	}

	m.Close()

	if m.GetOpenFiles() != 0 {
		t.Errorf("expected 0 open files after Close, got %d", m.GetOpenFiles())
	}
}
