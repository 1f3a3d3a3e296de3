// Package eventlog buffers and persists crawl-lifecycle events
// (internal/events) to one append-only JSONL file per automation. Meta
// events flush and sync immediately; everything else is buffered with a
// deferred flush so a hot crawl does not fsync per page.
package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/webrecorder/autocontroller/internal/events"
)

const (
	// DefaultBufferSize is the default buffer size for log writers (8 KB),
	// comfortably more than a full event batch of serialized records.
	DefaultBufferSize = 8 * 1024

	// DefaultFlushInterval is the default interval between automatic flushes.
	DefaultFlushInterval = 100 * time.Millisecond

	// flushBatchEvents is how many buffered crawl events accumulate before
	// they are pushed to disk without waiting for the deferred flush. One
	// link-extraction pass over a dense page enqueues a few dozen
	// link.discovered records back to back; this bounds how much of such a
	// burst can sit unflushed.
	flushBatchEvents = 32
)

// autoWriter manages a single log file for one automation.
type autoWriter struct {
	file       *os.File
	writer     *bufio.Writer
	flushTimer *time.Timer
	pending    int // events buffered since the last flush
	mu         sync.Mutex
	autoID     string
}

// Manager manages log files for all automations.
type Manager struct {
	baseDir       string
	files         map[string]*autoWriter // key: autoID
	mu            sync.RWMutex
	flushInterval time.Duration
	bufferSize    int
}

// NewManager creates a new Manager rooted at baseDir.
func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir:       baseDir,
		files:         make(map[string]*autoWriter),
		flushInterval: DefaultFlushInterval,
		bufferSize:    DefaultBufferSize,
	}
}

// SetFlushInterval sets the flush interval for automatic flushing.
func (m *Manager) SetFlushInterval(interval time.Duration) {
	m.flushInterval = interval
}

// SetBufferSize sets the buffer size for new writers.
func (m *Manager) SetBufferSize(size int) {
	m.bufferSize = size
}

// LogPath returns the on-disk path of an automation's event log.
func LogPath(baseDir, autoID string) string {
	return filepath.Join(baseDir, autoID+".jsonl")
}

func (m *Manager) getWriter(autoID string) (*autoWriter, error) {
	m.mu.RLock()
	if aw, exists := m.files[autoID]; exists {
		m.mu.RUnlock()
		return aw, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if aw, exists := m.files[autoID]; exists {
		return aw, nil
	}

	path := LogPath(m.baseDir, autoID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	aw := &autoWriter{
		file:   f,
		writer: bufio.NewWriterSize(f, m.bufferSize),
		autoID: autoID,
	}

	m.files[autoID] = aw
	return aw, nil
}

// WriteEvent appends event to its automation's log file.
func (m *Manager) WriteEvent(event *events.LogEvent) error {
	aw, err := m.getWriter(event.AutoID)
	if err != nil {
		return err
	}

	aw.mu.Lock()
	defer aw.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if _, err := aw.writer.Write(append(data, '\n')); err != nil {
		return err
	}
	aw.pending++

	return m.flushAfterWrite(aw, event.EventType)
}

// flushAfterWrite applies the per-event flush policy. Lifecycle markers
// (meta.*) are rare and must survive a controller crash, so they sync
// through immediately. Everything else is a page/link/browser record: those
// arrive in bursts, one per tab per navigation and a batch per extraction
// pass, so they ride the buffer until a batch's worth has accumulated or
// the deferred flush fires during a lull between navigations.
func (m *Manager) flushAfterWrite(aw *autoWriter, eventType string) error {
	if strings.HasPrefix(eventType, "meta.") {
		if err := aw.writer.Flush(); err != nil {
			return err
		}
		if err := aw.file.Sync(); err != nil {
			return err
		}
		aw.pending = 0
		aw.cancelFlushTimer()
		return nil
	}

	if aw.pending >= flushBatchEvents {
		if err := aw.writer.Flush(); err != nil {
			return err
		}
		aw.pending = 0
		aw.cancelFlushTimer()
		return nil
	}

	aw.scheduleFlush(m.flushInterval)
	return nil
}

func (aw *autoWriter) scheduleFlush(interval time.Duration) {
	if aw.flushTimer != nil {
		return
	}
	aw.flushTimer = time.AfterFunc(interval, func() {
		aw.mu.Lock()
		defer aw.mu.Unlock()
		_ = aw.writer.Flush()
		aw.pending = 0
		aw.flushTimer = nil
	})
}

func (aw *autoWriter) cancelFlushTimer() {
	if aw.flushTimer != nil {
		aw.flushTimer.Stop()
		aw.flushTimer = nil
	}
}

// CloseAutomation closes and flushes the log file for one automation, used
// when its runner is discarded on DONE or delete.
func (m *Manager) CloseAutomation(autoID string) error {
	m.mu.Lock()
	aw, exists := m.files[autoID]
	if !exists {
		m.mu.Unlock()
		return nil
	}
	delete(m.files, autoID)
	m.mu.Unlock()

	aw.mu.Lock()
	defer aw.mu.Unlock()

	aw.cancelFlushTimer()
	if err := aw.writer.Flush(); err != nil {
		return err
	}
	if err := aw.file.Sync(); err != nil {
		return err
	}
	return aw.file.Close()
}

// Close closes all open log files.
func (m *Manager) Close() error {
	m.mu.Lock()
	writers := make([]*autoWriter, 0, len(m.files))
	for _, aw := range m.files {
		writers = append(writers, aw)
	}
	m.files = make(map[string]*autoWriter)
	m.mu.Unlock()

	var lastErr error
	for _, aw := range writers {
		aw.mu.Lock()
		aw.cancelFlushTimer()
		if err := aw.writer.Flush(); err != nil {
			lastErr = err
		}
		if err := aw.file.Sync(); err != nil {
			lastErr = err
		}
		if err := aw.file.Close(); err != nil {
			lastErr = err
		}
		aw.mu.Unlock()
	}

	return lastErr
}

// GetOpenFiles returns the number of currently open log files.
func (m *Manager) GetOpenFiles() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}
