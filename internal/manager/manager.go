// Package manager owns the set of live automation runners: it discovers
// non-terminal automations at startup, and on a fixed tick drains the
// new-auto/del-auto notification queues and calls Process on every runner
// it still holds.
package manager

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/webrecorder/autocontroller/internal/model"
	"github.com/webrecorder/autocontroller/internal/runner"
	"github.com/webrecorder/autocontroller/internal/store"
)

// Manager holds one runner per non-DONE automation and drives them forward
// on a fixed interval.
type Manager struct {
	db store.Store

	newRunner func(autoID string) *runner.Runner

	tickInterval time.Duration

	mu      sync.Mutex
	runners map[string]*runner.Runner
}

// New constructs a Manager. newRunner lets callers inject a runner
// constructor; it closes over the shepherd/replay clients and the event log
// manager, which this package does not otherwise need to know about.
func New(db store.Store, tickInterval time.Duration, newRunner func(autoID string) *runner.Runner) *Manager {
	return &Manager{
		db:           db,
		newRunner:    newRunner,
		tickInterval: tickInterval,
		runners:      make(map[string]*runner.Runner),
	}
}

// Bootstrap scans the key space for every automation whose status is not
// DONE and instantiates a runner for each, re-adopting work that survived a
// controller restart.
func (m *Manager) Bootstrap(ctx context.Context) error {
	ids, err := m.db.ScanAutomationIDs(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		a, err := model.Load(ctx, m.db, id)
		if err != nil {
			log.Printf("manager: skipping automation %s during bootstrap: %v", id, err)
			continue
		}
		if a.Status == model.StatusDone {
			continue
		}
		m.addRunner(id)
	}
	return nil
}

func (m *Manager) addRunner(autoID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runners[autoID]; ok {
		return
	}
	m.runners[autoID] = m.newRunner(autoID)
}

func (m *Manager) removeRunner(ctx context.Context, autoID string) {
	m.mu.Lock()
	r, ok := m.runners[autoID]
	delete(m.runners, autoID)
	m.mu.Unlock()
	if ok {
		r.Close(ctx)
	}
}

// Run drives the manager's tick loop until ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick executes one iteration of the main loop: drain new-auto into new
// runners, drain del-auto to close and discard runners, then call Process
// on everything left.
func (m *Manager) Tick(ctx context.Context) {
	newIDs, err := m.db.DrainNewAuto(ctx)
	if err != nil {
		log.Printf("manager: drain new-auto: %v", err)
	}
	for _, id := range newIDs {
		m.addRunner(id)
	}

	delIDs, err := m.db.DrainDelAuto(ctx)
	if err != nil {
		log.Printf("manager: drain del-auto: %v", err)
	}
	for _, id := range delIDs {
		m.removeRunner(ctx, id)
	}

	m.mu.Lock()
	runners := make([]*runner.Runner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	m.mu.Unlock()

	for _, r := range runners {
		if err := r.Process(ctx); err != nil {
			log.Printf("manager: process automation %s: %v", r.AutoID(), err)
		}
	}
}

// RunnerCount reports how many runners the manager currently holds, for
// tests and observability.
func (m *Manager) RunnerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runners)
}
