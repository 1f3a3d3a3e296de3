package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemStore is an in-memory Store used in tests so frontier, model, and
// runner logic can be exercised without a live Redis.
type MemStore struct {
	mu sync.Mutex

	info     map[string]map[string]string
	scopes   map[string][]string
	queues   map[string][]QueueEntry
	pops     map[string]chan struct{} // signaled on enqueue/requeue, per automation
	browsers map[string]map[string]struct{}
	tabs     map[string]map[string]BrowserTabs // autoID -> reqid -> tabs
	newAuto  []string
	delAuto  []string
	counter  int64

	subsMu sync.Mutex
	subs   map[string][]*memSubscription
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		info:     make(map[string]map[string]string),
		scopes:   make(map[string][]string),
		queues:   make(map[string][]QueueEntry),
		pops:     make(map[string]chan struct{}),
		browsers: make(map[string]map[string]struct{}),
		tabs:     make(map[string]map[string]BrowserTabs),
		subs:     make(map[string][]*memSubscription),
	}
}

func (s *MemStore) SetInfo(ctx context.Context, autoID string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.info[autoID]
	if !ok {
		m = make(map[string]string)
		s.info[autoID] = m
	}
	for k, v := range fields {
		m[k] = v
	}
	return nil
}

func (s *MemStore) GetInfo(ctx context.Context, autoID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.info[autoID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

func (s *MemStore) SetInfoField(ctx context.Context, autoID, field, value string) error {
	return s.SetInfo(ctx, autoID, map[string]string{field: value})
}

func (s *MemStore) DeleteAutomation(ctx context.Context, autoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.info, autoID)
	delete(s.scopes, autoID)
	delete(s.queues, autoID)
	delete(s.browsers, autoID)
	delete(s.tabs, autoID)
	delete(s.pops, autoID)
	return nil
}

func (s *MemStore) ScanAutomationIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.info))
	for id := range s.info {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemStore) SetScopes(ctx context.Context, autoID string, scopes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[autoID] = append([]string(nil), scopes...)
	return nil
}

func (s *MemStore) GetScopes(ctx context.Context, autoID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.scopes[autoID]...), nil
}

func (s *MemStore) signal(autoID string) {
	ch, ok := s.pops[autoID]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *MemStore) Enqueue(ctx context.Context, autoID string, url string, hops int) error {
	s.mu.Lock()
	s.queues[autoID] = append(s.queues[autoID], QueueEntry{URL: url, Hops: hops})
	s.mu.Unlock()
	s.signal(autoID)
	return nil
}

func (s *MemStore) RequeueFront(ctx context.Context, autoID string, url string, hops int) error {
	s.mu.Lock()
	s.queues[autoID] = append([]QueueEntry{{URL: url, Hops: hops}}, s.queues[autoID]...)
	s.mu.Unlock()
	s.signal(autoID)
	return nil
}

func (s *MemStore) tryPop(autoID string) (string, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[autoID]
	if len(q) == 0 {
		return "", 0, false
	}
	entry := q[0]
	s.queues[autoID] = q[1:]
	return entry.URL, entry.Hops, true
}

func (s *MemStore) waitChan(autoID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.pops[autoID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.pops[autoID] = ch
	}
	return ch
}

func (s *MemStore) PopBlocking(ctx context.Context, autoID string, timeout time.Duration) (string, int, bool, error) {
	if url, hops, ok := s.tryPop(autoID); ok {
		return url, hops, true, nil
	}

	ch := s.waitChan(autoID)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", 0, false, ctx.Err()
	case <-timer.C:
		return "", 0, false, nil
	case <-ch:
		if url, hops, ok := s.tryPop(autoID); ok {
			return url, hops, true, nil
		}
		return "", 0, false, nil
	}
}

func (s *MemStore) SnapshotQueue(ctx context.Context, autoID string) ([]QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QueueEntry, len(s.queues[autoID]))
	copy(out, s.queues[autoID])
	return out, nil
}

func (s *MemStore) AddBrowser(ctx context.Context, autoID, reqid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.browsers[autoID]
	if !ok {
		set = make(map[string]struct{})
		s.browsers[autoID] = set
	}
	set[reqid] = struct{}{}
	return nil
}

func (s *MemStore) RemoveBrowser(ctx context.Context, autoID, reqid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.browsers[autoID], reqid)
	return nil
}

func (s *MemStore) ListBrowsers(ctx context.Context, autoID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.browsers[autoID]))
	for r := range s.browsers[autoID] {
		out = append(out, r)
	}
	return out, nil
}

func (s *MemStore) SetTabURL(ctx context.Context, autoID, reqid, tabID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byReqid, ok := s.tabs[autoID]
	if !ok {
		byReqid = make(map[string]BrowserTabs)
		s.tabs[autoID] = byReqid
	}
	tabs, ok := byReqid[reqid]
	if !ok {
		tabs = make(BrowserTabs)
		byReqid[reqid] = tabs
	}
	tabs[tabID] = url
	return nil
}

func (s *MemStore) ClearTabURL(ctx context.Context, autoID, reqid, tabID string) error {
	return s.SetTabURL(ctx, autoID, reqid, tabID, "")
}

func (s *MemStore) GetTabs(ctx context.Context, autoID, reqid string) (BrowserTabs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(BrowserTabs)
	for k, v := range s.tabs[autoID][reqid] {
		out[k] = v
	}
	return out, nil
}

func (s *MemStore) DeleteTabs(ctx context.Context, autoID, reqid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tabs[autoID], reqid)
	return nil
}

func (s *MemStore) SnapshotAllTabs(ctx context.Context, autoID string) (map[string]BrowserTabs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]BrowserTabs, len(s.tabs[autoID]))
	for reqid, tabs := range s.tabs[autoID] {
		cp := make(BrowserTabs, len(tabs))
		for k, v := range tabs {
			cp[k] = v
		}
		out[reqid] = cp
	}
	return out, nil
}

func (s *MemStore) PushNewAuto(ctx context.Context, autoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newAuto = append(s.newAuto, autoID)
	return nil
}

func (s *MemStore) PushDelAuto(ctx context.Context, autoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delAuto = append(s.delAuto, autoID)
	return nil
}

func (s *MemStore) DrainNewAuto(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.newAuto
	s.newAuto = nil
	return out, nil
}

func (s *MemStore) DrainDelAuto(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.delAuto
	s.delAuto = nil
	return out, nil
}

func (s *MemStore) NextAutomationID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return strconv.FormatInt(s.counter, 10), nil
}

func (s *MemStore) Publish(ctx context.Context, channel string, payload []byte) error {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs[channel] {
		select {
		case sub.ch <- payload:
		default:
		}
	}
	return nil
}

func (s *MemStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	sub := &memSubscription{
		ch:      make(chan []byte, 16),
		store:   s,
		channel: channel,
	}
	s.subs[channel] = append(s.subs[channel], sub)
	return sub, nil
}

func (s *MemStore) unsubscribe(sub *memSubscription) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	peers := s.subs[sub.channel]
	for i, p := range peers {
		if p == sub {
			s.subs[sub.channel] = append(peers[:i], peers[i+1:]...)
			break
		}
	}
}

type memSubscription struct {
	ch        chan []byte
	store     *MemStore
	channel   string
	closeOnce sync.Once
}

func (m *memSubscription) Messages() <-chan []byte { return m.ch }

func (m *memSubscription) Close() error {
	m.closeOnce.Do(func() {
		m.store.unsubscribe(m)
		close(m.ch)
	})
	return nil
}
