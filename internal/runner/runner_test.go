package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/webrecorder/autocontroller/internal/model"
	"github.com/webrecorder/autocontroller/internal/replay"
	"github.com/webrecorder/autocontroller/internal/shepherd"
	"github.com/webrecorder/autocontroller/internal/store"
)

func TestBuildConfigSkipsInvalidScopePatterns(t *testing.T) {
	a := &model.Automation{
		AutoID: "a1",
		Scopes: []string{"^https://example\\.com/", "("},
	}
	cfg := buildConfig(a)
	if len(cfg.Scopes) != 1 {
		t.Fatalf("expected 1 valid compiled scope, got %d", len(cfg.Scopes))
	}
}

func TestProcessReadyTransitionsToRunningWhenProvisioningUnavailable(t *testing.T) {
	db := store.NewMemStore()
	ctx := context.Background()

	a, err := model.Create(ctx, db, "coll-1", "alice", "my-crawl", model.CreateProps{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := model.Start(ctx, db, a.AutoID, "rec-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	shep := shepherd.New("http://127.0.0.1:1", 9222, 50*time.Millisecond, 10*time.Millisecond)
	warc := replay.New("http://127.0.0.1:1", 50*time.Millisecond)

	r := New(db, shep, warc, nil, a.AutoID)
	if err := r.Process(ctx); err != nil {
		t.Fatalf("Process: %v", err)
	}

	loaded, err := model.Load(ctx, db, a.AutoID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Status != model.StatusRunning {
		t.Errorf("expected status RUNNING after init_browsers even with no browsers provisioned, got %s", loaded.Status)
	}
}

func TestProcessFinishesWhenRecordingNotOpen(t *testing.T) {
	warcServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/recording/status" {
			w.Write([]byte(`{"open":false}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer warcServer.Close()

	db := store.NewMemStore()
	ctx := context.Background()

	a, err := model.Create(ctx, db, "coll-1", "alice", "my-crawl", model.CreateProps{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := model.Start(ctx, db, a.AutoID, "rec-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := db.SetInfoField(ctx, a.AutoID, "status", string(model.StatusRunning)); err != nil {
		t.Fatalf("SetInfoField: %v", err)
	}

	shep := shepherd.New("http://127.0.0.1:1", 9222, 50*time.Millisecond, 10*time.Millisecond)
	warc := replay.New(warcServer.URL, 2*time.Second)

	r := New(db, shep, warc, nil, a.AutoID)
	if err := r.Process(ctx); err != nil {
		t.Fatalf("Process: %v", err)
	}

	loaded, err := model.Load(ctx, db, a.AutoID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Status != model.StatusDone {
		t.Errorf("expected status DONE once recording reports not open, got %s", loaded.Status)
	}

	delAutos, err := db.DrainDelAuto(ctx)
	if err != nil {
		t.Fatalf("DrainDelAuto: %v", err)
	}
	if len(delAutos) != 1 || delAutos[0] != a.AutoID {
		t.Errorf("expected del-auto to contain %s, got %v", a.AutoID, delAutos)
	}
}

func TestProcessNoopsForInactiveAutomation(t *testing.T) {
	db := store.NewMemStore()
	ctx := context.Background()

	a, err := model.Create(ctx, db, "coll-1", "alice", "my-crawl", model.CreateProps{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	shep := shepherd.New("http://127.0.0.1:1", 9222, 50*time.Millisecond, 10*time.Millisecond)
	warc := replay.New("http://127.0.0.1:1", 50*time.Millisecond)

	r := New(db, shep, warc, nil, a.AutoID)
	if err := r.Process(ctx); err != nil {
		t.Fatalf("Process: %v", err)
	}

	loaded, err := model.Load(ctx, db, a.AutoID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Status != model.StatusInactive {
		t.Errorf("expected INACTIVE automation to be left untouched, got %s", loaded.Status)
	}
}
