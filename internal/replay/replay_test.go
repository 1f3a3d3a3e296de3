package replay

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAlreadyRecorded(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected bool
	}{
		{name: "empty body means not recorded", body: "", expected: false},
		{name: "non-empty body means already recorded", body: `{"url":"http://a.com"}`, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/replay/index" {
					t.Errorf("expected path /replay/index, got %s", r.URL.Path)
				}
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := New(server.URL, 5*time.Second)
			got, err := c.AlreadyRecorded("user1", "coll1", "rec1", "http://a.com")
			if err != nil {
				t.Fatalf("AlreadyRecorded: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestRecordingIsOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"open": true}`))
	}))
	defer server.Close()

	c := New(server.URL, 5*time.Second)
	rec := c.NewRecording("u", "c", "r")

	open, err := rec.IsOpen()
	if err != nil {
		t.Fatalf("IsOpen: %v", err)
	}
	if !open {
		t.Error("expected recording to be open")
	}
}

func TestRecordingIsOpenNotFoundMeansClosed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := New(server.URL, 5*time.Second)
	rec := c.NewRecording("u", "c", "r")

	open, err := rec.IsOpen()
	if err != nil {
		t.Fatalf("IsOpen: %v", err)
	}
	if open {
		t.Error("expected recording to report closed on 404")
	}
}

func TestRecordingAddPage(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.URL.Path != "/add_page" {
			t.Errorf("expected path /add_page, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL, 5*time.Second)
	rec := c.NewRecording("u", "c", "r")

	if err := rec.AddPage("http://a.com/doc.pdf", "http://a.com/doc.pdf", "", "chrome:60"); err != nil {
		t.Fatalf("AddPage: %v", err)
	}
	if !called {
		t.Error("expected add_page endpoint to be called")
	}
}
