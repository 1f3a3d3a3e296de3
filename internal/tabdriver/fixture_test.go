package tabdriver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLinkExtractorFixtureServesExtractLinksHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(LinkExtractorFixtureHTML))
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET fixture: %v", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, len(LinkExtractorFixtureHTML)+16)
	n, _ := resp.Body.Read(buf)
	body := string(buf[:n])

	if !strings.Contains(body, "window.extractLinks") {
		t.Fatal("expected fixture to define window.extractLinks")
	}
	if !strings.Contains(body, `href="/a"`) {
		t.Fatal("expected fixture to contain at least one relative anchor")
	}
}
