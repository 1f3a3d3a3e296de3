// Package replay is the client for the recording proxy's WARC index server
// and the minimal recording-liveness/add_page surface the tab driver and
// runner need from it.
package replay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client talks to one warcserver-style recording proxy.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a replay/recording client.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// AlreadyRecorded reports whether rawURL is already present in the
// recording's replay index. A non-empty response body means "already
// recorded".
func (c *Client) AlreadyRecorded(user, coll, rec, rawURL string) (bool, error) {
	q := url.Values{}
	q.Set("param.user", user)
	q.Set("param.coll", coll)
	q.Set("param.rec", rec)
	q.Set("allowFuzzy", "0")
	q.Set("url", rawURL)

	resp, err := c.httpClient.Get(c.baseURL + "/replay/index?" + q.Encode())
	if err != nil {
		return false, fmt.Errorf("replay: index query: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 1)
	n, _ := resp.Body.Read(buf)
	return n > 0, nil
}

// Recording is a handle to one attached recording.
type Recording struct {
	client         *Client
	userName       string
	collectionName string
	recordingID    string
}

// NewRecording constructs a Recording handle addressing one recording.
func (c *Client) NewRecording(userName, collectionName, recordingID string) *Recording {
	return &Recording{
		client:         c,
		userName:       userName,
		collectionName: collectionName,
		recordingID:    recordingID,
	}
}

// AlreadyRecorded checks the replay index for this recording specifically.
func (r *Recording) AlreadyRecorded(rawURL string) (bool, error) {
	return r.client.AlreadyRecorded(r.userName, r.collectionName, r.recordingID, rawURL)
}

type openResponse struct {
	Open bool `json:"open"`
}

// IsOpen reports whether the recording is still accepting pages. The
// runner treats a closed recording as terminal for its automation.
func (r *Recording) IsOpen() (bool, error) {
	q := url.Values{}
	q.Set("user", r.userName)
	q.Set("coll", r.collectionName)
	q.Set("rec", r.recordingID)

	resp, err := r.client.httpClient.Get(r.client.baseURL + "/recording/status?" + q.Encode())
	if err != nil {
		return false, fmt.Errorf("replay: recording status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("replay: recording status: unexpected status %d", resp.StatusCode)
	}

	var out openResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("replay: decode recording status: %w", err)
	}
	return out.Open, nil
}

// AddPage records a page directly, used for non-HTML top-frame responses
// where the recording proxy would not otherwise see a first-byte event.
func (r *Recording) AddPage(pageURL, title, ts, browser string) error {
	body := map[string]string{
		"user":    r.userName,
		"coll":    r.collectionName,
		"rec":     r.recordingID,
		"url":     pageURL,
		"title":   title,
		"ts":      ts,
		"browser": browser,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("replay: encode add_page: %w", err)
	}

	resp, err := r.client.httpClient.Post(r.client.baseURL+"/add_page", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("replay: add_page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("replay: add_page: unexpected status %d", resp.StatusCode)
	}
	return nil
}
