// Package shepherd is the client for the external browser-provisioning
// service: it requests browsers by reqid, polls them up, and addresses each
// one's CDP endpoint on whatever host the service placed it.
package shepherd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Tab is one CDP page target as returned by /json.
type Tab struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// ProvisionRequest is the cdata sent to request_new_browser. The browser
// tag and optional replay-time pin are threaded straight through to the
// provisioning service.
type ProvisionRequest struct {
	UserName       string `json:"user"`
	CollectionName string `json:"coll"`
	RecordingID    string `json:"rec"`
	Tag            string `json:"browser"`
	Type           string `json:"type"`
	RequestTS      string `json:"request_ts,omitempty"`
}

type provisionResponse struct {
	ReqID string `json:"reqid"`
}

// initBrowserResponse is the /init_browser poll response. CmdHost is empty
// while the browser is still coming up.
type initBrowserResponse struct {
	IP      string `json:"ip"`
	CmdHost string `json:"cmd_host"`
}

// Client talks to the provisioning service at baseURL.
type Client struct {
	baseURL      string
	debugPort    int
	pollInterval time.Duration
	httpClient   *http.Client
}

// New returns a shepherd client. debugPort is the CDP debugging port
// exposed by every provisioned browser, typically 9222. pollInterval is the
// /init_browser poll interval during bring-up.
func New(baseURL string, debugPort int, timeout, pollInterval time.Duration) *Client {
	return &Client{
		baseURL:      baseURL,
		debugPort:    debugPort,
		pollInterval: pollInterval,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// RequestNewBrowser calls POST request_new_browser and returns the assigned
// reqid.
func (c *Client) RequestNewBrowser(req ProvisionRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("shepherd: encode provision request: %w", err)
	}

	resp, err := c.httpClient.Post(c.baseURL+"/request_new_browser", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("shepherd: request_new_browser: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("shepherd: request_new_browser: unexpected status %d", resp.StatusCode)
	}

	var out provisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("shepherd: decode provision response: %w", err)
	}
	return out.ReqID, nil
}

// WaitForBrowser polls /init_browser until cmd_host appears, sleeping
// pollInterval between attempts, and returns the browser's IP. A JSON parse
// failure aborts the provision; the runner retries on its next tick.
func (c *Client) WaitForBrowser(reqid string) (ip string, err error) {
	for {
		resp, err := c.httpClient.Get(c.baseURL + "/init_browser?reqid=" + url.QueryEscape(reqid))
		if err != nil {
			return "", fmt.Errorf("shepherd: init_browser poll: %w", err)
		}

		var info initBrowserResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&info)
		resp.Body.Close()
		if decodeErr != nil {
			return "", fmt.Errorf("shepherd: init_browser response parse failure, aborting provision: %w", decodeErr)
		}

		if info.CmdHost != "" {
			return info.IP, nil
		}

		time.Sleep(c.pollInterval)
	}
}

// debugAddr resolves the host:port to query for a provisioned browser's CDP
// endpoint. Most deployments return a bare host from /init_browser and every
// browser listens on the same configured debug port; devshepherd instead
// returns "host:port" directly (each local Chrome gets its own port), so an
// embedded colon overrides the client's configured debugPort.
func (c *Client) debugAddr(ip string) string {
	if strings.Contains(ip, ":") {
		return ip
	}
	return fmt.Sprintf("%s:%d", ip, c.debugPort)
}

// ListTabs queries GET http://<ip>:port/json for the browser's current CDP
// tab list.
func (c *Client) ListTabs(ip string) ([]Tab, error) {
	resp, err := c.httpClient.Get(fmt.Sprintf("http://%s/json", c.debugAddr(ip)))
	if err != nil {
		return nil, fmt.Errorf("shepherd: list tabs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("shepherd: list tabs: unexpected status %d", resp.StatusCode)
	}

	var tabs []Tab
	if err := json.NewDecoder(resp.Body).Decode(&tabs); err != nil {
		return nil, fmt.Errorf("shepherd: decode tab list: %w", err)
	}
	return tabs, nil
}

// PageTabs filters ListTabs down to type=="page" targets.
func (c *Client) PageTabs(ip string) ([]Tab, error) {
	tabs, err := c.ListTabs(ip)
	if err != nil {
		return nil, err
	}
	var pages []Tab
	for _, t := range tabs {
		if t.Type == "page" {
			pages = append(pages, t)
		}
	}
	return pages, nil
}

// WaitForPageTabs polls the browser's /json endpoint until at least one
// type=="page" target is listed, sleeping pollInterval between attempts. A
// freshly started browser can report zero page targets for its first few
// hundred milliseconds; that is not a failed provision, just one that needs
// another poll. An HTTP or decode error still aborts.
func (c *Client) WaitForPageTabs(ip string) ([]Tab, error) {
	for {
		pages, err := c.PageTabs(ip)
		if err != nil {
			return nil, err
		}
		if len(pages) > 0 {
			return pages, nil
		}
		time.Sleep(c.pollInterval)
	}
}

// OpenTab opens an additional CDP tab via GET /json/new.
func (c *Client) OpenTab(ip string) (Tab, error) {
	resp, err := c.httpClient.Get(fmt.Sprintf("http://%s/json/new", c.debugAddr(ip)))
	if err != nil {
		return Tab{}, fmt.Errorf("shepherd: open tab: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Tab{}, fmt.Errorf("shepherd: open tab: unexpected status %d", resp.StatusCode)
	}

	var t Tab
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return Tab{}, fmt.Errorf("shepherd: decode new tab: %w", err)
	}
	return t, nil
}

// DeleteBrowser tears down one provisioned browser.
func (c *Client) DeleteBrowser(reqid string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/delete_browser/"+url.PathEscape(reqid), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("shepherd: delete_browser: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("shepherd: delete_browser: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// DeleteAll tears down every browser known to the provisioning service.
func (c *Client) DeleteAll() error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/delete_all", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("shepherd: delete_all: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("shepherd: delete_all: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Probe reports whether the browser at ip still has live page tabs, used
// by the supervisor's reconnect path.
func (c *Client) Probe(ip string) bool {
	pages, err := c.PageTabs(ip)
	return err == nil && len(pages) > 0
}
