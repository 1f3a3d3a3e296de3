// Package devshepherd is a local stand-in for the external
// browser-provisioning service, for development and integration testing
// without a real shepherd deployment. It exposes the same HTTP surface the
// shepherd client (internal/shepherd) expects, backed by real Chrome
// processes launched on localhost.
package devshepherd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// chromeProcess represents one launched Chrome instance.
type chromeProcess struct {
	cmd         *exec.Cmd
	port        int
	userDataDir string
}

// launchChrome starts a new Chrome instance with remote debugging enabled on
// port.
func launchChrome(port int) (*chromeProcess, error) {
	chromePath := findChrome()
	if chromePath == "" {
		return nil, errors.New("devshepherd: chrome executable not found")
	}

	userDataDir, err := os.MkdirTemp("", "autocontroller_devshepherd_*")
	if err != nil {
		return nil, fmt.Errorf("devshepherd: create temp dir: %w", err)
	}

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--user-data-dir=" + userDataDir,
		"--headless=new",
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-features=TranslateUI",
		"--disable-background-networking",
		"--disable-sync",
	}

	cmd := exec.Command(chromePath, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(userDataDir)
		return nil, fmt.Errorf("devshepherd: start chrome: %w", err)
	}

	return &chromeProcess{cmd: cmd, port: port, userDataDir: userDataDir}, nil
}

// stop terminates the Chrome process and cleans up its profile directory.
func (cp *chromeProcess) stop() error {
	if cp.cmd != nil && cp.cmd.Process != nil {
		if err := cp.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("devshepherd: kill chrome: %w", err)
		}
		_ = cp.cmd.Wait()
	}
	if cp.userDataDir != "" {
		_ = os.RemoveAll(cp.userDataDir)
	}
	return nil
}

// findChrome locates a Chrome or Chromium binary to run headless. The
// stand-in only targets linux/darwin dev and CI hosts; anything unusual is
// covered by the CHROME_BIN override rather than a longer search list.
func findChrome() string {
	if path := os.Getenv("CHROME_BIN"); path != "" {
		return path
	}

	for _, name := range []string{"google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	if runtime.GOOS == "darwin" {
		path := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
