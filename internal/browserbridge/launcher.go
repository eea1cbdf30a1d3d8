package browserbridge

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

// candidateBinaries lists, per platform, the executables tried in order when
// no explicit binary is configured.
var candidateBinaries = map[string][]string{
	"darwin":  {"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome", "/Applications/Chromium.app/Contents/MacOS/Chromium"},
	"linux":   {"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"},
	"windows": {"chrome.exe", "msedge.exe"},
}

// Launcher starts and stops the single headless browser process the bridge
// owns. Unlike a one-shot "open a login page" helper, this process is
// expected to run for the bridge's lifetime and is killed on every restart.
type Launcher struct {
	mu     sync.Mutex
	binary string
	cmd    *exec.Cmd
}

// NewLauncher builds a launcher. An empty binary triggers auto-detection
// from candidateBinaries on first Launch.
func NewLauncher(binary string) *Launcher {
	return &Launcher{binary: binary}
}

// resolveBinary finds an executable to run, preferring the configured path.
func (l *Launcher) resolveBinary() (string, error) {
	if l.binary != "" {
		if _, err := exec.LookPath(l.binary); err == nil {
			return l.binary, nil
		}
		if _, err := os.Stat(l.binary); err == nil {
			return l.binary, nil
		}
	}
	for _, candidate := range candidateBinaries[runtime.GOOS] {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("browserbridge: no headless browser binary found for %s", runtime.GOOS)
}

// Launch starts the browser in headless mode, pointed at pageURL (the
// bridge's own stub page, which bootstraps the duplex channel) with a
// private, per-run profile directory so identities never bleed into each
// other across restarts.
func (l *Launcher) Launch(pageURL, profileDir string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd != nil && l.cmd.Process != nil {
		_ = l.cmd.Process.Kill()
		_ = l.cmd.Wait()
		l.cmd = nil
	}

	binary, err := l.resolveBinary()
	if err != nil {
		return err
	}

	args := []string{
		"--headless=new",
		"--disable-gpu",
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-extensions",
		"--user-data-dir=" + profileDir,
		pageURL,
	}

	log.WithFields(log.Fields{"binary": binary, "profile_dir": profileDir}).Debug("browserbridge: launching headless browser")
	cmd := exec.Command(binary, args...)
	if err = cmd.Start(); err != nil {
		return fmt.Errorf("browserbridge: failed to start browser: %w", err)
	}
	l.cmd = cmd
	go func() {
		if waitErr := cmd.Wait(); waitErr != nil {
			log.WithError(waitErr).Debug("browserbridge: headless browser process exited")
		}
	}()
	return nil
}

// Kill terminates the running browser process, if any.
func (l *Launcher) Kill() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cmd == nil || l.cmd.Process == nil {
		return nil
	}
	err := l.cmd.Process.Kill()
	l.cmd = nil
	return err
}

// Running reports whether a launched process is still tracked as alive.
func (l *Launcher) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cmd != nil && l.cmd.Process != nil
}

// OpenDiagnosticWindow best-effort opens a visible (non-headless) window at
// url using the host's default browser, for operators debugging a session
// outside the bridge's own headless worker. Never returns an error the
// caller must act on; failures are logged only.
func OpenDiagnosticWindow(url string) {
	if err := open.Run(url); err != nil {
		log.WithError(err).Debug("browserbridge: could not open diagnostic window")
	}
}
