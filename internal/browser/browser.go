// Package browser opens the hosted login page in the user's browser.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/skratchdot/open-golang/open"

	"github.com/giantswarm/authkeeper/pkg/logging"
)

var linuxBrowsers = []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}

// launchers are swapped out in tests.
var (
	openURL   = open.Start
	startCmd  = func(cmd *exec.Cmd) error { return cmd.Start() }
	lookPath  = exec.LookPath
	currentOS = runtime.GOOS
)

// Open shows url in the default browser. It tries open-golang first and
// falls back to a platform command.
func Open(url string) error {
	err := openURL(url)
	if err == nil {
		logging.Debug("Browser", "Opened login page")
		return nil
	}
	logging.Debug("Browser", "open-golang failed: %v, trying platform command", err)

	cmd, err := platformCommand(url)
	if err != nil {
		return err
	}
	if err := startCmd(cmd); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}

// Opener adapts Open to session.URLOpener.
type Opener struct{}

func (Opener) Open(url string) error { return Open(url) }

func platformCommand(url string) (*exec.Cmd, error) {
	switch currentOS {
	case "darwin":
		return exec.Command("open", url), nil
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url), nil
	case "linux", "freebsd", "openbsd":
		for _, name := range linuxBrowsers {
			if path, err := lookPath(name); err == nil {
				return exec.Command(path, url), nil
			}
		}
		return nil, fmt.Errorf("no browser found on %s", currentOS)
	default:
		return nil, fmt.Errorf("unsupported platform: %s", currentOS)
	}
}
