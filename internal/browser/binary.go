package browser

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/browsergate/browsergate/internal/config"
)

// candidateBinaries lists well-known browser executables per platform, most
// preferred first within each channel group (beta > canary/unstable > stable).
func candidateBinaries() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome Beta.app/Contents/MacOS/Google Chrome Beta",
			"/Applications/Google Chrome Canary.app/Contents/MacOS/Google Chrome Canary",
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome Beta\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome Beta\Application\chrome.exe`,
			`C:\Program Files\Google\Chrome SxS\Application\chrome.exe`,
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	default:
		return []string{
			"google-chrome-beta",
			"google-chrome-unstable",
			"google-chrome",
			"google-chrome-stable",
			"chromium",
			"chromium-browser",
		}
	}
}

// ResolveBinary picks the browser executable for the profile: the configured
// path when set, otherwise the first well-known candidate present on this
// machine.
func ResolveBinary(prof config.Profile) (string, error) {
	if prof.BinaryPath != "" {
		if _, err := os.Stat(prof.BinaryPath); err != nil {
			return "", fmt.Errorf("configured browser binary not found: %s", prof.BinaryPath)
		}
		return prof.BinaryPath, nil
	}

	for _, candidate := range candidateBinaries() {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no browser binary found; set CHROME_EXECUTABLE_PATH")
}
