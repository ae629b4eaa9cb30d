package chrome

import (
	"os/exec"

	"github.com/jmylchreest/listinglens/internal/logger"
)

// Chrome/Chromium binary names and install locations, searched in order.
var chromeBinaryNames = []string{
	"chromium",
	"chromium-browser",
	"google-chrome-stable",
	"google-chrome",
	"chrome",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/google-chrome",
	"/snap/bin/chromium",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
}

// FindChromePath returns the first Chrome/Chromium executable found on PATH
// or in a well-known install location, or "" if there is none.
func FindChromePath() string {
	path := findExecutable(chromeBinaryNames)
	if path == "" {
		logger.Warn("no Chrome binary found, falling back to chromedp's own lookup")
		return ""
	}
	logger.Debug("found Chrome binary", "path", path)
	return path
}

// findExecutable resolves candidates with exec.LookPath, which accepts both
// bare names (searched on PATH) and absolute paths (checked for the
// executable bit).
func findExecutable(candidates []string) string {
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}
