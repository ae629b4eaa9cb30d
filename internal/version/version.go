// Package version reports the listinglens build. Version, Commit, Dirty and
// BuildDate are stamped by the release build:
//
//	go build -ldflags "-X github.com/jmylchreest/listinglens/internal/version.Version=0.3.0 \
//	  -X github.com/jmylchreest/listinglens/internal/version.Commit=$(git rev-parse HEAD)"
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	Dirty     = "false"
	BuildDate = "unknown"
)

// drivers are the modules whose versions matter when a site stops
// extracting: the browser backends and the oracle SDKs.
var drivers = []string{
	"github.com/chromedp/chromedp",
	"github.com/chromedp/cdproto",
	"github.com/playwright-community/playwright-go",
	"github.com/gocolly/colly/v2",
	"github.com/anthropics/anthropic-sdk-go",
	"github.com/openai/openai-go",
}

// Info describes the running binary.
type Info struct {
	Version   string            `json:"version"`
	Commit    string            `json:"commit"`
	Dirty     bool              `json:"dirty"`
	BuildDate string            `json:"build_date"`
	GoVersion string            `json:"go_version"`
	Platform  string            `json:"platform"`
	Drivers   map[string]string `json:"drivers,omitempty"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Commit:    shortCommit(Commit),
		Dirty:     Dirty == "true",
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Drivers:   driverVersions(),
	}
}

// String is the version alone, with a -dirty suffix for unclean trees.
func String() string {
	if Dirty == "true" {
		return Version + "-dirty"
	}
	return Version
}

// Full renders Get for humans.
func Full() string {
	info := Get()
	var sb strings.Builder
	fmt.Fprintf(&sb, "listinglens %s (%s, built %s)\n", String(), info.Commit, info.BuildDate)
	fmt.Fprintf(&sb, "  %s %s", info.GoVersion, info.Platform)
	for _, path := range drivers {
		if v, ok := info.Drivers[path]; ok {
			fmt.Fprintf(&sb, "\n  %s %s", path, v)
		}
	}
	return sb.String()
}

// Product is the User-Agent product token for outbound API calls.
func Product() string {
	return "listinglens/" + String()
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}

func driverVersions() map[string]string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	out := make(map[string]string)
	for _, dep := range bi.Deps {
		for _, path := range drivers {
			if dep.Path == path {
				out[path] = dep.Version
			}
		}
	}
	return out
}
