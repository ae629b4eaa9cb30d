package browser

import "time"

// Config holds the fixed behavior flags applied to every session a factory
// opens.
type Config struct {
	Headless       bool
	WindowWidth    int `validate:"min=320"`
	WindowHeight   int `validate:"min=240"`
	UserAgent      string
	ChromePath     string        // explicit browser binary, empty = auto-discover
	RemoteURL      string        // DevTools websocket/HTTP endpoint for remote sessions
	InstallDriver  bool          // let the playwright factory download its driver and browser
	RequestTimeout time.Duration // HTTP timeout for the static factory
	ScrollSettle   time.Duration // pause between scrollIntoView and click
}

// DefaultUserAgent matches the desktop Chrome the reference deployment
// identified as.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/90.0.4430.212 Safari/537.36"

// DefaultConfig returns the reference session flags: headless, 1920x1080
// viewport, fixed user agent.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		WindowWidth:    1920,
		WindowHeight:   1080,
		UserAgent:      DefaultUserAgent,
		RequestTimeout: 15 * time.Second,
		ScrollSettle:   500 * time.Millisecond,
	}
}
