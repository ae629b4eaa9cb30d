package commands

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/jmylchreest/listinglens/internal/logger"
	"github.com/jmylchreest/listinglens/pkg/browser"
	"github.com/jmylchreest/listinglens/pkg/browser/chrome"
	"github.com/jmylchreest/listinglens/pkg/browser/playwright"
	"github.com/jmylchreest/listinglens/pkg/browser/static"
	"github.com/jmylchreest/listinglens/pkg/llm"
	"github.com/jmylchreest/listinglens/pkg/oracle"
)

// Browser backends accepted by --browser.
const (
	browserChrome     = "chrome"
	browserRemote     = "remote"
	browserPlaywright = "playwright"
	browserStatic     = "static"
)

// buildFactory creates the session factory for a --browser value.
func buildFactory(kind string, cfg browser.Config) (browser.SessionFactory, error) {
	switch strings.ToLower(kind) {
	case browserChrome, "":
		f, err := chrome.NewFactory(cfg)
		if err != nil {
			return nil, err
		}
		return f, nil
	case browserRemote:
		f, err := chrome.NewRemoteFactory(cfg)
		if err != nil {
			return nil, err
		}
		return f, nil
	case browserPlaywright:
		f, err := playwright.NewFactory(cfg)
		if err != nil {
			return nil, err
		}
		return f, nil
	case browserStatic:
		return static.NewFactory(cfg), nil
	default:
		return nil, fmt.Errorf("unknown browser: %s (use chrome, remote, playwright or static)", kind)
	}
}

// ProviderConfig holds provider-specific settings from config file.
type ProviderConfig struct {
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	BaseURL     string  `mapstructure:"base_url"`
}

// providerSettings resolves the provider name, key and settings. Flags win
// over the providers.<name> config section, which wins over built-in
// defaults. With no provider named, the first API key found in the
// environment picks one.
func providerSettings() (name string, cfg llm.ProviderConfig, pc ProviderConfig, err error) {
	name = strings.ToLower(viper.GetString("provider"))
	key := viper.GetString("api_key")
	if name == "" {
		var detected string
		name, detected = llm.DetectProvider()
		if key == "" {
			key = detected
		}
		logger.Debug("detected provider from environment", "provider", name)
	}
	if !llm.IsRegistered(name) {
		return "", cfg, pc, fmt.Errorf("%w: %s (available: %s)", llm.ErrNoProvider, name, strings.Join(llm.AvailableProviders(), ", "))
	}
	if key == "" {
		key = llm.APIKeyFromEnv(name)
	}
	if key == "" && name != "ollama" {
		return "", cfg, pc, fmt.Errorf("no API key for %s: set %s or --api-key", name, strings.Join(llm.EnvKeys(name), " or "))
	}

	providers := make(map[string]ProviderConfig)
	_ = viper.UnmarshalKey("providers", &providers)
	pc = providers[name]

	cfg = llm.DefaultProviderConfig()
	cfg.APIKey = key
	cfg.Model = firstNonEmpty(viper.GetString("model"), pc.Model, llm.GetDefaultModel(name))
	cfg.BaseURL = firstNonEmpty(viper.GetString("base_url"), pc.BaseURL)
	if name == "ollama" {
		cfg.Format = "json"
	}
	return name, cfg, pc, nil
}

// buildOracle creates the extraction oracle client.
func buildOracle(maxContentSize int, structured bool) (*oracle.Client, error) {
	name, cfg, pc, err := providerSettings()
	if err != nil {
		return nil, err
	}
	p, err := llm.NewProvider(name, cfg)
	if err != nil {
		return nil, err
	}

	ocfg := oracle.DefaultConfig()
	ocfg.MaxContentSize = maxContentSize
	ocfg.UseSchema = structured
	if pc.Temperature > 0 {
		ocfg.Temperature = pc.Temperature
	}
	if pc.MaxTokens > 0 {
		ocfg.MaxTokens = pc.MaxTokens
	}

	logger.Info("using oracle", "provider", name, "model", p.Model(), "structured", structured)
	return oracle.New(llm.WithObserver(p, llm.LogObserver()), ocfg), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// readInputs gathers raw URL entries from --url values, --file and stdin.
// stdin is read when no source was given or when --file is "-".
func readInputs(urls []string, file string, stdin io.Reader) ([]string, error) {
	entries := append([]string(nil), urls...)

	var r io.Reader
	switch {
	case file == "-":
		r = stdin
	case file != "":
		f, err := os.Open(file) //#nosec G304 -- user-specified input file
		if err != nil {
			return nil, fmt.Errorf("opening url file: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	case len(urls) == 0:
		r = stdin
	}

	if r != nil {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			entries = append(entries, sc.Text())
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("reading urls: %w", err)
		}
	}
	return entries, nil
}

// withDatabase sets the database path of a MongoDB URI unless it already
// names one.
func withDatabase(uri, db string) string {
	if db == "" {
		return uri
	}
	u, err := url.Parse(uri)
	if err != nil || strings.Trim(u.Path, "/") != "" {
		return uri
	}
	u.Path = "/" + db
	return u.String()
}

// elapsedText renders a batch duration for the summary line.
func elapsedText(start time.Time, d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return strings.TrimSpace(humanize.RelTime(start, start.Add(d), "", ""))
}
