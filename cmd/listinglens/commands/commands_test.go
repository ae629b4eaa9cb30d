package commands

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/listinglens/internal/output"
	"github.com/jmylchreest/listinglens/pkg/batch"
	"github.com/jmylchreest/listinglens/pkg/browser"
	"github.com/jmylchreest/listinglens/pkg/listing"
	"github.com/jmylchreest/listinglens/pkg/llm"
)

func TestReadInputs(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "urls.txt")
	if err := os.WriteFile(file, []byte("https://example.com/a\n\nhttps://example.com/b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	stdin := strings.NewReader("https://example.com/stdin\n")

	tests := []struct {
		name string
		urls []string
		file string
		want int
	}{
		{"flags only", []string{"https://example.com/1"}, "", 1},
		{"stdin when nothing given", nil, "", 1},
		{"file", nil, file, 3},
		{"flags and file", []string{"https://example.com/1"}, file, 4},
		{"dash reads stdin", []string{"https://example.com/1"}, "-", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readInputs(tt.urls, tt.file, strings.NewReader("https://example.com/stdin\n"))
			if err != nil {
				t.Fatalf("readInputs() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d entries %v, want %d", len(got), got, tt.want)
			}
		})
	}

	if _, err := readInputs(nil, filepath.Join(dir, "missing.txt"), stdin); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseContentSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"100KB", 100000, false},
		{"1MiB", 1 << 20, false},
		{"lots", 0, true},
	}
	for _, tt := range tests {
		got, err := parseContentSize(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseContentSize(%q) = %d, %v", tt.in, got, err)
		}
	}
}

func TestWithDatabase(t *testing.T) {
	tests := []struct {
		uri, db, want string
	}{
		{"mongodb://localhost:27017", "estates", "mongodb://localhost:27017/estates"},
		{"mongodb://localhost:27017/other", "estates", "mongodb://localhost:27017/other"},
		{"mongodb://localhost:27017/?authSource=admin", "estates", "mongodb://localhost:27017/estates?authSource=admin"},
		{"mongodb://localhost:27017", "", "mongodb://localhost:27017"},
	}
	for _, tt := range tests {
		if got := withDatabase(tt.uri, tt.db); got != tt.want {
			t.Errorf("withDatabase(%q, %q) = %q, want %q", tt.uri, tt.db, got, tt.want)
		}
	}
}

func TestBuildFactory(t *testing.T) {
	f, err := buildFactory("static", browser.DefaultConfig())
	if err != nil {
		t.Fatalf("buildFactory(static) error = %v", err)
	}
	if f.Name() != "static" {
		t.Errorf("Name() = %q", f.Name())
	}
	_ = f.Close()

	if _, err := buildFactory("netscape", browser.DefaultConfig()); err == nil {
		t.Error("expected error for unknown browser")
	}
}

func TestElapsedText(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := elapsedText(start, 250*time.Millisecond); got != "250ms" {
		t.Errorf("elapsedText(250ms) = %q", got)
	}
	if got := elapsedText(start, 3*time.Second); got != "3 seconds" {
		t.Errorf("elapsedText(3s) = %q", got)
	}
}

func setViper(t *testing.T, key string, value any) {
	t.Helper()
	viper.Set(key, value)
	t.Cleanup(func() { viper.Set(key, nil) })
}

func TestProviderSettings(t *testing.T) {
	t.Run("ollama needs no key", func(t *testing.T) {
		setViper(t, "provider", "ollama")
		name, cfg, _, err := providerSettings()
		if err != nil {
			t.Fatalf("providerSettings() error = %v", err)
		}
		if name != "ollama" || cfg.Model != llm.GetDefaultModel("ollama") || cfg.Format != "json" {
			t.Errorf("got %s %+v", name, cfg)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		setViper(t, "provider", "anthropic")
		t.Setenv("ANTHROPIC_API_KEY", "")
		_, _, _, err := providerSettings()
		if err == nil || !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("config section", func(t *testing.T) {
		setViper(t, "provider", "anthropic")
		setViper(t, "providers", map[string]any{
			"anthropic": map[string]any{"model": "claude-test", "max_tokens": 1000},
		})
		t.Setenv("ANTHROPIC_API_KEY", "sk-test")

		_, cfg, pc, err := providerSettings()
		if err != nil {
			t.Fatalf("providerSettings() error = %v", err)
		}
		if cfg.APIKey != "sk-test" || cfg.Model != "claude-test" || pc.MaxTokens != 1000 {
			t.Errorf("cfg = %+v, pc = %+v", cfg, pc)
		}
	})

	t.Run("model flag wins", func(t *testing.T) {
		setViper(t, "provider", "ollama")
		setViper(t, "model", "qwen2.5")
		_, cfg, _, err := providerSettings()
		if err != nil || cfg.Model != "qwen2.5" {
			t.Errorf("cfg = %+v, err = %v", cfg, err)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		setViper(t, "provider", "nope")
		if _, _, _, err := providerSettings(); !errors.Is(err, llm.ErrNoProvider) {
			t.Errorf("error = %v, want ErrNoProvider", err)
		}
	})
}

func testResult() batch.Result {
	ok := listing.Record{URL: "https://example.com/1", ProcessingTimeSeconds: 3.2}
	ok.Apply(map[string]any{"listing_title": "Test Condo", "price": 500000.0})
	bad := listing.Record{
		URL:                   "https://example.com/2",
		ProcessingTimeSeconds: 15.4,
		Failure:               listing.Fail(listing.FailureNoContent, "No relevant HTML content found on page by selectors."),
	}
	return batch.Result{
		ID:      "batch-1",
		Records: []listing.Record{ok, bad},
		Invalid: []string{"'not a url' (invalid format)"},
	}
}

func TestWriteResults(t *testing.T) {
	cmd := &cobra.Command{}
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	csvPath := filepath.Join(t.TempDir(), defaultCSVPath)
	if err := writeResults(cmd, testResult(), output.FormatTable, "", csvPath); err != nil {
		t.Fatalf("writeResults() error = %v", err)
	}

	if !strings.Contains(stdout.String(), "Test Condo") || strings.Contains(stdout.String(), "example.com/2") {
		t.Errorf("success table:\n%s", stdout.String())
	}
	for _, want := range []string{"Failed listings (1)", "https://example.com/2", "No relevant HTML content", "Rejected inputs (1)", "not a url"} {
		if !strings.Contains(stderr.String(), want) {
			t.Errorf("stderr missing %q:\n%s", want, stderr.String())
		}
	}

	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "url,listing_title") || !strings.Contains(lines[1], "Test Condo") {
		t.Errorf("csv:\n%s", data)
	}
}

func TestWriteResults_StructuredKeepsFailures(t *testing.T) {
	cmd := &cobra.Command{}
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	if err := writeResults(cmd, testResult(), output.FormatJSONL, "", ""); err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(stdout.String(), "\n"); n != 2 {
		t.Errorf("expected 2 jsonl lines, got %d:\n%s", n, stdout.String())
	}
	if !strings.Contains(stdout.String(), `"kind":"no-content-found"`) {
		t.Errorf("failure missing from jsonl:\n%s", stdout.String())
	}
}

func TestProfileCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	if err := runProfile(cmd, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "name: default") || !strings.Contains(out.String(), "view number") {
		t.Errorf("profile output:\n%s", out.String())
	}
}
