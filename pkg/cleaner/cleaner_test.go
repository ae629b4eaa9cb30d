package cleaner

import (
	"errors"
	"strings"
	"testing"
)

func TestNoopCleaner_Clean(t *testing.T) {
	c := NewNoop()

	tests := []struct {
		name  string
		input string
	}{
		{"empty_string", ""},
		{"plain_text", "Hello, World!"},
		{"html_content", "<div><h1>Title</h1></div>"},
		{"whitespace", "  \n\t  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Clean(tt.input)
			if err != nil {
				t.Errorf("Clean() error = %v, want nil", err)
			}
			if got != tt.input {
				t.Errorf("Clean() = %q, want %q", got, tt.input)
			}
		})
	}

	if got := c.Name(); got != "noop" {
		t.Errorf("Name() = %q, want %q", got, "noop")
	}
}

func TestStripCleaner_Clean(t *testing.T) {
	c := NewStrip()

	tests := []struct {
		name    string
		input   string
		want    []string
		notWant []string
	}{
		{
			name:    "scripts and styles",
			input:   `<div class="price"><script>track()</script><style>.x{}</style>RM 450,000</div>`,
			want:    []string{`<div class="price">`, "RM 450,000"},
			notWant: []string{"track()", ".x{}", "<script", "<style"},
		},
		{
			name:    "comments",
			input:   `<div><!-- ad slot -->3 bedrooms</div>`,
			want:    []string{"3 bedrooms"},
			notWant: []string{"ad slot", "<!--"},
		},
		{
			name:    "event handlers",
			input:   `<button onclick="reveal()" class="phone">012-345</button>`,
			want:    []string{`class="phone"`, "012-345"},
			notWant: []string{"onclick", "reveal()"},
		},
		{
			name:    "svg icons",
			input:   `<span><svg><path d="M0"/></svg>1,200 sq.ft</span>`,
			want:    []string{"1,200 sq.ft"},
			notWant: []string{"<svg", "<path"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Clean(tt.input)
			if err != nil {
				t.Fatalf("Clean() error = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("Clean() = %q, missing %q", got, w)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(got, nw) {
					t.Errorf("Clean() = %q, should not contain %q", got, nw)
				}
			}
		})
	}
}

func TestStripCleaner_CustomSelectors(t *testing.T) {
	c := NewStrip(".ad")
	got, _ := c.Clean(`<div><p class="ad">buy now</p><script>x()</script></div>`)
	if strings.Contains(got, "buy now") {
		t.Errorf("custom selector not removed: %q", got)
	}
	if !strings.Contains(got, "x()") {
		t.Errorf("default selectors should not apply when overridden: %q", got)
	}
}

func TestChainCleaner_Empty(t *testing.T) {
	c := NewChain()

	input := "unchanged content"
	got, err := c.Clean(input)
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if got != input {
		t.Errorf("Clean() = %q, want %q", got, input)
	}
}

type suffixCleaner struct{ suffix string }

func (c suffixCleaner) Clean(s string) (string, error) { return s + c.suffix, nil }
func (c suffixCleaner) Name() string                   { return "suffix" + c.suffix }

type failingCleaner struct{}

func (failingCleaner) Clean(string) (string, error) { return "", errors.New("boom") }
func (failingCleaner) Name() string                 { return "failing" }

func TestChainCleaner_Order(t *testing.T) {
	c := NewChain(suffixCleaner{"1"}, suffixCleaner{"2"})

	got, err := c.Clean("x")
	if err != nil {
		t.Fatal(err)
	}
	if got != "x12" {
		t.Errorf("Clean() = %q, want %q", got, "x12")
	}
	if name := c.Name(); name != "chain(suffix1->suffix2)" {
		t.Errorf("Name() = %q", name)
	}
}

func TestChainCleaner_Error(t *testing.T) {
	c := NewChain(suffixCleaner{"1"}, failingCleaner{}, suffixCleaner{"2"})
	if _, err := c.Clean("x"); err == nil {
		t.Error("expected error from failing cleaner")
	}
}

func TestText(t *testing.T) {
	got := Text(`<div>  Platinum
	Arena <script>x()</script><span>RM 450,000</span></div>`)
	if got != "Platinum Arena RM 450,000" {
		t.Errorf("Text() = %q", got)
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"truncate me", 8, "truncate..."},
		{"ünïcode", 3, "ünï..."},
		{"unlimited", 0, "unlimited"},
	}
	for _, tt := range tests {
		if got := Preview(tt.in, tt.n); got != tt.want {
			t.Errorf("Preview(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
