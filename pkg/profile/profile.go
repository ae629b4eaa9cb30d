// Package profile describes a listing site: which page regions hold the
// listing and which controls hide content. Profiles are YAML documents.
package profile

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/listinglens/pkg/browser"
	"github.com/jmylchreest/listinglens/pkg/cleaner"
	"github.com/jmylchreest/listinglens/pkg/disclosure"
	"github.com/jmylchreest/listinglens/pkg/section"
	"github.com/jmylchreest/listinglens/pkg/session"
)

// ErrInvalidProfile is returned when a profile fails validation.
var ErrInvalidProfile = errors.New("invalid profile")

var validate = validator.New()

// Profile is a site description.
type Profile struct {
	Name      string    `yaml:"name" validate:"required"`
	Selectors []string  `yaml:"selectors" validate:"required,min=1,dive,required"`
	Patterns  []Pattern `yaml:"patterns,omitempty" validate:"dive"`
	Strip     []string  `yaml:"strip,omitempty" validate:"dive,required"` // extra selectors removed from sections
	Timing    Timing    `yaml:"timing,omitempty"`
}

// Pattern locates disclosure controls. Exactly one of Text, XPath and CSS
// is set. Text matches case-insensitively inside each of Tags, or any
// element when Tags is empty.
type Pattern struct {
	Text  string          `yaml:"text,omitempty"`
	Tags  []string        `yaml:"tags,omitempty" validate:"dive,required"`
	XPath string          `yaml:"xpath,omitempty"`
	CSS   string          `yaml:"css,omitempty"`
	Role  disclosure.Role `yaml:"role" validate:"required,oneof=reveal expansion post-expansion"`
	Label string          `yaml:"label,omitempty"`
}

// Timing overrides the built-in waits. Zero values keep the defaults.
type Timing struct {
	PageLoad      time.Duration `yaml:"page_load,omitempty" validate:"gte=0"`
	Settle        time.Duration `yaml:"settle,omitempty" validate:"gte=0"`
	ControlWait   time.Duration `yaml:"control_wait,omitempty" validate:"gte=0"`
	ClickSettle   time.Duration `yaml:"click_settle,omitempty" validate:"gte=0"`
	ExtractWait   time.Duration `yaml:"extract_wait,omitempty" validate:"gte=0"`
	PostExpansion time.Duration `yaml:"post_expansion,omitempty" validate:"gte=0"`
}

// Default returns the profile of the reference deployment.
func Default() *Profile {
	return &Profile{
		Name: "default",
		Selectors: []string{
			"div.Wrapper-ucve63-0.eKOxHS",             // contact block
			"div.style__ParentWrapper-iwjn3z-0.QvHGM", // listing details
			"div.Wrapper-ucve63-0.fKaMDx",             // description
		},
		Patterns: []Pattern{
			{Text: "view number", Tags: []string{"button"}, Role: disclosure.RoleReveal},
			{Text: "show more", Tags: []string{"a"}, Role: disclosure.RoleExpansion},
			{Text: "view number", Tags: []string{"span"}, Role: disclosure.RoleReveal},
			{Text: "show contact number", Tags: []string{"button"}, Role: disclosure.RolePostExpansion},
			{Text: "show contact number", Tags: []string{"a"}, Role: disclosure.RolePostExpansion},
		},
	}
}

// Load reads and validates a profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a YAML profile.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the profile.
func (p *Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	for i, pat := range p.Patterns {
		n := 0
		for _, s := range []string{pat.Text, pat.XPath, pat.CSS} {
			if strings.TrimSpace(s) != "" {
				n++
			}
		}
		if n != 1 {
			return fmt.Errorf("%w: pattern %d: exactly one of text, xpath or css is required", ErrInvalidProfile, i)
		}
		if len(pat.Tags) > 0 && pat.Text == "" {
			return fmt.Errorf("%w: pattern %d: tags only apply to text patterns", ErrInvalidProfile, i)
		}
	}
	return nil
}

// DisclosurePatterns expands the profile patterns in order. A text pattern
// with several tags yields one pattern per tag.
func (p *Profile) DisclosurePatterns() []disclosure.Pattern {
	var out []disclosure.Pattern
	for _, pat := range p.Patterns {
		switch {
		case pat.XPath != "":
			out = append(out, disclosure.Pattern{Locator: browser.XPath(pat.XPath), Role: pat.Role, Label: pat.Label})
		case pat.CSS != "":
			out = append(out, disclosure.Pattern{Locator: browser.CSS(pat.CSS), Role: pat.Role, Label: pat.Label})
		default:
			tags := pat.Tags
			if len(tags) == 0 {
				tags = []string{"*"}
			}
			for _, tag := range tags {
				out = append(out, disclosure.Pattern{
					Locator: browser.TextContains(tag, pat.Text),
					Role:    pat.Role,
					Label:   pat.Label,
				})
			}
		}
	}
	return out
}

// ApplySession overrides session timings.
func (p *Profile) ApplySession(cfg session.Config) session.Config {
	if p.Timing.PageLoad > 0 {
		cfg.PageLoadTimeout = p.Timing.PageLoad
	}
	if p.Timing.Settle > 0 {
		cfg.SettleDelay = p.Timing.Settle
	}
	return cfg
}

// ApplyDisclosure overrides disclosure timings.
func (p *Profile) ApplyDisclosure(cfg disclosure.Config) disclosure.Config {
	if p.Timing.ControlWait > 0 {
		cfg.ControlWait = p.Timing.ControlWait
	}
	if p.Timing.ClickSettle > 0 {
		cfg.SettleDelay = p.Timing.ClickSettle
		cfg.SecondClickSettle = p.Timing.ClickSettle
	}
	if p.Timing.PostExpansion > 0 {
		cfg.SecondClickDelay = p.Timing.PostExpansion
		cfg.PostExpansionDelay = p.Timing.PostExpansion
	}
	return cfg
}

// ApplySection overrides section timings.
func (p *Profile) ApplySection(cfg section.Config) section.Config {
	if p.Timing.ExtractWait > 0 {
		cfg.Wait = p.Timing.ExtractWait
	}
	return cfg
}

// Cleaner returns the markup cleaner for the profile: the default strip
// cleaner, followed by one removing the profile's Strip selectors.
func (p *Profile) Cleaner() cleaner.Cleaner {
	if len(p.Strip) == 0 {
		return cleaner.NewStrip()
	}
	return cleaner.NewChain(cleaner.NewStrip(), cleaner.NewStrip(p.Strip...))
}

// YAML renders the profile.
func (p *Profile) YAML() ([]byte, error) {
	return yaml.Marshal(p)
}
