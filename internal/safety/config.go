// Package safety moderates behavior content and gates explicit phases behind
// explicit mode, age and per-agent consent.
package safety

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
	"gopkg.in/yaml.v3"

	"github.com/keshon/behavior-sim/internal/behavior"
)

//go:embed tables/safety.yaml
var embedded embed.FS

// File is the safety table file name.
const File = "safety.yaml"

// Threshold is one severity step of a category.
type Threshold struct {
	Phase        int               `yaml:"phase"`
	Level        behavior.Severity `yaml:"level"`
	ExplicitOnly bool              `yaml:"explicit_only"`
	Note         string            `yaml:"note"`
}

// SoftenRule is an ordered case-insensitive find/replace.
type SoftenRule struct {
	Expr    string `yaml:"expr"`
	Replace string `yaml:"replace"`

	re *regexp2.Regexp
}

// Gate restricts a category's phases to explicit mode.
type Gate struct {
	MinExplicitPhase  int      `yaml:"min_explicit_phase"`
	CriticalPhase     int      `yaml:"critical_phase"`
	ConsentPhrases    []string `yaml:"consent_phrases"`
	BlockReason       string   `yaml:"block_reason"`
	ConsentPrompt     string   `yaml:"consent_prompt"`
	TransitionWarning string   `yaml:"transition_warning"`
}

// Config is the safety table.
type Config struct {
	Severity             map[behavior.Category][]Threshold `yaml:"severity"`
	Soften               []SoftenRule                      `yaml:"soften"`
	ModerationNote       string                            `yaml:"moderation_note"`
	ExplicitBlockWarning string                            `yaml:"explicit_block_warning"`
	ExtremeBlockWarning  string                            `yaml:"extreme_block_warning"`
	Resources            struct {
		Default    []string                       `yaml:"default"`
		Categories map[behavior.Category][]string `yaml:"categories"`
	} `yaml:"resources"`
	Gates                   map[behavior.Category]Gate `yaml:"gates"`
	GeneralConsent          []string                   `yaml:"general_consent"`
	TransitionConsentPrompt string                     `yaml:"transition_consent_prompt"`
	AgeRestriction          string                     `yaml:"age_restriction"`
	EnableExplicit          string                     `yaml:"enable_explicit"`
	ExplicitAdvisory        string                     `yaml:"explicit_advisory"`
	ExplicitModeNotice      string                     `yaml:"explicit_mode_notice"`
}

// LoadConfig reads safety.yaml from override when present there, else the embedded copy.
func LoadConfig(override fs.FS) (*Config, error) {
	data, err := read(override)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", File, err)
	}
	if err := cfg.compile(); err != nil {
		return nil, fmt.Errorf("%s: %w", File, err)
	}
	return &cfg, nil
}

// DefaultConfig returns the embedded table, compiled once.
var DefaultConfig = sync.OnceValues(func() (*Config, error) {
	return LoadConfig(nil)
})

// Embedded returns the raw embedded safety table.
func Embedded() ([]byte, error) {
	return embedded.ReadFile("tables/" + File)
}

func read(override fs.FS) ([]byte, error) {
	if override != nil {
		data, err := fs.ReadFile(override, File)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", File, err)
		}
	}
	return embedded.ReadFile("tables/" + File)
}

func (c *Config) compile() error {
	for cat, steps := range c.Severity {
		sort.SliceStable(steps, func(i, j int) bool { return steps[i].Phase < steps[j].Phase })
		c.Severity[cat] = steps
	}
	for i := range c.Soften {
		re, err := regexp2.Compile(c.Soften[i].Expr, regexp2.IgnoreCase)
		if err != nil {
			return fmt.Errorf("soften rule %d: %w", i, err)
		}
		re.MatchTimeout = 50 * time.Millisecond
		c.Soften[i].re = re
	}
	return nil
}

// Gate returns the explicit-mode gate of c.
func (c *Config) Gate(cat behavior.Category) (Gate, bool) {
	g, ok := c.Gates[cat]
	return g, ok
}

func withPhase(s string, phase int) string {
	return strings.ReplaceAll(s, "{phase}", strconv.Itoa(phase))
}
