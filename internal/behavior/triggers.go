package behavior

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// PatternSpec is one text matching rule as written in the table.
type PatternSpec struct {
	Expr          string `yaml:"expr"`
	CaseSensitive bool   `yaml:"case_sensitive"`
	CaptureName   bool   `yaml:"capture_name"` // group 1 holds a person name
}

// TriggerSpec configures one text trigger type.
type TriggerSpec struct {
	Type       TriggerType   `yaml:"type"`
	Weight     float64       `yaml:"weight"`
	Categories []Category    `yaml:"categories"`
	Patterns   []PatternSpec `yaml:"patterns"`
}

// DelayThreshold maps elapsed hours to a delayed-response weight.
type DelayThreshold struct {
	Hours  float64 `yaml:"hours"`
	Weight float64 `yaml:"weight"`
	Label  string  `yaml:"label"`
}

// DelaySpec configures the delayed-response trigger.
type DelaySpec struct {
	Categories []Category       `yaml:"categories"`
	Thresholds []DelayThreshold `yaml:"thresholds"`
}

// ConfidenceConfig holds the text-match confidence constants.
type ConfidenceConfig struct {
	Base         float64 `yaml:"base"`
	HighCoverage float64 `yaml:"high_coverage"`
	HighBonus    float64 `yaml:"high_bonus"`
	MidCoverage  float64 `yaml:"mid_coverage"`
	MidBonus     float64 `yaml:"mid_bonus"`
	LeadingBonus float64 `yaml:"leading_bonus"`
	Min          float64 `yaml:"min"`
	Max          float64 `yaml:"max"`
}

// NameRules filters names captured by third-party patterns.
type NameRules struct {
	MinRunes   int      `yaml:"min_runes"`
	AllowWords []string `yaml:"allow_words"`
	Stopwords  []string `yaml:"stopwords"`
}

type triggerFile struct {
	MatchTimeoutMS int              `yaml:"match_timeout_ms"`
	Confidence     ConfidenceConfig `yaml:"confidence"`
	Names          NameRules        `yaml:"names"`
	Delayed        DelaySpec        `yaml:"delayed_response"`
	Triggers       []TriggerSpec    `yaml:"triggers"`
}

// TriggerTable is the compiled trigger pattern table.
type TriggerTable struct {
	Confidence ConfidenceConfig
	Names      NameRules
	Delayed    DelaySpec
	Rules      []TriggerRule

	stopwords map[string]struct{}
}

// TriggerRule is a compiled text trigger.
type TriggerRule struct {
	Type       TriggerType
	Weight     float64
	Categories []Category
	patterns   []compiledPattern
}

type compiledPattern struct {
	re          *regexp2.Regexp
	captureName bool
}

// Rule returns the rule for a text trigger type.
func (t *TriggerTable) Rule(tt TriggerType) (TriggerRule, bool) {
	for _, r := range t.Rules {
		if r.Type == tt {
			return r, true
		}
	}
	return TriggerRule{}, false
}

// Categories returns the affected categories of any trigger type, delayed response included.
func (t *TriggerTable) Categories(tt TriggerType) []Category {
	if tt == DelayedResponse {
		return t.Delayed.Categories
	}
	if r, ok := t.Rule(tt); ok {
		return r.Categories
	}
	return nil
}

func (f *triggerFile) compile() (*TriggerTable, error) {
	timeout := time.Duration(f.MatchTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}

	t := &TriggerTable{
		Confidence: f.Confidence,
		Names:      f.Names,
		Delayed:    f.Delayed,
		stopwords:  make(map[string]struct{}, len(f.Names.Stopwords)),
	}
	for _, w := range f.Names.Stopwords {
		t.stopwords[strings.ToLower(w)] = struct{}{}
	}
	sort.Slice(t.Delayed.Thresholds, func(i, j int) bool {
		return t.Delayed.Thresholds[i].Hours < t.Delayed.Thresholds[j].Hours
	})

	for _, def := range f.Triggers {
		if def.Type == "" {
			return nil, fmt.Errorf("trigger without type")
		}
		rule := TriggerRule{Type: def.Type, Weight: def.Weight, Categories: def.Categories}
		for i, p := range def.Patterns {
			opts := regexp2.None
			if !p.CaseSensitive {
				opts |= regexp2.IgnoreCase
			}
			re, err := regexp2.Compile(p.Expr, opts)
			if err != nil {
				return nil, fmt.Errorf("trigger %s pattern %d: %w", def.Type, i, err)
			}
			re.MatchTimeout = timeout
			rule.patterns = append(rule.patterns, compiledPattern{re: re, captureName: p.CaptureName})
		}
		t.Rules = append(t.Rules, rule)
	}
	return t, nil
}

// acceptName applies the captured-name filter: too short names only pass
// when the text talks about a friend, stop words never pass.
func (t *TriggerTable) acceptName(name, text string) bool {
	name = strings.TrimSpace(name)
	if _, stop := t.stopwords[strings.ToLower(name)]; stop {
		return false
	}
	if len([]rune(name)) >= t.Names.MinRunes {
		return true
	}
	lower := strings.ToLower(text)
	for _, w := range t.Names.AllowWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// score computes confidence for a text match. matchRunes is the match length in runes.
func (c ConfidenceConfig) score(text, matched string, matchRunes int) float64 {
	conf := c.Base
	if total := len([]rune(text)); total > 0 {
		ratio := float64(matchRunes) / float64(total)
		if ratio > c.HighCoverage {
			conf += c.HighBonus
		} else if ratio > c.MidCoverage {
			conf += c.MidBonus
		}
	}
	lead := strings.ToLower(strings.TrimSpace(text))
	if m := strings.ToLower(strings.TrimSpace(matched)); m != "" && strings.HasPrefix(lead, m) {
		conf += c.LeadingBonus
	}
	return clamp(conf, c.Min, c.Max)
}
