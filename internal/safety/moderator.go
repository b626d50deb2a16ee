package safety

import (
	"github.com/keshon/behavior-sim/internal/behavior"
)

// Verdict is the moderation outcome for one piece of content.
type Verdict struct {
	Allowed   bool              `json:"allowed"`
	Text      string            `json:"text,omitempty"`
	Modified  bool              `json:"modified"`
	Severity  behavior.Severity `json:"severity"`
	Flagged   bool              `json:"flagged"`
	Warning   string            `json:"warning,omitempty"`
	Resources []string          `json:"resources,omitempty"`
}

// Moderator applies the severity table to content.
type Moderator struct {
	cfg *Config
}

func NewModerator(cfg *Config) *Moderator {
	return &Moderator{cfg: cfg}
}

// Threshold returns the severity step in force for category at phase.
// Unknown categories are SAFE.
func (m *Moderator) Threshold(c behavior.Category, phase int) Threshold {
	steps := m.cfg.Severity[c]
	if len(steps) == 0 {
		return Threshold{Phase: 1, Level: behavior.SeveritySafe}
	}
	th := steps[0]
	for _, s := range steps {
		if s.Phase <= phase {
			th = s
		}
	}
	if th.Level == "" {
		th.Level = behavior.SeveritySafe
	}
	return th
}

// Moderate decides whether text may be shown for category at phase.
func (m *Moderator) Moderate(text string, c behavior.Category, phase int, explicit bool) Verdict {
	th := m.Threshold(c, phase)

	switch {
	case th.ExplicitOnly && !explicit:
		return Verdict{
			Severity:  behavior.SeverityExtreme,
			Flagged:   true,
			Warning:   withPhase(m.cfg.ExplicitBlockWarning, phase),
			Resources: m.Resources(c),
		}
	case th.Level == behavior.SeverityExtreme && !explicit:
		return Verdict{
			Severity:  behavior.SeverityExtreme,
			Flagged:   true,
			Warning:   m.cfg.ExtremeBlockWarning,
			Resources: m.Resources(c),
		}
	case th.Level == behavior.SeverityCritical && !explicit:
		soft, changed := m.Soften(text)
		return Verdict{
			Allowed:   true,
			Text:      soft,
			Modified:  changed,
			Severity:  behavior.SeverityCritical,
			Flagged:   true,
			Warning:   th.Note,
			Resources: m.Resources(c),
		}
	case th.Level == behavior.SeverityWarning:
		v := Verdict{Allowed: true, Text: text, Severity: behavior.SeverityWarning, Warning: th.Note}
		if th.Note != "" {
			v.Resources = m.Resources(c)
		}
		return v
	}
	return Verdict{Allowed: true, Text: text, Severity: th.Level}
}

// Soften applies the softening rules in order and appends the moderation
// note when anything changed. A rule that times out is skipped.
func (m *Moderator) Soften(text string) (string, bool) {
	out := text
	for _, r := range m.cfg.Soften {
		if r.re == nil {
			continue
		}
		replaced, err := r.re.Replace(out, r.Replace, -1, -1)
		if err != nil {
			continue
		}
		out = replaced
	}
	if out == text {
		return text, false
	}
	if m.cfg.ModerationNote != "" {
		out += "\n\n" + m.cfg.ModerationNote
	}
	return out, true
}

// RequiresConsent reports whether content at this phase is explicit-only or EXTREME.
func (m *Moderator) RequiresConsent(c behavior.Category, phase int) bool {
	th := m.Threshold(c, phase)
	return th.ExplicitOnly || th.Level == behavior.SeverityExtreme
}

// ShouldBlock reports whether content is blocked outright outside explicit mode.
func (m *Moderator) ShouldBlock(c behavior.Category, phase int, explicit bool) bool {
	if explicit {
		return false
	}
	th := m.Threshold(c, phase)
	return th.ExplicitOnly || th.Level == behavior.SeverityExtreme
}

// Warning returns a user-facing advisory, empty for SAFE content.
func (m *Moderator) Warning(c behavior.Category, phase int) string {
	th := m.Threshold(c, phase)
	if th.Level == behavior.SeveritySafe {
		return ""
	}
	w := "Content intensity: " + string(th.Level) + "\n\n"
	if th.Note != "" {
		w += th.Note + "\n\n"
	}
	w += "This is FICTIONAL content for roleplay and creative purposes."
	if th.Level.Rank() >= behavior.SeverityCritical.Rank() {
		w += "\n\nIn similar real situations, seek professional help."
	}
	return w
}

// Resources returns help resources for c: category specific first, then the defaults.
func (m *Moderator) Resources(c behavior.Category) []string {
	out := make([]string, 0, len(m.cfg.Resources.Categories[c])+len(m.cfg.Resources.Default))
	out = append(out, m.cfg.Resources.Categories[c]...)
	out = append(out, m.cfg.Resources.Default...)
	return out
}
