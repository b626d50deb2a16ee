package behavior

import "time"

// ProfileOptions overrides table defaults when a behavior is enabled. Nil fields keep the default.
type ProfileOptions struct {
	Baseline         *float64 `json:"baseline,omitempty"`
	EscalationRate   *float64 `json:"escalation_rate,omitempty"`
	DeEscalationRate *float64 `json:"de_escalation_rate,omitempty"`
	Volatility       *float64 `json:"volatility,omitempty"`
	DisplayThreshold *float64 `json:"display_threshold,omitempty"`
}

// NewProfile builds an enabled profile at phase 1 with one open history entry.
func NewProfile(agentID string, c Category, d ProfileDefaults, opts ProfileOptions, now time.Time) Profile {
	pick := func(v *float64, def float64) float64 {
		if v != nil {
			return *v
		}
		return def
	}
	p := Profile{
		AgentID:           agentID,
		Category:          c,
		Enabled:           true,
		BaselineIntensity: pick(opts.Baseline, d.Baseline),
		EscalationRate:    pick(opts.EscalationRate, d.EscalationRate),
		DeEscalationRate:  pick(opts.DeEscalationRate, d.DeEscalationRate),
		Volatility:        pick(opts.Volatility, d.Volatility),
		DisplayThreshold:  pick(opts.DisplayThreshold, d.DisplayThreshold),
		CurrentPhase:      1,
		PhaseStartedAt:    now,
		PhaseHistory:      []PhaseHistoryEntry{{Phase: 1, EnteredAt: now}},
	}
	p.Normalize()
	return p
}

// Normalize clamps the bounded fields back into range.
func (p *Profile) Normalize() {
	p.BaselineIntensity = clamp01(p.BaselineIntensity)
	p.Volatility = clamp01(p.Volatility)
	if p.EscalationRate < 0 {
		p.EscalationRate = 0
	}
	if p.DeEscalationRate < 0 {
		p.DeEscalationRate = 0
	}
	if p.CurrentPhase < 1 {
		p.CurrentPhase = 1
	}
}

// Nudge shifts the baseline by delta and clamps it.
func (p *Profile) Nudge(delta float64) {
	p.BaselineIntensity = clamp01(p.BaselineIntensity + delta)
}
