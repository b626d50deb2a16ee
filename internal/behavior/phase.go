package behavior

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Requirement gates entry into one phase.
type Requirement struct {
	MinInteractions int                 `yaml:"min_interactions"`
	Triggers        map[TriggerType]int `yaml:"triggers"`
}

// SafetyFlagRule raises Flag for every target phase at or above FromPhase.
type SafetyFlagRule struct {
	FromPhase int    `yaml:"from_phase"`
	Flag      string `yaml:"flag"`
}

// PhaseRules is the phase table of one category.
type PhaseRules struct {
	MaxPhase           int                   `yaml:"max_phase"`
	Cyclic             bool                  `yaml:"cyclic"`
	PhaseNames         []string              `yaml:"phase_names"`
	ConsentFromPhase   int                   `yaml:"consent_from_phase"`
	Requirements       map[int]Requirement   `yaml:"requirements"`
	DefaultRequirement Requirement           `yaml:"default_requirement"`
	ExitSignals        map[int][]TriggerType `yaml:"exit_signals"`
	MinBaseline        map[int]float64       `yaml:"min_baseline"`
	SafetyFlags        []SafetyFlagRule      `yaml:"safety_flags"`
}

// PhaseConfig is the phases.yaml table.
type PhaseConfig struct {
	Default    PhaseRules              `yaml:"default"`
	Categories map[Category]PhaseRules `yaml:"categories"`
}

// Rules returns the rules of c, or the default rules.
func (c PhaseConfig) Rules(cat Category) PhaseRules {
	if r, ok := c.Categories[cat]; ok {
		return r
	}
	return c.Default
}

// Requirement returns what entering target needs.
func (r PhaseRules) Requirement(target int) Requirement {
	if req, ok := r.Requirements[target]; ok {
		return req
	}
	return r.DefaultRequirement
}

// Next returns the phase after current. Cyclic categories wrap to 1.
func (r PhaseRules) Next(current int) (int, bool) {
	if r.MaxPhase < 1 {
		return 0, false
	}
	if r.Cyclic {
		return current%r.MaxPhase + 1, true
	}
	if current >= r.MaxPhase {
		return 0, false
	}
	return current + 1, true
}

// Name returns the configured name of phase, or "phase_<n>".
func (r PhaseRules) Name(phase int) string {
	if phase >= 1 && phase <= len(r.PhaseNames) {
		return r.PhaseNames[phase-1]
	}
	return fmt.Sprintf("phase_%d", phase)
}

// ConsentKey names the consent needed to enter phase of category c.
func ConsentKey(c Category, phase int) string {
	return fmt.Sprintf("%s_phase_%d", c, phase)
}

// TransitionResult is the outcome of evaluating a profile's next transition.
type TransitionResult struct {
	Category        Category `json:"category"`
	CanTransition   bool     `json:"can_transition"`
	CurrentPhase    int      `json:"current_phase"`
	NextPhase       int      `json:"next_phase,omitempty"`
	Missing         []string `json:"missing,omitempty"`
	SafetyFlags     []string `json:"safety_flags,omitempty"`
	RequiresConsent bool     `json:"requires_consent"`
	ConsentKey      string   `json:"consent_key,omitempty"`
}

// PhaseManager evaluates and executes phase transitions.
type PhaseManager struct {
	cfg    PhaseConfig
	log    TriggerLog
	logger zerolog.Logger
	now    func() time.Time
}

func NewPhaseManager(cfg PhaseConfig, log TriggerLog, logger zerolog.Logger) *PhaseManager {
	return &PhaseManager{
		cfg:    cfg,
		log:    log,
		logger: logger.With().Str("component", "phase").Logger(),
		now:    time.Now,
	}
}

// SetClock replaces the transition clock.
func (m *PhaseManager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Rules exposes the rules used for c.
func (m *PhaseManager) Rules(c Category) PhaseRules {
	return m.cfg.Rules(c)
}

// Evaluate checks whether p may move to its next phase. It never mutates p.
func (m *PhaseManager) Evaluate(ctx context.Context, p Profile) (TransitionResult, error) {
	rules := m.cfg.Rules(p.Category)
	res := TransitionResult{Category: p.Category, CurrentPhase: p.CurrentPhase}

	next, ok := rules.Next(p.CurrentPhase)
	if !ok {
		res.Missing = []string{"no next phase"}
		return res, nil
	}
	res.NextPhase = next

	req := rules.Requirement(next)
	if p.InteractionsSincePhaseStart < req.MinInteractions {
		res.Missing = append(res.Missing, fmt.Sprintf("interactions %d/%d", p.InteractionsSincePhaseStart, req.MinInteractions))
	}

	exits := rules.ExitSignals[p.CurrentPhase]
	var counts map[TriggerType]int
	if len(req.Triggers) > 0 || len(exits) > 0 {
		var err error
		counts, err = m.log.CountByType(ctx, p.AgentID, p.Category, p.PhaseStartedAt)
		if err != nil {
			return res, fmt.Errorf("count triggers for %s: %w", p.Category, err)
		}
	}

	types := make([]TriggerType, 0, len(req.Triggers))
	for tt := range req.Triggers {
		types = append(types, tt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, tt := range types {
		if have, want := counts[tt], req.Triggers[tt]; have < want {
			res.Missing = append(res.Missing, fmt.Sprintf("%s %d/%d", tt, have, want))
		}
	}

	if len(exits) > 0 {
		seen := false
		for _, tt := range exits {
			if counts[tt] > 0 {
				seen = true
				break
			}
		}
		if !seen {
			res.Missing = append(res.Missing, fmt.Sprintf("exit signal from %s", rules.Name(p.CurrentPhase)))
		}
	}
	if floor, ok := rules.MinBaseline[next]; ok && p.BaselineIntensity < floor {
		res.Missing = append(res.Missing, fmt.Sprintf("baseline %.2f/%.2f", p.BaselineIntensity, floor))
	}

	for _, f := range rules.SafetyFlags {
		if next >= f.FromPhase {
			res.SafetyFlags = append(res.SafetyFlags, f.Flag)
		}
	}
	if rules.ConsentFromPhase > 0 && next >= rules.ConsentFromPhase {
		res.RequiresConsent = true
		res.ConsentKey = ConsentKey(p.Category, next)
	}

	res.CanTransition = len(res.Missing) == 0
	return res, nil
}

// Execute performs the transition if it is legal. consent states whether the
// consent key of the target phase has been granted.
func (m *PhaseManager) Execute(ctx context.Context, p *Profile, consent bool) (TransitionResult, error) {
	res, err := m.Evaluate(ctx, *p)
	if err != nil {
		return res, err
	}
	if !res.CanTransition {
		return res, &PolicyError{Op: "phase transition", Err: ErrTransitionNotAllowed, Reasons: res.Missing}
	}
	if res.RequiresConsent && !consent {
		return res, &PolicyError{
			Op:         "phase transition",
			Err:        ErrConsentRequired,
			Reasons:    []string{fmt.Sprintf("consent %s not granted", res.ConsentKey)},
			ConsentKey: res.ConsentKey,
		}
	}

	var triggerCount int
	if counts, err := m.log.CountByType(ctx, p.AgentID, p.Category, p.PhaseStartedAt); err != nil {
		m.logger.Warn().Err(err).Str("agent", p.AgentID).Msg("trigger count unavailable for phase history")
	} else {
		for _, n := range counts {
			triggerCount += n
		}
	}

	now := m.stamp(p)
	closeOpen(p, now, ExitNaturalProgression, triggerCount)
	enter(p, res.NextPhase, now, m.cfg.Rules(p.Category))

	m.logger.Info().
		Str("agent", p.AgentID).
		Str("category", string(p.Category)).
		Int("from", res.CurrentPhase).
		Int("to", res.NextPhase).
		Msg("phase transition")
	return res, nil
}

// Reset returns p to phase 1 and closes the open entry with reason reset.
func (m *PhaseManager) Reset(p *Profile, now time.Time) {
	if open := p.OpenEntry(); open >= 0 && now.Before(p.PhaseHistory[open].EnteredAt) {
		now = p.PhaseHistory[open].EnteredAt
	}
	closeOpen(p, now, ExitReset, 0)
	enter(p, 1, now, m.cfg.Rules(p.Category))
}

// stamp returns the transition time, never earlier than the open entry.
func (m *PhaseManager) stamp(p *Profile) time.Time {
	now := m.now()
	if open := p.OpenEntry(); open >= 0 && now.Before(p.PhaseHistory[open].EnteredAt) {
		now = p.PhaseHistory[open].EnteredAt
	}
	if now.Before(p.PhaseStartedAt) {
		now = p.PhaseStartedAt
	}
	return now
}

func closeOpen(p *Profile, now time.Time, reason string, triggers int) {
	i := p.OpenEntry()
	if i < 0 {
		return
	}
	at := now
	e := &p.PhaseHistory[i]
	e.ExitedAt = &at
	e.ExitReason = reason
	e.TriggerCount = triggers
	e.FinalIntensity = clamp01(p.BaselineIntensity)
}

func enter(p *Profile, phase int, now time.Time, rules PhaseRules) {
	p.PhaseHistory = append(p.PhaseHistory, PhaseHistoryEntry{Phase: phase, EnteredAt: now})
	p.CurrentPhase = phase
	p.PhaseStartedAt = now
	p.InteractionsSincePhaseStart = 0
	if rules.Cyclic {
		if p.State == nil {
			p.State = make(map[string]string)
		}
		p.State[StateCycle] = rules.Name(phase)
	}
}
