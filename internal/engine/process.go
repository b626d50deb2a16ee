package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keshon/behavior-sim/internal/behavior"
	"github.com/keshon/behavior-sim/internal/safety"
)

// Input is one message to run through the pipeline.
type Input struct {
	AgentID  string             `json:"agent_id"`
	Message  behavior.Message   `json:"message"`
	History  []behavior.Message `json:"history,omitempty"`
	Emotions behavior.Emotions  `json:"emotions,omitempty"`
	Explicit bool               `json:"explicit"`
	Age      safety.AgeStatus   `json:"-"`
	// Modulation scales every intensity; 0 means neutral.
	Modulation float64 `json:"modulation,omitempty"`
	// Candidate is an optional drafted reply to moderate.
	Candidate string `json:"candidate,omitempty"`
}

// ConsentPrompt asks the user for a consent key.
type ConsentPrompt struct {
	Category behavior.Category `json:"category"`
	Phase    int               `json:"phase"`
	Key      string            `json:"key"`
	Prompt   string            `json:"prompt"`
}

// BehaviorState is the per-behavior part of a Decision.
type BehaviorState struct {
	Category          behavior.Category        `json:"category"`
	Phase             int                      `json:"phase"`
	PhaseName         string                   `json:"phase_name,omitempty"`
	Intensity         behavior.IntensityResult `json:"intensity"`
	Severity          behavior.Severity        `json:"severity"`
	Warning           string                   `json:"warning,omitempty"`
	Access            *safety.Access           `json:"access,omitempty"`
	Suppressed        bool                     `json:"suppressed"`
	Held              string                   `json:"held,omitempty"`
	TransitionWarning string                   `json:"transition_warning,omitempty"`
}

// Decision is the structured result of one message.
type Decision struct {
	AgentID        string                      `json:"agent_id"`
	MessageID      string                      `json:"message_id,omitempty"`
	Triggers       []behavior.TriggerEvent     `json:"triggers"`
	Behaviors      []BehaviorState             `json:"behaviors"`
	Transitions    []behavior.TransitionResult `json:"transitions,omitempty"`
	ConsentPrompts []ConsentPrompt             `json:"consent_prompts,omitempty"`
	ConsentGranted []string                    `json:"consent_granted,omitempty"`
	Emotions       *behavior.InfluenceReport   `json:"emotions,omitempty"`
	Guidance       behavior.GuidanceSelection  `json:"guidance"`
	Safety         behavior.Severity           `json:"safety"`
	Resources      []string                    `json:"resources,omitempty"`
	Response       *safety.Verdict             `json:"response,omitempty"`
	Warnings       []string                    `json:"warnings,omitempty"`
}

// Process runs one message through the pipeline and persists the agent state.
// Empty input yields an empty decision. Only a failing state load or save is
// returned as an error; other failures degrade and are listed in Warnings.
func (e *Engine) Process(ctx context.Context, in Input) (Decision, error) {
	if in.AgentID == "" || strings.TrimSpace(in.Message.Content) == "" {
		return Decision{AgentID: in.AgentID, Safety: behavior.SeveritySafe}, nil
	}

	now := e.now()
	msg := in.Message
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.At.IsZero() {
		msg.At = now
	}
	if msg.Role == "" {
		msg.Role = behavior.RoleUser
	}

	unlock := e.locks.lock(in.AgentID)
	defer unlock()

	st, err := e.store.Load(ctx, in.AgentID)
	if err != nil {
		return Decision{}, fmt.Errorf("load agent %s: %w", in.AgentID, err)
	}

	d := e.pipeline(ctx, &st, in, msg, now)

	if _, err := e.store.Update(ctx, in.AgentID, func(cur *behavior.AgentState) error {
		*cur = st
		return nil
	}); err != nil {
		return Decision{}, fmt.Errorf("save agent %s: %w", in.AgentID, err)
	}

	e.logger.Debug().
		Str("agent", in.AgentID).
		Int("triggers", len(d.Triggers)).
		Int("transitions", len(d.Transitions)).
		Str("safety", string(d.Safety)).
		Msg("message processed")
	return d, nil
}

type pass struct {
	e  *Engine
	st *behavior.AgentState
	in Input
	d  *Decision
}

func (r *pass) warn(stage string, err error) {
	r.d.Warnings = append(r.d.Warnings, stage+": "+err.Error())
	r.e.logger.Warn().Err(err).Str("agent", r.in.AgentID).Str("stage", stage).Msg("pipeline degraded")
}

func (e *Engine) pipeline(ctx context.Context, st *behavior.AgentState, in Input, msg behavior.Message, now time.Time) Decision {
	d := Decision{AgentID: in.AgentID, MessageID: msg.ID, Safety: behavior.SeveritySafe}
	r := &pass{e: e, st: st, in: in, d: &d}

	r.consentReply(ctx, msg.Content)

	profiles := st.Enabled()
	d.Triggers = e.detector.Detect(msg, in.History, st.Profiles)
	if res := e.processor.Process(ctx, in.AgentID, msg.ID, d.Triggers, profiles, &st.Progression); res.LogErr != nil {
		r.warn("trigger log", res.LogErr)
	}

	transitionWarnings := make(map[behavior.Category]string)
	held := make(map[behavior.Category]string)
	for _, p := range profiles {
		if w, reason := r.advance(ctx, p); w != "" {
			transitionWarnings[p.Category] = w
		} else if reason != "" {
			held[p.Category] = reason
		}
	}

	intensities := make([]behavior.IntensityResult, 0, len(profiles))
	for _, p := range profiles {
		history, err := e.log.Since(ctx, in.AgentID, p.Category, now.Add(-e.calc.Window()))
		if err != nil {
			r.warn("trigger history", err)
			history = nil
		}
		intensities = append(intensities, e.calc.Compute(*p, history, in.Modulation, now))
	}

	emotions := in.Emotions
	if len(in.Emotions) > 0 {
		rep := e.emotions.Influence(in.Emotions, intensities)
		d.Emotions = &rep
		emotions = rep.Emotions
		for _, p := range profiles {
			if delta := rep.Adjustments[p.Category]; delta != 0 {
				p.Nudge(delta)
			}
		}
	}

	shown := make([]behavior.IntensityResult, 0, len(intensities))
	var dominant *BehaviorState
	for i, p := range profiles {
		res := intensities[i]
		bs := BehaviorState{
			Category:          p.Category,
			Phase:             p.CurrentPhase,
			PhaseName:         e.phases.Rules(p.Category).Name(p.CurrentPhase),
			Intensity:         res,
			Severity:          e.moderator.Threshold(p.Category, p.CurrentPhase).Level,
			Held:              held[p.Category],
			TransitionWarning: transitionWarnings[p.Category],
		}
		if res.ShouldDisplay {
			acc, err := e.gate.VerifyAccess(ctx, r.access(p.Category, p.CurrentPhase))
			if err != nil {
				r.warn("consent store", err)
				acc = safety.Access{Reason: "consent store unavailable"}
			}
			bs.Access = &acc
			bs.Suppressed = !acc.Allowed || e.moderator.ShouldBlock(p.Category, p.CurrentPhase, in.Explicit)
			if acc.RequiresConsent {
				r.prompt(ConsentPrompt{Category: p.Category, Phase: p.CurrentPhase, Key: acc.ConsentKey, Prompt: acc.ConsentPrompt})
			}
			if !bs.Suppressed {
				bs.Warning = e.moderator.Warning(p.Category, p.CurrentPhase)
				d.Safety = d.Safety.Max(bs.Severity)
				shown = append(shown, res)
			}
		}
		d.Behaviors = append(d.Behaviors, bs)
	}
	for i := range d.Behaviors {
		bs := &d.Behaviors[i]
		if bs.Intensity.ShouldDisplay && !bs.Suppressed && (dominant == nil || bs.Intensity.Final > dominant.Intensity.Final) {
			dominant = bs
		}
	}

	if in.Candidate != "" {
		v := safety.Verdict{Allowed: true, Text: in.Candidate, Severity: behavior.SeveritySafe}
		if dominant != nil {
			v = e.moderator.Moderate(in.Candidate, dominant.Category, dominant.Phase, in.Explicit)
		}
		d.Response = &v
		d.Resources = v.Resources
	} else if dominant != nil && dominant.Severity.Rank() >= behavior.SeverityCritical.Rank() {
		d.Resources = e.moderator.Resources(dominant.Category)
	}

	values := make([]behavior.Profile, len(profiles))
	for i, p := range profiles {
		values[i] = *p
	}
	d.Guidance = e.guidance.Select(behavior.GuidanceInput{
		AgentID:     in.AgentID,
		Intensities: shown,
		Profiles:    values,
		Emotions:    emotions,
		Triggers:    d.Triggers,
		Explicit:    in.Explicit,
	})
	d.Safety = d.Safety.Max(d.Guidance.Safety)

	cache := make(map[behavior.Category]float64, len(intensities))
	for _, res := range intensities {
		cache[res.Category] = res.Final
	}
	st.Progression.CachedIntensities = cache
	st.Progression.LastCalculatedAt = now
	return d
}

func (r *pass) access(c behavior.Category, phase int) safety.AccessRequest {
	return safety.AccessRequest{
		AgentID:  r.in.AgentID,
		Category: c,
		Phase:    phase,
		Explicit: r.in.Explicit,
		Age:      r.in.Age,
	}
}

// consentReply grants keys named by a consent message. A general "yes"
// grants every pending key.
func (r *pass) consentReply(ctx context.Context, text string) {
	reply := r.e.gate.ParseConsent(text)
	var keys []string
	switch reply.Kind {
	case safety.ConsentPhrase:
		keys = []string{reply.Key}
	case safety.ConsentGeneral:
		keys = slices.Clone(r.st.PendingConsent)
	default:
		return
	}
	for _, k := range keys {
		if err := r.e.consent.Grant(ctx, r.in.AgentID, k); err != nil {
			r.warn("consent grant", err)
			continue
		}
		r.d.ConsentGranted = append(r.d.ConsentGranted, k)
		r.st.PendingConsent = slices.DeleteFunc(r.st.PendingConsent, func(p string) bool { return p == k })
	}
	if len(r.st.PendingConsent) == 0 {
		r.st.PendingConsent = nil
	}
}

// advance executes p's next transition when it is legal and permitted. It
// returns the transition warning on success or the reason it was held.
func (r *pass) advance(ctx context.Context, p *behavior.Profile) (warning, held string) {
	e := r.e
	res, err := e.phases.Evaluate(ctx, *p)
	if err != nil {
		r.warn("phase evaluation", err)
		return "", ""
	}
	if !res.CanTransition {
		return "", ""
	}

	acc, err := e.gate.VerifyAccess(ctx, r.access(p.Category, res.NextPhase))
	if err != nil {
		r.warn("consent store", err)
		return "", "consent store unavailable"
	}
	if !acc.Allowed {
		if acc.RequiresConsent {
			r.prompt(ConsentPrompt{Category: p.Category, Phase: res.NextPhase, Key: acc.ConsentKey, Prompt: acc.ConsentPrompt})
		}
		return "", acc.Reason
	}

	granted := true
	if res.RequiresConsent {
		granted, err = e.consent.Has(ctx, r.in.AgentID, res.ConsentKey)
		if err != nil {
			r.warn("consent store", err)
			return "", "consent store unavailable"
		}
		if !granted {
			name := e.phases.Rules(p.Category).Name(res.NextPhase)
			r.prompt(ConsentPrompt{
				Category: p.Category,
				Phase:    res.NextPhase,
				Key:      res.ConsentKey,
				Prompt:   e.gate.TransitionPrompt(p.Category, res.NextPhase, name),
			})
			return "", "consent required"
		}
	}

	out, err := e.phases.Execute(ctx, p, granted)
	if err != nil {
		if !behavior.IsPolicy(err) {
			r.warn("phase transition", err)
		}
		return "", ""
	}
	r.d.Transitions = append(r.d.Transitions, out)
	return e.gate.TransitionWarning(p.Category, out.NextPhase), ""
}

// prompt queues a consent prompt once per key and remembers the key as pending.
func (r *pass) prompt(p ConsentPrompt) {
	if p.Key == "" {
		return
	}
	for _, q := range r.d.ConsentPrompts {
		if q.Key == p.Key {
			return
		}
	}
	r.d.ConsentPrompts = append(r.d.ConsentPrompts, p)
	if !slices.Contains(r.st.PendingConsent, p.Key) {
		r.st.PendingConsent = append(r.st.PendingConsent, p.Key)
	}
}
