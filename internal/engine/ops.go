package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/keshon/behavior-sim/internal/behavior"
	"github.com/keshon/behavior-sim/internal/safety"
)

// ErrAccessDenied is returned, wrapped in a PolicyError, when the safety gate
// refuses a requested phase.
var ErrAccessDenied = errors.New("access denied")

func validCategory(c behavior.Category) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", behavior.ErrUnknownCategory, c)
	}
	return nil
}

func profileOf(st *behavior.AgentState, c behavior.Category) (*behavior.Profile, error) {
	i := st.Profile(c)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s for agent %s", behavior.ErrProfileNotFound, c, st.AgentID)
	}
	return &st.Profiles[i], nil
}

// update runs fn on the agent's state under the agent lock.
func (e *Engine) update(ctx context.Context, agentID string, fn func(*behavior.AgentState) error) (behavior.AgentState, error) {
	if agentID == "" {
		return behavior.AgentState{}, fmt.Errorf("%w: empty agent id", ErrInvalidInput)
	}
	unlock := e.locks.lock(agentID)
	defer unlock()
	return e.store.Update(ctx, agentID, fn)
}

// EnableBehavior enables category c for the agent, creating the profile at
// phase 1 from the table defaults if it does not exist. Non-nil options
// override the stored parameters either way.
func (e *Engine) EnableBehavior(ctx context.Context, agentID string, c behavior.Category, opts behavior.ProfileOptions) (behavior.Profile, error) {
	if err := validCategory(c); err != nil {
		return behavior.Profile{}, err
	}
	var out behavior.Profile
	_, err := e.update(ctx, agentID, func(st *behavior.AgentState) error {
		if i := st.Profile(c); i >= 0 {
			p := &st.Profiles[i]
			p.Enabled = true
			applyOptions(p, opts)
			p.Normalize()
			out = p.Clone()
			return nil
		}
		p := behavior.NewProfile(agentID, c, e.tables.Defaults, opts, e.now())
		st.Profiles = append(st.Profiles, p)
		out = p.Clone()
		return nil
	})
	if err != nil {
		return behavior.Profile{}, err
	}
	e.logger.Info().Str("agent", agentID).Str("category", string(c)).Msg("behavior enabled")
	return out, nil
}

func applyOptions(p *behavior.Profile, o behavior.ProfileOptions) {
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&p.BaselineIntensity, o.Baseline)
	set(&p.EscalationRate, o.EscalationRate)
	set(&p.DeEscalationRate, o.DeEscalationRate)
	set(&p.Volatility, o.Volatility)
	set(&p.DisplayThreshold, o.DisplayThreshold)
}

// DisableBehavior turns category c off. Its progress is kept.
func (e *Engine) DisableBehavior(ctx context.Context, agentID string, c behavior.Category) error {
	if err := validCategory(c); err != nil {
		return err
	}
	_, err := e.update(ctx, agentID, func(st *behavior.AgentState) error {
		p, err := profileOf(st, c)
		if err != nil {
			return err
		}
		p.Enabled = false
		return nil
	})
	return err
}

// ResetPhase returns category c to phase 1 and drops its pending consent prompts.
func (e *Engine) ResetPhase(ctx context.Context, agentID string, c behavior.Category) (behavior.Profile, error) {
	if err := validCategory(c); err != nil {
		return behavior.Profile{}, err
	}
	var out behavior.Profile
	_, err := e.update(ctx, agentID, func(st *behavior.AgentState) error {
		p, err := profileOf(st, c)
		if err != nil {
			return err
		}
		e.phases.Reset(p, e.now())
		prefix := string(c) + "_phase_"
		st.PendingConsent = slices.DeleteFunc(st.PendingConsent, func(k string) bool {
			return strings.HasPrefix(k, prefix)
		})
		out = p.Clone()
		return nil
	})
	if err != nil {
		return behavior.Profile{}, err
	}
	e.logger.Info().Str("agent", agentID).Str("category", string(c)).Msg("phase reset")
	return out, nil
}

// EvaluatePhase reports whether category c may advance, without changing anything.
func (e *Engine) EvaluatePhase(ctx context.Context, agentID string, c behavior.Category) (behavior.TransitionResult, error) {
	if err := validCategory(c); err != nil {
		return behavior.TransitionResult{}, err
	}
	unlock := e.locks.lock(agentID)
	defer unlock()
	st, err := e.store.Load(ctx, agentID)
	if err != nil {
		return behavior.TransitionResult{}, err
	}
	p, err := profileOf(&st, c)
	if err != nil {
		return behavior.TransitionResult{}, err
	}
	return e.phases.Evaluate(ctx, *p)
}

// AdvanceRequest asks for an explicit phase transition.
type AdvanceRequest struct {
	AgentID  string
	Category behavior.Category
	// Consent records the user's consent to the target phase's key before advancing.
	Consent  bool
	Explicit bool
	Age      safety.AgeStatus
}

// AdvancePhase executes the next transition of a category when it is legal.
// Refusals are *behavior.PolicyError values wrapping ErrTransitionNotAllowed,
// ErrConsentRequired or ErrAccessDenied.
func (e *Engine) AdvancePhase(ctx context.Context, req AdvanceRequest) (behavior.TransitionResult, error) {
	if err := validCategory(req.Category); err != nil {
		return behavior.TransitionResult{}, err
	}
	var out behavior.TransitionResult
	_, err := e.update(ctx, req.AgentID, func(st *behavior.AgentState) error {
		p, err := profileOf(st, req.Category)
		if err != nil {
			return err
		}
		res, err := e.phases.Evaluate(ctx, *p)
		if err != nil {
			return err
		}
		out = res
		if !res.CanTransition {
			return &behavior.PolicyError{Op: "phase transition", Err: behavior.ErrTransitionNotAllowed, Reasons: res.Missing}
		}

		acc, err := e.gate.VerifyAccess(ctx, safety.AccessRequest{
			AgentID:  req.AgentID,
			Category: req.Category,
			Phase:    res.NextPhase,
			Explicit: req.Explicit,
			Age:      req.Age,
		})
		if err != nil {
			return err
		}
		// Consent given with the request only satisfies a missing-consent
		// refusal; every other refusal stands and nothing is granted.
		if !acc.Allowed && !(acc.RequiresConsent && req.Consent) {
			if acc.RequiresConsent {
				return &behavior.PolicyError{Op: "phase transition", Err: behavior.ErrConsentRequired, Reasons: []string{acc.Reason}, ConsentKey: acc.ConsentKey}
			}
			return &behavior.PolicyError{Op: "phase transition", Err: ErrAccessDenied, Reasons: []string{acc.Reason}}
		}

		if req.Consent {
			for _, key := range consentKeys(e, req, res) {
				if err := e.consent.Grant(ctx, req.AgentID, key); err != nil {
					return err
				}
				st.PendingConsent = slices.DeleteFunc(st.PendingConsent, func(k string) bool { return k == key })
			}
		}

		granted := true
		if res.RequiresConsent {
			if granted, err = e.consent.Has(ctx, req.AgentID, res.ConsentKey); err != nil {
				return err
			}
		}
		out, err = e.phases.Execute(ctx, p, granted)
		return err
	})
	return out, err
}

// consentKeys lists the keys a transition to res.NextPhase may ask for.
func consentKeys(e *Engine, req AdvanceRequest, res behavior.TransitionResult) []string {
	var keys []string
	if res.RequiresConsent {
		keys = append(keys, res.ConsentKey)
	}
	if key, ok := e.gate.ConsentKeyFor(req.Category, res.NextPhase); ok && !slices.Contains(keys, key) {
		keys = append(keys, key)
	}
	return keys
}

// State returns the agent's stored state.
func (e *Engine) State(ctx context.Context, agentID string) (behavior.AgentState, error) {
	if agentID == "" {
		return behavior.AgentState{}, fmt.Errorf("%w: empty agent id", ErrInvalidInput)
	}
	return e.store.Load(ctx, agentID)
}

// GrantConsent records consent for key and clears it from the pending prompts.
func (e *Engine) GrantConsent(ctx context.Context, agentID, key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty consent key", ErrInvalidInput)
	}
	_, err := e.update(ctx, agentID, func(st *behavior.AgentState) error {
		if err := e.consent.Grant(ctx, agentID, key); err != nil {
			return err
		}
		st.PendingConsent = slices.DeleteFunc(st.PendingConsent, func(k string) bool { return k == key })
		return nil
	})
	if err == nil {
		e.logger.Info().Str("agent", agentID).Str("key", key).Msg("consent granted")
	}
	return err
}

func (e *Engine) RevokeConsent(ctx context.Context, agentID, key string) error {
	if agentID == "" || key == "" {
		return fmt.Errorf("%w: empty agent id or consent key", ErrInvalidInput)
	}
	return e.consent.Revoke(ctx, agentID, key)
}

func (e *Engine) RevokeAllConsent(ctx context.Context, agentID string) error {
	if agentID == "" {
		return fmt.Errorf("%w: empty agent id", ErrInvalidInput)
	}
	return e.consent.RevokeAll(ctx, agentID)
}

// Consents lists the agent's granted consent keys.
func (e *Engine) Consents(ctx context.Context, agentID string) ([]string, error) {
	return e.consent.List(ctx, agentID)
}
