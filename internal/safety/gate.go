package safety

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/keshon/behavior-sim/internal/behavior"
)

// AgeStatus is what the caller knows about the user's age.
type AgeStatus int

const (
	AgeUnknown AgeStatus = iota
	AgeAdult
	AgeMinor
)

func (a AgeStatus) String() string {
	switch a {
	case AgeAdult:
		return "adult"
	case AgeMinor:
		return "minor"
	default:
		return "unknown"
	}
}

// ParseAge maps "adult", "minor" and anything else to an AgeStatus.
func ParseAge(s string) AgeStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "adult", "18+":
		return AgeAdult
	case "minor":
		return AgeMinor
	default:
		return AgeUnknown
	}
}

// AccessRequest asks whether an agent may enter a phase.
type AccessRequest struct {
	AgentID  string
	Category behavior.Category
	Phase    int
	Explicit bool
	Age      AgeStatus
}

// Access is the gate's answer.
type Access struct {
	Allowed         bool   `json:"allowed"`
	Reason          string `json:"reason,omitempty"`
	Warning         string `json:"warning,omitempty"`
	RequiresConsent bool   `json:"requires_consent"`
	ConsentKey      string `json:"consent_key,omitempty"`
	ConsentPrompt   string `json:"consent_prompt,omitempty"`
}

// ConsentReply is a parsed consent message.
type ConsentReply struct {
	Kind     string            `json:"kind"`
	Category behavior.Category `json:"category,omitempty"`
	Key      string            `json:"key,omitempty"`
}

const (
	ConsentNone    = ""
	ConsentPhrase  = "phrase"
	ConsentGeneral = "general"
)

// IsConsent reports whether the reply granted anything.
func (r ConsentReply) IsConsent() bool { return r.Kind != ConsentNone }

// Gatekeeper decides access to gated phases.
type Gatekeeper struct {
	cfg   *Config
	store ConsentStore
}

func NewGatekeeper(cfg *Config, store ConsentStore) *Gatekeeper {
	if store == nil {
		store = NewMemoryConsentStore()
	}
	return &Gatekeeper{cfg: cfg, store: store}
}

// Store returns the consent store backing the gate.
func (g *Gatekeeper) Store() ConsentStore { return g.store }

// VerifyAccess evaluates, in order: ungated category, phase below the
// explicit threshold, minor, explicit mode off, missing consent at the
// critical phase. One consent covers every phase from the critical one up.
func (g *Gatekeeper) VerifyAccess(ctx context.Context, req AccessRequest) (Access, error) {
	gate, ok := g.cfg.Gate(req.Category)
	if !ok || req.Phase < gate.MinExplicitPhase {
		return Access{Allowed: true}, nil
	}
	if req.Age == AgeMinor {
		return Access{Reason: g.cfg.AgeRestriction}, nil
	}
	if !req.Explicit {
		reason := withPhase(gate.BlockReason, req.Phase)
		if g.cfg.EnableExplicit != "" {
			reason += " " + g.cfg.EnableExplicit
		}
		return Access{Reason: reason}, nil
	}
	if req.Phase >= gate.CriticalPhase {
		key := behavior.ConsentKey(req.Category, gate.CriticalPhase)
		has, err := g.store.Has(ctx, req.AgentID, key)
		if err != nil {
			return Access{}, fmt.Errorf("verify access: %w", err)
		}
		if !has {
			return Access{
				RequiresConsent: true,
				ConsentKey:      key,
				ConsentPrompt:   gate.ConsentPrompt,
				Reason:          "consent required",
			}, nil
		}
	}
	return Access{Allowed: true, Warning: g.cfg.ExplicitAdvisory}, nil
}

// ConsentKeyFor returns the gate's consent key for entering phase of c, if
// that phase needs one.
func (g *Gatekeeper) ConsentKeyFor(c behavior.Category, phase int) (string, bool) {
	gate, ok := g.cfg.Gate(c)
	if !ok || phase < gate.MinExplicitPhase || phase < gate.CriticalPhase {
		return "", false
	}
	return behavior.ConsentKey(c, gate.CriticalPhase), true
}

// ParseConsent matches a user message against the consent phrases.
func (g *Gatekeeper) ParseConsent(text string) ConsentReply {
	s := strings.TrimRightFunc(strings.TrimSpace(text), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	if s == "" {
		return ConsentReply{}
	}
	for _, cat := range gatedCategories(g.cfg) {
		gate := g.cfg.Gates[cat]
		for _, phrase := range gate.ConsentPhrases {
			if strings.EqualFold(s, phrase) {
				return ConsentReply{
					Kind:     ConsentPhrase,
					Category: cat,
					Key:      behavior.ConsentKey(cat, gate.CriticalPhase),
				}
			}
		}
	}
	for _, w := range g.cfg.GeneralConsent {
		if strings.EqualFold(s, w) {
			return ConsentReply{Kind: ConsentGeneral}
		}
	}
	return ConsentReply{}
}

// Grant records a phrase consent for agentID. General consent carries no key
// and needs a pending key from the caller.
func (g *Gatekeeper) Grant(ctx context.Context, agentID string, reply ConsentReply, pending string) (string, error) {
	key := reply.Key
	if reply.Kind == ConsentGeneral {
		key = pending
	}
	if key == "" {
		return "", nil
	}
	if err := g.store.Grant(ctx, agentID, key); err != nil {
		return "", err
	}
	return key, nil
}

// TransitionWarning returns the notice shown when entering phase of c, or ""
// for ungated categories and phases below the explicit threshold.
func (g *Gatekeeper) TransitionWarning(c behavior.Category, phase int) string {
	gate, ok := g.cfg.Gate(c)
	if !ok || phase < gate.MinExplicitPhase {
		return ""
	}
	return withPhase(gate.TransitionWarning, phase)
}

// TransitionPrompt asks for consent before a consent-gated phase transition.
// Gated categories at their critical phase use the gate's own prompt.
func (g *Gatekeeper) TransitionPrompt(c behavior.Category, phase int, name string) string {
	if gate, ok := g.cfg.Gate(c); ok && phase >= gate.CriticalPhase && gate.ConsentPrompt != "" {
		return gate.ConsentPrompt
	}
	r := strings.NewReplacer("{category}", string(c), "{name}", name)
	return r.Replace(withPhase(g.cfg.TransitionConsentPrompt, phase))
}

// ExplicitModeNotice is shown when explicit mode is switched on.
func (g *Gatekeeper) ExplicitModeNotice() string {
	return g.cfg.ExplicitModeNotice
}

func gatedCategories(cfg *Config) []behavior.Category {
	out := make([]behavior.Category, 0, len(cfg.Gates))
	for c := range cfg.Gates {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}
