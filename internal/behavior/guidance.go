package behavior

import (
	"sort"
	"sync"
)

// Guidance contexts shared by several categories.
const (
	ContextNormal     = "normal"
	ContextJealousy   = "jealousy"
	ContextSeparation = "separation"
	ContextConflict   = "conflict"
	ContextReassured  = "reassured"
)

// GuidanceEntry maps a situation to a guidance key.
type GuidanceEntry struct {
	Category     Category `yaml:"category"`
	Phase        int      `yaml:"phase"` // 0 matches any phase
	Context      string   `yaml:"context"`
	Emotion      string   `yaml:"emotion"`
	Key          string   `yaml:"key"`
	Safety       Severity `yaml:"safety"`
	ExplicitOnly bool     `yaml:"explicit_only"`
}

// GuidanceDefault is the last-resort key of a category.
type GuidanceDefault struct {
	Key    string   `yaml:"key"`
	Safety Severity `yaml:"safety"`
}

// GuidanceConfig is the guidance.yaml table.
type GuidanceConfig struct {
	Defaults         map[Category]GuidanceDefault `yaml:"defaults"`
	Fallback         GuidanceDefault              `yaml:"fallback"`
	Entries          []GuidanceEntry              `yaml:"entries"`
	UsedKeysPerAgent int                          `yaml:"used_keys_per_agent"`
	MaxAgents        int                          `yaml:"max_agents"`
}

// GuidanceInput is what the selector looks at.
type GuidanceInput struct {
	AgentID     string
	Intensities []IntensityResult
	Profiles    []Profile
	Emotions    Emotions
	Triggers    []TriggerEvent
	Explicit    bool
}

// GuidanceItem is one selected key.
type GuidanceItem struct {
	Category Category `json:"category"`
	Phase    int      `json:"phase"`
	Context  string   `json:"context"`
	Key      string   `json:"key"`
	Safety   Severity `json:"safety"`
	Score    float64  `json:"score"`
}

// GuidanceSelection is the primary key plus up to two secondary ones.
type GuidanceSelection struct {
	Primary   *GuidanceItem  `json:"primary,omitempty"`
	Secondary []GuidanceItem `json:"secondary,omitempty"`
	Dominant  Category       `json:"dominant,omitempty"`
	Displayed int            `json:"displayed"`
	Safety    Severity       `json:"safety"`
}

// GuidanceSelector picks guidance keys and avoids repeating variants per agent.
type GuidanceSelector struct {
	cfg    GuidanceConfig
	phases PhaseConfig

	mu   sync.Mutex
	used map[string]map[string]struct{}
}

func NewGuidanceSelector(cfg GuidanceConfig, phases PhaseConfig) *GuidanceSelector {
	if cfg.UsedKeysPerAgent <= 0 {
		cfg.UsedKeysPerAgent = 32
	}
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = 4096
	}
	return &GuidanceSelector{cfg: cfg, phases: phases, used: make(map[string]map[string]struct{})}
}

// Select returns guidance for the displayable behaviors, strongest first.
func (s *GuidanceSelector) Select(in GuidanceInput) GuidanceSelection {
	sel := GuidanceSelection{Safety: SeveritySafe}

	var shown []IntensityResult
	for _, r := range in.Intensities {
		if r.ShouldDisplay {
			shown = append(shown, r)
		}
	}
	if len(shown) == 0 {
		return sel
	}
	sort.SliceStable(shown, func(i, j int) bool { return shown[i].Final > shown[j].Final })
	sel.Displayed = len(shown)
	sel.Dominant = shown[0].Category

	profiles := make(map[Category]Profile, len(in.Profiles))
	for _, p := range in.Profiles {
		profiles[p.Category] = p
	}
	emotion, _, hasEmotion := in.Emotions.Dominant()
	if !hasEmotion {
		emotion = ""
	}

	for i, r := range shown {
		if i >= 3 {
			break
		}
		p, ok := profiles[r.Category]
		if !ok {
			p = Profile{Category: r.Category, CurrentPhase: 1}
		}
		ctx := s.Context(p, emotion, in.Triggers)
		key, safety := s.lookup(in.AgentID, p.Category, p.CurrentPhase, ctx, emotion, in.Explicit)

		score := r.Final + 0.05*float64(len(in.Triggers))
		if hasEmotion {
			score += 0.1
		}
		item := GuidanceItem{
			Category: r.Category,
			Phase:    p.CurrentPhase,
			Context:  ctx,
			Key:      key,
			Safety:   safety.Max(SeveritySafe),
			Score:    clamp01(score),
		}
		sel.Safety = sel.Safety.Max(item.Safety)
		if i == 0 {
			sel.Primary = &item
		} else {
			sel.Secondary = append(sel.Secondary, item)
		}
	}
	return sel
}

// Context infers the situational context used to pick content. It never
// changes phase or safety decisions.
func (s *GuidanceSelector) Context(p Profile, emotion string, triggers []TriggerEvent) string {
	has := func(types ...TriggerType) bool {
		for _, t := range triggers {
			for _, tt := range types {
				if t.Type == tt {
					return true
				}
			}
		}
		return false
	}

	switch p.Category {
	case BorderlineCycle:
		switch {
		case has(Criticism, ExplicitRejection):
			return "devaluation"
		case has(AbandonmentSignal) && len(triggers) >= 2:
			return "panic"
		case emotion == "sadness" || emotion == "boredom":
			return "emptiness"
		}
		if st := p.State[StateCycle]; st != "" {
			return st
		}
		return s.phases.Rules(p.Category).Name(p.CurrentPhase)
	case Narcissistic:
		switch {
		case has(Criticism):
			return "wounded"
		case emotion == "pride" || emotion == "admiration":
			return "inflated"
		}
		return "stable"
	case ObsessiveAttachment:
		switch {
		case has(ThirdPartyMention):
			return ContextJealousy
		case has(DelayedResponse, AbandonmentSignal):
			return ContextSeparation
		}
		return ContextNormal
	default:
		switch {
		case has(DelayedResponse, AbandonmentSignal):
			return ContextSeparation
		case has(Criticism, ExplicitRejection, BoundaryAssertion):
			return ContextConflict
		case has(Reassurance):
			return ContextReassured
		}
		return ContextNormal
	}
}

// lookup falls back exact -> (phase, context) -> (phase, normal) -> category default.
func (s *GuidanceSelector) lookup(agent string, c Category, phase int, ctx, emotion string, explicit bool) (string, Severity) {
	stages := []func(GuidanceEntry) bool{
		func(e GuidanceEntry) bool { return e.Context == ctx && e.Emotion != "" && e.Emotion == emotion },
		func(e GuidanceEntry) bool { return e.Context == ctx && e.Emotion == "" },
		func(e GuidanceEntry) bool { return e.Context == ContextNormal && e.Emotion == "" },
	}
	for _, match := range stages {
		var exact, wildcard []GuidanceEntry
		for _, e := range s.cfg.Entries {
			if e.Category != c || (e.ExplicitOnly && !explicit) || !match(e) {
				continue
			}
			switch e.Phase {
			case phase:
				exact = append(exact, e)
			case 0:
				wildcard = append(wildcard, e)
			}
		}
		if cands := append(exact, wildcard...); len(cands) > 0 {
			e := s.pick(agent, cands)
			return e.Key, e.Safety
		}
	}
	if d, ok := s.cfg.Defaults[c]; ok {
		return d.Key, d.Safety
	}
	return s.cfg.Fallback.Key, s.cfg.Fallback.Safety
}

// pick returns the first candidate the agent has not seen recently.
func (s *GuidanceSelector) pick(agent string, cands []GuidanceEntry) GuidanceEntry {
	if agent == "" {
		return cands[0]
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	used, ok := s.used[agent]
	if !ok {
		if len(s.used) >= s.cfg.MaxAgents {
			for k := range s.used {
				delete(s.used, k)
				break
			}
		}
		used = make(map[string]struct{})
		s.used[agent] = used
	}

	chosen := cands[0]
	fresh := false
	for _, e := range cands {
		if _, seen := used[e.Key]; !seen {
			chosen, fresh = e, true
			break
		}
	}
	if !fresh {
		for _, e := range cands {
			delete(used, e.Key)
		}
	}
	if len(used) >= s.cfg.UsedKeysPerAgent {
		clear(used)
	}
	used[chosen.Key] = struct{}{}
	return chosen
}

// Forget drops the used-key memory of agent.
func (s *GuidanceSelector) Forget(agent string) {
	s.mu.Lock()
	delete(s.used, agent)
	s.mu.Unlock()
}
