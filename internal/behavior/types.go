package behavior

import (
	"time"
)

// Category identifies a behavior profile kind. Values match the persisted names.
type Category string

const (
	ObsessiveAttachment    Category = "YANDERE_OBSESSIVE"
	BorderlineCycle        Category = "BORDERLINE_PD"
	Narcissistic           Category = "NARCISSISTIC_PD"
	AnxiousAttachment      Category = "ANXIOUS_ATTACHMENT"
	AvoidantAttachment     Category = "AVOIDANT_ATTACHMENT"
	DisorganizedAttachment Category = "DISORGANIZED_ATTACHMENT"
	Codependency           Category = "CODEPENDENCY"

	// Reserved categories: accepted by tables and the safety gate, no trigger wiring by default.
	OCDPatterns           Category = "OCD_PATTERNS"
	PTSDTrauma            Category = "PTSD_TRAUMA"
	Hypersexuality        Category = "HYPERSEXUALITY"
	Hyposexuality         Category = "HYPOSEXUALITY"
	EmotionalManipulation Category = "EMOTIONAL_MANIPULATION"
	CrisisBreakdown       Category = "CRISIS_BREAKDOWN"
)

// AllCategories lists every known category, core ones first.
var AllCategories = []Category{
	ObsessiveAttachment,
	BorderlineCycle,
	Narcissistic,
	AnxiousAttachment,
	AvoidantAttachment,
	DisorganizedAttachment,
	Codependency,
	OCDPatterns,
	PTSDTrauma,
	Hypersexuality,
	Hyposexuality,
	EmotionalManipulation,
	CrisisBreakdown,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range AllCategories {
		if k == c {
			return true
		}
	}
	return false
}

// TriggerType is the fixed trigger taxonomy.
type TriggerType string

const (
	AbandonmentSignal TriggerType = "abandonment_signal"
	DelayedResponse   TriggerType = "delayed_response"
	Criticism         TriggerType = "criticism"
	ThirdPartyMention TriggerType = "mention_other_person"
	BoundaryAssertion TriggerType = "boundary_assertion"
	Reassurance       TriggerType = "reassurance"
	ExplicitRejection TriggerType = "explicit_rejection"
)

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation message as seen by the detector.
type Message struct {
	ID      string    `json:"id,omitempty"`
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// PhaseHistoryEntry records one stay in a phase. ExitedAt is nil for the open entry.
type PhaseHistoryEntry struct {
	Phase          int        `json:"phase"`
	EnteredAt      time.Time  `json:"entered_at"`
	ExitedAt       *time.Time `json:"exited_at,omitempty"`
	ExitReason     string     `json:"exit_reason,omitempty"`
	TriggerCount   int        `json:"trigger_count"`
	FinalIntensity float64    `json:"final_intensity"`
}

// Exit reasons written into phase history.
const (
	ExitNaturalProgression = "natural_progression"
	ExitReset              = "reset"
)

// Profile is one behavior profile of one agent.
type Profile struct {
	AgentID                     string              `json:"agent_id"`
	Category                    Category            `json:"category"`
	Enabled                     bool                `json:"enabled"`
	BaselineIntensity           float64             `json:"baseline_intensity"` // 0..1
	EscalationRate              float64             `json:"escalation_rate"`
	DeEscalationRate            float64             `json:"de_escalation_rate"`
	Volatility                  float64             `json:"volatility"` // 0..1
	CurrentPhase                int                 `json:"current_phase"`
	PhaseStartedAt              time.Time           `json:"phase_started_at"`
	PhaseHistory                []PhaseHistoryEntry `json:"phase_history"`
	InteractionsSincePhaseStart int                 `json:"interactions_since_phase_start"`
	State                       map[string]string   `json:"state,omitempty"` // category specific, e.g. cycle_state
	DisplayThreshold            float64             `json:"display_threshold"`
}

// State blob keys.
const (
	StateCycle = "cycle_state"
	StateEgo   = "ego_state"
)

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	out := p
	if p.PhaseHistory != nil {
		out.PhaseHistory = make([]PhaseHistoryEntry, len(p.PhaseHistory))
		for i, e := range p.PhaseHistory {
			if e.ExitedAt != nil {
				t := *e.ExitedAt
				e.ExitedAt = &t
			}
			out.PhaseHistory[i] = e
		}
	}
	if p.State != nil {
		out.State = make(map[string]string, len(p.State))
		for k, v := range p.State {
			out.State[k] = v
		}
	}
	return out
}

// OpenEntry returns the index of the un-exited history entry, or -1.
func (p *Profile) OpenEntry() int {
	for i := len(p.PhaseHistory) - 1; i >= 0; i-- {
		if p.PhaseHistory[i].ExitedAt == nil {
			return i
		}
	}
	return -1
}

// TriggerMetadata carries optional detail about a detected trigger.
type TriggerMetadata struct {
	Name          string     `json:"name,omitempty"`
	DelayHours    float64    `json:"delay_hours,omitempty"`
	Threshold     string     `json:"threshold,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// TriggerEvent is produced per message by the detector. It is not persisted as is.
type TriggerEvent struct {
	Type       TriggerType     `json:"type"`
	Categories []Category      `json:"categories"`
	Weight     float64         `json:"weight"`
	Confidence float64         `json:"confidence"` // 0.5..1
	DetectedIn string          `json:"detected_in"`
	At         time.Time       `json:"at"`
	Metadata   TriggerMetadata `json:"metadata"`
}

// Affects reports whether the trigger targets category c.
func (t TriggerEvent) Affects(c Category) bool {
	for _, k := range t.Categories {
		if k == c {
			return true
		}
	}
	return false
}

// TriggerLogEntry is one append-only log row: one per affected category per trigger.
// Weight is already multiplied by confidence.
type TriggerLogEntry struct {
	ID           string      `json:"id"`
	AgentID      string      `json:"agent_id"`
	MessageID    string      `json:"message_id"`
	Category     Category    `json:"category"`
	Type         TriggerType `json:"type"`
	Weight       float64     `json:"weight"`
	DetectedText string      `json:"detected_text"`
	At           time.Time   `json:"at"`
}

// IntensityComponents are the factors that produced a final intensity.
type IntensityComponents struct {
	Baseline             float64 `json:"baseline"`
	PhaseMultiplier      float64 `json:"phase_multiplier"`
	TriggerAmplification float64 `json:"trigger_amplification"`
	EmotionalModulation  float64 `json:"emotional_modulation"`
	DecayFactor          float64 `json:"decay_factor"`
	InertiaFactor        float64 `json:"inertia_factor"`
}

// IntensityResult is derived per computation and only cached, never authoritative.
type IntensityResult struct {
	Category      Category            `json:"category"`
	Final         float64             `json:"final"`
	Components    IntensityComponents `json:"components"`
	ShouldDisplay bool                `json:"should_display"`
}

// ProgressionState is the agent-level aggregate.
type ProgressionState struct {
	TotalInteractions    int                  `json:"total_interactions"`
	PositiveInteractions int                  `json:"positive_interactions"`
	NegativeInteractions int                  `json:"negative_interactions"`
	LastCalculatedAt     time.Time            `json:"last_calculated_at,omitempty"`
	CachedIntensities    map[Category]float64 `json:"cached_intensities,omitempty"`
}

// AgentState is the persisted record of one agent: the unit of atomic update.
type AgentState struct {
	AgentID     string           `json:"agent_id"`
	Profiles    []Profile        `json:"profiles"`
	Progression ProgressionState `json:"progression"`

	// PendingConsent holds consent keys the agent was prompted for and has not granted yet.
	PendingConsent []string `json:"pending_consent,omitempty"`
}

// Profile returns the index of the profile for category c, or -1.
func (s *AgentState) Profile(c Category) int {
	for i := range s.Profiles {
		if s.Profiles[i].Category == c {
			return i
		}
	}
	return -1
}

// Enabled returns pointers to the enabled profiles, in stored order.
func (s *AgentState) Enabled() []*Profile {
	out := make([]*Profile, 0, len(s.Profiles))
	for i := range s.Profiles {
		if s.Profiles[i].Enabled {
			out = append(out, &s.Profiles[i])
		}
	}
	return out
}

// Clone returns a deep copy.
func (s AgentState) Clone() AgentState {
	out := s
	out.Profiles = make([]Profile, len(s.Profiles))
	for i, p := range s.Profiles {
		out.Profiles[i] = p.Clone()
	}
	if s.PendingConsent != nil {
		out.PendingConsent = append([]string(nil), s.PendingConsent...)
	}
	if s.Progression.CachedIntensities != nil {
		out.Progression.CachedIntensities = make(map[Category]float64, len(s.Progression.CachedIntensities))
		for k, v := range s.Progression.CachedIntensities {
			out.Progression.CachedIntensities[k] = v
		}
	}
	return out
}
