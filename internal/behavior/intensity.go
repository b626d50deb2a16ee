package behavior

import (
	"math"
	"time"
)

// Multiplier kinds.
const (
	MultiplierTable  = "table"
	MultiplierCyclic = "cyclic"
	MultiplierLinear = "linear"
)

// MultiplierRule maps a phase number to a phase multiplier.
type MultiplierRule struct {
	Kind   string    `yaml:"kind"`
	Values []float64 `yaml:"values,omitempty"`
	Base   float64   `yaml:"base,omitempty"`
	Step   float64   `yaml:"step,omitempty"`
}

// At returns the multiplier for phase. Out-of-range table phases use the nearest entry.
func (r MultiplierRule) At(phase int) float64 {
	switch r.Kind {
	case MultiplierTable:
		if len(r.Values) == 0 {
			return 1
		}
		i := phase - 1
		if i < 0 {
			i = 0
		}
		if i >= len(r.Values) {
			i = len(r.Values) - 1
		}
		return r.Values[i]
	case MultiplierCyclic:
		return r.Base + float64(phase)*r.Step
	default:
		if phase < 1 {
			phase = 1
		}
		return r.Base + float64(phase-1)*r.Step
	}
}

// IntensityConfig holds every constant of the intensity formula.
type IntensityConfig struct {
	PhaseMultipliers struct {
		Default    MultiplierRule              `yaml:"default"`
		Categories map[Category]MultiplierRule `yaml:"categories"`
	} `yaml:"phase_multipliers"`

	TriggerAmplification struct {
		WindowHours float64 `yaml:"window_hours"`
		DecayHours  float64 `yaml:"decay_hours"`
		Normalizer  float64 `yaml:"normalizer"`
		Cap         float64 `yaml:"cap"`
	} `yaml:"trigger_amplification"`

	Decay struct {
		BaseRate       float64 `yaml:"base_rate"`
		VolatilityRate float64 `yaml:"volatility_rate"`
		Floor          float64 `yaml:"floor"`
	} `yaml:"decay"`

	Inertia struct {
		Base  float64 `yaml:"base"`
		Slope float64 `yaml:"slope"`
		Min   float64 `yaml:"min"`
		Max   float64 `yaml:"max"`
	} `yaml:"inertia"`
}

// ProfileDefaults seed new profiles.
type ProfileDefaults struct {
	Baseline         float64 `yaml:"baseline"`
	EscalationRate   float64 `yaml:"escalation_rate"`
	DeEscalationRate float64 `yaml:"de_escalation_rate"`
	Volatility       float64 `yaml:"volatility"`
	DisplayThreshold float64 `yaml:"display_threshold"`
}

type intensityFile struct {
	ProfileDefaults ProfileDefaults `yaml:"profile_defaults"`
	IntensityConfig `yaml:",inline"`
}

// Calculator computes final displayed intensity. It is pure: everything it
// needs is passed in.
type Calculator struct {
	cfg IntensityConfig
}

func NewCalculator(cfg IntensityConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// Window is how far back trigger history matters.
func (c *Calculator) Window() time.Duration {
	return time.Duration(c.cfg.TriggerAmplification.WindowHours * float64(time.Hour))
}

// PhaseMultiplier returns the multiplier for category at phase; unknown categories use the default rule.
func (c *Calculator) PhaseMultiplier(cat Category, phase int) float64 {
	if r, ok := c.cfg.PhaseMultipliers.Categories[cat]; ok {
		return r.At(phase)
	}
	return c.cfg.PhaseMultipliers.Default.At(phase)
}

// TriggerAmplification sums exponentially aged log weights for category inside the window.
func (c *Calculator) TriggerAmplification(cat Category, history []TriggerLogEntry, now time.Time) float64 {
	ta := c.cfg.TriggerAmplification
	if ta.Normalizer <= 0 || ta.DecayHours <= 0 {
		return 0
	}
	var sum float64
	for _, e := range history {
		if e.Category != cat {
			continue
		}
		age := now.Sub(e.At).Hours()
		if age < 0 {
			age = 0
		}
		if age > ta.WindowHours {
			continue
		}
		sum += e.Weight * math.Exp(-age/ta.DecayHours)
	}
	amp := sum / ta.Normalizer
	if amp > ta.Cap {
		amp = ta.Cap
	}
	return amp
}

// DecayFactor is max(floor, exp(-(base + volatility*rate) * hours)).
func (c *Calculator) DecayFactor(volatility, hours float64) float64 {
	d := c.cfg.Decay
	if hours < 0 {
		hours = 0
	}
	f := math.Exp(-(d.BaseRate + clamp01(volatility)*d.VolatilityRate) * hours)
	return math.Max(d.Floor, f)
}

// InertiaFactor grows with log10 of interactions in phase.
func (c *Calculator) InertiaFactor(interactions int) float64 {
	in := c.cfg.Inertia
	n := math.Max(1, float64(interactions))
	return clamp(in.Base+math.Log10(n)*in.Slope, in.Min, in.Max)
}

// Compute returns the final intensity of p. modulation <= 0 is treated as neutral (1.0).
func (c *Calculator) Compute(p Profile, history []TriggerLogEntry, modulation float64, now time.Time) IntensityResult {
	if modulation <= 0 || math.IsNaN(modulation) || math.IsInf(modulation, 0) {
		modulation = 1
	}
	hours := 0.0
	if !p.PhaseStartedAt.IsZero() {
		hours = now.Sub(p.PhaseStartedAt).Hours()
	}

	comp := IntensityComponents{
		Baseline:             clamp01(p.BaselineIntensity),
		PhaseMultiplier:      c.PhaseMultiplier(p.Category, p.CurrentPhase),
		TriggerAmplification: c.TriggerAmplification(p.Category, history, now),
		EmotionalModulation:  modulation,
		DecayFactor:          c.DecayFactor(p.Volatility, hours),
		InertiaFactor:        c.InertiaFactor(p.InteractionsSincePhaseStart),
	}
	final := clamp01((comp.Baseline*comp.PhaseMultiplier + comp.TriggerAmplification) *
		comp.EmotionalModulation * comp.DecayFactor * comp.InertiaFactor)

	return IntensityResult{
		Category:      p.Category,
		Final:         final,
		Components:    comp,
		ShouldDisplay: final >= p.DisplayThreshold,
	}
}
