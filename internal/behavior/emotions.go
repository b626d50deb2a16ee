package behavior

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Emotions maps an emotion channel (fear, anger, affection...) to its intensity in [0,1].
type Emotions map[string]float64

// Clone returns a copy.
func (e Emotions) Clone() Emotions {
	out := make(Emotions, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Dominant returns the strongest channel, ties broken by name. ok is false when all are zero.
func (e Emotions) Dominant() (name string, value float64, ok bool) {
	for k, v := range e {
		if v > value || (v == value && ok && k < name) {
			name, value, ok = k, v, v > 0
		}
	}
	return name, value, ok
}

// EmotionConfig is the emotions.yaml table.
type EmotionConfig struct {
	Thresholds struct {
		Influence          float64 `yaml:"influence"`
		Report             float64 `yaml:"report"`
		MaterialMultiplier float64 `yaml:"material_multiplier"`
		MaterialDelta      float64 `yaml:"material_delta"`
	} `yaml:"thresholds"`
	Amplifiers  map[Category]map[string]float64 `yaml:"amplifiers"`
	Influencers map[string]map[Category]float64 `yaml:"influencers"`
}

// Amplification describes how one channel changed.
type Amplification struct {
	Emotion    string  `json:"emotion"`
	Base       float64 `json:"base"`
	Multiplier float64 `json:"multiplier"`
	Final      float64 `json:"final"`
}

// InfluenceReport is the two-way emotional influence for one message.
type InfluenceReport struct {
	Emotions       Emotions             `json:"emotions"`
	Amplifications []Amplification      `json:"amplifications"`
	Adjustments    map[Category]float64 `json:"adjustments"`
	Summary        string               `json:"summary"`
}

// NoModulation is the summary when nothing material changed.
const NoModulation = "no significant emotional modulation"

// EmotionIntegrator couples behavior intensity with emotion channels in both directions.
type EmotionIntegrator struct {
	cfg EmotionConfig
}

func NewEmotionIntegrator(cfg EmotionConfig) *EmotionIntegrator {
	return &EmotionIntegrator{cfg: cfg}
}

// Amplify applies the amplifiers of every displayable behavior to base. Each
// channel is always computed from its base value, so when several behaviors
// amplify the same channel the last one in intensities order wins.
func (ei *EmotionIntegrator) Amplify(base Emotions, intensities []IntensityResult) Emotions {
	out := base.Clone()
	for _, r := range intensities {
		if !r.ShouldDisplay {
			continue
		}
		for ch, m := range ei.cfg.Amplifiers[r.Category] {
			b, ok := base[ch]
			if !ok {
				continue
			}
			out[ch] = clamp01(b + b*(m-1)*clamp01(r.Final))
		}
	}
	return out
}

// Adjustments returns the intensity delta each present category receives from significant emotions.
func (ei *EmotionIntegrator) Adjustments(emotions Emotions, categories []Category) map[Category]float64 {
	out := make(map[Category]float64, len(categories))
	for _, c := range categories {
		out[c] = 0
	}
	for ch, v := range emotions {
		if v < ei.cfg.Thresholds.Influence {
			continue
		}
		for c, d := range ei.cfg.Influencers[ch] {
			if _, ok := out[c]; ok {
				out[c] += d * v
			}
		}
	}
	return out
}

// Influence runs the forward pass, then the backward pass over the amplified emotions.
func (ei *EmotionIntegrator) Influence(base Emotions, intensities []IntensityResult) InfluenceReport {
	amplified := ei.Amplify(base, intensities)

	cats := make([]Category, 0, len(intensities))
	for _, r := range intensities {
		cats = append(cats, r.Category)
	}

	rep := InfluenceReport{
		Emotions:    amplified,
		Adjustments: ei.Adjustments(amplified, cats),
	}
	for ch, final := range amplified {
		if final <= ei.cfg.Thresholds.Report {
			continue
		}
		b := base[ch]
		m := 1.0
		if b != 0 {
			m = final / b
		}
		rep.Amplifications = append(rep.Amplifications, Amplification{Emotion: ch, Base: b, Multiplier: m, Final: final})
	}
	sort.Slice(rep.Amplifications, func(i, j int) bool {
		return rep.Amplifications[i].Emotion < rep.Amplifications[j].Emotion
	})
	rep.Summary = ei.summary(rep)
	return rep
}

func (ei *EmotionIntegrator) summary(rep InfluenceReport) string {
	var lines []string
	for _, a := range rep.Amplifications {
		if a.Multiplier > ei.cfg.Thresholds.MaterialMultiplier {
			lines = append(lines, fmt.Sprintf("%s: %.0f%% -> %.0f%% (x%.1f)", a.Emotion, a.Base*100, a.Final*100, a.Multiplier))
		}
	}

	cats := make([]Category, 0, len(rep.Adjustments))
	for c, d := range rep.Adjustments {
		if math.Abs(d) > ei.cfg.Thresholds.MaterialDelta {
			cats = append(cats, c)
		}
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	for _, c := range cats {
		lines = append(lines, fmt.Sprintf("%s: %+.0f%%", c, rep.Adjustments[c]*100))
	}

	if len(lines) == 0 {
		return NoModulation
	}
	return strings.Join(lines, "\n")
}
