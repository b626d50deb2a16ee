package behavior

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultMaxDetectedRunes = 200

// ProcessResult reports what one batch of triggers did to the profiles.
type ProcessResult struct {
	Impacts map[Category]float64
	LogErr  error // non-nil when the trigger log write failed; the profiles were still updated
}

// Processor applies detected triggers to profiles and records them.
type Processor struct {
	log      TriggerLog
	logger   zerolog.Logger
	maxRunes int
	newID    func() string
}

func NewProcessor(log TriggerLog, logger zerolog.Logger) *Processor {
	return &Processor{
		log:      log,
		logger:   logger.With().Str("component", "processor").Logger(),
		maxRunes: defaultMaxDetectedRunes,
		newID:    uuid.NewString,
	}
}

// SetMaxDetectedRunes bounds the stored matched text.
func (p *Processor) SetMaxDetectedRunes(n int) {
	if n > 0 {
		p.maxRunes = n
	}
}

// Process logs triggers, moves baselines and counts the interaction.
// Profiles and progress are mutated in place.
func (p *Processor) Process(ctx context.Context, agentID, messageID string, triggers []TriggerEvent, profiles []*Profile, progress *ProgressionState) ProcessResult {
	res := ProcessResult{Impacts: make(map[Category]float64, len(profiles))}

	present := make(map[Category]struct{}, len(profiles))
	for _, pr := range profiles {
		present[pr.Category] = struct{}{}
	}

	var rows []TriggerLogEntry
	for _, t := range triggers {
		for _, c := range t.Categories {
			if _, ok := present[c]; !ok {
				continue
			}
			rows = append(rows, TriggerLogEntry{
				ID:           p.newID(),
				AgentID:      agentID,
				MessageID:    messageID,
				Category:     c,
				Type:         t.Type,
				Weight:       t.Weight * t.Confidence,
				DetectedText: truncateRunes(t.DetectedIn, p.maxRunes),
				At:           t.At,
			})
		}
	}
	if len(rows) > 0 && p.log != nil {
		if err := p.log.Append(ctx, rows); err != nil {
			res.LogErr = err
			p.logger.Error().Err(err).Str("agent", agentID).Int("rows", len(rows)).Msg("trigger log append failed")
		}
	}

	for _, pr := range profiles {
		var impact float64
		for _, t := range triggers {
			if t.Affects(pr.Category) {
				impact += t.Weight * t.Confidence
			}
		}
		res.Impacts[pr.Category] = impact
		switch {
		case impact > 0:
			pr.BaselineIntensity = clamp01(pr.BaselineIntensity + impact*pr.EscalationRate)
		case impact < 0:
			pr.BaselineIntensity = clamp01(pr.BaselineIntensity + impact*pr.DeEscalationRate)
		}
		pr.InteractionsSincePhaseStart++
	}

	if progress != nil {
		progress.TotalInteractions++
		var pos, neg bool
		for _, t := range triggers {
			if t.Weight > 0 {
				pos = true
			} else if t.Weight < 0 {
				neg = true
			}
		}
		switch {
		case neg && !pos:
			progress.PositiveInteractions++
		case pos && !neg:
			progress.NegativeInteractions++
		}
	}
	return res
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
