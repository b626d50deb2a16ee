package behavior

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
)

// Detector scans one message plus recent history for triggers.
// It is stateless and safe for concurrent use.
type Detector struct {
	table  *TriggerTable
	logger zerolog.Logger
	now    func() time.Time
}

// NewDetector creates a Detector over a compiled table.
func NewDetector(table *TriggerTable, logger zerolog.Logger) *Detector {
	return &Detector{
		table:  table,
		logger: logger.With().Str("component", "detector").Logger(),
		now:    time.Now,
	}
}

// SetClock replaces the clock used when a message carries no timestamp.
func (d *Detector) SetClock(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

// Detect returns the triggers found in msg. It never fails: on any internal
// error it logs and returns no triggers.
func (d *Detector) Detect(msg Message, history []Message, profiles []Profile) (out []TriggerEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("trigger detection aborted")
			out = nil
		}
	}()

	if d.table == nil {
		return nil
	}
	text := norm.NFC.String(msg.Content)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	active := activeCategories(profiles)
	if len(active) == 0 {
		return nil
	}
	at := msg.At
	if at.IsZero() {
		at = d.now()
	}

	for _, rule := range d.table.Rules {
		if !touches(rule.Categories, active) {
			continue
		}
		ev, ok, err := d.matchRule(rule, text, at)
		if err != nil {
			d.logger.Warn().Err(err).Str("trigger", string(rule.Type)).Msg("pattern evaluation failed")
			return nil
		}
		if ok {
			out = append(out, ev)
		}
	}

	if ev, ok := d.delayed(msg, at, history, active); ok {
		out = append(out, ev)
	}
	return out
}

func (d *Detector) matchRule(rule TriggerRule, text string, at time.Time) (TriggerEvent, bool, error) {
	for _, p := range rule.patterns {
		m, err := p.re.FindStringMatch(text)
		if err != nil {
			return TriggerEvent{}, false, err
		}
		if m == nil {
			continue
		}
		matched := m.String()
		var meta TriggerMetadata
		if p.captureName {
			name := ""
			if g := m.GroupByNumber(1); g != nil && len(g.Captures) > 0 {
				name = g.String()
			}
			if name == "" {
				name = matched
			}
			if !d.table.acceptName(name, text) {
				continue
			}
			meta.Name = name
		}
		return TriggerEvent{
			Type:       rule.Type,
			Categories: append([]Category(nil), rule.Categories...),
			Weight:     rule.Weight,
			Confidence: d.table.Confidence.score(text, matched, m.Length),
			DetectedIn: matched,
			At:         at,
			Metadata:   meta,
		}, true, nil
	}
	return TriggerEvent{}, false, nil
}

// delayed measures the gap since the most recent prior message of any role.
func (d *Detector) delayed(msg Message, at time.Time, history []Message, active map[Category]struct{}) (TriggerEvent, bool) {
	dr := d.table.Delayed
	if len(history) == 0 || len(dr.Thresholds) == 0 || !touches(dr.Categories, active) {
		return TriggerEvent{}, false
	}

	var last time.Time
	for _, h := range history {
		if msg.ID != "" && h.ID == msg.ID {
			continue
		}
		if h.At.IsZero() || !h.At.Before(at) {
			continue
		}
		if h.At.After(last) {
			last = h.At
		}
	}
	if last.IsZero() {
		return TriggerEvent{}, false
	}

	hours := at.Sub(last).Hours()
	for i := len(dr.Thresholds) - 1; i >= 0; i-- {
		th := dr.Thresholds[i]
		if hours < th.Hours {
			continue
		}
		lastAt := last
		return TriggerEvent{
			Type:       DelayedResponse,
			Categories: append([]Category(nil), dr.Categories...),
			Weight:     th.Weight,
			Confidence: 1.0,
			DetectedIn: fmt.Sprintf("%s (%.1fh)", th.Label, round1(hours)),
			At:         at,
			Metadata: TriggerMetadata{
				DelayHours:    round1(hours),
				Threshold:     th.Label,
				LastMessageAt: &lastAt,
			},
		}, true
	}
	return TriggerEvent{}, false
}

func activeCategories(profiles []Profile) map[Category]struct{} {
	out := make(map[Category]struct{}, len(profiles))
	for _, p := range profiles {
		if p.Enabled {
			out[p.Category] = struct{}{}
		}
	}
	return out
}

func touches(cats []Category, active map[Category]struct{}) bool {
	for _, c := range cats {
		if _, ok := active[c]; ok {
			return true
		}
	}
	return false
}
