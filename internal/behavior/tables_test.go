package behavior

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTables(t *testing.T) {
	tables := mustTables(t)

	assert.Len(t, tables.Triggers.Rules, 6)
	assert.Len(t, tables.Triggers.Delayed.Thresholds, 5)
	assert.Equal(t, 0.3, tables.Defaults.Baseline)
	assert.Equal(t, 0.3, tables.Defaults.DisplayThreshold)
	assert.Equal(t, 8, tables.Phases.Rules(ObsessiveAttachment).MaxPhase)
	assert.Equal(t, 3, tables.Phases.Rules(Hyposexuality).MaxPhase)
	assert.NotEmpty(t, tables.Guidance.Entries)

	again, err := DefaultTables()
	require.NoError(t, err)
	assert.Same(t, tables, again)
}

func TestTriggerTableCategories(t *testing.T) {
	tables := mustTables(t)
	assert.Contains(t, tables.Triggers.Categories(DelayedResponse), AnxiousAttachment)
	assert.Contains(t, tables.Triggers.Categories(Criticism), Narcissistic)
	assert.Nil(t, tables.Triggers.Categories("unknown"))
}

func TestLoadTablesOverride(t *testing.T) {
	override := fstest.MapFS{
		IntensityFile: {Data: []byte(`
profile_defaults: {baseline: 0.5, escalation_rate: 0.2, de_escalation_rate: 0.1, volatility: 0.1, display_threshold: 0.4}
phase_multipliers:
  default: {kind: linear, base: 1.0, step: 0.5}
trigger_amplification: {window_hours: 24, decay_hours: 12, normalizer: 2, cap: 0.3}
decay: {base_rate: 0.01, volatility_rate: 0.02, floor: 0.5}
inertia: {base: 1, slope: 0, min: 1, max: 1}
`)},
	}

	tables, err := LoadTables(override)
	require.NoError(t, err)
	assert.Equal(t, 0.5, tables.Defaults.Baseline)
	assert.Equal(t, 0.4, tables.Defaults.DisplayThreshold)
	assert.Equal(t, 24.0, tables.Intensity.TriggerAmplification.WindowHours)
	assert.Equal(t, 1.5, NewCalculator(tables.Intensity).PhaseMultiplier(ObsessiveAttachment, 2))
	assert.Len(t, tables.Triggers.Rules, 6, "files missing from the override come from the embedded set")
}

func TestLoadTablesRejectsUnknownFields(t *testing.T) {
	override := fstest.MapFS{
		EmotionsFile: {Data: []byte("thresholds: {influence: 0.2}\nsurprise: true\n")},
	}
	_, err := LoadTables(override)
	require.Error(t, err)
	assert.Contains(t, err.Error(), EmotionsFile)
}

func TestLoadTablesRejectsBadPattern(t *testing.T) {
	override := fstest.MapFS{
		TriggersFile: {Data: []byte(`
triggers:
  - type: criticism
    weight: 0.8
    categories: [NARCISSISTIC_PD]
    patterns:
      - expr: '(unclosed'
`)},
	}
	_, err := LoadTables(override)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "criticism")
}
