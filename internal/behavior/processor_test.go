package behavior

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDiskFull = errors.New("disk full")

type failingLog struct{}

func (failingLog) Append(context.Context, []TriggerLogEntry) error { return errDiskFull }

func (failingLog) Since(context.Context, string, Category, time.Time) ([]TriggerLogEntry, error) {
	return nil, errDiskFull
}

func (failingLog) CountByType(context.Context, string, Category, time.Time) (map[TriggerType]int, error) {
	return nil, errDiskFull
}

func testProfile(c Category, baseline float64) *Profile {
	p := NewProfile("a1", c, ProfileDefaults{
		Baseline:         baseline,
		EscalationRate:   0.1,
		DeEscalationRate: 0.05,
		Volatility:       0.5,
		DisplayThreshold: 0.3,
	}, ProfileOptions{}, t0)
	return &p
}

func event(tt TriggerType, weight, conf float64, cats ...Category) TriggerEvent {
	return TriggerEvent{Type: tt, Categories: cats, Weight: weight, Confidence: conf, DetectedIn: string(tt), At: t0}
}

func TestProcessEscalatesBaseline(t *testing.T) {
	log := NewMemoryTriggerLog()
	proc := NewProcessor(log, zerolog.Nop())
	p := testProfile(ObsessiveAttachment, 0.5)
	var progress ProgressionState

	res := proc.Process(context.Background(), "a1", "m1",
		[]TriggerEvent{event(ThirdPartyMention, 0.65, 0.9, ObsessiveAttachment, Narcissistic)},
		[]*Profile{p}, &progress)

	require.NoError(t, res.LogErr)
	assert.InDelta(t, 0.5585, p.BaselineIntensity, 1e-9)
	assert.InDelta(t, 0.585, res.Impacts[ObsessiveAttachment], 1e-9)
	assert.Equal(t, 1, p.InteractionsSincePhaseStart)
	assert.Equal(t, 1, progress.TotalInteractions)
	assert.Equal(t, 1, progress.NegativeInteractions)
	assert.Equal(t, 0, progress.PositiveInteractions)

	// one row: narcissistic is not among the profiles
	rows, err := log.Since(context.Background(), "a1", ObsessiveAttachment, t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 0.585, rows[0].Weight, 1e-9)
	assert.Equal(t, "m1", rows[0].MessageID)
	assert.NotEmpty(t, rows[0].ID)
	assert.Equal(t, 1, log.Len("a1"))
}

func TestProcessReassuranceAndAbandonment(t *testing.T) {
	proc := NewProcessor(NewMemoryTriggerLog(), zerolog.Nop())

	calm := testProfile(AnxiousAttachment, 0.5)
	var progress ProgressionState
	proc.Process(context.Background(), "a1", "m1",
		[]TriggerEvent{event(Reassurance, -0.3, 1, AnxiousAttachment)}, []*Profile{calm}, &progress)
	assert.Less(t, calm.BaselineIntensity, 0.5)
	assert.InDelta(t, 0.5-0.3*0.05, calm.BaselineIntensity, 1e-9)
	assert.Equal(t, 1, progress.PositiveInteractions)

	scared := testProfile(AnxiousAttachment, 0.5)
	proc.Process(context.Background(), "a1", "m2",
		[]TriggerEvent{event(AbandonmentSignal, 0.7, 1, AnxiousAttachment)}, []*Profile{scared}, &progress)
	assert.Greater(t, scared.BaselineIntensity, 0.5)
	assert.Equal(t, 1, progress.NegativeInteractions)

	mixed := testProfile(AnxiousAttachment, 0.5)
	proc.Process(context.Background(), "a1", "m3", []TriggerEvent{
		event(AbandonmentSignal, 0.7, 1, AnxiousAttachment),
		event(Reassurance, -0.3, 1, AnxiousAttachment),
	}, []*Profile{mixed}, &progress)
	assert.Equal(t, 3, progress.TotalInteractions)
	assert.Equal(t, 1, progress.PositiveInteractions)
	assert.Equal(t, 1, progress.NegativeInteractions)
}

func TestProcessCountsInteractionWithoutTriggers(t *testing.T) {
	proc := NewProcessor(NewMemoryTriggerLog(), zerolog.Nop())
	p := testProfile(Codependency, 0.4)
	var progress ProgressionState

	res := proc.Process(context.Background(), "a1", "m1", nil, []*Profile{p}, &progress)

	assert.Equal(t, 0.4, p.BaselineIntensity)
	assert.Equal(t, 1, p.InteractionsSincePhaseStart)
	assert.Equal(t, 0.0, res.Impacts[Codependency])
	assert.Equal(t, 1, progress.TotalInteractions)
}

func TestProcessClampsBaseline(t *testing.T) {
	proc := NewProcessor(NewMemoryTriggerLog(), zerolog.Nop())
	p := testProfile(ObsessiveAttachment, 0.99)
	p.EscalationRate = 5

	proc.Process(context.Background(), "a1", "m1",
		[]TriggerEvent{event(ExplicitRejection, 1, 1, ObsessiveAttachment)}, []*Profile{p}, nil)
	assert.Equal(t, 1.0, p.BaselineIntensity)
}

func TestProcessLogFailureIsNotFatal(t *testing.T) {
	proc := NewProcessor(failingLog{}, zerolog.Nop())
	p := testProfile(ObsessiveAttachment, 0.5)
	var progress ProgressionState

	res := proc.Process(context.Background(), "a1", "m1",
		[]TriggerEvent{event(ThirdPartyMention, 0.65, 0.9, ObsessiveAttachment)}, []*Profile{p}, &progress)

	require.ErrorIs(t, res.LogErr, errDiskFull)
	assert.InDelta(t, 0.5585, p.BaselineIntensity, 1e-9)
	assert.Equal(t, 1, progress.TotalInteractions)
}

func TestProcessTruncatesDetectedText(t *testing.T) {
	log := NewMemoryTriggerLog()
	proc := NewProcessor(log, zerolog.Nop())
	proc.SetMaxDetectedRunes(5)
	p := testProfile(ObsessiveAttachment, 0.5)

	ev := event(ThirdPartyMention, 0.65, 1, ObsessiveAttachment)
	ev.DetectedIn = "ñandúes everywhere"
	proc.Process(context.Background(), "a1", "m1", []TriggerEvent{ev}, []*Profile{p}, nil)

	rows, err := log.Since(context.Background(), "a1", ObsessiveAttachment, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ñandú", rows[0].DetectedText)
}
