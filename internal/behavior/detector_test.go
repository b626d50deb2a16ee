package behavior

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func mustTables(t *testing.T) *Tables {
	t.Helper()
	tables, err := DefaultTables()
	require.NoError(t, err)
	return tables
}

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	d := NewDetector(mustTables(t).Triggers, zerolog.Nop())
	d.SetClock(func() time.Time { return t0 })
	return d
}

func enabled(cats ...Category) []Profile {
	out := make([]Profile, 0, len(cats))
	for _, c := range cats {
		out = append(out, Profile{AgentID: "a1", Category: c, Enabled: true, CurrentPhase: 1})
	}
	return out
}

func allEnabled() []Profile {
	return enabled(ObsessiveAttachment, BorderlineCycle, Narcissistic, AnxiousAttachment,
		AvoidantAttachment, DisorganizedAttachment, Codependency)
}

func userMsg(text string) Message {
	return Message{ID: "m1", Role: RoleUser, Content: text, At: t0}
}

func types(events []TriggerEvent) []TriggerType {
	out := make([]TriggerType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func find(events []TriggerEvent, tt TriggerType) (TriggerEvent, bool) {
	for _, e := range events {
		if e.Type == tt {
			return e, true
		}
	}
	return TriggerEvent{}, false
}

func TestDetectTextTriggers(t *testing.T) {
	d := newTestDetector(t)

	tests := []struct {
		name string
		text string
		want []TriggerType
	}{
		{"spanish space request", "Necesito un poco de espacio para pensar", []TriggerType{AbandonmentSignal}},
		{"english space request", "I need some space", []TriggerType{AbandonmentSignal}},
		{"english greeting", "hello, how are you", nil},
		{"spanish greeting", "Hola, ¿cómo estás? Espero que tengas un buen día", nil},
		{"named friend", "Salí con mi amiga María ayer", []TriggerType{ThirdPartyMention}},
		{"ex partner", "Mi ex me llamó ayer", []TriggerType{ThirdPartyMention}},
		{"group of friends", "Quedé con unos amigos para el fin de semana", []TriggerType{ThirdPartyMention}},
		{"affection", "Te quiero mucho", []TriggerType{Reassurance}},
		{"boundary only", "No quiero que me mandes más mensajes", []TriggerType{BoundaryAssertion}},
		{"no more", "¡No más!", []TriggerType{BoundaryAssertion}},
		{"no more for today", "No más por hoy", nil},
		{"place after de", "Ayer hablé de Madrid", nil},
		{"break up", "Esto se terminó, no quiero seguir", []TriggerType{ExplicitRejection}},
		{"not interested", "No me interesas de esa manera", []TriggerType{ExplicitRejection}},
		{"friends no more", "Ya no podemos ser amigos", []TriggerType{ThirdPartyMention, ExplicitRejection}},
		{"calm down", "Eres muy intenso, cálmate", []TriggerType{AbandonmentSignal, Criticism}},
		{
			"mixed",
			"Necesito espacio. Eres muy celoso y ayer salí con Carlos.",
			[]TriggerType{AbandonmentSignal, Criticism, ThirdPartyMention},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(userMsg(tt.text), nil, allEnabled())
			assert.Equal(t, tt.want, nilIfEmpty(types(got)))
		})
	}
}

func nilIfEmpty(in []TriggerType) []TriggerType {
	if len(in) == 0 {
		return nil
	}
	return in
}

func TestDetectAbandonmentWeightAndConfidence(t *testing.T) {
	d := newTestDetector(t)

	for _, text := range []string{"necesito un poco de espacio", "I need some space"} {
		got := d.Detect(userMsg(text), nil, enabled(AnxiousAttachment))
		require.Len(t, got, 1, text)
		assert.Equal(t, AbandonmentSignal, got[0].Type)
		assert.Equal(t, 0.7, got[0].Weight)
		assert.GreaterOrEqual(t, got[0].Confidence, 0.5)
		assert.LessOrEqual(t, got[0].Confidence, 1.0)
	}

	got := d.Detect(userMsg("I need some space"), nil, enabled(AnxiousAttachment))
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].Confidence, 1e-9)
}

func TestDetectReassuranceIsNegative(t *testing.T) {
	d := newTestDetector(t)
	got := d.Detect(userMsg("Te quiero mucho"), nil, enabled(AnxiousAttachment))
	require.Len(t, got, 1)
	assert.Equal(t, -0.3, got[0].Weight)
}

func TestDetectRejectionAffectsCoreCategories(t *testing.T) {
	d := newTestDetector(t)
	got := d.Detect(userMsg("Esto se terminó, no quiero seguir"), nil, allEnabled())
	ev, ok := find(got, ExplicitRejection)
	require.True(t, ok)
	assert.Len(t, ev.Categories, 7)
	assert.Equal(t, 1.0, ev.Weight)
}

func TestDetectCapturesName(t *testing.T) {
	d := newTestDetector(t)

	got := d.Detect(userMsg("Salí con mi amiga María ayer"), nil, enabled(ObsessiveAttachment))
	ev, ok := find(got, ThirdPartyMention)
	require.True(t, ok)
	assert.Equal(t, "María", ev.Metadata.Name)

	got = d.Detect(userMsg("Necesito espacio. Eres muy celoso y ayer salí con Carlos."), nil, allEnabled())
	ev, ok = find(got, ThirdPartyMention)
	require.True(t, ok)
	assert.Equal(t, "Carlos", ev.Metadata.Name)
}

func TestDetectSkipsUnaffectedCategories(t *testing.T) {
	d := newTestDetector(t)

	// criticism only affects narcissistic, borderline and avoidant profiles
	got := d.Detect(userMsg("Eres muy intenso, cálmate"), nil, enabled(AnxiousAttachment))
	assert.Equal(t, []TriggerType{AbandonmentSignal}, types(got))

	got = d.Detect(userMsg("Eres muy intenso"), nil, enabled(Codependency))
	assert.Empty(t, got)
}

func TestDetectEmptyInputs(t *testing.T) {
	d := newTestDetector(t)

	assert.Empty(t, d.Detect(userMsg(""), nil, allEnabled()))
	assert.Empty(t, d.Detect(userMsg("   \n\t"), nil, allEnabled()))
	assert.Empty(t, d.Detect(userMsg("I need some space"), nil, nil))

	disabled := enabled(AnxiousAttachment)
	disabled[0].Enabled = false
	assert.Empty(t, d.Detect(userMsg("I need some space"), nil, disabled))
}

func TestDetectDelayedResponse(t *testing.T) {
	d := newTestDetector(t)

	tests := []struct {
		gap    time.Duration
		weight float64
		ok     bool
	}{
		{time.Hour, 0, false},
		{3 * time.Hour, 0.2, true},
		{6 * time.Hour, 0.4, true},
		{7 * time.Hour, 0.4, true},
		{24 * time.Hour, 0.8, true},
		{72 * time.Hour, 0.9, true},
	}
	for _, tt := range tests {
		t.Run(tt.gap.String(), func(t *testing.T) {
			history := []Message{
				{ID: "old", Role: RoleAssistant, Content: "hi", At: t0.Add(-tt.gap)},
				{ID: "older", Role: RoleUser, Content: "hey", At: t0.Add(-tt.gap - time.Hour)},
			}
			got := d.Detect(userMsg("hola"), history, enabled(AnxiousAttachment))
			ev, ok := find(got, DelayedResponse)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.weight, ev.Weight)
			assert.Equal(t, 1.0, ev.Confidence)
			assert.Equal(t, tt.gap.Hours(), ev.Metadata.DelayHours)
			require.NotNil(t, ev.Metadata.LastMessageAt)
			assert.True(t, ev.Metadata.LastMessageAt.Equal(t0.Add(-tt.gap)))
		})
	}
}

func TestDetectDelayedIgnoresSameMessageAndFuture(t *testing.T) {
	d := newTestDetector(t)
	history := []Message{
		{ID: "m1", Role: RoleUser, Content: "hola", At: t0},
		{ID: "later", Role: RoleAssistant, Content: "??", At: t0.Add(time.Hour)},
		{ID: "old", Role: RoleAssistant, Content: "hi", At: t0.Add(-6 * time.Hour)},
	}
	got := d.Detect(userMsg("hola"), history, enabled(AnxiousAttachment))
	ev, ok := find(got, DelayedResponse)
	require.True(t, ok)
	assert.Equal(t, 0.4, ev.Weight)
}

func TestDetectDelayedUsesClockWhenUnstamped(t *testing.T) {
	d := newTestDetector(t)
	msg := Message{Role: RoleUser, Content: "hola"}
	history := []Message{{Role: RoleAssistant, Content: "hi", At: t0.Add(-24 * time.Hour)}}

	got := d.Detect(msg, history, enabled(AnxiousAttachment))
	ev, ok := find(got, DelayedResponse)
	require.True(t, ok)
	assert.Equal(t, 0.8, ev.Weight)
	assert.True(t, ev.At.Equal(t0))
}

func TestDetectIsDeterministic(t *testing.T) {
	d := newTestDetector(t)
	msg := userMsg("Necesito espacio. Eres muy celoso y ayer salí con Carlos.")
	history := []Message{{ID: "h", Role: RoleAssistant, Content: "hola", At: t0.Add(-13 * time.Hour)}}

	first := d.Detect(msg, history, allEnabled())
	second := d.Detect(msg, history, allEnabled())
	require.NotEmpty(t, first)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("detection not deterministic (-first +second):\n%s", diff)
	}
}

func longMessage() string {
	return strings.Repeat("Hola, ¿cómo estás? ", 400) + "necesito espacio"
}

func TestDetectLongMessage(t *testing.T) {
	d := newTestDetector(t)
	msg := userMsg(longMessage())
	enabled := allEnabled()

	_, ok := find(d.Detect(msg, nil, enabled), AbandonmentSignal)
	assert.True(t, ok)
	if raceEnabled {
		t.Skip("timings are not meaningful under the race detector")
	}

	best := time.Hour
	for range 5 {
		start := time.Now()
		d.Detect(msg, nil, enabled)
		best = min(best, time.Since(start))
	}
	assert.Less(t, best, 100*time.Millisecond)
}

func BenchmarkDetectLongMessage(b *testing.B) {
	table, err := LoadTables(nil)
	if err != nil {
		b.Fatal(err)
	}
	d := NewDetector(table.Triggers, zerolog.Nop())
	msg := userMsg(longMessage())
	enabled := allEnabled()
	b.ResetTimer()
	for range b.N {
		d.Detect(msg, nil, enabled)
	}
}

func TestDetectNilTableFailsOpen(t *testing.T) {
	d := NewDetector(nil, zerolog.Nop())
	assert.Nil(t, d.Detect(userMsg("I need some space"), nil, allEnabled()))
}
