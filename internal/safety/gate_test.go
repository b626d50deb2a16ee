package safety

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/behavior-sim/internal/behavior"
)

func TestVerifyAccess(t *testing.T) {
	ctx := context.Background()
	g := NewGatekeeper(mustConfig(t), nil)

	tests := []struct {
		name    string
		req     AccessRequest
		allowed bool
		consent bool
	}{
		{"ungated category", AccessRequest{Category: behavior.BorderlineCycle, Phase: 10}, true, false},
		{"below explicit phase", AccessRequest{Category: behavior.ObsessiveAttachment, Phase: 6}, true, false},
		{"minor below explicit phase", AccessRequest{Category: behavior.ObsessiveAttachment, Phase: 3, Age: AgeMinor}, true, false},
		{"minor at explicit phase", AccessRequest{Category: behavior.ObsessiveAttachment, Phase: 7, Explicit: true, Age: AgeMinor}, false, false},
		{"explicit phase without explicit mode", AccessRequest{Category: behavior.ObsessiveAttachment, Phase: 7, Age: AgeAdult}, false, false},
		{"explicit phase in explicit mode", AccessRequest{Category: behavior.ObsessiveAttachment, Phase: 7, Explicit: true, Age: AgeAdult}, true, false},
		{"critical phase needs consent", AccessRequest{Category: behavior.ObsessiveAttachment, Phase: 8, Explicit: true, Age: AgeAdult}, false, true},
		{"unknown age is not a minor", AccessRequest{Category: behavior.ObsessiveAttachment, Phase: 7, Explicit: true}, true, false},
		{"sexual content outside explicit mode", AccessRequest{Category: behavior.Hypersexuality, Phase: 1}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.AgentID = "a1"
			got, err := g.VerifyAccess(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, got.Allowed)
			assert.Equal(t, tt.consent, got.RequiresConsent)
			if !tt.allowed {
				assert.NotEmpty(t, got.Reason)
			}
		})
	}
}

func TestVerifyAccessMessages(t *testing.T) {
	ctx := context.Background()
	cfg := mustConfig(t)
	g := NewGatekeeper(cfg, nil)

	got, err := g.VerifyAccess(ctx, AccessRequest{AgentID: "a1", Category: behavior.ObsessiveAttachment, Phase: 7, Age: AgeMinor})
	require.NoError(t, err)
	assert.Equal(t, cfg.AgeRestriction, got.Reason)

	got, err = g.VerifyAccess(ctx, AccessRequest{AgentID: "a1", Category: behavior.ObsessiveAttachment, Phase: 7})
	require.NoError(t, err)
	assert.Contains(t, got.Reason, "Phase 7")
	assert.Contains(t, got.Reason, cfg.EnableExplicit)

	got, err = g.VerifyAccess(ctx, AccessRequest{AgentID: "a1", Category: behavior.ObsessiveAttachment, Phase: 7, Explicit: true})
	require.NoError(t, err)
	assert.Equal(t, cfg.ExplicitAdvisory, got.Warning)
}

func TestVerifyAccessAfterConsent(t *testing.T) {
	ctx := context.Background()
	g := NewGatekeeper(mustConfig(t), NewMemoryConsentStore())
	req := AccessRequest{AgentID: "a1", Category: behavior.ObsessiveAttachment, Phase: 8, Explicit: true, Age: AgeAdult}

	got, err := g.VerifyAccess(ctx, req)
	require.NoError(t, err)
	require.True(t, got.RequiresConsent)
	assert.Equal(t, "YANDERE_OBSESSIVE_phase_8", got.ConsentKey)
	assert.Contains(t, got.ConsentPrompt, "PHASE 8 OF YANDERE")
	assert.Contains(t, got.ConsentPrompt, "CONSIENTO FASE 8")

	reply := g.ParseConsent("consiento fase 8.")
	require.True(t, reply.IsConsent())
	key, err := g.Grant(ctx, "a1", reply, "")
	require.NoError(t, err)
	assert.Equal(t, got.ConsentKey, key)

	got, err = g.VerifyAccess(ctx, req)
	require.NoError(t, err)
	assert.True(t, got.Allowed)
	assert.False(t, got.RequiresConsent)

	other := req
	other.AgentID = "a2"
	got, err = g.VerifyAccess(ctx, other)
	require.NoError(t, err)
	assert.False(t, got.Allowed)
}

type brokenStore struct{ MemoryConsentStore }

var errStoreDown = errors.New("store down")

func (*brokenStore) Has(context.Context, string, string) (bool, error) { return false, errStoreDown }

func TestVerifyAccessStoreError(t *testing.T) {
	g := NewGatekeeper(mustConfig(t), &brokenStore{})
	_, err := g.VerifyAccess(context.Background(), AccessRequest{
		AgentID: "a1", Category: behavior.ObsessiveAttachment, Phase: 8, Explicit: true,
	})
	require.ErrorIs(t, err, errStoreDown)
}

func TestParseConsent(t *testing.T) {
	g := NewGatekeeper(mustConfig(t), nil)

	tests := []struct {
		text string
		kind string
		key  string
	}{
		{"CONSIENTO FASE 8", ConsentPhrase, "YANDERE_OBSESSIVE_phase_8"},
		{"  i consent phase 8!  ", ConsentPhrase, "YANDERE_OBSESSIVE_phase_8"},
		{"Consiento contenido sexual", ConsentPhrase, "HYPERSEXUALITY_phase_1"},
		{"sí", ConsentGeneral, ""},
		{"Yes.", ConsentGeneral, ""},
		{"SI", ConsentGeneral, ""},
		{"no", ConsentNone, ""},
		{"yes please", ConsentNone, ""},
		{"", ConsentNone, ""},
		{"!!!", ConsentNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := g.ParseConsent(tt.text)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.key, got.Key)
		})
	}
}

func TestGrantGeneralConsentUsesPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryConsentStore()
	g := NewGatekeeper(mustConfig(t), store)

	key, err := g.Grant(ctx, "a1", ConsentReply{Kind: ConsentGeneral}, "")
	require.NoError(t, err)
	assert.Empty(t, key)

	key, err = g.Grant(ctx, "a1", ConsentReply{Kind: ConsentGeneral}, "HYPERSEXUALITY_phase_1")
	require.NoError(t, err)
	assert.Equal(t, "HYPERSEXUALITY_phase_1", key)

	keys, err := store.List(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"HYPERSEXUALITY_phase_1"}, keys)
}

func TestTransitionWarning(t *testing.T) {
	g := NewGatekeeper(mustConfig(t), nil)

	assert.Empty(t, g.TransitionWarning(behavior.ObsessiveAttachment, 6))
	assert.Empty(t, g.TransitionWarning(behavior.BorderlineCycle, 4))
	w := g.TransitionWarning(behavior.ObsessiveAttachment, 8)
	assert.Contains(t, w, "PHASE 8")
	assert.NotContains(t, w, "{phase}")
	assert.Contains(t, g.ExplicitModeNotice(), "EXPLICIT MODE")
}

func TestParseAge(t *testing.T) {
	assert.Equal(t, AgeAdult, ParseAge(" Adult "))
	assert.Equal(t, AgeMinor, ParseAge("minor"))
	assert.Equal(t, AgeUnknown, ParseAge(""))
	assert.Equal(t, "unknown", AgeUnknown.String())
}

func TestTransitionPrompt(t *testing.T) {
	g := NewGatekeeper(mustConfig(t), nil)

	got := g.TransitionPrompt(behavior.ObsessiveAttachment, 6, "obsessive")
	assert.Equal(t, `Moving YANDERE_OBSESSIVE to phase 6 (obsessive) needs your consent. Reply "yes" (or "sí") to continue.`, got)

	got = g.TransitionPrompt(behavior.ObsessiveAttachment, 8, "unhinged")
	assert.Contains(t, got, "CONSIENTO FASE 8")
}

func TestConsentKeyFor(t *testing.T) {
	g := NewGatekeeper(mustConfig(t), nil)

	_, ok := g.ConsentKeyFor(behavior.ObsessiveAttachment, 7)
	assert.False(t, ok)
	key, ok := g.ConsentKeyFor(behavior.ObsessiveAttachment, 8)
	assert.True(t, ok)
	assert.Equal(t, "YANDERE_OBSESSIVE_phase_8", key)
	_, ok = g.ConsentKeyFor(behavior.BorderlineCycle, 4)
	assert.False(t, ok)
}
