package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/keshon/behavior-sim/datastore"
	"github.com/keshon/behavior-sim/internal/behavior"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newStorage(t *testing.T, path string) *Storage {
	t.Helper()
	cfg := datastore.DefaultConfig(path)
	cfg.AutoSaveInterval = 0
	ds, err := datastore.NewWithConfig(cfg)
	require.NoError(t, err)
	return NewWithDataStore(ds)
}

func TestLoadMissingAgent(t *testing.T) {
	s := newStorage(t, filepath.Join(t.TempDir(), "agents.json"))
	defer s.Close()

	st, err := s.Load(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", st.AgentID)
	assert.Empty(t, st.Profiles)
	assert.Empty(t, s.Agents())
}

func TestUpdateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.json")
	s := newStorage(t, path)
	ctx := context.Background()

	got, err := s.Update(ctx, "a1", func(st *behavior.AgentState) error {
		p := behavior.NewProfile("a1", behavior.AnxiousAttachment, behavior.ProfileDefaults{Baseline: 0.4, DisplayThreshold: 0.3}, behavior.ProfileOptions{}, t0)
		st.Profiles = append(st.Profiles, p)
		st.PendingConsent = []string{"k"}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got.Profiles, 1)
	require.NoError(t, s.Close())

	s = newStorage(t, path)
	defer s.Close()
	st, err := s.Load(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, st.Profiles, 1)
	assert.Equal(t, 0.4, st.Profiles[0].BaselineIntensity)
	assert.True(t, st.Profiles[0].PhaseStartedAt.Equal(t0))
	assert.Equal(t, []string{"k"}, st.PendingConsent)
	assert.Equal(t, []string{"a1"}, s.Agents())
}

func TestUpdateFailureWritesNothing(t *testing.T) {
	s := newStorage(t, filepath.Join(t.TempDir(), "agents.json"))
	defer s.Close()
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := s.Update(ctx, "a1", func(st *behavior.AgentState) error {
		st.Progression.TotalInteractions = 9
		return boom
	})
	require.ErrorIs(t, err, boom)

	st, err := s.Load(ctx, "a1")
	require.NoError(t, err)
	assert.Zero(t, st.Progression.TotalInteractions)
	assert.Empty(t, s.Agents())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Update(cancelled, "a1", func(*behavior.AgentState) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	s := newStorage(t, filepath.Join(t.TempDir(), "agents.json"))
	defer s.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "a1", func(st *behavior.AgentState) error {
				st.Progression.TotalInteractions++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := s.Load(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 20, st.Progression.TotalInteractions)

	require.NoError(t, s.Delete(ctx, "a1"))
	assert.Empty(t, s.Agents())
}

func openLog(t *testing.T) *TriggerLog {
	t.Helper()
	l, err := OpenTriggerLog(filepath.Join(t.TempDir(), "triggers.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func row(id string, c behavior.Category, tt behavior.TriggerType, at time.Time) behavior.TriggerLogEntry {
	return behavior.TriggerLogEntry{ID: id, AgentID: "a1", MessageID: "m", Category: c, Type: tt, Weight: 0.5, DetectedText: "x", At: at}
}

func TestTriggerLogAppendSince(t *testing.T) {
	l := openLog(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, []behavior.TriggerLogEntry{
		row("3", behavior.AnxiousAttachment, behavior.AbandonmentSignal, t0.Add(2*time.Hour)),
		row("1", behavior.AnxiousAttachment, behavior.DelayedResponse, t0),
		row("2", behavior.Codependency, behavior.AbandonmentSignal, t0.Add(time.Hour)),
		row("0", behavior.AnxiousAttachment, behavior.AbandonmentSignal, t0.Add(-time.Hour)),
	}))
	require.NoError(t, l.Append(ctx, nil))

	got, err := l.Since(ctx, "a1", behavior.AnxiousAttachment, t0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
	assert.True(t, got[0].At.Equal(t0))
	assert.Equal(t, behavior.DelayedResponse, got[0].Type)
	assert.Equal(t, 0.5, got[0].Weight)

	counts, err := l.CountByType(ctx, "a1", behavior.AnxiousAttachment, t0.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[behavior.TriggerType]int{behavior.AbandonmentSignal: 2, behavior.DelayedResponse: 1}, counts)

	none, err := l.Since(ctx, "other", behavior.AnxiousAttachment, t0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTriggerLogAppendIsAtomic(t *testing.T) {
	l := openLog(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, []behavior.TriggerLogEntry{row("dup", behavior.AnxiousAttachment, behavior.Criticism, t0)}))
	err := l.Append(ctx, []behavior.TriggerLogEntry{
		row("fresh", behavior.AnxiousAttachment, behavior.Criticism, t0),
		row("dup", behavior.AnxiousAttachment, behavior.Criticism, t0),
	})
	require.Error(t, err)

	got, err := l.Since(ctx, "a1", behavior.AnxiousAttachment, t0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "dup", got[0].ID)
}

func TestTriggerLogPruneAndDelete(t *testing.T) {
	l := openLog(t)
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, []behavior.TriggerLogEntry{
		row("old", behavior.AnxiousAttachment, behavior.Criticism, t0.Add(-48*time.Hour)),
		row("new", behavior.AnxiousAttachment, behavior.Criticism, t0),
	}))

	n, err := l.Prune(ctx, t0.Add(-24*time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, l.DeleteAgent(ctx, "a1"))
	got, err := l.Since(ctx, "a1", behavior.AnxiousAttachment, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPruneKeepsOpenPhaseRows(t *testing.T) {
	l := openLog(t)
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, []behavior.TriggerLogEntry{
		row("before-phase", behavior.AnxiousAttachment, behavior.Criticism, t0.Add(-60*24*time.Hour)),
		row("in-phase", behavior.AnxiousAttachment, behavior.Criticism, t0.Add(-40*24*time.Hour)),
		row("other", behavior.Codependency, behavior.Criticism, t0.Add(-40*24*time.Hour)),
	}))

	s := newStorage(t, filepath.Join(t.TempDir(), "agents.json"))
	defer s.Close()
	_, err := s.Update(ctx, "a1", func(st *behavior.AgentState) error {
		st.Profiles = append(st.Profiles, behavior.Profile{
			AgentID:        "a1",
			Category:       behavior.AnxiousAttachment,
			CurrentPhase:   2,
			PhaseStartedAt: t0.Add(-50 * 24 * time.Hour),
		})
		return nil
	})
	require.NoError(t, err)

	keep, err := s.PhaseStarts(ctx)
	require.NoError(t, err)
	require.Len(t, keep, 1)

	n, err := l.Prune(ctx, t0.Add(-30*24*time.Hour), keep)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	counts, err := l.CountByType(ctx, "a1", behavior.AnxiousAttachment, t0.Add(-50*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, counts[behavior.Criticism], "rows of the open phase survive retention")

	got, err := l.Since(ctx, "a1", behavior.Codependency, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRunPrunerStopsWithContext(t *testing.T) {
	l := openLog(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Append(ctx, []behavior.TriggerLogEntry{
		row("old", behavior.AnxiousAttachment, behavior.Criticism, time.Now().Add(-time.Hour)),
	}))

	done := make(chan struct{})
	go func() {
		RunPruner(ctx, l, nil, 5*time.Millisecond, time.Minute)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		got, err := l.Since(context.Background(), "a1", behavior.AnxiousAttachment, time.Time{})
		return err == nil && len(got) == 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestTriggerLogSatisfiesInterface(t *testing.T) {
	var _ behavior.TriggerLog = openLog(t)
}
