package behavior

import (
	"context"
	"sort"
	"sync"
	"time"
)

// TriggerLog is the append-only record of processed triggers.
type TriggerLog interface {
	Append(ctx context.Context, entries []TriggerLogEntry) error
	// Since returns the agent's rows for category at or after since, oldest first.
	Since(ctx context.Context, agentID string, c Category, since time.Time) ([]TriggerLogEntry, error)
	// CountByType counts the agent's rows for category at or after since.
	CountByType(ctx context.Context, agentID string, c Category, since time.Time) (map[TriggerType]int, error)
}

// MemoryTriggerLog keeps the log in process memory.
type MemoryTriggerLog struct {
	mu      sync.RWMutex
	entries map[string][]TriggerLogEntry // agent -> rows
}

func NewMemoryTriggerLog() *MemoryTriggerLog {
	return &MemoryTriggerLog{entries: make(map[string][]TriggerLogEntry)}
}

func (l *MemoryTriggerLog) Append(ctx context.Context, entries []TriggerLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range entries {
		l.entries[e.AgentID] = append(l.entries[e.AgentID], e)
	}
	return nil
}

func (l *MemoryTriggerLog) Since(ctx context.Context, agentID string, c Category, since time.Time) ([]TriggerLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []TriggerLogEntry
	for _, e := range l.entries[agentID] {
		if e.Category == c && !e.At.Before(since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (l *MemoryTriggerLog) CountByType(ctx context.Context, agentID string, c Category, since time.Time) (map[TriggerType]int, error) {
	rows, err := l.Since(ctx, agentID, c, since)
	if err != nil {
		return nil, err
	}
	out := make(map[TriggerType]int)
	for _, e := range rows {
		out[e.Type]++
	}
	return out, nil
}

// Len returns the number of rows stored for agent.
func (l *MemoryTriggerLog) Len(agentID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries[agentID])
}
