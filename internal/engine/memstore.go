package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/keshon/behavior-sim/internal/behavior"
)

// MemoryStore keeps agent state in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]behavior.AgentState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]behavior.AgentState)}
}

func (s *MemoryStore) Load(_ context.Context, agentID string) (behavior.AgentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.agents[agentID]
	if !ok {
		return behavior.AgentState{AgentID: agentID, Profiles: []behavior.Profile{}}, nil
	}
	return st.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, agentID string, fn func(*behavior.AgentState) error) (behavior.AgentState, error) {
	if err := ctx.Err(); err != nil {
		return behavior.AgentState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.agents[agentID]
	if ok {
		st = st.Clone()
	} else {
		st = behavior.AgentState{AgentID: agentID, Profiles: []behavior.Profile{}}
	}
	if err := fn(&st); err != nil {
		return behavior.AgentState{}, err
	}
	s.agents[agentID] = st.Clone()
	return st, nil
}

// Agents lists the known agent ids, sorted.
func (s *MemoryStore) Agents() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
