package engine

import "sync"

// agentLocks hands out one mutex per agent, created on first use.
type agentLocks struct {
	mu    sync.RWMutex
	locks map[string]*sync.Mutex
}

func newAgentLocks() *agentLocks {
	return &agentLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *agentLocks) get(agentID string) *sync.Mutex {
	l.mu.RLock()
	m := l.locks[agentID]
	l.mu.RUnlock()
	if m != nil {
		return m
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if m = l.locks[agentID]; m != nil {
		return m
	}
	m = &sync.Mutex{}
	l.locks[agentID] = m
	return m
}

// lock locks agentID and returns the unlock func.
func (l *agentLocks) lock(agentID string) func() {
	m := l.get(agentID)
	m.Lock()
	return m.Unlock
}
