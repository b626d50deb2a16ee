package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/keshon/behavior-sim/datastore"
	"github.com/keshon/behavior-sim/internal/behavior"
)

const agentPrefix = "agent:"

// Storage keeps one AgentState record per agent in a datastore.
type Storage struct {
	ds *datastore.DataStore
}

func New(filePath string) (*Storage, error) {
	ds, err := datastore.New(filePath)
	if err != nil {
		return nil, err
	}
	return &Storage{ds: ds}, nil
}

// NewWithDataStore wraps an already opened datastore.
func NewWithDataStore(ds *datastore.DataStore) *Storage {
	return &Storage{ds: ds}
}

func (s *Storage) Close() error {
	return s.ds.Close()
}

func agentKey(agentID string) string {
	return agentPrefix + agentID
}

// decodeAgent turns a raw record into a usable state: nil maps and slices
// are filled and the agent id is set.
func decodeAgent(agentID string, raw []byte) (behavior.AgentState, error) {
	st := behavior.AgentState{AgentID: agentID}
	if raw != nil {
		if err := json.Unmarshal(raw, &st); err != nil {
			return st, fmt.Errorf("error unmarshalling agent %s: %w", agentID, err)
		}
	}
	if st.AgentID == "" {
		st.AgentID = agentID
	}
	if st.Profiles == nil {
		st.Profiles = []behavior.Profile{}
	}
	return st, nil
}

// Load returns the agent's state, or an empty state if none is stored.
func (s *Storage) Load(_ context.Context, agentID string) (behavior.AgentState, error) {
	var raw json.RawMessage
	if _, err := s.ds.Get(agentKey(agentID), &raw); err != nil {
		return behavior.AgentState{}, err
	}
	if len(raw) == 0 {
		raw = nil
	}
	return decodeAgent(agentID, raw)
}

// Update applies fn to the agent's state as one atomic read-modify-write.
// When fn fails nothing is written.
func (s *Storage) Update(ctx context.Context, agentID string, fn func(*behavior.AgentState) error) (behavior.AgentState, error) {
	var out behavior.AgentState
	err := s.ds.Update(agentKey(agentID), func(raw []byte) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st, err := decodeAgent(agentID, raw)
		if err != nil {
			return nil, err
		}
		if err := fn(&st); err != nil {
			return nil, err
		}
		data, err := json.Marshal(st)
		if err != nil {
			return nil, fmt.Errorf("error marshalling agent %s: %w", agentID, err)
		}
		out = st
		return data, nil
	})
	if err != nil {
		return behavior.AgentState{}, err
	}
	return out, nil
}

// Delete drops the agent's record.
func (s *Storage) Delete(_ context.Context, agentID string) error {
	s.ds.Delete(agentKey(agentID))
	return nil
}

// Agents lists the stored agent ids.
func (s *Storage) Agents() []string {
	var ids []string
	for _, k := range s.ds.Keys() {
		if id, ok := strings.CutPrefix(k, agentPrefix); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// PhaseStarts returns when the current phase of every stored profile began.
func (s *Storage) PhaseStarts(ctx context.Context) (map[PhaseKey]time.Time, error) {
	out := make(map[PhaseKey]time.Time)
	for _, id := range s.Agents() {
		st, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, p := range st.Profiles {
			if !p.PhaseStartedAt.IsZero() {
				out[PhaseKey{AgentID: id, Category: p.Category}] = p.PhaseStartedAt
			}
		}
	}
	return out, nil
}

// Flush forces a save to disk.
func (s *Storage) Flush() error {
	return s.ds.SaveToFile()
}
