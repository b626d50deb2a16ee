package safety

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ConsentStore records which consent keys each agent has granted.
type ConsentStore interface {
	Grant(ctx context.Context, agentID, key string) error
	Revoke(ctx context.Context, agentID, key string) error
	RevokeAll(ctx context.Context, agentID string) error
	Has(ctx context.Context, agentID, key string) (bool, error)
	List(ctx context.Context, agentID string) ([]string, error)
}

// MemoryConsentStore keeps consent in process memory.
type MemoryConsentStore struct {
	mu   sync.RWMutex
	keys map[string]map[string]struct{}
}

func NewMemoryConsentStore() *MemoryConsentStore {
	return &MemoryConsentStore{keys: make(map[string]map[string]struct{})}
}

func (s *MemoryConsentStore) Grant(_ context.Context, agentID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.keys[agentID]
	if !ok {
		set = make(map[string]struct{})
		s.keys[agentID] = set
	}
	set[key] = struct{}{}
	return nil
}

func (s *MemoryConsentStore) Revoke(_ context.Context, agentID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys[agentID], key)
	if len(s.keys[agentID]) == 0 {
		delete(s.keys, agentID)
	}
	return nil
}

func (s *MemoryConsentStore) RevokeAll(_ context.Context, agentID string) error {
	s.mu.Lock()
	delete(s.keys, agentID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryConsentStore) Has(_ context.Context, agentID, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[agentID][key]
	return ok, nil
}

// List returns the granted keys sorted.
func (s *MemoryConsentStore) List(_ context.Context, agentID string) ([]string, error) {
	s.mu.RLock()
	out := make([]string, 0, len(s.keys[agentID]))
	for k := range s.keys[agentID] {
		out = append(out, k)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

// RedisConsentConfig configures RedisConsentStore.
type RedisConsentConfig struct {
	Prefix string
}

// RedisConsentStore keeps one Redis set per agent under "<prefix>:<agent>".
type RedisConsentStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisConsentStore(client redis.UniversalClient, cfg RedisConsentConfig) *RedisConsentStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "consent"
	}
	return &RedisConsentStore{client: client, prefix: cfg.Prefix}
}

func (s *RedisConsentStore) key(agentID string) string {
	return s.prefix + ":" + agentID
}

func (s *RedisConsentStore) Grant(ctx context.Context, agentID, key string) error {
	if err := s.client.SAdd(ctx, s.key(agentID), key).Err(); err != nil {
		return fmt.Errorf("grant consent %s for %s: %w", key, agentID, err)
	}
	return nil
}

func (s *RedisConsentStore) Revoke(ctx context.Context, agentID, key string) error {
	if err := s.client.SRem(ctx, s.key(agentID), key).Err(); err != nil {
		return fmt.Errorf("revoke consent %s for %s: %w", key, agentID, err)
	}
	return nil
}

func (s *RedisConsentStore) RevokeAll(ctx context.Context, agentID string) error {
	if err := s.client.Del(ctx, s.key(agentID)).Err(); err != nil {
		return fmt.Errorf("revoke consent for %s: %w", agentID, err)
	}
	return nil
}

func (s *RedisConsentStore) Has(ctx context.Context, agentID, key string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key(agentID), key).Result()
	if err != nil {
		return false, fmt.Errorf("check consent %s for %s: %w", key, agentID, err)
	}
	return ok, nil
}

func (s *RedisConsentStore) List(ctx context.Context, agentID string) ([]string, error) {
	keys, err := s.client.SMembers(ctx, s.key(agentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list consent for %s: %w", agentID, err)
	}
	sort.Strings(keys)
	return keys, nil
}
