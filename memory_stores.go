package authkit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRuleStore implements rule persistence in-memory for testing/demo.
type MemoryRuleStore struct {
	mu    sync.RWMutex
	rules []PolicyRule
}

func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make([]PolicyRule, 0)}
}

func (s *MemoryRuleStore) LoadAll(ctx context.Context) ([]PolicyRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PolicyRule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

func (s *MemoryRuleStore) LoadMatching(ctx context.Context, filter Filter) ([]PolicyRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PolicyRule, 0)
	for _, r := range s.rules {
		patterns, ok := filter[r.PType]
		if !ok {
			continue
		}
		for _, pattern := range patterns {
			if matchesPattern(r, 0, pattern) {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryRuleStore) ReplaceAll(ctx context.Context, rules []PolicyRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = make([]PolicyRule, len(rules))
	copy(s.rules, rules)
	return nil
}

func (s *MemoryRuleStore) Insert(ctx context.Context, rule PolicyRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
	return nil
}

func (s *MemoryRuleStore) InsertBatch(ctx context.Context, rules []PolicyRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rules...)
	return nil
}

func (s *MemoryRuleStore) Delete(ctx context.Context, rule PolicyRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := rule.Values()
	s.rules = deleteWhere(s.rules, func(r PolicyRule) bool {
		return r.PType == rule.PType && matchesExact(r, values)
	})
	return nil
}

func (s *MemoryRuleStore) DeleteBatch(ctx context.Context, rules []PolicyRule) error {
	for _, r := range rules {
		if err := s.Delete(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryRuleStore) DeleteMatching(ctx context.Context, ptype string, fieldIndex int, fieldValues ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = deleteWhere(s.rules, func(r PolicyRule) bool {
		return r.PType == ptype && matchesPattern(r, fieldIndex, fieldValues)
	})
	return nil
}

// matchesExact reports whether the rule's leading positions equal values,
// empty strings included. Positions past len(values) are not constrained.
func matchesExact(r PolicyRule, values []string) bool {
	positions := []*string{r.V0, r.V1, r.V2, r.V3, r.V4, r.V5}
	for i, want := range values {
		if i >= len(positions) {
			return false
		}
		got := positions[i]
		if got == nil || *got != want {
			return false
		}
	}
	return true
}

// matchesPattern reports whether the rule's positions starting at offset
// equal the pattern values. Empty pattern values are unconstrained.
func matchesPattern(r PolicyRule, offset int, pattern []string) bool {
	positions := []*string{r.V0, r.V1, r.V2, r.V3, r.V4, r.V5}
	for i, want := range pattern {
		if want == "" {
			continue
		}
		pos := offset + i
		if pos >= len(positions) {
			return false
		}
		got := positions[pos]
		if got == nil || *got != want {
			return false
		}
	}
	return true
}

func deleteWhere(rules []PolicyRule, match func(PolicyRule) bool) []PolicyRule {
	kept := rules[:0]
	for _, r := range rules {
		if !match(r) {
			kept = append(kept, r)
		}
	}
	return kept
}

// MemoryModelConfigStore implements in-memory model version persistence.
type MemoryModelConfigStore struct {
	mu       sync.RWMutex
	versions map[string]*ModelConfig
}

func NewMemoryModelConfigStore() *MemoryModelConfigStore {
	return &MemoryModelConfigStore{versions: make(map[string]*ModelConfig)}
}

func (s *MemoryModelConfigStore) Insert(ctx context.Context, mc *ModelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.versions[mc.ID]; exists {
		return fmt.Errorf("model config already exists: %s", mc.ID)
	}
	cp := *mc
	s.versions[mc.ID] = &cp
	return nil
}

func (s *MemoryModelConfigStore) Get(ctx context.Context, id string) (*ModelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mc, ok := s.versions[id]
	if !ok {
		return nil, fmt.Errorf("model config not found: %s", id)
	}
	cp := *mc
	return &cp, nil
}

func (s *MemoryModelConfigStore) Active(ctx context.Context) (*ModelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, mc := range s.versions {
		if mc.Status == ModelStatusActive {
			cp := *mc
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryModelConfigStore) NextVersion(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, mc := range s.versions {
		if mc.Version > max {
			max = mc.Version
		}
	}
	return max + 1, nil
}

func (s *MemoryModelConfigStore) Activate(ctx context.Context, id, approvedBy string, approvedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.versions[id]
	if !ok {
		return fmt.Errorf("model config not found: %s", id)
	}
	for _, mc := range s.versions {
		if mc.Status == ModelStatusActive && mc.ID != id {
			mc.Status = ModelStatusArchived
		}
	}
	target.Status = ModelStatusActive
	target.ApprovedBy = approvedBy
	target.ApprovedAt = approvedAt
	return nil
}

func (s *MemoryModelConfigStore) List(ctx context.Context) ([]*ModelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ModelConfig, 0, len(s.versions))
	for _, mc := range s.versions {
		cp := *mc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// MemorySecretStore implements the apiKey -> secret map in memory.
type MemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{secrets: make(map[string]string)}
}

func (s *MemorySecretStore) Put(ctx context.Context, apiKey, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[apiKey] = secret
	return nil
}

func (s *MemorySecretStore) Delete(ctx context.Context, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, apiKey)
	return nil
}

func (s *MemorySecretStore) Get(ctx context.Context, apiKey string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.secrets[apiKey]
	return secret, ok, nil
}

func (s *MemorySecretStore) All(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.secrets))
	for k, v := range s.secrets {
		out[k] = v
	}
	return out, nil
}
