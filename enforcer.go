package authkit

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/dgraph-io/ristretto"

	"github.com/altlock/authkit/logger"
)

//go:embed model.conf
var defaultModel string

// DefaultModel returns the built-in domain-aware RBAC model text, used when
// no model configuration has been published yet.
func DefaultModel() string { return defaultModel }

// Service glues the rule store, the model version history and casbin into
// one enforcement facade. Publishing or rolling back a model version through
// Versioner() swaps the underlying enforcer and drops cached decisions.
type Service struct {
	adapter   *Adapter
	versioner *Versioner
	log       logger.Logger

	mu       sync.RWMutex
	enforcer *casbin.SyncedEnforcer

	decisions   *ristretto.Cache
	decisionTTL time.Duration
}

type ServiceOption func(*Service) error

// WithServiceLogger installs a Logger on the Service and its Versioner.
func WithServiceLogger(l logger.Logger) ServiceOption {
	return func(s *Service) error {
		s.log = l
		return nil
	}
}

// WithDecisionCacheTTL sets how long enforcement decisions are cached.
// Zero disables the cache.
func WithDecisionCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		s.decisionTTL = ttl
		return nil
	}
}

// NewService wires an Adapter over rules and a Versioner over models, with
// the service itself as the reload target. Call Start to build the first
// enforcer before enforcing.
func NewService(rules RuleStore, models ModelConfigStore, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		log:         logger.NewNull(),
		decisionTTL: time.Minute,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	adapter, err := NewAdapter(rules, WithAdapterLogger(s.log))
	if err != nil {
		return nil, err
	}
	s.adapter = adapter

	versioner, err := NewVersioner(models, WithReloader(s), WithVersionerLogger(s.log))
	if err != nil {
		return nil, err
	}
	s.versioner = versioner

	if s.decisionTTL > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 100_000,
			MaxCost:     1 << 22,
			BufferItems: 64,
		})
		if err != nil {
			return nil, err
		}
		s.decisions = cache
	}
	return s, nil
}

// Start builds the enforcer from the active model version, falling back to
// the embedded default model when nothing has been published.
func (s *Service) Start(ctx context.Context) error {
	active, err := s.versioner.Active(ctx)
	if err != nil {
		return err
	}
	content := defaultModel
	if active != nil {
		content = active.Content
	}
	return s.ReloadModel(ctx, content)
}

// ReloadModel rebuilds the enforcer from the given model text and reloads
// the policy through the adapter. Implements Reloader for the Versioner.
func (s *Service) ReloadModel(ctx context.Context, content string) error {
	m, err := model.NewModelFromString(content)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelInvalid, err)
	}
	enf, err := casbin.NewSyncedEnforcer(m, s.adapter)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.enforcer = enf
	s.mu.Unlock()
	s.clearDecisions()
	s.log.Info("enforcer rebuilt from model")
	return nil
}

// Reload re-reads the policy rules into the current model and drops cached
// decisions. Use after out-of-band rule changes.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.RLock()
	enf := s.enforcer
	s.mu.RUnlock()
	if enf == nil {
		return fmt.Errorf("service not started")
	}
	if err := enf.LoadPolicy(); err != nil {
		return err
	}
	s.clearDecisions()
	return nil
}

// Enforce evaluates a request tuple against the current policy, caching
// positive and negative decisions alike for the configured TTL.
func (s *Service) Enforce(rvals ...any) (bool, error) {
	s.mu.RLock()
	enf := s.enforcer
	s.mu.RUnlock()
	if enf == nil {
		return false, fmt.Errorf("service not started")
	}

	var key string
	if s.decisions != nil {
		key = decisionKey(rvals)
		if v, ok := s.decisions.Get(key); ok {
			return v.(bool), nil
		}
	}

	allowed, err := enf.Enforce(rvals...)
	if err != nil {
		return false, err
	}
	if s.decisions != nil {
		s.decisions.SetWithTTL(key, allowed, 1, s.decisionTTL)
	}
	return allowed, nil
}

// AddPolicy inserts a permission rule and drops cached decisions.
func (s *Service) AddPolicy(params ...any) (bool, error) {
	return s.mutate(func(enf *casbin.SyncedEnforcer) (bool, error) {
		return enf.AddPolicy(params...)
	})
}

// RemovePolicy deletes a permission rule and drops cached decisions.
func (s *Service) RemovePolicy(params ...any) (bool, error) {
	return s.mutate(func(enf *casbin.SyncedEnforcer) (bool, error) {
		return enf.RemovePolicy(params...)
	})
}

// AddGroupingPolicy inserts a role-inheritance rule and drops cached
// decisions.
func (s *Service) AddGroupingPolicy(params ...any) (bool, error) {
	return s.mutate(func(enf *casbin.SyncedEnforcer) (bool, error) {
		return enf.AddGroupingPolicy(params...)
	})
}

// RemoveGroupingPolicy deletes a role-inheritance rule and drops cached
// decisions.
func (s *Service) RemoveGroupingPolicy(params ...any) (bool, error) {
	return s.mutate(func(enf *casbin.SyncedEnforcer) (bool, error) {
		return enf.RemoveGroupingPolicy(params...)
	})
}

func (s *Service) mutate(op func(*casbin.SyncedEnforcer) (bool, error)) (bool, error) {
	s.mu.RLock()
	enf := s.enforcer
	s.mu.RUnlock()
	if enf == nil {
		return false, fmt.Errorf("service not started")
	}
	changed, err := op(enf)
	if changed {
		s.clearDecisions()
	}
	return changed, err
}

// Enforcer exposes the underlying casbin enforcer for rule management
// beyond the helpers above (AddPolicy and friends route through the
// adapter). Mutations made directly here bypass the decision cache:
// cached decisions persist until their TTL lapses. Use the Service
// mutation helpers, or Reload, when the cache is enabled.
func (s *Service) Enforcer() *casbin.SyncedEnforcer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enforcer
}

// Versioner returns the model configuration lifecycle manager bound to
// this service.
func (s *Service) Versioner() *Versioner {
	return s.versioner
}

// Adapter returns the policy adapter backing the enforcer.
func (s *Service) Adapter() *Adapter {
	return s.adapter
}

func (s *Service) clearDecisions() {
	if s.decisions != nil {
		s.decisions.Clear()
	}
}

// Close releases the decision cache.
func (s *Service) Close() {
	if s.decisions != nil {
		s.decisions.Close()
	}
}

func decisionKey(rvals []any) string {
	parts := make([]string, len(rvals))
	for i, v := range rvals {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "\x1f")
}
