package authkit

import (
	"context"
	"fmt"

	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"

	"github.com/altlock/authkit/logger"
)

// Adapter connects a RuleStore to casbin. It implements persist.Adapter,
// persist.BatchAdapter and persist.FilteredAdapter, so it can back both
// full and filtered policy loads and batched mutations.
//
// The casbin persist interfaces carry no context; operations run under the
// adapter's base context (context.Background unless overridden).
type Adapter struct {
	store    RuleStore
	log      logger.Logger
	ctx      context.Context
	filtered bool
}

// Compile-time checks against the casbin contracts.
var (
	_ persist.Adapter         = (*Adapter)(nil)
	_ persist.BatchAdapter    = (*Adapter)(nil)
	_ persist.FilteredAdapter = (*Adapter)(nil)
)

type AdapterOption func(*Adapter) error

// WithAdapterLogger installs a Logger on the Adapter.
func WithAdapterLogger(l logger.Logger) AdapterOption {
	return func(a *Adapter) error {
		a.log = l
		return nil
	}
}

// WithAdapterContext sets the base context used for store calls made from
// the context-free casbin interfaces.
func WithAdapterContext(ctx context.Context) AdapterOption {
	return func(a *Adapter) error {
		a.ctx = ctx
		return nil
	}
}

func NewAdapter(store RuleStore, opts ...AdapterOption) (*Adapter, error) {
	a := &Adapter{
		store: store,
		log:   logger.NewNull(),
		ctx:   context.Background(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// LoadPolicy reads every rule from the store into the model.
func (a *Adapter) LoadPolicy(m model.Model) error {
	rules, err := a.store.LoadAll(a.ctx)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if err := persist.LoadPolicyArray(r.Line(), m); err != nil {
			return err
		}
	}
	a.filtered = false
	a.log.Debug("policy loaded", "rules", len(rules))
	return nil
}

// LoadFilteredPolicy loads only the rules matched by filter, which must be
// a Filter (or *Filter). A nil filter falls back to a full load. After a
// filtered load the in-memory policy is partial and must not be written
// back with SavePolicy.
func (a *Adapter) LoadFilteredPolicy(m model.Model, filter interface{}) error {
	if filter == nil {
		return a.LoadPolicy(m)
	}
	var f Filter
	switch v := filter.(type) {
	case Filter:
		f = v
	case *Filter:
		f = *v
	default:
		return fmt.Errorf("unsupported filter type %T", filter)
	}

	rules, err := a.store.LoadMatching(a.ctx, f)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if err := persist.LoadPolicyArray(r.Line(), m); err != nil {
			return err
		}
	}
	a.filtered = true
	a.log.Debug("filtered policy loaded", "rules", len(rules))
	return nil
}

// IsFiltered reports whether the last load was partial.
func (a *Adapter) IsFiltered() bool {
	return a.filtered
}

// SavePolicy replaces the entire stored rule set with the model's current
// p and g sections. Refuses to run after a filtered load, since that would
// silently drop every rule outside the filter.
func (a *Adapter) SavePolicy(m model.Model) error {
	if a.filtered {
		return fmt.Errorf("cannot save a filtered policy")
	}
	var rules []PolicyRule
	for _, sec := range []string{"p", "g"} {
		for ptype, ast := range m[sec] {
			for _, line := range ast.Policy {
				rules = append(rules, NewRule(ptype, line...))
			}
		}
	}
	if err := a.store.ReplaceAll(a.ctx, rules); err != nil {
		return err
	}
	a.log.Info("policy saved", "rules", len(rules))
	return nil
}

// AddPolicy inserts a single rule.
func (a *Adapter) AddPolicy(sec string, ptype string, rule []string) error {
	return a.store.Insert(a.ctx, NewRule(ptype, rule...))
}

// AddPolicies inserts a batch of rules.
func (a *Adapter) AddPolicies(sec string, ptype string, rules [][]string) error {
	batch := make([]PolicyRule, 0, len(rules))
	for _, rule := range rules {
		batch = append(batch, NewRule(ptype, rule...))
	}
	return a.store.InsertBatch(a.ctx, batch)
}

// RemovePolicy deletes rules matching the populated positions of rule.
func (a *Adapter) RemovePolicy(sec string, ptype string, rule []string) error {
	return a.store.Delete(a.ctx, NewRule(ptype, rule...))
}

// RemovePolicies deletes a batch of rules by exact positional match.
func (a *Adapter) RemovePolicies(sec string, ptype string, rules [][]string) error {
	batch := make([]PolicyRule, 0, len(rules))
	for _, rule := range rules {
		batch = append(batch, NewRule(ptype, rule...))
	}
	return a.store.DeleteBatch(a.ctx, batch)
}

// RemoveFilteredPolicy deletes rules of ptype whose positions starting at
// fieldIndex equal fieldValues. Empty values are unconstrained.
func (a *Adapter) RemoveFilteredPolicy(sec string, ptype string, fieldIndex int, fieldValues ...string) error {
	return a.store.DeleteMatching(a.ctx, ptype, fieldIndex, fieldValues...)
}
