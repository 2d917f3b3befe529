// Package authkit bridges a relational rule store to the casbin policy
// engine and adds the operational pieces a policy deployment needs:
// versioned model configurations with publish/rollback, and signed-request
// verification for machine-to-machine API keys.
package authkit

import "context"

// PolicyRule is one persisted policy line in positional form. PType is
// "p" for permission rules and "g" for role-inheritance rules. Rules may
// use fewer than six positions; unset trailing positions stay nil so the
// store keeps "unset" distinct from an explicit empty string.
type PolicyRule struct {
	PType string
	V0    *string
	V1    *string
	V2    *string
	V3    *string
	V4    *string
	V5    *string
}

// NewRule builds a PolicyRule from a ptype and up to six positional values.
// Values beyond the sixth are ignored, matching the fixed rule arity of the
// storage schema.
func NewRule(ptype string, values ...string) PolicyRule {
	r := PolicyRule{PType: ptype}
	slots := [...]**string{&r.V0, &r.V1, &r.V2, &r.V3, &r.V4, &r.V5}
	for i := 0; i < len(values) && i < len(slots); i++ {
		v := values[i]
		*slots[i] = &v
	}
	return r
}

// Values returns the populated positional values in order, stopping at the
// first unset position.
func (r PolicyRule) Values() []string {
	out := make([]string, 0, 6)
	for _, p := range []*string{r.V0, r.V1, r.V2, r.V3, r.V4, r.V5} {
		if p == nil {
			break
		}
		out = append(out, *p)
	}
	return out
}

// Line returns the rule as a casbin policy array: ptype first, then the
// populated values.
func (r PolicyRule) Line() []string {
	return append([]string{r.PType}, r.Values()...)
}

// Filter selects a subset of rules to load. Keys are ptypes, values are
// partial rule patterns. Within a pattern an empty string matches any value
// at that position; patterns under the same ptype are disjoined.
type Filter map[string][][]string

// RuleStore is the durable home of policy rules. Implementations propagate
// store errors unmodified; there is no retry layer here.
type RuleStore interface {
	// LoadAll returns every rule. Unbounded scan, acceptable at the
	// tenant-scale rule sets this library targets.
	LoadAll(ctx context.Context) ([]PolicyRule, error)

	// LoadMatching returns the rules matched by the filter.
	LoadMatching(ctx context.Context, filter Filter) ([]PolicyRule, error)

	// ReplaceAll deletes every rule and inserts the given set. The two
	// phases are not guaranteed to be atomic on every backend; see the
	// implementation for its consistency notes.
	ReplaceAll(ctx context.Context, rules []PolicyRule) error

	Insert(ctx context.Context, rule PolicyRule) error
	InsertBatch(ctx context.Context, rules []PolicyRule) error

	// Delete removes rules whose leading positions equal the populated
	// positions of rule, empty strings included. Only unset trailing
	// positions are unconstrained.
	Delete(ctx context.Context, rule PolicyRule) error
	DeleteBatch(ctx context.Context, rules []PolicyRule) error

	// DeleteMatching removes rules of the given ptype whose positions in
	// [fieldIndex, fieldIndex+len(fieldValues)) equal the corresponding
	// value. Empty strings are unconstrained.
	DeleteMatching(ctx context.Context, ptype string, fieldIndex int, fieldValues ...string) error
}
