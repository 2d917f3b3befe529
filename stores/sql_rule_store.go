package stores

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/oarkflow/squealx"

	"github.com/altlock/authkit"
)

// SQLRuleStore persists policy rules in SQL (squealx).
type SQLRuleStore struct {
	db *squealx.DB
}

func NewSQLRuleStore(db *squealx.DB) *SQLRuleStore {
	return &SQLRuleStore{db: db}
}

const ruleColumns = "ptype, v0, v1, v2, v3, v4, v5"

func (s *SQLRuleStore) LoadAll(ctx context.Context) ([]authkit.PolicyRule, error) {
	q := `SELECT ` + ruleColumns + ` FROM casbin_rule ORDER BY id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return scanRules(r)
}

// LoadMatching builds an OR-of-AND query: each pattern contributes a
// conjunction of its non-empty positional constraints, patterns are
// disjoined.
func (s *SQLRuleStore) LoadMatching(ctx context.Context, filter authkit.Filter) ([]authkit.PolicyRule, error) {
	clauses := make([]string, 0)
	params := map[string]any{}
	n := 0
	for ptype, patterns := range filter {
		for _, pattern := range patterns {
			ptypeParam := fmt.Sprintf("pt%d", n)
			conds := []string{fmt.Sprintf("ptype = :%s", ptypeParam)}
			params[ptypeParam] = ptype
			for i, v := range pattern {
				if v == "" || i > 5 {
					continue
				}
				p := fmt.Sprintf("pt%dv%d", n, i)
				conds = append(conds, fmt.Sprintf("v%d = :%s", i, p))
				params[p] = v
			}
			clauses = append(clauses, "("+strings.Join(conds, " AND ")+")")
			n++
		}
	}
	if len(clauses) == 0 {
		return []authkit.PolicyRule{}, nil
	}
	q := `SELECT ` + ruleColumns + ` FROM casbin_rule WHERE ` + strings.Join(clauses, " OR ") + ` ORDER BY id`
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return scanRules(r)
}

// ReplaceAll deletes every rule and re-inserts the given set. The delete
// and the inserts are separate statements: a failure mid-way, or a
// concurrent reader, can observe a partial rule set. Callers needing a
// stronger guarantee should serialize full saves and prefer incremental
// Add/Delete in steady state.
func (s *SQLRuleStore) ReplaceAll(ctx context.Context, rules []authkit.PolicyRule) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM casbin_rule`); err != nil {
		return err
	}
	return s.InsertBatch(ctx, rules)
}

func (s *SQLRuleStore) Insert(ctx context.Context, rule authkit.PolicyRule) error {
	q := `INSERT INTO casbin_rule(ptype, v0, v1, v2, v3, v4, v5) VALUES(:ptype, :v0, :v1, :v2, :v3, :v4, :v5)`
	_, err := s.db.NamedExecContext(ctx, q, ruleParams(rule))
	return err
}

func (s *SQLRuleStore) InsertBatch(ctx context.Context, rules []authkit.PolicyRule) error {
	for _, rule := range rules {
		if err := s.Insert(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes rules whose leading positions equal the populated
// positions of rule, empty strings included. Only unset trailing positions
// are unconstrained; the ""-as-wildcard semantics belong to DeleteMatching.
func (s *SQLRuleStore) Delete(ctx context.Context, rule authkit.PolicyRule) error {
	conds := []string{"ptype = :ptype"}
	params := map[string]any{"ptype": rule.PType}
	for i, v := range rule.Values() {
		p := fmt.Sprintf("v%d", i)
		conds = append(conds, fmt.Sprintf("v%d = :%s", i, p))
		params[p] = v
	}
	q := `DELETE FROM casbin_rule WHERE ` + strings.Join(conds, " AND ")
	_, err := s.db.NamedExecContext(ctx, q, params)
	return err
}

func (s *SQLRuleStore) DeleteBatch(ctx context.Context, rules []authkit.PolicyRule) error {
	for _, rule := range rules {
		if err := s.Delete(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLRuleStore) DeleteMatching(ctx context.Context, ptype string, fieldIndex int, fieldValues ...string) error {
	conds := []string{"ptype = :ptype"}
	params := map[string]any{"ptype": ptype}
	for i, v := range fieldValues {
		pos := fieldIndex + i
		if v == "" || pos > 5 {
			continue
		}
		p := fmt.Sprintf("v%d", pos)
		conds = append(conds, fmt.Sprintf("v%d = :%s", pos, p))
		params[p] = v
	}
	q := `DELETE FROM casbin_rule WHERE ` + strings.Join(conds, " AND ")
	_, err := s.db.NamedExecContext(ctx, q, params)
	return err
}

func ruleParams(rule authkit.PolicyRule) map[string]any {
	return map[string]any{
		"ptype": rule.PType,
		"v0":    nullString(rule.V0),
		"v1":    nullString(rule.V1),
		"v2":    nullString(rule.V2),
		"v3":    nullString(rule.V3),
		"v4":    nullString(rule.V4),
		"v5":    nullString(rule.V5),
	}
}

// rowScanner is the minimal row cursor surface the scan helpers need.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
}

func scanRules(r rowScanner) ([]authkit.PolicyRule, error) {
	out := make([]authkit.PolicyRule, 0)
	for r.Next() {
		var ptype string
		var v0, v1, v2, v3, v4, v5 sql.NullString
		if err := r.Scan(&ptype, &v0, &v1, &v2, &v3, &v4, &v5); err != nil {
			return nil, err
		}
		out = append(out, authkit.PolicyRule{
			PType: ptype,
			V0:    fromNullString(v0),
			V1:    fromNullString(v1),
			V2:    fromNullString(v2),
			V3:    fromNullString(v3),
			V4:    fromNullString(v4),
			V5:    fromNullString(v5),
		})
	}
	return out, nil
}
