package stores

import (
	"database/sql"
	"time"

	"github.com/oarkflow/date"
)

// parseFlexibleTime handles the string/[]byte timestamps sqlite hands back.
func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

func scanTime(raw interface{}) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			return t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullString(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func sqlNullTimeOrNil(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
