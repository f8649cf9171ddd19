package dbtime

import (
	"database/sql"
	"fmt"
	"time"
)

// Layout is fixed width so that text comparison in SQL matches time order.
const Layout = "2006-01-02T15:04:05.000000000Z"

func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

func FormatPtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: Format(*t), Valid: true}
}

func Parse(s string) (time.Time, error) {
	for _, f := range []string{Layout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(f, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q", s)
}

func ParseNull(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := Parse(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
