package store

import (
	"database/sql"

	"github.com/shopspring/decimal"
)

// decStr converts an optional decimal into a bind value, preserving SQL
// NULL for missing numeric fields per §4.3.2.
func decStr(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// scanDecimal parses a nullable TEXT column back into *decimal.Decimal.
func scanDecimal(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
