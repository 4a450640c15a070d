package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// numericFromBaseUnits converts a base-unit amount string to pgtype.Numeric
// for writes.
func numericFromBaseUnits(s string) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return n, fmt.Errorf("convert amount: %w", err)
	}
	return n, nil
}

// baseUnitsFromNumeric converts a scanned NUMERIC back to the canonical
// base-unit string.
func baseUnitsFromNumeric(n pgtype.Numeric) (string, error) {
	raw, err := n.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal numeric: %w", err)
	}
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return "", fmt.Errorf("parse numeric: %w", err)
	}
	return d.String(), nil
}
