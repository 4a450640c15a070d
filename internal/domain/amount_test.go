package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBaseUnits(t *testing.T) {
	t.Run("parses a plain integer amount", func(t *testing.T) {
		d, err := ParseBaseUnits("5000000")
		require.NoError(t, err)
		assert.True(t, d.Equal(decimal.NewFromInt(5000000)))
	})

	t.Run("zero is a valid amount", func(t *testing.T) {
		d, err := ParseBaseUnits("0")
		require.NoError(t, err)
		assert.True(t, d.IsZero())
	})

	t.Run("amounts above int64 range still parse", func(t *testing.T) {
		d, err := ParseBaseUnits("99999999999999999999999999")
		require.NoError(t, err)
		assert.Equal(t, "99999999999999999999999999", d.String())
	})

	tests := []struct {
		name   string
		amount string
	}{
		{"empty string is rejected", ""},
		{"non-numeric input is rejected", "ten dollars"},
		{"fractional base units are rejected", "100.5"},
		{"negative amounts are rejected", "-5000000"},
		{"hex strings are rejected", "0x4c4b40"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBaseUnits(tt.amount)
			require.Error(t, err)
			assert.True(t, IsPaymentError(err, ErrorCodeInvalidFormat),
				"amount %q should classify as INVALID_FORMAT", tt.amount)
		})
	}
}

func TestValidBaseUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		expected bool
	}{
		{"plain integer", "1000000", true},
		{"zero", "0", true},
		{"trailing decimal zeros are still integral", "5.000000", true},
		{"fractional cents", "1.5", false},
		{"negative", "-1", false},
		{"empty", "", false},
		{"whitespace", " 100", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidBaseUnits(tt.amount))
		})
	}
}
