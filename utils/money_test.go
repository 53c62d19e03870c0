package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDollarsToCents(t *testing.T) {
	tests := []struct {
		name    string
		dollars float64
		cents   int64
	}{
		{"whole dollars", 399.00, 39900},
		{"fifty cents", 399.50, 39950},
		{"rounds up", 7.995, 800},
		{"floating point artifact", 0.1 + 0.2, 30},
		{"zero", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.cents, DollarsToCents(tt.dollars))
		})
	}
}

func TestCentsToDollars(t *testing.T) {
	assert.Equal(t, 399.50, CentsToDollars(39950))
	assert.Equal(t, 0.01, CentsToDollars(1))
}

func TestAmountsMatch(t *testing.T) {
	assert.True(t, AmountsMatch(399.50, 399.50), "identical amounts should match")
	assert.True(t, AmountsMatch(399.50, 399.505), "sub-cent difference should match")
	assert.True(t, AmountsMatch(50*7.99, 399.50), "computed total should match within tolerance")
	assert.False(t, AmountsMatch(399.50, 399.52), "two-cent difference should not match")
}
