package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriceTicks(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"60000", 6000000},
		{"60000.5", 6000050},
		{"0.01", 1},
		{"50010.00", 5001000},
	}
	for _, tt := range tests {
		got, err := ParsePriceTicks(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "price %s", tt.in)
	}

	_, err := ParsePriceTicks("not-a-number")
	assert.Error(t, err)
}

func TestParseQtyLots(t *testing.T) {
	got, err := ParseQtyLots("1.0")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got)

	got, err = ParseQtyLots("0")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}

func TestNewLevelKeepsOriginalStrings(t *testing.T) {
	lvl, err := NewLevel("60000.5", "1.25")
	require.NoError(t, err)
	assert.Equal(t, "60000.5", lvl.Price)
	assert.Equal(t, "1.25", lvl.Quantity)
	assert.Equal(t, int64(6000050), lvl.PriceTicks)
	assert.Equal(t, int64(1250), lvl.QtyLots)
	assert.False(t, lvl.Empty())

	zero, err := NewLevel("60000", "0")
	require.NoError(t, err)
	assert.True(t, zero.Empty())
}

func TestIncrementalReset(t *testing.T) {
	u := Incremental{FirstSeq: 1, LastSeq: 2, PrevLast: 0, Checksum: 42}
	u.Bids = append(u.Bids, Level{PriceTicks: 1})
	u.Reset()
	assert.Zero(t, u.LastSeq)
	assert.Zero(t, u.Checksum)
	assert.Empty(t, u.Bids)
}
