package book

import (
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depthflow/models"
)

func TestChecksumInputInterleavesSides(t *testing.T) {
	b := New(25)
	l, err := models.NewLevel("50000", "1.0")
	require.NoError(t, err)
	b.Update(models.Bid, l)
	l, err = models.NewLevel("50010", "1.0")
	require.NoError(t, err)
	b.Update(models.Ask, l)

	assert.Equal(t, "50000:1.0:50010:1.0", ChecksumInput(b, 25))
}

func TestChecksumInputShorterSide(t *testing.T) {
	b := New(25)
	for _, p := range []string{"100", "99"} {
		l, err := models.NewLevel(p, "2")
		require.NoError(t, err)
		b.Update(models.Bid, l)
	}
	l, err := models.NewLevel("101", "3")
	require.NoError(t, err)
	b.Update(models.Ask, l)

	assert.Equal(t, "100:2:101:3:99:2", ChecksumInput(b, 25))
}

func TestCRC32SignedPreservesBitPattern(t *testing.T) {
	s := "50000:1.0:50010:1.0"
	u := crc32.ChecksumIEEE([]byte(s))
	assert.Equal(t, int64(int32(u)), CRC32Signed(s))
}

func TestCheckCRC32(t *testing.T) {
	b := New(25)
	l, err := models.NewLevel("50000", "1.0")
	require.NoError(t, err)
	b.Update(models.Bid, l)
	l, err = models.NewLevel("50010", "1.0")
	require.NoError(t, err)
	b.Update(models.Ask, l)

	want := CRC32Signed("50000:1.0:50010:1.0")
	assert.True(t, CheckCRC32(b, want, 25))
	assert.False(t, CheckCRC32(b, want+1, 25))
}

func TestCheckCRC32TopNSelection(t *testing.T) {
	b := New(5)
	for _, p := range []string{"100", "99", "98"} {
		l, err := models.NewLevel(p, "1")
		require.NoError(t, err)
		b.Update(models.Bid, l)
	}

	top2 := CRC32Signed("100:1:99:1")
	assert.True(t, CheckCRC32(b, top2, 2))
	assert.False(t, CheckCRC32(b, top2, 3))
}
