package book

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depthflow/models"
)

func lvl(t *testing.T, price, qty string) models.Level {
	t.Helper()
	l, err := models.NewLevel(price, qty)
	require.NoError(t, err)
	return l
}

func TestUpdateKeepsSidesSorted(t *testing.T) {
	b := New(10)
	for _, p := range []string{"100", "98", "101", "99", "100.5"} {
		b.Update(models.Bid, lvl(t, p, "1.0"))
		b.Update(models.Ask, lvl(t, p, "1.0"))
	}
	require.NoError(t, b.Validate())

	best, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, "101", best.Price)

	best, ok = b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, "98", best.Price)
}

func TestUpdateOverwritesExistingPrice(t *testing.T) {
	b := New(5)
	b.Update(models.Bid, lvl(t, "100", "1.0"))
	b.Update(models.Bid, lvl(t, "100", "2.5"))
	require.Equal(t, 1, b.Size(models.Bid))

	top, _ := b.BestBid()
	assert.Equal(t, "2.5", top.Quantity)
	require.NoError(t, b.Validate())
}

func TestZeroQuantityDeletes(t *testing.T) {
	b := New(5)
	b.Update(models.Ask, lvl(t, "100", "1.0"))
	b.Update(models.Ask, lvl(t, "101", "1.0"))
	b.Update(models.Ask, lvl(t, "100", "0"))

	require.Equal(t, 1, b.Size(models.Ask))
	top, _ := b.BestAsk()
	assert.Equal(t, "101", top.Price)
	require.NoError(t, b.Validate())
}

func TestDeleteMissingPriceIsNoop(t *testing.T) {
	b := New(5)
	b.Update(models.Bid, lvl(t, "100", "1.0"))
	b.Remove(models.Bid, 999999)
	assert.Equal(t, 1, b.Size(models.Bid))
}

func TestUpdateThenDeleteRestoresBook(t *testing.T) {
	b := New(5)
	b.Update(models.Bid, lvl(t, "100", "1.0"))
	b.Update(models.Bid, lvl(t, "99", "2.0"))
	before := append([]models.Level(nil), b.Bids()...)

	b.Update(models.Bid, lvl(t, "99.5", "3.0"))
	b.Update(models.Bid, lvl(t, "99.5", "0"))

	assert.Equal(t, before, b.Bids())
}

func TestDepthTruncation(t *testing.T) {
	// depth=3 book with bids [100, 99, 98]
	b := New(3)
	for _, p := range []string{"100", "99", "98"} {
		b.Update(models.Bid, lvl(t, p, "1.0"))
	}

	// worse than the worst level on a full side: ignored
	b.Update(models.Bid, lvl(t, "97", "1.0"))
	require.Equal(t, 3, b.Size(models.Bid))
	worst, _ := b.Level(models.Bid, 2)
	assert.Equal(t, "98", worst.Price)

	// better than best: inserted, worst dropped
	b.Update(models.Bid, lvl(t, "101", "1.0"))
	require.Equal(t, 3, b.Size(models.Bid))
	prices := []string{}
	for _, l := range b.Bids() {
		prices = append(prices, l.Price)
	}
	assert.Equal(t, []string{"101", "100", "99"}, prices)
	require.NoError(t, b.Validate())
}

func TestDepthTruncationAskSide(t *testing.T) {
	b := New(3)
	for _, p := range []string{"100", "101", "102"} {
		b.Update(models.Ask, lvl(t, p, "1.0"))
	}

	b.Update(models.Ask, lvl(t, "103", "1.0"))
	require.Equal(t, 3, b.Size(models.Ask))

	b.Update(models.Ask, lvl(t, "99", "1.0"))
	prices := []string{}
	for _, l := range b.Asks() {
		prices = append(prices, l.Price)
	}
	assert.Equal(t, []string{"99", "100", "101"}, prices)
}

func TestInvariantsUnderMixedOperations(t *testing.T) {
	b := New(8)
	ops := []struct {
		price string
		qty   string
	}{
		{"100", "1"}, {"101", "2"}, {"99", "1"}, {"100", "0"},
		{"98", "4"}, {"102", "1"}, {"101", "0"}, {"97.5", "2"},
		{"103", "1"}, {"96", "1"}, {"98", "0"}, {"104", "2"},
	}
	for _, op := range ops {
		b.Update(models.Bid, lvl(t, op.price, op.qty))
		require.NoError(t, b.Validate(), "after bid %s=%s", op.price, op.qty)
		b.Update(models.Ask, lvl(t, op.price, op.qty))
		require.NoError(t, b.Validate(), "after ask %s=%s", op.price, op.qty)
	}
}

func TestFullSideKeepsDepthBound(t *testing.T) {
	b := New(4)
	for i := 0; i < 20; i++ {
		b.Update(models.Bid, lvl(t, strconv.Itoa(100+i), "1"))
		require.NoError(t, b.Validate())
		require.LessOrEqual(t, b.Size(models.Bid), 4)
	}
	top, _ := b.BestBid()
	assert.Equal(t, "119", top.Price)
}
