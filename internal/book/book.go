// Package book holds the local L2 order book, the venue checksum engine and
// the controller that reconciles snapshots with incremental updates.
package book

import (
	"fmt"
	"sort"

	"depthflow/models"
)

// Book is a fixed-depth L2 order book. Each side is a contiguous sorted
// slice: bids strictly descending by price, asks strictly ascending. Prices
// are unique per side and no retained level has zero quantity.
type Book struct {
	depth int
	bids  []models.Level
	asks  []models.Level
}

// New creates an empty book with the given maximum depth per side.
func New(depth int) *Book {
	if depth <= 0 {
		panic("book: depth must be > 0")
	}
	return &Book{
		depth: depth,
		// depth+1 so an insert-then-pop never reallocates
		bids: make([]models.Level, 0, depth+1),
		asks: make([]models.Level, 0, depth+1),
	}
}

// Depth returns the configured maximum depth per side.
func (b *Book) Depth() int { return b.depth }

// Bids returns the bid side, best first. The slice is owned by the book.
func (b *Book) Bids() []models.Level { return b.bids }

// Asks returns the ask side, best first. The slice is owned by the book.
func (b *Book) Asks() []models.Level { return b.asks }

// Size returns the number of levels currently held on a side.
func (b *Book) Size(side models.Side) int {
	return len(*b.side(side))
}

// Level returns the i-th best level of a side.
func (b *Book) Level(side models.Side, i int) (models.Level, bool) {
	s := *b.side(side)
	if i < 0 || i >= len(s) {
		return models.Level{}, false
	}
	return s[i], true
}

// BestBid returns the top bid, if any.
func (b *Book) BestBid() (models.Level, bool) { return b.Level(models.Bid, 0) }

// BestAsk returns the top ask, if any.
func (b *Book) BestAsk() (models.Level, bool) { return b.Level(models.Ask, 0) }

// Clear removes all levels from both sides.
func (b *Book) Clear() {
	b.bids = b.bids[:0]
	b.asks = b.asks[:0]
}

func (b *Book) side(side models.Side) *[]models.Level {
	if side == models.Bid {
		return &b.bids
	}
	return &b.asks
}

// pos locates the sorted position of price on a side via binary search.
// found reports whether the level at that position has the exact price.
func (b *Book) pos(side models.Side, price int64) (idx int, found bool) {
	s := *b.side(side)
	if side == models.Bid {
		idx = sort.Search(len(s), func(i int) bool { return s[i].PriceTicks <= price })
	} else {
		idx = sort.Search(len(s), func(i int) bool { return s[i].PriceTicks >= price })
	}
	found = idx < len(s) && s[idx].PriceTicks == price
	return idx, found
}

// Update applies one absolute level state. Zero quantity deletes the level.
// If the side is full, a new price is inserted only when it is strictly
// better than the current worst level, which is then dropped.
func (b *Book) Update(side models.Side, lvl models.Level) {
	if lvl.QtyLots <= 0 {
		b.Remove(side, lvl.PriceTicks)
		return
	}

	s := b.side(side)
	idx, found := b.pos(side, lvl.PriceTicks)
	if found {
		(*s)[idx] = lvl
		return
	}
	if len(*s) >= b.depth {
		if idx >= b.depth {
			// worse than the worst retained level: ignore
			return
		}
		*s = append(*s, models.Level{})
		copy((*s)[idx+1:], (*s)[idx:])
		(*s)[idx] = lvl
		*s = (*s)[:b.depth]
		return
	}
	*s = append(*s, models.Level{})
	copy((*s)[idx+1:], (*s)[idx:])
	(*s)[idx] = lvl
}

// Remove deletes the level at price, if present. Missing prices are a no-op.
func (b *Book) Remove(side models.Side, price int64) {
	s := b.side(side)
	idx, found := b.pos(side, price)
	if !found {
		return
	}
	copy((*s)[idx:], (*s)[idx+1:])
	*s = (*s)[:len(*s)-1]
}

// Validate checks the structural invariants: strict per-side ordering,
// unique prices, no zero-quantity level, size within depth. Used by tests.
func (b *Book) Validate() error {
	if err := validateSide(b.bids, b.depth, true); err != nil {
		return fmt.Errorf("bids: %w", err)
	}
	if err := validateSide(b.asks, b.depth, false); err != nil {
		return fmt.Errorf("asks: %w", err)
	}
	return nil
}

func validateSide(s []models.Level, depth int, descending bool) error {
	if len(s) > depth {
		return fmt.Errorf("size %d exceeds depth %d", len(s), depth)
	}
	for i, lvl := range s {
		if lvl.QtyLots == 0 {
			return fmt.Errorf("zero-quantity level at %d (price %d)", i, lvl.PriceTicks)
		}
		if i == 0 {
			continue
		}
		prev := s[i-1].PriceTicks
		if descending && lvl.PriceTicks >= prev {
			return fmt.Errorf("not strictly descending at %d: %d >= %d", i, lvl.PriceTicks, prev)
		}
		if !descending && lvl.PriceTicks <= prev {
			return fmt.Errorf("not strictly ascending at %d: %d <= %d", i, lvl.PriceTicks, prev)
		}
	}
	return nil
}
