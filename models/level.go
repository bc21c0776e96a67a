package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side identifies one half of an order book.
type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Exchange-normalised integer scales: prices are stored as ticks of 0.01,
// quantities as lots of 0.001.
const (
	PriceTickExp = 2
	QtyLotExp    = 3
)

// Level is one price level. PriceTicks/QtyLots are the normalised integer
// forms used for book arithmetic; Price/Quantity retain the venue's original
// textual representation because some checksum algorithms hash the exact
// strings the venue sent.
type Level struct {
	PriceTicks int64  `json:"price_tick"`
	QtyLots    int64  `json:"quantity_lot"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
}

// Empty reports whether the level carries no quantity.
func (l Level) Empty() bool { return l.QtyLots == 0 }

// NewLevel builds a Level from the venue's textual price and quantity.
func NewLevel(price, qty string) (Level, error) {
	ticks, err := ParsePriceTicks(price)
	if err != nil {
		return Level{}, err
	}
	lots, err := ParseQtyLots(qty)
	if err != nil {
		return Level{}, err
	}
	return Level{PriceTicks: ticks, QtyLots: lots, Price: price, Quantity: qty}, nil
}

// ParsePriceTicks converts "12345.67" into integer ticks.
func ParsePriceTicks(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	return d.Shift(PriceTickExp).IntPart(), nil
}

// ParseQtyLots converts a quantity string into integer lots.
func ParseQtyLots(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	return d.Shift(QtyLotExp).IntPart(), nil
}

// Snapshot is a full baseline of the book at a venue sequence.
type Snapshot struct {
	LastUpdateID uint64
	TsRecvNs     int64
	Checksum     int64
	Bids         []Level
	Asks         []Level
}

// Reset clears the snapshot for reuse.
func (s *Snapshot) Reset() {
	s.LastUpdateID = 0
	s.TsRecvNs = 0
	s.Checksum = 0
	s.Bids = s.Bids[:0]
	s.Asks = s.Asks[:0]
}

// Incremental is a depth delta covering the sequence range
// [FirstSeq, LastSeq]. PrevLast is the last sequence the venue applied
// before this message, when the venue exposes it. Every level entry is the
// absolute state at that price; QtyLots == 0 means delete.
type Incremental struct {
	FirstSeq uint64
	LastSeq  uint64
	PrevLast uint64
	TsRecvNs int64
	Checksum int64
	Bids     []Level
	Asks     []Level
}

// Reset clears the incremental for reuse.
func (u *Incremental) Reset() {
	u.FirstSeq = 0
	u.LastSeq = 0
	u.PrevLast = 0
	u.TsRecvNs = 0
	u.Checksum = 0
	u.Bids = u.Bids[:0]
	u.Asks = u.Asks[:0]
}
