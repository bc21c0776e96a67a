package book

import (
	"sort"

	"depthflow/models"
)

// State is the controller's view of how well the local book tracks the
// venue's book.
type State uint8

const (
	WaitingSnapshot State = iota
	WaitingBridge
	Synced
)

func (s State) String() string {
	switch s {
	case WaitingSnapshot:
		return "waiting_snapshot"
	case WaitingBridge:
		return "waiting_bridge"
	default:
		return "synced"
	}
}

// Action tells the feed handler what to do after a controller call.
type Action uint8

const (
	ActionNone Action = iota
	ActionNeedResync
)

// BaselineKind distinguishes the two snapshot flavours.
type BaselineKind uint8

const (
	// RestAnchored baselines come from REST and must be bridged by an
	// incremental covering lastSeq+1 before the book is trusted.
	RestAnchored BaselineKind = iota
	// WsAuthoritative baselines arrive on the stream itself and are
	// immediately authoritative.
	WsAuthoritative
)

// Controller owns the book and applies the sequence arithmetic that keeps it
// consistent: snapshot application, incremental bridging and checksum gating.
type Controller struct {
	book *Book

	state       State
	lastSeq     uint64
	expectedSeq uint64

	checksumFn   ChecksumFn
	checksumTopN int
	allowSeqGap  bool
}

// NewController creates a controller with an empty book of the given depth.
func NewController(depth int) *Controller {
	return &Controller{
		book:  New(depth),
		state: WaitingSnapshot,
	}
}

// ConfigureChecksum enables checksum validation with the given function and
// top-N selection. A nil fn disables validation.
func (c *Controller) ConfigureChecksum(fn ChecksumFn, topN int) {
	c.checksumFn = fn
	c.checksumTopN = topN
}

// SetAllowSeqGap lets the controller jump expectedSeq forward instead of
// resyncing when an incremental starts past the expected sequence. Only
// venues whose partial snapshots legally trail the stream should enable it.
func (c *Controller) SetAllowSeqGap(allow bool) { c.allowSeqGap = allow }

// Book exposes the underlying book for checksums, dumps and tests.
func (c *Controller) Book() *Book { return c.book }

// State returns the controller state.
func (c *Controller) State() State { return c.state }

// Synced reports whether the book currently mirrors the venue.
func (c *Controller) Synced() bool { return c.state == Synced }

// LastSeq returns the last venue sequence applied to the book.
func (c *Controller) LastSeq() uint64 { return c.lastSeq }

// ExpectedSeq returns the next sequence the controller requires.
func (c *Controller) ExpectedSeq() uint64 { return c.expectedSeq }

// Reset clears the book and returns to WaitingSnapshot.
func (c *Controller) Reset() {
	c.book.Clear()
	c.state = WaitingSnapshot
	c.lastSeq = 0
	c.expectedSeq = 0
}

// OnSnapshot installs a fresh baseline. The book is cleared, the snapshot
// levels are applied best-first and the sequence anchors are reset. With
// checksum support enabled a zero or mismatching checksum invalidates the
// baseline.
func (c *Controller) OnSnapshot(snap *models.Snapshot, kind BaselineKind) Action {
	c.book.Clear()

	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].PriceTicks > snap.Bids[j].PriceTicks })
	sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].PriceTicks < snap.Asks[j].PriceTicks })

	for _, lvl := range snap.Bids {
		c.book.Update(models.Bid, lvl)
	}
	for _, lvl := range snap.Asks {
		c.book.Update(models.Ask, lvl)
	}

	c.lastSeq = snap.LastUpdateID
	c.expectedSeq = c.lastSeq + 1

	if c.checksumFn != nil {
		if snap.Checksum == 0 || !c.checksumFn(c.book, snap.Checksum, c.checksumTopN) {
			c.Reset()
			return ActionNeedResync
		}
	}

	if kind == WsAuthoritative {
		c.state = Synced
	} else {
		c.state = WaitingBridge
	}
	return ActionNone
}

// OnIncrement applies one incremental under the bridging rule:
//
//	required        = expectedSeq
//	last < required  -> pre-baseline overlap, ignore
//	first > required -> gap, resync (or jump forward when allowSeqGap)
//	otherwise        -> apply, advance lastSeq/expectedSeq
//
// Messages without sequence information are applied only when a checksum can
// vouch for them. After any application a configured checksum is validated;
// a mismatch clears the book.
func (c *Controller) OnIncrement(inc *models.Incremental) Action {
	if c.state == WaitingSnapshot {
		// the handler buffers while a snapshot is in flight
		return ActionNone
	}

	if inc.LastSeq != 0 {
		required := c.expectedSeq
		switch {
		case inc.LastSeq < required:
			return ActionNone
		case inc.FirstSeq > required && !c.allowSeqGap:
			return ActionNeedResync
		}
		c.applyLevels(inc)
		c.lastSeq = inc.LastSeq
		c.expectedSeq = c.lastSeq + 1
	} else if c.checksumFn != nil {
		c.applyLevels(inc)
	} else {
		// no sequence, no checksum: the message cannot be trusted
		return ActionNeedResync
	}

	if c.checksumFn != nil && !c.checksumFn(c.book, inc.Checksum, c.checksumTopN) {
		c.Reset()
		return ActionNeedResync
	}

	if c.state == WaitingBridge {
		c.state = Synced
	}
	return ActionNone
}

func (c *Controller) applyLevels(inc *models.Incremental) {
	for _, lvl := range inc.Bids {
		c.book.Update(models.Bid, lvl)
	}
	for _, lvl := range inc.Asks {
		c.book.Update(models.Ask, lvl)
	}
}
