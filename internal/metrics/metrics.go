// Package metrics tracks feed health counters and optionally publishes them
// to CloudWatch.
package metrics

import "sync/atomic"

// Collector is a set of monotonic feed counters. All methods are safe for
// concurrent use.
type Collector struct {
	messages   atomic.Int64
	applied    atomic.Int64
	buffered   atomic.Int64
	drops      atomic.Int64
	resyncs    atomic.Int64
	reconnects atomic.Int64
	snapshots  atomic.Int64
}

func NewCollector() *Collector { return &Collector{} }

func (c *Collector) Message()   { c.messages.Add(1) }
func (c *Collector) Applied()   { c.applied.Add(1) }
func (c *Collector) Buffered()  { c.buffered.Add(1) }
func (c *Collector) Drop()      { c.drops.Add(1) }
func (c *Collector) Resync()    { c.resyncs.Add(1) }
func (c *Collector) Reconnect() { c.reconnects.Add(1) }
func (c *Collector) Snapshot()  { c.snapshots.Add(1) }

// Values returns a point-in-time view of all counters keyed by metric name.
func (c *Collector) Values() map[string]int64 {
	return map[string]int64{
		"messages_total":   c.messages.Load(),
		"applied_total":    c.applied.Load(),
		"buffered_total":   c.buffered.Load(),
		"drops_total":      c.drops.Load(),
		"resyncs_total":    c.resyncs.Load(),
		"reconnects_total": c.reconnects.Load(),
		"snapshots_total":  c.snapshots.Load(),
	}
}
