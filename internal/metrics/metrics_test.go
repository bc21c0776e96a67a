package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.Message()
	c.Message()
	c.Applied()
	c.Resync()
	c.Drop()
	c.Reconnect()
	c.Buffered()
	c.Snapshot()

	v := c.Values()
	assert.Equal(t, int64(2), v["messages_total"])
	assert.Equal(t, int64(1), v["applied_total"])
	assert.Equal(t, int64(1), v["resyncs_total"])
	assert.Equal(t, int64(1), v["drops_total"])
	assert.Equal(t, int64(1), v["reconnects_total"])
	assert.Equal(t, int64(1), v["buffered_total"])
	assert.Equal(t, int64(1), v["snapshots_total"])
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Message()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(8000), c.Values()["messages_total"])
}
