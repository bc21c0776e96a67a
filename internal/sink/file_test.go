package sink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depthflow/config"
	"depthflow/internal/book"
	"depthflow/logger"
	"depthflow/models"
)

func mustLevel(t *testing.T, price, qty string) models.Level {
	t.Helper()
	lvl, err := models.NewLevel(price, qty)
	require.NoError(t, err)
	return lvl
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestFileSinkRecordLayout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture", "btc.ldjson")

	fs, err := NewFileSink(config.FileSink{Enabled: true, Path: path}, "binance", "BTC-USDT", logger.GetLogger())
	require.NoError(t, err)

	snap := &models.Snapshot{
		LastUpdateID: 107,
		TsRecvNs:     123,
		Bids:         []models.Level{mustLevel(t, "60000", "1.0")},
		Asks:         []models.Level{mustLevel(t, "60010", "1.0")},
	}
	fs.WriteSnapshot(snap, "rest")

	inc := &models.Incremental{
		FirstSeq: 108,
		LastSeq:  110,
		PrevLast: 107,
		TsRecvNs: 456,
		Checksum: -5,
		Bids:     []models.Level{mustLevel(t, "59990", "2.0")},
	}
	fs.WriteIncremental(inc, "ws")

	b := book.New(5)
	b.Update(models.Bid, mustLevel(t, "60000", "1.0"))
	fs.WriteBookState(b, 110, 3, "book")

	require.NoError(t, fs.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 3)

	snapRec := lines[0]
	assert.Equal(t, float64(1), snapRec["schema_version"])
	assert.Equal(t, "snapshot", snapRec["event_type"])
	assert.Equal(t, "rest", snapRec["source"])
	assert.Equal(t, "binance", snapRec["venue"])
	assert.Equal(t, "BTC-USDT", snapRec["symbol"])
	assert.Equal(t, float64(1), snapRec["persist_seq"])
	assert.Equal(t, float64(107), snapRec["seq_first"])
	assert.Equal(t, float64(107), snapRec["seq_last"])
	assert.NotZero(t, snapRec["ts_persist_ns"])
	bids := snapRec["bids"].([]any)
	require.Len(t, bids, 1)
	lvl := bids[0].(map[string]any)
	assert.Equal(t, "60000", lvl["price"])
	assert.Equal(t, "1.0", lvl["quantity"])
	assert.Equal(t, float64(6000000), lvl["price_tick"])
	assert.Equal(t, float64(1000), lvl["quantity_lot"])

	incRec := lines[1]
	assert.Equal(t, "incremental", incRec["event_type"])
	assert.Equal(t, float64(108), incRec["seq_first"])
	assert.Equal(t, float64(110), incRec["seq_last"])
	assert.Equal(t, float64(107), incRec["prev_last"])
	assert.Equal(t, float64(-5), incRec["checksum"])
	assert.Equal(t, float64(2), incRec["persist_seq"])

	stateRec := lines[2]
	assert.Equal(t, "book_state", stateRec["event_type"])
	assert.Equal(t, float64(110), stateRec["applied_seq"])
	assert.Equal(t, float64(3), stateRec["top_n"])
	_, hasSeqFirst := stateRec["seq_first"]
	assert.False(t, hasSeqFirst, "book_state omits seq fields")
}

func TestFileSinkTruncatesBookStateToTopN(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cap.ldjson")
	fs, err := NewFileSink(config.FileSink{Enabled: true, Path: path}, "okx", "BTC-USDT", logger.GetLogger())
	require.NoError(t, err)

	b := book.New(10)
	for _, p := range []string{"100", "99", "98", "97"} {
		b.Update(models.Bid, mustLevel(t, p, "1"))
	}
	fs.WriteBookState(b, 1, 2, "book")
	require.NoError(t, fs.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Len(t, lines[0]["bids"].([]any), 2)
}

func TestNewReturnsNopWhenDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Feed.Venue = "binance"
	cfg.Feed.Base = "BTC"
	cfg.Feed.Quote = "USDT"

	s, err := New(cfg, logger.GetLogger())
	require.NoError(t, err)
	_, ok := s.(Nop)
	assert.True(t, ok)
	assert.NoError(t, s.Close())
}
