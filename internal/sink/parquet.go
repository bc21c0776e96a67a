package sink

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"depthflow/config"
	"depthflow/internal/book"
	"depthflow/logger"
	"depthflow/models"
)

// captureRecord is the flattened parquet schema: one row per price level.
type captureRecord struct {
	Venue       string `parquet:"name=venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol      string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventType   string `parquet:"name=event_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Source      string `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
	SeqFirst    int64  `parquet:"name=seq_first, type=INT64"`
	SeqLast     int64  `parquet:"name=seq_last, type=INT64"`
	Side        string `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price       string `parquet:"name=price, type=BYTE_ARRAY, convertedtype=UTF8"`
	Quantity    string `parquet:"name=quantity, type=BYTE_ARRAY, convertedtype=UTF8"`
	PriceTick   int64  `parquet:"name=price_tick, type=INT64"`
	QuantityLot int64  `parquet:"name=quantity_lot, type=INT64"`
	TsRecvNs    int64  `parquet:"name=ts_recv_ns, type=INT64"`
}

// memFileWriter adapts a bytes.Buffer to the parquet source interface so a
// whole file is assembled in memory before it hits disk or S3.
type memFileWriter struct{ buffer *bytes.Buffer }

func newMemFileWriter() *memFileWriter { return &memFileWriter{buffer: &bytes.Buffer{}} }

func (m *memFileWriter) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFileWriter) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFileWriter) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFileWriter) Read([]byte) (int, error)                  { return 0, nil }
func (m *memFileWriter) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFileWriter) Close() error                              { return nil }
func (m *memFileWriter) Bytes() []byte                             { return m.buffer.Bytes() }

// ParquetSink buffers flattened level rows and flushes them as complete
// parquet files, either to a local directory or to S3 when configured.
type ParquetSink struct {
	venue     string
	symbol    string
	dir       string
	batchSize int
	uploader  *S3Uploader
	log       *logger.Entry

	mu   sync.Mutex
	rows []captureRecord

	flushTicker *time.Ticker
	done        chan struct{}
	wg          sync.WaitGroup
}

// NewParquetSink creates the sink and starts its flush loop.
func NewParquetSink(cfg *config.Config, log *logger.Log) (*ParquetSink, error) {
	pcfg := cfg.Sink.Parquet
	dir := pcfg.Dir
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var uploader *S3Uploader
	if cfg.Sink.S3.Enabled {
		var err error
		uploader, err = NewS3Uploader(cfg.Sink.S3, log)
		if err != nil {
			return nil, err
		}
	}

	batch := pcfg.BatchSize
	if batch <= 0 {
		batch = 5000
	}
	interval := pcfg.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}

	p := &ParquetSink{
		venue:       cfg.Feed.Venue,
		symbol:      cfg.Symbol(),
		dir:         dir,
		batchSize:   batch,
		uploader:    uploader,
		log:         log.WithComponent("parquet_sink"),
		flushTicker: time.NewTicker(interval),
		done:        make(chan struct{}),
	}

	p.wg.Add(1)
	go p.flushLoop()
	return p, nil
}

func (p *ParquetSink) flushLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-p.flushTicker.C:
			p.mu.Lock()
			p.flushLocked()
			p.mu.Unlock()
		}
	}
}

func (p *ParquetSink) add(eventType, source string, first, last uint64, tsRecvNs int64, bids, asks []models.Level) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, lvl := range bids {
		p.rows = append(p.rows, p.row(eventType, source, first, last, tsRecvNs, "bid", lvl))
	}
	for _, lvl := range asks {
		p.rows = append(p.rows, p.row(eventType, source, first, last, tsRecvNs, "ask", lvl))
	}
	if len(p.rows) >= p.batchSize {
		p.flushLocked()
	}
}

func (p *ParquetSink) row(eventType, source string, first, last uint64, tsRecvNs int64, side string, lvl models.Level) captureRecord {
	return captureRecord{
		Venue:       p.venue,
		Symbol:      p.symbol,
		EventType:   eventType,
		Source:      source,
		SeqFirst:    int64(first),
		SeqLast:     int64(last),
		Side:        side,
		Price:       lvl.Price,
		Quantity:    lvl.Quantity,
		PriceTick:   lvl.PriceTicks,
		QuantityLot: lvl.QtyLots,
		TsRecvNs:    tsRecvNs,
	}
}

func (p *ParquetSink) flushLocked() {
	if len(p.rows) == 0 {
		return
	}

	mem := newMemFileWriter()
	pw, err := writer.NewParquetWriter(mem, new(captureRecord), 2)
	if err != nil {
		p.log.WithError(err).Warn("create parquet writer")
		p.rows = p.rows[:0]
		return
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range p.rows {
		if err := pw.Write(p.rows[i]); err != nil {
			p.log.WithError(err).Warn("write parquet row")
		}
	}
	if err := pw.WriteStop(); err != nil {
		p.log.WithError(err).Warn("finalize parquet file")
		p.rows = p.rows[:0]
		return
	}

	name := fmt.Sprintf("%s_%s_%s_%s.parquet",
		p.venue, p.symbol, time.Now().UTC().Format("2006-01-02_15-04-05"), uuid.NewString()[:8])
	data := mem.Bytes()
	rows := len(p.rows)
	p.rows = p.rows[:0]

	if p.uploader != nil {
		if err := p.uploader.Upload(name, data); err != nil {
			p.log.WithError(err).Warn("upload parquet file")
		}
		return
	}

	path := filepath.Join(p.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		p.log.WithError(err).Warn("write parquet file")
		return
	}
	p.log.WithFields(logger.Fields{"path": path, "rows": rows}).Debug("flushed parquet file")
}

func (p *ParquetSink) WriteSnapshot(snap *models.Snapshot, source string) {
	p.add("snapshot", source, snap.LastUpdateID, snap.LastUpdateID, snap.TsRecvNs, snap.Bids, snap.Asks)
}

func (p *ParquetSink) WriteIncremental(inc *models.Incremental, source string) {
	p.add("incremental", source, inc.FirstSeq, inc.LastSeq, inc.TsRecvNs, inc.Bids, inc.Asks)
}

func (p *ParquetSink) WriteBookState(b *book.Book, appliedSeq uint64, topN int, source string) {
	bids, asks := b.Bids(), b.Asks()
	if len(bids) > topN {
		bids = bids[:topN]
	}
	if len(asks) > topN {
		asks = asks[:topN]
	}
	p.add("book_state", source, appliedSeq, appliedSeq, time.Now().UnixNano(), bids, asks)
}

func (p *ParquetSink) Close() error {
	close(p.done)
	p.flushTicker.Stop()
	p.wg.Wait()

	p.mu.Lock()
	p.flushLocked()
	p.mu.Unlock()
	return nil
}
