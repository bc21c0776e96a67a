package sink

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"depthflow/config"
	"depthflow/internal/book"
	"depthflow/logger"
	"depthflow/models"
)

const schemaVersion = 1

type levelRecord struct {
	Price       string `json:"price"`
	Quantity    string `json:"quantity"`
	PriceTick   int64  `json:"price_tick"`
	QuantityLot int64  `json:"quantity_lot"`
}

type record struct {
	SchemaVersion int           `json:"schema_version"`
	EventType     string        `json:"event_type"`
	Source        string        `json:"source"`
	Venue         string        `json:"venue"`
	Symbol        string        `json:"symbol"`
	PersistSeq    uint64        `json:"persist_seq"`
	TsRecvNs      int64         `json:"ts_recv_ns"`
	TsPersistNs   int64         `json:"ts_persist_ns"`
	SeqFirst      *uint64       `json:"seq_first,omitempty"`
	SeqLast       *uint64       `json:"seq_last,omitempty"`
	PrevLast      *uint64       `json:"prev_last,omitempty"`
	Checksum      *int64        `json:"checksum,omitempty"`
	AppliedSeq    *uint64       `json:"applied_seq,omitempty"`
	TopN          *int          `json:"top_n,omitempty"`
	Bids          []levelRecord `json:"bids"`
	Asks          []levelRecord `json:"asks"`
}

// FileSink appends one JSON record per line to a rotated file. Writes are
// best-effort: each error is logged and the record is dropped.
type FileSink struct {
	mu         sync.Mutex
	out        io.WriteCloser
	venue      string
	symbol     string
	persistSeq uint64
	log        *logger.Entry
}

// NewFileSink opens (and rotates) the capture file at cfg.Path.
func NewFileSink(cfg config.FileSink, venueName, symbol string, log *logger.Log) (*FileSink, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 512
	}
	return &FileSink{
		out: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		},
		venue:  venueName,
		symbol: symbol,
		log:    log.WithComponent("file_sink"),
	}, nil
}

func levelRecords(levels []models.Level) []levelRecord {
	out := make([]levelRecord, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, levelRecord{
			Price:       lvl.Price,
			Quantity:    lvl.Quantity,
			PriceTick:   lvl.PriceTicks,
			QuantityLot: lvl.QtyLots,
		})
	}
	return out
}

func topLevels(side []models.Level, topN int) []levelRecord {
	if len(side) > topN {
		side = side[:topN]
	}
	return levelRecords(side)
}

func (s *FileSink) writeLine(r *record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.persistSeq++
	r.SchemaVersion = schemaVersion
	r.Venue = s.venue
	r.Symbol = s.symbol
	r.PersistSeq = s.persistSeq
	r.TsPersistNs = time.Now().UnixNano()

	line, err := json.Marshal(r)
	if err != nil {
		s.log.WithError(err).Warn("marshal persist record")
		return
	}
	line = append(line, '\n')
	if _, err := s.out.Write(line); err != nil {
		s.log.WithError(err).Warn("write persist record")
	}
}

func (s *FileSink) WriteSnapshot(snap *models.Snapshot, source string) {
	seq := snap.LastUpdateID
	cs := snap.Checksum
	s.writeLine(&record{
		EventType: "snapshot",
		Source:    source,
		TsRecvNs:  snap.TsRecvNs,
		SeqFirst:  &seq,
		SeqLast:   &seq,
		Checksum:  &cs,
		Bids:      levelRecords(snap.Bids),
		Asks:      levelRecords(snap.Asks),
	})
}

func (s *FileSink) WriteIncremental(inc *models.Incremental, source string) {
	first, last, prev := inc.FirstSeq, inc.LastSeq, inc.PrevLast
	cs := inc.Checksum
	s.writeLine(&record{
		EventType: "incremental",
		Source:    source,
		TsRecvNs:  inc.TsRecvNs,
		SeqFirst:  &first,
		SeqLast:   &last,
		PrevLast:  &prev,
		Checksum:  &cs,
		Bids:      levelRecords(inc.Bids),
		Asks:      levelRecords(inc.Asks),
	})
}

func (s *FileSink) WriteBookState(b *book.Book, appliedSeq uint64, topN int, source string) {
	n := topN
	s.writeLine(&record{
		EventType:  "book_state",
		Source:     source,
		AppliedSeq: &appliedSeq,
		TopN:       &n,
		Bids:       topLevels(b.Bids(), topN),
		Asks:       topLevels(b.Asks(), topN),
	})
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Close()
}
