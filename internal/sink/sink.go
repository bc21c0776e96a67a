// Package sink persists feed output: an append-only line-delimited JSON
// file, an optional parquet capture writer and an optional S3 uploader for
// flushed captures. All sinks are best-effort; a failing sink never stalls
// or kills the feed.
package sink

import (
	"depthflow/config"
	"depthflow/internal/book"
	"depthflow/logger"
	"depthflow/models"
)

// Sink receives everything the feed applies.
type Sink interface {
	WriteSnapshot(snap *models.Snapshot, source string)
	WriteIncremental(inc *models.Incremental, source string)
	WriteBookState(b *book.Book, appliedSeq uint64, topN int, source string)
	Close() error
}

// New builds the configured sink chain for one (venue, symbol) feed.
func New(cfg *config.Config, log *logger.Log) (Sink, error) {
	var sinks []Sink

	if cfg.Sink.File.Enabled {
		fs, err := NewFileSink(cfg.Sink.File, cfg.Feed.Venue, cfg.Symbol(), log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fs)
	}
	if cfg.Sink.Parquet.Enabled {
		ps, err := NewParquetSink(cfg, log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ps)
	}

	switch len(sinks) {
	case 0:
		return Nop{}, nil
	case 1:
		return sinks[0], nil
	default:
		return multi(sinks), nil
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) WriteSnapshot(*models.Snapshot, string)         {}
func (Nop) WriteIncremental(*models.Incremental, string)   {}
func (Nop) WriteBookState(*book.Book, uint64, int, string) {}
func (Nop) Close() error                                   { return nil }

type multi []Sink

func (m multi) WriteSnapshot(snap *models.Snapshot, source string) {
	for _, s := range m {
		s.WriteSnapshot(snap, source)
	}
}

func (m multi) WriteIncremental(inc *models.Incremental, source string) {
	for _, s := range m {
		s.WriteIncremental(inc, source)
	}
}

func (m multi) WriteBookState(b *book.Book, appliedSeq uint64, topN int, source string) {
	for _, s := range m {
		s.WriteBookState(b, appliedSeq, topN, source)
	}
}

func (m multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
