// Package venue abstracts every per-venue difference behind one adapter
// interface: capability flags, endpoint/frame/target construction on the
// cold path, and message classification plus parsing on the hot path.
package venue

import (
	"fmt"
	"time"

	"depthflow/config"
	"depthflow/internal/book"
	"depthflow/models"
)

// SyncMode is the venue's book synchronisation flavour.
type SyncMode uint8

const (
	// RestAnchored venues baseline from a REST snapshot that is bridged
	// with buffered WS incrementals.
	RestAnchored SyncMode = iota
	// WsAuthoritative venues send the baseline snapshot on the stream.
	WsAuthoritative
)

// Caps are the per-venue capability flags, resolved once at init.
type Caps struct {
	SyncMode SyncMode

	WSSendsSnapshot     bool
	HasChecksum         bool
	RequiresWSBootstrap bool
	AllowSeqGap         bool

	ChecksumFn   book.ChecksumFn
	ChecksumTopN int
}

// Endpoint is a resolved host/port/target triple for either WS or REST.
type Endpoint struct {
	Host   string
	Port   string
	Target string
}

// BootstrapInfo is the result of a venue's WS bootstrap call: the endpoint
// to actually connect to plus server-advertised ping settings.
type BootstrapInfo struct {
	WS           Endpoint
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// Adapter is implemented once per venue. Cold-path methods run once at
// handler init; hot-path methods run per frame and must never panic on
// malformed input — they report failure through their boolean return.
type Adapter interface {
	Name() string
	Caps() Caps

	WSEndpoint(cfg *config.Config) Endpoint
	RESTEndpoint(cfg *config.Config) Endpoint
	WSSubscribeFrame(cfg *config.Config) string
	RESTSnapshotTarget(cfg *config.Config) string

	// WS bootstrap hooks; venues without a token handshake return ""/false.
	WSBootstrapTarget(cfg *config.Config) string
	ParseWSBootstrap(body []byte, connectID string, out *BootstrapInfo) bool

	IsIncremental(msg []byte) bool
	IsSnapshot(msg []byte) bool
	ParseIncremental(msg []byte, out *models.Incremental) bool
	ParseWSSnapshot(msg []byte, out *models.Snapshot) bool
	ParseRESTSnapshot(body []byte, out *models.Snapshot) bool
}

// New returns the adapter for a venue name as validated by config.
func New(name string) (Adapter, error) {
	switch name {
	case config.VenueBinance:
		return &Binance{}, nil
	case config.VenueOKX:
		return &OKX{}, nil
	case config.VenueBybit:
		return &Bybit{}, nil
	case config.VenueBitget:
		return &Bitget{}, nil
	case config.VenueKucoin:
		return &Kucoin{}, nil
	default:
		return nil, fmt.Errorf("unknown venue %q", name)
	}
}
