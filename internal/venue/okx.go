package venue

import (
	"bytes"
	"encoding/json"
	"fmt"

	"depthflow/config"
	"depthflow/internal/book"
	"depthflow/models"
)

// OKX books channel: WS-authoritative with seqId/prevSeqId chaining and a
// CRC32 checksum over the top 25 levels.
type OKX struct{}

func (OKX) Name() string { return config.VenueOKX }

func (OKX) Caps() Caps {
	return Caps{
		SyncMode:        WsAuthoritative,
		WSSendsSnapshot: true,
		HasChecksum:     true,
		ChecksumFn:      book.CheckCRC32,
		ChecksumTopN:    25,
	}
}

func (OKX) WSEndpoint(cfg *config.Config) Endpoint {
	e := Endpoint{Host: "wseea.okx.com", Port: "8443", Target: "/ws/v5/public"}
	if cfg.Feed.WSHost != "" {
		e.Host = cfg.Feed.WSHost
	}
	if cfg.Feed.WSPort != "" {
		e.Port = cfg.Feed.WSPort
	}
	if cfg.Feed.WSPath != "" {
		e.Target = cfg.Feed.WSPath
	}
	return e
}

func (OKX) RESTEndpoint(cfg *config.Config) Endpoint {
	e := Endpoint{Host: "eea.okx.com", Port: "443"}
	if cfg.Feed.RestHost != "" {
		e.Host = cfg.Feed.RestHost
	}
	if cfg.Feed.RestPort != "" {
		e.Port = cfg.Feed.RestPort
	}
	return e
}

type okxSubscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxSubscribeFrame struct {
	Op   string            `json:"op"`
	Args []okxSubscribeArg `json:"args"`
}

func (OKX) WSSubscribeFrame(cfg *config.Config) string {
	instID := WSSymbol(config.VenueOKX, cfg.Feed.Base, cfg.Feed.Quote)
	frame, _ := json.Marshal(okxSubscribeFrame{
		Op:   "subscribe",
		Args: []okxSubscribeArg{{Channel: "books", InstID: instID}},
	})
	return string(frame)
}

func (OKX) RESTSnapshotTarget(cfg *config.Config) string {
	if cfg.Feed.RestPath != "" {
		return cfg.Feed.RestPath
	}
	// optional for WS-authoritative mode, useful as a debugging fallback
	instID := RESTSymbol(config.VenueOKX, cfg.Feed.Base, cfg.Feed.Quote)
	sz := cfg.Feed.DepthLevel
	if sz > 400 {
		sz = 400
	}
	return fmt.Sprintf("/api/v5/market/books?instId=%s&sz=%d", instID, sz)
}

func (OKX) WSBootstrapTarget(*config.Config) string              { return "" }
func (OKX) ParseWSBootstrap([]byte, string, *BootstrapInfo) bool { return false }

func looksLikeOKXBooks(msg []byte) bool {
	return bytes.Contains(msg, []byte(`"channel":"books`)) &&
		bytes.Contains(msg, []byte(`"data"`))
}

func (OKX) IsSnapshot(msg []byte) bool {
	return looksLikeOKXBooks(msg) && bytes.Contains(msg, []byte(`"action":"snapshot"`))
}

func (OKX) IsIncremental(msg []byte) bool {
	return looksLikeOKXBooks(msg) && bytes.Contains(msg, []byte(`"action":"update"`))
}

func (OKX) ParseWSSnapshot(msg []byte, out *models.Snapshot) bool {
	out.Reset()

	if action, ok := stringAt(msg, "action"); !ok || action != "snapshot" {
		return false
	}
	seq, ok := uintAt(msg, "data", "[0]", "seqId")
	if !ok {
		return false
	}
	out.LastUpdateID = seq
	if cs, ok := intAt(msg, "data", "[0]", "checksum"); ok {
		out.Checksum = cs
	}
	if !levelsAt(msg, &out.Bids, "data", "[0]", "bids") {
		return false
	}
	if !levelsAt(msg, &out.Asks, "data", "[0]", "asks") {
		return false
	}
	return true
}

func (OKX) ParseIncremental(msg []byte, out *models.Incremental) bool {
	out.Reset()

	if action, ok := stringAt(msg, "action"); !ok || action != "update" {
		return false
	}
	seq, ok := uintAt(msg, "data", "[0]", "seqId")
	if !ok {
		return false
	}
	prev, ok := uintAt(msg, "data", "[0]", "prevSeqId")
	if !ok {
		return false
	}
	out.PrevLast = prev
	out.LastSeq = seq
	out.FirstSeq = prev + 1

	if cs, ok := intAt(msg, "data", "[0]", "checksum"); ok {
		out.Checksum = cs
	}
	if !levelsAt(msg, &out.Bids, "data", "[0]", "bids") {
		return false
	}
	if !levelsAt(msg, &out.Asks, "data", "[0]", "asks") {
		return false
	}
	return true
}

func (OKX) ParseRESTSnapshot([]byte, *models.Snapshot) bool { return false }
