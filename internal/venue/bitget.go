package venue

import (
	"bytes"
	"encoding/json"

	"depthflow/config"
	"depthflow/internal/book"
	"depthflow/models"
)

// Bitget v2 books channel: WS-authoritative, single seq id per update and a
// CRC32 checksum in the same encoding as OKX.
// https://www.bitget.com/api-doc/spot/websocket/public/Depth-Channel
type Bitget struct{}

func (Bitget) Name() string { return config.VenueBitget }

func (Bitget) Caps() Caps {
	return Caps{
		SyncMode:        WsAuthoritative,
		WSSendsSnapshot: true,
		HasChecksum:     true,
		ChecksumFn:      book.CheckCRC32,
		ChecksumTopN:    25,
	}
}

func (Bitget) WSEndpoint(cfg *config.Config) Endpoint {
	e := Endpoint{Host: "ws.bitget.com", Port: "443", Target: "/v2/ws/public"}
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

func (Bitget) RESTEndpoint(cfg *config.Config) Endpoint {
	e := Endpoint{Host: "api.bitget.com", Port: "443"}
	if cfg.Feed.RestHost != "" {
		e.Host = cfg.Feed.RestHost
	}
	if cfg.Feed.RestPort != "" {
		e.Port = cfg.Feed.RestPort
	}
	return e
}

type bitgetSubscribeArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

type bitgetSubscribeFrame struct {
	Op   string               `json:"op"`
	Args []bitgetSubscribeArg `json:"args"`
}

func (Bitget) WSSubscribeFrame(cfg *config.Config) string {
	instID := WSSymbol(config.VenueBitget, cfg.Feed.Base, cfg.Feed.Quote)
	frame, _ := json.Marshal(bitgetSubscribeFrame{
		Op:   "subscribe",
		Args: []bitgetSubscribeArg{{InstType: "SPOT", Channel: "books", InstID: instID}},
	})
	return string(frame)
}

func (Bitget) RESTSnapshotTarget(cfg *config.Config) string {
	// the WS snapshot is the baseline; no REST snapshot needed
	return cfg.Feed.RestPath
}

func (Bitget) WSBootstrapTarget(*config.Config) string              { return "" }
func (Bitget) ParseWSBootstrap([]byte, string, *BootstrapInfo) bool { return false }

func looksLikeBitgetBooks(msg []byte) bool {
	return bytes.Contains(msg, []byte(`"channel":"books`)) &&
		bytes.Contains(msg, []byte(`"data"`))
}

func (Bitget) IsSnapshot(msg []byte) bool {
	return looksLikeBitgetBooks(msg) && bytes.Contains(msg, []byte(`"action":"snapshot"`))
}

func (Bitget) IsIncremental(msg []byte) bool {
	return looksLikeBitgetBooks(msg) && bytes.Contains(msg, []byte(`"action":"update"`))
}

func (Bitget) ParseWSSnapshot(msg []byte, out *models.Snapshot) bool {
	out.Reset()

	if action, ok := stringAt(msg, "action"); !ok || action != "snapshot" {
		return false
	}
	// seq anchors the baseline; prefer it over the ts field
	seq, ok := uintAt(msg, "data", "[0]", "seq")
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

func (Bitget) ParseIncremental(msg []byte, out *models.Incremental) bool {
	out.Reset()

	if action, ok := stringAt(msg, "action"); !ok || action != "update" {
		return false
	}
	seq, ok := uintAt(msg, "data", "[0]", "seq")
	if !ok {
		return false
	}
	// single-step sequence
	out.FirstSeq = seq
	out.LastSeq = seq
	if seq > 0 {
		out.PrevLast = seq - 1
	}
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

func (Bitget) ParseRESTSnapshot([]byte, *models.Snapshot) bool { return false }
