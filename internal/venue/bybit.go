package venue

import (
	"bytes"
	"encoding/json"
	"fmt"

	"depthflow/config"
	"depthflow/models"
)

// Bybit v5 spot orderbook stream: WS-authoritative, snapshot + delta frames
// with a single update id, no checksum.
// https://bybit-exchange.github.io/docs/v5/websocket/public/orderbook
type Bybit struct{}

func (Bybit) Name() string { return config.VenueBybit }

func (Bybit) Caps() Caps {
	return Caps{
		SyncMode:        WsAuthoritative,
		WSSendsSnapshot: true,
	}
}

func (Bybit) WSEndpoint(cfg *config.Config) Endpoint {
	e := Endpoint{Host: "stream.bybit.com", Port: "443", Target: "/v5/public/spot"}
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

func (Bybit) RESTEndpoint(cfg *config.Config) Endpoint {
	e := Endpoint{Host: "api.bybit.com", Port: "443"}
	if cfg.Feed.RestHost != "" {
		e.Host = cfg.Feed.RestHost
	}
	if cfg.Feed.RestPort != "" {
		e.Port = cfg.Feed.RestPort
	}
	return e
}

type bybitSubscribeFrame struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func (Bybit) WSSubscribeFrame(cfg *config.Config) string {
	sym := WSSymbol(config.VenueBybit, cfg.Feed.Base, cfg.Feed.Quote)
	frame, _ := json.Marshal(bybitSubscribeFrame{
		Op:   "subscribe",
		Args: []string{fmt.Sprintf("orderbook.%d.%s", cfg.Feed.DepthLevel, sym)},
	})
	return string(frame)
}

func (Bybit) RESTSnapshotTarget(cfg *config.Config) string {
	return cfg.Feed.RestPath
}

func (Bybit) WSBootstrapTarget(*config.Config) string              { return "" }
func (Bybit) ParseWSBootstrap([]byte, string, *BootstrapInfo) bool { return false }

func looksLikeBybitOrderbook(msg []byte) bool {
	return bytes.Contains(msg, []byte(`"topic":"orderbook.`))
}

func (Bybit) IsSnapshot(msg []byte) bool {
	return looksLikeBybitOrderbook(msg) && bytes.Contains(msg, []byte(`"type":"snapshot"`))
}

func (Bybit) IsIncremental(msg []byte) bool {
	return looksLikeBybitOrderbook(msg) && bytes.Contains(msg, []byte(`"type":"delta"`))
}

func (Bybit) ParseWSSnapshot(msg []byte, out *models.Snapshot) bool {
	out.Reset()

	if typ, ok := stringAt(msg, "type"); !ok || typ != "snapshot" {
		return false
	}
	seq, ok := uintAt(msg, "data", "u")
	if !ok {
		return false
	}
	out.LastUpdateID = seq
	if !levelsAt(msg, &out.Bids, "data", "b") {
		return false
	}
	if !levelsAt(msg, &out.Asks, "data", "a") {
		return false
	}
	return true
}

func (Bybit) ParseIncremental(msg []byte, out *models.Incremental) bool {
	out.Reset()

	if typ, ok := stringAt(msg, "type"); !ok || typ != "delta" {
		return false
	}
	seq, ok := uintAt(msg, "data", "u")
	if !ok {
		return false
	}
	out.FirstSeq = seq
	out.LastSeq = seq
	if seq > 0 {
		out.PrevLast = seq - 1
	}
	if !levelsAt(msg, &out.Bids, "data", "b") {
		return false
	}
	if !levelsAt(msg, &out.Asks, "data", "a") {
		return false
	}
	return true
}

func (Bybit) ParseRESTSnapshot([]byte, *models.Snapshot) bool { return false }
