package venue

import (
	"bytes"
	"encoding/json"
	"fmt"

	"depthflow/config"
	"depthflow/models"
)

// Binance spot depth: REST snapshot anchored, diff-depth WS stream with
// U/u/pu sequence fields, no checksum.
type Binance struct{}

func (Binance) Name() string { return config.VenueBinance }

func (Binance) Caps() Caps {
	return Caps{SyncMode: RestAnchored}
}

func (Binance) WSEndpoint(cfg *config.Config) Endpoint {
	e := Endpoint{
		Host: "stream.binance.com",
		// classic stream endpoint; :443 works on some setups but 9443 is
		// the documented port for stream.binance.com
		Port: "9443",
	}
	if cfg.Feed.WSHost != "" {
		e.Host = cfg.Feed.WSHost
	}
	if cfg.Feed.WSPort != "" {
		e.Port = cfg.Feed.WSPort
	}
	if cfg.Feed.WSPath != "" {
		e.Target = cfg.Feed.WSPath
	} else {
		sym := WSSymbol(config.VenueBinance, cfg.Feed.Base, cfg.Feed.Quote)
		e.Target = "/ws/" + sym + "@depth@100ms"
	}
	return e
}

func (Binance) RESTEndpoint(cfg *config.Config) Endpoint {
	e := Endpoint{Host: "api.binance.com", Port: "443"}
	if cfg.Feed.RestHost != "" {
		e.Host = cfg.Feed.RestHost
	}
	if cfg.Feed.RestPort != "" {
		e.Port = cfg.Feed.RestPort
	}
	return e
}

func (Binance) WSSubscribeFrame(*config.Config) string {
	// the stream topic is encoded in the WS path
	return ""
}

func (Binance) RESTSnapshotTarget(cfg *config.Config) string {
	if cfg.Feed.RestPath != "" {
		return cfg.Feed.RestPath
	}
	sym := RESTSymbol(config.VenueBinance, cfg.Feed.Base, cfg.Feed.Quote)
	return fmt.Sprintf("/api/v3/depth?symbol=%s&limit=%d", sym, cfg.Feed.DepthLevel)
}

func (Binance) WSBootstrapTarget(*config.Config) string              { return "" }
func (Binance) ParseWSBootstrap([]byte, string, *BootstrapInfo) bool { return false }

func (Binance) IsIncremental(msg []byte) bool {
	return bytes.Contains(msg, []byte("depthUpdate"))
}

func (Binance) IsSnapshot([]byte) bool { return false }

func (Binance) ParseIncremental(msg []byte, out *models.Incremental) bool {
	out.Reset()

	if ev, ok := stringAt(msg, "e"); !ok || ev != "depthUpdate" {
		return false
	}

	first, ok := uintAt(msg, "U")
	if !ok {
		return false
	}
	last, ok := uintAt(msg, "u")
	if !ok {
		return false
	}
	out.FirstSeq = first
	out.LastSeq = last
	if prev, ok := uintAt(msg, "pu"); ok {
		out.PrevLast = prev
	} else if last > 0 {
		out.PrevLast = last - 1
	}

	if !levelsAt(msg, &out.Bids, "b") || !levelsAt(msg, &out.Asks, "a") {
		return false
	}
	return true
}

func (Binance) ParseWSSnapshot([]byte, *models.Snapshot) bool { return false }

// binanceDepthResponse mirrors GET /api/v3/depth.
type binanceDepthResponse struct {
	LastUpdateID uint64      `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

func (Binance) ParseRESTSnapshot(body []byte, out *models.Snapshot) bool {
	out.Reset()

	var resp binanceDepthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false
	}
	if resp.LastUpdateID == 0 {
		return false
	}
	out.LastUpdateID = resp.LastUpdateID

	for _, row := range resp.Bids {
		lvl, err := models.NewLevel(row[0], row[1])
		if err != nil {
			return false
		}
		out.Bids = append(out.Bids, lvl)
	}
	for _, row := range resp.Asks {
		lvl, err := models.NewLevel(row[0], row[1])
		if err != nil {
			return false
		}
		out.Asks = append(out.Asks, lvl)
	}
	return true
}
