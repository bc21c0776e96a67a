package venue

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"depthflow/config"
	"depthflow/models"
)

// KuCoin spot level2: REST snapshot anchored with a bullet-public token
// bootstrap before the WS connect. Partial REST snapshots may legally trail
// the first l2update, so sequence gaps are tolerated by jumping forward.
type Kucoin struct{}

func (Kucoin) Name() string { return config.VenueKucoin }

func (Kucoin) Caps() Caps {
	return Caps{
		SyncMode:            RestAnchored,
		RequiresWSBootstrap: true,
		AllowSeqGap:         true,
	}
}

func (Kucoin) WSEndpoint(cfg *config.Config) Endpoint {
	// placeholder until the bullet-public bootstrap resolves the real
	// endpoint (token + connectId in the query string)
	e := Endpoint{Host: "ws-api-spot.kucoin.com", Port: "443", Target: "/"}
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

func (Kucoin) RESTEndpoint(cfg *config.Config) Endpoint {
	e := Endpoint{Host: "api.kucoin.com", Port: "443"}
	if cfg.Feed.RestHost != "" {
		e.Host = cfg.Feed.RestHost
	}
	if cfg.Feed.RestPort != "" {
		e.Port = cfg.Feed.RestPort
	}
	return e
}

type kucoinSubscribeFrame struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Topic          string `json:"topic"`
	PrivateChannel bool   `json:"privateChannel"`
	Response       bool   `json:"response"`
}

func (Kucoin) WSSubscribeFrame(cfg *config.Config) string {
	sym := WSSymbol(config.VenueKucoin, cfg.Feed.Base, cfg.Feed.Quote)
	frame, _ := json.Marshal(kucoinSubscribeFrame{
		ID:       "1",
		Type:     "subscribe",
		Topic:    "/market/level2:" + sym,
		Response: true,
	})
	return string(frame)
}

func (Kucoin) RESTSnapshotTarget(cfg *config.Config) string {
	if cfg.Feed.RestPath != "" {
		return cfg.Feed.RestPath
	}
	sym := RESTSymbol(config.VenueKucoin, cfg.Feed.Base, cfg.Feed.Quote)
	// public REST offers only the 20/100-level part orderbook
	size := "100"
	if cfg.Feed.DepthLevel <= 20 {
		size = "20"
	}
	return "/api/v1/market/orderbook/level2_" + size + "?symbol=" + sym
}

func (Kucoin) WSBootstrapTarget(*config.Config) string {
	return "/api/v1/bullet-public"
}

type kucoinBulletResponse struct {
	Data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint     string `json:"endpoint"`
			PingInterval int    `json:"pingInterval"`
			PingTimeout  int    `json:"pingTimeout"`
		} `json:"instanceServers"`
	} `json:"data"`
}

func (Kucoin) ParseWSBootstrap(body []byte, connectID string, out *BootstrapInfo) bool {
	*out = BootstrapInfo{}

	var resp kucoinBulletResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false
	}
	if resp.Data.Token == "" || len(resp.Data.InstanceServers) == 0 {
		return false
	}
	srv := resp.Data.InstanceServers[0]

	host, port, path, ok := splitWssEndpoint(srv.Endpoint)
	if !ok {
		return false
	}

	target := path
	if strings.Contains(target, "?") {
		target += "&"
	} else {
		target += "?"
	}
	target += "token=" + resp.Data.Token + "&connectId=" + connectID

	out.WS = Endpoint{Host: host, Port: port, Target: target}
	out.PingInterval = time.Duration(srv.PingInterval) * time.Millisecond
	out.PingTimeout = time.Duration(srv.PingTimeout) * time.Millisecond
	return true
}

// splitWssEndpoint splits "wss://host[:port][/path]" into its parts.
func splitWssEndpoint(endpoint string) (host, port, path string, ok bool) {
	const prefix = "wss://"
	if !strings.HasPrefix(endpoint, prefix) {
		return "", "", "", false
	}
	rest := endpoint[len(prefix):]

	path = "/"
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		path = rest[slash:]
		rest = rest[:slash]
	}

	host = rest
	port = "443"
	if colon := strings.IndexByte(rest, ':'); colon >= 0 {
		host = rest[:colon]
		if p := rest[colon+1:]; p != "" {
			port = p
		}
	}
	return host, port, path, host != ""
}

func (Kucoin) IsIncremental(msg []byte) bool {
	return bytes.Contains(msg, []byte(`"type":"message"`)) &&
		bytes.Contains(msg, []byte(`"subject":"trade.l2update"`)) &&
		bytes.Contains(msg, []byte(`"/market/level2:`))
}

func (Kucoin) IsSnapshot([]byte) bool { return false }

func (Kucoin) ParseIncremental(msg []byte, out *models.Incremental) bool {
	out.Reset()

	if typ, ok := stringAt(msg, "type"); !ok || typ != "message" {
		return false
	}
	if subject, ok := stringAt(msg, "subject"); !ok || subject != "trade.l2update" {
		return false
	}

	first, ok := uintAt(msg, "data", "sequenceStart")
	if !ok {
		return false
	}
	last, ok := uintAt(msg, "data", "sequenceEnd")
	if !ok {
		return false
	}
	out.FirstSeq = first
	out.LastSeq = last
	if first > 0 {
		out.PrevLast = first - 1
	}

	if !levelsAt(msg, &out.Bids, "data", "changes", "bids") {
		return false
	}
	if !levelsAt(msg, &out.Asks, "data", "changes", "asks") {
		return false
	}
	return true
}

func (Kucoin) ParseWSSnapshot([]byte, *models.Snapshot) bool { return false }

type kucoinLevel2Response struct {
	Data struct {
		Sequence string      `json:"sequence"`
		Bids     [][2]string `json:"bids"`
		Asks     [][2]string `json:"asks"`
	} `json:"data"`
}

func (Kucoin) ParseRESTSnapshot(body []byte, out *models.Snapshot) bool {
	out.Reset()

	// data.sequence is commonly a string; fall back to the flexible reader
	seq, ok := uintAt(body, "data", "sequence")
	if !ok {
		return false
	}
	out.LastUpdateID = seq

	var resp kucoinLevel2Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return false
	}
	for _, row := range resp.Data.Bids {
		lvl, err := models.NewLevel(row[0], row[1])
		if err != nil {
			return false
		}
		out.Bids = append(out.Bids, lvl)
	}
	for _, row := range resp.Data.Asks {
		lvl, err := models.NewLevel(row[0], row[1])
		if err != nil {
			return false
		}
		out.Asks = append(out.Asks, lvl)
	}
	return true
}
