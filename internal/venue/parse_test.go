package venue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depthflow/models"
)

const binanceInc = `{"e":"depthUpdate","E":1700000000000,"s":"BTCUSDT",` +
	`"U":100,"u":105,"pu":99,` +
	`"b":[["60000.00","1.0"],["59999.50","0"]],"a":[["60010.00","2.5"]]}`

const binanceSnap = `{"lastUpdateId":107,` +
	`"bids":[["60000.00","1.0"]],"asks":[["60010.00","1.0"]]}`

const okxSnap = `{"arg":{"channel":"books","instId":"BTC-USDT"},"action":"snapshot",` +
	`"data":[{"bids":[["50000","1.0","0","1"]],"asks":[["50010","1.0","0","1"]],` +
	`"ts":"1700000000000","seqId":1000,"prevSeqId":-1,"checksum":-855196043}]}`

const okxInc = `{"arg":{"channel":"books","instId":"BTC-USDT"},"action":"update",` +
	`"data":[{"bids":[["50000","0","0","0"]],"asks":[],` +
	`"ts":"1700000000100","seqId":1001,"prevSeqId":1000,"checksum":123456}]}`

const bitgetSnap = `{"action":"snapshot","arg":{"instType":"SPOT","channel":"books","instId":"BTCUSDT"},` +
	`"data":[{"asks":[["26349.5","0.05"]],"bids":[["26348.0","0.1"]],` +
	`"checksum":-1177046211,"seq":4234234,"ts":"1700000000000"}]}`

const bitgetInc = `{"action":"update","arg":{"instType":"SPOT","channel":"books","instId":"BTCUSDT"},` +
	`"data":[{"asks":[["26350.0","0"]],"bids":[],"checksum":77,"seq":4234235,"ts":"1700000000100"}]}`

const bybitSnap = `{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1700000000000,` +
	`"data":{"s":"BTCUSDT","b":[["30247.2","30.028"]],"a":[["30248.7","0.02"]],"u":177400507,"seq":7723521486}}`

const bybitInc = `{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1700000000100,` +
	`"data":{"s":"BTCUSDT","b":[["30247.2","0"]],"a":[],"u":177400508,"seq":7723521487}}`

const kucoinInc = `{"type":"message","topic":"/market/level2:BTC-USDT","subject":"trade.l2update",` +
	`"data":{"changes":{"asks":[["18906","0.00331","14103845"]],"bids":[["18905.5","0.58","14103844"]]},` +
	`"sequenceEnd":14103845,"sequenceStart":14103844,"symbol":"BTC-USDT","time":1663747970273}}`

const kucoinSnap = `{"code":"200000","data":{"time":1663747970273,"sequence":"14103845",` +
	`"bids":[["18905.5","0.58"]],"asks":[["18906","0.00331"]]}}`

func TestBinanceClassifyAndParse(t *testing.T) {
	b := Binance{}
	assert.True(t, b.IsIncremental([]byte(binanceInc)))
	assert.False(t, b.IsIncremental([]byte(`{"result":null,"id":1}`)))
	assert.False(t, b.IsSnapshot([]byte(binanceInc)))

	var inc models.Incremental
	require.True(t, b.ParseIncremental([]byte(binanceInc), &inc))
	assert.Equal(t, uint64(100), inc.FirstSeq)
	assert.Equal(t, uint64(105), inc.LastSeq)
	assert.Equal(t, uint64(99), inc.PrevLast)
	require.Len(t, inc.Bids, 2)
	assert.Equal(t, "60000.00", inc.Bids[0].Price)
	assert.True(t, inc.Bids[1].Empty())
	require.Len(t, inc.Asks, 1)

	var snap models.Snapshot
	require.True(t, b.ParseRESTSnapshot([]byte(binanceSnap), &snap))
	assert.Equal(t, uint64(107), snap.LastUpdateID)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, int64(6000000), snap.Bids[0].PriceTicks)
}

func TestBinanceParseMalformed(t *testing.T) {
	b := Binance{}
	var inc models.Incremental
	assert.False(t, b.ParseIncremental([]byte(`{"e":"depthUpdate"`), &inc))
	assert.False(t, b.ParseIncremental([]byte(`{"e":"trade","U":1,"u":2}`), &inc))
	var snap models.Snapshot
	assert.False(t, b.ParseRESTSnapshot([]byte(`not json`), &snap))
	assert.False(t, b.ParseRESTSnapshot([]byte(`{"bids":[]}`), &snap))
}

func TestOKXClassifyAndParse(t *testing.T) {
	o := OKX{}
	assert.True(t, o.IsSnapshot([]byte(okxSnap)))
	assert.False(t, o.IsIncremental([]byte(okxSnap)))
	assert.True(t, o.IsIncremental([]byte(okxInc)))
	assert.False(t, o.IsSnapshot([]byte(`{"event":"subscribe","arg":{"channel":"books"}}`)))

	var snap models.Snapshot
	require.True(t, o.ParseWSSnapshot([]byte(okxSnap), &snap))
	assert.Equal(t, uint64(1000), snap.LastUpdateID)
	assert.Equal(t, int64(-855196043), snap.Checksum)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, "50000", snap.Bids[0].Price)

	var inc models.Incremental
	require.True(t, o.ParseIncremental([]byte(okxInc), &inc))
	assert.Equal(t, uint64(1000), inc.PrevLast)
	assert.Equal(t, uint64(1001), inc.FirstSeq)
	assert.Equal(t, uint64(1001), inc.LastSeq)
	assert.Equal(t, int64(123456), inc.Checksum)
	require.Len(t, inc.Bids, 1)
	assert.True(t, inc.Bids[0].Empty())
	assert.Empty(t, inc.Asks)
}

func TestBitgetClassifyAndParse(t *testing.T) {
	bg := Bitget{}
	assert.True(t, bg.IsSnapshot([]byte(bitgetSnap)))
	assert.True(t, bg.IsIncremental([]byte(bitgetInc)))

	var snap models.Snapshot
	require.True(t, bg.ParseWSSnapshot([]byte(bitgetSnap), &snap))
	assert.Equal(t, uint64(4234234), snap.LastUpdateID)
	assert.Equal(t, int64(-1177046211), snap.Checksum)

	var inc models.Incremental
	require.True(t, bg.ParseIncremental([]byte(bitgetInc), &inc))
	assert.Equal(t, uint64(4234235), inc.FirstSeq)
	assert.Equal(t, uint64(4234235), inc.LastSeq)
	assert.Equal(t, uint64(4234234), inc.PrevLast)
	require.Len(t, inc.Asks, 1)
	assert.True(t, inc.Asks[0].Empty())
}

func TestBybitClassifyAndParse(t *testing.T) {
	by := Bybit{}
	assert.True(t, by.IsSnapshot([]byte(bybitSnap)))
	assert.True(t, by.IsIncremental([]byte(bybitInc)))
	assert.False(t, by.IsIncremental([]byte(`{"op":"pong"}`)))

	var snap models.Snapshot
	require.True(t, by.ParseWSSnapshot([]byte(bybitSnap), &snap))
	assert.Equal(t, uint64(177400507), snap.LastUpdateID)
	require.Len(t, snap.Bids, 1)

	var inc models.Incremental
	require.True(t, by.ParseIncremental([]byte(bybitInc), &inc))
	assert.Equal(t, uint64(177400508), inc.LastSeq)
	assert.Equal(t, uint64(177400507), inc.PrevLast)
}

func TestKucoinClassifyAndParse(t *testing.T) {
	k := Kucoin{}
	assert.True(t, k.IsIncremental([]byte(kucoinInc)))
	assert.False(t, k.IsIncremental([]byte(`{"type":"welcome","id":"x"}`)))

	var inc models.Incremental
	require.True(t, k.ParseIncremental([]byte(kucoinInc), &inc))
	assert.Equal(t, uint64(14103844), inc.FirstSeq)
	assert.Equal(t, uint64(14103845), inc.LastSeq)
	assert.Equal(t, uint64(14103843), inc.PrevLast)
	require.Len(t, inc.Bids, 1)
	require.Len(t, inc.Asks, 1)

	var snap models.Snapshot
	require.True(t, k.ParseRESTSnapshot([]byte(kucoinSnap), &snap))
	assert.Equal(t, uint64(14103845), snap.LastUpdateID)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, "18905.5", snap.Bids[0].Price)
}

func TestKucoinBootstrapParse(t *testing.T) {
	k := Kucoin{}
	body := `{"code":"200000","data":{"token":"T",` +
		`"instanceServers":[{"endpoint":"wss://ws-api-spot.kucoin.com/",` +
		`"encrypt":true,"protocol":"websocket","pingInterval":18000,"pingTimeout":10000}]}}`

	var info BootstrapInfo
	require.True(t, k.ParseWSBootstrap([]byte(body), "1700000000000", &info))
	assert.Equal(t, "ws-api-spot.kucoin.com", info.WS.Host)
	assert.Equal(t, "443", info.WS.Port)
	assert.Equal(t, "/?token=T&connectId=1700000000000", info.WS.Target)
	assert.Equal(t, "18s", info.PingInterval.String())
	assert.Equal(t, "10s", info.PingTimeout.String())
}

func TestKucoinBootstrapMalformed(t *testing.T) {
	k := Kucoin{}
	var info BootstrapInfo
	assert.False(t, k.ParseWSBootstrap([]byte(`{}`), "1", &info))
	assert.False(t, k.ParseWSBootstrap([]byte(`{"data":{"token":"T","instanceServers":[]}}`), "1", &info))
	assert.False(t, k.ParseWSBootstrap([]byte(`{"data":{"token":"T","instanceServers":[{"endpoint":"http://x"}]}}`), "1", &info))
	assert.False(t, k.ParseWSBootstrap([]byte(`garbage`), "1", &info))
}

func TestSplitWssEndpoint(t *testing.T) {
	host, port, path, ok := splitWssEndpoint("wss://ws.example.com:8443/endpoint")
	require.True(t, ok)
	assert.Equal(t, "ws.example.com", host)
	assert.Equal(t, "8443", port)
	assert.Equal(t, "/endpoint", path)

	host, port, path, ok = splitWssEndpoint("wss://ws.example.com")
	require.True(t, ok)
	assert.Equal(t, "443", port)
	assert.Equal(t, "/", path)

	_, _, _, ok = splitWssEndpoint("ws://plain")
	assert.False(t, ok)
}

func TestParsersNeverPanicOnControlFrames(t *testing.T) {
	frames := [][]byte{
		[]byte(`{"id":"1","type":"ack"}`),
		[]byte(`{"event":"subscribe"}`),
		[]byte(`ping`),
		[]byte(``),
		[]byte(`{"data":[{}]}`),
	}
	adapters := []Adapter{Binance{}, OKX{}, Bybit{}, Bitget{}, Kucoin{}}
	for _, a := range adapters {
		for _, f := range frames {
			var inc models.Incremental
			var snap models.Snapshot
			assert.NotPanics(t, func() {
				a.IsIncremental(f)
				a.IsSnapshot(f)
				a.ParseIncremental(f, &inc)
				a.ParseWSSnapshot(f, &snap)
				a.ParseRESTSnapshot(f, &snap)
			})
		}
	}
}
