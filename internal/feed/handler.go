// Package feed orchestrates the lifecycle of one (venue, pair) depth feed:
// connection establishment, snapshot acquisition, buffering during wait
// states, bridging, and bounded self-healing resynchronisation.
package feed

import (
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"depthflow/config"
	"depthflow/internal/book"
	"depthflow/internal/conn"
	"depthflow/internal/metrics"
	"depthflow/internal/sink"
	"depthflow/internal/venue"
	"depthflow/logger"
	"depthflow/models"
)

// wsConn is what the handler needs from a WebSocket client.
type wsConn interface {
	SetIdlePing(time.Duration)
	OnOpen(func())
	OnRawMessage(func([]byte, time.Time))
	OnClose(func(error))
	Connect(host, port, target string)
	SendText(string)
	Close()
	Cancel()
}

// restDoer is what the handler needs from a REST client.
type restDoer interface {
	AsyncGet(host, port, target string, cb func(conn.Result))
	AsyncPost(host, port, target string, body []byte, cb func(conn.Result))
	Cancel()
	CloseIdle()
}

// resolved is the cold-path runtime: everything derived from configuration
// once at init so the hot path never re-reads it.
type resolved struct {
	ws             venue.Endpoint
	rest           venue.Endpoint
	subscribeFrame string
	snapshotTarget string
	pingInterval   time.Duration
}

// Handler owns one stream, one controller and one buffer. Every state
// transition and data-structure mutation runs on its reactor goroutine;
// transport callbacks post closures onto it.
type Handler struct {
	cfg     *config.Config
	log     *logger.Entry
	adapter venue.Adapter
	caps    venue.Caps

	ctrl *book.Controller
	snk  sink.Sink
	m    *metrics.Collector

	rt resolved

	newWS   func() wsConn
	newRest func() restDoer

	rest restDoer

	connMu sync.Mutex
	ws     wsConn

	events chan func()
	done   chan struct{}
	wg     sync.WaitGroup

	running  atomic.Bool
	stopOnce sync.Once

	state          syncState
	buffer         *msgBuffer
	connectID      string
	wsGen          uint64
	reconnectGen   uint64
	attempts       int
	dropsInLineage bool

	statusMu sync.RWMutex
	status   Status

	// hot-path scratch, reused across frames
	inc  models.Incremental
	snap models.Snapshot

	dbgIncCount uint64
	dbgRawCount uint64
}

// New resolves the cold path for the configured venue and wires the
// controller with the adapter's capability flags.
func New(cfg *config.Config, adapter venue.Adapter, snk sink.Sink, m *metrics.Collector, log *logger.Log) (*Handler, error) {
	if cfg.Feed.DepthLevel <= 0 {
		return nil, fmt.Errorf("feed: depth level must be > 0")
	}
	if snk == nil {
		snk = sink.Nop{}
	}
	if m == nil {
		m = metrics.NewCollector()
	}

	caps := adapter.Caps()

	h := &Handler{
		cfg:     cfg,
		log:     log.WithComponent("feed_handler").WithFields(logger.Fields{"venue": adapter.Name(), "symbol": cfg.Symbol()}),
		adapter: adapter,
		caps:    caps,
		ctrl:    book.NewController(cfg.Feed.DepthLevel),
		snk:     snk,
		m:       m,
		events:  make(chan func(), 1024),
		done:    make(chan struct{}),
		state:   stateDisconnected,
		buffer:  newMsgBuffer(cfg.Feed.MaxBuffer),
		status:  StatusResyncing,
	}

	if caps.HasChecksum {
		h.ctrl.ConfigureChecksum(caps.ChecksumFn, caps.ChecksumTopN)
	}
	h.ctrl.SetAllowSeqGap(caps.AllowSeqGap)
	if caps.AllowSeqGap {
		h.log.Warn("sequence gap tolerance enabled for this venue")
	}

	// resolve endpoints and prebuild frames/targets once
	h.rt.ws = adapter.WSEndpoint(cfg)
	h.rt.rest = adapter.RESTEndpoint(cfg)
	h.rt.subscribeFrame = adapter.WSSubscribeFrame(cfg)
	h.rt.snapshotTarget = adapter.RESTSnapshotTarget(cfg)
	h.rt.pingInterval = cfg.WS.PingInterval

	h.newWS = func() wsConn {
		return conn.NewWSClient(cfg.WS.ConnectTimeout, cfg.WS.WriteTimeout, h.log.WithComponent("ws_client"))
	}
	h.newRest = func() restDoer {
		return conn.NewRESTClient(cfg.Rest, h.log.WithComponent("rest_client"))
	}

	return h, nil
}

// Status reports the consumer-visible feed health.
func (h *Handler) Status() Status {
	h.statusMu.RLock()
	defer h.statusMu.RUnlock()
	return h.status
}

func (h *Handler) setStatus(s Status) {
	h.statusMu.Lock()
	h.status = s
	h.statusMu.Unlock()
}

// Controller exposes the book controller (reads are only consistent from
// the reactor; external callers use it after Stop or in tests).
func (h *Handler) Controller() *book.Controller { return h.ctrl }

// Start launches the reactor and begins connecting. Not restartable.
func (h *Handler) Start() error {
	if !h.running.CompareAndSwap(false, true) {
		return fmt.Errorf("feed: handler already started")
	}

	h.rest = h.newRest()
	h.connectID = makeConnectID()

	h.wg.Add(1)
	go h.run()

	h.post(func() {
		if h.caps.RequiresWSBootstrap {
			h.state = stateBootstrapping
			h.bootstrapWS()
			return
		}
		h.state = stateConnecting
		h.connectWS()
	})

	h.scheduleHeartbeat()
	h.scheduleBookState()

	h.log.WithFields(logger.Fields{
		"ws_host":   h.rt.ws.Host,
		"ws_target": h.rt.ws.Target,
		"depth":     h.cfg.Feed.DepthLevel,
	}).Info("feed handler started")
	return nil
}

// Stop cancels outstanding work and shuts the reactor down. Idempotent.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		h.running.Store(false)

		h.connMu.Lock()
		ws := h.ws
		h.connMu.Unlock()

		if h.rest != nil {
			h.rest.Cancel()
		}
		if ws != nil {
			ws.Close()
		}
		close(h.done)
		h.wg.Wait()
		if h.rest != nil {
			h.rest.CloseIdle()
		}

		h.buffer.clear()
		h.ctrl.Reset()
		h.state = stateDisconnected
		h.setStatus(StatusClosed)
		h.log.Info("feed handler stopped")
	})
}

// run is the reactor: the single goroutine on which every transition and
// book mutation executes.
func (h *Handler) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case fn := <-h.events:
			fn()
		}
	}
}

// post schedules fn on the reactor. Safe from any goroutine.
func (h *Handler) post(fn func()) {
	select {
	case h.events <- fn:
	case <-h.done:
	}
}

func makeConnectID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// ---- connection establishment ----

func (h *Handler) connectWS() {
	h.wsGen++
	gen := h.wsGen

	ws := h.newWS()
	ws.SetIdlePing(h.rt.pingInterval)
	ws.OnOpen(func() {
		h.post(func() {
			if gen == h.wsGen && h.running.Load() {
				h.onWSOpen()
			}
		})
	})
	ws.OnRawMessage(func(msg []byte, recv time.Time) {
		h.post(func() {
			if gen == h.wsGen && h.running.Load() {
				h.onWSMessage(msg, recv.UnixNano())
			}
		})
	})
	ws.OnClose(func(err error) {
		h.post(func() {
			if gen == h.wsGen && h.running.Load() {
				h.onWSClose(err)
			}
		})
	})

	h.connMu.Lock()
	h.ws = ws
	h.connMu.Unlock()
	ws.Connect(h.rt.ws.Host, h.rt.ws.Port, h.rt.ws.Target)
}

func (h *Handler) onWSOpen() {
	if h.rt.subscribeFrame != "" {
		h.ws.SendText(h.rt.subscribeFrame)
	}

	if h.caps.SyncMode == venue.RestAnchored {
		h.state = stateWaitRestSnapshot
		h.log.Info("ws open, requesting rest snapshot")
		h.requestSnapshot()
	} else {
		h.state = stateWaitWsSnapshot
		h.log.Info("ws open, waiting for ws snapshot")
	}
}

func (h *Handler) onWSClose(err error) {
	if err != nil && err != conn.ErrCanceled {
		h.log.WithError(err).Warn("ws closed unexpectedly")
	}
	h.restartSync()
}

// ---- bootstrap (KuCoin bullet-public pattern) ----

func (h *Handler) bootstrapWS() {
	target := h.adapter.WSBootstrapTarget(h.cfg)
	if target == "" {
		h.log.Error("venue requires ws bootstrap but adapter has no target")
		h.restartSync()
		return
	}

	gen := h.wsGen
	h.rest.AsyncPost(h.rt.rest.Host, h.rt.rest.Port, target, nil, func(res conn.Result) {
		h.post(func() {
			// a resync invalidates the generation; drop stale results
			if !h.running.Load() || gen != h.wsGen {
				return
			}
			h.onBootstrapResult(res)
		})
	})
}

func (h *Handler) onBootstrapResult(res conn.Result) {
	if res.Err != nil {
		h.log.WithError(res.Err).Warn("bootstrap request failed")
		h.restartSync()
		return
	}
	if res.Status < 200 || res.Status >= 300 {
		h.log.WithFields(logger.Fields{"status": res.Status}).Warn("bootstrap request rejected")
		h.restartSync()
		return
	}

	var info venue.BootstrapInfo
	if !h.adapter.ParseWSBootstrap(res.Body, h.connectID, &info) {
		h.log.Warn("bootstrap response unparseable")
		h.restartSync()
		return
	}

	// bootstrap overrides the resolved WS endpoint and ping cadence
	h.rt.ws = info.WS
	if info.PingInterval > 0 {
		h.rt.pingInterval = info.PingInterval
	}

	h.state = stateConnecting
	h.connectWS()
}

// ---- snapshot acquisition ----

func (h *Handler) requestSnapshot() {
	h.state = stateWaitRestSnapshot
	gen := h.wsGen
	h.rest.AsyncGet(h.rt.rest.Host, h.rt.rest.Port, h.rt.snapshotTarget, func(res conn.Result) {
		h.post(func() {
			if !h.running.Load() || gen != h.wsGen {
				return
			}
			h.onSnapshotResult(res)
		})
	})
}

func (h *Handler) onSnapshotResult(res conn.Result) {
	if res.Err != nil {
		h.log.WithError(res.Err).Warn("snapshot request failed")
		h.restartSync()
		return
	}

	if res.Status == 429 || res.Status == 418 {
		// rate-limited or temporary ban: back off without touching state
		h.log.WithFields(logger.Fields{"status": res.Status}).Warn("snapshot rate-limited, deferring retry")
		delay := h.cfg.Rest.RateLimitDelay
		gen := h.wsGen
		time.AfterFunc(delay, func() {
			h.post(func() {
				if h.running.Load() && gen == h.wsGen && h.state == stateWaitRestSnapshot {
					h.requestSnapshot()
				}
			})
		})
		return
	}

	if res.Status < 200 || res.Status >= 300 {
		h.log.WithFields(logger.Fields{"status": res.Status}).Warn("snapshot request rejected")
		h.restartSync()
		return
	}

	h.snap.Reset()
	if !h.adapter.ParseRESTSnapshot(res.Body, &h.snap) {
		h.log.Warn("snapshot body unparseable")
		h.restartSync()
		return
	}
	h.snap.TsRecvNs = time.Now().UnixNano()

	kind := book.RestAnchored
	if h.caps.SyncMode == venue.WsAuthoritative {
		kind = book.WsAuthoritative
	}
	if h.ctrl.OnSnapshot(&h.snap, kind) == book.ActionNeedResync {
		h.log.Warn("snapshot rejected by controller")
		h.restartSync()
		return
	}
	h.m.Snapshot()
	h.snk.WriteSnapshot(&h.snap, "rest")
	h.debugTraceSnapshot("rest")

	// baseline loaded; RestAnchored still has to bridge
	h.state = stateWaitBridge
	if !h.drainBuffered() {
		return
	}
	if h.ctrl.Synced() {
		h.becameSynced("post-snapshot drain")
	} else {
		h.log.WithFields(logger.Fields{"buffered": h.buffer.len()}).Debug("still waiting for bridge after drain")
	}
}

// drainBuffered re-classifies, re-parses and re-applies buffered frames in
// arrival order. Returns false when the drain triggered a resync.
func (h *Handler) drainBuffered() bool {
	for {
		f, ok := h.buffer.popFront()
		if !ok {
			return true
		}
		if !h.adapter.IsIncremental(f.raw) {
			continue
		}
		if !h.adapter.ParseIncremental(f.raw, &h.inc) {
			h.log.Debug("discarding malformed buffered frame")
			continue
		}
		h.inc.TsRecvNs = f.recvNs

		if h.applyIncrement() == book.ActionNeedResync {
			h.restartSync()
			return false
		}
	}
}

// applyIncrement passes the scratch incremental to the controller and, when
// accepted, persists and counts it.
func (h *Handler) applyIncrement() book.Action {
	before := h.ctrl.LastSeq()
	action := h.ctrl.OnIncrement(&h.inc)
	if action == book.ActionNeedResync {
		return action
	}
	if h.ctrl.LastSeq() != before || h.inc.LastSeq == 0 {
		h.m.Applied()
		h.snk.WriteIncremental(&h.inc, "ws")
		h.debugTraceIncrement()
	}
	return action
}

// ---- inbound stream ----

func (h *Handler) onWSMessage(msg []byte, recvNs int64) {
	if len(msg) == 0 {
		return
	}
	h.m.Message()
	h.debugTraceRaw(msg)

	switch h.state {
	case stateWaitRestSnapshot:
		if h.adapter.IsIncremental(msg) {
			h.bufferFrame(msg, recvNs)
		}

	case stateWaitWsSnapshot:
		if h.adapter.IsSnapshot(msg) && h.adapter.ParseWSSnapshot(msg, &h.snap) {
			h.snap.TsRecvNs = recvNs
			if h.ctrl.OnSnapshot(&h.snap, book.WsAuthoritative) == book.ActionNeedResync {
				h.log.Warn("ws snapshot rejected by controller")
				h.restartSync()
				return
			}
			h.m.Snapshot()
			h.snk.WriteSnapshot(&h.snap, "ws")
			h.debugTraceSnapshot("ws")

			// buffered frames are pre-baseline; drain them now
			h.state = stateWaitBridge
			if !h.drainBuffered() {
				return
			}
			if h.ctrl.Synced() {
				h.becameSynced("ws snapshot")
			}
			return
		}
		if h.adapter.IsIncremental(msg) {
			h.bufferFrame(msg, recvNs)
		}

	case stateWaitBridge, stateSynced:
		h.onStreamMessage(msg, recvNs)
	}
}

func (h *Handler) onStreamMessage(msg []byte, recvNs int64) {
	// venues occasionally push a fresh snapshot on internal resyncs;
	// re-baseline and discard everything buffered
	if h.caps.WSSendsSnapshot && h.adapter.IsSnapshot(msg) && h.adapter.ParseWSSnapshot(msg, &h.snap) {
		h.snap.TsRecvNs = recvNs
		if h.ctrl.OnSnapshot(&h.snap, book.WsAuthoritative) == book.ActionNeedResync {
			h.log.Warn("mid-stream snapshot rejected by controller")
			h.restartSync()
			return
		}
		h.m.Snapshot()
		h.snk.WriteSnapshot(&h.snap, "ws")
		h.debugTraceSnapshot("ws")
		h.buffer.clear()
		if h.ctrl.Synced() {
			h.becameSynced("mid-stream re-baseline")
		} else {
			h.state = stateWaitBridge
		}
		return
	}

	// RestAnchored during WAIT_BRIDGE: buffer and re-attempt the drain so
	// buffered and live frames apply through the same pipeline
	if h.caps.SyncMode == venue.RestAnchored && h.state == stateWaitBridge {
		if !h.adapter.IsIncremental(msg) {
			return
		}
		h.bufferFrame(msg, recvNs)
		if h.state != stateWaitBridge {
			// the overflow path already restarted the sync
			return
		}
		if !h.drainBuffered() {
			return
		}
		if h.ctrl.Synced() {
			h.becameSynced("bridge")
		}
		return
	}

	// steady state
	if !h.adapter.IsIncremental(msg) {
		return
	}
	if !h.adapter.ParseIncremental(msg, &h.inc) {
		h.log.Debug("discarding malformed frame")
		return
	}
	h.inc.TsRecvNs = recvNs

	if h.applyIncrement() == book.ActionNeedResync {
		h.log.WithFields(logger.Fields{
			"first_seq": h.inc.FirstSeq,
			"last_seq":  h.inc.LastSeq,
			"expected":  h.ctrl.ExpectedSeq(),
		}).Warn("controller requested resync")
		h.restartSync()
		return
	}
	if h.state == stateWaitBridge && h.ctrl.Synced() {
		h.becameSynced("bridge")
	}
}

func (h *Handler) bufferFrame(msg []byte, recvNs int64) {
	raw := make([]byte, len(msg))
	copy(raw, msg)
	if !h.buffer.push(frame{raw: raw, recvNs: recvNs}) {
		h.log.WithFields(logger.Fields{"max": h.cfg.Feed.MaxBuffer}).Warn("incremental buffer overflow")
		h.m.Drop()
		h.restartSync()
		// set after restartSync, which clears the flag for the new lineage
		h.dropsInLineage = true
		return
	}
	h.m.Buffered()
}

func (h *Handler) becameSynced(how string) {
	h.state = stateSynced
	h.attempts = 0
	if h.dropsInLineage {
		h.setStatus(StatusDegraded)
	} else {
		h.setStatus(StatusHealthy)
	}
	h.log.WithFields(logger.Fields{
		"last_seq": h.ctrl.LastSeq(),
		"via":      how,
	}).Info("book synced")
}

// ---- recovery ----

func (h *Handler) restartSync() {
	if !h.running.Load() {
		return
	}
	if h.Status() == StatusDown {
		return
	}

	h.m.Resync()
	h.setStatus(StatusResyncing)

	h.buffer.clear()
	h.ctrl.Reset()
	h.dropsInLineage = false
	h.state = stateConnecting
	h.connectID = makeConnectID()

	// invalidate callbacks of the current connection, then tear it down
	h.wsGen++
	h.connMu.Lock()
	ws := h.ws
	h.ws = nil
	h.connMu.Unlock()
	if ws != nil {
		ws.Cancel()
	}
	h.rest.Cancel()

	h.scheduleReconnect()
}

func (h *Handler) scheduleReconnect() {
	h.attempts++
	if h.cfg.Reconnect.MaxAttempts > 0 && h.attempts > h.cfg.Reconnect.MaxAttempts {
		h.state = stateDisconnected
		h.setStatus(StatusDown)
		h.log.WithFields(logger.Fields{"attempts": h.attempts - 1}).Error("reconnect budget exhausted, feed is down")
		return
	}

	delay := h.backoffDelay()
	h.m.Reconnect()

	h.reconnectGen++
	gen := h.reconnectGen

	h.log.WithFields(logger.Fields{"delay": delay.String(), "attempt": h.attempts}).Info("scheduling reconnect")

	time.AfterFunc(delay, func() {
		h.post(func() {
			if !h.running.Load() || gen != h.reconnectGen {
				return
			}
			if h.caps.RequiresWSBootstrap {
				h.state = stateBootstrapping
				h.bootstrapWS()
			} else {
				h.state = stateConnecting
				h.connectWS()
			}
		})
	})
}

// backoffDelay grows exponentially from the base delay, capped at the
// configured maximum, and picks a random delay within the upper half of it.
func (h *Handler) backoffDelay() time.Duration {
	r := h.cfg.Reconnect
	d := float64(r.BaseDelay)
	for i := 1; i < h.attempts; i++ {
		d *= r.Multiplier
		if d >= float64(r.MaxDelay) {
			d = float64(r.MaxDelay)
			break
		}
	}
	exp := time.Duration(d)
	if exp <= 0 {
		exp = r.BaseDelay
	}
	half := exp / 2
	if half <= 0 {
		return exp
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}

// ---- periodic jobs ----

func (h *Handler) scheduleHeartbeat() {
	interval := h.cfg.Feed.HeartbeatInterval
	if interval <= 0 {
		return
	}
	time.AfterFunc(interval, func() {
		if !h.running.Load() {
			return
		}
		h.post(func() {
			if !h.running.Load() {
				return
			}
			fields := logger.Fields{
				"state":    h.state.String(),
				"status":   string(h.Status()),
				"last_seq": h.ctrl.LastSeq(),
				"buffered": h.buffer.len(),
			}
			for k, v := range h.m.Values() {
				fields[k] = v
			}
			h.log.WithFields(fields).Info("heartbeat")
		})
		h.scheduleHeartbeat()
	})
}

func (h *Handler) scheduleBookState() {
	interval := h.cfg.Feed.BookStateInterval
	if interval <= 0 {
		return
	}
	time.AfterFunc(interval, func() {
		if !h.running.Load() {
			return
		}
		h.post(func() {
			if h.running.Load() && h.ctrl.Synced() {
				h.snk.WriteBookState(h.ctrl.Book(), h.ctrl.LastSeq(), h.bookStateTopN(), "book")
			}
		})
		h.scheduleBookState()
	})
}

func (h *Handler) bookStateTopN() int {
	if h.caps.ChecksumTopN > 0 {
		return h.caps.ChecksumTopN
	}
	return 25
}

// ---- debug trace ----

func (h *Handler) debugTraceRaw(msg []byte) {
	dbg := h.cfg.Debug
	if !dbg.Enabled || !dbg.Raw {
		return
	}
	h.dbgRawCount++
	if dbg.Every > 0 && h.dbgRawCount%uint64(dbg.Every) != 0 {
		return
	}
	raw := msg
	if dbg.RawMax > 0 && len(raw) > dbg.RawMax {
		raw = raw[:dbg.RawMax]
	}
	h.log.WithFields(logger.Fields{"n": h.dbgRawCount, "raw": string(raw)}).Debug("ws frame")
}

func (h *Handler) debugTraceSnapshot(source string) {
	dbg := h.cfg.Debug
	if !dbg.Enabled {
		return
	}
	fields := logger.Fields{
		"source":   source,
		"last_seq": h.ctrl.LastSeq(),
		"bids":     h.ctrl.Book().Size(models.Bid),
		"asks":     h.ctrl.Book().Size(models.Ask),
	}
	if dbg.ShowChecksum {
		fields["checksum"] = h.snap.Checksum
	}
	bids, asks := h.ctrl.Book().Bids(), h.ctrl.Book().Asks()
	for i := 0; i < dbg.TopLevels && i < len(bids); i++ {
		fields[fmt.Sprintf("bid_%d", i)] = bids[i].Price + " x " + bids[i].Quantity
	}
	for i := 0; i < dbg.TopLevels && i < len(asks); i++ {
		fields[fmt.Sprintf("ask_%d", i)] = asks[i].Price + " x " + asks[i].Quantity
	}
	h.log.WithFields(fields).Debug("snapshot applied")
}

func (h *Handler) debugTraceIncrement() {
	dbg := h.cfg.Debug
	if !dbg.Enabled {
		return
	}
	h.dbgIncCount++
	if dbg.Every > 0 && h.dbgIncCount%uint64(dbg.Every) != 0 {
		return
	}
	fields := logger.Fields{
		"n":    h.dbgIncCount,
		"bids": len(h.inc.Bids),
		"asks": len(h.inc.Asks),
	}
	if dbg.ShowSeq {
		fields["first_seq"] = h.inc.FirstSeq
		fields["last_seq"] = h.inc.LastSeq
		fields["prev_last"] = h.inc.PrevLast
	}
	if dbg.ShowChecksum {
		fields["checksum"] = h.inc.Checksum
	}
	h.log.WithFields(fields).Debug("incremental applied")
}
