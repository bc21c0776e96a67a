// Package conn provides the transport clients: a WebSocket actor owning one
// connection and an async one-request-at-a-time REST client.
package conn

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"depthflow/logger"
)

// ErrCanceled is delivered to OnClose when the connection was torn down by
// Cancel rather than by the peer or the network.
var ErrCanceled = errors.New("conn: canceled")

const outboundQueueSize = 64

// WSClient drives one WebSocket connection: resolve → TCP → TLS (SNI and
// hostname verification are crypto/tls defaults) → upgrade → read loop.
// Outbound frames go through a FIFO drained by a single writer goroutine;
// SendText before the connection opens enqueues and flushes on open.
// OnClose fires exactly once per client instance.
type WSClient struct {
	log *logger.Entry

	dialer       websocket.Dialer
	writeTimeout time.Duration
	pingInterval time.Duration

	onOpen    func()
	onMessage func(msg []byte, recv time.Time)
	onClose   func(err error)

	mu      sync.Mutex
	conn    *websocket.Conn
	opened  bool
	pending []string

	out       chan string
	done      chan struct{}
	closeOnce sync.Once
	doneOnce  sync.Once
}

// NewWSClient creates a client for a single connection attempt. The feed
// handler creates a fresh instance per (re)connect.
func NewWSClient(connectTimeout, writeTimeout time.Duration, log *logger.Entry) *WSClient {
	return &WSClient{
		log:          log,
		dialer:       websocket.Dialer{HandshakeTimeout: connectTimeout},
		writeTimeout: writeTimeout,
		out:          make(chan string, outboundQueueSize),
		done:         make(chan struct{}),
	}
}

// SetIdlePing enables periodic WS ping control frames. Zero disables them.
func (c *WSClient) SetIdlePing(d time.Duration) { c.pingInterval = d }

func (c *WSClient) OnOpen(fn func())                        { c.onOpen = fn }
func (c *WSClient) OnRawMessage(fn func([]byte, time.Time)) { c.onMessage = fn }
func (c *WSClient) OnClose(fn func(err error))              { c.onClose = fn }

// Connect dials wss://host:port/target asynchronously. On success the
// OnOpen handler runs after queued frames were scheduled; on failure
// OnClose fires with the dial error.
func (c *WSClient) Connect(host, port, target string) {
	url := "wss://" + host + ":" + port + target
	go func() {
		conn, _, err := c.dialer.Dial(url, nil)
		if err != nil {
			c.fireClose(err)
			return
		}

		select {
		case <-c.done:
			// canceled while dialing; OnClose already fired
			conn.Close()
			return
		default:
		}

		c.mu.Lock()
		c.conn = conn
		c.opened = true
		queued := c.pending
		c.pending = nil
		c.mu.Unlock()

		for _, frame := range queued {
			c.enqueue(frame)
		}

		go c.writeLoop(conn)
		go c.readLoop(conn)

		if c.onOpen != nil {
			c.onOpen()
		}
	}()
}

// SendText queues a text frame. Legal before open.
func (c *WSClient) SendText(s string) {
	c.mu.Lock()
	if !c.opened {
		c.pending = append(c.pending, s)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.enqueue(s)
}

func (c *WSClient) enqueue(s string) {
	select {
	case c.out <- s:
	default:
		c.log.Warn("outbound queue full, dropping frame")
	}
}

// Close performs a graceful shutdown: WS close frame, then socket close.
// Idempotent; a second call is a no-op.
func (c *WSClient) Close() { c.shutdown(true, nil) }

// Cancel hard-closes the connection without a close handshake.
func (c *WSClient) Cancel() { c.shutdown(false, ErrCanceled) }

func (c *WSClient) shutdown(graceful bool, cause error) {
	c.doneOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if graceful {
			deadline := time.Now().Add(c.writeTimeout)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		} else {
			// claim the close-once before the read loop observes the
			// dying socket, so the cause is reported as cancellation
			c.fireClose(cause)
		}
		conn.Close()
		return
	}
	c.fireClose(cause)
}

func (c *WSClient) writeLoop(conn *websocket.Conn) {
	var ping *time.Ticker
	var pingC <-chan time.Time
	if c.pingInterval > 0 {
		ping = time.NewTicker(c.pingInterval)
		pingC = ping.C
		defer ping.Stop()
	}

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.out:
			conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				conn.Close()
				return
			}
		case <-pingC:
			deadline := time.Now().Add(c.writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.fireClose(err)
			return
		}
		if c.onMessage != nil {
			c.onMessage(msg, time.Now())
		}
	}
}

func (c *WSClient) fireClose(err error) {
	c.closeOnce.Do(func() {
		c.doneOnce.Do(func() { close(c.done) })
		if c.onClose != nil {
			c.onClose(err)
		}
	})
}
