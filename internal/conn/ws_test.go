package conn

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depthflow/logger"
)

func startWSServer(t *testing.T, handle func(*websocket.Conn)) (host, port string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handle(c)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return u.Hostname(), u.Port()
}

func newTestWSClient() *WSClient {
	c := NewWSClient(2*time.Second, time.Second, logger.GetLogger().WithComponent("ws_test"))
	c.dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return c
}

func TestWSSendBeforeOpenFlushesOnOpen(t *testing.T) {
	got := make(chan string, 1)
	host, port := startWSServer(t, func(c *websocket.Conn) {
		defer c.Close()
		_, msg, err := c.ReadMessage()
		if err == nil {
			got <- string(msg)
		}
		// keep reading until the client goes away
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := newTestWSClient()
	opened := make(chan struct{})
	c.OnOpen(func() { close(opened) })
	c.OnClose(func(error) {})

	c.SendText(`{"op":"subscribe"}`)
	c.Connect(host, port, "/")

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("connection never opened")
	}

	select {
	case msg := <-got:
		assert.Equal(t, `{"op":"subscribe"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("queued frame never flushed")
	}

	c.Close()
}

func TestWSDeliversMessagesInOrder(t *testing.T) {
	host, port := startWSServer(t, func(c *websocket.Conn) {
		defer c.Close()
		c.WriteMessage(websocket.TextMessage, []byte("one"))
		c.WriteMessage(websocket.TextMessage, []byte("two"))
		time.Sleep(100 * time.Millisecond)
	})

	c := newTestWSClient()
	msgs := make(chan string, 4)
	c.OnRawMessage(func(msg []byte, recv time.Time) {
		assert.False(t, recv.IsZero())
		msgs <- string(msg)
	})
	closed := make(chan struct{})
	c.OnClose(func(error) { close(closed) })

	c.Connect(host, port, "/")

	assert.Equal(t, "one", <-msgs)
	assert.Equal(t, "two", <-msgs)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close never observed")
	}
}

func TestWSOnCloseFiresExactlyOnce(t *testing.T) {
	host, port := startWSServer(t, func(c *websocket.Conn) {
		c.Close()
	})

	c := newTestWSClient()
	var closes atomic.Int32
	done := make(chan struct{}, 1)
	c.OnClose(func(error) {
		closes.Add(1)
		done <- struct{}{}
	})

	c.Connect(host, port, "/")
	<-done

	// re-closing is a no-op
	c.Close()
	c.Cancel()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), closes.Load())
}

func TestWSDialFailureReportsClose(t *testing.T) {
	c := newTestWSClient()
	c.dialer.HandshakeTimeout = 200 * time.Millisecond

	errs := make(chan error, 1)
	c.OnClose(func(err error) { errs <- err })

	// nothing listens on this port
	c.Connect("127.0.0.1", "1", "/")

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dial failure never reported")
	}
}

func TestWSCancelReportsErrCanceled(t *testing.T) {
	host, port := startWSServer(t, func(c *websocket.Conn) {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := newTestWSClient()
	opened := make(chan struct{})
	errs := make(chan error, 2)
	c.OnOpen(func() { close(opened) })
	c.OnClose(func(err error) { errs <- err })

	c.Connect(host, port, "/")
	<-opened
	c.Cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrCanceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel never reported")
	}
}
