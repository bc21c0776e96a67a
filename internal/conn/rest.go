package conn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"depthflow/config"
	"depthflow/logger"
)

// ErrBusy is returned when a request is issued while another is in flight.
var ErrBusy = errors.New("conn: request already in flight")

const maxResponseBytes = 16 << 20

// Result carries a completed REST transaction. Err is set on transport
// failures and cancellation; HTTP status handling is the caller's business.
type Result struct {
	Status int
	Body   []byte
	Err    error
}

// RESTClient issues at most one HTTPS request at a time. A single deadline
// covers the whole request; keep-alive reuse is opt-in via configuration.
// Certificate and hostname verification are crypto/tls defaults.
type RESTClient struct {
	log       *logger.Entry
	client    *http.Client
	transport *http.Transport
	limiter   *rate.Limiter
	timeout   time.Duration
	keepAlive bool

	mu       sync.Mutex
	inflight bool
	cancel   context.CancelFunc
}

// NewRESTClient builds a client from the REST configuration, tuning the
// transport the same way the snapshot pollers do.
func NewRESTClient(cfg config.Rest, log *logger.Entry) *RESTClient {
	transport := &http.Transport{
		DisableKeepAlives:      !cfg.KeepAlive,
		MaxIdleConns:           2,
		MaxIdleConnsPerHost:    2,
		MaxConnsPerHost:        2,
		IdleConnTimeout:        90 * time.Second,
		TLSHandshakeTimeout:    cfg.Timeout,
		ResponseHeaderTimeout:  cfg.Timeout,
		ExpectContinueTimeout:  time.Second,
		MaxResponseHeaderBytes: 1 << 20,
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	// the outer client timeout adds the shutdown grace on top of the
	// request deadline so a hung TLS close cannot block the next request
	return &RESTClient{
		log:       log,
		client:    &http.Client{Transport: transport, Timeout: cfg.Timeout + cfg.ShutdownTimeout},
		transport: transport,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		timeout:   cfg.Timeout,
		keepAlive: cfg.KeepAlive,
	}
}

// AsyncGet issues GET https://host:port/target and delivers the result to cb
// exactly once, from a separate goroutine.
func (c *RESTClient) AsyncGet(host, port, target string, cb func(Result)) {
	c.do(http.MethodGet, host, port, target, nil, cb)
}

// AsyncPost issues POST https://host:port/target with the given body.
func (c *RESTClient) AsyncPost(host, port, target string, body []byte, cb func(Result)) {
	c.do(http.MethodPost, host, port, target, body, cb)
}

func (c *RESTClient) do(method, host, port, target string, body []byte, cb func(Result)) {
	c.mu.Lock()
	if c.inflight {
		c.mu.Unlock()
		go c.deliver(cb, Result{Err: ErrBusy})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	c.inflight = true
	c.cancel = cancel
	c.mu.Unlock()

	url := "https://" + host + ":" + port + target

	go func() {
		res := c.roundTrip(ctx, method, url, body)

		c.mu.Lock()
		c.inflight = false
		c.cancel = nil
		c.mu.Unlock()
		cancel()

		c.deliver(cb, res)
	}()
}

func (c *RESTClient) roundTrip(ctx context.Context, method, url string, body []byte) Result {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{Err: fmt.Errorf("rate limiter: %w", err)}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return Result{Err: err}
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.transport.CloseIdleConnections()
		return Result{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.transport.CloseIdleConnections()
		return Result{Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// protocol error: do not reuse the connection
		c.transport.CloseIdleConnections()
	}
	return Result{Status: resp.StatusCode, Body: data}
}

// deliver shields the client from panicking callbacks.
func (c *RESTClient) deliver(cb func(Result), res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithFields(logger.Fields{"panic": r}).Error("rest callback panicked")
		}
	}()
	cb(res)
}

// Cancel aborts the in-flight request, if any. Its callback fires with a
// context cancellation error.
func (c *RESTClient) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CloseIdle drops pooled connections; used on handler stop.
func (c *RESTClient) CloseIdle() {
	c.transport.CloseIdleConnections()
}
