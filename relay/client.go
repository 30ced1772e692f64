package relay

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"go.viam.com/forcegrip/logging"
	"go.viam.com/forcegrip/utils"
)

// ClientStats counts client traffic since it started.
type ClientStats struct {
	Connects        uint64
	Sent            uint64
	Received        uint64
	DroppedInbound  uint64
	DroppedOutbound uint64
}

// Client keeps a connection to a relay alive. Callers never block on the network: Send enqueues
// into a bounded queue and Inbound is a bounded queue filled by the reader. When either queue is
// full its oldest frame is dropped.
type Client struct {
	cfg    ClientConfig
	logger logging.Logger
	dialer *websocket.Dialer

	inbound  *utils.DropOldestQueue[[]byte]
	outbound *utils.DropOldestQueue[[]byte]
	workers  *utils.StoppableWorkers

	connected atomic.Bool
	connects  atomic.Uint64
	sent      atomic.Uint64
	received  atomic.Uint64
}

// NewClient validates cfg and returns a client that is not yet connected.
func NewClient(cfg ClientConfig, logger logging.Logger) (*Client, error) {
	if err := cfg.Validate("client"); err != nil {
		return nil, err
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: millisOr(cfg.DialTimeoutMs, DefaultDialTimeout),
		},
		inbound:  utils.NewDropOldestQueue[[]byte](cfg.QueueSize),
		outbound: utils.NewDropOldestQueue[[]byte](cfg.QueueSize),
	}, nil
}

// Start connects in the background and reconnects until ctx is done or Close is called.
func (c *Client) Start(ctx context.Context) {
	c.workers = utils.NewStoppableWorkers(ctx, c.run)
}

// Close disconnects and waits for the background goroutines to return.
func (c *Client) Close() error {
	if c.workers != nil {
		c.workers.Stop()
	}
	return nil
}

// Send queues msg for the relay. Frames queued during a previous connection are discarded when
// the client reconnects.
func (c *Client) Send(msg []byte) {
	if c.outbound.Push(append([]byte(nil), msg...)) {
		c.logger.Debugw("outbound queue full, dropped oldest frame")
	}
}

// Inbound returns the frames received from the relay.
func (c *Client) Inbound() <-chan []byte {
	return c.inbound.C()
}

// Connected reports whether a relay connection is currently up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Stats returns traffic counters.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Connects:        c.connects.Load(),
		Sent:            c.sent.Load(),
		Received:        c.received.Load(),
		DroppedInbound:  c.inbound.Dropped(),
		DroppedOutbound: c.outbound.Dropped(),
	}
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = millisOr(c.cfg.InitialRetryMs, DefaultInitialRetry)
	bo.MaxInterval = millisOr(c.cfg.MaxRetryMs, DefaultMaxRetry)
	// Never give up; only shutdown stops the retries.
	bo.MaxElapsedTime = 0
	return backoff.WithContext(bo, ctx)
}

func (c *Client) run(ctx context.Context) {
	stable := millisOr(c.cfg.StableConnectionMs, DefaultStableConn)
	// flap spans connections, so a relay that accepts and immediately drops is not redialed in a
	// tight loop.
	flap := c.newBackOff(ctx)
	for ctx.Err() == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			return
		}
		started := time.Now()
		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warnw("relay connection lost", "url", c.cfg.URL, "error", err)
		if time.Since(started) >= stable {
			flap.Reset()
			continue
		}
		wait := flap.NextBackOff()
		if wait == backoff.Stop || !goutils.SelectContextOrWait(ctx, wait) {
			return
		}
	}
}

// dial retries until a connection is made. It only fails once ctx is done.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := backoff.RetryNotify(
		func() error {
			var err error
			//nolint:bodyclose
			conn, _, err = c.dialer.DialContext(ctx, c.cfg.URL, nil)
			return err
		},
		c.newBackOff(ctx),
		func(err error, next time.Duration) {
			c.logger.Warnw("relay unreachable, retrying", "url", c.cfg.URL, "error", err, "retry_in", next)
		},
	)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	if c.connects.Inc() > 1 {
		if n := c.outbound.Drain(); n > 0 {
			c.logger.Infow("discarded frames queued while disconnected", "count", n)
		}
	}
	c.logger.Infow("connected to relay", "url", c.cfg.URL)
	c.connected.Store(true)
	defer c.connected.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		//nolint:errcheck
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		//nolint:errcheck
		conn.Close()
		return nil
	})
	g.Go(func() error {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return errors.Wrap(err, "read")
			}
			c.received.Inc()
			if c.inbound.Push(data) {
				c.logger.Debugw("inbound queue full, dropped oldest frame")
			}
		}
	})
	g.Go(func() error {
		writeTimeout := millisOr(c.cfg.WriteTimeoutMs, DefaultWriteTimeout)
		for {
			select {
			case <-gctx.Done():
				return nil
			case msg := <-c.outbound.C():
				if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
					return errors.Wrap(err, "write")
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return errors.Wrap(err, "write")
				}
				c.sent.Inc()
			}
		}
	})
	return g.Wait()
}
