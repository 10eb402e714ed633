package state

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/deepfake-detector/internal/utils"
)

const (
	defaultHealthInterval = 5 * time.Second
	defaultPingTimeout   = 2 * time.Second
)

// Connection owns the single logical link to Redis. Connection loss is
// observed by a command hook and a health monitor; it flips Connected() and
// starts a reconnect loop but is never returned from the monitor itself.
// Callers find out on their next command, which fails with CodeUnavailable.
type Connection struct {
	opts *redis.Options
	log  *logrus.Logger

	healthInterval time.Duration
	pingTimeout   time.Duration
	backoff        func(attempt int) time.Duration

	mu     sync.Mutex
	rdb    *redis.Client
	cancel context.CancelFunc
	done   chan struct{}

	connected atomic.Bool
	lost      chan struct{}
}

type ConnectionOption func(*Connection)

// WithHealthInterval sets how often the monitor pings a healthy connection.
func WithHealthInterval(d time.Duration) ConnectionOption {
	return func(c *Connection) {
		if d > 0 {
			c.healthInterval = d
		}
	}
}

func WithBackoff(fn func(attempt int) time.Duration) ConnectionOption {
	return func(c *Connection) {
		if fn != nil {
			c.backoff = fn
		}
	}
}

func NewConnection(opts *redis.Options, log *logrus.Logger, options ...ConnectionOption) *Connection {
	if log == nil {
		log = logrus.New()
	}
	c := &Connection{
		opts:           opts,
		log:            log,
		healthInterval: defaultHealthInterval,
		pingTimeout:   defaultPingTimeout,
		backoff:        Backoff,
		lost:           make(chan struct{}, 1),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Connect dials and verifies the connection. Calling it on an open
// connection is a no-op.
func (c *Connection) Connect(ctx context.Context) error {
	const op = "Connection.Connect"

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb != nil {
		return nil
	}

	rdb := redis.NewClient(c.opts)
	rdb.AddHook(livenessHook{c: c})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return utils.E(utils.CodeUnavailable, op, "redis ping failed", err)
	}

	mctx, cancel := context.WithCancel(context.Background())
	c.rdb = rdb
	c.cancel = cancel
	c.done = make(chan struct{})
	c.connected.Store(true)
	go c.monitor(mctx, rdb, c.done)

	c.log.WithField("addr", c.opts.Addr).Info("redis connected")
	return nil
}

// Disconnect stops the monitor and closes the client. Safe to call twice.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	rdb, cancel, done := c.rdb, c.cancel, c.done
	c.rdb, c.cancel, c.done = nil, nil, nil
	c.mu.Unlock()

	if rdb == nil {
		return nil
	}
	cancel()
	<-done
	c.connected.Store(false)

	err := rdb.Close()
	c.log.WithField("addr", c.opts.Addr).Info("redis disconnected")
	return err
}

func (c *Connection) Connected() bool { return c.connected.Load() }

// Client returns the live client, or CodeUnavailable while the connection is
// closed or being re-established.
func (c *Connection) Client(op string) (*redis.Client, error) {
	c.mu.Lock()
	rdb := c.rdb
	c.mu.Unlock()

	if rdb == nil || !c.connected.Load() {
		return nil, utils.E(utils.CodeUnavailable, op, "store unavailable", utils.ErrStoreUnavailable)
	}
	return rdb, nil
}

func (c *Connection) Ping(ctx context.Context) (string, error) {
	const op = "Connection.Ping"

	rdb, err := c.Client(op)
	if err != nil {
		return "", err
	}
	res, err := rdb.Ping(ctx).Result()
	return res, c.Err(op, err)
}

// Info returns the raw INFO text for the given sections (all when empty).
func (c *Connection) Info(ctx context.Context, sections ...string) (string, error) {
	const op = "Connection.Info"

	rdb, err := c.Client(op)
	if err != nil {
		return "", err
	}
	res, err := rdb.Info(ctx, sections...).Result()
	return res, c.Err(op, err)
}

// Err classifies a command error into the store error taxonomy.
func (c *Connection) Err(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return utils.E(utils.CodeTimeout, op, "store command timed out", err)
	case errors.Is(err, context.Canceled):
		return utils.E(utils.CodeTimeout, op, "store command canceled", err)
	case isConnectionError(err):
		return utils.E(utils.CodeUnavailable, op, "store unavailable", err)
	default:
		return utils.E(utils.CodeInternal, op, "store command failed", err)
	}
}

func (c *Connection) markLost(err error) {
	if c.connected.Swap(false) {
		c.log.WithError(err).Warn("redis connection lost")
	}
	select {
	case c.lost <- struct{}{}:
	default:
	}
}

func (c *Connection) monitor(ctx context.Context, rdb *redis.Client, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.lost:
			c.reconnect(ctx, rdb)
		case <-ticker.C:
			if err := c.pingWithTimeout(ctx, rdb); err != nil {
				c.markLost(err)
				continue
			}
			if !c.connected.Swap(true) {
				c.log.Info("redis connection restored")
			}
		}
	}
}

func (c *Connection) reconnect(ctx context.Context, rdb *redis.Client) {
	for attempt := 1; ; attempt++ {
		if err := c.pingWithTimeout(ctx, rdb); err == nil {
			if !c.connected.Swap(true) {
				c.log.WithField("attempts", attempt).Info("redis reconnected")
			}
			// drain the signal queued by our own failed pings
			select {
			case <-c.lost:
			default:
			}
			return
		}

		delay := c.backoff(attempt)
		c.log.WithFields(logrus.Fields{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
		}).Debug("redis reconnect failed")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Connection) pingWithTimeout(ctx context.Context, rdb *redis.Client) error {
	pctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()
	return rdb.Ping(pctx).Err()
}

func isConnectionError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, redis.TxFailedErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// livenessHook watches every dial and command for transport failures.
type livenessHook struct{ c *Connection }

func (h livenessHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if isConnectionError(err) {
			h.c.markLost(err)
		}
		return conn, err
	}
}

func (h livenessHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if isConnectionError(err) {
			h.c.markLost(err)
		}
		return err
	}
}

func (h livenessHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if isConnectionError(err) {
			h.c.markLost(err)
		}
		return err
	}
}
