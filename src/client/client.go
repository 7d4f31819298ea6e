package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"laserstream-relay/src/helpers"
	"laserstream-relay/src/logger"
	"laserstream-relay/src/metrics"
	"laserstream-relay/src/models"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// ErrClosed is returned by every call made after Close.
var ErrClosed = errors.New("client closed")

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

type Options struct {
	URL string

	AutoReconnect        bool
	MaxReconnectAttempts int // 0 = unlimited
	BaseDelay            time.Duration
	MaxDelay             time.Duration

	// Optional
	Dialer *websocket.Dialer
	Header http.Header
	Clock  clockwork.Clock
	Logger *logger.Logger
}

// DefaultOptions reconnects forever with the standard 1s..32s backoff.
func DefaultOptions(url string) Options {
	return Options{
		URL:           url,
		AutoReconnect: true,
		BaseDelay:     helpers.DefaultBaseDelay,
		MaxDelay:      helpers.DefaultMaxDelay,
	}
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// Client is a consumer of a relay's streaming surface. Receive must be called
// from a single goroutine; Send, Subscribe and Unsubscribe may be called
// concurrently with it.
type Client struct {
	opts   Options
	policy helpers.ReconnectPolicy
	clock  clockwork.Clock
	log    *logger.Logger

	// writeMu serializes writers and guards conn swaps.
	writeMu sync.Mutex
	conn    *websocket.Conn

	chMu     sync.Mutex
	channels []string

	closed atomic.Bool
}

// -----------------------------------------------------------------------------

// Connect dials url with DefaultOptions.
func Connect(ctx context.Context, url string) (*Client, error) {
	return Dial(ctx, DefaultOptions(url))
}

// Dial opens the first connection. A failure here is returned as-is and is not
// retried, even with AutoReconnect set.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, helpers.NewConfigurationError("client url cannot be empty")
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewLogger(nil, "RelayClient")
	}

	c := &Client{
		opts: opts,
		policy: helpers.ReconnectPolicy{
			AutoReconnect: opts.AutoReconnect,
			MaxAttempts:   opts.MaxReconnectAttempts,
			BaseDelay:     opts.BaseDelay,
			MaxDelay:      opts.MaxDelay,
		},
		clock: opts.Clock,
		log:   opts.Logger,
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.log.Info("Connected to %s", opts.URL)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		if resp != nil {
			return nil, helpers.NewTransportError(fmt.Sprintf("dial %s: status %d", c.opts.URL, resp.StatusCode), err)
		}
		return nil, helpers.NewTransportError("dial "+c.opts.URL, err)
	}
	return conn, nil
}

// -----------------------------------------------------------------------------
// Outbound
// -----------------------------------------------------------------------------

// Send writes one frame. Write failures come back as a TransportError and are
// never retried.
func (c *Client) Send(msg models.Message) error {
	if c.closed.Load() {
		return ErrClosed
	}
	frame, err := models.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(frame)
}

func (c *Client) writeLocked(frame []byte) error {
	if c.conn == nil {
		return helpers.NewTransportError("send", errors.New("not connected"))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return helpers.NewTransportError("send", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// Subscribe sends a Subscribe frame and remembers the channels so they are
// sent again after an automatic reconnect.
func (c *Client) Subscribe(channels ...string) error {
	c.chMu.Lock()
	for _, ch := range channels {
		if !slices.Contains(c.channels, ch) {
			c.channels = append(c.channels, ch)
		}
	}
	c.chMu.Unlock()
	return c.Send(models.MSubscribe{Channels: channels})
}

func (c *Client) Unsubscribe(channels ...string) error {
	c.chMu.Lock()
	c.channels = slices.DeleteFunc(c.channels, func(ch string) bool {
		return slices.Contains(channels, ch)
	})
	c.chMu.Unlock()
	return c.Send(models.MUnsubscribe{Channels: channels})
}

// Channels returns the channels that will be replayed on reconnect.
func (c *Client) Channels() []string {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	return slices.Clone(c.channels)
}

// -----------------------------------------------------------------------------
// Inbound
// -----------------------------------------------------------------------------

// Receive blocks until the next update. Application pings are answered and
// undecodable frames are skipped without being surfaced. With AutoReconnect the
// connection is re-established transparently; once the attempt budget is spent
// the returned error matches helpers.ErrStreamEnded. Cancelling ctx abandons
// the current connection.
func (c *Client) Receive(ctx context.Context) (models.Message, error) {
	for {
		if c.closed.Load() {
			return nil, ErrClosed
		}

		conn := c.current()
		if conn == nil {
			if !c.policy.AutoReconnect {
				return nil, helpers.ErrStreamEnded
			}
			if err := c.reconnect(ctx, errors.New("not connected")); err != nil {
				return nil, err
			}
			continue
		}

		data, err := c.read(ctx, conn)
		if err != nil {
			if c.closed.Load() {
				return nil, ErrClosed
			}
			c.drop(conn)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !c.policy.AutoReconnect {
				if isClose(err) {
					return nil, fmt.Errorf("%w: %v", helpers.ErrStreamEnded, err)
				}
				return nil, helpers.NewTransportError("receive", err)
			}

			c.log.Warning("Connection to %s lost: %v", c.opts.URL, err)
			if err := c.reconnect(ctx, err); err != nil {
				return nil, err
			}
			continue
		}

		msg, err := models.Decode(data)
		if err != nil {
			metrics.Errors.WithLabelValues("decode").Inc()
			c.log.Warning("Skipping undecodable frame: %v", err)
			continue
		}

		switch msg.(type) {
		case models.MPing:
			if err := c.Send(models.MPong{}); err != nil {
				c.log.Warning("Failed to answer ping: %v", err)
			}
			continue
		case models.MIgnored:
			c.log.Debug("Skipping %s frame", msg.Type())
			continue
		}
		return msg, nil
	}
}

func (c *Client) read(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := conn.ReadMessage()
	return data, err
}

func isClose(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}

// -----------------------------------------------------------------------------
// Reconnect
// -----------------------------------------------------------------------------

func (c *Client) reconnect(ctx context.Context, cause error) error {
	attempt := 0
	for {
		if c.policy.Exhausted(attempt) {
			c.log.Error("Giving up on %s after %d attempts", c.opts.URL, attempt)
			return helpers.NewExhaustedError("client", attempt, cause)
		}

		delay := c.policy.Delay(attempt)
		attempt++
		metrics.Reconnections.WithLabelValues("client").Inc()
		c.log.Warning("Reconnecting to %s in %v (attempt %d)", c.opts.URL, delay, attempt)

		select {
		case <-c.clock.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if c.closed.Load() {
			return ErrClosed
		}

		conn, err := c.dial(ctx)
		if err != nil {
			cause = err
			continue
		}
		if err := c.install(conn); err != nil {
			conn.Close()
			cause = err
			continue
		}
		c.log.Info("Reconnected to %s", c.opts.URL)
		return nil
	}
}

// install swaps in conn and replays the remembered subscription.
func (c *Client) install(conn *websocket.Conn) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	c.conn = conn

	channels := c.Channels()
	if len(channels) == 0 {
		return nil
	}
	frame, err := models.Encode(models.MSubscribe{Channels: channels})
	if err != nil {
		return err
	}
	if err := c.writeLocked(frame); err != nil {
		c.conn = nil
		return err
	}
	return nil
}

func (c *Client) current() *websocket.Conn {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn
}

func (c *Client) drop(conn *websocket.Conn) {
	c.writeMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.writeMu.Unlock()
	conn.Close()
}

// -----------------------------------------------------------------------------

// Close sends a normal close frame and releases the connection. Idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	err := c.conn.Close()
	c.conn = nil
	return err
}
