package server

import (
	"sync"
	"time"

	"laserstream-relay/src/models"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 64 * 1024
)

// -----------------------------------------------------------------------------
// Client Structure
// -----------------------------------------------------------------------------

// Client is the per-connection side of a ClientHandle: one goroutine reads
// control frames, the other drains the mailbox onto the socket.
type Client struct {
	hub     *Broadcaster
	handle  *ClientHandle
	conn    *websocket.Conn
	limiter *rate.Limiter

	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64

	mu       sync.Mutex
	channels map[string]struct{}
}

// -----------------------------------------------------------------------------

func newClient(hub *Broadcaster, handle *ClientHandle, conn *websocket.Conn, cfg models.MBroadcastConfig) *Client {
	c := &Client{
		hub:            hub,
		handle:         handle,
		conn:           conn,
		writeWait:      defaultWriteWait,
		pongWait:       defaultPongWait,
		maxMessageSize: defaultMaxMessageSize,
		channels:       make(map[string]struct{}),
	}
	if cfg.WriteWaitSeconds > 0 {
		c.writeWait = time.Duration(cfg.WriteWaitSeconds) * time.Second
	}
	if cfg.PongWaitSeconds > 0 {
		c.pongWait = time.Duration(cfg.PongWaitSeconds) * time.Second
	}
	if cfg.MaxMessageSize > 0 {
		c.maxMessageSize = cfg.MaxMessageSize
	}
	c.pingPeriod = (c.pongWait * 9) / 10

	if cfg.ClientMessagesPerSecond > 0 {
		burst := int(cfg.ClientMessagesPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.ClientMessagesPerSecond), burst)
	}
	return c
}

// Channels returns a snapshot of the channels this client asked for.
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

// -----------------------------------------------------------------------------
// readPump - handles incoming control frames
// Act as a Watchdog for the connection
// -----------------------------------------------------------------------------

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c.handle.ID)
		c.conn.Close()
		c.hub.Logger.Info("Client %d disconnected", c.handle.ID)
	}()

	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.Logger.Info("WebSocket error on client %d: %v", c.handle.ID, err)
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.hub.Logger.Debug("Client %d over message rate, frame dropped", c.handle.ID)
			continue
		}
		c.handleMessage(data)
	}
}

// -----------------------------------------------------------------------------

func (c *Client) handleMessage(data []byte) {
	msg, err := models.Decode(data)
	if err != nil {
		c.hub.Logger.Warning("Client %d sent undecodable frame: %v", c.handle.ID, err)
		return
	}

	switch m := msg.(type) {
	case models.MPing:
		frame, _ := models.Encode(models.MPong{})
		c.handle.Mailbox.Offer(frame)
	case models.MPong:
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	case models.MSubscribe:
		c.mu.Lock()
		for _, ch := range m.Channels {
			c.channels[ch] = struct{}{}
		}
		c.mu.Unlock()
		c.hub.Logger.Info("Client %d subscribed to %v", c.handle.ID, m.Channels)
	case models.MUnsubscribe:
		c.mu.Lock()
		for _, ch := range m.Channels {
			delete(c.channels, ch)
		}
		c.mu.Unlock()
		c.hub.Logger.Info("Client %d unsubscribed from %v", c.handle.ID, m.Channels)
	default:
		c.hub.Logger.Debug("Client %d sent %s, ignoring", c.handle.ID, msg.Type())
	}
}

// -----------------------------------------------------------------------------
// writePump - drains the mailbox onto the socket
// -----------------------------------------------------------------------------

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.Unregister(c.handle.ID)
		c.conn.Close()
	}()

	mailbox := c.handle.Mailbox
	for {
		select {
		case frame := <-mailbox.Messages():
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.hub.Logger.Info("Write error on client %d: %v", c.handle.ID, err)
				return
			}

		case <-mailbox.Done():
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
