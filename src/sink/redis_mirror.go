package sink

import (
	"context"
	"fmt"
	"time"

	"laserstream-relay/src/logger"
	"laserstream-relay/src/metrics"
	"laserstream-relay/src/models"

	"github.com/redis/go-redis/v9"
)

const (
	defaultMirrorChannel   = "laserstream:updates"
	defaultMirrorQueueSize = 1024
	publishTimeout         = 2 * time.Second
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisMirror republishes every broadcast frame on a Redis pub/sub channel.
// Delivery is best effort: frames are dropped when the queue is full.
type RedisMirror struct {
	Channel string
	Logger  *logger.Logger

	rdb    redisPublisher
	closer func() error
	queue  chan []byte
}

// -----------------------------------------------------------------------------

func NewRedisMirror(cfg models.MRedisConfig, log *logger.Logger) (*RedisMirror, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	m := newRedisMirror(rdb, cfg.Channel, log)
	m.closer = rdb.Close
	return m, nil
}

func newRedisMirror(rdb redisPublisher, channel string, log *logger.Logger) *RedisMirror {
	if channel == "" {
		channel = defaultMirrorChannel
	}
	return &RedisMirror{
		Channel: channel,
		Logger:  log,
		rdb:     rdb,
		queue:   make(chan []byte, defaultMirrorQueueSize),
	}
}

// -----------------------------------------------------------------------------

// Publish never blocks the ingester.
func (m *RedisMirror) Publish(msg models.Message) {
	frame, err := models.Encode(msg)
	if err != nil {
		m.Logger.Error("Failed to encode %s for mirror: %v", msg.Type(), err)
		return
	}

	select {
	case m.queue <- frame:
	default:
		metrics.MirrorDropped.Inc()
	}
}

// Run drains the queue into Redis until ctx is cancelled.
func (m *RedisMirror) Run(ctx context.Context) error {
	m.Logger.Info("Mirroring updates to redis channel %s", m.Channel)
	for {
		select {
		case frame := <-m.queue:
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := m.rdb.Publish(pubCtx, m.Channel, frame).Err()
			cancel()
			if err != nil {
				metrics.Errors.WithLabelValues("mirror").Inc()
				m.Logger.Warning("Redis publish failed: %v", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *RedisMirror) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer()
}
