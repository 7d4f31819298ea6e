package storage

import (
	"bytes"
	"context"
	"database/sql"
	"time"

	"laserstream-relay/src/cache"
	"laserstream-relay/src/helpers"
	"laserstream-relay/src/interfaces"
	"laserstream-relay/src/logger"
	"laserstream-relay/src/models"

	"github.com/jonboulle/clockwork"
)

const defaultCheckpointInterval = 5 * time.Second

type checkpointRow struct {
	Type    string
	Slot    sql.NullInt64
	Payload string
}

func newCheckpointRow(msg models.Message) (checkpointRow, error) {
	data, err := models.Encode(msg)
	if err != nil {
		return checkpointRow{}, err
	}
	row := checkpointRow{Type: string(msg.Type()), Payload: string(data)}
	if slot, ok := models.SlotOf(msg); ok {
		row.Slot = sql.NullInt64{Int64: int64(slot), Valid: true}
	}
	return row, nil
}

// -----------------------------------------------------------------------------

// NewCheckpointStore returns the store selected by storage.db_type, or nil
// when checkpointing is disabled.
func NewCheckpointStore(cfg *models.MConfig, log *logger.Logger) (interfaces.ICheckpointStore, error) {
	switch cfg.Storage.DBType {
	case "", "none":
		return nil, nil
	case "sqlite":
		return NewSQLiteCheckpointStore(cfg, log), nil
	case "postgres":
		return NewPostgresCheckpointStore(cfg, log), nil
	}
	return nil, helpers.NewConfigurationError("unknown database type %q", cfg.Storage.DBType)
}

// -----------------------------------------------------------------------------
// Checkpointer
// -----------------------------------------------------------------------------

// Checkpointer periodically writes the cached latest value to the store so a
// restarted relay can serve it from /latest before the upstream reconnects.
// Values are stored and restored under Origin only.
type Checkpointer struct {
	Store    interfaces.ICheckpointStore
	Origin   string
	Cache    *cache.LatestState
	Interval time.Duration
	Logger   *logger.Logger

	clock clockwork.Clock
	last  []byte
}

func NewCheckpointer(store interfaces.ICheckpointStore, origin string, latest *cache.LatestState, interval time.Duration, log *logger.Logger) *Checkpointer {
	if interval <= 0 {
		interval = defaultCheckpointInterval
	}
	return &Checkpointer{
		Store:    store,
		Origin:   origin,
		Cache:    latest,
		Interval: interval,
		Logger:   log,
		clock:    clockwork.NewRealClock(),
	}
}

func (c *Checkpointer) WithClock(clock clockwork.Clock) *Checkpointer {
	c.clock = clock
	return c
}

// -----------------------------------------------------------------------------

// Seed loads the checkpoint stored for Origin into the cache. Nothing stored
// for this upstream is not an error.
func (c *Checkpointer) Seed(ctx context.Context) error {
	msg, err := c.Store.LoadLatest(ctx, c.Origin)
	if err != nil {
		return err
	}
	if msg == nil {
		c.Logger.Info("No checkpoint stored for %s", c.Origin)
		return nil
	}

	c.Cache.PutIfNewer(msg)
	c.last, _ = models.Encode(msg)
	c.Logger.Info("Seeded cache with checkpointed %s", msg.Type())
	return nil
}

// -----------------------------------------------------------------------------

// Run saves on every tick where the cached value changed, and once more on exit.
func (c *Checkpointer) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			c.flush(ctx)
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.flush(final)
			cancel()
			return nil
		}
	}
}

func (c *Checkpointer) flush(ctx context.Context) {
	msg, ok := c.Cache.Get()
	if !ok {
		return
	}
	frame, err := models.Encode(msg)
	if err != nil || bytes.Equal(frame, c.last) {
		return
	}

	if err := c.Store.SaveLatest(ctx, c.Origin, msg); err != nil {
		c.Logger.Error("Checkpoint failed: %v", err)
		return
	}
	c.last = frame
	c.Logger.Debug("Checkpointed %s", msg.Type())
}
