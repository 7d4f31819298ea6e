package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"laserstream-relay/src/cache"
	"laserstream-relay/src/helpers"
	"laserstream-relay/src/interfaces"
	"laserstream-relay/src/logger"
	"laserstream-relay/src/metrics"
	"laserstream-relay/src/models"

	"github.com/jonboulle/clockwork"
)

// -----------------------------------------------------------------------------
// State Machine
// -----------------------------------------------------------------------------

type State int32

const (
	Disconnected State = iota
	Connecting
	Streaming
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// -----------------------------------------------------------------------------
// Ingester
// -----------------------------------------------------------------------------

// Ingester owns the single upstream subscription of a relay instance. It writes
// slot-class events into the cache and forwards every event to the publisher.
type Ingester struct {
	Feed      interfaces.IFeed
	Filter    models.MFilter
	Cache     *cache.LatestState
	Publisher interfaces.IPublisher
	Policy    helpers.ReconnectPolicy
	Logger    *logger.Logger

	// OnStateChange is called synchronously on every transition.
	OnStateChange func(State)

	clock clockwork.Clock
	state atomic.Int32
	fatal chan error
	wg    sync.WaitGroup
}

// -----------------------------------------------------------------------------

func NewIngester(
	feed interfaces.IFeed,
	filter models.MFilter,
	latest *cache.LatestState,
	publisher interfaces.IPublisher,
	policy helpers.ReconnectPolicy,
	log *logger.Logger,
) *Ingester {
	return &Ingester{
		Feed:      feed,
		Filter:    filter,
		Cache:     latest,
		Publisher: publisher,
		Policy:    policy,
		Logger:    log,
		clock:     clockwork.NewRealClock(),
		fatal:     make(chan error, 1),
	}
}

// WithClock swaps the clock used for backoff sleeps.
func (in *Ingester) WithClock(clock clockwork.Clock) *Ingester {
	in.clock = clock
	return in
}

// State returns the current state machine position.
func (in *Ingester) State() State {
	return State(in.state.Load())
}

// Fatal delivers the terminal error of a loop started with EnsureStarted.
func (in *Ingester) Fatal() <-chan error {
	return in.fatal
}

// Wait blocks until a loop started with EnsureStarted has returned.
func (in *Ingester) Wait() {
	in.wg.Wait()
}

// -----------------------------------------------------------------------------

// EnsureStarted spawns the ingestion loop the first time it is called across
// the process and is a no-op afterwards. Returns whether this call spawned it.
func (in *Ingester) EnsureStarted(ctx context.Context) bool {
	if !in.Cache.StartOnce() {
		return false
	}

	in.Logger.Info("Starting upstream ingestion from %s", in.Feed.Name())
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		if err := in.Run(ctx); err != nil {
			in.Logger.Error("Ingester stopped: %v", err)
			in.fatal <- err
		}
	}()
	return true
}

// -----------------------------------------------------------------------------

// Run drives Disconnected -> Connecting -> Streaming until ctx is cancelled
// (returns nil) or the reconnect budget is spent (returns the terminal error).
func (in *Ingester) Run(ctx context.Context) error {
	attempt := 0

	for {
		err := in.runStream(ctx, &attempt)
		in.setState(Disconnected)

		if ctx.Err() != nil {
			in.setState(Stopped)
			return nil
		}
		if err == nil {
			err = helpers.NewTransportError("upstream stream ended", nil)
		}
		metrics.Errors.WithLabelValues("transport").Inc()
		in.Logger.Error("Upstream stream error: %v", err)

		// With auto-reconnect off the budget is zero attempts.
		if !in.Policy.AutoReconnect {
			in.setState(Stopped)
			return helpers.NewExhaustedError("ingester", 0, err)
		}
		if in.Policy.Exhausted(attempt) {
			in.setState(Stopped)
			return helpers.NewExhaustedError("ingester", attempt, err)
		}

		delay := in.Policy.Delay(attempt)
		attempt++
		metrics.Reconnections.WithLabelValues("ingester").Inc()
		in.Logger.Warning("Reconnecting in %v (attempt %d)", delay, attempt)

		select {
		case <-in.clock.After(delay):
		case <-ctx.Done():
			in.setState(Stopped)
			return nil
		}
	}
}

// -----------------------------------------------------------------------------

func (in *Ingester) runStream(ctx context.Context, attempt *int) error {
	in.setState(Connecting)

	stream, err := in.Feed.Subscribe(ctx, in.Filter)
	if err != nil {
		var te *helpers.TransportError
		if errors.As(err, &te) {
			return err
		}
		return helpers.NewTransportError("subscribe failed", err)
	}
	defer stream.Close()

	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	*attempt = 0
	in.setState(Streaming)
	in.Logger.Info("Subscribed to %s", in.Feed.Name())

	for {
		msg, err := stream.Recv(ctx)
		if err != nil {
			if helpers.IsDecodeError(err) {
				metrics.Errors.WithLabelValues("decode").Inc()
				in.Logger.Warning("Dropping upstream frame: %v", err)
				continue
			}
			return err
		}
		in.handle(msg)
	}
}

// -----------------------------------------------------------------------------

func (in *Ingester) handle(msg models.Message) {
	metrics.MessagesReceived.WithLabelValues(string(msg.Type())).Inc()

	if ignored, ok := msg.(models.MIgnored); ok {
		in.Logger.Debug("Ignoring upstream category %q", ignored.Category)
		return
	}

	if models.IsSlotClass(msg) && !in.Cache.PutIfNewer(msg) {
		metrics.StaleSlotUpdates.Inc()
	}

	// Consumers get every event, including ones the tie-break kept out of the cache.
	in.Publisher.Publish(msg)
}

// -----------------------------------------------------------------------------

func (in *Ingester) setState(s State) {
	if State(in.state.Swap(int32(s))) == s {
		return
	}
	metrics.IngesterState.Set(float64(s))
	if in.OnStateChange != nil {
		in.OnStateChange(s)
	}
}
