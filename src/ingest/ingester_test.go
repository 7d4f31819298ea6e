package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"laserstream-relay/src/cache"
	"laserstream-relay/src/helpers"
	"laserstream-relay/src/interfaces"
	"laserstream-relay/src/logger"
	"laserstream-relay/src/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type frame struct {
	msg models.Message
	err error
}

type fakeStream struct {
	frames chan frame
	closed chan struct{}
	once   sync.Once
}

func newFakeStream(frames ...frame) *fakeStream {
	s := &fakeStream{
		frames: make(chan frame, len(frames)+16),
		closed: make(chan struct{}),
	}
	for _, f := range frames {
		s.frames <- f
	}
	return s
}

func (s *fakeStream) Recv(ctx context.Context) (models.Message, error) {
	select {
	case f := <-s.frames:
		return f.msg, f.err
	case <-s.closed:
		return nil, errors.New("stream closed")
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeFeed struct {
	mu            sync.Mutex
	streams       []*fakeStream
	subscribeErrs []error
	calls         atomic.Int32
	filters       []models.MFilter
}

func (f *fakeFeed) Name() string { return "fake" }

func (f *fakeFeed) Subscribe(ctx context.Context, filter models.MFilter) (interfaces.IStream, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)

	if len(f.subscribeErrs) > 0 {
		err := f.subscribeErrs[0]
		f.subscribeErrs = f.subscribeErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.streams) == 0 {
		return newFakeStream(), nil
	}
	s := f.streams[0]
	f.streams = f.streams[1:]
	return s, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (p *recordingPublisher) Publish(msg models.Message) {
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
}

func (p *recordingPublisher) slots() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []uint64
	for _, m := range p.msgs {
		if s, ok := models.SlotOf(m); ok {
			out = append(out, s)
		}
	}
	return out
}

func (p *recordingPublisher) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func slot(n uint64) frame { return frame{msg: models.MSlotUpdate{Slot: n}} }

func newTestIngester(feed interfaces.IFeed, policy helpers.ReconnectPolicy) (*Ingester, *cache.LatestState, *recordingPublisher, clockwork.FakeClock) {
	latest := cache.NewLatestState()
	pub := &recordingPublisher{}
	clock := clockwork.NewFakeClock()
	log := logger.NewWriterLogger(io.Discard, "DEBUG", "Ingester")
	in := NewIngester(feed, models.MFilter{Slots: true}, latest, pub, policy, log).WithClock(clock)
	return in, latest, pub, clock
}

func cachedSlot(t *testing.T, c *cache.LatestState) uint64 {
	t.Helper()
	msg, ok := c.Get()
	require.True(t, ok)
	s, _ := models.SlotOf(msg)
	return s
}

// --- tests ---

func TestIngester_TieBreakKeepsHighestSlotButForwardsAll(t *testing.T) {
	feed := &fakeFeed{streams: []*fakeStream{newFakeStream(slot(100), slot(99))}}
	in, latest, pub, _ := newTestIngester(feed, helpers.ReconnectPolicy{AutoReconnect: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.len() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []uint64{100, 99}, pub.slots())
	assert.Equal(t, uint64(100), cachedSlot(t, latest))
	assert.Equal(t, Streaming, in.State())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, Stopped, in.State())
}

func TestIngester_ReconnectsAfterStreamErrorWithoutReplay(t *testing.T) {
	first := newFakeStream(slot(1), slot(2), frame{err: errors.New("connection reset")})
	second := newFakeStream(slot(3))
	feed := &fakeFeed{streams: []*fakeStream{first, second}}
	in, latest, pub, clock := newTestIngester(feed, helpers.ReconnectPolicy{AutoReconnect: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go in.Run(ctx)

	// Backoff sleep after the error
	clock.BlockUntil(1)
	assert.Equal(t, Disconnected, in.State())
	assert.Equal(t, uint64(2), cachedSlot(t, latest))
	assert.Equal(t, []uint64{1, 2}, pub.slots())

	clock.Advance(time.Second)

	require.Eventually(t, func() bool { return pub.len() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []uint64{1, 2, 3}, pub.slots())
	assert.Equal(t, uint64(3), cachedSlot(t, latest))
	assert.Equal(t, int32(2), feed.calls.Load())
	assert.Equal(t, Streaming, in.State())
}

func TestIngester_BackoffSequenceAndExhaustion(t *testing.T) {
	refused := errors.New("connection refused")
	feed := &fakeFeed{subscribeErrs: []error{refused, refused, refused, refused}}
	policy := helpers.ReconnectPolicy{AutoReconnect: true, MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	in, _, _, clock := newTestIngester(feed, policy)

	done := make(chan error, 1)
	go func() { done <- in.Run(context.Background()) }()

	for i, delay := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second} {
		clock.BlockUntil(1)
		calls := feed.calls.Load()
		require.Equal(t, int32(i+1), calls)

		clock.Advance(delay - time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		assert.Equal(t, calls, feed.calls.Load(), "reconnected before the %v backoff elapsed", delay)

		clock.Advance(time.Millisecond)
		require.Eventually(t, func() bool { return feed.calls.Load() == calls+1 }, time.Second, time.Millisecond)
	}

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, helpers.ErrStreamEnded)
		assert.ErrorIs(t, err, refused)
		var exhausted *helpers.ExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, 3, exhausted.Attempts)
	case <-time.After(time.Second):
		t.Fatal("ingester did not give up")
	}
	assert.Equal(t, Stopped, in.State())
}

func TestIngester_AttemptCounterResetsOnStreaming(t *testing.T) {
	refused := errors.New("refused")
	feed := &fakeFeed{
		subscribeErrs: []error{refused, nil, refused},
		streams: []*fakeStream{
			newFakeStream(frame{err: errors.New("reset")}),
		},
	}
	policy := helpers.ReconnectPolicy{AutoReconnect: true, BaseDelay: time.Second, MaxDelay: time.Minute}
	in, _, _, clock := newTestIngester(feed, policy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go in.Run(ctx)

	// refused -> 1s, streams then resets -> counter back to 0 -> 1s, refused -> 2s
	for _, delay := range []time.Duration{time.Second, time.Second, 2 * time.Second} {
		clock.BlockUntil(1)
		calls := feed.calls.Load()
		clock.Advance(delay - time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		require.Equal(t, calls, feed.calls.Load())
		clock.Advance(time.Millisecond)
		require.Eventually(t, func() bool { return feed.calls.Load() == calls+1 }, time.Second, time.Millisecond)
	}
}

func TestIngester_DecodeErrorsDoNotReconnect(t *testing.T) {
	stream := newFakeStream(
		frame{err: helpers.NewDecodeError("malformed frame", errors.New("bad json"))},
		frame{msg: models.MIgnored{Category: "BlockMeta"}},
		slot(5),
	)
	feed := &fakeFeed{streams: []*fakeStream{stream}}
	in, latest, pub, _ := newTestIngester(feed, helpers.ReconnectPolicy{AutoReconnect: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go in.Run(ctx)

	require.Eventually(t, func() bool { return pub.len() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []uint64{5}, pub.slots())
	assert.Equal(t, uint64(5), cachedSlot(t, latest))
	assert.Equal(t, int32(1), feed.calls.Load())
	assert.Equal(t, Streaming, in.State())
}

func TestIngester_NoAutoReconnectIsTerminal(t *testing.T) {
	feed := &fakeFeed{streams: []*fakeStream{newFakeStream(frame{err: errors.New("eof")})}}
	in, _, _, _ := newTestIngester(feed, helpers.ReconnectPolicy{AutoReconnect: false})

	err := in.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eof")
	assert.ErrorIs(t, err, helpers.ErrStreamEnded)
	var exhausted *helpers.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 0, exhausted.Attempts)
	assert.Equal(t, Stopped, in.State())
	assert.Equal(t, int32(1), feed.calls.Load())
}

func TestIngester_EnsureStartedSpawnsOnce(t *testing.T) {
	feed := &fakeFeed{}
	in, latest, _, _ := newTestIngester(feed, helpers.ReconnectPolicy{AutoReconnect: true})

	ctx, cancel := context.WithCancel(context.Background())

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if in.EnsureStarted(ctx) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.True(t, latest.Started())
	require.Eventually(t, func() bool { return in.State() == Streaming }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), feed.calls.Load())

	cancel()
	in.Wait()
	select {
	case err := <-in.Fatal():
		t.Fatalf("unexpected fatal error: %v", err)
	default:
	}
}

func TestIngester_StateObserver(t *testing.T) {
	feed := &fakeFeed{}
	in, _, _, _ := newTestIngester(feed, helpers.ReconnectPolicy{AutoReconnect: true})

	var mu sync.Mutex
	var seen []State
	in.OnStateChange = func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()
	require.Eventually(t, func() bool { return in.State() == Streaming }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Connecting, Streaming, Disconnected, Stopped}, seen)
	assert.Equal(t, "streaming", Streaming.String())
}
