package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"laserstream-relay/src/helpers"
	"laserstream-relay/src/logger"
	"laserstream-relay/src/models"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRelay runs one script per accepted connection, in order. Once the
// scripts are used up further upgrades are refused with 503.
type scriptedRelay struct {
	t       *testing.T
	server  *httptest.Server
	mu      sync.Mutex
	scripts []func(conn *ws.Conn)
	dials   int
}

func newScriptedRelay(t *testing.T, scripts ...func(conn *ws.Conn)) *scriptedRelay {
	t.Helper()
	r := &scriptedRelay{t: t, scripts: scripts}
	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.dials++
		if len(r.scripts) == 0 {
			r.mu.Unlock()
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		script := r.scripts[0]
		r.scripts = r.scripts[1:]
		r.mu.Unlock()

		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			script(conn)
		}()
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *scriptedRelay) url() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *scriptedRelay) dialCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dials
}

func send(conn *ws.Conn, msg models.Message) {
	frame, _ := models.Encode(msg)
	conn.WriteMessage(ws.TextMessage, frame)
}

func expect(conn *ws.Conn) models.Message {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	msg, _ := models.Decode(data)
	return msg
}

func closeNormally(conn *ws.Conn) {
	conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
}

func testOptions(url string, clock clockwork.Clock) Options {
	opts := DefaultOptions(url)
	opts.Clock = clock
	opts.Logger = logger.NewWriterLogger(io.Discard, "DEBUG", "RelayClient")
	return opts
}

func receive(t *testing.T, c *Client) models.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := c.Receive(ctx)
	require.NoError(t, err)
	return msg
}

// --- tests ---

func TestClient_ReceiveAnswersPingAndSkipsGarbage(t *testing.T) {
	pong := make(chan models.Message, 1)
	relay := newScriptedRelay(t, func(conn *ws.Conn) {
		send(conn, models.MPing{})
		pong <- expect(conn)
		conn.WriteMessage(ws.TextMessage, []byte("{not json"))
		send(conn, models.MSlotUpdate{Slot: 10})
		expect(conn)
	})

	c, err := Dial(context.Background(), testOptions(relay.url(), clockwork.NewRealClock()))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, models.MSlotUpdate{Slot: 10}, receive(t, c))
	assert.Equal(t, models.MPong{}, <-pong)
}

func TestClient_CloseWithoutAutoReconnectEndsStream(t *testing.T) {
	relay := newScriptedRelay(t, func(conn *ws.Conn) {
		send(conn, models.MSlotUpdate{Slot: 1})
		closeNormally(conn)
	})

	opts := testOptions(relay.url(), clockwork.NewRealClock())
	opts.AutoReconnect = false
	c, err := Dial(context.Background(), opts)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, models.MSlotUpdate{Slot: 1}, receive(t, c))

	_, err = c.Receive(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, helpers.ErrStreamEnded)
	assert.Equal(t, 1, relay.dialCount())
}

func TestClient_ReconnectsAndReplaysSubscription(t *testing.T) {
	resubscribed := make(chan models.Message, 1)
	relay := newScriptedRelay(t,
		func(conn *ws.Conn) {
			expect(conn) // Subscribe
			expect(conn) // Unsubscribe
			send(conn, models.MSlotUpdate{Slot: 1})
			closeNormally(conn)
		},
		func(conn *ws.Conn) {
			resubscribed <- expect(conn)
			send(conn, models.MSlotUpdate{Slot: 2})
			expect(conn)
		},
	)

	clock := clockwork.NewFakeClock()
	c, err := Dial(context.Background(), testOptions(relay.url(), clock))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Subscribe("jupiter:SOL-USDC", "slots"))
	require.NoError(t, c.Unsubscribe("slots"))
	assert.Equal(t, models.MSlotUpdate{Slot: 1}, receive(t, c))

	got := make(chan models.Message, 1)
	go func() {
		msg, err := c.Receive(context.Background())
		if err == nil {
			got <- msg
		}
	}()

	clock.BlockUntil(1)
	clock.Advance(helpers.DefaultBaseDelay)

	select {
	case msg := <-got:
		assert.Equal(t, models.MSlotUpdate{Slot: 2}, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not resume after reconnect")
	}
	assert.Equal(t, models.MSubscribe{Channels: []string{"jupiter:SOL-USDC"}}, <-resubscribed)
	assert.Equal(t, 2, relay.dialCount())
}

func TestClient_ExhaustedBudgetEndsStream(t *testing.T) {
	relay := newScriptedRelay(t, func(conn *ws.Conn) {
		closeNormally(conn)
	})

	clock := clockwork.NewFakeClock()
	opts := testOptions(relay.url(), clock)
	opts.MaxReconnectAttempts = 2
	c, err := Dial(context.Background(), opts)
	require.NoError(t, err)
	defer c.Close()

	done := make(chan error, 1)
	go func() {
		_, err := c.Receive(context.Background())
		done <- err
	}()

	for _, delay := range []time.Duration{time.Second, 2 * time.Second} {
		clock.BlockUntil(1)
		clock.Advance(delay)
	}

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, helpers.ErrStreamEnded)
		var exhausted *helpers.ExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, 2, exhausted.Attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not give up")
	}
	assert.Equal(t, 3, relay.dialCount())
}

func TestClient_SendAfterCloseFails(t *testing.T) {
	relay := newScriptedRelay(t, func(conn *ws.Conn) { expect(conn) })

	c, err := Dial(context.Background(), testOptions(relay.url(), clockwork.NewRealClock()))
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Send(models.MPing{}), ErrClosed)
	_, err = c.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClient_DialFailureIsTransportError(t *testing.T) {
	relay := newScriptedRelay(t)

	_, err := Dial(context.Background(), testOptions(relay.url(), clockwork.NewRealClock()))
	require.Error(t, err)
	var te *helpers.TransportError
	assert.True(t, errors.As(err, &te))
	assert.Contains(t, err.Error(), "503")

	_, err = Dial(context.Background(), Options{})
	assert.True(t, helpers.IsConfigurationError(err))
}
