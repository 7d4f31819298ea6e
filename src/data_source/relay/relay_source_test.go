package relay

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"laserstream-relay/src/cache"
	"laserstream-relay/src/helpers"
	"laserstream-relay/src/ingest"
	"laserstream-relay/src/logger"
	"laserstream-relay/src/models"
	"laserstream-relay/src/network"
	"laserstream-relay/src/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type idleStarter struct{}

func (idleStarter) EnsureStarted(context.Context) bool { return false }
func (idleStarter) State() ingest.State                 { return ingest.Disconnected }

func newUpstreamRelay(t *testing.T) (*server.Broadcaster, string) {
	t.Helper()
	log := logger.NewWriterLogger(io.Discard, "DEBUG", "Upstream")
	latest := cache.NewLatestState()
	hub := server.NewBroadcaster(16, latest, log)
	srv := server.NewRelayServer(context.Background(), &models.MConfig{}, latest, hub, idleStarter{}, log)

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.CloseAll()
		httpSrv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
}

func newTestSource(t *testing.T, url string) *RelaySource {
	t.Helper()
	log := logger.NewWriterLogger(io.Discard, "DEBUG", "RelaySource")
	nm, err := network.NewNetworkManager(&models.MNetworkConfig{}, log)
	require.NoError(t, err)
	return NewRelaySource(url, "", nm, log)
}

func TestRelaySource_ForwardsUpstreamFrames(t *testing.T) {
	hub, url := newUpstreamRelay(t)
	src := newTestSource(t, url)
	assert.Equal(t, "relay", src.Name())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := src.Subscribe(ctx, models.MFilter{Channels: []string{"jupiter:SOL-USDC"}})
	require.NoError(t, err)
	defer stream.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, hub.Broadcast(models.MSlotUpdate{Slot: 11}))
	require.NoError(t, hub.Broadcast(models.MPriceUpdate{InputMint: "SOL", OutputMint: "USDC", Price: 142.5}))

	msg, err := stream.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.MSlotUpdate{Slot: 11}, msg)

	msg, err = stream.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.MPriceUpdate{InputMint: "SOL", OutputMint: "USDC", Price: 142.5}, msg)
}

func TestRelaySource_UpstreamShutdownEndsStream(t *testing.T) {
	hub, url := newUpstreamRelay(t)
	src := newTestSource(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := src.Subscribe(ctx, models.MFilter{})
	require.NoError(t, err)
	defer stream.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, time.Millisecond)
	hub.CloseAll()

	_, err = stream.Recv(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, helpers.ErrStreamEnded)
}

func TestRelaySource_DialFailure(t *testing.T) {
	src := newTestSource(t, "ws://127.0.0.1:1/ws")

	_, err := src.Subscribe(context.Background(), models.MFilter{})
	require.Error(t, err)
	var te *helpers.TransportError
	assert.ErrorAs(t, err, &te)
}
