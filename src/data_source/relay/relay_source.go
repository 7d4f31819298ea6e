package relay

import (
	"context"

	"laserstream-relay/src/client"
	"laserstream-relay/src/interfaces"
	"laserstream-relay/src/logger"
	"laserstream-relay/src/models"
	"laserstream-relay/src/network"
)

// RelaySource chains from another relay's streaming surface. Reconnects are
// left to the ingester, so the underlying client never retries on its own.
type RelaySource struct {
	URL     string
	Token   string
	Network *network.NetworkManager
	Logger  *logger.Logger
}

func NewRelaySource(url, token string, nm *network.NetworkManager, log *logger.Logger) *RelaySource {
	if log == nil {
		log = logger.NewLogger(nil, "RelaySource")
	}
	return &RelaySource{
		URL:     url,
		Token:   token,
		Network: nm,
		Logger:  log,
	}
}

func (s *RelaySource) Name() string {
	return "relay"
}

// -----------------------------------------------------------------------------

func (s *RelaySource) Subscribe(ctx context.Context, filter models.MFilter) (interfaces.IStream, error) {
	c, err := client.Dial(ctx, client.Options{
		URL:           s.URL,
		AutoReconnect: false,
		Dialer:        s.Network.Dialer(),
		Header:        network.AuthHeader(s.Token),
		Logger:        s.Logger.Named("RelayClient"),
	})
	if err != nil {
		return nil, err
	}

	if len(filter.Channels) > 0 {
		if err := c.Subscribe(filter.Channels...); err != nil {
			c.Close()
			return nil, err
		}
	}
	s.Logger.Info("Chained from %s (channels=%v)", s.URL, filter.Channels)
	return &relayStream{client: c}, nil
}

// -----------------------------------------------------------------------------

type relayStream struct {
	client *client.Client
}

func (st *relayStream) Recv(ctx context.Context) (models.Message, error) {
	return st.client.Receive(ctx)
}

func (st *relayStream) Close() error {
	return st.client.Close()
}
