package network

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"laserstream-relay/src/helpers"
	"laserstream-relay/src/logger"
	"laserstream-relay/src/models"

	"github.com/gorilla/websocket"
)

const defaultHandshakeTimeout = 10 * time.Second

// NetworkManager builds the outbound websocket dialers shared by the upstream
// feeds and the client SDK.
type NetworkManager struct {
	Config *models.MNetworkConfig
	Logger *logger.Logger

	proxy *url.URL
}

// -----------------------------------------------------------------------------

func NewNetworkManager(cfg *models.MNetworkConfig, log *logger.Logger) (*NetworkManager, error) {
	nm := &NetworkManager{Config: cfg, Logger: log}

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, helpers.NewConfigurationError("invalid proxy url %q: %v", cfg.Proxy, err)
		}
		nm.proxy = proxyURL
	}
	return nm, nil
}

// -----------------------------------------------------------------------------

func (nm *NetworkManager) HandshakeTimeout() time.Duration {
	if nm.Config.HandshakeTimeoutSeconds > 0 {
		return time.Duration(nm.Config.HandshakeTimeoutSeconds) * time.Second
	}
	return defaultHandshakeTimeout
}

// Dialer returns a fresh websocket dialer honouring the proxy and TLS settings.
func (nm *NetworkManager) Dialer() *websocket.Dialer {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: nm.HandshakeTimeout(),
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}

	if nm.proxy != nil {
		dialer.Proxy = http.ProxyURL(nm.proxy)
		nm.Logger.Debug("Dialing through proxy %s", nm.proxy.Redacted())
	}
	if nm.Config.InsecureSkipVerify {
		nm.Logger.Warning("TLS certificate verification is disabled")
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return dialer
}

// Overrides lists the dialer settings that differ from a plain direct dial.
// Feeds that cannot use Dialer reject a manager with any of them set.
func (nm *NetworkManager) Overrides() []string {
	var set []string
	if nm.proxy != nil {
		set = append(set, "proxy")
	}
	if nm.Config.InsecureSkipVerify {
		set = append(set, "insecure_skip_verify")
	}
	return set
}

// -----------------------------------------------------------------------------

// AuthHeader carries the upstream token both as a bearer token and as the
// x-token header that Helius-style endpoints read.
func AuthHeader(token string) http.Header {
	header := http.Header{}
	if token == "" {
		return header
	}
	header.Set("Authorization", "Bearer "+token)
	header.Set("x-token", token)
	return header
}

// WithAPIKey appends the api-key query parameter when the endpoint does not
// already carry one.
func WithAPIKey(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", helpers.NewConfigurationError("invalid endpoint %q: %v", endpoint, err)
	}
	if token == "" {
		return u.String(), nil
	}
	q := u.Query()
	if q.Get("api-key") == "" {
		q.Set("api-key", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
