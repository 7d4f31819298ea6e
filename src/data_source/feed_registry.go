package datasource

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"laserstream-relay/src/data_source/relay"
	"laserstream-relay/src/data_source/solana"
	"laserstream-relay/src/helpers"
	"laserstream-relay/src/interfaces"
	"laserstream-relay/src/logger"
	"laserstream-relay/src/models"
	"laserstream-relay/src/network"
)

// FeedFactory builds an upstream feed from the upstream section of the config.
// log is already named after the feed.
type FeedFactory func(cfg models.MUpstreamConfig, nm *network.NetworkManager, log *logger.Logger) (interfaces.IFeed, error)

// FeedRegistry maps upstream kinds to their factories
type FeedRegistry struct {
	Logger    *logger.Logger
	mu        sync.RWMutex
	factories map[string]FeedFactory
}

// -----------------------------------------------------------------------------

// NewFeedRegistry returns a registry with the built-in "solana" and "relay" kinds.
func NewFeedRegistry(log *logger.Logger) *FeedRegistry {
	r := &FeedRegistry{
		Logger:    log,
		factories: make(map[string]FeedFactory),
	}

	r.factories["solana"] = func(cfg models.MUpstreamConfig, nm *network.NetworkManager, log *logger.Logger) (interfaces.IFeed, error) {
		// The solana ws client builds its own dialer.
		if set := nm.Overrides(); len(set) > 0 {
			return nil, helpers.NewConfigurationError("network %v is not supported by the solana upstream", set)
		}
		return solana.NewSolanaSource(cfg.Endpoint, cfg.Token, nm, log), nil
	}
	r.factories["relay"] = func(cfg models.MUpstreamConfig, nm *network.NetworkManager, log *logger.Logger) (interfaces.IFeed, error) {
		return relay.NewRelaySource(cfg.Endpoint, cfg.Token, nm, log), nil
	}
	return r
}

// -----------------------------------------------------------------------------

// Register adds a new upstream kind
func (r *FeedRegistry) Register(kind string, factory FeedFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("feed kind %s already registered", kind)
	}
	r.factories[kind] = factory
	r.Logger.Info("Registered feed kind: %s", kind)
	return nil
}

// -----------------------------------------------------------------------------

// Kinds returns the registered kinds in sorted order
func (r *FeedRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// -----------------------------------------------------------------------------

// Build creates the feed for cfg.Kind
func (r *FeedRegistry) Build(cfg models.MUpstreamConfig, nm *network.NetworkManager) (interfaces.IFeed, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Kind]
	r.mu.RUnlock()

	if !ok {
		return nil, helpers.NewConfigurationError("unknown upstream kind %q (known: %v)", cfg.Kind, r.Kinds())
	}

	feed, err := factory(cfg, nm, r.Logger.Named(feedLoggerName(cfg.Kind)))
	if err != nil {
		return nil, err
	}
	r.Logger.Info("Using %s feed at %s", feed.Name(), cfg.Endpoint)
	return feed, nil
}

// feedLoggerName turns "solana" into "SolanaSource".
func feedLoggerName(kind string) string {
	if kind == "" {
		return "Source"
	}
	return strings.ToUpper(kind[:1]) + kind[1:] + "Source"
}
