package interfaces

import (
	"context"

	"laserstream-relay/src/models"
)

// -----------------------------------------------------------------------------
// IFeed is the upstream collaborator boundary: something that can open a
// cancellable subscription to blockchain update events.
// -----------------------------------------------------------------------------

type IFeed interface {

	// Name returns the unique identifier of the feed
	Name() string

	// -----------------------------------------------------------------------------

	// Subscribe performs the transport handshake and sends the subscription
	// request described by filter. Cancelling ctx tears the stream down.
	Subscribe(ctx context.Context, filter models.MFilter) (IStream, error)
}

// -----------------------------------------------------------------------------
// IStream is one open upstream subscription.
// -----------------------------------------------------------------------------

type IStream interface {

	// Recv blocks for the next event. A *helpers.DecodeError means a single
	// frame was dropped; any other error means the subscription is gone.
	Recv(ctx context.Context) (models.Message, error)

	// -----------------------------------------------------------------------------

	// Close releases the subscription and unblocks a pending Recv.
	Close() error
}
