package interfaces

import (
	"context"

	"laserstream-relay/src/models"
)

// -----------------------------------------------------------------------------
// ICheckpointStore persists the single latest value across restarts.
// -----------------------------------------------------------------------------

type ICheckpointStore interface {

	// -----------------------------------------------------------------------------

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// SaveLatest overwrites the checkpoint stored for origin.
	SaveLatest(ctx context.Context, origin string, msg models.Message) error

	// -----------------------------------------------------------------------------

	// LoadLatest returns the checkpoint stored for origin, or nil if none was saved.
	LoadLatest(ctx context.Context, origin string) (models.Message, error)

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
