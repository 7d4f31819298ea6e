package interfaces

import "laserstream-relay/src/models"

// -----------------------------------------------------------------------------
// IPublisher receives every event observed upstream, in arrival order.
// Implementations must not block the caller on slow consumers.
// -----------------------------------------------------------------------------

type IPublisher interface {
	Publish(msg models.Message)
}

// -----------------------------------------------------------------------------
// ILatestReader exposes the latest-state cache read side.
// -----------------------------------------------------------------------------

type ILatestReader interface {
	Get() (models.Message, bool)
}
