package sink

import (
	"laserstream-relay/src/interfaces"
	"laserstream-relay/src/models"
)

// Tee fans one event stream out to several publishers, in order.
type Tee []interfaces.IPublisher

func NewTee(publishers ...interfaces.IPublisher) Tee {
	out := make(Tee, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (t Tee) Publish(msg models.Message) {
	for _, p := range t {
		p.Publish(msg)
	}
}
