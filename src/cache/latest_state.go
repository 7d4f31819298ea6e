package cache

import (
	"sync"
	"sync/atomic"

	"laserstream-relay/src/models"
)

// -----------------------------------------------------------------------------
// LatestState
// -----------------------------------------------------------------------------

// LatestState is a single-slot store of the most recent slot-class update plus
// a one-shot "ingestion started" gate. Reads never block; writers serialize on
// a short critical section so the slot tie-break is atomic.
type LatestState struct {
	started atomic.Bool
	latest  atomic.Pointer[entry]
	writeMu sync.Mutex
}

type entry struct {
	msg models.Message
}

// -----------------------------------------------------------------------------

func NewLatestState() *LatestState {
	return &LatestState{}
}

// -----------------------------------------------------------------------------

// StartOnce flips the started flag false -> true. Exactly one caller ever sees true.
func (c *LatestState) StartOnce() bool {
	return c.started.CompareAndSwap(false, true)
}

func (c *LatestState) Started() bool {
	return c.started.Load()
}

// -----------------------------------------------------------------------------

// Get returns the cached message, or false if nothing has arrived yet.
func (c *LatestState) Get() (models.Message, bool) {
	e := c.latest.Load()
	if e == nil {
		return nil, false
	}
	return e.msg, true
}

// Put unconditionally replaces the cached message.
func (c *LatestState) Put(msg models.Message) {
	if msg == nil {
		return
	}
	c.writeMu.Lock()
	c.latest.Store(&entry{msg: msg})
	c.writeMu.Unlock()
}

// PutIfNewer replaces the cached message unless both carry a slot number and
// the incoming one is lower. Returns whether the cache changed.
func (c *LatestState) PutIfNewer(msg models.Message) bool {
	if msg == nil {
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if cur := c.latest.Load(); cur != nil {
		curSlot, curOK := models.SlotOf(cur.msg)
		newSlot, newOK := models.SlotOf(msg)
		if curOK && newOK && newSlot < curSlot {
			return false
		}
	}

	c.latest.Store(&entry{msg: msg})
	return true
}
