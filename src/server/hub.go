package server

import (
	"sync"
	"time"

	"laserstream-relay/src/interfaces"
	"laserstream-relay/src/logger"
	"laserstream-relay/src/metrics"
	"laserstream-relay/src/models"

	"github.com/google/uuid"
)

const defaultMailboxSize = 256

// -----------------------------------------------------------------------------
// Mailbox
// -----------------------------------------------------------------------------

// Mailbox is a bounded outbound queue for one client. Offer never blocks and
// never panics after Close; the data channel itself is never closed.
type Mailbox struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func NewMailbox(size int) *Mailbox {
	if size <= 0 {
		size = defaultMailboxSize
	}
	return &Mailbox{
		ch:   make(chan []byte, size),
		done: make(chan struct{}),
	}
}

// Offer enqueues frame, returning false if the mailbox is closed or full.
func (m *Mailbox) Offer(frame []byte) bool {
	select {
	case <-m.done:
		return false
	default:
	}

	select {
	case m.ch <- frame:
		return true
	default:
		return false
	}
}

// Close is idempotent.
func (m *Mailbox) Close() {
	m.once.Do(func() { close(m.done) })
}

func (m *Mailbox) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *Mailbox) Messages() <-chan []byte { return m.ch }
func (m *Mailbox) Done() <-chan struct{}   { return m.done }
func (m *Mailbox) Len() int                { return len(m.ch) }

// -----------------------------------------------------------------------------
// ClientHandle
// -----------------------------------------------------------------------------

type ClientHandle struct {
	ID          uint64
	Session     uuid.UUID
	Mailbox     *Mailbox
	ConnectedAt time.Time
}

// -----------------------------------------------------------------------------
// Broadcaster
// -----------------------------------------------------------------------------

// Broadcaster owns the registry of connected clients. Broadcast passes hold the
// read lock while enqueuing and take the write lock only to prune dead entries.
type Broadcaster struct {
	Logger *logger.Logger

	mu          sync.RWMutex
	clients     map[uint64]*ClientHandle
	nextID      uint64
	mailboxSize int
	latest      interfaces.ILatestReader
}

// -----------------------------------------------------------------------------

// NewBroadcaster creates an empty registry. If latest is non-nil, newly
// registered clients get the cached value as their first frame.
func NewBroadcaster(mailboxSize int, latest interfaces.ILatestReader, log *logger.Logger) *Broadcaster {
	if mailboxSize <= 0 {
		mailboxSize = defaultMailboxSize
	}
	return &Broadcaster{
		Logger:      log,
		clients:     make(map[uint64]*ClientHandle),
		mailboxSize: mailboxSize,
		latest:      latest,
	}
}

// -----------------------------------------------------------------------------

// Register creates a handle with a fresh mailbox and inserts it.
func (b *Broadcaster) Register() *ClientHandle {
	handle := &ClientHandle{
		Session:     uuid.New(),
		Mailbox:     NewMailbox(b.mailboxSize),
		ConnectedAt: time.Now(),
	}

	// Greeting goes in before the handle is visible to broadcasts so it is
	// always the first frame the client sees.
	if b.latest != nil {
		if msg, ok := b.latest.Get(); ok {
			if frame, err := models.Encode(msg); err == nil {
				handle.Mailbox.Offer(frame)
			}
		}
	}

	b.mu.Lock()
	b.nextID++
	handle.ID = b.nextID
	b.clients[handle.ID] = handle
	count := len(b.clients)
	b.mu.Unlock()

	metrics.ClientsConnected.Set(float64(count))
	return handle
}

// -----------------------------------------------------------------------------

// Unregister removes a handle and closes its mailbox. Returns false if it was
// already gone.
func (b *Broadcaster) Unregister(id uint64) bool {
	b.mu.Lock()
	handle, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
	}
	count := len(b.clients)
	b.mu.Unlock()

	if !ok {
		return false
	}
	handle.Mailbox.Close()
	metrics.ClientsConnected.Set(float64(count))
	return true
}

// -----------------------------------------------------------------------------

func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// -----------------------------------------------------------------------------

// Publish implements interfaces.IPublisher.
func (b *Broadcaster) Publish(msg models.Message) {
	if err := b.Broadcast(msg); err != nil {
		b.Logger.Error("Failed to encode %s for broadcast: %v", msg.Type(), err)
	}
}

// Broadcast serializes msg once and fans it out to every registered mailbox.
func (b *Broadcaster) Broadcast(msg models.Message) error {
	frame, err := models.Encode(msg)
	if err != nil {
		return err
	}
	b.BroadcastFrame(frame)
	return nil
}

// BroadcastFrame enqueues an already-encoded frame. Clients whose mailbox is
// closed or full are removed after the pass completes.
func (b *Broadcaster) BroadcastFrame(frame []byte) {
	var dead []*ClientHandle

	b.mu.RLock()
	for _, handle := range b.clients {
		if !handle.Mailbox.Offer(frame) {
			dead = append(dead, handle)
		}
	}
	b.mu.RUnlock()

	metrics.BroadcastsTotal.Inc()
	if len(dead) == 0 {
		return
	}

	b.mu.Lock()
	for _, handle := range dead {
		if cur, ok := b.clients[handle.ID]; ok && cur == handle {
			delete(b.clients, handle.ID)
		}
	}
	count := len(b.clients)
	b.mu.Unlock()

	for _, handle := range dead {
		handle.Mailbox.Close()
		metrics.ClientsEvicted.Inc()
		b.Logger.Warning("Removed client %d (session %s): mailbox full or closed", handle.ID, handle.Session)
	}
	metrics.ClientsConnected.Set(float64(count))
}

// -----------------------------------------------------------------------------

// CloseAll empties the registry, closing every mailbox.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	handles := make([]*ClientHandle, 0, len(b.clients))
	for id, handle := range b.clients {
		handles = append(handles, handle)
		delete(b.clients, id)
	}
	b.mu.Unlock()

	for _, handle := range handles {
		handle.Mailbox.Close()
	}
	metrics.ClientsConnected.Set(0)
}
