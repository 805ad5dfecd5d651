package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the per-subscriber buffer size used when no
// capacity is configured.
const DefaultCapacity = 100

// ErrSubscriberClosed is returned by Recv once a subscription has been
// closed and its buffer drained.
var ErrSubscriberClosed = errors.New("subscriber closed")

// Broadcaster is a bounded, lossy publish/subscribe channel of
// serialized messages. Each subscriber has an independent buffer; a
// subscriber that falls more than the capacity behind loses its oldest
// messages and is told how many it missed. Publishers never block on
// subscribers.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[uint64]*Subscriber
	nextID   uint64
	capacity int
}

// Subscriber is one receive handle on a Broadcaster. Receiving starts
// at subscription time; messages published earlier are not replayed.
type Subscriber struct {
	id        uint64
	ch        chan string
	lagged    atomic.Uint64
	owner     *Broadcaster
	closeOnce sync.Once
}

// NewBroadcaster creates a broadcaster whose subscribers each buffer
// up to capacity messages.
func NewBroadcaster(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Broadcaster{
		subs:     make(map[uint64]*Subscriber),
		capacity: capacity,
	}
}

// Subscribe returns a fresh receive handle.
func (b *Broadcaster) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscriber{
		id:    b.nextID,
		ch:    make(chan string, b.capacity),
		owner: b,
	}
	b.nextID++
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers msg to every current subscriber. Full subscriber
// buffers drop their oldest entry instead of blocking the publisher;
// the drop is surfaced to that subscriber as a lag count.
func (b *Broadcaster) Publish(msg string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- msg:
			continue
		default:
		}
		// Buffer full: evict the oldest message, then try once more.
		select {
		case <-sub.ch:
			sub.lagged.Add(1)
		default:
		}
		select {
		case sub.ch <- msg:
		default:
			sub.lagged.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Recv waits for the next message. When the subscriber has missed
// messages since the last call, Recv returns lagged > 0 with an empty
// message instead; the next call resumes from the oldest retained
// message. Returns ErrSubscriberClosed after Close once the buffer is
// drained, or the context error if ctx is done first.
func (s *Subscriber) Recv(ctx context.Context) (msg string, lagged uint64, err error) {
	if n := s.lagged.Swap(0); n > 0 {
		return "", n, nil
	}
	select {
	case m, ok := <-s.ch:
		if !ok {
			return "", 0, ErrSubscriberClosed
		}
		return m, 0, nil
	case <-ctx.Done():
		return "", 0, ctx.Err()
	}
}

// Close detaches the subscriber from the broadcaster. Safe to call
// multiple times and concurrently with Publish.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.owner.mu.Lock()
		delete(s.owner.subs, s.id)
		close(s.ch)
		s.owner.mu.Unlock()
	})
}

// Registry tracks connected clients (client id to peer address) for
// observability. It never sits on the message delivery path.
type Registry struct {
	mu      sync.RWMutex
	clients map[uint64]string
	nextID  atomic.Uint64
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[uint64]string)}
}

// Register records a new client and returns its process-unique id.
// Ids are monotonically increasing and never reused.
func (r *Registry) Register(addr string) uint64 {
	id := r.nextID.Add(1) - 1
	r.mu.Lock()
	r.clients[id] = addr
	r.mu.Unlock()
	return id
}

// Unregister removes a client. Reports whether the id was present.
func (r *Registry) Unregister(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	return true
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Addr looks up the peer address of a registered client.
func (r *Registry) Addr(id uint64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.clients[id]
	return addr, ok
}
