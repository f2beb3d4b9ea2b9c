package console

import "sync"

// Broadcaster fans a stream of notifications out to every subscribed
// connection (spec.md §5 "The notification channel is SPMC with
// best-effort fanout", §4.F "notification overflow drops slowest
// subscriber never producer"). Each subscriber gets its own bounded
// channel; a full channel is drained of its oldest entry before the new
// one is pushed, so a slow reader loses history instead of stalling the
// publisher.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]chan Response
	nextID      int
	bufferSize  int
}

// NewBroadcaster creates a Broadcaster whose subscriber channels hold
// bufferSize notifications before the oldest is dropped (the runtime
// config's notification_buffer_size, spec.md §6).
func NewBroadcaster(bufferSize int) *Broadcaster {
	return &Broadcaster{subscribers: map[int]chan Response{}, bufferSize: bufferSize}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function the caller must call when the connection closes.
func (b *Broadcaster) Subscribe() (<-chan Response, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Response, b.bufferSize)
	b.subscribers[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			close(existing)
			delete(b.subscribers, id)
		}
	}
}

// Publish delivers payload to every current subscriber, never blocking on
// a slow one.
func (b *Broadcaster) Publish(payload NotificationPayload) {
	resp := Response{Kind: KindNotification, Payload: marshal(payload)}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- resp:
		default:
			// Full: drop the oldest entry to make room, never block the
			// publisher and never drop this new notification instead.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- resp:
			default:
			}
		}
	}
}
