// Package broadcast fans document mutations out to live editing sessions.
// Delivery is in-memory, best-effort, and at most once per subscriber per
// publish; nothing is persisted or replayed.
package broadcast

import (
	"sync"
)

const defaultStreamBuffer = 16

// Message carries the post-mutation content of a document to subscribers.
type Message struct {
	DocumentID string
	Title      string
	Body       string
}

// Broadcaster is an in-process publish/subscribe hub keyed by document id.
// It is constructed at service start, injected where needed, and torn down
// with Close at shutdown.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*Subscription
	nextID      int64
	bufferSize  int
	closed      bool
}

// Subscription is the handle returned by Subscribe. Cancel is idempotent and
// safe to call after the broadcaster has shut down.
type Subscription struct {
	broadcaster *Broadcaster
	documentID  string
	id          int64

	mu     sync.Mutex
	closed bool
	stream chan Message
}

// Stream returns the channel on which messages for the subscribed document
// arrive. The channel is closed when the subscription is cancelled or the
// broadcaster shuts down.
func (s *Subscription) Stream() <-chan Message {
	return s.stream
}

// Cancel unsubscribes and closes the stream. Calling it more than once, or
// after the broadcaster has shut down, is a no-op.
func (s *Subscription) Cancel() {
	s.broadcaster.remove(s.documentID, s.id)
	s.shut()
}

// deliver performs a non-blocking buffered send. A cancelled subscription
// skips the message; a full buffer drops it.
func (s *Subscription) deliver(message Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.stream <- message:
	default:
	}
}

func (s *Subscription) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.stream)
}

// NewBroadcaster constructs an empty hub.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]map[int64]*Subscription),
		bufferSize:  defaultStreamBuffer,
	}
}

// Subscribe registers interest in one document. Multiple sessions may
// subscribe to the same document concurrently. After Close, the returned
// subscription is already cancelled and its stream closed.
func (b *Broadcaster) Subscribe(documentID string) *Subscription {
	subscription := &Subscription{
		broadcaster: b,
		documentID:  documentID,
		stream:      make(chan Message, b.bufferSize),
	}

	b.mu.Lock()
	if b.closed || documentID == "" {
		b.mu.Unlock()
		subscription.shut()
		return subscription
	}
	b.nextID++
	subscription.id = b.nextID
	if _, ok := b.subscribers[documentID]; !ok {
		b.subscribers[documentID] = make(map[int64]*Subscription)
	}
	b.subscribers[documentID][subscription.id] = subscription
	b.mu.Unlock()

	return subscription
}

// Publish delivers the content to every current subscriber of the document.
// Deliveries never block the publisher: a stalled subscriber drops the
// message rather than delaying its peers or the writer.
func (b *Broadcaster) Publish(documentID, title, body string) {
	if documentID == "" {
		return
	}
	message := Message{DocumentID: documentID, Title: title, Body: body}

	b.mu.RLock()
	registered := b.subscribers[documentID]
	if len(registered) == 0 {
		b.mu.RUnlock()
		return
	}
	targets := make([]*Subscription, 0, len(registered))
	for _, subscription := range registered {
		targets = append(targets, subscription)
	}
	b.mu.RUnlock()

	for _, subscription := range targets {
		subscription.deliver(message)
	}
}

// Close cancels every live subscription and refuses new ones. Publishing to a
// closed broadcaster silently drops the message.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	remaining := make([]*Subscription, 0)
	for _, registered := range b.subscribers {
		for _, subscription := range registered {
			remaining = append(remaining, subscription)
		}
	}
	b.subscribers = make(map[string]map[int64]*Subscription)
	b.mu.Unlock()

	for _, subscription := range remaining {
		subscription.shut()
	}
}

func (b *Broadcaster) remove(documentID string, subscriptionID int64) {
	b.mu.Lock()
	registered := b.subscribers[documentID]
	if registered != nil {
		delete(registered, subscriptionID)
		if len(registered) == 0 {
			delete(b.subscribers, documentID)
		}
	}
	b.mu.Unlock()
}
