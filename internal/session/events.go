package session

import (
	"context"
	"sync"
)

// AuthEventType enumerates provider session-change notifications.
type AuthEventType string

const (
	AuthEventSignedIn  AuthEventType = "signed-in"
	AuthEventSignedOut AuthEventType = "signed-out"
)

// AuthEvent is one provider session-change notification.
type AuthEvent struct {
	Type        AuthEventType
	Email       string
	AccessToken string
}

// Notification tells subscribers the controller's session changed. Session is
// nil after a sign-out or an untrusted hydration.
type Notification struct {
	Session *Session
}

// notifier fans session-change notifications out to UI subscribers.
// Non-blocking publish: a subscriber that stops draining drops messages
// rather than stalling the controller.
type notifier struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Notification
	nextID      int64
	bufferSize  int
}

func newNotifier() *notifier {
	return &notifier{
		subscribers: make(map[int64]chan Notification),
		bufferSize:  16,
	}
}

func (n *notifier) subscribe(ctx context.Context) (<-chan Notification, func()) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	stream := make(chan Notification, n.bufferSize)
	n.subscribers[id] = stream
	n.mu.Unlock()

	cleanup := func() {
		n.mu.Lock()
		delete(n.subscribers, id)
		n.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

func (n *notifier) publish(message Notification) {
	n.mu.RLock()
	streams := make([]chan Notification, 0, len(n.subscribers))
	for _, stream := range n.subscribers {
		streams = append(streams, stream)
	}
	n.mu.RUnlock()
	for _, stream := range streams {
		select {
		case stream <- message:
		default:
		}
	}
}

// eventSequencer implements last-notification-wins: each incoming auth event
// takes a monotonic sequence number, and a hydration result is committed only
// if no newer event has started since.
type eventSequencer struct {
	mu     sync.Mutex
	latest uint64
}

func (s *eventSequencer) next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest++
	return s.latest
}

func (s *eventSequencer) isCurrent(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest == seq
}
