// Package events provides an in-process change feed: the engine publishes a
// notification whenever a collection's rows or layout change.
package events

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// Type is the kind of change a notification reports.
type Type int

const (
	// DocumentsInserted reports an applied insert.
	DocumentsInserted Type = iota
	// SchemaEvolved reports new tables or columns.
	SchemaEvolved
	// CollectionDropped reports a removed collection.
	CollectionDropped
)

func (t Type) String() string {
	switch t {
	case DocumentsInserted:
		return "documents_inserted"
	case SchemaEvolved:
		return "schema_evolved"
	case CollectionDropped:
		return "collection_dropped"
	default:
		return "unknown"
	}
}

// Notification describes one change of a collection.
type Notification struct {
	Type       Type
	Collection string
	// LSN is the journal entry the change came from, 0 without a journal
	LSN           uint64
	Documents     int
	SchemaVersion int
	Timestamp     int64
}

// Subscriber receives the notifications matching its filters on Ch.
type Subscriber struct {
	ID      string
	Filters []string
	Ch      chan Notification

	mu     sync.Mutex
	closed bool
}

func (s *Subscriber) matches(collection string) bool {
	if len(s.Filters) == 0 {
		return true
	}
	for _, f := range s.Filters {
		if f == "" || strings.HasPrefix(collection, f) {
			return true
		}
	}
	return false
}

// deliver never blocks: a notification for a full channel is dropped.
func (s *Subscriber) deliver(n Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.Ch <- n:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.Ch)
	}
}

// Notifier fans notifications out to subscribers.
type Notifier struct {
	subscribers *xsync.MapOf[string, *Subscriber]
	bufferSize  int
	dropped     atomic.Int64
}

// NewNotifier creates a notifier whose subscriber channels hold bufferSize
// notifications.
func NewNotifier(bufferSize int) *Notifier {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Notifier{
		subscribers: xsync.NewMapOf[string, *Subscriber](),
		bufferSize:  bufferSize,
	}
}

// Publish sends n to every matching subscriber without blocking.
func (n *Notifier) Publish(notif Notification) {
	if notif.Timestamp == 0 {
		notif.Timestamp = time.Now().UnixNano()
	}
	n.subscribers.Range(func(_ string, sub *Subscriber) bool {
		if sub.matches(notif.Collection) && !sub.deliver(notif) {
			n.dropped.Add(1)
		}
		return true
	})
}

// Subscribe registers a subscriber for the collections whose names start
// with one of filters, or every collection when filters is empty.
func (n *Notifier) Subscribe(filters ...string) *Subscriber {
	sub := &Subscriber{
		ID:      uuid.New().String(),
		Filters: filters,
		Ch:      make(chan Notification, n.bufferSize),
	}
	n.subscribers.Store(sub.ID, sub)
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (n *Notifier) Unsubscribe(id string) {
	if sub, ok := n.subscribers.LoadAndDelete(id); ok {
		sub.close()
	}
}

// Close unsubscribes everyone.
func (n *Notifier) Close() {
	n.subscribers.Range(func(id string, _ *Subscriber) bool {
		n.Unsubscribe(id)
		return true
	})
}

// Subscribers returns the number of registered subscribers.
func (n *Notifier) Subscribers() int { return n.subscribers.Size() }

// Dropped returns how many notifications were dropped on full channels.
func (n *Notifier) Dropped() int64 { return n.dropped.Load() }
