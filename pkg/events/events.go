package events

import (
	"sync"
	"time"
)

// EventType names one of the observable event kinds emitted by the core
// components (spec §6).
type EventType string

const (
	UserAdded             EventType = "USER_ADDED"
	UserStatusChanged     EventType = "USER_STATUS_CHANGED"
	UserDeleted           EventType = "USER_DELETED"
	GodpackAdded          EventType = "GODPACK_ADDED"
	GodpackStateChanged   EventType = "GODPACK_STATE_CHANGED"
	GodpackRatioChanged   EventType = "GODPACK_RATIO_CHANGED"
	GodpackDeleted        EventType = "GODPACK_DELETED"
	TestResultAdded       EventType = "TEST_RESULT_ADDED"
	ExpirationWarningSent EventType = "EXPIRATION_WARNING_SENT"
	DatabaseVacuum        EventType = "DATABASE_VACUUM"
	DatabaseAnalyze       EventType = "DATABASE_ANALYZE"
	DatabaseOptimize      EventType = "DATABASE_OPTIMIZE"
	DatabaseRestored      EventType = "DATABASE_RESTORED"
	DataCleanup           EventType = "DATA_CLEANUP"
	DataExport            EventType = "DATA_EXPORT"
	DataImport            EventType = "DATA_IMPORT"
	DatabaseShutdown      EventType = "DATABASE_SHUTDOWN"
)

// Severity mirrors types.Severity without importing it, keeping this
// package free of a dependency on the storage-facing entity types.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityCritical Severity = "CRITICAL"
)

// Event is one notification carried over the bus.
type Event struct {
	ID        string
	Type      EventType
	Severity  Severity
	Timestamp time.Time
	Message   string
	// ActorWorker is the worker id that triggered the event, 0 when the
	// event originates from a system task rather than a worker action.
	ActorWorker int64
	Metadata    map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// DropHandler is invoked when a full subscriber buffer forces the oldest
// queued event to be discarded to make room for a new one. Callers use
// this to record a WARN SystemEvent without this package depending on
// storage.
type DropHandler func(sub Subscriber, dropped *Event)

// Broker fans out published events to every subscriber. Delivery is
// best-effort and never blocks the publisher: a subscriber whose buffer
// is full has its oldest event dropped to make room (spec §7).
type Broker struct {
	subscribers   map[Subscriber]bool
	mu            sync.RWMutex
	eventCh       chan *Event
	stopCh        chan struct{}
	onDrop        DropHandler
	subBufferSize int
}

// DefaultSubscriberBufferCapacity mirrors the spec §6 config default for
// subscriber_buffer_capacity.
const DefaultSubscriberBufferCapacity = 1024

// NewBroker creates a broker with the default subscriber buffer capacity.
// onDrop may be nil.
func NewBroker(onDrop DropHandler) *Broker {
	return NewBrokerWithBufferSize(onDrop, DefaultSubscriberBufferCapacity)
}

// NewBrokerWithBufferSize creates a broker whose subscriber channels are
// sized bufSize (spec §6 subscriber_buffer_capacity), onDrop may be nil.
func NewBrokerWithBufferSize(onDrop DropHandler, bufSize int) *Broker {
	if bufSize <= 0 {
		bufSize = DefaultSubscriberBufferCapacity
	}
	return &Broker{
		subscribers:   make(map[Subscriber]bool),
		eventCh:       make(chan *Event, 100),
		stopCh:        make(chan struct{}),
		onDrop:        onDrop,
		subBufferSize: bufSize,
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, b.subBufferSize)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			b.dropOldest(sub, event)
		}
	}
}

// dropOldest discards the oldest queued event for sub and enqueues event
// in its place, reporting the discard via onDrop.
func (b *Broker) dropOldest(sub Subscriber, event *Event) {
	var dropped *Event
	select {
	case dropped = <-sub:
	default:
	}

	select {
	case sub <- event:
	default:
		// sub was unsubscribed between the select above and here; drop event.
	}

	if dropped != nil && b.onDrop != nil {
		b.onDrop(sub, dropped)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
