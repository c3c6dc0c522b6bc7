package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventPhaseStarted        EventType = "phase.started"
	EventPhaseCompleted      EventType = "phase.completed"
	EventPhaseFailed         EventType = "phase.failed"
	EventVMSSHReady          EventType = "vm.ssh_ready"
	EventNodeRestarted       EventType = "node.restarted"
	EventInventoryGenerated  EventType = "inventory.generated"
	EventRegistryUnavailable EventType = "registry.unavailable"
)

// Event represents something that happened during a run against an environment
type Event struct {
	ID          string
	RunID       string
	Type        EventType
	Environment string
	Timestamp   time.Time
	Message     string
	Metadata    map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker fans events out to subscribers. Slow subscribers miss events rather
// than blocking the run.
type Broker struct {
	runID       string
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a broker with a fresh run ID
func NewBroker() *Broker {
	return &Broker{
		runID:       uuid.NewString(),
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// RunID identifies every event published through this broker
func (b *Broker) RunID() string {
	return b.runID
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker; it is safe to call more than once
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish publishes an event to all subscribers. A nil broker discards events.
func (b *Broker) Publish(event *Event) {
	if b == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.RunID == "" {
		event.RunID = b.runID
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
		// queue full, event dropped
	}
}

// PublishPhase publishes a phase lifecycle event
func (b *Broker) PublishPhase(eventType EventType, environment, phase, message string) {
	b.Publish(&Event{
		Type:        eventType,
		Environment: environment,
		Message:     message,
		Metadata:    map[string]string{"phase": phase},
	})
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
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
