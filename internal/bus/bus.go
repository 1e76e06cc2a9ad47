// Package bus implements the in-process topic-keyed publish/subscribe fabric
// connecting ingress, the orchestrator, egress and the background schedulers.
package bus

import (
	"sync"

	"github.com/google/uuid"
)

// Topic identifies a BusMessage variant. Topics are derived deterministically
// from the message's concrete type by its Topic method.
type Topic string

const (
	TopicHandleIncomingMessage      Topic = "handle_incoming_message"
	TopicCancelTask                 Topic = "cancel_task"
	TopicMessageAccepted            Topic = "message_accepted"
	TopicReplyReady                 Topic = "reply_ready"
	TopicActionReady                Topic = "action_ready"
	TopicTaskFailed                 Topic = "task_failed"
	TopicNeedHumanApproval          Topic = "need_human_approval"
	TopicStreamDelta                Topic = "stream_delta"
	TopicMemoryWriteRequested       Topic = "memory_write_requested"
	TopicMemoryReadRequested        Topic = "memory_read_requested"
	TopicConsolidationCompleted     Topic = "consolidation_completed"
	TopicRunScheduledConsolidation  Topic = "run_scheduled_consolidation"
	TopicScheduledTaskTriggered     Topic = "scheduled_task_triggered"
	TopicScheduledTaskCompleted     Topic = "scheduled_task_completed"
	TopicDeliverAnnounce            Topic = "deliver_announce"
	TopicWaitTaskCompleted          Topic = "wait_task_completed"
)

// BusMessage is the closed union of events crossing the bus. Concrete types
// implement it with an unexported marker method so only this package's
// event types satisfy it; each variant's Topic method returns its fixed topic.
type BusMessage interface {
	busMessage()
	Topic() Topic
}

// defaultCapacity is the per-subscriber channel depth used when a caller
// does not request a specific one via SubscribeWithCapacity.
const defaultCapacity = 64

// Bus is a topic-keyed pub/sub. Publishes never block: if a subscriber's
// queue is full the event is dropped for that subscriber only. The zero
// value is not usable; construct with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic]map[string]chan BusMessage

	onDrop func(topic Topic)
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithDropHook registers a callback invoked (synchronously, from the
// publishing goroutine) whenever an event is dropped due to a full
// subscriber queue. Intended for metrics; must not block.
func WithDropHook(fn func(topic Topic)) Option {
	return func(b *Bus) { b.onDrop = fn }
}

// New constructs an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{subscribers: make(map[Topic]map[string]chan BusMessage)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription is returned by Subscribe and used to stop receiving events.
type Subscription struct {
	bus   *Bus
	topic Topic
	id    string
	C     <-chan BusMessage
}

// Unsubscribe removes this subscription. The channel is closed; no further
// sends occur. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subscribers[s.topic]
	if subs == nil {
		return
	}
	if ch, ok := subs[s.id]; ok {
		delete(subs, s.id)
		close(ch)
	}
}

// Subscribe registers for a topic with the default queue capacity.
func (b *Bus) Subscribe(topic Topic) *Subscription {
	return b.SubscribeWithCapacity(topic, defaultCapacity)
}

// SubscribeWithCapacity registers for a topic with an explicit bounded queue
// depth. A small capacity trades memory for a higher drop rate under load;
// callers processing slowly should still expect drops, never backpressure.
func (b *Bus) SubscribeWithCapacity(topic Topic, capacity int) *Subscription {
	ch := make(chan BusMessage, capacity)
	id := uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[string]chan BusMessage)
	}
	b.subscribers[topic][id] = ch

	return &Subscription{bus: b, topic: topic, id: id, C: ch}
}

// Publish fans msg out to every current subscriber of its topic. It never
// blocks: a subscriber whose queue is full silently misses this event.
func (b *Bus) Publish(msg BusMessage) {
	topic := msg.Topic()

	// Sends stay under the read lock: they are non-blocking, and Unsubscribe
	// closes channels only under the write lock, so a send can never race a
	// close.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- msg:
		default:
			if b.onDrop != nil {
				b.onDrop(topic)
			}
		}
	}
}

// SubscriberCount reports how many active subscriptions exist for topic.
// Intended for tests and diagnostics.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
