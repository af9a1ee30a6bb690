// Package bus provides the in-process event bus that fans ingested events out
// to live consumers (SSE streams, evaluators). Delivery is best-effort:
// publishing never blocks the ingest path.
package bus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/agentlensai/agentlens/pkg/models"
)

// subscriberBuffer is the per-subscriber channel capacity. When a subscriber
// falls behind, the oldest buffered message is dropped and the subscription's
// lagged counter is incremented.
const subscriberBuffer = 256

// Message kinds.
const (
	TypeEventIngested  = "event_ingested"
	TypeSessionUpdated = "session_updated"
)

// Message is the bus envelope. Event is set for event_ingested; Session for
// session_updated.
type Message struct {
	Type     string          `json:"type"`
	TenantID string          `json:"tenantId"`
	Event    *models.Event   `json:"event,omitempty"`
	Session  *models.Session `json:"session,omitempty"`
}

// Subscription is one consumer's view of the bus. Messages arrive on C;
// Lagged reports how many messages were dropped because the consumer was slow.
type Subscription struct {
	ID       string
	TenantID string
	C        chan Message

	mu     sync.Mutex
	lagged int64
	closed bool
}

// Lagged returns the number of messages dropped from this subscription so far.
func (s *Subscription) Lagged() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lagged
}

// Bus fans messages out to tenant-scoped subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]*Subscription)}
}

// Subscribe registers a consumer for one tenant's messages. The caller must
// Unsubscribe when done or the subscription leaks.
func (b *Bus) Subscribe(tenantID string) *Subscription {
	sub := &Subscription{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		C:        make(chan Message, subscriberBuffer),
	}
	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub.ID)
	b.mu.Unlock()

	sub.mu.Lock()
	if !sub.closed {
		sub.closed = true
		close(sub.C)
	}
	sub.mu.Unlock()
}

// PublishEvent delivers an event_ingested message to the event's tenant.
func (b *Bus) PublishEvent(ev *models.Event) {
	b.publish(Message{Type: TypeEventIngested, TenantID: ev.TenantID, Event: ev})
}

// PublishSession delivers a session_updated message to the session's tenant.
func (b *Bus) PublishSession(sess *models.Session) {
	b.publish(Message{Type: TypeSessionUpdated, TenantID: sess.TenantID, Session: sess})
}

// publish delivers to every subscriber of the message's tenant. Never blocks:
// a full subscriber buffer drops its oldest message.
func (b *Bus) publish(msg Message) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.TenantID == msg.TenantID {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.mu.Lock()
		if sub.closed {
			sub.mu.Unlock()
			continue
		}
		select {
		case sub.C <- msg:
		default:
			// Drop the oldest buffered message to make room.
			select {
			case <-sub.C:
				sub.lagged++
			default:
			}
			select {
			case sub.C <- msg:
			default:
				sub.lagged++
			}
		}
		if sub.lagged > 0 && sub.lagged%100 == 1 {
			slog.Warn("Slow bus subscriber dropping messages",
				"subscription_id", sub.ID, "tenant_id", sub.TenantID, "lagged", sub.lagged)
		}
		sub.mu.Unlock()
	}
}

// SubscriberCount returns the number of active subscriptions for a tenant.
func (b *Bus) SubscriberCount(tenantID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, sub := range b.subs {
		if sub.TenantID == tenantID {
			n++
		}
	}
	return n
}
