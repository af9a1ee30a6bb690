package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlensai/agentlens/pkg/models"
)

func testEvent(tenantID, id string) *models.Event {
	return &models.Event{
		ID:        id,
		TenantID:  tenantID,
		SessionID: "sess-1",
		AgentID:   "agent-1",
		EventType: models.EventCustom,
		Severity:  models.SeverityInfo,
		Timestamp: time.Now().UTC(),
	}
}

func TestPublishDeliversToTenantSubscribers(t *testing.T) {
	b := New()
	subA := b.Subscribe("tenant-a")
	subB := b.Subscribe("tenant-b")
	defer b.Unsubscribe(subA)
	defer b.Unsubscribe(subB)

	b.PublishEvent(testEvent("tenant-a", "ev-1"))

	select {
	case msg := <-subA.C:
		assert.Equal(t, TypeEventIngested, msg.Type)
		require.NotNil(t, msg.Event)
		assert.Equal(t, "ev-1", msg.Event.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive message")
	}

	select {
	case msg := <-subB.C:
		t.Fatalf("cross-tenant delivery: %s", msg.Type)
	default:
	}
}

func TestPublishSession(t *testing.T) {
	b := New()
	sub := b.Subscribe("tenant-a")
	defer b.Unsubscribe(sub)

	b.PublishSession(&models.Session{SessionID: "sess-1", TenantID: "tenant-a"})

	select {
	case msg := <-sub.C:
		assert.Equal(t, TypeSessionUpdated, msg.Type)
		require.NotNil(t, msg.Session)
		assert.Equal(t, "sess-1", msg.Session.SessionID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive message")
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := New()
	sub := b.Subscribe("tenant-a")
	defer b.Unsubscribe(sub)

	// Overfill the buffer without draining.
	for i := 0; i < subscriberBuffer+10; i++ {
		b.PublishEvent(testEvent("tenant-a", "ev"))
	}

	assert.Equal(t, int64(10), sub.Lagged())
	assert.Len(t, sub.C, subscriberBuffer)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("tenant-a")
	b.Unsubscribe(sub)

	_, open := <-sub.C
	require.False(t, open)

	// Publishing after unsubscribe must not panic.
	b.PublishEvent(testEvent("tenant-a", "ev-2"))
	assert.Equal(t, 0, b.SubscriberCount("tenant-a"))
}
