package hashchain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentlensai/agentlens/pkg/models"
)

// ComputeHash returns the hex SHA-256 of the event's canonical serialization.
// The hash covers {id, timestamp, sessionId, agentId, eventType, severity,
// payload, metadata, prevHash}; prevHash serializes as the JSON literal null
// for the first event of a session, and absent metadata is omitted entirely.
func ComputeHash(ev *models.Event) (string, error) {
	fields := map[string]any{
		"id":        ev.ID,
		"timestamp": ev.Timestamp.UTC().Format(time.RFC3339Nano),
		"sessionId": ev.SessionID,
		"agentId":   ev.AgentID,
		"eventType": string(ev.EventType),
		"severity":  string(ev.Severity),
		"payload":   ev.Payload,
	}
	if len(ev.Metadata) > 0 {
		fields["metadata"] = ev.Metadata
	}
	if ev.PrevHash != nil {
		fields["prevHash"] = *ev.PrevHash
	} else {
		fields["prevHash"] = nil
	}

	canonical, err := CanonicalJSON(fields)
	if err != nil {
		return "", fmt.Errorf("canonical serialization failed: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// HashContent returns the hex SHA-256 of arbitrary text. Used for embedding
// content addressing and API key storage.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Verify walks a session timeline in order and reports whether the chain
// holds: the first event's prevHash is null, each subsequent prevHash equals
// the predecessor's hash, and every stored hash matches recomputation.
func Verify(events []*models.Event) bool {
	var prev *string
	for i, ev := range events {
		if i == 0 {
			if ev.PrevHash != nil {
				return false
			}
		} else {
			if ev.PrevHash == nil || prev == nil || *ev.PrevHash != *prev {
				return false
			}
		}
		computed, err := ComputeHash(ev)
		if err != nil || computed != ev.Hash {
			return false
		}
		prev = &ev.Hash
	}
	return true
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewEventID returns a fresh lexicographically-sortable ULID.
func NewEventID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// RawJSONEqual reports whether two raw JSON documents are canonically equal.
// Used by tests and by the store when deduplicating re-submitted payloads.
func RawJSONEqual(a, b json.RawMessage) bool {
	ca, errA := CanonicalJSON(a)
	cb, errB := CanonicalJSON(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ca) == string(cb)
}
