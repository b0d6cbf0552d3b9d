// Package audit builds append-only audit entries. Only a hash of each
// payload is kept; the payload itself is never stored.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Known actors and actions.
const (
	ActorIngestor      = "pricing_ingestor"
	ActionIngestTick   = "ingest_tick"
	ActionDealerSubmit = "dealer_submit"
)

// Entry is one audit_log row.
type Entry struct {
	ID          int64
	RequestID   uuid.UUID
	Actor       string
	Action      string
	PayloadHash string
	CreatedAt   time.Time
}

// Recorder persists entries. Implementations must never update or delete.
type Recorder interface {
	InsertAudit(ctx context.Context, entry Entry) error
}

// NewRequestID returns a random v4 request id.
func NewRequestID() uuid.UUID { return uuid.New() }

// NewEntry hashes payload and stamps the entry with the current time.
func NewEntry(requestID uuid.UUID, actor, action string, payload any) (Entry, error) {
	hash, err := HashPayload(payload)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		RequestID:   requestID,
		Actor:       actor,
		Action:      action,
		PayloadHash: hash,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// HashPayload returns the SHA-256 hex digest of payload encoded as JSON with
// object keys sorted at every level.
func HashPayload(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode audit payload: %w", err)
	}
	// Round-trip through a generic value so struct fields are ordered like map keys.
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("canonicalise audit payload: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("encode audit payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// MemoryRecorder keeps entries in process, for dry runs and tests.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

// InsertAudit implements Recorder.
func (m *MemoryRecorder) InsertAudit(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, entry)
	return nil
}

// Entries returns a copy of everything recorded.
func (m *MemoryRecorder) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}
