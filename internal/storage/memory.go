package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"metalledger/internal/audit"
	"metalledger/internal/pricing"
)

// MemoryStore is an in-process Ledger for dry runs and tests. It follows the
// same uniqueness rules as the PostgreSQL schema.
type MemoryStore struct {
	mu        sync.Mutex
	raw       []RawPrice
	rawKeys   map[rawKey]int64
	canonical map[canonicalKey]CanonicalPrice
	audit     []audit.Entry
	locks     map[int64]bool
	nextCanon int64
}

type rawKey struct {
	source     pricing.SourceID
	externalID string
}

type canonicalKey struct {
	metal pricing.MetalSlug
	at    int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rawKeys:   make(map[rawKey]int64),
		canonical: make(map[canonicalKey]CanonicalPrice),
		locks:     make(map[int64]bool),
	}
}

// InsertRaw implements RawPriceStore.
func (m *MemoryStore) InsertRaw(_ context.Context, obs pricing.PriceObservation) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rawKey{source: obs.Source, externalID: obs.ExternalID}
	if _, exists := m.rawKeys[key]; exists {
		return 0, false, nil
	}
	id := int64(len(m.raw) + 1)
	m.raw = append(m.raw, RawPrice{ID: id, Observation: obs, IngestedAt: time.Now().UTC()})
	m.rawKeys[key] = id
	return id, true, nil
}

// PromoteCanonical implements CanonicalStore.
func (m *MemoryStore) PromoteCanonical(_ context.Context, obs pricing.PriceObservation, rawID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := canonicalKey{metal: obs.Metal, at: obs.ObservedAt.UnixNano()}
	price, exists := m.canonical[key]
	if !exists {
		m.nextCanon++
		price.ID = m.nextCanon
	}
	price.Metal = obs.Metal
	price.ObservedAt = obs.ObservedAt.UTC()
	price.Value = obs.Value
	price.Currency = obs.CurrencyOrDefault()
	price.Source = obs.Source
	price.RawID = rawID
	price.PromotedAt = time.Now().UTC()
	m.canonical[key] = price
	return nil
}

// HistoricalValues implements CanonicalStore.
func (m *MemoryStore) HistoricalValues(_ context.Context, metal pricing.MetalSlug, since time.Time) ([]float64, error) {
	prices := m.sorted(metal, func(p CanonicalPrice) bool { return !p.ObservedAt.Before(since) })
	values := make([]float64, 0, len(prices))
	for _, p := range prices {
		values = append(values, p.Value.InexactFloat64())
	}
	return values, nil
}

// ListCanonicalBetween implements CanonicalStore.
func (m *MemoryStore) ListCanonicalBetween(_ context.Context, metal pricing.MetalSlug, from, to time.Time) ([]CanonicalPrice, error) {
	return m.sorted(metal, func(p CanonicalPrice) bool {
		return !p.ObservedAt.Before(from) && p.ObservedAt.Before(to)
	}), nil
}

// ListRecentCanonical implements CanonicalStore.
func (m *MemoryStore) ListRecentCanonical(_ context.Context, metal pricing.MetalSlug, limit int) ([]CanonicalPrice, error) {
	prices := m.sorted(metal, func(CanonicalPrice) bool { return true })
	for i, j := 0, len(prices)-1; i < j; i, j = i+1, j-1 {
		prices[i], prices[j] = prices[j], prices[i]
	}
	if limit > 0 && len(prices) > limit {
		prices = prices[:limit]
	}
	return prices, nil
}

// InsertAudit implements audit.Recorder.
func (m *MemoryStore) InsertAudit(_ context.Context, entry audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.audit) + 1)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.audit = append(m.audit, entry)
	return nil
}

// ListAudit implements AuditStore.
func (m *MemoryStore) ListAudit(_ context.Context, requestID uuid.UUID) ([]audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audit.Entry, 0)
	for _, e := range m.audit {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

// TryAdvisoryLock implements AdvisoryLocker within this process.
func (m *MemoryStore) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] {
		return nil, false, nil
	}
	m.locks[key] = true
	return func() {
		m.mu.Lock()
		delete(m.locks, key)
		m.mu.Unlock()
	}, true, nil
}

// RawCount returns the number of stored raw observations.
func (m *MemoryStore) RawCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.raw)
}

// AuditEntries returns a copy of the audit log.
func (m *MemoryStore) AuditEntries() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.audit...)
}

func (m *MemoryStore) sorted(metal pricing.MetalSlug, keep func(CanonicalPrice) bool) []CanonicalPrice {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]CanonicalPrice, 0)
	for key, p := range m.canonical {
		if key.metal == metal && keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out
}

var _ Ledger = (*MemoryStore)(nil)
