package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"metalledger/internal/adapter"
	"metalledger/internal/alerting"
	"metalledger/internal/audit"
	"metalledger/internal/normalizer"
	"metalledger/internal/pricing"
	"metalledger/internal/storage"
)

var tickAt = time.Date(2024, 1, 16, 20, 0, 0, 0, time.UTC)

type staticAdapter struct {
	source pricing.SourceID
	prices []pricing.PriceObservation
	err    error
}

func (a staticAdapter) Source() pricing.SourceID { return a.source }

func (a staticAdapter) Fetch(context.Context) ([]pricing.PriceObservation, error) {
	return a.prices, a.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	prices []pricing.PriceObservation
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, prices []pricing.PriceObservation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices = append(p.prices, prices...)
	return p.err
}

type recordingNotifier struct {
	notes []alerting.RejectionNotification
}

func (n *recordingNotifier) Notify(_ context.Context, note alerting.RejectionNotification) error {
	n.notes = append(n.notes, note)
	return nil
}

func observation(source pricing.SourceID, metal pricing.MetalSlug, value, id string) pricing.PriceObservation {
	return pricing.PriceObservation{
		Source:     source,
		Metal:      metal,
		Venue:      "TEST",
		ObservedAt: tickAt,
		Value:      decimal.RequireFromString(value),
		Currency:   "USD",
		ExternalID: id,
	}
}

func seedHistory(t *testing.T, store *storage.MemoryStore, metal pricing.MetalSlug, values ...string) {
	t.Helper()
	for i, v := range values {
		obs := observation(pricing.SourceSeed, metal, v, fmt.Sprintf("seed_%s_%d", metal, i))
		obs.ObservedAt = tickAt.Add(-time.Duration(i+1) * time.Hour)
		require.NoError(t, store.PromoteCanonical(context.Background(), obs, 0))
	}
}

func newNormalizer(t *testing.T) *normalizer.Normalizer {
	t.Helper()
	table, err := pricing.NewSourcePriorityTable(pricing.DefaultSourceRanks(), pricing.DefaultMetalPreferences())
	require.NoError(t, err)
	return normalizer.New(normalizer.Options{Multiplier: 3, Priority: table}, zerolog.Nop())
}

func newService(t *testing.T, opts Options, deps Deps) *Service {
	t.Helper()
	if deps.Normalizer == nil {
		deps.Normalizer = newNormalizer(t)
	}
	svc, err := New(opts, deps, zerolog.Nop())
	require.NoError(t, err)
	svc.now = func() time.Time { return tickAt }
	return svc
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{}, Deps{Ledger: storage.NewMemoryStore()}, zerolog.Nop())
	assert.Error(t, err)

	_, err = New(Options{}, Deps{Normalizer: newNormalizer(t)}, zerolog.Nop())
	assert.Error(t, err)
}

func TestTickAcceptsRejectsAndPromotes(t *testing.T) {
	tests := []struct {
		name           string
		seed           map[pricing.MetalSlug][]string
		prices         []pricing.PriceObservation
		wantAccepted   int
		wantRejected   int
		wantPromoted   int
		wantDuplicates int
		wantRaw        int
		wantRejectedID string
		wantThreshold  string
		// wantLatest maps a metal to its newest canonical value, "" for none.
		wantLatest map[pricing.MetalSlug]string
	}{
		{
			name: "distinct external ids",
			seed: map[pricing.MetalSlug][]string{"CU_BARE": {"3.80", "3.82", "3.84"}},
			prices: []pricing.PriceObservation{
				observation(pricing.SourceIScrap, "CU_BARE", "3.85", "a"),
				observation(pricing.SourceIScrap, "CU_BARE", "15.00", "b"),
				observation(pricing.SourceIScrap, "ZORBA", "0.65", "c"),
			},
			wantAccepted:   2,
			wantRejected:   1,
			wantPromoted:   2,
			wantRaw:        3,
			wantRejectedID: "b",
			wantThreshold:  "11.46",
			wantLatest:     map[pricing.MetalSlug]string{"CU_BARE": "3.85", "ZORBA": "0.65"},
		},
		{
			name: "empty external ids",
			seed: map[pricing.MetalSlug][]string{"HMS1": {"0.10", "0.10", "0.10"}},
			prices: []pricing.PriceObservation{
				observation(pricing.SourceIScrap, "HMS1", "15.00", ""),
				observation(pricing.SourceIScrap, "ZORBA", "0.65", ""),
			},
			wantAccepted:   1,
			wantRejected:   1,
			wantPromoted:   1,
			wantRaw:        2,
			wantRejectedID: fmt.Sprintf("auto_HMS1_%d_0", tickAt.UnixNano()),
			wantThreshold:  "0.3",
			wantLatest:     map[pricing.MetalSlug]string{"HMS1": "0.10", "ZORBA": "0.65"},
		},
		{
			name: "shared external id",
			seed: map[pricing.MetalSlug][]string{"HMS1": {"0.10", "0.10", "0.10"}},
			prices: []pricing.PriceObservation{
				observation(pricing.SourceIScrap, "HMS1", "15.00", "dup"),
				observation(pricing.SourceIScrap, "ZORBA", "0.65", "dup"),
			},
			wantAccepted:   1,
			wantRejected:   1,
			wantPromoted:   0,
			wantDuplicates: 1,
			wantRaw:        1,
			wantRejectedID: "dup",
			wantThreshold:  "0.3",
			wantLatest:     map[pricing.MetalSlug]string{"HMS1": "0.10", "ZORBA": ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := storage.NewMemoryStore()
			for metal, values := range tt.seed {
				seedHistory(t, store, metal, values...)
			}

			svc := newService(t, Options{}, Deps{
				Ledger:   store,
				Adapters: []adapter.Adapter{staticAdapter{source: pricing.SourceIScrap, prices: tt.prices}},
			})

			report, err := svc.Tick(ctx, tickAt)
			require.NoError(t, err)

			assert.False(t, report.Skipped)
			assert.Equal(t, len(tt.prices), report.Fetched)
			assert.Equal(t, tt.wantAccepted, report.Accepted)
			assert.Equal(t, tt.wantRejected, report.Rejected)
			assert.Equal(t, tt.wantPromoted, report.Promoted)
			assert.Equal(t, tt.wantDuplicates, report.Duplicates)
			require.Len(t, report.Rejections, 1)
			assert.Equal(t, tt.wantRejectedID, report.Rejections[0].Observation.ExternalID)
			assert.Equal(t, pricing.ReasonOutlier, report.Rejections[0].Reason.Kind)
			assert.True(t, report.Rejections[0].Reason.Threshold.Equal(decimal.RequireFromString(tt.wantThreshold)))

			assert.Equal(t, tt.wantRaw, store.RawCount())

			for metal, want := range tt.wantLatest {
				latest, err := store.ListRecentCanonical(ctx, metal, 0)
				require.NoError(t, err)
				if want == "" {
					assert.Empty(t, latest, metal)
					continue
				}
				require.NotEmpty(t, latest, metal)
				assert.True(t, latest[0].Value.Equal(decimal.RequireFromString(want)), "%s: got %s", metal, latest[0].Value)
			}

			rejected := report.Rejections[0].Observation
			rows, err := store.ListRecentCanonical(ctx, rejected.Metal, 0)
			require.NoError(t, err)
			for _, row := range rows {
				assert.False(t, row.Value.Equal(rejected.Value), "rejected %s value promoted", rejected.Metal)
			}

			entries := store.AuditEntries()
			require.Len(t, entries, 1)
			assert.Equal(t, report.RequestID, entries[0].RequestID)
			assert.Equal(t, audit.ActionIngestTick, entries[0].Action)
			assert.Equal(t, audit.ActorIngestor, entries[0].Actor)
			assert.Len(t, entries[0].PayloadHash, 64)
		})
	}
}

func TestTickIsolatesAdapterFailures(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newService(t, Options{}, Deps{
		Ledger: store,
		Adapters: []adapter.Adapter{
			staticAdapter{source: pricing.SourceMetalsAPI, err: errors.New("metals-api error (429): quota reached")},
			staticAdapter{source: pricing.SourceIScrap, prices: []pricing.PriceObservation{
				observation(pricing.SourceIScrap, "LEAD", "0.42", "lead"),
			}},
		},
	})

	report, err := svc.Tick(context.Background(), tickAt)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 1, report.Promoted)
	assert.Equal(t, map[pricing.SourceID]string{
		pricing.SourceMetalsAPI: "metals-api error (429): quota reached",
	}, report.AdapterErrors)
	assert.Len(t, store.AuditEntries(), 1)
}

func TestTickEmptyBatchWritesNothing(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newService(t, Options{}, Deps{
		Ledger:   store,
		Adapters: []adapter.Adapter{staticAdapter{source: pricing.SourceIScrap}},
	})

	report, err := svc.Tick(context.Background(), tickAt)
	require.NoError(t, err)

	assert.Zero(t, report.Fetched)
	assert.Zero(t, store.RawCount())
	assert.Empty(t, store.AuditEntries())
}

func TestTickDuplicateRawIsNotPromotedAgain(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	publisher := &recordingPublisher{}
	svc := newService(t, Options{}, Deps{
		Ledger:    store,
		Publisher: publisher,
		Adapters: []adapter.Adapter{staticAdapter{source: pricing.SourceIScrap, prices: []pricing.PriceObservation{
			observation(pricing.SourceIScrap, "CU_1", "3.55", "cu1"),
			observation(pricing.SourceIScrap, "BRASS", "1.60", "brass"),
		}}},
	})

	first, err := svc.Tick(ctx, tickAt)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Promoted)

	second, err := svc.Tick(ctx, tickAt.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Accepted)
	assert.Zero(t, second.Promoted)
	assert.Equal(t, 2, second.Duplicates)

	assert.Equal(t, 2, store.RawCount())
	assert.Len(t, publisher.prices, 2)
	assert.Len(t, store.AuditEntries(), 2)
}

func TestTickCollapseByPriority(t *testing.T) {
	batch := func() []adapter.Adapter {
		return []adapter.Adapter{
			staticAdapter{source: pricing.SourceDealerManual, prices: []pricing.PriceObservation{
				observation(pricing.SourceDealerManual, "CU_BARE", "3.88", "dealer"),
			}},
			staticAdapter{source: pricing.SourceIScrap, prices: []pricing.PriceObservation{
				observation(pricing.SourceIScrap, "CU_BARE", "3.85", "iscrap"),
			}},
		}
	}

	tests := []struct {
		name         string
		collapse     bool
		wantPromoted int
		wantSource   pricing.SourceID
	}{
		{name: "last write wins", collapse: false, wantPromoted: 2, wantSource: pricing.SourceIScrap},
		{name: "collapsed", collapse: true, wantPromoted: 1, wantSource: pricing.SourceDealerManual},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := storage.NewMemoryStore()
			svc := newService(t, Options{Collapse: tt.collapse}, Deps{Ledger: store, Adapters: batch()})

			report, err := svc.Tick(ctx, tickAt)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPromoted, report.Promoted)
			assert.Equal(t, 2, store.RawCount())

			canonical, err := store.ListRecentCanonical(ctx, "CU_BARE", 0)
			require.NoError(t, err)
			require.Len(t, canonical, 1)
			assert.Equal(t, tt.wantSource, canonical[0].Source)
		})
	}
}

func TestTickSkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	unlock, ok, err := store.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)

	svc := newService(t, Options{LockKey: 42}, Deps{
		Ledger: store,
		Adapters: []adapter.Adapter{staticAdapter{source: pricing.SourceIScrap, prices: []pricing.PriceObservation{
			observation(pricing.SourceIScrap, "LEAD", "0.42", "lead"),
		}}},
	})

	report, err := svc.Tick(ctx, tickAt)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Zero(t, store.RawCount())

	unlock()
	report, err = svc.Tick(ctx, tickAt)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, store.RawCount())
}

func TestTickStorageFailureAbortsBeforeAudit(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := NewMockLedger(ctrl)
	source := NewMockAdapter(ctrl)

	obs := observation(pricing.SourceIScrap, "CU_2", "3.10", "cu2")
	source.EXPECT().Source().Return(pricing.SourceIScrap).AnyTimes()
	source.EXPECT().Fetch(gomock.Any()).Return([]pricing.PriceObservation{obs}, nil)
	ledger.EXPECT().HistoricalValues(gomock.Any(), pricing.MetalSlug("CU_2"), tickAt.Add(-7*24*time.Hour)).Return(nil, nil)
	ledger.EXPECT().InsertRaw(gomock.Any(), obs).Return(int64(0), false, errors.New("connection reset"))

	svc := newService(t, Options{}, Deps{Ledger: ledger, Adapters: []adapter.Adapter{source}})

	_, err := svc.Tick(context.Background(), tickAt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestTickHistoryFailureAborts(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := NewMockLedger(ctrl)
	ledger.EXPECT().HistoricalValues(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout"))

	svc := newService(t, Options{}, Deps{
		Ledger: ledger,
		Adapters: []adapter.Adapter{staticAdapter{source: pricing.SourceIScrap, prices: []pricing.PriceObservation{
			observation(pricing.SourceIScrap, "LEAD", "0.42", "lead"),
		}}},
	})

	_, err := svc.Tick(context.Background(), tickAt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load history for LEAD")
}

func TestTickPublishesAndNotifies(t *testing.T) {
	store := storage.NewMemoryStore()
	seedHistory(t, store, "HMS1", "0.10", "0.10", "0.10")
	publisher := &recordingPublisher{err: errors.New("redis down")}
	notifier := &recordingNotifier{}

	svc := newService(t, Options{}, Deps{
		Ledger:    store,
		Publisher: publisher,
		Notifier:  notifier,
		Adapters: []adapter.Adapter{staticAdapter{source: pricing.SourceScrapRegister, prices: []pricing.PriceObservation{
			observation(pricing.SourceScrapRegister, "HMS1", "0.11", "ok"),
			observation(pricing.SourceScrapRegister, "HMS1", "0.31", "spike"),
		}}},
	})

	report, err := svc.Tick(context.Background(), tickAt)
	require.NoError(t, err, "publish failures are not fatal")

	require.Len(t, publisher.prices, 1)
	assert.Equal(t, "ok", publisher.prices[0].ExternalID)

	require.Len(t, notifier.notes, 1)
	note := notifier.notes[0]
	assert.Equal(t, report.RequestID.String(), note.RequestID)
	assert.Equal(t, 2, note.Fetched)
	require.Len(t, note.Rejections, 1)
	assert.Equal(t, "spike", note.Rejections[0].Observation.ExternalID)
}

func TestRunRequiresScheduler(t *testing.T) {
	svc := newService(t, Options{}, Deps{Ledger: storage.NewMemoryStore()})
	assert.Error(t, svc.Run(context.Background()))
}
