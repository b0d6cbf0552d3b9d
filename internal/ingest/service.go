// Package ingest runs the price ingestion pipeline: fetch from every source,
// classify against each metal's rolling history, store raw observations,
// promote accepted ones to the canonical ledger and audit the tick.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"metalledger/internal/adapter"
	"metalledger/internal/alerting"
	"metalledger/internal/audit"
	"metalledger/internal/normalizer"
	"metalledger/internal/pricing"
	"metalledger/internal/scheduler"
	"metalledger/internal/storage"
)

// historyConcurrency bounds parallel history queries per tick.
const historyConcurrency = 8

// Publisher receives promoted prices after a tick.
type Publisher interface {
	Publish(ctx context.Context, prices []pricing.PriceObservation) error
}

// Options tune a Service.
type Options struct {
	// Window is how far back canonical history is read for the median.
	Window time.Duration
	// LockKey guards ticks across instances; zero disables locking.
	LockKey int64
	// Collapse keeps one promoted observation per (metal, instant), chosen
	// by source priority. When false a later promotion overwrites an
	// earlier one for the same key.
	Collapse bool
	Actor    string
}

// Deps are the collaborators of a Service. Publisher, Notifier and
// Scheduler may be nil.
type Deps struct {
	Adapters   []adapter.Adapter
	Normalizer *normalizer.Normalizer
	Ledger     storage.Ledger
	Publisher  Publisher
	Notifier   alerting.Notifier
	Scheduler  *scheduler.Scheduler
}

// TickReport summarises one tick.
type TickReport struct {
	RequestID     uuid.UUID
	At            time.Time
	Skipped       bool
	Fetched       int
	Accepted      int
	Rejected      int
	Promoted      int
	Duplicates    int
	AdapterErrors map[pricing.SourceID]string
	Rejections    []pricing.Rejection
}

// Service orchestrates fetching, normalisation, persistence and auditing.
type Service struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs the ingestion service.
func New(opts Options, deps Deps, logger zerolog.Logger) (*Service, error) {
	if deps.Normalizer == nil {
		return nil, errors.New("ingest: normalizer is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("ingest: ledger is required")
	}
	if opts.Window <= 0 {
		opts.Window = 7 * 24 * time.Hour
	}
	if opts.Actor == "" {
		opts.Actor = audit.ActorIngestor
	}
	return &Service{
		deps:   deps,
		opts:   opts,
		logger: logger.With().Str("component", "ingest").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run begins the scheduled ingestion loop.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, func(ctx context.Context, at time.Time) error {
		_, err := s.Tick(ctx, at)
		return err
	})
}

// Tick performs one ingestion pass. Adapter failures are isolated and
// reported; storage failures abort the tick before the audit entry.
func (s *Service) Tick(ctx context.Context, at time.Time) (TickReport, error) {
	report := TickReport{RequestID: audit.NewRequestID(), At: at.UTC()}
	logger := s.logger.With().Str("request_id", report.RequestID.String()).Logger()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return report, err
	}
	if !proceed {
		logger.Debug().Time("at", at).Msg("skip tick because advisory lock held elsewhere")
		report.Skipped = true
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	logger.Info().Time("at", at).Msg("ingest tick started")

	batch, adapterErrors := s.fetchAll(ctx, logger)
	report.AdapterErrors = adapterErrors
	report.Fetched = len(batch)
	if len(batch) == 0 {
		logger.Warn().Msg("no prices fetched this tick")
		return report, nil
	}

	history, err := s.history(ctx, metalsOf(batch), at)
	if err != nil {
		return report, err
	}

	outcome, accepted := s.deps.Normalizer.Classify(batch, history)
	report.Accepted = len(outcome.Accepted)
	report.Rejected = len(outcome.Rejected)
	report.Rejections = outcome.Rejected

	promoted, duplicates, err := s.persist(ctx, batch, s.promotable(batch, accepted))
	if err != nil {
		return report, err
	}
	report.Promoted = len(promoted)
	report.Duplicates = duplicates

	if s.deps.Publisher != nil && len(promoted) > 0 {
		if err := s.deps.Publisher.Publish(ctx, promoted); err != nil {
			logger.Warn().Err(err).Msg("failed to publish latest prices")
		}
	}

	if s.deps.Notifier != nil && len(outcome.Rejected) > 0 {
		note := alerting.RejectionNotification{
			RequestID:  report.RequestID.String(),
			At:         report.At,
			Fetched:    report.Fetched,
			Rejections: outcome.Rejected,
		}
		if err := s.deps.Notifier.Notify(ctx, note); err != nil {
			logger.Error().Err(err).Msg("failed to dispatch rejection alert")
		}
	}

	if err := s.record(ctx, report.RequestID, audit.ActionIngestTick, map[string]int{
		"fetched":  report.Fetched,
		"accepted": report.Accepted,
		"rejected": report.Rejected,
		"promoted": report.Promoted,
	}); err != nil {
		return report, err
	}

	logger.Info().
		Int("fetched", report.Fetched).
		Int("promoted", report.Promoted).
		Int("rejected", report.Rejected).
		Int("duplicates", report.Duplicates).
		Int("adapter_errors", len(report.AdapterErrors)).
		Msg("tick complete")
	return report, nil
}

// fetchAll queries every adapter concurrently. Results keep adapter order.
func (s *Service) fetchAll(ctx context.Context, logger zerolog.Logger) ([]pricing.PriceObservation, map[pricing.SourceID]string) {
	results := make([][]pricing.PriceObservation, len(s.deps.Adapters))
	failures := make(map[pricing.SourceID]string)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range s.deps.Adapters {
		i, a := i, a
		g.Go(func() error {
			prices, err := a.Fetch(gctx)
			if err != nil {
				logger.Error().Err(err).Str("adapter", a.Source().String()).Msg("adapter failed")
				mu.Lock()
				failures[a.Source()] = err.Error()
				mu.Unlock()
				return nil
			}
			logger.Info().Str("adapter", a.Source().String()).Int("count", len(prices)).Msg("adapter returned prices")
			results[i] = prices
			return nil
		})
	}
	_ = g.Wait()

	batch := make([]pricing.PriceObservation, 0)
	for _, prices := range results {
		for i, obs := range prices {
			if obs.ExternalID == "" {
				obs.ExternalID = syntheticExternalID(obs, i)
			}
			batch = append(batch, obs)
		}
	}
	return batch, failures
}

// syntheticExternalID identifies an observation its source left unnamed.
// i is the position within the source's own result.
func syntheticExternalID(obs pricing.PriceObservation, i int) string {
	return fmt.Sprintf("auto_%s_%d_%d", obs.Metal, obs.ObservedAt.UTC().UnixNano(), i)
}

// history snapshots canonical values per metal before normalisation.
func (s *Service) history(ctx context.Context, metals []pricing.MetalSlug, at time.Time) (pricing.HistoricalWindow, error) {
	since := at.Add(-s.opts.Window)
	values := make([][]float64, len(metals))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(historyConcurrency)
	for i, metal := range metals {
		i, metal := i, metal
		g.Go(func() error {
			v, err := s.deps.Ledger.HistoricalValues(gctx, metal, since)
			if err != nil {
				return fmt.Errorf("load history for %s: %w", metal, err)
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	window := make(pricing.HistoricalWindow, len(metals))
	for i, metal := range metals {
		window[metal] = values[i]
	}
	return window, nil
}

// promotable marks the batch positions eligible for promotion: the accepted
// ones, reduced to one winner per (metal, observed_at) when collapsing.
func (s *Service) promotable(batch []pricing.PriceObservation, accepted []bool) []bool {
	if !s.opts.Collapse {
		return accepted
	}

	positions := make([]int, 0, len(batch))
	candidates := make([]pricing.PriceObservation, 0, len(batch))
	for i, ok := range accepted {
		if ok {
			positions = append(positions, i)
			candidates = append(candidates, batch[i])
		}
	}

	promote := make([]bool, len(batch))
	for _, j := range s.deps.Normalizer.Resolver().CollapseIndices(candidates) {
		promote[positions[j]] = true
	}
	return promote
}

// persist stores every observation raw, in batch order, and promotes
// batch[i] when promote[i] is set and its raw insert created a new row.
func (s *Service) persist(ctx context.Context, batch []pricing.PriceObservation, promote []bool) ([]pricing.PriceObservation, int, error) {
	promoted := make([]pricing.PriceObservation, 0, len(batch))
	duplicates := 0
	for i, obs := range batch {
		rawID, inserted, err := s.deps.Ledger.InsertRaw(ctx, obs)
		if err != nil {
			return nil, duplicates, fmt.Errorf("store raw %s/%s: %w", obs.Source, obs.ExternalID, err)
		}
		if !inserted {
			duplicates++
			continue
		}
		if i >= len(promote) || !promote[i] {
			continue
		}
		if err := s.deps.Ledger.PromoteCanonical(ctx, obs, rawID); err != nil {
			return nil, duplicates, fmt.Errorf("promote %s at %s: %w", obs.Metal, obs.ObservedAt.Format(time.RFC3339), err)
		}
		promoted = append(promoted, obs)
	}
	return promoted, duplicates, nil
}

func (s *Service) record(ctx context.Context, requestID uuid.UUID, action string, payload any) error {
	entry, err := audit.NewEntry(requestID, s.opts.Actor, action, payload)
	if err != nil {
		return err
	}
	if err := s.deps.Ledger.InsertAudit(ctx, entry); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Ledger.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func metalsOf(batch []pricing.PriceObservation) []pricing.MetalSlug {
	seen := make(map[pricing.MetalSlug]struct{})
	out := make([]pricing.MetalSlug, 0)
	for _, obs := range batch {
		if _, ok := seen[obs.Metal]; ok {
			continue
		}
		seen[obs.Metal] = struct{}{}
		out = append(out, obs.Metal)
	}
	return out
}
