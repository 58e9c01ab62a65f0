// Package service internal/application/service/rate_service.go
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/venrates/bcv-rates-service/internal/apperrors"
	"github.com/venrates/bcv-rates-service/internal/domain/entity"
	"github.com/venrates/bcv-rates-service/internal/domain/repository"
	domainservice "github.com/venrates/bcv-rates-service/internal/domain/service"
	"github.com/venrates/bcv-rates-service/internal/infrastructure/cache"
	"github.com/venrates/bcv-rates-service/internal/infrastructure/logger"
)

// DefaultRetention is the history retention window: the maximum number of
// distinct effective dates kept.
const DefaultRetention = 30

// earlyMorningRetryEnd bounds the near-midnight window in which a full
// refresh may re-run even though the stored effective date already matches
// today. The first post-midnight attempt can race the source's own
// publication, so the schedule retries a few times inside this window.
const earlyMorningRetryEnd = 2 // hours past midnight

// RateService owns the refresh policy and the in-memory rate state. All
// refresh runs, both modes, serialize on one mutex around the
// read-compute-commit cycle so a partial run can never interleave with a
// full one.
type RateService struct {
	repo      repository.RateRepository
	board     domainservice.BoardRateSource
	market    domainservice.MarketRateSource
	cache     *cache.SnapshotCache
	logger    logger.Logger
	location  *time.Location
	fixedRate float64
	retention int

	// now is injectable for tests.
	now func() time.Time

	mu sync.Mutex
}

// NewRateService creates the rate service. A nil location defaults to UTC;
// retention <= 0 defaults to DefaultRetention.
func NewRateService(
	repo repository.RateRepository,
	board domainservice.BoardRateSource,
	market domainservice.MarketRateSource,
	snapshotCache *cache.SnapshotCache,
	location *time.Location,
	fixedReferenceRate float64,
	retention int,
	log logger.Logger,
) *RateService {
	if location == nil {
		location = time.UTC
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if snapshotCache == nil {
		snapshotCache = cache.NewSnapshotCache()
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &RateService{
		repo:      repo,
		board:     board,
		market:    market,
		cache:     snapshotCache,
		logger:    log,
		location:  location,
		fixedRate: fixedReferenceRate,
		retention: retention,
		now:       time.Now,
	}
}

// RunFullRefresh refreshes board rates, history and the P2P rate. It never
// returns an error: failures are logged and recorded in the attempt log,
// and the previously committed snapshot stays servable.
func (s *RateService) RunFullRefresh(ctx context.Context) {
	s.refresh(ctx, entity.RefreshFull)
}

// RunPartialRefresh refreshes only the P2P rate, unconditionally.
func (s *RateService) RunPartialRefresh(ctx context.Context) {
	s.refresh(ctx, entity.RefreshPartial)
}

func (s *RateService) refresh(ctx context.Context, mode entity.RefreshMode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().In(s.location)
	today := entity.CivilDate(now, s.location)
	snap, existed := s.workingSnapshot(ctx, now)

	status := entity.AttemptOK
	message := ""
	boardAdopted := false
	changed := false

	if mode == entity.RefreshFull {
		if entity.SameCivilDate(snap.EffectiveDate, today, s.location) && !s.inRetryWindow(now) {
			s.logger.Info("Full refresh skipped, board rates already current", map[string]interface{}{
				"effective_date": snap.EffectiveDate.Format("2006-01-02"),
			})
			s.recordAttempt(ctx, mode, entity.AttemptSkipped,
				"board rates already current for "+today.Format("2006-01-02"), now)
			return
		}

		adopted, boardStatus, boardMessage := s.refreshBoard(ctx, snap, now, today)
		boardAdopted = adopted
		changed = changed || adopted
		if boardStatus != entity.AttemptOK {
			status, message = boardStatus, boardMessage
		}
	}

	// The P2P rate updates independently of the board outcome: the market
	// trades continuously even when the board publication lags or fails.
	p2pRate, err := s.market.FetchMarketRate(ctx)
	switch {
	case err != nil:
		s.logger.Warn("P2P rate unavailable, keeping previous value", map[string]interface{}{
			"mode":     string(mode),
			"kind":     string(apperrors.KindOf(err)),
			"error":    err.Error(),
			"previous": snap.P2PRate,
		})
		if mode == entity.RefreshPartial {
			status, message = entity.AttemptFailed, err.Error()
		}
	default:
		snap.P2PRate = p2pRate
		snap.LastUpdatedP2P = now
		changed = true
	}

	// Persist only when something actually changed, or on the first run
	// ever so placeholder values land in the store. Rewriting identical
	// data would move LastUpdated for no reason.
	if changed || !existed {
		if err := s.repo.SaveSnapshot(ctx, snap); err != nil {
			s.logger.Error("Failed to persist snapshot", map[string]interface{}{
				"mode":  string(mode),
				"error": err.Error(),
			})
			s.recordAttempt(ctx, mode, entity.AttemptFailed, err.Error(), now)
			return
		}
		s.cache.SetSnapshot(*snap)
	}

	if boardAdopted {
		entry := entity.HistoryEntry{
			EffectiveDate: snap.EffectiveDate,
			PrimaryRate:   snap.PrimaryRate,
			SecondaryRate: snap.SecondaryRate,
			P2PRate:       snap.P2PRate,
		}
		if err := s.repo.MergeHistory(ctx, entry); err != nil {
			s.logger.Error("Failed to merge history entry", map[string]interface{}{
				"effective_date": entry.EffectiveDate.Format("2006-01-02"),
				"error":          err.Error(),
			})
		} else if history, err := s.repo.ListHistory(ctx, s.retention); err == nil {
			s.cache.SetHistory(history)
		}
	}

	s.logger.Info("Refresh completed", map[string]interface{}{
		"mode":           string(mode),
		"status":         status,
		"primary":        snap.PrimaryRate,
		"secondary":      snap.SecondaryRate,
		"p2p":            snap.P2PRate,
		"effective_date": snap.EffectiveDate.Format("2006-01-02"),
	})
	s.recordAttempt(ctx, mode, status, message, now)
}

// refreshBoard fetches and, when the gate allows, adopts new board rates
// into snap. It reports whether the rates were adopted plus the attempt
// status to record.
func (s *RateService) refreshBoard(ctx context.Context, snap *entity.RateSnapshot, now, today time.Time) (bool, string, string) {
	rates, err := s.board.FetchBoardRates(ctx)
	if err != nil {
		s.logger.Warn("Board rate fetch failed, keeping previous snapshot", map[string]interface{}{
			"kind":  string(apperrors.KindOf(err)),
			"error": err.Error(),
		})
		return false, entity.AttemptFailed, err.Error()
	}

	// Prefer the publication date scraped off the page; fall back to
	// today's civil date when the page carried none.
	scraped := rates.EffectiveDate
	if scraped.IsZero() {
		scraped = today
	}

	switch {
	case scraped.After(today):
		// The source can publish tomorrow's rate late in the day. It is
		// not applicable yet, so the current board rates stand.
		s.logger.Info("Future-dated publication not adopted", map[string]interface{}{
			"published_for": scraped.Format("2006-01-02"),
			"today":         today.Format("2006-01-02"),
		})
		return false, entity.AttemptSkipped, "publication dated " + scraped.Format("2006-01-02") + " is not applicable yet"

	case !snap.EffectiveDate.IsZero() && scraped.Before(entity.CivilDate(snap.EffectiveDate, s.location)):
		// The effective date never moves backward.
		return false, entity.AttemptSkipped, "publication dated " + scraped.Format("2006-01-02") + " is older than stored state"

	case entity.SameCivilDate(scraped, snap.EffectiveDate, s.location) && !s.inRetryWindow(now):
		return false, entity.AttemptSkipped, "board rates already current for " + scraped.Format("2006-01-02")
	}

	history, err := s.repo.ListHistory(ctx, s.retention)
	if err != nil {
		s.logger.Warn("History unavailable for percent-change reference", map[string]interface{}{
			"error": err.Error(),
		})
	}

	refPrimary, refSecondary := referenceRates(history, scraped, s.location)
	snap.PrimaryChangePercent = PercentChange(rates.Primary, refPrimary)
	snap.SecondaryChangePercent = PercentChange(rates.Secondary, refSecondary)
	snap.PrimaryRate = rates.Primary
	snap.SecondaryRate = rates.Secondary
	snap.EffectiveDate = scraped
	snap.LastUpdated = now

	return true, entity.AttemptOK, ""
}

// CurrentRates returns the current snapshot. With an empty store it runs
// one synchronous full refresh first, so the first caller never sees
// placeholder zeros when a real fetch is possible. Only on that bootstrap
// path can it fail, and only when persistence itself is down.
func (s *RateService) CurrentRates(ctx context.Context) (entity.RateSnapshot, error) {
	const op = "service.CurrentRates"

	if snap, ok := s.cache.Snapshot(); ok {
		return snap, nil
	}

	if snap, ok := s.loadIntoCache(ctx); ok {
		return snap, nil
	}

	s.RunFullRefresh(ctx)

	if snap, ok := s.cache.Snapshot(); ok {
		return snap, nil
	}
	return entity.RateSnapshot{}, apperrors.Newf(apperrors.KindPersistence, op,
		"no snapshot available after bootstrap refresh")
}

// History returns the persisted history, most recent effective date first.
func (s *RateService) History(ctx context.Context) ([]entity.HistoryEntry, error) {
	if history := s.cache.History(); len(history) > 0 {
		return history, nil
	}

	history, err := s.repo.ListHistory(ctx, s.retention)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		s.cache.SetHistory(history)
	}
	return history, nil
}

// RecentAttempts returns the most recent refresh attempts, newest first.
func (s *RateService) RecentAttempts(ctx context.Context, limit int) ([]entity.RefreshAttempt, error) {
	return s.repo.RecentAttempts(ctx, limit)
}

// RunHistoryPurge deletes history entries that have fallen out of the
// retention window. Effective dates are business days, so the horizon is
// the date of the oldest entry still inside the window, not a fixed
// calendar offset: retention entries span roughly retention*7/5 calendar
// days. Scheduled daily, independent of rate refreshes.
func (s *RateService) RunHistoryPurge(ctx context.Context) {
	history, err := s.repo.ListHistory(ctx, s.retention)
	if err != nil {
		s.logger.Error("History purge failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if len(history) < s.retention {
		// The window is not full yet; nothing can be outside it.
		return
	}

	cutoff := entity.CivilDate(history[len(history)-1].EffectiveDate, s.location)
	purged, err := s.repo.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("History purge failed", map[string]interface{}{
			"cutoff": cutoff.Format("2006-01-02"),
			"error":  err.Error(),
		})
		return
	}

	s.logger.Info("History purge completed", map[string]interface{}{
		"cutoff": cutoff.Format("2006-01-02"),
		"purged": purged,
	})
}

// loadIntoCache publishes the persisted snapshot into the cache. It takes
// the refresh lock so a commit in flight cannot be overwritten afterwards
// by the older persisted state, and re-checks the cache once the lock is
// held: whoever committed while we waited already cached the newer value.
func (s *RateService) loadIntoCache(ctx context.Context) (entity.RateSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap, ok := s.cache.Snapshot(); ok {
		return snap, true
	}

	snap, err := s.repo.LoadSnapshot(ctx)
	if err != nil {
		s.logger.Warn("Snapshot load failed, attempting bootstrap", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if snap == nil {
		return entity.RateSnapshot{}, false
	}

	s.cache.SetSnapshot(*snap)
	if history, err := s.repo.ListHistory(ctx, s.retention); err == nil {
		s.cache.SetHistory(history)
	}
	return *snap, true
}

// workingSnapshot returns a mutable copy of the current state: the cached
// snapshot, else the persisted one, else safe defaults. The second return
// reports whether any snapshot existed before this run.
func (s *RateService) workingSnapshot(ctx context.Context, now time.Time) (*entity.RateSnapshot, bool) {
	if snap, ok := s.cache.Snapshot(); ok {
		return &snap, true
	}

	snap, err := s.repo.LoadSnapshot(ctx)
	if err != nil {
		s.logger.Warn("Snapshot load failed, using in-memory defaults", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if snap != nil {
		return snap, true
	}

	return entity.NewDefaultSnapshot(s.fixedRate, now), false
}

// inRetryWindow reports whether now falls in the near-midnight slots
// reserved for re-running a full refresh shortly after the source is
// expected to roll over to the new business day.
func (s *RateService) inRetryWindow(now time.Time) bool {
	return now.In(s.location).Hour() < earlyMorningRetryEnd
}

func (s *RateService) recordAttempt(ctx context.Context, mode entity.RefreshMode, status, message string, now time.Time) {
	attempt := entity.RefreshAttempt{
		ID:        uuid.New().String(),
		Mode:      mode,
		Status:    status,
		Message:   message,
		Timestamp: now,
	}

	if err := s.repo.AppendAttempt(ctx, attempt); err != nil {
		s.logger.Warn("Failed to record refresh attempt", map[string]interface{}{
			"mode":   string(mode),
			"status": status,
			"error":  err.Error(),
		})
	}
}

// PercentChange returns the signed percent delta of newValue against
// reference. A zero or absent reference yields 0 rather than a division by
// zero or a spurious jump against an unset baseline. The result is not
// rounded; rounding to two decimals happens once, at serialization.
func PercentChange(newValue, reference float64) float64 {
	if reference == 0 {
		return 0
	}

	ref := decimal.NewFromFloat(reference)
	delta := decimal.NewFromFloat(newValue).Sub(ref)
	return delta.Div(ref).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

// referenceRates walks the history in descending date order and returns the
// rates of the first entry whose effective date differs from forDate. That
// is "the previous business day" in effective-date terms, which stays
// correct even if the service was offline for several days.
func referenceRates(history []entity.HistoryEntry, forDate time.Time, loc *time.Location) (float64, float64) {
	for _, entry := range history {
		if !entity.SameCivilDate(entry.EffectiveDate, forDate, loc) {
			return entry.PrimaryRate, entry.SecondaryRate
		}
	}
	return 0, 0
}
