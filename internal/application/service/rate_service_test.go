// internal/application/service/rate_service_test.go
package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/venrates/bcv-rates-service/internal/apperrors"
	"github.com/venrates/bcv-rates-service/internal/domain/entity"
	"github.com/venrates/bcv-rates-service/internal/infrastructure/cache"
	"github.com/venrates/bcv-rates-service/internal/infrastructure/logger"
	"github.com/venrates/bcv-rates-service/internal/mocks"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// noon on a Monday, well outside the near-midnight retry window
var testNow = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func newTestService(repo *mocks.MockRateRepository, board *mocks.MockBoardRateSource, market *mocks.MockMarketRateSource) *RateService {
	log := logger.NewJSONLogger(nil, logger.ErrorLevel)
	svc := NewRateService(repo, board, market, cache.NewSnapshotCache(), time.UTC, 43.00, 30, log)
	svc.now = func() time.Time { return testNow }
	return svc
}

func storedSnapshot() *entity.RateSnapshot {
	return &entity.RateSnapshot{
		PrimaryRate:        36.50,
		SecondaryRate:      39.80,
		P2PRate:            43.25,
		FixedReferenceRate: 43.00,
		LastUpdated:        time.Date(2024, 3, 1, 0, 5, 0, 0, time.UTC),
		EffectiveDate:      date(2024, 3, 1),
	}
}

func previousHistory() []entity.HistoryEntry {
	return []entity.HistoryEntry{
		{EffectiveDate: date(2024, 2, 29), PrimaryRate: 36.10, SecondaryRate: 39.40, P2PRate: 43.10},
	}
}

func TestPercentChange(t *testing.T) {
	assert.Equal(t, 10.0, PercentChange(110, 100))
	assert.Equal(t, 0.0, PercentChange(110, 0))
	assert.Equal(t, 0.0, PercentChange(0, 0))
	assert.InDelta(t, -9.0909, PercentChange(100, 110), 0.0001)
}

func TestFullRefreshAdoptsNewBoardRates(t *testing.T) {
	repo := new(mocks.MockRateRepository)
	board := new(mocks.MockBoardRateSource)
	market := new(mocks.MockMarketRateSource)
	svc := newTestService(repo, board, market)
	ctx := context.Background()

	repo.On("LoadSnapshot", ctx).Return(storedSnapshot(), nil).Once()
	repo.On("ListHistory", ctx, 30).Return(previousHistory(), nil)
	repo.On("AppendAttempt", ctx, mock.Anything).Return(nil)

	board.On("FetchBoardRates", ctx).
		Return(&entity.BoardRates{Primary: 36.80, Secondary: 40.00, EffectiveDate: date(2024, 3, 4)}, nil).Once()
	market.On("FetchMarketRate", ctx).Return(43.50, nil).Once()

	var saved entity.RateSnapshot
	repo.On("SaveSnapshot", ctx, mock.Anything).
		Run(func(args mock.Arguments) {
			saved = *args.Get(1).(*entity.RateSnapshot)
		}).Return(nil).Once()
	repo.On("MergeHistory", ctx, mock.Anything).Return(nil).Once()

	svc.RunFullRefresh(ctx)

	assert.Equal(t, 36.80, saved.PrimaryRate)
	assert.Equal(t, 40.00, saved.SecondaryRate)
	assert.Equal(t, 43.50, saved.P2PRate)
	assert.True(t, saved.EffectiveDate.Equal(date(2024, 3, 4)))
	assert.True(t, saved.LastUpdated.Equal(testNow))

	// Reference is 2024-02-29, the first history entry that is not "today":
	// (36.80-36.10)/36.10*100, rounded to 1.94 only at serialization.
	assert.InDelta(t, 1.93906, saved.PrimaryChangePercent, 0.0001)
	assert.InDelta(t, 1.52284, saved.SecondaryChangePercent, 0.0001)

	repo.AssertCalled(t, "MergeHistory", ctx, mock.MatchedBy(func(e entity.HistoryEntry) bool {
		return e.EffectiveDate.Equal(date(2024, 3, 4)) && e.PrimaryRate == 36.80
	}))
	board.AssertExpectations(t)
	market.AssertExpectations(t)
}

func TestFullRefreshSkipGateIsIdempotent(t *testing.T) {
	repo := new(mocks.MockRateRepository)
	board := new(mocks.MockBoardRateSource)
	market := new(mocks.MockMarketRateSource)
	svc := newTestService(repo, board, market)
	ctx := context.Background()

	repo.On("LoadSnapshot", ctx).Return(storedSnapshot(), nil).Once()
	repo.On("ListHistory", ctx, 30).Return(previousHistory(), nil)
	repo.On("AppendAttempt", ctx, mock.Anything).Return(nil)
	repo.On("SaveSnapshot", ctx, mock.Anything).Return(nil)
	repo.On("MergeHistory", ctx, mock.Anything).Return(nil)

	board.On("FetchBoardRates", ctx).
		Return(&entity.BoardRates{Primary: 36.80, Secondary: 40.00, EffectiveDate: date(2024, 3, 4)}, nil)
	market.On("FetchMarketRate", ctx).Return(43.50, nil)

	svc.RunFullRefresh(ctx)
	svc.RunFullRefresh(ctx)

	// The second run skips before fetching: exactly one fetch, one commit,
	// one history write.
	board.AssertNumberOfCalls(t, "FetchBoardRates", 1)
	repo.AssertNumberOfCalls(t, "SaveSnapshot", 1)
	repo.AssertNumberOfCalls(t, "MergeHistory", 1)

	repo.AssertCalled(t, "AppendAttempt", ctx, mock.MatchedBy(func(a entity.RefreshAttempt) bool {
		return a.Status == entity.AttemptSkipped
	}))
}

func TestFullRefreshRetryWindowBypassesSkipGate(t *testing.T) {
	repo := new(mocks.MockRateRepository)
	board := new(mocks.MockBoardRateSource)
	market := new(mocks.MockMarketRateSource)
	svc := newTestService(repo, board, market)
	svc.now = func() time.Time { return time.Date(2024, 3, 4, 0, 30, 0, 0, time.UTC) }
	ctx := context.Background()

	// Stored state already carries today's effective date
	snap := storedSnapshot()
	snap.EffectiveDate = date(2024, 3, 4)
	repo.On("LoadSnapshot", ctx).Return(snap, nil).Once()
	repo.On("ListHistory", ctx, 30).Return(previousHistory(), nil)
	repo.On("AppendAttempt", ctx, mock.Anything).Return(nil)
	repo.On("SaveSnapshot", ctx, mock.Anything).Return(nil).Once()
	repo.On("MergeHistory", ctx, mock.Anything).Return(nil).Once()

	board.On("FetchBoardRates", ctx).
		Return(&entity.BoardRates{Primary: 36.85, Secondary: 40.05, EffectiveDate: date(2024, 3, 4)}, nil).Once()
	market.On("FetchMarketRate", ctx).Return(43.50, nil).Once()

	svc.RunFullRefresh(ctx)

	// In the retry window the same-date publication is re-adopted in place:
	// still exactly one history document for the day.
	repo.AssertCalled(t, "MergeHistory", ctx, mock.MatchedBy(func(e entity.HistoryEntry) bool {
		return e.EffectiveDate.Equal(date(2024, 3, 4)) && e.PrimaryRate == 36.85
	}))
	board.AssertExpectations(t)
}

func TestFullRefreshDoesNotAdoptFutureDatedPublication(t *testing.T) {
	repo := new(mocks.MockRateRepository)
	board := new(mocks.MockBoardRateSource)
	market := new(mocks.MockMarketRateSource)
	svc := newTestService(repo, board, market)
	ctx := context.Background()

	repo.On("LoadSnapshot", ctx).Return(storedSnapshot(), nil).Once()
	repo.On("AppendAttempt", ctx, mock.Anything).Return(nil)

	board.On("FetchBoardRates", ctx).
		Return(&entity.BoardRates{Primary: 37.00, Secondary: 40.20, EffectiveDate: date(2024, 3, 5)}, nil).Once()
	market.On("FetchMarketRate", ctx).Return(43.50, nil).Once()

	var saved entity.RateSnapshot
	repo.On("SaveSnapshot", ctx, mock.Anything).
		Run(func(args mock.Arguments) {
			saved = *args.Get(1).(*entity.RateSnapshot)
		}).Return(nil).Once()

	svc.RunFullRefresh(ctx)

	// Board fields stand; the P2P rate still updates in the same run.
	assert.Equal(t, 36.50, saved.PrimaryRate)
	assert.Equal(t, 39.80, saved.SecondaryRate)
	assert.True(t, saved.EffectiveDate.Equal(date(2024, 3, 1)))
	assert.Equal(t, 43.50, saved.P2PRate)

	repo.AssertNotCalled(t, "MergeHistory", ctx, mock.Anything)
}

func TestFullRefreshSurvivesBoardFetchFailure(t *testing.T) {
	repo := new(mocks.MockRateRepository)
	board := new(mocks.MockBoardRateSource)
	market := new(mocks.MockMarketRateSource)
	svc := newTestService(repo, board, market)
	ctx := context.Background()

	repo.On("LoadSnapshot", ctx).Return(storedSnapshot(), nil).Once()
	repo.On("AppendAttempt", ctx, mock.Anything).Return(nil)

	board.On("FetchBoardRates", ctx).
		Return(nil, apperrors.Newf(apperrors.KindTimeout, "api.FetchBoardRates", "deadline exceeded")).Once()
	market.On("FetchMarketRate", ctx).Return(43.50, nil).Once()

	var saved entity.RateSnapshot
	repo.On("SaveSnapshot", ctx, mock.Anything).
		Run(func(args mock.Arguments) {
			saved = *args.Get(1).(*entity.RateSnapshot)
		}).Return(nil).Once()

	svc.RunFullRefresh(ctx)

	// Known-good board rates are never overwritten by a failed fetch
	assert.Equal(t, 36.50, saved.PrimaryRate)
	assert.Equal(t, 43.50, saved.P2PRate)

	repo.AssertNotCalled(t, "MergeHistory", ctx, mock.Anything)
	repo.AssertCalled(t, "AppendAttempt", ctx, mock.MatchedBy(func(a entity.RefreshAttempt) bool {
		return a.Status == entity.AttemptFailed
	}))
}

func TestPartialRefreshUpdatesOnlyP2P(t *testing.T) {
	repo := new(mocks.MockRateRepository)
	board := new(mocks.MockBoardRateSource)
	market := new(mocks.MockMarketRateSource)
	svc := newTestService(repo, board, market)
	ctx := context.Background()

	repo.On("LoadSnapshot", ctx).Return(storedSnapshot(), nil).Once()
	repo.On("AppendAttempt", ctx, mock.Anything).Return(nil)

	market.On("FetchMarketRate", ctx).Return(44.10, nil).Once()

	var saved entity.RateSnapshot
	repo.On("SaveSnapshot", ctx, mock.Anything).
		Run(func(args mock.Arguments) {
			saved = *args.Get(1).(*entity.RateSnapshot)
		}).Return(nil).Once()

	svc.RunPartialRefresh(ctx)

	assert.Equal(t, 44.10, saved.P2PRate)
	assert.Equal(t, 36.50, saved.PrimaryRate)
	assert.True(t, saved.LastUpdatedP2P.Equal(testNow))
	// Board timestamps and fields untouched
	assert.True(t, saved.LastUpdated.Equal(storedSnapshot().LastUpdated))

	board.AssertNotCalled(t, "FetchBoardRates", ctx)
	repo.AssertNotCalled(t, "MergeHistory", ctx, mock.Anything)
}

func TestPartialRefreshKeepsPreviousValueOnInsufficientData(t *testing.T) {
	repo := new(mocks.MockRateRepository)
	board := new(mocks.MockBoardRateSource)
	market := new(mocks.MockMarketRateSource)
	svc := newTestService(repo, board, market)
	ctx := context.Background()

	repo.On("LoadSnapshot", ctx).Return(storedSnapshot(), nil).Once()
	repo.On("AppendAttempt", ctx, mock.Anything).Return(nil)

	market.On("FetchMarketRate", ctx).
		Return(0.0, apperrors.Newf(apperrors.KindInsufficientData, "scraper.EstimateP2PRate", "no valid prices")).Once()

	svc.RunPartialRefresh(ctx)

	// Nothing changed, so nothing is rewritten
	repo.AssertNotCalled(t, "SaveSnapshot", ctx, mock.Anything)
	repo.AssertCalled(t, "AppendAttempt", ctx, mock.MatchedBy(func(a entity.RefreshAttempt) bool {
		return a.Status == entity.AttemptFailed && a.Mode == entity.RefreshPartial
	}))
}

func TestCurrentRatesLazyBootstrap(t *testing.T) {
	t.Run("Empty store triggers one synchronous full refresh", func(t *testing.T) {
		repo := new(mocks.MockRateRepository)
		board := new(mocks.MockBoardRateSource)
		market := new(mocks.MockMarketRateSource)
		svc := newTestService(repo, board, market)
		ctx := context.Background()

		repo.On("LoadSnapshot", ctx).Return(nil, nil)
		repo.On("ListHistory", ctx, 30).Return([]entity.HistoryEntry{}, nil)
		repo.On("AppendAttempt", ctx, mock.Anything).Return(nil)
		repo.On("SaveSnapshot", ctx, mock.Anything).Return(nil)
		repo.On("MergeHistory", ctx, mock.Anything).Return(nil)

		board.On("FetchBoardRates", ctx).
			Return(&entity.BoardRates{Primary: 36.80, Secondary: 40.00, EffectiveDate: date(2024, 3, 4)}, nil).Once()
		market.On("FetchMarketRate", ctx).Return(43.50, nil).Once()

		snap, err := svc.CurrentRates(ctx)

		require.NoError(t, err)
		assert.Equal(t, 36.80, snap.PrimaryRate)
		assert.Equal(t, 43.50, snap.P2PRate)

		// Subsequent reads come from the cache, with no further refresh
		_, err = svc.CurrentRates(ctx)
		require.NoError(t, err)
		board.AssertNumberOfCalls(t, "FetchBoardRates", 1)
	})

	t.Run("Persistence failure on bootstrap is the only error path", func(t *testing.T) {
		repo := new(mocks.MockRateRepository)
		board := new(mocks.MockBoardRateSource)
		market := new(mocks.MockMarketRateSource)
		svc := newTestService(repo, board, market)
		ctx := context.Background()

		repo.On("LoadSnapshot", ctx).Return(nil, nil)
		repo.On("ListHistory", ctx, 30).Return([]entity.HistoryEntry{}, nil)
		repo.On("AppendAttempt", ctx, mock.Anything).Return(nil)
		repo.On("SaveSnapshot", ctx, mock.Anything).
			Return(apperrors.Newf(apperrors.KindPersistence, "db.SaveSnapshot", "disk full"))

		board.On("FetchBoardRates", ctx).
			Return(&entity.BoardRates{Primary: 36.80, Secondary: 40.00, EffectiveDate: date(2024, 3, 4)}, nil)
		market.On("FetchMarketRate", ctx).Return(43.50, nil)

		_, err := svc.CurrentRates(ctx)

		assert.True(t, apperrors.IsKind(err, apperrors.KindPersistence))
	})

	t.Run("Bootstrap with unreachable sources persists placeholders", func(t *testing.T) {
		repo := new(mocks.MockRateRepository)
		board := new(mocks.MockBoardRateSource)
		market := new(mocks.MockMarketRateSource)
		svc := newTestService(repo, board, market)
		ctx := context.Background()

		repo.On("LoadSnapshot", ctx).Return(nil, nil)
		repo.On("AppendAttempt", ctx, mock.Anything).Return(nil)

		board.On("FetchBoardRates", ctx).
			Return(nil, apperrors.Newf(apperrors.KindNetwork, "api.FetchBoardRates", "no route to host"))
		market.On("FetchMarketRate", ctx).
			Return(0.0, apperrors.Newf(apperrors.KindNetwork, "api.fetchOffers", "no route to host"))

		var saved entity.RateSnapshot
		repo.On("SaveSnapshot", ctx, mock.Anything).
			Run(func(args mock.Arguments) {
				saved = *args.Get(1).(*entity.RateSnapshot)
			}).Return(nil)

		snap, err := svc.CurrentRates(ctx)

		require.NoError(t, err)
		assert.Equal(t, entity.DefaultPrimaryRate, snap.PrimaryRate)
		assert.Equal(t, entity.DefaultPrimaryRate, saved.PrimaryRate)
		assert.Equal(t, 43.00, saved.FixedReferenceRate)
	})
}

func TestHistoryReadsThroughCache(t *testing.T) {
	repo := new(mocks.MockRateRepository)
	board := new(mocks.MockBoardRateSource)
	market := new(mocks.MockMarketRateSource)
	svc := newTestService(repo, board, market)
	ctx := context.Background()

	repo.On("ListHistory", ctx, 30).Return(previousHistory(), nil).Once()

	first, err := svc.History(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := svc.History(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	repo.AssertNumberOfCalls(t, "ListHistory", 1)
}

// businessDayHistory builds n entries walking back from end, skipping
// weekends, most recent first.
func businessDayHistory(end time.Time, n int) []entity.HistoryEntry {
	entries := make([]entity.HistoryEntry, 0, n)
	for d := end; len(entries) < n; d = d.AddDate(0, 0, -1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		entries = append(entries, entity.HistoryEntry{EffectiveDate: d, PrimaryRate: 36.0})
	}
	return entries
}

func TestRunHistoryPurgeKeepsFullBusinessDayWindow(t *testing.T) {
	repo := new(mocks.MockRateRepository)
	board := new(mocks.MockBoardRateSource)
	market := new(mocks.MockMarketRateSource)
	svc := newTestService(repo, board, market)
	ctx := context.Background()

	// 30 business-day entries ending Friday 2024-03-29 reach back to
	// Monday 2024-02-19, further than 30 calendar days.
	history := businessDayHistory(date(2024, 3, 29), 30)
	oldest := history[len(history)-1].EffectiveDate
	require.True(t, oldest.Before(date(2024, 3, 29).AddDate(0, 0, -30)))

	repo.On("ListHistory", ctx, 30).Return(history, nil).Once()
	repo.On("PurgeOlderThan", ctx, mock.MatchedBy(func(cutoff time.Time) bool {
		// The horizon is the oldest in-window date: every retained entry
		// survives, no matter how many calendar days the window spans.
		return cutoff.Equal(oldest)
	})).Return(2, nil).Once()

	svc.RunHistoryPurge(ctx)

	repo.AssertExpectations(t)
}

func TestRunHistoryPurgeSkipsPartialWindow(t *testing.T) {
	repo := new(mocks.MockRateRepository)
	board := new(mocks.MockBoardRateSource)
	market := new(mocks.MockMarketRateSource)
	svc := newTestService(repo, board, market)
	ctx := context.Background()

	repo.On("ListHistory", ctx, 30).Return(previousHistory(), nil).Once()

	svc.RunHistoryPurge(ctx)

	repo.AssertNotCalled(t, "PurgeOlderThan", ctx, mock.Anything)
}

func TestCurrentRatesDoesNotRegressCacheDuringRefresh(t *testing.T) {
	repo := new(mocks.MockRateRepository)
	board := new(mocks.MockBoardRateSource)
	market := new(mocks.MockMarketRateSource)
	svc := newTestService(repo, board, market)
	ctx := context.Background()

	// A refresh run is mid-commit, holding the lock.
	svc.mu.Lock()

	type result struct {
		snap entity.RateSnapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		snap, err := svc.CurrentRates(ctx)
		done <- result{snap, err}
	}()

	// The refresh publishes its snapshot before releasing the lock; the
	// reader must pick that up instead of republishing older persisted
	// state over it.
	svc.cache.SetSnapshot(entity.RateSnapshot{
		PrimaryRate:   36.80,
		EffectiveDate: date(2024, 3, 4),
	})
	svc.mu.Unlock()

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 36.80, res.snap.PrimaryRate)

	repo.AssertNotCalled(t, "LoadSnapshot", ctx)
}
