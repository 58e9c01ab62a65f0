// internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/venrates/bcv-rates-service/internal/domain/entity"
)

// MockRateRepository mocks the RateRepository interface
type MockRateRepository struct {
	mock.Mock
}

func (m *MockRateRepository) LoadSnapshot(ctx context.Context) (*entity.RateSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.RateSnapshot), args.Error(1)
}

func (m *MockRateRepository) SaveSnapshot(ctx context.Context, snapshot *entity.RateSnapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

func (m *MockRateRepository) ListHistory(ctx context.Context, limit int) ([]entity.HistoryEntry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.HistoryEntry), args.Error(1)
}

func (m *MockRateRepository) MergeHistory(ctx context.Context, entry entity.HistoryEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockRateRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}

func (m *MockRateRepository) AppendAttempt(ctx context.Context, attempt entity.RefreshAttempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

func (m *MockRateRepository) RecentAttempts(ctx context.Context, limit int) ([]entity.RefreshAttempt, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.RefreshAttempt), args.Error(1)
}

// MockBoardRateSource mocks the BoardRateSource interface
type MockBoardRateSource struct {
	mock.Mock
}

func (m *MockBoardRateSource) FetchBoardRates(ctx context.Context) (*entity.BoardRates, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.BoardRates), args.Error(1)
}

// MockMarketRateSource mocks the MarketRateSource interface
type MockMarketRateSource struct {
	mock.Mock
}

func (m *MockMarketRateSource) FetchMarketRate(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}
