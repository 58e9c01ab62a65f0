// Package service internal/domain/service/rate_sources.go
package service

import (
	"context"

	"github.com/venrates/bcv-rates-service/internal/domain/entity"
)

// BoardRateSource fetches the officially published board rates from the
// source site. Implementations return both rates or an error, never a
// partial result.
type BoardRateSource interface {
	FetchBoardRates(ctx context.Context) (*entity.BoardRates, error)
}

// MarketRateSource produces a point estimate of the P2P market rate from a
// sample of live trade offers.
type MarketRateSource interface {
	FetchMarketRate(ctx context.Context) (float64, error)
}
