// Package scraper internal/infrastructure/scraper/p2p.go
package scraper

import (
	"github.com/shopspring/decimal"

	"github.com/venrates/bcv-rates-service/internal/apperrors"
	"github.com/venrates/bcv-rates-service/internal/domain/entity"
)

// SampleSize is how many offers are requested per order-book side.
const SampleSize = 15

// EstimateP2PRate returns the arithmetic mean over the valid prices in the
// combined buy and sell sample. Offers with unparsable or non-positive
// prices are discarded. Zero valid prices yields an insufficient-data
// error, which callers treat as "keep the previous value".
func EstimateP2PRate(offers []entity.Offer) (float64, error) {
	const op = "scraper.EstimateP2PRate"

	prices := make([]decimal.Decimal, 0, len(offers))
	for _, offer := range offers {
		price, err := decimal.NewFromString(offer.Price)
		if err != nil || !price.IsPositive() {
			continue
		}
		prices = append(prices, price)
	}

	if len(prices) == 0 {
		return 0, apperrors.Newf(apperrors.KindInsufficientData, op,
			"no valid prices in %d offers", len(offers))
	}

	mean := decimal.Avg(prices[0], prices[1:]...)
	return mean.InexactFloat64(), nil
}
