// Package api internal/infrastructure/api/binance_client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/venrates/bcv-rates-service/internal/apperrors"
	"github.com/venrates/bcv-rates-service/internal/domain/entity"
	"github.com/venrates/bcv-rates-service/internal/infrastructure/logger"
	"github.com/venrates/bcv-rates-service/internal/infrastructure/scraper"
)

const defaultP2PURL = "https://p2p.binance.com/bapi/c2c/v2/public/c2c/adv/search"

// searchRequest is the order-book query payload understood by the venue.
type searchRequest struct {
	Asset         string `json:"asset"`
	Fiat          string `json:"fiat"`
	MerchantCheck bool   `json:"merchantCheck"`
	Page          int    `json:"page"`
	Rows          int    `json:"rows"`
	TradeType     string `json:"tradeType"`
	FilterType    string `json:"filterType"`
}

// BinanceP2PClient samples the venue's public order book and produces a
// point estimate of the market rate.
type BinanceP2PClient struct {
	baseURL    string
	asset      string
	fiat       string
	httpClient *http.Client
	logger     logger.Logger
}

// NewBinanceP2PClient creates a client for the P2P order-book query.
func NewBinanceP2PClient(baseURL string, timeout time.Duration, log logger.Logger) *BinanceP2PClient {
	if baseURL == "" {
		baseURL = defaultP2PURL
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &BinanceP2PClient{
		baseURL: baseURL,
		asset:   "USDT",
		fiat:    "VES",
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log,
	}
}

// FetchMarketRate queries a fixed-size sample of buy and sell offers
// independently and returns the mean over all valid prices. A side that
// fails to load contributes nothing; the estimate fails only when both
// sides together yield zero valid prices.
func (c *BinanceP2PClient) FetchMarketRate(ctx context.Context) (float64, error) {
	sides := []entity.OfferSide{entity.OfferSideBuy, entity.OfferSideSell}
	offers := make([]entity.Offer, 0, 2*scraper.SampleSize)

	var lastErr error
	failedSides := 0
	for _, side := range sides {
		sideOffers, err := c.fetchOffers(ctx, side)
		if err != nil {
			c.logger.Warn("P2P side query failed", map[string]interface{}{
				"side":  string(side),
				"error": err.Error(),
			})
			lastErr = err
			failedSides++
			continue
		}
		offers = append(offers, sideOffers...)
	}

	// A venue outage is not a thin order book: when every side query
	// failed, surface the transport error rather than an estimation error.
	if failedSides == len(sides) {
		return 0, lastErr
	}

	return scraper.EstimateP2PRate(offers)
}

func (c *BinanceP2PClient) fetchOffers(ctx context.Context, side entity.OfferSide) ([]entity.Offer, error) {
	const op = "api.fetchOffers"

	payload, err := json.Marshal(searchRequest{
		Asset:         c.asset,
		Fiat:          c.fiat,
		MerchantCheck: true,
		Page:          1,
		Rows:          scraper.SampleSize,
		TradeType:     string(side),
		FilterType:    "all",
	})
	if err != nil {
		return nil, apperrors.New(apperrors.KindNetwork, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.New(apperrors.KindNetwork, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(op, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Error closing response body", map[string]interface{}{
				"error": closeErr.Error(),
			})
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Newf(apperrors.KindHTTPStatus, op,
			"venue returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.New(apperrors.KindNetwork, op, err)
	}

	prices := gjson.GetBytes(body, "data.#.adv.price")
	offers := make([]entity.Offer, 0, scraper.SampleSize)
	prices.ForEach(func(_, price gjson.Result) bool {
		offers = append(offers, entity.Offer{Price: price.String(), Side: side})
		return true
	})

	return offers, nil
}
