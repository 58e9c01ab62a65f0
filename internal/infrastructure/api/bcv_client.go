// Package api holds the outbound HTTP clients for the two external rate
// sources and the optional keepalive pinger.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/venrates/bcv-rates-service/internal/apperrors"
	"github.com/venrates/bcv-rates-service/internal/domain/entity"
	"github.com/venrates/bcv-rates-service/internal/infrastructure/logger"
	"github.com/venrates/bcv-rates-service/internal/infrastructure/scraper"
)

const (
	defaultBCVURL       = "https://www.bcv.org.ve/"
	defaultFetchTimeout = 15 * time.Second
	userAgent           = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

// BCVClient fetches the source page and extracts both board rates from it.
type BCVClient struct {
	baseURL    string
	httpClient *http.Client
	location   *time.Location
	logger     logger.Logger
}

// NewBCVClient creates a client for the board-rate source. The source's TLS
// chain is broken on some hosting providers, so certificate verification is
// disabled for this one origin, matching how every deployment of the
// original service had to run.
func NewBCVClient(baseURL string, loc *time.Location, timeout time.Duration, log logger.Logger) *BCVClient {
	if baseURL == "" {
		baseURL = defaultBCVURL
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &BCVClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		location: loc,
		logger:   log,
	}
}

// FetchBoardRates downloads the page and extracts both rates plus the
// publication date. Returns both rates or an error, never a partial result.
func (c *BCVClient) FetchBoardRates(ctx context.Context) (*entity.BoardRates, error) {
	const op = "api.FetchBoardRates"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, apperrors.New(apperrors.KindNetwork, op, err)
	}
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
			"source returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.New(apperrors.KindNetwork, op, err)
	}

	rates, err := scraper.ExtractBoardRates(string(body), c.location)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Board rates extracted", map[string]interface{}{
		"primary":        rates.Primary,
		"secondary":      rates.Secondary,
		"effective_date": rates.EffectiveDate.Format("2006-01-02"),
	})

	return rates, nil
}

// classifyTransportError separates timeouts from other transport failures
// so the refresh policy can tell them apart.
func classifyTransportError(op string, err error) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.New(apperrors.KindTimeout, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.New(apperrors.KindTimeout, op, err)
	}
	return apperrors.New(apperrors.KindNetwork, op, err)
}
