// Package api internal/infrastructure/api/keepalive.go
package api

import (
	"context"
	"net/http"

	"github.com/venrates/bcv-rates-service/internal/infrastructure/logger"
)

// KeepalivePinger issues periodic self-pings against the service's external
// hostname. Some free hosting tiers suspend idle processes; the ping keeps
// the instance warm. It is optional and has no effect on the data model.
type KeepalivePinger struct {
	url        string
	httpClient *http.Client
	logger     logger.Logger
}

// NewKeepalivePinger returns nil when url is empty, which disables the job.
func NewKeepalivePinger(url string, log logger.Logger) *KeepalivePinger {
	if url == "" {
		return nil
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &KeepalivePinger{
		url:        url,
		httpClient: &http.Client{Timeout: defaultFetchTimeout},
		logger:     log,
	}
}

// Ping performs one GET against the configured URL. Failures are logged and
// swallowed; a missed ping is harmless.
func (p *KeepalivePinger) Ping(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.Warn("Keepalive request build failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Warn("Keepalive ping failed", map[string]interface{}{
			"url":   p.url,
			"error": err.Error(),
		})
		return
	}
	defer resp.Body.Close()

	p.logger.Debug("Keepalive ping sent", map[string]interface{}{
		"url":    p.url,
		"status": resp.StatusCode,
	})
}
