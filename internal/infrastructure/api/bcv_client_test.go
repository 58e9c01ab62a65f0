// internal/infrastructure/api/bcv_client_test.go
package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venrates/bcv-rates-service/internal/apperrors"
)

const bcvPageFixture = `
<html><body>
<span class="date-display-single" content="2024-03-04T00:00:00-04:00">Lunes, 04 Marzo 2024</span>
<div id="euro"><div class="centrado"><strong> 40,00 </strong></div></div>
<div id="dolar"><div class="centrado"><strong> 36,80 </strong></div></div>
</body></html>`

func TestFetchBoardRates(t *testing.T) {
	t.Run("Successful fetch", func(t *testing.T) {
		mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.NotEmpty(t, r.Header.Get("User-Agent"))

			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(bcvPageFixture))
		}))
		defer mockServer.Close()

		client := NewBCVClient(mockServer.URL, time.UTC, 0, nil)

		rates, err := client.FetchBoardRates(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 36.80, rates.Primary)
		assert.Equal(t, 40.00, rates.Secondary)
		assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), rates.EffectiveDate)
	})

	t.Run("Non-200 status", func(t *testing.T) {
		mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer mockServer.Close()

		client := NewBCVClient(mockServer.URL, time.UTC, 0, nil)

		_, err := client.FetchBoardRates(context.Background())

		assert.True(t, apperrors.IsKind(err, apperrors.KindHTTPStatus))
	})

	t.Run("Layout change surfaces as extraction error", func(t *testing.T) {
		mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html><body><p>redesigned</p></body></html>`))
		}))
		defer mockServer.Close()

		client := NewBCVClient(mockServer.URL, time.UTC, 0, nil)

		_, err := client.FetchBoardRates(context.Background())

		assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
	})

	t.Run("Unreachable host", func(t *testing.T) {
		client := NewBCVClient("http://127.0.0.1:1", time.UTC, 0, nil)

		_, err := client.FetchBoardRates(context.Background())

		assert.True(t, apperrors.IsKind(err, apperrors.KindNetwork))
	})
}
