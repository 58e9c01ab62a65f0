package handler

import (
	"github.com/shopspring/decimal"

	"github.com/venrates/bcv-rates-service/internal/domain/entity"
	"github.com/venrates/bcv-rates-service/internal/infrastructure/scraper"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	dateLayout      = "2006-01-02"
)

// RatesResponse is the flat current-snapshot record served by /api/rates.
type RatesResponse struct {
	PrimaryRate            float64 `json:"primary_rate"`
	SecondaryRate          float64 `json:"secondary_rate"`
	P2PRate                float64 `json:"p2p_rate"`
	FixedReferenceRate     float64 `json:"fixed_reference_rate"`
	LastUpdated            string  `json:"last_updated"`
	LastUpdatedP2P         string  `json:"last_updated_p2p"`
	EffectiveDate          string  `json:"effective_date"`
	PrimaryChangePercent   float64 `json:"primary_change_percent"`
	SecondaryChangePercent float64 `json:"secondary_change_percent"`
}

// HistoryEntryResponse is one element of the /api/rate-history list. Date
// keeps the human-readable form the original feed used; DateYMD is the
// machine-friendly one.
type HistoryEntryResponse struct {
	Date          string  `json:"date"`
	DateYMD       string  `json:"date_ymd"`
	PrimaryRate   float64 `json:"primary_rate"`
	SecondaryRate float64 `json:"secondary_rate"`
	P2PRate       float64 `json:"p2p_rate"`
}

// RefreshAttemptResponse is one element of the /api/refresh-log list.
type RefreshAttemptResponse struct {
	ID        string `json:"id"`
	Mode      string `json:"mode"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse is the standardized error body.
type ErrorResponse struct {
	Error       string `json:"error"`
	Status      int    `json:"status"`
	Description string `json:"description"`
	RequestID   string `json:"request_id"`
}

func newRatesResponse(snap entity.RateSnapshot) RatesResponse {
	resp := RatesResponse{
		PrimaryRate:            snap.PrimaryRate,
		SecondaryRate:          snap.SecondaryRate,
		P2PRate:                snap.P2PRate,
		FixedReferenceRate:     snap.FixedReferenceRate,
		LastUpdated:            snap.LastUpdated.Format(timestampLayout),
		LastUpdatedP2P:         snap.LastUpdatedP2P.Format(timestampLayout),
		PrimaryChangePercent:   round2(snap.PrimaryChangePercent),
		SecondaryChangePercent: round2(snap.SecondaryChangePercent),
	}
	if !snap.EffectiveDate.IsZero() {
		resp.EffectiveDate = snap.EffectiveDate.Format(dateLayout)
	}
	return resp
}

func newHistoryResponse(entries []entity.HistoryEntry) []HistoryEntryResponse {
	resp := make([]HistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, HistoryEntryResponse{
			Date:          scraper.FormatSpanishDate(e.EffectiveDate),
			DateYMD:       e.EffectiveDate.Format(dateLayout),
			PrimaryRate:   e.PrimaryRate,
			SecondaryRate: e.SecondaryRate,
			P2PRate:       e.P2PRate,
		})
	}
	return resp
}

func newAttemptsResponse(attempts []entity.RefreshAttempt) []RefreshAttemptResponse {
	resp := make([]RefreshAttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		resp = append(resp, RefreshAttemptResponse{
			ID:        a.ID,
			Mode:      string(a.Mode),
			Status:    a.Status,
			Message:   a.Message,
			Timestamp: a.Timestamp.Format(timestampLayout),
		})
	}
	return resp
}

// round2 rounds once at the serialization boundary; internal values stay
// unrounded.
func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
