package entity

import (
	"time"
)

// Placeholder values served before the first successful scrape. The fixed
// reference rate only changes through configuration, never through scraping.
const (
	DefaultPrimaryRate        = 0.01
	DefaultSecondaryRate      = 0.01
	DefaultFixedReferenceRate = 43.00
)

// RateSnapshot is the single current-state record: the two board rates
// published by the central bank, the P2P market rate, and the derived
// day-over-day change percentages.
type RateSnapshot struct {
	PrimaryRate        float64   `json:"primary_rate"`
	SecondaryRate      float64   `json:"secondary_rate"`
	P2PRate            float64   `json:"p2p_rate"`
	FixedReferenceRate float64   `json:"fixed_reference_rate"`
	LastUpdated        time.Time `json:"last_updated"`
	LastUpdatedP2P     time.Time `json:"last_updated_p2p"`
	// EffectiveDate is the calendar date the board rates are authoritative
	// for, as published by the source. Distinct from LastUpdated, which is
	// when this service observed them.
	EffectiveDate          time.Time `json:"effective_date"`
	PrimaryChangePercent   float64   `json:"primary_change_percent"`
	SecondaryChangePercent float64   `json:"secondary_change_percent"`
}

// NewDefaultSnapshot returns a snapshot with safe placeholder values, used
// when no persisted state exists yet.
func NewDefaultSnapshot(fixedReferenceRate float64, now time.Time) *RateSnapshot {
	if fixedReferenceRate <= 0 {
		fixedReferenceRate = DefaultFixedReferenceRate
	}

	return &RateSnapshot{
		PrimaryRate:        DefaultPrimaryRate,
		SecondaryRate:      DefaultSecondaryRate,
		P2PRate:            fixedReferenceRate,
		FixedReferenceRate: fixedReferenceRate,
		LastUpdated:        now,
		LastUpdatedP2P:     now,
	}
}

// HistoryEntry is one persisted past observation of the board rates.
// At most one entry exists per effective date.
type HistoryEntry struct {
	EffectiveDate time.Time `json:"effective_date"`
	PrimaryRate   float64   `json:"primary_rate"`
	SecondaryRate float64   `json:"secondary_rate"`
	P2PRate       float64   `json:"p2p_rate"`
}

// BoardRates is the result of one successful extraction from the source
// page. EffectiveDate is zero when the page carried no parseable date.
type BoardRates struct {
	Primary       float64
	Secondary     float64
	EffectiveDate time.Time
}

// OfferSide identifies which side of the order book an offer sits on.
type OfferSide string

const (
	OfferSideBuy  OfferSide = "BUY"
	OfferSideSell OfferSide = "SELL"
)

// Offer is a single P2P trade offer as returned by the venue. Price is kept
// as the raw string; unparsable or non-positive prices are discarded during
// estimation.
type Offer struct {
	Price string    `json:"price"`
	Side  OfferSide `json:"side"`
}

// RefreshMode selects how much of the snapshot a refresh run touches.
type RefreshMode string

const (
	// RefreshFull updates board rates, history and the P2P rate. Gated by
	// effective date so board rates are fetched at most once per business day.
	RefreshFull RefreshMode = "full"
	// RefreshPartial updates only the P2P rate, on its own frequent cadence.
	RefreshPartial RefreshMode = "partial"
)

// Attempt statuses recorded in the refresh log.
const (
	AttemptOK      = "ok"
	AttemptSkipped = "skipped"
	AttemptFailed  = "failed"
)

// RefreshAttempt is one record in the bounded refresh operation log.
type RefreshAttempt struct {
	ID        string      `json:"id"`
	Mode      RefreshMode `json:"mode"`
	Status    string      `json:"status"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// SameCivilDate reports whether a and b fall on the same calendar date in
// the given location. Zero times never match a non-zero time.
func SameCivilDate(a, b time.Time, loc *time.Location) bool {
	if a.IsZero() != b.IsZero() {
		return false
	}

	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// CivilDate truncates t to midnight of its calendar date in loc.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
