// Package scraper internal/infrastructure/scraper/locale.go
package scraper

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// spanishMonths maps lowercase Spanish month names to month numbers. The
// source publishes dates in Spanish only.
var spanishMonths = map[string]time.Month{
	"enero":      time.January,
	"febrero":    time.February,
	"marzo":      time.March,
	"abril":      time.April,
	"mayo":       time.May,
	"junio":      time.June,
	"julio":      time.July,
	"agosto":     time.August,
	"septiembre": time.September,
	"octubre":    time.October,
	"noviembre":  time.November,
	"diciembre":  time.December,
}

// monthNamesES is the reverse table, used when formatting dates for the
// history endpoint.
var monthNamesES = [...]string{
	time.January:   "Enero",
	time.February:  "Febrero",
	time.March:     "Marzo",
	time.April:     "Abril",
	time.May:       "Mayo",
	time.June:      "Junio",
	time.July:      "Julio",
	time.August:    "Agosto",
	time.September: "Septiembre",
	time.October:   "Octubre",
	time.November:  "Noviembre",
	time.December:  "Diciembre",
}

// NormalizeDecimal rewrites a locale-formatted number so strconv can parse
// it. The source uses comma as the decimal separator and may use dots as
// thousands separators ("57.234,19" -> "57234.19"). A lone dot is already a
// decimal separator and is left untouched.
func NormalizeDecimal(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	return s
}

// ParseLocalizedFloat parses a number that may use comma decimal notation.
func ParseLocalizedFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(NormalizeDecimal(s), 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable number %q: %w", s, err)
	}
	return v, nil
}

// ParseSpanishDate parses the date forms the source is known to publish:
//
//	"Viernes, 07 Junio 2024"
//	"07 de Junio de 2024"
//	"07/06/2024"
//
// An optional weekday prefix (everything up to the first comma) is dropped.
func ParseSpanishDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ","); i >= 0 {
		s = strings.TrimSpace(s[i+1:])
	}

	if t, err := parseNumericDate(s, loc); err == nil {
		return t, nil
	}

	fields := strings.Fields(strings.ToLower(s))
	parts := make([]string, 0, 3)
	for _, f := range fields {
		if f == "de" || f == "del" {
			continue
		}
		parts = append(parts, f)
	}
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("unrecognized date %q", s)
	}

	day, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized day in date %q", s)
	}

	month, ok := spanishMonths[parts[1]]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown month %q in date %q", parts[1], s)
	}

	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized year in date %q", s)
	}

	return time.Date(year, month, day, 0, 0, 0, 0, loc), nil
}

// parseNumericDate handles the "DD/MM/YYYY" fallback form.
func parseNumericDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("02/01/2006", s, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// FormatSpanishDate renders a date the way the original history feed did:
// "07 de Junio de 2024".
func FormatSpanishDate(t time.Time) string {
	return fmt.Sprintf("%02d de %s de %d", t.Day(), monthNamesES[t.Month()], t.Year())
}
