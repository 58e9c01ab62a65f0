// Package scraper extracts rate values from the source page's HTML and
// computes point estimates from P2P offer samples. It is pure: no network
// access, so everything here is testable against fixtures.
package scraper

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/venrates/bcv-rates-service/internal/apperrors"
	"github.com/venrates/bcv-rates-service/internal/domain/entity"
)

// Structural anchors on the source page. The rate for each currency sits in
// a labeled container, inside a centered div, wrapped in a strong tag.
const (
	primaryAnchor   = "div#dolar"
	secondaryAnchor = "div#euro"
	rateInnerPath   = "div.centrado strong"
	dateAnchor      = "span.date-display-single"
)

var numberPattern = regexp.MustCompile(`[\d.,]+`)

// ExtractBoardRates locates both board rates and, opportunistically, the
// publication date in the page. Extraction is all-or-nothing: if either
// rate anchor is missing or unparsable the whole call fails. A missing or
// unparsable date is not an error; EffectiveDate is left zero.
func ExtractBoardRates(html string, loc *time.Location) (*entity.BoardRates, error) {
	const op = "scraper.ExtractBoardRates"

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, apperrors.New(apperrors.KindParseFailure, op, err)
	}

	primary, err := extractRate(doc, primaryAnchor, op)
	if err != nil {
		return nil, err
	}

	secondary, err := extractRate(doc, secondaryAnchor, op)
	if err != nil {
		return nil, err
	}

	return &entity.BoardRates{
		Primary:       primary,
		Secondary:     secondary,
		EffectiveDate: extractEffectiveDate(doc, loc),
	}, nil
}

func extractRate(doc *goquery.Document, anchor, op string) (float64, error) {
	container := doc.Find(anchor).First()
	if container.Length() == 0 {
		return 0, apperrors.Newf(apperrors.KindNotFound, op, "anchor %s not found", anchor)
	}

	text := strings.TrimSpace(container.Find(rateInnerPath).First().Text())
	match := numberPattern.FindString(text)
	if match == "" {
		return 0, apperrors.Newf(apperrors.KindParseFailure, op, "no numeric value inside %s", anchor)
	}

	rate, err := ParseLocalizedFloat(match)
	if err != nil {
		return 0, apperrors.New(apperrors.KindParseFailure, op, err)
	}
	if rate <= 0 {
		return 0, apperrors.Newf(apperrors.KindParseFailure, op, "non-positive rate %v inside %s", rate, anchor)
	}

	return rate, nil
}

// extractEffectiveDate prefers the machine-readable content attribute on
// the date element over parsing the rendered text.
func extractEffectiveDate(doc *goquery.Document, loc *time.Location) time.Time {
	el := doc.Find(dateAnchor).First()
	if el.Length() == 0 {
		return time.Time{}
	}

	if content, ok := el.Attr("content"); ok {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(content)); err == nil {
			return entity.CivilDate(t, loc)
		}
	}

	if t, err := ParseSpanishDate(el.Text(), loc); err == nil {
		return t
	}

	return time.Time{}
}
