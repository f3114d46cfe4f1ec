package scraper

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Listing pages embed most structured data as JSON blobs inside script tags,
// so several extractors work on the raw page text with an HTML fallback.
var (
	titleFromPageTitleRe = regexp.MustCompile(`Продам\s+(.+?)\s+\(`)
	priceJSONRe          = regexp.MustCompile(`"price[A-Za-z]*":\s*(\d+)`)
	priceTextRe          = regexp.MustCompile(`(\d[\d\s]*)\s*\$`)
	odometerRe           = regexp.MustCompile(`(\d+)\s*тис\.?\s*км`)
	sellerNameRe         = regexp.MustCompile(`"name"\s*:\s*"([^"]+)"`)
	vinRe                = regexp.MustCompile(`(?i)"vin"\s*:\s*"([A-HJ-NPR-Z0-9]{17})"`)
	plateJSONRe          = regexp.MustCompile(`"plateNumber"\s*:\s*"([^"]+)"`)
	plateTextRe          = regexp.MustCompile(`\(([A-Z]{2}\d{4}[A-Z]{2})\)`)
	nonDigitRe           = regexp.MustCompile(`\D`)
)

// Plausible USD price range for a used vehicle; embedded JSON carries many
// unrelated numeric "price*" keys (hryvnia amounts, monthly rates).
const (
	minPlausiblePriceUSD = 1000
	maxPlausiblePriceUSD = 500000
)

// DetailExtractor parses a listing-detail page into a vehicle record.
// Extraction is best-effort per field: a missing or malformed field yields
// nil for that field, and only total unparsability of the page is an error.
type DetailExtractor struct{}

// NewDetailExtractor builds a DetailExtractor.
func NewDetailExtractor() *DetailExtractor {
	return &DetailExtractor{}
}

// Extract parses body into a Detail. All VehicleRecord fields except
// PhoneNumber are populated; the popup payload needed for the phone lookup is
// returned alongside. A *ParseError means the listing is gone or the page is
// not a listing at all.
func (d *DetailExtractor) Extract(body []byte, sourceURL string) (Detail, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Detail{}, &ParseError{URL: sourceURL, Reason: "invalid html"}
	}
	html := string(body)

	record := VehicleRecord{
		URL:          sourceURL,
		Title:        extractTitle(doc),
		PriceUSD:     extractPriceUSD(html),
		OdometerKm:   extractOdometerKm(html),
		SellerName:   extractSellerName(html),
		LicensePlate: extractLicensePlate(html),
		VIN:          extractVIN(html),
	}
	record.ImageURL, record.ImagesCount = extractImages(doc)

	// A removed or expired listing renders a stub with none of the markers
	// a live page always has.
	if record.Title == "" && record.PriceUSD == nil && record.OdometerKm == nil {
		return Detail{}, &ParseError{URL: sourceURL, Reason: "page has no listing content"}
	}

	return Detail{
		Record:       record,
		PopupPayload: extractPopupPayload(html),
	}, nil
}

func extractTitle(doc *goquery.Document) string {
	sel := doc.Find("h1.titleL, h1.head, h1[class*='title']").First()
	if title := strings.TrimSpace(sel.Text()); title != "" {
		return title
	}
	// Fall back to the document title, "AUTO.RIA – Продам <car> (…)".
	pageTitle := strings.TrimSpace(doc.Find("title").First().Text())
	if m := titleFromPageTitleRe.FindStringSubmatch(pageTitle); m != nil {
		return m[1]
	}
	return ""
}

func extractPriceUSD(html string) *int {
	for _, m := range priceJSONRe.FindAllStringSubmatch(html, -1) {
		price, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if price >= minPlausiblePriceUSD && price <= maxPlausiblePriceUSD {
			return &price
		}
	}
	if m := priceTextRe.FindStringSubmatch(html); m != nil {
		digits := nonDigitRe.ReplaceAllString(m[1], "")
		if price, err := strconv.Atoi(digits); err == nil && price > 0 {
			return &price
		}
	}
	return nil
}

func extractOdometerKm(html string) *int {
	m := odometerRe.FindStringSubmatch(html)
	if m == nil {
		return nil
	}
	thousands, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	km := thousands * 1000
	return &km
}

func extractSellerName(html string) *string {
	m := sellerNameRe.FindStringSubmatch(html)
	if m == nil || m[1] == "" {
		return nil
	}
	return &m[1]
}

func extractImages(doc *goquery.Document) (*string, int) {
	images := doc.Find(`img[src*="riastatic"]`)
	count := images.Length()
	if count == 0 {
		return nil, 0
	}
	src, ok := images.First().Attr("src")
	if !ok || src == "" {
		return nil, count
	}
	return &src, count
}

func extractVIN(html string) *string {
	m := vinRe.FindStringSubmatch(html)
	if m == nil {
		return nil
	}
	vin := strings.ToUpper(m[1])
	return &vin
}

func extractLicensePlate(html string) *string {
	if m := plateJSONRe.FindStringSubmatch(html); m != nil && m[1] != "" {
		return &m[1]
	}
	if m := plateTextRe.FindStringSubmatch(html); m != nil {
		return &m[1]
	}
	return nil
}

// extractPopupPayload pulls the actionData JSON object configured for the
// page's autoPhone button. That object is the request body the contact-popup
// endpoint expects. Returns nil when the page has no phone button.
func extractPopupPayload(html string) []byte {
	idx := strings.Index(html, `"id":"autoPhone"`)
	if idx < 0 {
		return nil
	}
	actionIdx := strings.Index(html[idx:], `"actionData":`)
	if actionIdx < 0 {
		return nil
	}
	obj := scanJSONObject(html[idx+actionIdx:])
	if obj == "" || !json.Valid([]byte(obj)) {
		return nil
	}
	return []byte(obj)
}

// scanJSONObject returns the first balanced {...} object in text, tracking
// string and escape state so braces inside string values don't miscount.
func scanJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
