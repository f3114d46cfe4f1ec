package scraper

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const popupEndpointPath = "/bff/final-page/public/auto/popUp/"

var (
	telLinkRe        = regexp.MustCompile(`tel:\s*\(?\+?\d[\d\s\(\)-]{8,}`)
	formattedPhoneRe = regexp.MustCompile(`\(0\d{2}\)\s*\d{3}\s*\d{2}\s*\d{2}`)
)

// uaMobilePrefixes are the operator codes accepted when the leading zero of a
// nine-digit number is missing.
var uaMobilePrefixes = map[string]struct{}{
	"39": {}, "50": {}, "63": {}, "66": {}, "67": {}, "68": {}, "73": {},
	"91": {}, "92": {}, "93": {}, "94": {}, "95": {}, "96": {}, "97": {},
	"98": {}, "99": {},
}

// ContactResolver fetches a seller phone number through the site's internal
// contact-popup endpoint. The endpoint is undocumented and reverse-engineered,
// so everything about its request shape lives in this file; any failure
// (network, parse, no phone listed) degrades to nil and is never raised.
type ContactResolver struct {
	fetcher Fetcher
	baseURL string
	logger  *zap.Logger
}

// NewContactResolver builds a resolver sharing the pipeline's fetcher, so
// phone lookups count against the same concurrency budget as every other
// request.
func NewContactResolver(fetcher Fetcher, baseURL string, logger *zap.Logger) *ContactResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContactResolver{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// ResolvePhone posts the popup payload extracted from the detail page and
// mines the response for a normalized phone number. Returns nil when no
// number could be resolved.
func (r *ContactResolver) ResolvePhone(ctx context.Context, detailURL string, payload []byte) *string {
	if len(payload) == 0 {
		return nil
	}
	header := http.Header{}
	header.Set("Accept", "*/*")
	header.Set("Content-Type", "application/json")
	header.Set("Origin", r.baseURL)
	header.Set("Referer", detailURL)
	header.Set("X-RIA-Source", "vue3-1.41.10")

	body, err := r.fetcher.PostJSON(ctx, r.baseURL+popupEndpointPath, payload, header)
	if err != nil {
		r.logger.Debug("phone popup request failed", zap.String("url", detailURL), zap.Error(err))
		return nil
	}
	phone := minePhone(string(body))
	if phone == "" {
		r.logger.Debug("no phone in popup response", zap.String("url", detailURL))
		return nil
	}
	return &phone
}

// minePhone searches raw popup-response text for a phone number, preferring
// tel: links over display-formatted numbers.
func minePhone(raw string) string {
	if m := telLinkRe.FindString(raw); m != "" {
		if phone := normalizeUAPhone(digitsOnly(m)); phone != "" {
			return phone
		}
	}
	if m := formattedPhoneRe.FindString(raw); m != "" {
		if phone := normalizeUAPhone(digitsOnly(m)); phone != "" {
			return phone
		}
	}
	return ""
}

func digitsOnly(s string) string {
	return nonDigitRe.ReplaceAllString(s, "")
}

// normalizeUAPhone normalizes a digit string to the 380XXXXXXXXX form.
// Accepted inputs: full 380-prefixed numbers, national 0XXXXXXXXX numbers,
// and bare nine-digit mobile numbers with a known operator code.
func normalizeUAPhone(digits string) string {
	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(digits, "380") && len(digits) == 12:
		return digits
	case strings.HasPrefix(digits, "0") && len(digits) == 10:
		return "38" + digits
	case len(digits) == 9:
		if _, ok := uaMobilePrefixes[digits[:2]]; ok {
			return "380" + digits
		}
		return ""
	case strings.HasPrefix(digits, "380") && len(digits) > 12 && len(digits) <= 13:
		return digits[:12]
	}
	return ""
}
