package observability

import (
	"strings"
	"unicode"
)

// Field limits for log and span attributes. Routes are chi patterns such as
// /orders/{orderID}/status, identifiers are prefixed ULIDs, so these stay
// short on purpose.
const (
	maxRouteLen  = 128
	maxMethodLen = 8
	maxActorLen  = 40
)

// SanitizeRoute strips control characters from a route pattern and caps its
// length. Empty routes collapse to "/" so dashboards never see a blank label.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return scrub(route, maxRouteLen)
}

// SanitizeMethod scrubs an HTTP method before it reaches logs or metrics.
func SanitizeMethod(method string) string {
	return scrub(method, maxMethodLen)
}

// SanitizeUserID caps actor identifiers so a hostile token subject cannot
// inject log lines or bloat attributes.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return scrub(uid, maxActorLen)
}

// scrub drops control runes (keeping nothing that could break a log line)
// and truncates to limit runes.
func scrub(value string, limit int) string {
	var b strings.Builder
	b.Grow(len(value))
	kept := 0
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		kept++
		if kept == limit {
			break
		}
	}
	return b.String()
}
