package observability

import (
	"strings"
	"unicode"
)

// Length caps for request-derived values copied into log entries.
const (
	routeLimit  = 180
	methodLimit = 10
	actorLimit  = 64
	fallbackCap = 256
)

// clean strips control characters and keeps at most limit runes.
func clean(value string, limit int) string {
	if limit <= 0 {
		limit = fallbackCap
	}
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	runes := []rune(value)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return value
}

// SanitizeRoute returns "/" for unmatched requests.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clean(route, routeLimit)
}

func SanitizeMethod(method string) string {
	return clean(strings.ToUpper(method), methodLimit)
}

// SanitizeActor caps the X-App-Actor value written to logs.
func SanitizeActor(actor string) string {
	return clean(strings.TrimSpace(actor), actorLimit)
}
