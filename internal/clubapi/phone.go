package clubapi

import (
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

const defaultPhoneRegion = "US"

// IsPhoneNumber reports whether a member search query looks like a phone number
// rather than a name or email fragment.
func IsPhoneNumber(query string) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return false
	}
	digits := 0
	for i, r := range query {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 10
}

// NormalizePhone returns query in E.164 form, or "" if it is not a phone number.
func NormalizePhone(query string) string {
	if !IsPhoneNumber(query) {
		return ""
	}
	parsed, err := phonenumbers.Parse(strings.TrimSpace(query), defaultPhoneRegion)
	if err != nil {
		return ""
	}
	return phonenumbers.Format(parsed, phonenumbers.E164)
}

// NormalizeSearchQuery trims a member search query and rewrites phone-number queries
// to E.164 so "(555) 123-4567" and "+15551234567" hit the same members.
func NormalizeSearchQuery(query string) string {
	query = strings.TrimSpace(query)
	if normalized := NormalizePhone(query); normalized != "" {
		return normalized
	}
	return query
}
