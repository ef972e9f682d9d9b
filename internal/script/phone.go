package script

import "strings"

// NormalizePhone converts a freeform phone number to E.164 where parseable.
// US-centric: ten digits become +1XXXXXXXXXX, eleven digits with a leading 1
// get a plus sign, and numbers already carrying a country code keep it.
// Anything else is returned unchanged so a human can still read it.
func NormalizePhone(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, Unknown) {
		return trimmed
	}

	hasPlus := strings.HasPrefix(trimmed, "+")
	var digits strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case hasPlus && len(d) >= 8 && len(d) <= 15:
		return "+" + d
	case len(d) == 10:
		return "+1" + d
	case len(d) == 11 && d[0] == '1':
		return "+" + d
	default:
		return trimmed
	}
}
