// Package strings holds text helpers for messages shown to users.
package strings

import "strings"

// DefaultMaxLen bounds provider supplied text such as error descriptions and
// token endpoint bodies.
const DefaultMaxLen = 200

// minTruncateLen leaves room for one rune plus "...".
const minTruncateLen = 4

// Truncate collapses every run of whitespace into a single space and cuts s
// to at most maxLen runes, ending with "..." when it was cut.
func Truncate(s string, maxLen int) string {
	if maxLen < minTruncateLen {
		maxLen = minTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
