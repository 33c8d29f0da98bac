// Package strings holds small text helpers for terminal output.
package strings

import (
	"strings"
)

// DefaultValueMaxLen is the width claim values are cut to in tables.
const DefaultValueMaxLen = 60

// minTruncateLen leaves room for one character plus "...".
const minTruncateLen = 4

// SingleLine collapses every run of whitespace, newlines included, into a
// single space.
func SingleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate returns s on one line, cut to maxLen runes with a trailing "..."
// when longer. maxLen below 4 is treated as 4.
func Truncate(s string, maxLen int) string {
	if maxLen < minTruncateLen {
		maxLen = minTruncateLen
	}

	s = SingleLine(s)
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
