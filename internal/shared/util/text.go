package util

import "unicode/utf8"

// MaxErrorText bounds error text surfaced to clients and logs.
const MaxErrorText = 500

// ErrorText returns err's message truncated to MaxErrorText bytes on a rune boundary.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	return Truncate(err.Error(), MaxErrorText)
}

// Truncate shortens s to at most n bytes without splitting a rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
