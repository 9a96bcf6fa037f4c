package util

import (
	"html"
	"strings"
)

// SanitizeInput escapes HTML/script-like characters
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// suspiciousAgentPatterns are substrings that mark a user agent as likely
// automated traffic. The fraud scorer weights a hit, it never blocks alone.
var suspiciousAgentPatterns = []string{"bot", "crawler", "scraper", "automated"}

// SuspiciousAgent reports whether a user-agent string matches a known
// automation pattern.
func SuspiciousAgent(userAgent string) bool {
	lower := strings.ToLower(userAgent)
	for _, p := range suspiciousAgentPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
