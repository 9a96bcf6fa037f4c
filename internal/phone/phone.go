// Package phone canonicalizes user-entered phone numbers into E.164 form.
package phone

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPhone is returned when the input cannot be a valid E.164 number.
var ErrInvalidPhone = errors.New("invalid phone number")

// E164 is a canonical phone number: a leading + followed by 7 to 15 digits,
// the first of which is never 0.
type E164 string

func (p E164) String() string { return string(p) }

// Normalize canonicalizes an arbitrary phone string into E.164. It is pure
// and idempotent: normalizing an already-normalized number returns the same
// value.
//
// Rules: strip everything but digits and a leading +, collapse a doubled
// leading ++, prefix + when absent. Fails when the digit count is outside
// 7..15 or the digits start with 0 (invalid country-code position).
func Normalize(raw string) (E164, error) {
	s := strings.TrimSpace(raw)

	var b strings.Builder
	for i, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	clean := b.String()

	if strings.HasPrefix(clean, "++") {
		clean = clean[1:]
	}
	if !strings.HasPrefix(clean, "+") {
		clean = "+" + clean
	}

	digits := clean[1:]
	if len(digits) < 7 || len(digits) > 15 {
		return "", fmt.Errorf("%w: expected 7-15 digits, got %d", ErrInvalidPhone, len(digits))
	}
	if digits[0] == '0' {
		return "", fmt.Errorf("%w: country code cannot start with 0", ErrInvalidPhone)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: non-digit after country code", ErrInvalidPhone)
		}
	}

	return E164(clean), nil
}
