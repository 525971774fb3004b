package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Whole euros at or above this overflow int64 once cents are added.
const maxWholeEuros = (1<<63 - 1) / 100

// ParseDecimalToCents parses a positive amount typed by a user, with either
// "." or "," as the decimal separator, into cents. Digits past the second
// decimal are rounded half-up on the third: "12,345" is 1235 cents.
func ParseDecimalToCents(s string) (int64, error) {
	whole, frac, ok := splitAmount(s)
	if !ok {
		return 0, ErrInvalidAmount
	}

	euros, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || euros >= maxWholeEuros {
		return 0, ErrInvalidAmount
	}

	cents := euros*100 + roundCents(frac)
	if cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// splitAmount returns the whole and fractional digit runs of s. Signs,
// repeated separators and non-digits are rejected.
func splitAmount(s string) (whole, frac string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", false
	}
	s = strings.Replace(s, ",", ".", 1)

	whole, frac, _ = strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || !isDigits(frac) {
		return "", "", false
	}
	return whole, frac, true
}

// roundCents turns the fractional digits into cents, half-up on the third.
func roundCents(frac string) int64 {
	var cents int64
	for i := 0; i < 2; i++ {
		cents *= 10
		if i < len(frac) {
			cents += int64(frac[i] - '0')
		}
	}
	if len(frac) > 2 && frac[2] >= '5' {
		cents++
	}
	return cents
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// String formats the amount with a comma decimal separator, e.g. "12,34".
func (m Money) String() string {
	sign := ""
	cents := m.Cents
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d,%02d", sign, cents/100, cents%100)
}
