package attachpoint

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseUint parses an unsigned integer literal as it may appear in an
// attach point: decimal, 0x/0o/0b prefixed, with '_' separators, an
// integer scientific form such as 5e3, and an optional u/l/ul/ll/ull
// suffix.
func ParseUint(s string) (uint64, error) {
	num := trimIntSuffix(s)
	if num == "" {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	if coeff, exp, ok := splitScientific(num); ok {
		return parseScientific(coeff, exp)
	}
	v, err := strconv.ParseUint(num, 0, 64)
	if err != nil {
		if numErr, ok := err.(*strconv.NumError); ok && numErr.Err == strconv.ErrRange {
			return 0, fmt.Errorf("integer %q out of range", s)
		}
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

// ParseInt is ParseUint with an optional leading sign.
func ParseInt(s string) (int64, error) {
	neg := false
	body := s
	switch {
	case strings.HasPrefix(s, "-"):
		neg, body = true, s[1:]
	case strings.HasPrefix(s, "+"):
		body = s[1:]
	}
	u, err := ParseUint(body)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	if neg {
		if u > 1<<63 {
			return 0, fmt.Errorf("integer %q out of range", s)
		}
		return -int64(u), nil
	}
	if u > 1<<63-1 {
		return 0, fmt.Errorf("integer %q out of range", s)
	}
	return int64(u), nil
}

func trimIntSuffix(s string) string {
	lower := strings.ToLower(s)
	for _, suf := range []string{"ull", "ll", "ul", "u", "l"} {
		if strings.HasSuffix(lower, suf) {
			return s[:len(s)-len(suf)]
		}
	}
	return s
}

func splitScientific(s string) (string, string, bool) {
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "0x") || strings.HasPrefix(lower, "0b") || strings.HasPrefix(lower, "0o") {
		return "", "", false
	}
	i := strings.IndexByte(lower, 'e')
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

func parseScientific(coeff, exp string) (uint64, error) {
	c, err := strconv.ParseUint(coeff, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("coefficient part of scientific literal is not a valid number: %s", coeff)
	}
	e, err := strconv.ParseUint(exp, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("exponent part of scientific literal is not a valid number: %s", exp)
	}
	if c > 9 {
		return 0, fmt.Errorf("coefficient part of scientific literal must be in range (0,9), got: %s", coeff)
	}
	if e > 16 {
		return 0, fmt.Errorf("exponent will overflow integer range: %s", exp)
	}
	v := c
	for range e {
		v *= 10
	}
	return v, nil
}
