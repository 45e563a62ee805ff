package oadr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration wraps time.Duration with the ISO 8601 text form OpenADR uses
// on the wire (PT10S, PT1H30M, P1D, ...). Sub-second precision is not
// representable and is truncated on marshal.
type Duration time.Duration

// D returns the wrapped time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MarshalText renders the duration as an ISO 8601 period string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// String renders the duration as an ISO 8601 period string.
func (d Duration) String() string {
	v := time.Duration(d).Truncate(time.Second)
	if v == 0 {
		return "PT0S"
	}
	var b strings.Builder
	if v < 0 {
		b.WriteByte('-')
		v = -v
	}
	b.WriteByte('P')
	if days := v / (24 * time.Hour); days > 0 {
		fmt.Fprintf(&b, "%dD", days)
		v -= days * 24 * time.Hour
	}
	if v > 0 {
		b.WriteByte('T')
		if h := v / time.Hour; h > 0 {
			fmt.Fprintf(&b, "%dH", h)
			v -= h * time.Hour
		}
		if m := v / time.Minute; m > 0 {
			fmt.Fprintf(&b, "%dM", m)
			v -= m * time.Minute
		}
		if s := v / time.Second; s > 0 {
			fmt.Fprintf(&b, "%dS", s)
		}
	}
	return b.String()
}

// UnmarshalText parses an ISO 8601 period string. Weeks, days, hours,
// minutes and (fractional) seconds are supported; year and month
// designators are rejected because their length is calendar-dependent.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDuration parses an ISO 8601 period string into a Duration.
func ParseDuration(s string) (Duration, error) {
	orig := s
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	} else if s[0] == '+' {
		s = s[1:]
	}
	if len(s) == 0 || s[0] != 'P' {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q", orig)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	components := 0
	num := ""
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == 'T':
			if inTime {
				return 0, fmt.Errorf("invalid ISO 8601 duration %q", orig)
			}
			inTime = true
		case c >= '0' && c <= '9' || c == '.':
			num += string(c)
		default:
			if num == "" {
				return 0, fmt.Errorf("invalid ISO 8601 duration %q", orig)
			}
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid ISO 8601 duration %q: %w", orig, err)
			}
			num = ""
			var unit time.Duration
			switch {
			case c == 'W' && !inTime:
				unit = 7 * 24 * time.Hour
			case c == 'D' && !inTime:
				unit = 24 * time.Hour
			case c == 'H' && inTime:
				unit = time.Hour
			case c == 'M' && inTime:
				unit = time.Minute
			case c == 'S' && inTime:
				unit = time.Second
			default:
				return 0, fmt.Errorf("unsupported designator %q in duration %q", string(c), orig)
			}
			total += time.Duration(val * float64(unit))
			components++
		}
	}
	if num != "" {
		return 0, fmt.Errorf("trailing number in duration %q", orig)
	}
	if components == 0 {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q", orig)
	}
	if neg {
		total = -total
	}
	return Duration(total), nil
}
