package ical

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseICalDuration parses an RFC 5545 §3.3.6 DURATION value, e.g.
// "-PT15M", "P1DT2H30M", "P7W".
func ParseICalDuration(s string) (time.Duration, error) {
	orig := s
	neg := false
	if strings.HasPrefix(s, "+") {
		s = s[1:]
	} else if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("ical: invalid duration %q", orig)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	var num strings.Builder

	flush := func(unit rune) error {
		if num.Len() == 0 {
			return fmt.Errorf("ical: invalid duration %q: missing number before %q", orig, string(unit))
		}
		n, err := strconv.Atoi(num.String())
		if err != nil {
			return fmt.Errorf("ical: invalid duration %q: %w", orig, err)
		}
		num.Reset()
		switch unit {
		case 'W':
			total += time.Duration(n) * 7 * 24 * time.Hour
		case 'D':
			total += time.Duration(n) * 24 * time.Hour
		case 'H':
			total += time.Duration(n) * time.Hour
		case 'M':
			total += time.Duration(n) * time.Minute
		case 'S':
			total += time.Duration(n) * time.Second
		}
		return nil
	}

	for _, r := range s {
		switch r {
		case 'T':
			inTime = true
		case 'W', 'D':
			if err := flush(r); err != nil {
				return 0, err
			}
		case 'H':
			if err := flush(r); err != nil {
				return 0, err
			}
		case 'M':
			if inTime {
				if err := flush('M'); err != nil {
					return 0, err
				}
			} else {
				// bare "M" without T means months, which has no fixed
				// duration; RFC 5545 DURATION never emits this for
				// alarm/trigger use, so treat as malformed.
				return 0, fmt.Errorf("ical: invalid duration %q: month units unsupported", orig)
			}
		case 'S':
			if err := flush('S'); err != nil {
				return 0, err
			}
		default:
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("ical: invalid duration %q: unexpected %q", orig, string(r))
			}
			num.WriteRune(r)
		}
	}

	if neg {
		total = -total
	}
	return total, nil
}

// FormatICalDuration renders d as an RFC 5545 DURATION value.
func FormatICalDuration(d time.Duration) string {
	neg := d < 0
	if neg {
		d = -d
	}

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteByte('P')
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if hours > 0 || minutes > 0 || seconds > 0 {
		b.WriteByte('T')
		if hours > 0 {
			fmt.Fprintf(&b, "%dH", hours)
		}
		if minutes > 0 {
			fmt.Fprintf(&b, "%dM", minutes)
		}
		if seconds > 0 || (days == 0 && hours == 0 && minutes == 0) {
			fmt.Fprintf(&b, "%dS", seconds)
		}
	}
	return b.String()
}
