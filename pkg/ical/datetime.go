// Package ical implements a lossless RFC 5545 iCalendar codec: value
// types, line folding/unfolding, text escaping, a diagnostics-producing
// parser, and a deterministic generator.
package ical

import (
	"fmt"
	"time"
)

// DateForm tags which of the four RFC 5545 date-time shapes a value
// carries. A DateTime never mixes forms: the zero value is FormFloating.
type DateForm int

const (
	// FormFloating has no timezone and no UTC marker ("floating" time).
	FormFloating DateForm = iota
	// FormDateOnly carries no time-of-day component (VALUE=DATE).
	FormDateOnly
	// FormUTC is an absolute instant, serialized with a trailing "Z".
	FormUTC
	// FormLocal carries a named IANA timezone (TZID=...).
	FormLocal
)

func (f DateForm) String() string {
	switch f {
	case FormDateOnly:
		return "DATE"
	case FormUTC:
		return "UTC"
	case FormLocal:
		return "LOCAL"
	default:
		return "FLOATING"
	}
}

// DateTime is the tagged union described in spec §3.1: date-only, UTC
// instant, local wall time with a named timezone, or floating wall time.
// The zero value is an invalid DateTime; use the New* constructors.
type DateTime struct {
	Form DateForm
	// Time holds the wall-clock fields. For FormUTC its Location is
	// time.UTC. For FormLocal its Location is the named zone. For
	// FormFloating and FormDateOnly the Location is purely nominal
	// (time.UTC) and must never be treated as authoritative.
	Time time.Time
	// TZID is set only for FormLocal, and is the name used to look the
	// zone up in a timezone table (it may not match Time.Location().String()
	// verbatim, e.g. "Custom/Office" aliases).
	TZID string
}

const (
	dateLayout     = "20060102"
	localLayout    = "20060102T150405"
	utcLayout      = "20060102T150405Z"
)

// NewDateOnly builds an all-day DateTime. Only the date fields of t are
// significant.
func NewDateOnly(t time.Time) DateTime {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return DateTime{Form: FormDateOnly, Time: d}
}

// NewUTC builds a UTC-instant DateTime.
func NewUTC(t time.Time) DateTime {
	return DateTime{Form: FormUTC, Time: t.UTC()}
}

// NewLocal builds a local-wall-time DateTime tagged with an IANA zone.
func NewLocal(t time.Time, loc *time.Location) DateTime {
	if loc == nil {
		loc = time.UTC
	}
	lt := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
	return DateTime{Form: FormLocal, Time: lt, TZID: loc.String()}
}

// NewFloating builds a floating wall-time DateTime (no timezone).
func NewFloating(t time.Time) DateTime {
	ft := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
	return DateTime{Form: FormFloating, Time: ft}
}

// IsDateOnly reports whether d carries no time-of-day component.
func (d DateTime) IsDateOnly() bool { return d.Form == FormDateOnly }

// Equal reports instant equality. Date-only values compare by calendar
// day; local/floating values compare by their wall-clock fields (no
// timezone normalization is attempted across forms, matching spec §4.4's
// "exact equality after timezone normalization" requirement for EXDATE,
// which callers perform before calling Equal).
func (d DateTime) Equal(o DateTime) bool {
	if d.Form != o.Form {
		return false
	}
	switch d.Form {
	case FormDateOnly:
		y1, m1, day1 := d.Time.Date()
		y2, m2, day2 := o.Time.Date()
		return y1 == y2 && m1 == m2 && day1 == day2
	case FormUTC:
		return d.Time.Equal(o.Time)
	default:
		return d.Time.Equal(o.Time) && d.TZID == o.TZID
	}
}

// Before reports whether d occurs strictly before o, comparing the
// underlying instants regardless of form.
func (d DateTime) Before(o DateTime) bool { return d.Time.Before(o.Time) }

// Add returns d shifted by dur, preserving its form and TZID.
func (d DateTime) Add(dur time.Duration) DateTime {
	d.Time = d.Time.Add(dur)
	return d
}

// Encode renders d per spec §4.3's date-time emission rules, returning
// the bare VALUE text and any parameters the caller should attach
// (VALUE=DATE for date-only, TZID=<id> for local).
func (d DateTime) Encode() (value string, params []Param) {
	switch d.Form {
	case FormDateOnly:
		return d.Time.Format(dateLayout), []Param{{Name: "VALUE", Values: []string{"DATE"}}}
	case FormUTC:
		return d.Time.Format(utcLayout), nil
	case FormLocal:
		return d.Time.Format(localLayout), []Param{{Name: "TZID", Values: []string{d.TZID}}}
	default:
		return d.Time.Format(localLayout), nil
	}
}

// ParseDateTime decodes a DTSTART/DTEND/EXDATE/RECURRENCE-ID style value
// given its parameters. tzLookup resolves a TZID to a *time.Location; if
// it returns an error the instance becomes floating and the caller should
// record a FloatingFallback diagnostic.
func ParseDateTime(value string, params []Param, tzLookup func(tzid string) (*time.Location, error)) (DateTime, error) {
	isDateOnly := paramValue(params, "VALUE") == "DATE" || len(value) == 8
	if isDateOnly {
		t, err := time.Parse(dateLayout, value)
		if err != nil {
			return DateTime{}, fmt.Errorf("ical: invalid DATE value %q: %w", value, err)
		}
		return NewDateOnly(t), nil
	}

	if len(value) > 0 && value[len(value)-1] == 'Z' {
		t, err := time.Parse(utcLayout, value)
		if err != nil {
			return DateTime{}, fmt.Errorf("ical: invalid UTC date-time %q: %w", value, err)
		}
		return NewUTC(t), nil
	}

	if tzid := paramValue(params, "TZID"); tzid != "" {
		t, err := time.Parse(localLayout, value)
		if err != nil {
			return DateTime{}, fmt.Errorf("ical: invalid local date-time %q: %w", value, err)
		}
		if tzLookup != nil {
			if loc, err := tzLookup(tzid); err == nil {
				lt := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
				return DateTime{Form: FormLocal, Time: lt, TZID: tzid}, nil
			}
		}
		// Unknown TZID: FloatingFallback, per spec §4.2.
		return NewFloating(t), nil
	}

	t, err := time.Parse(localLayout, value)
	if err != nil {
		return DateTime{}, fmt.Errorf("ical: invalid floating date-time %q: %w", value, err)
	}
	return NewFloating(t), nil
}

func paramValue(params []Param, name string) string {
	for _, p := range params {
		if p.Name == name && len(p.Values) > 0 {
			return p.Values[0]
		}
	}
	return ""
}
