package recur

import (
	"sort"
	"time"

	"github.com/caldavkit/calsync/pkg/ical"
)

// generator produces successive candidate instants for one RRULE,
// advancing period-by-period and expanding/filtering each period's
// BY* parts per RFC 5545 §3.3.10's defined precedence (spec §4.4 step
// 1-3): monthly/yearly expansion happens before day-of-week filtering,
// and BYSETPOS is applied last, once per period.
type generator struct {
	dtstart ical.DateTime
	rr      *ical.RRule

	period  int // index of the current period, 0-based from dtstart's period
	buf     []ical.DateTime
	bufPos  int
	emitted int
}

func newGenerator(dtstart ical.DateTime, rr *ical.RRule) *generator {
	return &generator{dtstart: dtstart, rr: rr}
}

// next returns the next candidate instant in ascending order, or
// ok=false once the generator gives up (it never gives up on its own
// for an unbounded rule; callers stop it via Bound/ceiling/UNTIL/COUNT).
func (g *generator) next() (ical.DateTime, bool) {
	for {
		if g.bufPos < len(g.buf) {
			v := g.buf[g.bufPos]
			g.bufPos++
			return v, true
		}
		if !g.fillNextPeriod() {
			return ical.DateTime{}, false
		}
	}
}

// fillNextPeriod computes the candidate set for the next period and
// stores it sorted in g.buf. Returns false if periods are exhausted
// (never happens in practice; guards against pathological loops).
func (g *generator) fillNextPeriod() bool {
	const maxEmptyPeriods = 100000 // safety valve against BY*-filters that never match

	for empty := 0; empty < maxEmptyPeriods; empty++ {
		periodStart := g.periodAnchor(g.period)
		g.period++

		cands := g.expandPeriod(periodStart)
		cands = dropBeforeDTStart(cands, g.dtstart.Time)
		if len(cands) == 0 {
			continue
		}
		sort.Slice(cands, func(i, j int) bool { return cands[i].Before(cands[j]) })
		cands = applySetPos(cands, g.rr.BySetPos)
		if len(cands) == 0 {
			continue
		}
		g.buf = cands
		g.bufPos = 0
		return true
	}
	return false
}

// periodAnchor returns the wall-clock instant that begins period index
// idx (0 is dtstart's own period), stepped by FREQ*INTERVAL. For
// Monthly/Yearly it anchors to the 1st of the target month rather than
// calling AddDate on dtstart's own day-of-month: AddDate normalizes an
// out-of-range day (e.g. Jan 31 plus one month) into the following
// month, which would silently shift the period itself. The day
// component dtstart actually recurs on is reapplied downstream, in
// expandMonth/expandYear, with an explicit skip for months too short
// to contain it.
func (g *generator) periodAnchor(idx int) time.Time {
	interval := g.rr.EffectiveInterval()
	base := g.dtstart.Time
	step := idx * interval
	switch g.rr.Freq {
	case ical.Secondly:
		return base.Add(time.Duration(step) * time.Second)
	case ical.Minutely:
		return base.Add(time.Duration(step) * time.Minute)
	case ical.Hourly:
		return base.Add(time.Duration(step) * time.Hour)
	case ical.Daily:
		return base.AddDate(0, 0, step)
	case ical.Weekly:
		return base.AddDate(0, 0, step*7)
	case ical.Monthly:
		return addMonthsToFirst(base, step)
	default: // Yearly
		return addMonthsToFirst(base, step*12)
	}
}

// addMonthsToFirst returns the 1st of the month that is months after
// base's own month, preserving base's time-of-day. Unlike
// base.AddDate(0, months, 0), this never overflows into a later month
// because of base's day-of-month.
func addMonthsToFirst(base time.Time, months int) time.Time {
	total := int(base.Month()) - 1 + months
	year := base.Year() + total/12
	rem := total % 12
	if rem < 0 {
		rem += 12
		year--
	}
	return time.Date(year, time.Month(rem+1), 1, base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), base.Location())
}

// expandPeriod generates every candidate instant inside the period that
// begins at periodStart, applying BYMONTH/BYMONTHDAY/BYDAY/BYYEARDAY/
// BYWEEKNO/BYHOUR/BYMINUTE/BYSECOND as expansion or filter rules per
// their RFC 5545 semantics for the rule's FREQ.
func (g *generator) expandPeriod(periodStart time.Time) []ical.DateTime {
	rr := g.rr

	var days []time.Time
	switch rr.Freq {
	case ical.Secondly, ical.Minutely, ical.Hourly:
		days = []time.Time{periodStart}
	case ical.Daily:
		days = []time.Time{periodStart}
	case ical.Weekly:
		days = g.expandWeek(periodStart)
	case ical.Monthly:
		days = g.expandMonth(periodStart)
	case ical.Yearly:
		days = g.expandYear(periodStart)
	}

	if len(rr.ByMonth) > 0 && rr.Freq != ical.Monthly {
		days = filterByMonth(days, rr.ByMonth)
	}

	var out []ical.DateTime
	for _, day := range days {
		out = append(out, g.expandTime(day)...)
	}
	return out
}

func (g *generator) expandWeek(weekStart time.Time) []time.Time {
	rr := g.rr
	// Align weekStart to WKST.
	wd := int(toRRuleWeekday(weekStart.Weekday()))
	delta := wd - int(rr.WKST)
	if delta < 0 {
		delta += 7
	}
	weekStart = weekStart.AddDate(0, 0, -delta)

	if len(rr.ByDay) == 0 {
		out := make([]time.Time, 7)
		for i := 0; i < 7; i++ {
			out[i] = weekStart.AddDate(0, 0, i)
		}
		return out
	}
	var out []time.Time
	for i := 0; i < 7; i++ {
		d := weekStart.AddDate(0, 0, i)
		wd := toRRuleWeekday(d.Weekday())
		for _, bd := range rr.ByDay {
			if bd.Day == wd {
				out = append(out, d)
			}
		}
	}
	return out
}

func (g *generator) expandMonth(monthStart time.Time) []time.Time {
	rr := g.rr
	first := time.Date(monthStart.Year(), monthStart.Month(), 1, 0, 0, 0, 0, monthStart.Location())
	daysInMonth := first.AddDate(0, 1, 0).Add(-24 * time.Hour).Day()

	var candidates []time.Time
	switch {
	case len(rr.ByMonthDay) > 0:
		for _, md := range rr.ByMonthDay {
			day := md
			if day < 0 {
				day = daysInMonth + day + 1
			}
			if day < 1 || day > daysInMonth {
				continue
			}
			candidates = append(candidates, first.AddDate(0, 0, day-1))
		}
	case len(rr.ByDay) > 0:
		candidates = expandByDayInMonth(first, daysInMonth, rr.ByDay)
	default:
		// No BYMONTHDAY/BYDAY: keep dtstart's own day-of-month, skipping
		// this month entirely if it's too short to contain that day
		// (e.g. dtstart on the 31st, this month has 30 days) rather than
		// spilling into the next month.
		if day := g.dtstart.Time.Day(); day >= 1 && day <= daysInMonth {
			candidates = []time.Time{first.AddDate(0, 0, day-1)}
		}
	}

	if len(rr.ByMonth) > 0 {
		candidates = filterByMonth(candidates, rr.ByMonth)
	}
	return candidates
}

func (g *generator) expandYear(yearStart time.Time) []time.Time {
	rr := g.rr
	year := yearStart.Year()
	loc := yearStart.Location()

	switch {
	case len(rr.ByYearDay) > 0:
		first := time.Date(year, 1, 1, 0, 0, 0, 0, loc)
		daysInYear := first.AddDate(1, 0, 0).Sub(first).Hours() / 24
		var out []time.Time
		for _, yd := range rr.ByYearDay {
			day := yd
			if day < 0 {
				day = int(daysInYear) + day + 1
			}
			if day < 1 || float64(day) > daysInYear {
				continue
			}
			out = append(out, first.AddDate(0, 0, day-1))
		}
		return out
	case len(rr.ByMonth) > 0 || len(rr.ByMonthDay) > 0 || len(rr.ByDay) > 0:
		months := rr.ByMonth
		if len(months) == 0 {
			months = []int{int(yearStart.Month())}
		}
		var out []time.Time
		for _, m := range months {
			monthStart := time.Date(year, time.Month(m), 1, 0, 0, 0, 0, loc)
			out = append(out, g.expandMonth(monthStart)...)
		}
		return out
	default:
		// No BY* parts at all: keep dtstart's own month/day, skipping
		// this year if it's invalid for that year (e.g. Feb 29 on a
		// non-leap year).
		month := g.dtstart.Time.Month()
		day := g.dtstart.Time.Day()
		first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
		daysInMonth := first.AddDate(0, 1, 0).Add(-24 * time.Hour).Day()
		if day < 1 || day > daysInMonth {
			return nil
		}
		return []time.Time{first.AddDate(0, 0, day-1)}
	}
}

func expandByDayInMonth(first time.Time, daysInMonth int, byday []ical.ByDay) []time.Time {
	var out []time.Time
	for _, bd := range byday {
		var matches []time.Time
		for d := 1; d <= daysInMonth; d++ {
			day := first.AddDate(0, 0, d-1)
			if toRRuleWeekday(day.Weekday()) == bd.Day {
				matches = append(matches, day)
			}
		}
		if bd.Ordinal == 0 {
			out = append(out, matches...)
			continue
		}
		idx := bd.Ordinal
		if idx > 0 {
			idx--
		} else {
			idx = len(matches) + idx
		}
		if idx >= 0 && idx < len(matches) {
			out = append(out, matches[idx])
		}
	}
	return out
}

// dropBeforeDTStart removes candidates earlier than dtstart: a rule's
// seed period (e.g. a weekly BYDAY expansion anchored to WKST) can span
// days before the event's own start, which RFC 5545 excludes from the
// recurrence set.
func dropBeforeDTStart(cands []ical.DateTime, dtstart time.Time) []ical.DateTime {
	out := cands[:0]
	for _, c := range cands {
		if !c.Time.Before(dtstart) {
			out = append(out, c)
		}
	}
	return out
}

func filterByMonth(days []time.Time, months []int) []time.Time {
	set := make(map[int]bool, len(months))
	for _, m := range months {
		set[m] = true
	}
	var out []time.Time
	for _, d := range days {
		if set[int(d.Month())] {
			out = append(out, d)
		}
	}
	return out
}

// expandTime applies BYHOUR/BYMINUTE/BYSECOND to day, or preserves
// dtstart's own time-of-day (and, for sub-daily FREQ, day's own
// time-of-day) when none are given.
func (g *generator) expandTime(day time.Time) []ical.DateTime {
	rr := g.rr

	clock := day
	if rr.Freq >= ical.Daily {
		clock = g.dtstart.Time
	}
	hours := rr.ByHour
	if len(hours) == 0 {
		hours = []int{clock.Hour()}
	}
	minutes := rr.ByMinute
	if len(minutes) == 0 {
		minutes = []int{clock.Minute()}
	}
	seconds := rr.BySecond
	if len(seconds) == 0 {
		seconds = []int{clock.Second()}
	}

	var out []ical.DateTime
	for _, h := range hours {
		for _, m := range minutes {
			for _, s := range seconds {
				t := time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, day.Location())
				out = append(out, toDateTime(g.dtstart, t))
			}
		}
	}
	return out
}

func toDateTime(seed ical.DateTime, t time.Time) ical.DateTime {
	switch seed.Form {
	case ical.FormDateOnly:
		return ical.NewDateOnly(t)
	case ical.FormUTC:
		return ical.NewUTC(t)
	case ical.FormLocal:
		return ical.DateTime{Form: ical.FormLocal, Time: t, TZID: seed.TZID}
	default:
		return ical.NewFloating(t)
	}
}

func applySetPos(cands []ical.DateTime, setpos []int) []ical.DateTime {
	if len(setpos) == 0 {
		return cands
	}
	var out []ical.DateTime
	n := len(cands)
	for _, pos := range setpos {
		idx := pos
		if idx > 0 {
			idx--
		} else {
			idx = n + idx
		}
		if idx >= 0 && idx < n {
			out = append(out, cands[idx])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func toRRuleWeekday(w time.Weekday) ical.Weekday {
	// time.Weekday: Sunday=0..Saturday=6; ical.Weekday: Monday=0..Sunday=6.
	if w == time.Sunday {
		return ical.Sunday
	}
	return ical.Weekday(int(w) - 1)
}
