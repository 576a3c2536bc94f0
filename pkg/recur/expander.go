// Package recur expands an RRULE into its ordered sequence of occurrence
// instants (spec component C5), bounded by a maximum instance count or a
// window end. It is built directly against pkg/ical's value types rather
// than wrapping a third-party recurrence-rule library — see DESIGN.md.
package recur

import (
	"errors"
	"sort"
	"time"

	"github.com/caldavkit/calsync/pkg/ical"
)

// ErrTooManyInstances is returned when expansion would exceed the
// configured instance-count ceiling (spec §4.2's RRuleExplosion).
var ErrTooManyInstances = errors.New("recur: RRULE expansion exceeds instance ceiling")

// Bound caps an expansion either by a maximum instant count, a window
// end, or both (whichever is reached first stops the expansion).
type Bound struct {
	MaxCount int       // <=0 means unbounded by count
	WindowEnd time.Time // zero means unbounded by window
}

// Expander produces the ordered occurrence sequence for one event's
// DTSTART + RRULE, applying EXDATE exclusion.
type Expander struct {
	// Ceiling is the hard cap spec §4.2 requires regardless of the
	// caller's Bound; exceeding it is an error (RRuleExplosion), not a
	// silent truncation. Zero means ical.DefaultMaxRRuleInstances.
	Ceiling int
}

// NewExpander constructs an Expander with the default ceiling.
func NewExpander() *Expander {
	return &Expander{Ceiling: ical.DefaultMaxRRuleInstances}
}

func (e *Expander) ceiling() int {
	if e.Ceiling <= 0 {
		return ical.DefaultMaxRRuleInstances
	}
	return e.Ceiling
}

// Expand returns the ordered, restartable sequence of occurrence
// instants for rr seeded at dtstart, subject to bound and the expander's
// ceiling. EXDATE instants (already timezone-normalized by the caller)
// are subtracted per spec §4.4 step 5.
func (e *Expander) Expand(dtstart ical.DateTime, rr *ical.RRule, exdates []ical.DateTime, bound Bound) ([]ical.DateTime, error) {
	if rr == nil {
		if excluded(dtstart, exdates) {
			return nil, nil
		}
		return []ical.DateTime{dtstart}, nil
	}

	ceiling := e.ceiling()
	gen := newGenerator(dtstart, rr)

	var out []ical.DateTime
	// count tracks instances against the rule's own COUNT/ceiling,
	// independent of EXDATE: COUNT bounds the recurrence set itself
	// (RFC 5545 §3.3.10 step 4), and EXDATE subtracts from that set
	// afterward (step 5) rather than shrinking what COUNT sees.
	count := 0
	for {
		cand, ok := gen.next()
		if !ok {
			break
		}
		if rr.HasCount() && count >= rr.Count {
			break
		}
		if rr.HasUntil() && cand.Time.After(rr.Until.Time) {
			break
		}
		if !bound.WindowEnd.IsZero() && cand.Time.After(bound.WindowEnd) {
			break
		}
		if bound.MaxCount > 0 && len(out) >= bound.MaxCount {
			break
		}
		if count >= ceiling {
			return nil, ErrTooManyInstances
		}
		count++
		if !excluded(cand, exdates) {
			out = append(out, cand)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func excluded(cand ical.DateTime, exdates []ical.DateTime) bool {
	for _, ex := range exdates {
		if cand.Equal(ex) {
			return true
		}
	}
	return false
}
