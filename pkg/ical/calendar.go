package ical

import "strings"

// Param is a single NAME=VALUE(,VALUE)* property parameter.
type Param struct {
	Name   string
	Values []string
}

// Value returns the first value, or "" if none.
func (p Param) Value() string {
	if len(p.Values) == 0 {
		return ""
	}
	return p.Values[0]
}

// Prop is a single logical iCalendar property: a name, its parameters,
// and its raw (already unescaped, for text values) value.
type Prop struct {
	Name   string
	Params []Param
	Value  string
}

// Param looks up the first parameter by name (case-insensitive per
// RFC 5545 §3.2).
func (p *Prop) Param(name string) (Param, bool) {
	for _, pm := range p.Params {
		if strings.EqualFold(pm.Name, name) {
			return pm, true
		}
	}
	return Param{}, false
}

// Props is an ordered, name-indexed bag of properties belonging to one
// component. Unlike a plain map, it preserves insertion order and allows
// repeated property names (EXDATE, ATTENDEE, ...).
type Props struct {
	order []string
	byName map[string][]*Prop
}

func NewProps() *Props {
	return &Props{byName: make(map[string][]*Prop)}
}

// Add appends p, preserving any earlier properties of the same name.
func (ps *Props) Add(p *Prop) {
	if ps.byName == nil {
		ps.byName = make(map[string][]*Prop)
	}
	key := strings.ToUpper(p.Name)
	if _, ok := ps.byName[key]; !ok {
		ps.order = append(ps.order, key)
	}
	ps.byName[key] = append(ps.byName[key], p)
}

// Set replaces all existing properties named p.Name with just p.
func (ps *Props) Set(p *Prop) {
	key := strings.ToUpper(p.Name)
	if ps.byName == nil {
		ps.byName = make(map[string][]*Prop)
	}
	if _, ok := ps.byName[key]; !ok {
		ps.order = append(ps.order, key)
	}
	ps.byName[key] = []*Prop{p}
}

// Get returns the first property named name, or nil.
func (ps *Props) Get(name string) *Prop {
	vs := ps.byName[strings.ToUpper(name)]
	if len(vs) == 0 {
		return nil
	}
	return vs[0]
}

// All returns every property named name, in insertion order.
func (ps *Props) All(name string) []*Prop {
	return ps.byName[strings.ToUpper(name)]
}

// Names returns every distinct property name present, in first-seen order.
func (ps *Props) Names() []string {
	return append([]string(nil), ps.order...)
}

// Component is one BEGIN/END block: VCALENDAR, VEVENT, VALARM, VTIMEZONE, ...
type Component struct {
	Name     string
	Props    *Props
	Children []*Component
}

func NewComponent(name string) *Component {
	return &Component{Name: name, Props: NewProps()}
}

// Calendar is the decoded form of a VCALENDAR object: its top-level
// children (VEVENT/VTODO/VJOURNAL/VTIMEZONE) plus a timezone table
// resolved from any embedded VTIMEZONE blocks.
type Calendar struct {
	Root       *Component
	Timezones  map[string]*VTimezone
}

// Events returns every VEVENT child, in document order.
func (c *Calendar) Events() []*Component {
	var out []*Component
	if c.Root == nil {
		return out
	}
	for _, ch := range c.Root.Children {
		if ch.Name == "VEVENT" {
			out = append(out, ch)
		}
	}
	return out
}

// VTimezone is a minimal timezone table entry: an identifier and the raw
// VTIMEZONE component it came from. Locations are resolved by TZID name
// through the decoder's lookup, not stored here. The full STANDARD/
// DAYLIGHT transition rules are preserved on the raw component for
// round-trip but are not reinterpreted by this codec — timezone database
// loading is an external collaborator per spec §1.
type VTimezone struct {
	TZID string
	Raw  *Component
}
