package ical

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxInputBytes is the input-size ceiling applied when a Decoder
// is constructed without an explicit WithMaxBytes option (spec §4.2).
const DefaultMaxInputBytes = 10 << 20 // 10 MiB

// DefaultMaxRRuleInstances bounds API-requested RRULE expansion (spec
// §4.2); it is consulted by pkg/recur, not by this parser directly.
const DefaultMaxRRuleInstances = 1000

// ParseResult is the parser's output: the decoded component tree plus a
// timezone table and a list of non-fatal diagnostics (spec §4.2).
type ParseResult struct {
	Calendar    *Calendar
	Events      []*Event
	Diagnostics []Diagnostic
}

func (r *ParseResult) addDiag(kind DiagKind, line int, format string, args ...any) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{
		Kind:    kind,
		Line:    line,
		Message: fmt.Sprintf(format, args...),
	})
}

// Decoder parses a single VCALENDAR object from a byte stream.
type Decoder struct {
	r            io.Reader
	maxBytes     int64
	tzLookup     func(tzid string) (*time.Location, error)
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithMaxBytes overrides DefaultMaxInputBytes.
func WithMaxBytes(n int64) DecoderOption {
	return func(d *Decoder) { d.maxBytes = n }
}

// WithTimezoneLookup supplies an ambient timezone resolver consulted
// when a TZID isn't found in the document's own VTIMEZONE table (e.g.
// backed by the system tzdata via time.LoadLocation). Timezone database
// loading itself is an external collaborator per spec §1.
func WithTimezoneLookup(lookup func(tzid string) (*time.Location, error)) DecoderOption {
	return func(d *Decoder) { d.tzLookup = lookup }
}

// NewDecoder constructs a Decoder reading from r.
func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{r: r, maxBytes: DefaultMaxInputBytes}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Decode reads the full input, fails fast with a *FatalError for
// InputTooLarge or StructuralError, and otherwise returns a ParseResult
// carrying whatever was recoverable plus accumulated diagnostics.
func (d *Decoder) Decode() (*ParseResult, error) {
	limited := io.LimitReader(d.r, d.maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("ical: read: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, &FatalError{Kind: FatalInputTooLarge, Err: fmt.Errorf("input exceeds %d bytes", d.maxBytes)}
	}
	return d.decodeBytes(data)
}

func (d *Decoder) decodeBytes(data []byte) (*ParseResult, error) {
	result := &ParseResult{}

	lines := Unfold(data)

	type frame struct {
		comp *Component
	}
	var stack []frame
	var root *Component

	for lineNo, raw := range lines {
		raw = strings.TrimRight(raw, "\r")
		if raw == "" {
			continue
		}
		name, params, value, perr := tokenizeLine(raw)
		if perr != nil {
			result.addDiag(DiagPropertyMalformed, lineNo+1, "%v", perr)
			continue
		}

		switch strings.ToUpper(name) {
		case "BEGIN":
			comp := NewComponent(strings.ToUpper(value))
			if len(stack) == 0 {
				if root != nil {
					return nil, &FatalError{Kind: FatalStructuralError, Err: fmt.Errorf("line %d: multiple top-level components", lineNo+1)}
				}
				root = comp
			} else {
				parent := stack[len(stack)-1].comp
				parent.Children = append(parent.Children, comp)
			}
			stack = append(stack, frame{comp: comp})
			continue
		case "END":
			if len(stack) == 0 {
				return nil, &FatalError{Kind: FatalStructuralError, Err: fmt.Errorf("line %d: END without BEGIN", lineNo+1)}
			}
			top := stack[len(stack)-1].comp
			if top.Name != strings.ToUpper(value) {
				return nil, &FatalError{Kind: FatalStructuralError, Err: fmt.Errorf("line %d: END:%s does not match BEGIN:%s", lineNo+1, value, top.Name)}
			}
			stack = stack[:len(stack)-1]
			continue
		}

		if len(stack) == 0 {
			result.addDiag(DiagPropertyMalformed, lineNo+1, "property %q outside any component", name)
			continue
		}

		cur := stack[len(stack)-1].comp
		prop := &Prop{Name: strings.ToUpper(name), Params: params, Value: value}
		cur.Props.Add(prop)

		if isURIProperty(prop.Name) && !SafeScheme(UnescapeText(value)) {
			result.addDiag(DiagUnsafeScheme, lineNo+1, "%s uses a disallowed URL scheme: %s", prop.Name, value)
		}
	}

	if len(stack) != 0 {
		return nil, &FatalError{Kind: FatalStructuralError, Err: fmt.Errorf("unterminated component %s", stack[len(stack)-1].comp.Name)}
	}
	if root == nil {
		return nil, &FatalError{Kind: FatalStructuralError, Err: fmt.Errorf("no VCALENDAR component found")}
	}

	cal := &Calendar{Root: root, Timezones: make(map[string]*VTimezone)}
	for _, child := range root.Children {
		if child.Name == "VTIMEZONE" {
			if p := child.Props.Get("TZID"); p != nil {
				cal.Timezones[p.Value] = &VTimezone{TZID: p.Value, Raw: child}
			}
		}
	}
	result.Calendar = cal

	tzLookup := d.resolveTZLookup(cal)

	for _, comp := range cal.Events() {
		ev, diags := decodeEvent(comp, tzLookup)
		result.Diagnostics = append(result.Diagnostics, diags...)
		if ev != nil {
			result.Events = append(result.Events, ev)
		}
	}

	return result, nil
}

func (d *Decoder) resolveTZLookup(cal *Calendar) func(string) (*time.Location, error) {
	return func(tzid string) (*time.Location, error) {
		if _, ok := cal.Timezones[tzid]; ok {
			if d.tzLookup != nil {
				if loc, err := d.tzLookup(tzid); err == nil {
					return loc, nil
				}
			}
			// A VTIMEZONE block is present but this codec does not
			// reinterpret its STANDARD/DAYLIGHT rules (spec §9): fall
			// back to the ambient lookup below, by TZID name.
		}
		if d.tzLookup != nil {
			return d.tzLookup(tzid)
		}
		return time.LoadLocation(tzid)
	}
}

var uriProperties = map[string]bool{
	"URL": true, "IMAGE": true, "CONFERENCE": true, "SOURCE": true,
	// ATTENDEE/ORGANIZER are checked too: SafeScheme already treats a
	// bare mailto: URI (no "://") as safe, so only a non-mailto form
	// (file://, a bare http:// used in place of mailto, ...) trips the
	// diagnostic.
	"ATTENDEE": true, "ORGANIZER": true,
}

func isURIProperty(name string) bool { return uriProperties[name] }

// tokenizeLine splits "NAME[;PARAM=VAL(,VAL)*]*:VALUE" into its parts.
func tokenizeLine(line string) (name string, params []Param, value string, err error) {
	i := 0
	n := len(line)

	start := i
	for i < n && line[i] != ';' && line[i] != ':' {
		i++
	}
	if i == start {
		return "", nil, "", fmt.Errorf("empty property name")
	}
	name = line[start:i]

	for i < n && line[i] == ';' {
		i++ // skip ';'
		pStart := i
		for i < n && line[i] != '=' && line[i] != ';' && line[i] != ':' {
			i++
		}
		if i >= n || line[i] != '=' {
			return "", nil, "", fmt.Errorf("malformed parameter near %q", line[pStart:])
		}
		pname := line[pStart:i]
		i++ // skip '='

		var values []string
		for {
			vStart := i
			inQuotes := false
			if i < n && line[i] == '"' {
				inQuotes = true
				i++
				vStart = i
				for i < n && line[i] != '"' {
					i++
				}
				if i >= n {
					return "", nil, "", fmt.Errorf("unterminated quoted parameter value")
				}
				values = append(values, line[vStart:i])
				i++ // skip closing quote
			} else {
				for i < n && line[i] != ',' && line[i] != ';' && line[i] != ':' {
					i++
				}
				values = append(values, line[vStart:i])
			}
			_ = inQuotes
			if i < n && line[i] == ',' {
				i++
				continue
			}
			break
		}
		params = append(params, Param{Name: pname, Values: values})
	}

	if i >= n || line[i] != ':' {
		return "", nil, "", fmt.Errorf("missing value separator")
	}
	value = line[i+1:]
	return name, params, value, nil
}

func decodeEvent(comp *Component, tzLookup func(string) (*time.Location, error)) (*Event, []Diagnostic) {
	var diags []Diagnostic
	ev := &Event{}

	uid := comp.Props.Get("UID")
	if uid == nil || uid.Value == "" {
		diags = append(diags, Diagnostic{Kind: DiagPropertyMalformed, Message: "VEVENT missing UID"})
		return nil, diags
	}
	ev.UID = uid.Value

	dtstart := comp.Props.Get("DTSTART")
	if dtstart == nil {
		diags = append(diags, Diagnostic{Kind: DiagPropertyMalformed, Message: "VEVENT missing DTSTART"})
		return nil, diags
	}
	start, err := parseDateTimeDiag(dtstart, tzLookup, &diags)
	if err != nil {
		diags = append(diags, Diagnostic{Kind: DiagPropertyMalformed, Message: err.Error()})
		return nil, diags
	}
	ev.DTStart = start

	if p := comp.Props.Get("DTEND"); p != nil {
		end, err := parseDateTimeDiag(p, tzLookup, &diags)
		if err != nil {
			diags = append(diags, Diagnostic{Kind: DiagPropertyMalformed, Message: err.Error()})
		} else {
			ev.DTEnd = &end
		}
	} else if p := comp.Props.Get("DURATION"); p != nil {
		dur, err := ParseICalDuration(p.Value)
		if err != nil {
			diags = append(diags, Diagnostic{Kind: DiagPropertyMalformed, Message: err.Error()})
		} else {
			ev.Duration = &dur
		}
	}

	if p := comp.Props.Get("SUMMARY"); p != nil {
		ev.Summary = UnescapeText(p.Value)
	}
	if p := comp.Props.Get("DESCRIPTION"); p != nil {
		ev.Description = UnescapeText(p.Value)
	}
	if p := comp.Props.Get("LOCATION"); p != nil {
		ev.Location = UnescapeText(p.Value)
	}
	if p := comp.Props.Get("STATUS"); p != nil {
		if st, ok := ParseEventStatus(p.Value); ok {
			ev.Status = st
		} else {
			diags = append(diags, Diagnostic{Kind: DiagPropertyMalformed, Message: "unrecognized STATUS " + p.Value})
		}
	}
	if p := comp.Props.Get("SEQUENCE"); p != nil {
		if n, err := strconv.Atoi(p.Value); err == nil && n >= 0 {
			ev.Sequence = n
		}
	}
	if p := comp.Props.Get("TRANSP"); p != nil && p.Value == "TRANSPARENT" {
		ev.Transparency = Transparent
	}
	if p := comp.Props.Get("CATEGORIES"); p != nil {
		for _, c := range strings.Split(p.Value, ",") {
			ev.Categories = append(ev.Categories, UnescapeText(c))
		}
	}
	if p := comp.Props.Get("COLOR"); p != nil {
		ev.Color = p.Value
	}
	if p := comp.Props.Get("URL"); p != nil {
		// URI values carry no backslash content-encoding (RFC 5545
		// §3.3.13), unlike TEXT — read the value verbatim.
		ev.URL = p.Value
	}

	for _, p := range comp.Props.All("IMAGE") {
		ev.Images = append(ev.Images, decodeImage(p))
	}
	for _, p := range comp.Props.All("CONFERENCE") {
		ev.Conferences = append(ev.Conferences, decodeConference(p))
	}

	if p := comp.Props.Get("ORGANIZER"); p != nil {
		org := Organizer{URI: p.Value}
		if cn, ok := p.Param("CN"); ok {
			org.CN = cn.Value()
		}
		ev.Organizer = &org
	}
	for _, p := range comp.Props.All("ATTENDEE") {
		ev.Attendees = append(ev.Attendees, decodeAttendee(p))
	}

	for _, p := range comp.Props.All("EXDATE") {
		for _, one := range splitDateList(p.Value) {
			dt, err := ParseDateTime(one, p.Params, tzLookup)
			if err == nil {
				ev.ExDates = append(ev.ExDates, dt)
			}
		}
	}

	if p := comp.Props.Get("RECURRENCE-ID"); p != nil {
		dt, err := ParseDateTime(p.Value, p.Params, tzLookup)
		if err == nil {
			ev.RecurrenceID = &dt
		}
	}

	if p := comp.Props.Get("RRULE"); p != nil {
		rr, rdiags := ParseRRule(p.Value)
		diags = append(diags, rdiags...)
		ev.RRule = rr
	}

	if p := comp.Props.Get("CREATED"); p != nil {
		if dt, err := ParseDateTime(p.Value, nil, tzLookup); err == nil {
			t := dt.Time
			ev.Created = &t
		}
	}
	if p := comp.Props.Get("LAST-MODIFIED"); p != nil {
		if dt, err := ParseDateTime(p.Value, nil, tzLookup); err == nil {
			t := dt.Time
			ev.LastModified = &t
		}
	}

	for _, child := range comp.Children {
		if child.Name != "VALARM" {
			continue
		}
		alarm, adiags := decodeAlarm(child, tzLookup)
		diags = append(diags, adiags...)
		if alarm != nil {
			ev.Alarms = append(ev.Alarms, *alarm)
		}
	}

	return ev, diags
}

func parseDateTimeDiag(p *Prop, tzLookup func(string) (*time.Location, error), diags *[]Diagnostic) (DateTime, error) {
	dt, err := ParseDateTime(p.Value, p.Params, tzLookup)
	if err != nil {
		return DateTime{}, err
	}
	if dt.Form == FormFloating {
		if tzid, ok := p.Param("TZID"); ok && tzid.Value() != "" {
			*diags = append(*diags, Diagnostic{Kind: DiagFloatingFallback, Message: "unknown TZID " + tzid.Value() + " for " + p.Name})
		}
	}
	return dt, nil
}

func splitDateList(s string) []string {
	return strings.Split(s, ",")
}

func decodeImage(p *Prop) Image {
	img := Image{URI: p.Value}
	if d, ok := p.Param("DISPLAY"); ok {
		switch d.Value() {
		case "GRAPHIC":
			img.Display = DisplayGraphic
		case "FULLSIZE":
			img.Display = DisplayFullsize
		case "THUMBNAIL":
			img.Display = DisplayThumbnail
		default:
			img.Display = DisplayBadge
		}
	}
	if f, ok := p.Param("FMTTYPE"); ok {
		img.FmtType = f.Value()
	}
	if a, ok := p.Param("ALTREP"); ok {
		img.AltRep = a.Value()
	}
	return img
}

func decodeConference(p *Prop) Conference {
	conf := Conference{URI: p.Value}
	if f, ok := p.Param("FEATURE"); ok {
		conf.Feature = f.Values
	}
	if l, ok := p.Param("LABEL"); ok {
		conf.Label = l.Value()
	}
	if lang, ok := p.Param("LANGUAGE"); ok {
		conf.Language = lang.Value()
	}
	return conf
}

func decodeAttendee(p *Prop) Attendee {
	att := Attendee{URI: p.Value}
	if cn, ok := p.Param("CN"); ok {
		att.CN = cn.Value()
	}
	if r, ok := p.Param("ROLE"); ok {
		switch r.Value() {
		case "CHAIR":
			att.Role = RoleChair
		case "OPT-PARTICIPANT":
			att.Role = RoleOptParticipant
		case "NON-PARTICIPANT":
			att.Role = RoleNonParticipant
		default:
			att.Role = RoleReqParticipant
		}
	}
	if ps, ok := p.Param("PARTSTAT"); ok {
		switch ps.Value() {
		case "ACCEPTED":
			att.PartStat = PartStatAccepted
		case "DECLINED":
			att.PartStat = PartStatDeclined
		case "TENTATIVE":
			att.PartStat = PartStatTentative
		case "DELEGATED":
			att.PartStat = PartStatDelegated
		default:
			att.PartStat = PartStatNeedsAction
		}
	}
	if rsvp, ok := p.Param("RSVP"); ok {
		att.RSVP = strings.EqualFold(rsvp.Value(), "TRUE")
	}
	return att
}

func decodeAlarm(comp *Component, tzLookup func(string) (*time.Location, error)) (*Alarm, []Diagnostic) {
	var diags []Diagnostic
	alarm := &Alarm{}

	actionProp := comp.Props.Get("ACTION")
	if actionProp == nil {
		diags = append(diags, Diagnostic{Kind: DiagPropertyMalformed, Message: "VALARM missing ACTION"})
		return nil, diags
	}
	action, ok := ParseAlarmAction(actionProp.Value)
	if !ok {
		diags = append(diags, Diagnostic{Kind: DiagPropertyMalformed, Message: "unrecognized ACTION " + actionProp.Value})
		return nil, diags
	}
	alarm.Action = action

	if p := comp.Props.Get("DESCRIPTION"); p != nil {
		alarm.Description = UnescapeText(p.Value)
	}

	if trig := comp.Props.Get("TRIGGER"); trig != nil {
		if v, ok := trig.Param("VALUE"); ok && v.Value() == "DATE-TIME" {
			dt, err := ParseDateTime(trig.Value, trig.Params, tzLookup)
			if err != nil {
				diags = append(diags, Diagnostic{Kind: DiagPropertyMalformed, Message: err.Error()})
			} else {
				alarm.Trigger = Trigger{Absolute: true, At: dt}
			}
		} else {
			dur, err := ParseICalDuration(trig.Value)
			if err != nil {
				diags = append(diags, Diagnostic{Kind: DiagPropertyMalformed, Message: err.Error()})
			} else {
				related := false
				if r, ok := trig.Param("RELATED"); ok && r.Value() == "END" {
					related = true
				}
				alarm.Trigger = Trigger{Offset: dur, RelatedToEnd: related}
			}
		}
	}

	if p := comp.Props.Get("REPEAT"); p != nil {
		if n, err := strconv.Atoi(p.Value); err == nil && n >= 0 {
			alarm.RepeatCount = n
		}
	}
	if p := comp.Props.Get("DURATION"); p != nil {
		if dur, err := ParseICalDuration(p.Value); err == nil {
			alarm.RepeatDuration = dur
		}
	}

	if p := comp.Props.Get("UID"); p != nil {
		alarm.UID = p.Value
	}
	if p := comp.Props.Get("ACKNOWLEDGED"); p != nil {
		if dt, err := ParseDateTime(p.Value, p.Params, tzLookup); err == nil {
			alarm.Acknowledged = &dt
		}
	}
	if p := comp.Props.Get("RELATED-TO"); p != nil {
		alarm.RelatedTo = p.Value
	}
	if p := comp.Props.Get("X-DEFAULT-ALARM"); p != nil {
		alarm.DefaultAlarm = strings.EqualFold(p.Value, "TRUE")
	}
	if p := comp.Props.Get("PROXIMITY"); p != nil {
		switch p.Value {
		case "ARRIVE":
			alarm.Proximity = ProximityArrive
		case "DEPART":
			alarm.Proximity = ProximityDepart
		case "CONNECT":
			alarm.Proximity = ProximityConnect
		case "DISCONNECT":
			alarm.Proximity = ProximityDisconnect
		}
	}

	return alarm, diags
}
