package ical

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// EncoderConfig controls the VCALENDAR envelope fields an Encoder emits.
// iCloud and other servers 400 on a missing CALSCALE/STATUS/SEQUENCE,
// so those are emitted unconditionally regardless of whether they carry
// real information (spec §4.3). METHOD is written only when Method is
// set.
type EncoderConfig struct {
	ProdID string
	Method string // optional; emitted only if non-empty
}

// Encoder deterministically renders Events into RFC 5545 VCALENDAR text.
type Encoder struct {
	w   io.Writer
	cfg EncoderConfig
	now func() time.Time
}

// NewEncoder constructs an Encoder writing CRLF-terminated text to w.
func NewEncoder(w io.Writer, cfg EncoderConfig) *Encoder {
	return &Encoder{w: w, cfg: cfg, now: time.Now}
}

// Encode writes one VCALENDAR object containing events.
func (e *Encoder) Encode(events []*Event) error {
	var lines []string
	lines = append(lines, "BEGIN:VCALENDAR")
	lines = append(lines, "VERSION:2.0")
	lines = append(lines, "PRODID:"+e.cfg.ProdID)
	lines = append(lines, "CALSCALE:GREGORIAN")
	if e.cfg.Method != "" {
		lines = append(lines, "METHOD:"+e.cfg.Method)
	}
	for _, ev := range events {
		lines = append(lines, e.eventLines(ev)...)
	}
	lines = append(lines, "END:VCALENDAR")

	_, err := io.WriteString(e.w, FoldAll(lines))
	return err
}

func (e *Encoder) eventLines(ev *Event) []string {
	var lines []string
	lines = append(lines, "BEGIN:VEVENT")
	lines = append(lines, "UID:"+EscapeText(ev.UID))
	lines = append(lines, "DTSTAMP:"+e.now().UTC().Format(utcLayout))
	lines = append(lines, dtLine("DTSTART", ev.DTStart))

	if ev.DTEnd != nil {
		lines = append(lines, dtLine("DTEND", *ev.DTEnd))
	} else if ev.Duration != nil {
		lines = append(lines, "DURATION:"+FormatICalDuration(*ev.Duration))
	}

	if ev.RecurrenceID != nil {
		lines = append(lines, dtLine("RECURRENCE-ID", *ev.RecurrenceID))
	}

	if rr := ev.EffectiveRRule(); rr != nil {
		lines = append(lines, "RRULE:"+FormatRRule(rr))
	}

	for _, ex := range ev.ExDates {
		lines = append(lines, dtLine("EXDATE", ex))
	}

	if ev.Summary != "" {
		lines = append(lines, "SUMMARY:"+EscapeText(ev.Summary))
	}
	if ev.Description != "" {
		lines = append(lines, "DESCRIPTION:"+EscapeText(ev.Description))
	}
	if ev.Location != "" {
		lines = append(lines, "LOCATION:"+EscapeText(ev.Location))
	}

	lines = append(lines, "STATUS:"+ev.Status.String())
	lines = append(lines, fmt.Sprintf("SEQUENCE:%d", ev.Sequence))
	if ev.Transparency != Opaque {
		lines = append(lines, "TRANSP:"+ev.Transparency.String())
	}

	if len(ev.Categories) > 0 {
		escaped := make([]string, len(ev.Categories))
		for i, c := range ev.Categories {
			escaped[i] = EscapeText(c)
		}
		lines = append(lines, "CATEGORIES:"+strings.Join(escaped, ","))
	}
	if ev.Color != "" {
		lines = append(lines, "COLOR:"+ev.Color)
	}

	for _, img := range ev.Images {
		lines = append(lines, imageLine(img))
	}
	for _, conf := range ev.Conferences {
		lines = append(lines, conferenceLine(conf))
	}

	if ev.URL != "" {
		// URI is its own value type (RFC 5545 §3.3.13): no backslash
		// content-encoding applies, unlike TEXT. ';' and ',' are legal,
		// unescaped characters in a URI.
		lines = append(lines, "URL:"+ev.URL)
	}
	if ev.Organizer != nil {
		lines = append(lines, organizerLine(*ev.Organizer))
	}
	for _, att := range ev.Attendees {
		lines = append(lines, attendeeLine(att))
	}

	for _, alarm := range ev.Alarms {
		lines = append(lines, alarmLines(alarm)...)
	}

	if ev.Created != nil {
		lines = append(lines, "CREATED:"+ev.Created.UTC().Format(utcLayout))
	}
	if ev.LastModified != nil {
		lines = append(lines, "LAST-MODIFIED:"+ev.LastModified.UTC().Format(utcLayout))
	}

	lines = append(lines, "END:VEVENT")
	return lines
}

func dtLine(name string, dt DateTime) string {
	val, params := dt.Encode()
	return name + paramSuffix(params) + ":" + val
}

func paramSuffix(params []Param) string {
	var b strings.Builder
	for _, p := range params {
		b.WriteByte(';')
		b.WriteString(p.Name)
		b.WriteByte('=')
		b.WriteString(strings.Join(p.Values, ","))
	}
	return b.String()
}

func imageLine(img Image) string {
	var b strings.Builder
	b.WriteString("IMAGE;VALUE=URI")
	if img.Display != DisplayBadge {
		b.WriteString(";DISPLAY=" + img.Display.String())
	}
	if img.FmtType != "" {
		b.WriteString(";FMTTYPE=" + img.FmtType)
	}
	if img.AltRep != "" {
		b.WriteString(`;ALTREP="` + EscapeText(img.AltRep) + `"`)
	}
	b.WriteByte(':')
	b.WriteString(img.URI)
	return b.String()
}

func conferenceLine(conf Conference) string {
	var b strings.Builder
	b.WriteString("CONFERENCE;VALUE=URI")
	if len(conf.Feature) > 0 {
		b.WriteString(";FEATURE=" + strings.Join(conf.Feature, ","))
	}
	if conf.Label != "" {
		b.WriteString(";LABEL=" + QuoteParamValue(EscapeText(conf.Label)))
	}
	if conf.Language != "" {
		b.WriteString(";LANGUAGE=" + conf.Language)
	}
	b.WriteByte(':')
	b.WriteString(conf.URI)
	return b.String()
}

func organizerLine(org Organizer) string {
	var b strings.Builder
	b.WriteString("ORGANIZER")
	if org.CN != "" {
		b.WriteString(`;CN=` + QuoteParamValue(org.CN))
	}
	b.WriteByte(':')
	b.WriteString(org.URI)
	return b.String()
}

func attendeeLine(att Attendee) string {
	var b strings.Builder
	b.WriteString("ATTENDEE")
	if att.CN != "" {
		b.WriteString(";CN=" + QuoteParamValue(att.CN))
	}
	if att.Role != RoleReqParticipant {
		b.WriteString(";ROLE=" + att.Role.String())
	}
	if att.PartStat != PartStatNeedsAction {
		b.WriteString(";PARTSTAT=" + att.PartStat.String())
	}
	if att.RSVP {
		b.WriteString(";RSVP=TRUE")
	}
	b.WriteByte(':')
	b.WriteString(att.URI)
	return b.String()
}

func alarmLines(alarm Alarm) []string {
	var lines []string
	lines = append(lines, "BEGIN:VALARM")
	lines = append(lines, "ACTION:"+alarm.Action.String())
	lines = append(lines, triggerLine(alarm.Trigger))

	if alarm.Action == ActionDisplay {
		lines = append(lines, "DESCRIPTION:"+EscapeText(alarm.EffectiveDescription()))
	} else if alarm.Description != "" {
		lines = append(lines, "DESCRIPTION:"+EscapeText(alarm.Description))
	}

	if alarm.RepeatCount > 0 {
		lines = append(lines, fmt.Sprintf("REPEAT:%d", alarm.RepeatCount))
		lines = append(lines, "DURATION:"+FormatICalDuration(alarm.RepeatDuration))
	}

	if alarm.UID != "" {
		lines = append(lines, "UID:"+alarm.UID)
	}
	if alarm.Acknowledged != nil {
		lines = append(lines, dtLine("ACKNOWLEDGED", *alarm.Acknowledged))
	}
	if alarm.RelatedTo != "" {
		lines = append(lines, "RELATED-TO:"+alarm.RelatedTo)
	}
	if alarm.DefaultAlarm {
		lines = append(lines, "X-DEFAULT-ALARM:TRUE")
	}
	if alarm.Proximity != ProximityNone {
		lines = append(lines, "PROXIMITY:"+alarm.Proximity.String())
	}

	lines = append(lines, "END:VALARM")
	return lines
}

func triggerLine(t Trigger) string {
	if t.Absolute {
		val, _ := t.At.Encode()
		return "TRIGGER;VALUE=DATE-TIME:" + val
	}
	if t.RelatedToEnd {
		return "TRIGGER;RELATED=END:" + FormatICalDuration(t.Offset)
	}
	return "TRIGGER:" + FormatICalDuration(t.Offset)
}
