package ical

import (
	"strings"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ev := &Event{
		UID:         "event-1@example.com",
		DTStart:     NewUTC(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		DTEnd:       ptrDT(NewUTC(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))),
		Summary:     "Team sync, weekly",
		Description: "Agenda:\nstatus; planning",
		Status:      StatusConfirmed,
		Sequence:    2,
		Categories:  []string{"Work", "Recurring"},
		Images: []Image{
			{URI: "https://example.com/a.png", Display: DisplayThumbnail, FmtType: "image/png"},
		},
		Organizer: &Organizer{CN: "Alice", URI: "mailto:alice@example.com"},
		Attendees: []Attendee{
			{CN: "Bob", URI: "mailto:bob@example.com", Role: RoleChair, PartStat: PartStatAccepted, RSVP: true},
		},
		Alarms: []Alarm{
			{Action: ActionDisplay, Trigger: Trigger{Offset: -15 * time.Minute}},
		},
	}

	var buf strings.Builder
	enc := NewEncoder(&buf, EncoderConfig{ProdID: "-//test//test//EN"})
	if err := enc.Encode([]*Event{ev}); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	dec := NewDecoder(strings.NewReader(buf.String()))
	result, err := dec.Decode()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(result.Events))
	}

	got := result.Events[0]
	if got.UID != ev.UID {
		t.Errorf("UID: got %q, want %q", got.UID, ev.UID)
	}
	if got.Summary != ev.Summary {
		t.Errorf("Summary: got %q, want %q", got.Summary, ev.Summary)
	}
	if got.Description != ev.Description {
		t.Errorf("Description: got %q, want %q", got.Description, ev.Description)
	}
	if !got.DTStart.Equal(ev.DTStart) {
		t.Errorf("DTStart: got %+v, want %+v", got.DTStart, ev.DTStart)
	}
	if len(got.Attendees) != 1 || got.Attendees[0].CN != "Bob" || !got.Attendees[0].RSVP {
		t.Errorf("Attendees round-trip failed: %+v", got.Attendees)
	}
	if len(got.Alarms) != 1 || got.Alarms[0].Action != ActionDisplay {
		t.Errorf("Alarms round-trip failed: %+v", got.Alarms)
	}
}

func TestDecodeRejectsUnsafeScheme(t *testing.T) {
	raw := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//t//t//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:u1\r\nDTSTART:20240101T090000Z\r\nURL:file:///etc/passwd\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	dec := NewDecoder(strings.NewReader(raw))
	result, err := dec.Decode()
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	found := false
	for _, d := range result.Diagnostics {
		if d.Kind == DiagUnsafeScheme {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an UnsafeScheme diagnostic, got %+v", result.Diagnostics)
	}
}

func TestDecodeRejectsUnsafeSchemeInAttendee(t *testing.T) {
	raw := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//t//t//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:u1\r\nDTSTART:20240101T090000Z\r\nATTENDEE:file:///etc/passwd\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	dec := NewDecoder(strings.NewReader(raw))
	result, err := dec.Decode()
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	found := false
	for _, d := range result.Diagnostics {
		if d.Kind == DiagUnsafeScheme {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an UnsafeScheme diagnostic for a non-mailto ATTENDEE, got %+v", result.Diagnostics)
	}
}

func TestDecodeAcceptsMailtoAttendeeAndOrganizer(t *testing.T) {
	raw := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//t//t//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:u1\r\nDTSTART:20240101T090000Z\r\n" +
		"ORGANIZER:mailto:alice@example.com\r\nATTENDEE:mailto:bob@example.com\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	dec := NewDecoder(strings.NewReader(raw))
	result, err := dec.Decode()
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	for _, d := range result.Diagnostics {
		if d.Kind == DiagUnsafeScheme {
			t.Fatalf("mailto ORGANIZER/ATTENDEE must not trip UnsafeScheme, got %+v", d)
		}
	}
}

func TestEncodeDecodeURIPropertiesPassSpecialCharsThroughUnescaped(t *testing.T) {
	// URI is its own RFC 5545 value type (§3.3.13): ';' and ',' are
	// legal, unescaped characters in it, unlike in a TEXT value.
	ev := &Event{
		UID:     "event-2@example.com",
		DTStart: NewUTC(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		URL:     "https://example.com/a;b,c",
		Images: []Image{
			{URI: "https://example.com/img;v=2,raw.png"},
		},
		Conferences: []Conference{
			{URI: "https://example.com/room;id=7,x"},
		},
	}

	var buf strings.Builder
	enc := NewEncoder(&buf, EncoderConfig{ProdID: "-//test//test//EN"})
	if err := enc.Encode([]*Event{ev}); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if strings.Contains(buf.String(), `\;`) || strings.Contains(buf.String(), `\,`) {
		t.Fatalf("URI values must not be backslash-escaped on the wire, got:\n%s", buf.String())
	}

	dec := NewDecoder(strings.NewReader(buf.String()))
	result, err := dec.Decode()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	got := result.Events[0]
	if got.URL != ev.URL {
		t.Errorf("URL: got %q, want %q", got.URL, ev.URL)
	}
	if len(got.Images) != 1 || got.Images[0].URI != ev.Images[0].URI {
		t.Errorf("Image URI: got %+v, want %+v", got.Images, ev.Images)
	}
	if len(got.Conferences) != 1 || got.Conferences[0].URI != ev.Conferences[0].URI {
		t.Errorf("Conference URI: got %+v, want %+v", got.Conferences, ev.Conferences)
	}
}

func TestDecodeFatalOnUnterminatedComponent(t *testing.T) {
	raw := "BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nUID:u1\r\n"
	dec := NewDecoder(strings.NewReader(raw))
	_, err := dec.Decode()
	if err == nil {
		t.Fatal("expected a fatal structural error")
	}
	var ferr *FatalError
	if !asFatal(err, &ferr) {
		t.Fatalf("expected *FatalError, got %T: %v", err, err)
	}
	if ferr.Kind != FatalStructuralError {
		t.Fatalf("expected FatalStructuralError, got %v", ferr.Kind)
	}
}

func TestDecodeFatalOnInputTooLarge(t *testing.T) {
	raw := strings.Repeat("X", 100)
	dec := NewDecoder(strings.NewReader(raw), WithMaxBytes(10))
	_, err := dec.Decode()
	var ferr *FatalError
	if !asFatal(err, &ferr) || ferr.Kind != FatalInputTooLarge {
		t.Fatalf("expected FatalInputTooLarge, got %v", err)
	}
}

func ptrDT(d DateTime) *DateTime { return &d }

func asFatal(err error, target **FatalError) bool {
	if fe, ok := err.(*FatalError); ok {
		*target = fe
		return true
	}
	return false
}
