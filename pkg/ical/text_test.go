package ical

import (
	"strings"
	"testing"
)

func TestEscapeUnescapeTextRoundTrip(t *testing.T) {
	in := "Line one\nLine, two; three\\four"
	esc := EscapeText(in)
	if strings.ContainsAny(esc, "\n") {
		t.Fatalf("escaped text must not contain raw newlines: %q", esc)
	}
	got := UnescapeText(esc)
	if got != in {
		t.Fatalf("round trip mismatch: got %q, want %q", got, in)
	}
}

func TestNeedsQuoting(t *testing.T) {
	if !NeedsQuoting("a:b") || !NeedsQuoting("a;b") || !NeedsQuoting("a,b") {
		t.Fatal("expected quoting to be required")
	}
	if NeedsQuoting("plain") {
		t.Fatal("plain value should not need quoting")
	}
}

func TestFoldRespectsOctetBudget(t *testing.T) {
	long := "SUMMARY:" + strings.Repeat("x", 200)
	folded := Fold(long)
	for _, physical := range strings.Split(folded, "\r\n") {
		if len(physical) > foldLimit {
			t.Fatalf("physical line exceeds fold limit: %d bytes", len(physical))
		}
	}
}

func TestFoldIsCodePointSafe(t *testing.T) {
	// U+1F600 is a 4-byte UTF-8 rune; repeated enough to force a fold
	// boundary, no fold should land inside a rune's byte sequence.
	long := "SUMMARY:" + strings.Repeat("\U0001F600", 30)
	folded := Fold(long)
	for _, physical := range strings.Split(folded, "\r\n ") {
		if !isValidUTF8Prefix(physical) {
			t.Fatalf("fold split a multi-byte rune: %q", physical)
		}
	}
}

func isValidUTF8Prefix(s string) bool {
	return strings.ToValidUTF8(s, "�") == s
}

func TestUnfoldReversesFold(t *testing.T) {
	original := []string{
		"SUMMARY:" + strings.Repeat("a", 200),
		"DESCRIPTION:short",
	}
	folded := FoldAll(original)
	got := Unfold([]byte(folded))
	if len(got) != len(original) {
		t.Fatalf("got %d lines, want %d", len(got), len(original))
	}
	for i := range original {
		if got[i] != original[i] {
			t.Fatalf("line %d: got %q, want %q", i, got[i], original[i])
		}
	}
}

func TestUnfoldAcceptsBareLF(t *testing.T) {
	got := Unfold([]byte("BEGIN:VCALENDAR\nEND:VCALENDAR\n"))
	want := []string{"BEGIN:VCALENDAR", "END:VCALENDAR"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
