package syncstore

import (
	"testing"
	"time"
)

func TestComputeBackoffGrowsExponentially(t *testing.T) {
	p := DefaultBackoffPolicy()
	d0 := p.ComputeBackoff(0)
	d1 := p.ComputeBackoff(1)
	d2 := p.ComputeBackoff(2)
	if d0 != time.Second {
		t.Fatalf("retry 0: got %v, want 1s", d0)
	}
	if d1 <= d0 || d2 <= d1 {
		t.Fatalf("expected strictly increasing backoff, got %v %v %v", d0, d1, d2)
	}
}

func TestComputeBackoffClampsToMax(t *testing.T) {
	p := BackoffPolicy{InitialMS: 1000, MaxMS: 60000, Multiplier: 2.0}
	d := p.ComputeBackoff(20)
	if d.Milliseconds() != 60000 {
		t.Fatalf("expected clamp to MaxMS, got %v", d)
	}
}

func TestComputeBackoffClampsBeforeConversionOnExtremeRetryCount(t *testing.T) {
	// A retry count this large makes the raw float64 product vastly
	// exceed both MaxMS and int64 range; clamping must happen on the
	// float64 before the int64 conversion or the result is garbage
	// (e.g. negative from an overflowed conversion) instead of MaxMS.
	p := BackoffPolicy{InitialMS: 1000, MaxMS: 60000, Multiplier: 2.0}
	d := p.ComputeBackoff(10000)
	if d.Milliseconds() != 60000 {
		t.Fatalf("expected clamp to MaxMS even for extreme retry counts, got %v", d)
	}
}

func TestComputeBackoffZeroRetriesReturnsInitial(t *testing.T) {
	p := DefaultBackoffPolicy()
	d := p.ComputeBackoff(0)
	if d.Milliseconds() != DefaultInitialBackoffMS {
		t.Fatalf("expected initial backoff, got %v", d)
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{KindCreate: "CREATE", KindUpdate: "UPDATE", KindDelete: "DELETE"}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{StatusPending: "PENDING", StatusInProgress: "IN_PROGRESS", StatusFailed: "FAILED"}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", s, got, want)
		}
	}
}
