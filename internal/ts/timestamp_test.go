package ts

import "testing"

func TestSubSaturatesAtZero(t *testing.T) {
	a := Timestamp{Seconds: 5, Microseconds: 0}
	b := Timestamp{Seconds: 10, Microseconds: 0}

	got := a.Sub(b)
	if got != (Timestamp{}) {
		t.Fatalf("expected zero timestamp, got %+v", got)
	}
}

func TestNormalizeCarriesMicroseconds(t *testing.T) {
	a := Timestamp{Seconds: 1, Microseconds: 900_000}
	b := Timestamp{Seconds: 0, Microseconds: 200_000}

	got := a.Add(b)
	if got.Seconds != 2 || got.Microseconds != 100_000 {
		t.Fatalf("expected {2 100000}, got %+v", got)
	}
}

func TestCompareTotalOrder(t *testing.T) {
	a := Timestamp{Seconds: 1, Microseconds: 5}
	b := Timestamp{Seconds: 1, Microseconds: 6}

	if !a.Before(b) {
		t.Fatal("expected a before b")
	}
	if !b.After(a) {
		t.Fatal("expected b after a")
	}
	if a.Compare(a) != 0 {
		t.Fatal("expected equal timestamps to compare 0")
	}
}

func TestHourBucketStart(t *testing.T) {
	// 2023-11-14 22:13:20 UTC
	tstamp := Timestamp{Seconds: 1_700_000_000}
	got := tstamp.HourBucketStart()
	want := int64(1_700_000_000 - (1_700_000_000 % 3600))
	if got != want {
		t.Fatalf("got %d want %d", got, want)
	}
}

func TestIdleSince(t *testing.T) {
	last := Timestamp{Seconds: 100}
	now := Timestamp{Seconds: 160}

	if !last.IdleSince(now, 60) {
		t.Fatal("expected idle at exactly the timeout boundary")
	}
	if last.IdleSince(now, 61) {
		t.Fatal("expected not idle just under the timeout boundary")
	}
}
