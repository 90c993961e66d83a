// Package ts implements timestamp arithmetic shared by every analyzer
// and by the record store's hour-bucket routing.
package ts

import (
	"fmt"
	"time"
)

const microPerSecond = 1_000_000

// Timestamp is a (seconds, microseconds) pair with total ordering.
// The optimized field order avoids padding on 64-bit platforms.
type Timestamp struct {
	Seconds      int64
	Microseconds int64
}

// Now returns the current wall-clock time as a Timestamp.
func Now() Timestamp {
	return FromTime(time.Now())
}

// FromTime converts a time.Time into a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp{
		Seconds:      t.Unix(),
		Microseconds: int64(t.Nanosecond()) / 1000,
	}
}

// Time converts a Timestamp back into a time.Time in local time.
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, t.Microseconds*1000)
}

// normalize brings Microseconds back into [0, 1_000_000) by carrying
// into or borrowing from Seconds.
func normalize(sec, micro int64) Timestamp {
	for micro < 0 {
		micro += microPerSecond
		sec--
	}
	for micro >= microPerSecond {
		micro -= microPerSecond
		sec++
	}
	return Timestamp{Seconds: sec, Microseconds: micro}
}

// Add returns t+d with microseconds normalized to [0, 1_000_000).
func (t Timestamp) Add(d Timestamp) Timestamp {
	return normalize(t.Seconds+d.Seconds, t.Microseconds+d.Microseconds)
}

// Sub returns t-d, saturating at the zero Timestamp rather than going
// negative.
func (t Timestamp) Sub(d Timestamp) Timestamp {
	if t.Before(d) {
		return Timestamp{}
	}
	return normalize(t.Seconds-d.Seconds, t.Microseconds-d.Microseconds)
}

// Compare returns -1, 0 or 1 as t is before, equal to, or after o.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Seconds < o.Seconds:
		return -1
	case t.Seconds > o.Seconds:
		return 1
	case t.Microseconds < o.Microseconds:
		return -1
	case t.Microseconds > o.Microseconds:
		return 1
	default:
		return 0
	}
}

// Before reports whether t occurs strictly before o.
func (t Timestamp) Before(o Timestamp) bool { return t.Compare(o) < 0 }

// After reports whether t occurs strictly after o.
func (t Timestamp) After(o Timestamp) bool { return t.Compare(o) > 0 }

// IdleSince reports whether t precedes now by at least idleTimeout
// seconds -- the predicate used by every analyzer's sweep.
func (t Timestamp) IdleSince(now Timestamp, idleTimeout int64) bool {
	return now.Seconds-t.Seconds >= idleTimeout
}

// String renders the timestamp in local time as "YYYY-MM-DD HH:MM:SS.uuuuuu".
func (t Timestamp) String() string {
	lt := t.Time().Local()
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%06d",
		lt.Year(), lt.Month(), lt.Day(), lt.Hour(), lt.Minute(), lt.Second(), t.Microseconds)
}

// HourBucketStart returns the start of the hour-aligned bucket
// containing t: t - (t mod 3600).
func (t Timestamp) HourBucketStart() int64 {
	return t.Seconds - (t.Seconds % 3600)
}
