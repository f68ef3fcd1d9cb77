package model

import (
	"sort"
	"time"
)

// Bar represents one 1-minute OHLCV bar.
// Shared by the provider, storage and orchestrator packages.
type Bar struct {
	Time   time.Time // UTC
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Series is the bar history of one instrument.
// After Normalize it is sorted ascending with unique timestamps.
type Series []Bar

// First returns the earliest bar time. ok is false for an empty series.
func (s Series) First() (time.Time, bool) {
	if len(s) == 0 {
		return time.Time{}, false
	}
	return s[0].Time, true
}

// Last returns the latest bar time. ok is false for an empty series.
func (s Series) Last() (time.Time, bool) {
	if len(s) == 0 {
		return time.Time{}, false
	}
	return s[len(s)-1].Time, true
}

// From returns the bars with Time >= start. s must be normalized.
func (s Series) From(start time.Time) Series {
	i := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(start) })
	return s[i:]
}

// DropLast returns s without its most recent bar.
func (s Series) DropLast() Series {
	if len(s) == 0 {
		return s
	}
	return s[:len(s)-1]
}

// Normalize converts times to UTC, sorts ascending and keeps the last-seen
// bar for each duplicated timestamp. The input is not modified.
func Normalize(in Series) Series {
	if len(in) == 0 {
		return Series{}
	}
	out := make(Series, len(in))
	for i, b := range in {
		b.Time = b.Time.UTC()
		out[i] = b
	}
	// stable keeps input order among equal times, so the later record ends last
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })

	n := 0
	for i := range out {
		if n > 0 && out[n-1].Time.Equal(out[i].Time) {
			out[n-1] = out[i]
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}

// IsNormalized reports whether s is sorted ascending with strictly unique timestamps.
func IsNormalized(s Series) bool {
	for i := 1; i < len(s); i++ {
		if !s[i-1].Time.Before(s[i].Time) {
			return false
		}
	}
	return true
}
