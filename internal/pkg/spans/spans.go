// Package spans tracks which half-open time ranges of an entity's timeline
// have been fully populated. Both cache tiers use it to decide whether a
// query can be answered completely or must fall through.
package spans

import "sort"

// Span is a half-open range [Start, End).
type Span struct {
	Start int64
	End   int64
}

// Full covers the whole representable timeline.
var Full = Span{Start: minInt64, End: maxInt64}

const (
	minInt64 = -1 << 63
	maxInt64 = 1<<63 - 1
)

func (s Span) empty() bool { return s.Start >= s.End }

// Set is a normalized list of non-overlapping, non-adjacent spans in
// ascending order. The zero value is an empty set.
type Set struct {
	spans []Span
}

// NewSet builds a set from arbitrary (possibly overlapping) spans.
func NewSet(spans ...Span) *Set {
	set := &Set{}
	for _, s := range spans {
		set.Add(s)
	}
	return set
}

// Spans returns the normalized spans. The slice must not be mutated.
func (t *Set) Spans() []Span { return t.spans }

// Empty reports whether the set covers nothing.
func (t *Set) Empty() bool { return len(t.spans) == 0 }

// Add merges a span into the set.
func (t *Set) Add(s Span) {
	if s.empty() {
		return
	}
	merged := make([]Span, 0, len(t.spans)+1)
	for _, cur := range t.spans {
		switch {
		case cur.End < s.Start || s.End < cur.Start:
			merged = append(merged, cur)
		default:
			if cur.Start < s.Start {
				s.Start = cur.Start
			}
			if cur.End > s.End {
				s.End = cur.End
			}
		}
	}
	merged = append(merged, s)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Start < merged[j].Start })
	t.spans = merged
}

// Subtract removes a span from the set, splitting spans that straddle it.
func (t *Set) Subtract(s Span) {
	if s.empty() {
		return
	}
	out := make([]Span, 0, len(t.spans)+1)
	for _, cur := range t.spans {
		if cur.End <= s.Start || cur.Start >= s.End {
			out = append(out, cur)
			continue
		}
		if cur.Start < s.Start {
			out = append(out, Span{Start: cur.Start, End: s.Start})
		}
		if cur.End > s.End {
			out = append(out, Span{Start: s.End, End: cur.End})
		}
	}
	t.spans = out
}

// ClampBelow drops all coverage before cutoff (used by TTL sweeps).
func (t *Set) ClampBelow(cutoff int64) {
	t.Subtract(Span{Start: minInt64, End: cutoff})
}

// Covers reports whether the set fully contains [s.Start, s.End).
func (t *Set) Covers(s Span) bool {
	if s.empty() {
		return true
	}
	for _, cur := range t.spans {
		if cur.Start <= s.Start && s.End <= cur.End {
			return true
		}
	}
	return false
}

// Overlaps reports whether any part of s intersects the set.
func (t *Set) Overlaps(s Span) bool {
	for _, cur := range t.spans {
		if cur.Start < s.End && s.Start < cur.End {
			return true
		}
	}
	return false
}
