// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package tick implements the tick-based time range algebra used to
// describe spans of source and timeline media.
package tick

import "sort"

// PerSecond is the number of ticks in one second. It divides evenly by
// every common broadcast frame rate (23.976, 24, 25, 29.97, 30, 50, 59.94,
// 60...), which is the reason Premiere-family formats use it instead of
// plain nanoseconds.
const PerSecond int64 = 254_016_000_000

// Range is a half-open span of ticks, [Start, End). Start is always <= End;
// the constructor swaps operands that arrive reversed.
type Range struct {
	Start int64
	End   int64
}

// NewRange builds a Range, swapping a/b if they arrive in reverse order.
func NewRange(a, b int64) Range {
	if a > b {
		a, b = b, a
	}
	return Range{Start: a, End: b}
}

// Duration returns End - Start.
func (r Range) Duration() int64 {
	return r.End - r.Start
}

// ToSeconds converts both endpoints to seconds. The result is informational
// only (floating point) and must never feed back into tick arithmetic.
func (r Range) ToSeconds() (start, end float64) {
	return float64(r.Start) / float64(PerSecond), float64(r.End) / float64(PerSecond)
}

// WithHandles grows the range by handleTicks on each side, then clamps the
// result to [0, mediaDuration]. A negative or zero mediaDuration means the
// media's true duration is unknown, so only the lower bound is clamped.
func (r Range) WithHandles(handleTicks int64, mediaDuration int64) Range {
	start := r.Start - handleTicks
	end := r.End + handleTicks

	if start < 0 {
		start = 0
	}
	if mediaDuration > 0 && end > mediaDuration {
		end = mediaDuration
	}
	if start > end {
		start = end
	}
	return Range{Start: start, End: end}
}

// MergeWith returns the union of r and other when they overlap, touch, or
// are within gapTolerance ticks of one another; otherwise it returns false.
// Overlap is inclusive of endpoints, plus the tolerance.
func (r Range) MergeWith(other Range, gapTolerance int64) (Range, bool) {
	lo := r.Start
	if other.Start > lo {
		lo = other.Start
	}
	hi := r.End
	if other.End < hi {
		hi = other.End
	}
	if lo > hi+gapTolerance {
		return Range{}, false
	}

	start := r.Start
	if other.Start < start {
		start = other.Start
	}
	end := r.End
	if other.End > end {
		end = other.End
	}
	return Range{Start: start, End: end}, true
}

// Hull returns the bounding union of ranges, ignoring gaps. Returns the
// zero Range when ranges is empty.
func Hull(ranges []Range) Range {
	if len(ranges) == 0 {
		return Range{}
	}
	hull := ranges[0]
	for _, r := range ranges[1:] {
		if r.Start < hull.Start {
			hull.Start = r.Start
		}
		if r.End > hull.End {
			hull.End = r.End
		}
	}
	return hull
}

// Optimize sorts ranges by start and folds overlapping/near ranges together,
// producing a strictly non-overlapping, start-sorted list. It is idempotent:
// Optimize(Optimize(x)) == Optimize(x).
func Optimize(ranges []Range, gapTolerance int64) []Range {
	if len(ranges) == 0 {
		return nil
	}

	sorted := make([]Range, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	out := make([]Range, 0, len(sorted))
	current := sorted[0]
	for _, r := range sorted[1:] {
		if merged, ok := current.MergeWith(r, gapTolerance); ok {
			current = merged
			continue
		}
		out = append(out, current)
		current = r
	}
	out = append(out, current)
	return out
}
